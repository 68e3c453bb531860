// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/technicflux/technicflux/internal/config"
	"github.com/technicflux/technicflux/pkg/errutil"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL schema migrations.`,
	}

	var yes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all data)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops all data; pass --yes to confirm")
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&yes, "yes", false, "confirm dropping all data")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					cmd.Println("Migrations completed successfully")
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations; negative n rolls back",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				return withMigrator(cmd, deps, func(m Migrator) error { return m.Steps(n) })
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark a version as applied after a manual fix",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				return withMigrator(cmd, deps, func(m Migrator) error {
					if err := m.Force(v); err != nil {
						return err
					}
					cmd.Printf("Forced schema version %d\n", v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					st, err := m.Status()
					if err != nil {
						return err
					}
					cmd.Printf("Current version: %d\n", st.Current)
					if st.Dirty {
						cmd.Println("Schema is DIRTY: fix it by hand, then run migrate force")
					}
					if len(st.Pending) == 0 {
						cmd.Println("Schema is up to date")
						return nil
					}
					pending := make([]string, 0, len(st.Pending))
					for _, v := range st.Pending {
						pending = append(pending, strconv.FormatUint(uint64(v), 10))
					}
					cmd.Printf("Pending: %s\n", strings.Join(pending, ", "))
					return nil
				})
			},
		},
	)
	return cmd
}

// parseVersion parses a migration version or step count.
func parseVersion(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return n, nil
}

// withMigrator loads the config, opens a migrator and runs fn with it.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(Migrator) error) error {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	m, err := deps.MigratorFactory(cfg.Database.URL.String())
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogWarnContext(cmd.Context(), logger, "error closing migrator", closeErr)
		}
	}()
	return fn(m)
}

// migrateUp applies pending migrations for serve --auto-migrate.
func migrateUp(ctx context.Context, deps *Deps, cfg *config.Config, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(cfg.Database.URL.String())
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogWarnContext(ctx, logger, "error closing migrator", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	st, err := m.Status()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read schema version").Wrap(err)
	}
	logger.InfoContext(ctx, "schema up to date", "version", st.Current)
	return nil
}
