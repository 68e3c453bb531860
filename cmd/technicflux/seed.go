// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/technicflux/technicflux/internal/catalog"
)

// Default timeout for the seed command.
const defaultSeedTimeout = 5 * time.Minute

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	timeout time.Duration
}

// newSeedCmd creates the seed subcommand.
func newSeedCmd(deps *Deps) *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed <manifest.yaml>",
		Short: "Load a catalog manifest",
		Long: `Creates the mods, modpacks and builds declared in a YAML manifest.
Entries that already exist are skipped, so the command is safe to run
repeatedly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args[0], cfg, deps)
		},
	}
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the manifest JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := catalog.GenerateManifestSchema()
			if err != nil {
				return oops.Code("SCHEMA_FAILED").Wrap(err)
			}
			_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
			return err
		},
	})
	return cmd
}

func runSeed(cmd *cobra.Command, path string, cfg *seedConfig, deps *Deps) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return oops.Code("SEED_FAILED").With("path", path).Wrap(err)
	}
	manifest, err := catalog.ParseManifest(data)
	if err != nil {
		return oops.With("path", path).Wrap(err)
	}

	return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime, logger *slog.Logger) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()

		report, err := rt.Catalog.Seed(ctx, manifest, rt.Users)
		if err != nil {
			return oops.Code("SEED_FAILED").With("path", path).Wrap(err)
		}
		logger.InfoContext(ctx, "catalog seeded",
			"path", path,
			"mods_created", report.ModsCreated,
			"modpacks_created", report.ModpacksCreated,
			"builds_created", report.BuildsCreated,
		)
		cmd.Printf("Mods: %d created, %d skipped\n", report.ModsCreated, report.ModsSkipped)
		cmd.Printf("Modpacks: %d created, %d skipped\n", report.ModpacksCreated, report.ModpacksSkipped)
		cmd.Printf("Builds: %d created, %d skipped\n", report.BuildsCreated, report.BuildsSkipped)
		cmd.Printf("Build mods linked: %d\n", report.ModsLinked)
		return nil
	})
}
