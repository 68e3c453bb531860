// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// withRuntime loads the config, opens the runtime and runs fn with it.
func withRuntime(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, rt *Runtime, logger *slog.Logger) error) error {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := deps.OpenRuntime(ctx, cfg, logger, nil)
	if err != nil {
		return oops.Code("RUNTIME_OPEN_FAILED").Wrap(err)
	}
	defer rt.Close()
	return fn(ctx, rt, logger)
}

// newUserCmd creates the user subcommand.
func newUserCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var password string
	create := &cobra.Command{
		Use:   "create <username> [display-name]",
		Short: "Create a user account",
		Long: `Create a user account. Without --password the password is read
from the first line of standard input.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if pw == "" {
				var err error
				if pw, err = readPassword(deps.stdin(cmd)); err != nil {
					return err
				}
			}
			displayName := ""
			if len(args) == 2 {
				displayName = args[1]
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime, _ *slog.Logger) error {
				user, err := rt.Users.CreateUser(ctx, args[0], displayName, pw)
				if err != nil {
					return err
				}
				cmd.Printf("Created user %s (%s)\n", user.Username, user.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&password, "password", "", "password (read from stdin when empty)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime, _ *slog.Logger) error {
				users, err := rt.Users.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = io.WriteString(w, "USERNAME\tDISPLAY NAME\tCREATED\tLAST LOGIN\n")
				for _, u := range users {
					last := "never"
					if event, ok := u.LastLogin(); ok {
						last = event.Timestamp.UTC().Format(time.RFC3339)
					}
					_, _ = io.WriteString(w, u.Username+"\t"+u.DisplayName+"\t"+u.CreatedOn.UTC().Format(time.RFC3339)+"\t"+last+"\n")
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (d *Deps) stdin(cmd *cobra.Command) io.Reader {
	if d.Stdin != nil {
		return d.Stdin
	}
	return cmd.InOrStdin()
}

// readPassword reads one line from r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("password is required: pass --password or write it to stdin")
	}
	return pw, nil
}
