// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newKeyCmd creates the key subcommand.
func newKeyCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}

	create := &cobra.Command{
		Use:   "create <owner-username> <name>",
		Short: "Generate an API key",
		Long: `Generate an API key owned by a user. The key is printed once and
cannot be recovered afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime, _ *slog.Logger) error {
				owner, err := rt.Users.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				key, plaintext, err := rt.Keys.GenerateKey(ctx, owner.ID, args[1])
				if err != nil {
					return err
				}
				cmd.Printf("Created key %q for %s\n", key.Name, owner.Username)
				cmd.Println(plaintext)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <owner-username>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime, _ *slog.Logger) error {
				owner, err := rt.Users.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				keys, err := rt.Keys.ListByOwner(ctx, owner.ID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = io.WriteString(w, "ID\tNAME\tCREATED\n")
				for _, k := range keys {
					_, _ = io.WriteString(w, k.ID.String()+"\t"+k.Name+"\t"+k.CreatedAt.UTC().Format(time.RFC3339)+"\n")
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
