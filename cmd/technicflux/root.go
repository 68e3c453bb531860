// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/technicflux/technicflux/internal/config"
	"github.com/technicflux/technicflux/internal/logging"
)

// serviceName tags every log record.
const serviceName = "technicflux"

// NewRootCmd creates the root command for the TechnicFlux CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "technicflux",
		Short: "TechnicFlux - a Solder-compatible modpack API",
		Long: `TechnicFlux serves modpack, build and mod metadata to the Technic
launcher and lets publishers manage their catalog with API keys.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&deps.configFile, "config", "", "config file path")
	flags.String("database-url", "", "PostgreSQL connection URL (env DATABASE_URL)")
	flags.String("log-format", config.DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn or error)")

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newUserCmd(deps))
	cmd.AddCommand(newKeyCmd(deps))
	cmd.AddCommand(newSeedCmd(deps))

	return cmd
}

// loadConfig layers the config file, the environment and the command's
// flags over the defaults.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	opts := []config.LoaderOption{
		config.WithFile(deps.configFile),
		config.WithFlags(cmd.Flags()),
	}
	if deps.Environ != nil {
		opts = append(opts, config.WithEnviron(deps.Environ))
	}
	return config.Load(opts...)
}

// setupLogger builds the process logger and installs it as the default.
func setupLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logger := logging.Setup(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}
