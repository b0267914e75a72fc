// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// rev is the CLI for inspecting and maintaining the agent's execution
// state: the transaction log and the per-workspace caches.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/revlabs/rev/internal/config"
	"github.com/revlabs/rev/internal/logging"
	"github.com/revlabs/rev/internal/telemetry"
)

var (
	workspace         string
	logger            *logging.Logger
	telemetryShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "rev",
		Short: "Inspect and maintain the rev agent's execution state",
		Long: `rev manages the transactional execution core of the agent:
the append-only transaction log and the per-workspace caches
(file contents, LLM responses, repo context, dependency trees).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			logger = logging.New(logging.Config{
				Level:   cfg.Log.SlogLevel(),
				LogDir:  cfg.Log.Dir,
				Service: "cli",
				JSON:    cfg.Log.JSON,
				Quiet:   cfg.Log.Quiet,
			})
			loadedConfig = cfg

			// Off unless OTEL_* environment variables enable it.
			shutdown, err := telemetry.Init(cmd.Context(), telemetry.DefaultConfig())
			if err != nil {
				return err
			}
			telemetryShutdown = shutdown
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if telemetryShutdown != nil {
				if err := telemetryShutdown(context.Background()); err != nil {
					logger.Slog().Warn("telemetry shutdown failed", "error", err)
				}
			}
			if logger != nil {
				logger.Close()
			}
		},
	}

	loadedConfig config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".",
		"workspace root the agent operates on")

	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
