// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/revlabs/rev/internal/transaction"
)

var (
	historyLimit int

	txCmd = &cobra.Command{
		Use:   "tx",
		Short: "Inspect the transaction log",
	}
	txHistoryCmd = &cobra.Command{
		Use:   "history",
		Short: "Show past transactions, most recent first",
		RunE:  runTxHistory,
	}
	txStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize the transaction log by outcome",
		RunE:  runTxStats,
	}
	txRecoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Mark transactions left active by a crashed run as aborted",
		RunE:  runTxRecover,
	}
)

func init() {
	txHistoryCmd.Flags().IntVar(&historyLimit, "limit", 10,
		"maximum transactions to show (0 for all)")

	txCmd.AddCommand(txHistoryCmd)
	txCmd.AddCommand(txStatsCmd)
	txCmd.AddCommand(txRecoverCmd)
}

func newTxManager() (*transaction.Manager, error) {
	return transaction.NewManager(transaction.Config{
		Workspace:     workspace,
		Logger:        logger.Slog(),
		EnableMetrics: loadedConfig.Transaction.EnableMetrics,
		EnableTracing: loadedConfig.Transaction.EnableTracing,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTxHistory(cmd *cobra.Command, args []string) error {
	mgr, err := newTxManager()
	if err != nil {
		return err
	}
	history, err := mgr.History(historyLimit)
	if err != nil {
		return err
	}
	return printJSON(history)
}

func runTxStats(cmd *cobra.Command, args []string) error {
	mgr, err := newTxManager()
	if err != nil {
		return err
	}
	stats, err := mgr.Statistics()
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runTxRecover(cmd *cobra.Command, args []string) error {
	mgr, err := newTxManager()
	if err != nil {
		return err
	}
	recovered, err := mgr.RecoverStale()
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"recovered": recovered})
}
