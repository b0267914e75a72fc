// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/revlabs/rev/internal/cache"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the workspace caches",
	}
	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show hit rates and sizes for every cache",
		RunE:  runCacheStats,
	}
	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Empty every cache (counters are kept)",
		RunE:  runCacheClear,
	}
	cacheSaveCmd = &cobra.Command{
		Use:   "save",
		Short: "Snapshot every cache to disk",
		RunE:  runCacheSave,
	}
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheSaveCmd)
}

func openCaches() (*cache.Caches, error) {
	return cache.Initialize(cache.CachesConfig{
		Root:     workspace,
		CacheDir: loadedConfig.Cache.Dir,
		WarmTier: loadedConfig.Cache.WarmTier,
		Logger:   logger.Slog(),
	})
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	caches, err := openCaches()
	if err != nil {
		return err
	}
	defer caches.Close()
	return printJSON(caches.Stats())
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	caches, err := openCaches()
	if err != nil {
		return err
	}
	caches.ClearAll()
	if err := caches.Close(); err != nil {
		return err
	}
	return printJSON(map[string]string{"status": "cleared"})
}

func runCacheSave(cmd *cobra.Command, args []string) error {
	caches, err := openCaches()
	if err != nil {
		return err
	}
	if err := caches.SaveAll(); err != nil {
		return err
	}
	if err := caches.Close(); err != nil {
		return err
	}
	return printJSON(map[string]string{"status": "saved"})
}
