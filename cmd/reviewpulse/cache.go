package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reviewpulse/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the response cache",
}

var (
	clearPrefix string
	clearAll    bool
)

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached entries by prefix, or everything with --all",
	Example: "  reviewpulse cache clear --prefix android:reviews\n" +
		"  reviewpulse cache clear --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (clearPrefix == "") == !clearAll {
			return errors.New("exactly one of --prefix or --all is required")
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if clearAll && !cfg.IsDevelopment() {
			return errors.New("--all is only allowed with ENV=development")
		}

		store, closeStore, err := openStore(cmd.Context(), cfg.CacheConfig(), logger)
		if err != nil {
			return err
		}
		defer closeStore()

		if clearAll {
			if !store.ClearAll(cmd.Context()) {
				return errors.New("cache could not be cleared")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		}

		n := store.DeleteByPrefix(cmd.Context(), clearPrefix)
		fmt.Fprintf(cmd.OutOrStdout(), "%d cache entries cleared for prefix %q.\n", n, clearPrefix)
		return nil
	},
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the cache store is enabled and reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		store, closeStore, _ := openStore(cmd.Context(), cfg.CacheConfig(), logger)
		defer closeStore()

		status := map[string]any{
			"configured": cfg.Redis.Enabled,
			"backend":    cfg.CacheBackend,
			"enabled":    store.Enabled(),
			"connected":  store.Connected(cmd.Context()),
		}
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// openStore opens the configured store with a short dial budget. Unlike the
// server, an operator command reports an unusable store instead of running
// uncached.
func openStore(ctx context.Context, cfg cache.Config, logger *zap.Logger) (*cache.Store, func() error, error) {
	cfg.Redis.MaxAttempts = 3
	cfg.Redis.MaxElapsed = 10 * time.Second

	store, closeStore := cache.Open(ctx, cfg, logger)
	if !store.Enabled() {
		return store, closeStore, errors.New("cache is disabled or unreachable")
	}
	return store, closeStore, nil
}

func init() {
	cacheClearCmd.Flags().StringVar(&clearPrefix, "prefix", "", "key prefix to delete, e.g. analysis:sentiment")
	cacheClearCmd.Flags().BoolVar(&clearAll, "all", false, "flush the whole store (development only)")

	cacheCmd.AddCommand(cacheClearCmd, cacheStatusCmd)
}
