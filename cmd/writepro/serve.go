package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WriteProRO/writeproro-backendv2/pkg/audit"
	cachepkg "github.com/WriteProRO/writeproro-backendv2/pkg/cache/sqlite"
	"github.com/WriteProRO/writeproro-backendv2/pkg/compliance"
	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
	"github.com/WriteProRO/writeproro-backendv2/pkg/gateway"
	"github.com/WriteProRO/writeproro-backendv2/pkg/provider"
	"github.com/WriteProRO/writeproro-backendv2/pkg/ratelimit"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the documentation gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := newLogger(cfg)

			var store *audit.Store
			var sink *audit.Sink
			var reporter *compliance.Reporter
			if cfg.Audit.Enabled {
				store, err = audit.NewStore(cfg.Audit, logger)
				if err != nil {
					return fmt.Errorf("init audit store: %w", err)
				}
				defer func() { _ = store.Close() }()
				reporter = compliance.New(store)
			}
			sink = audit.NewSink(store, cfg.Audit, logger)
			defer sink.Close()

			var cache *cachepkg.Cache
			if cfg.Cache.Enabled {
				cache, err = cachepkg.New(cfg.DBPath, logger)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = cache.Close() }()
			}

			gen := provider.New(cfg.Provider, logger)
			gov := ratelimit.New(cfg.Rate)

			srv := gateway.New(cfg, gen, cache, store, sink, gov, reporter, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting writepro gateway", "config", configPath, "environment", cfg.Environment)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "writepro.yaml", "path to config file")
	return cmd
}

// newLogger builds the process logger: JSON in production, text otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
