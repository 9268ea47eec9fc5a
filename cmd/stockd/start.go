package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/adapter"
	"github.com/marmos91/stockd/pkg/config"
	"github.com/marmos91/stockd/pkg/server"
	"github.com/marmos91/stockd/pkg/session"
	"github.com/marmos91/stockd/pkg/store"
)

// StartCmd is 'stockd start', the default command.
type StartCmd struct{}

// Run loads the configuration, wires the store, stats, adapters and
// background tasks, and serves until ctx is cancelled (SIGINT or SIGTERM).
func (c *StartCmd) Run(ctx context.Context) error {
	cfg, err := config.Load(RootCmd.Config)
	if err != nil {
		return err
	}

	if err := configureLogger(&cfg.Logging); err != nil {
		return err
	}

	logger.Info("stockd %s starting", version)

	m := config.InitializeMetrics(&cfg.Metrics, cfg.Store.Type)

	backend, err := config.CreateRecordStore(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create %s store: %w", cfg.Store.Type, err)
	}
	recordStore := store.Instrument(backend, m.Store)
	defer func() {
		if err := recordStore.Close(); err != nil {
			logger.Error("Closing store: %v", err)
		}
	}()
	logger.Info("Record store: %s", cfg.Store.Type)

	recorder, closeStats, err := config.CreateStatsRecorder(ctx, &cfg.Stats)
	if err != nil {
		return fmt.Errorf("failed to create stats recorder: %w", err)
	}
	defer func() { _ = closeStats() }()

	srv := server.New(&adapter.Services{
		Store:    recordStore,
		Sessions: session.NewRegistry(),
		Stats:    recorder,
	}, server.Options{StopTimeout: cfg.Server.ShutdownTimeout})

	adapters, err := config.CreateAdapters(cfg, m)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	if feed := config.CreateMarketFeed(&cfg.Market, recordStore, m); feed != nil {
		srv.AddTask(server.Task{Name: "market-feed", Run: feed.Run})
		logger.Info("Market feed tracking %d symbols every %v", len(cfg.Market.Symbols), cfg.Market.RefreshInterval)
	}

	if m.Server != nil {
		srv.AddTask(server.Task{Name: "metrics-server", Run: m.Server.Start})
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("stockd stopped")
	return nil
}

func configureLogger(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}
