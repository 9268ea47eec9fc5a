package config

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/adapter"
	"github.com/marmos91/stockd/pkg/adapter/command"
	"github.com/marmos91/stockd/pkg/market"
	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/marmos91/stockd/pkg/metrics/prometheus"
	"github.com/marmos91/stockd/pkg/stats"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/marmos91/stockd/pkg/store/badger"
	"github.com/marmos91/stockd/pkg/store/csv"
	"github.com/marmos91/stockd/pkg/store/memory"
	"github.com/marmos91/stockd/pkg/store/s3"
	"github.com/marmos91/stockd/pkg/store/sqlite"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

// CreateRecordStore creates the Record Store selected by cfg.Type.
//
// The type-specific section is decoded with mapstructure into the backend's
// own Config and validated with its struct tags before construction.
func CreateRecordStore(ctx context.Context, cfg *StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "csv":
		var c csv.Config
		if err := decode("csv", cfg.CSV, &c); err != nil {
			return nil, err
		}
		return csv.New(ctx, c)
	case "badger":
		var c badger.Config
		if err := decode("badger", cfg.Badger, &c); err != nil {
			return nil, err
		}
		return badger.New(ctx, c)
	case "sqlite":
		var c sqlite.Config
		if err := decode("sqlite", cfg.SQLite, &c); err != nil {
			return nil, err
		}
		return sqlite.New(ctx, c)
	case "s3":
		var c s3.Config
		if err := decode("s3", cfg.S3, &c); err != nil {
			return nil, err
		}
		return s3.New(ctx, c)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// decode fills out from options and checks its validate tags.
func decode(name string, options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("failed to decode %s config: %w", name, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w", name, formatValidationError(err))
	}
	return nil
}

// RedisStatsConfig is the stats.redis section.
type RedisStatsConfig struct {
	Addr     string        `mapstructure:"addr" validate:"required"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// CreateStatsRecorder creates the stats recorder selected by cfg.Type. The
// returned close function releases any connection it opened.
func CreateStatsRecorder(ctx context.Context, cfg *StatsConfig) (stats.Recorder, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Type {
	case "none":
		return stats.Nop{}, noClose, nil
	case "memory":
		return stats.NewMemoryRecorder(), noClose, nil
	case "redis":
		var c RedisStatsConfig
		if err := decode("redis", cfg.Redis, &c); err != nil {
			return nil, nil, err
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", c.Addr, err)
		}

		var opts []stats.RedisOption
		if c.Prefix != "" {
			opts = append(opts, stats.WithPrefix(c.Prefix))
		}
		if c.TTL > 0 {
			opts = append(opts, stats.WithTTL(c.TTL))
		}
		logger.Info("Recording command stats in redis at %s", c.Addr)
		return stats.NewRedisRecorder(rdb, opts...), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown stats type: %q", cfg.Type)
	}
}

// MetricsResult holds what InitializeMetrics built.
type MetricsResult struct {
	// Server is nil when metrics are disabled.
	Server *metrics.Server

	Command metrics.CommandMetrics
	Feed    metrics.FeedMetrics
	Store   metrics.StoreMetrics
}

// InitializeMetrics sets up the Prometheus registry when enabled. Disabled
// metrics yield no-op collectors and no server. storeType labels the store
// collectors.
func InitializeMetrics(cfg *MetricsConfig, storeType string) *MetricsResult {
	if !cfg.Enabled {
		return &MetricsResult{
			Command: metrics.NewNoopCommandMetrics(),
			Feed:    metrics.NewNoopFeedMetrics(),
			Store:   metrics.NewNoopStoreMetrics(),
		}
	}

	metrics.InitRegistry()
	logger.Info("Metrics collection enabled on port %d", cfg.Port)

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Port}),
		Command: prometheus.NewCommandMetrics(),
		Feed:    prometheus.NewFeedMetrics(),
		Store:   prometheus.NewStoreMetrics(storeType),
	}
}

// CreateAdapters builds every enabled protocol adapter.
func CreateAdapters(cfg *Config, m *MetricsResult) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Command.Enabled {
		var cm metrics.CommandMetrics
		if m != nil {
			cm = m.Command
		}
		adapters = append(adapters, command.New(cfg.Adapters.Command, cm))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled")
	}
	return adapters, nil
}

// CreateMarketFeed returns the configured feed, or nil when it is disabled.
func CreateMarketFeed(cfg *MarketConfig, s store.Store, m *MetricsResult) *market.Feed {
	if !cfg.Enabled {
		return nil
	}

	var opts []market.Option
	if m != nil && m.Feed != nil {
		opts = append(opts, market.WithMetrics(m.Feed))
	}

	return market.New(market.Config{
		Interval:          cfg.RefreshInterval,
		ProviderURL:       cfg.ProviderURL,
		APIKey:            cfg.APIKey,
		Symbols:           cfg.Symbols,
		Names:             cfg.Names,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Timeout:           cfg.Timeout,
	}, s, opts...)
}
