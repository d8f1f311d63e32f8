package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skoulos/mal_analytics/internal/storage/clickhouse"
	"github.com/skoulos/mal_analytics/internal/storage/memory"
	"github.com/skoulos/mal_analytics/internal/storage/sqlite"
)

// Config holds sink configuration.
type Config struct {
	// Backend selects the sink: "sqlite", "clickhouse" or "memory".
	Backend string

	// SQLite-specific config
	SQLitePath string

	// ClickHouse-specific config
	ClickHouseAddr     string
	ClickHouseDatabase string

	// BatchSize overrides the backend's write batch size when positive.
	BatchSize int
}

// DefaultConfig returns default sink configuration.
func DefaultConfig() Config {
	return Config{
		Backend:            "sqlite",
		SQLitePath:         "mal_analytics.db",
		ClickHouseAddr:     "localhost:9000",
		ClickHouseDatabase: "default",
	}
}

// NewSink creates a sink based on configuration.
func NewSink(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory sink")
		return memory.New(), nil

	case "sqlite":
		logger.Info("using SQLite sink", "path", cfg.SQLitePath)
		sqlCfg := sqlite.DefaultConfig(cfg.SQLitePath)
		if cfg.BatchSize > 0 {
			sqlCfg.BatchSize = cfg.BatchSize
		}
		store, err := sqlite.New(sqlCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite sink: %w", err)
		}
		return store, nil

	case "clickhouse":
		logger.Info("using ClickHouse sink", "addr", cfg.ClickHouseAddr)
		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = cfg.ClickHouseAddr
		chCfg.Database = cfg.ClickHouseDatabase
		if cfg.BatchSize > 0 {
			chCfg.BatchSize = cfg.BatchSize
		}
		store, err := clickhouse.NewStore(ctx, chCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating ClickHouse sink: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, clickhouse, memory)", cfg.Backend)
	}
}
