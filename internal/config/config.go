// Package config loads server configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	Ingest  IngestConfig  `yaml:"ingest"`
	API     APIConfig     `yaml:"api"`
	Pprof   PprofConfig   `yaml:"pprof"`
	Storage StorageConfig `yaml:"storage"`
	Parser  ParserConfig  `yaml:"parser"`
}

// IngestConfig configures the profiler record receiver.
type IngestConfig struct {
	Addr string `yaml:"addr"`
}

// APIConfig configures the query API server.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// PprofConfig configures the profiling endpoint.
type PprofConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig configures the sink backend.
type StorageConfig struct {
	Backend            string `yaml:"backend"`
	SQLitePath         string `yaml:"sqlite_path"`
	ClickHouseAddr     string `yaml:"clickhouse_addr"`
	ClickHouseDatabase string `yaml:"clickhouse_database"`

	// BatchSize overrides the backend's write batch size when positive.
	BatchSize int `yaml:"batch_size"`
}

// ParserConfig configures the normalization engine.
type ParserConfig struct {
	// VariableScope is "session" (one variable id per name for the whole
	// session) or "execution" (per-execution deduplication).
	VariableScope string `yaml:"variable_scope"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Ingest:  IngestConfig{Addr: "0.0.0.0:9110"},
		API:     APIConfig{Addr: "0.0.0.0:8080"},
		Pprof:   PprofConfig{Addr: "localhost:6060"},
		Storage: StorageConfig{Backend: "sqlite", SQLitePath: "mal_analytics.db", ClickHouseAddr: "localhost:9000", ClickHouseDatabase: "default"},
		Parser:  ParserConfig{VariableScope: "session"},
	}
}

// Load reads the YAML file at path, if it exists, and applies environment
// overrides on top. A missing file is not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config YAML: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides file values with environment variables when set.
func applyEnv(cfg *Config) {
	setIfEnv(&cfg.Ingest.Addr, "INGEST_ADDR")
	setIfEnv(&cfg.API.Addr, "API_ADDR")
	setIfEnv(&cfg.Pprof.Addr, "PPROF_ADDR")
	setIfEnv(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setIfEnv(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setIfEnv(&cfg.Storage.ClickHouseAddr, "CLICKHOUSE_ADDR")
	setIfEnv(&cfg.Storage.ClickHouseDatabase, "CLICKHOUSE_DATABASE")
	setIfEnvInt(&cfg.Storage.BatchSize, "STORAGE_BATCH_SIZE")
	setIfEnv(&cfg.Parser.VariableScope, "VARIABLE_SCOPE")
}

func setIfEnv(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setIfEnvInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
		}
	}
}
