package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}

	want := Default()
	if cfg != want {
		t.Errorf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
ingest:
  addr: "127.0.0.1:9999"
storage:
  backend: clickhouse
  clickhouse_addr: "ch:9000"
parser:
  variable_scope: execution
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Ingest.Addr != "127.0.0.1:9999" {
		t.Errorf("ingest addr = %q", cfg.Ingest.Addr)
	}
	if cfg.Storage.Backend != "clickhouse" || cfg.Storage.ClickHouseAddr != "ch:9000" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Parser.VariableScope != "execution" {
		t.Errorf("variable scope = %q", cfg.Parser.VariableScope)
	}
	// Values absent from the file keep their defaults.
	if cfg.API.Addr != Default().API.Addr {
		t.Errorf("api addr = %q, want default", cfg.API.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: sqlite\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("INGEST_ADDR", "0.0.0.0:7000")
	t.Setenv("STORAGE_BATCH_SIZE", "500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q, env override lost", cfg.Storage.Backend)
	}
	if cfg.Ingest.Addr != "0.0.0.0:7000" {
		t.Errorf("ingest addr = %q, env override lost", cfg.Ingest.Addr)
	}
	if cfg.Storage.BatchSize != 500 {
		t.Errorf("batch size = %d, env override lost", cfg.Storage.BatchSize)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ingest:\n  addr: [unclosed"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("malformed config accepted")
	}
}
