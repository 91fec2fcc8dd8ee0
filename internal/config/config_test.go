package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultNormalized(t *testing.T) {
	cfg := Default()
	if cfg.CompletedRunTTLMs != 24*60*60*1000 {
		t.Fatalf("unexpected default TTL: %d", cfg.CompletedRunTTLMs)
	}
	if cfg.StallFailAfterMs != 0 {
		t.Fatalf("stall watchdog should default to disabled, got %d", cfg.StallFailAfterMs)
	}
	if cfg.IdleTimeout().Seconds() != 30 {
		t.Fatalf("unexpected idle timeout: %v", cfg.IdleTimeout())
	}
}

func TestNormalizeFillsZeroes(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	d := Default()
	if cfg.IdleTimeoutMs != d.IdleTimeoutMs || cfg.SubscribeBatch != d.SubscribeBatch {
		t.Fatalf("zero fields not defaulted: %+v", cfg)
	}
	// Explicit zero stall window stays disabled.
	if cfg.StallFailAfterMs != 0 {
		t.Fatalf("stall window should stay 0, got %d", cfg.StallFailAfterMs)
	}
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runbeam.json")
	body := `{"idle_timeout_ms": 5000, "subscribe_batch": 16}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeoutMs != 5000 {
		t.Fatalf("file override lost: %d", cfg.IdleTimeoutMs)
	}
	if cfg.SubscribeBatch != 16 {
		t.Fatalf("file override lost: %d", cfg.SubscribeBatch)
	}
	// Untouched fields keep defaults.
	if cfg.KeepAliveMs != Default().KeepAliveMs {
		t.Fatalf("default lost: %d", cfg.KeepAliveMs)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runbeam.yaml")
	if err := os.WriteFile(path, []byte("idle_timeout_ms: 5000"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvIdleTimeoutMs, "1234")
	t.Setenv(EnvSubscribeBatch, "7")
	t.Setenv(EnvStallFailAfterMs, "60000")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeoutMs != 1234 || cfg.SubscribeBatch != 7 || cfg.StallFailAfterMs != 60000 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestEnvMalformedIgnored(t *testing.T) {
	t.Setenv(EnvIdleTimeoutMs, "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeoutMs != Default().IdleTimeoutMs {
		t.Fatalf("malformed env should be ignored: %d", cfg.IdleTimeoutMs)
	}
}

func TestDataDirEnvOverride(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/runbeam-test-data")
	if got := DefaultDataDir(); got != "/tmp/runbeam-test-data" {
		t.Fatalf("env data dir not honored: %q", got)
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	got, err := EnsureDataDir(dir)
	if err != nil {
		t.Fatalf("EnsureDataDir: %v", err)
	}
	if got != dir {
		t.Fatalf("unexpected dir: %q", got)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("dir not created: %v", err)
	}
}
