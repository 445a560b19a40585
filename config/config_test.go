package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crypto.Iterations != 100000 {
		t.Errorf("Expected default iterations 100000, got %d", cfg.Crypto.Iterations)
	}
	if cfg.Pool.Size != 2 {
		t.Errorf("Expected default pool size 2, got %d", cfg.Pool.Size)
	}
	if cfg.SessionTimeout() != 15*time.Minute {
		t.Errorf("Expected 15m session timeout, got %v", cfg.SessionTimeout())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
crypto:
  iterations: 50000
pool:
  size: 4
policy:
  max_attempts: 3
storage:
  path: /tmp/core.db
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crypto.Iterations != 50000 {
		t.Errorf("Expected iterations 50000, got %d", cfg.Crypto.Iterations)
	}
	if cfg.Pool.Size != 4 {
		t.Errorf("Expected pool size 4, got %d", cfg.Pool.Size)
	}
	if cfg.Policy.MaxAttempts != 3 {
		t.Errorf("Expected max attempts 3, got %d", cfg.Policy.MaxAttempts)
	}
	if cfg.Storage.Path != "/tmp/core.db" {
		t.Errorf("Expected storage path override, got %s", cfg.Storage.Path)
	}

	// Untouched settings keep their defaults.
	if cfg.Cache.TTLSeconds != 300 {
		t.Errorf("Expected default cache TTL, got %d", cfg.Cache.TTLSeconds)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("pool: ["), 0o600)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}
