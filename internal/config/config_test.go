package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Hexstrike.Registry.MaxConcurrent != 8 {
		t.Errorf("expected default max_concurrent 8, got %d", cfg.Hexstrike.Registry.MaxConcurrent)
	}
	if cfg.Hexstrike.Cache.TTL != 30*time.Minute {
		t.Errorf("expected default cache TTL 30m, got %v", cfg.Hexstrike.Cache.TTL)
	}
	if cfg.Hexstrike.Engine.DefaultTimeout != 5*time.Minute {
		t.Errorf("expected default timeout 5m, got %v", cfg.Hexstrike.Engine.DefaultTimeout)
	}
	if cfg.Hexstrike.API.Port == 0 {
		t.Error("expected non-zero default API port")
	}
}

func TestLoadConfig(t *testing.T) {
	yaml := `
hexstrike:
  daemon:
    log_level: debug
  cache:
    max_bytes: 1048576
    ttl: 2m
  registry:
    max_concurrent: 3
    max_queued: 5
  tools:
    customscan:
      command: customscan
      category: network
      timeout: 90s
      set_params: [ports]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Hexstrike.Daemon.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.Hexstrike.Daemon.LogLevel)
	}
	if cfg.Hexstrike.Cache.MaxBytes != 1048576 {
		t.Errorf("expected max_bytes 1048576, got %d", cfg.Hexstrike.Cache.MaxBytes)
	}
	if cfg.Hexstrike.Cache.TTL != 2*time.Minute {
		t.Errorf("expected ttl 2m, got %v", cfg.Hexstrike.Cache.TTL)
	}
	if cfg.Hexstrike.Registry.MaxConcurrent != 3 {
		t.Errorf("expected max_concurrent 3, got %d", cfg.Hexstrike.Registry.MaxConcurrent)
	}

	tool, ok := cfg.Hexstrike.Tools["customscan"]
	if !ok {
		t.Fatal("expected customscan tool entry")
	}
	if tool.Category != "network" {
		t.Errorf("expected category network, got %s", tool.Category)
	}
	if tool.Timeout != 90*time.Second {
		t.Errorf("expected timeout 90s, got %v", tool.Timeout)
	}

	// Unset sections still get defaults
	if cfg.Hexstrike.Engine.DefaultTimeout != 5*time.Minute {
		t.Errorf("expected defaulted engine timeout, got %v", cfg.Hexstrike.Engine.DefaultTimeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
