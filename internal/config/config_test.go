package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Listen.Port != Default().Listen.Port {
		t.Errorf("port = %d, want default %d", cfg.Listen.Port, Default().Listen.Port)
	}
	if cfg.DefaultAdapter != "claude" {
		t.Errorf("default adapter = %q, want claude", cfg.DefaultAdapter)
	}
}

func TestLoadFromOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("listen:\n  host: 0.0.0.0\n  port: 9000\ndefault_adapter: codex\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Listen.Addr() != "0.0.0.0:9000" {
		t.Errorf("addr = %q, want 0.0.0.0:9000", cfg.Listen.Addr())
	}
	if cfg.DefaultAdapter != "codex" {
		t.Errorf("default adapter = %q, want codex", cfg.DefaultAdapter)
	}
	if cfg.RateLimit.MessagesPerSecond != Default().RateLimit.MessagesPerSecond {
		t.Errorf("unset field should keep default, got %v", cfg.RateLimit.MessagesPerSecond)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 70000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestValidateRejectsUnknownStorageBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: postgres\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}
