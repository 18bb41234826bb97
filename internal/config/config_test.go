package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.Directory.Mode != ModeLocal {
		t.Fatalf("mode = %q", cfg.Directory.Mode)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated default invalid: %v", err)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:5000" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`
backend:
  base_url: http://backend:9000
  token: abc
directory:
  mode: remote
workflow:
  poll_interval_seconds: 2
chat:
  reveal_delay_ms: 0
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:9000" || cfg.Backend.Token != "abc" {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Directory.Mode != ModeRemote {
		t.Fatalf("mode = %q", cfg.Directory.Mode)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.RevealDelay() != 0 {
		t.Fatalf("reveal delay = %v", cfg.RevealDelay())
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.Directory.Mode = "cloud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestValidateRejectsNonPositivePoll(t *testing.T) {
	cfg := Default()
	cfg.Workflow.PollIntervalSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Backend.BaseURL != Default().Backend.BaseURL {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	ws := t.TempDir()
	data := "backend:\n  base_url: http://x:1\n"
	if err := os.WriteFile(filepath.Join(ws, "predictops.yml"), []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://x:1" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	// Unset sections fall back to defaults.
	if cfg.Workflow.PollIntervalSeconds != 10 {
		t.Fatalf("poll seconds = %d", cfg.Workflow.PollIntervalSeconds)
	}
}
