package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolpay.json")
	content := `{
  "payment": {"fallback_rate": 1800},
  "auth": {"user_tokens": {"tok": "alice"}}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address, got %s", cfg.Server.Address)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("expected logging defaults, got %+v", cfg.Logging)
	}
	if cfg.Payment.FallbackRate != 1800 {
		t.Fatalf("expected explicit fallback rate kept, got %v", cfg.Payment.FallbackRate)
	}
	if cfg.Payment.ReplayDriver != "memory" {
		t.Fatalf("expected default replay driver, got %s", cfg.Payment.ReplayDriver)
	}
	if cfg.Conversation.Driver != "memory" {
		t.Fatalf("expected default conversation driver, got %s", cfg.Conversation.Driver)
	}
	if cfg.Billing.Driver != "log" {
		t.Fatalf("expected default billing driver, got %s", cfg.Billing.Driver)
	}
	if cfg.Tools.CatalogPath != filepath.Join(dir, "tools.yaml") {
		t.Fatalf("expected catalog path relative to config dir, got %s", cfg.Tools.CatalogPath)
	}
	if cfg.Auth.UserTokens["tok"] != "alice" {
		t.Fatalf("expected user tokens preserved, got %+v", cfg.Auth.UserTokens)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
