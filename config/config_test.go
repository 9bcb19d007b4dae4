package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_FileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
database:
  url: postgres://file-host/escrowflow
payout:
  platform_fee_bps: 800
audit:
  drift_tolerance_cents: 50
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DATABASE_URL", "postgres://env-host/escrowflow")
	t.Setenv("DRIFT_TOLERANCE_CENTS", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://env-host/escrowflow" {
		t.Errorf("env must override file, got %q", cfg.Database.URL)
	}
	if cfg.Payout.PlatformFeeBps != 800 {
		t.Errorf("file value lost, got %d", cfg.Payout.PlatformFeeBps)
	}
	if cfg.Payout.RouterFeeBps != 500 {
		t.Errorf("default must survive partial file, got %d", cfg.Payout.RouterFeeBps)
	}
	if cfg.Audit.DriftToleranceCents != 250 {
		t.Errorf("env must override file, got %d", cfg.Audit.DriftToleranceCents)
	}
}

func TestLoad_NoFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-only/escrowflow")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Payout.RemainderCreditThresholdCents != 2000 {
		t.Errorf("expected default threshold 2000, got %d", cfg.Payout.RemainderCreditThresholdCents)
	}
	if cfg.Audit.DriftToleranceCents != 100 {
		t.Errorf("expected default tolerance 100, got %d", cfg.Audit.DriftToleranceCents)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoad_MissingDatabaseURLFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error without a database url")
	}
}

func TestValidate_FeeSumBounded(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://x/y"
	cfg.Payout.PlatformFeeBps = 6000
	cfg.Payout.RouterFeeBps = 5000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for fees above 100%")
	}
	if !strings.Contains(err.Error(), "exceed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database: [not: a: mapping"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
