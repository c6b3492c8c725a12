package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REGISTRY_PATH", "testdata/registry.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RegistryPath != "testdata/registry.yaml" {
		t.Errorf("RegistryPath = %q; want %q", cfg.RegistryPath, "testdata/registry.yaml")
	}
	if cfg.GasStaleAfter != 30*time.Second {
		t.Errorf("GasStaleAfter = %v; want 30s", cfg.GasStaleAfter)
	}
	if cfg.PriceStaleAfter != 60*time.Second {
		t.Errorf("PriceStaleAfter = %v; want 60s", cfg.PriceStaleAfter)
	}
	if cfg.QuoteExpiry != 5*time.Minute {
		t.Errorf("QuoteExpiry = %v; want 5m", cfg.QuoteExpiry)
	}
	if cfg.MaxHops != 4 {
		t.Errorf("MaxHops = %d; want 4", cfg.MaxHops)
	}
	if cfg.MaxAlternates != 3 {
		t.Errorf("MaxAlternates = %d; want 3", cfg.MaxAlternates)
	}
	if cfg.RefreshConcurrency != 8 {
		t.Errorf("RefreshConcurrency = %d; want 8", cfg.RefreshConcurrency)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REGISTRY_PATH", "testdata/registry.yaml")
	t.Setenv("GAS_STALE_AFTER", "10s")
	t.Setenv("MAX_HOPS", "6")
	t.Setenv("SWAP_FEE_PCT", "0.01")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.GasStaleAfter != 10*time.Second {
		t.Errorf("GasStaleAfter = %v; want 10s", cfg.GasStaleAfter)
	}
	if cfg.MaxHops != 6 {
		t.Errorf("MaxHops = %d; want 6", cfg.MaxHops)
	}
	if cfg.SwapFeePct != 0.01 {
		t.Errorf("SwapFeePct = %v; want 0.01", cfg.SwapFeePct)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d; want 9090", cfg.HTTPPort)
	}
}

func TestLoad_InvalidExpiry(t *testing.T) {
	t.Setenv("REGISTRY_PATH", "testdata/registry.yaml")
	t.Setenv("QUOTE_EXPIRY", "5s") // below both staleness thresholds

	if _, err := Load(); err == nil {
		t.Fatal("expected error for expiry below staleness thresholds, got nil")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("REGISTRY_PATH", "testdata/registry.yaml")
	t.Setenv("PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
}
