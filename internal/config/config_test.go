package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
dry_run: true
wallet:
  private_key: "0xabc"
  chain_id: 137
api:
  clob_base_url: "https://clob.polymarket.com"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.API.RequestTimeout != 10*time.Second {
		t.Errorf("expected default request_timeout 10s, got %s", cfg.API.RequestTimeout)
	}
	if cfg.API.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.API.MaxRetries)
	}
	if cfg.Contracts.ExchangeAddress == "" {
		t.Error("expected default exchange address to be filled in")
	}
}

func TestLoadHonorsPMPrivateKeyOverride(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("PM_PRIVATE_KEY", "0xoverridden")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.PrivateKey != "0xoverridden" {
		t.Errorf("expected PM_PRIVATE_KEY to override, got %q", cfg.Wallet.PrivateKey)
	}
}

func TestLoadHonorsLegacyPOLYPrivateKeyAlias(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("POLY_PRIVATE_KEY", "0xlegacy")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.PrivateKey != "0xlegacy" {
		t.Errorf("expected POLY_PRIVATE_KEY alias to override, got %q", cfg.Wallet.PrivateKey)
	}
}

func validConfig() Config {
	var cfg Config
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Wallet.ChainID = 137
	cfg.API.CLOBBaseURL = "https://clob.polymarket.com"
	applyDefaults(&cfg)
	return cfg
}

func TestValidateRejectsMissingPrivateKey(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing private key")
	}
}

func TestValidateRejectsFunderlessNonEOASignatureType(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.SignatureType = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-EOA signature type without funder address")
	}
}

func TestValidateRejectsSubSecondRequestTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.API.RequestTimeout = 500 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sub-second request timeout")
	}
}

func TestValidateRejectsMaxRetriesOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.API.MaxRetries = 11
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_retries above 10")
	}
}

func TestValidateRejectsRateLimitMarginOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.API.RateLimitMargin = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for rate_limit_margin above 1.0")
	}
}

func TestValidateAcceptsFullyDefaultedConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a fully-defaulted valid config to pass, got %v", err)
	}
}

func TestDefaultRateLimitsCoversOrderEndpoints(t *testing.T) {
	limits := DefaultRateLimits()
	if _, ok := limits["POST:/order"]; !ok {
		t.Fatal("expected POST:/order rate limit entry")
	}
	fallback := DefaultRateLimitFallback()
	if fallback.Limit <= 0 {
		t.Fatal("expected a positive fallback limit")
	}
}
