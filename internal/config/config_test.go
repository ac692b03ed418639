package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.Algorithm != "HS256" {
		t.Errorf("default algorithm: got %q, want HS256", cfg.Auth.Algorithm)
	}
	if cfg.Auth.CacheTTL() != 5*time.Minute {
		t.Errorf("default cache TTL: got %v, want 5m", cfg.Auth.CacheTTL())
	}
	if cfg.Auth.TokenTTL() != 30*time.Minute {
		t.Errorf("default token TTL: got %v, want 30m", cfg.Auth.TokenTTL())
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MCPGATE_TEST_SECRET", "super-secret")

	content := `
auth:
  secret_key: ${MCPGATE_TEST_SECRET}
  access_token_expire_minutes: 15
server:
  port: 9090
backends:
  - id: snowflake-01
    template: snowflake
    transport: http
    endpoint: http://localhost:7001
`
	path := filepath.Join(t.TempDir(), "mcpgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SecretKey != "super-secret" {
		t.Errorf("secret_key: got %q, want expanded env value", cfg.Auth.SecretKey)
	}
	if cfg.Auth.AccessTokenExpireMinutes != 15 {
		t.Errorf("access_token_expire_minutes: got %d, want 15", cfg.Auth.AccessTokenExpireMinutes)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d, want 9090", cfg.Server.Port)
	}
	// Unset sections keep defaults.
	if cfg.Auth.APIKeyExpireDays != 365 {
		t.Errorf("api_key_expire_days default: got %d, want 365", cfg.Auth.APIKeyExpireDays)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].Template != "snowflake" {
		t.Errorf("backends did not parse: %+v", cfg.Backends)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
