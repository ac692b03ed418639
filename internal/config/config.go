package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level mcpgate configuration file.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Gateway  GatewayConfig   `yaml:"gateway"`
	Backends []BackendConfig `yaml:"backends"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	RatePerMinute   int        `yaml:"rate_per_minute"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls authentication settings.
//
// SecretKey signs both JWTs and the indexed HMAC digests of API-key secrets.
// It MUST be stable across restarts: rotating it invalidates every stored
// key_hmac column and all outstanding JWTs.
type AuthConfig struct {
	SecretKey                string `yaml:"secret_key"`
	Algorithm                string `yaml:"algorithm"`
	AccessTokenExpireMinutes int    `yaml:"access_token_expire_minutes"`
	APIKeyExpireDays         int    `yaml:"api_key_expire_days"`
	CacheTTLSeconds          int    `yaml:"cache_ttl_seconds"`
}

// TokenTTL returns the configured access token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.AccessTokenExpireMinutes) * time.Minute
}

// CacheTTL returns the verification cache entry lifetime.
func (a AuthConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLSeconds) * time.Second
}

// GatewayConfig controls backend health checking.
type GatewayConfig struct {
	HealthInterval string `yaml:"health_interval"`
	MaxFailures    int    `yaml:"max_failures"`
}

// BackendConfig declares a backend MCP server to register at startup.
type BackendConfig struct {
	ID        string   `yaml:"id"`
	Template  string   `yaml:"template"`
	Transport string   `yaml:"transport"`
	Endpoint  string   `yaml:"endpoint"`
	Command   []string `yaml:"command"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as ${VAR_NAME} in the file are expanded before parsing.
// Missing sections fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			RatePerMinute:   600,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "DELETE"},
			},
		},
		Auth: AuthConfig{
			Algorithm:                "HS256",
			AccessTokenExpireMinutes: 30,
			APIKeyExpireDays:         365,
			CacheTTLSeconds:          300,
		},
		Gateway: GatewayConfig{
			HealthInterval: "30s",
			MaxFailures:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
