package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.AccessTokenMinutes != 15 {
		t.Errorf("access minutes = %d, want 15", cfg.Auth.AccessTokenMinutes)
	}
	if cfg.Auth.RefreshTokenDays != 7 {
		t.Errorf("refresh days = %d, want 7", cfg.Auth.RefreshTokenDays)
	}
	if cfg.Auth.JWTAlgorithm != "HS256" {
		t.Errorf("algorithm = %q, want HS256", cfg.Auth.JWTAlgorithm)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("environment = %q, want development", cfg.Environment)
	}
	if cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("tools timeout = %v, want 30s", cfg.Tools.Timeout)
	}
	if cfg.Ticker.Interval != 60*time.Second {
		t.Errorf("ticker interval = %v, want 60s", cfg.Ticker.Interval)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("rate limiting should default to enabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("DATABASE_URL", "postgres://db/stockd")
	t.Setenv("REDIS_URL", "redis://kv:6379/1")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "30")
	t.Setenv("REFRESH_TOKEN_EXPIRE_DAYS", "14")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ENVIRONMENT", "staging")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgres://db/stockd" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Redis.URL != "redis://kv:6379/1" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
	if got := cfg.Auth.AccessTTL(); got != 30*time.Minute {
		t.Errorf("access ttl = %v, want 30m", got)
	}
	if got := cfg.Auth.RefreshTTL(); got != 14*24*time.Hour {
		t.Errorf("refresh ttl = %v, want 336h", got)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("origins = %v, want %v", cfg.CORSOrigins, want)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Errorf("origin[%d] = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Environment != EnvStaging {
		t.Errorf("environment = %q, want staging", cfg.Environment)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	path := filepath.Join(t.TempDir(), "stockd.yaml")
	body := `
server:
  port: 9000
workflow:
  timeout: 5m
tools:
  stock_data_url: http://stock-data:8080
environment: staging
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Workflow.Timeout != 5*time.Minute {
		t.Errorf("workflow timeout = %v, want 5m", cfg.Workflow.Timeout)
	}
	if cfg.Tools.StockDataURL != "http://stock-data:8080" {
		t.Errorf("stock data url = %q", cfg.Tools.StockDataURL)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")

	if _, err := Load(""); err == nil {
		t.Error("expected error without JWT secret")
	}

	t.Setenv("JWT_SECRET_KEY", "short")
	t.Setenv("ENVIRONMENT", "production")
	if _, err := Load(""); err == nil {
		t.Error("expected error for short secret in production")
	}

	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	if _, err := Load(""); err != nil {
		t.Errorf("32-byte secret should validate in production: %v", err)
	}

	t.Setenv("ENVIRONMENT", "sandbox")
	if _, err := Load(""); err == nil {
		t.Error("expected error for unknown environment")
	}
}
