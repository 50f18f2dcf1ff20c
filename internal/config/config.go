// Package config loads the stockd configuration from an optional YAML file
// with environment-variable overrides for every deployment-facing setting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names recognized by the server. Production enables the
// hardening middleware (HSTS, secure headers).
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the main configuration structure for stockd.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Auth        AuthConfig      `yaml:"auth"`
	Tools       ToolsConfig     `yaml:"tools"`
	Workflow    WorkflowConfig  `yaml:"workflow"`
	Ticker      TickerConfig    `yaml:"ticker"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Logging     LoggingConfig   `yaml:"logging"`
	CORSOrigins []string        `yaml:"cors_origins"`
	Environment string          `yaml:"environment"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	JWTAlgorithm       string `yaml:"jwt_algorithm"`
	AccessTokenMinutes int    `yaml:"access_token_expire_minutes"`
	RefreshTokenDays   int    `yaml:"refresh_token_expire_days"`
}

// AccessTTL returns the access-token lifetime.
func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTokenMinutes) * time.Minute
}

// RefreshTTL returns the refresh-token (and session) lifetime.
func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTokenDays) * 24 * time.Hour
}

// ToolsConfig configures the remote capability servers agents call into.
type ToolsConfig struct {
	StockDataURL      string        `yaml:"stock_data_url"`
	Timeout           time.Duration `yaml:"timeout"`
	ValidateArguments bool          `yaml:"validate_arguments"`
}

type WorkflowConfig struct {
	// Timeout is the per-execution wall-clock deadline. Zero means unbounded.
	Timeout time.Duration `yaml:"timeout"`

	// CancelGrace bounds the wait for in-flight nodes after cancellation.
	CancelGrace time.Duration `yaml:"cancel_grace"`
}

type TickerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
	Enabled           bool    `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file when path is non-empty, applies
// environment overrides, then defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays the recognized environment variables. Environment always
// wins over the file so one image can serve every deployment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_ALGORITHM"); v != "" {
		cfg.Auth.JWTAlgorithm = v
	}
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Auth.AccessTokenMinutes = n
		}
	}
	if v := os.Getenv("REFRESH_TOKEN_EXPIRE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Auth.RefreshTokenDays = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitOrigins(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = strings.ToLower(v)
	}
	if v := os.Getenv("STOCK_DATA_URL"); v != "" {
		cfg.Tools.StockDataURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.MinConnections == 0 {
		cfg.Database.MinConnections = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Auth.JWTAlgorithm == "" {
		cfg.Auth.JWTAlgorithm = "HS256"
	}
	if cfg.Auth.AccessTokenMinutes == 0 {
		cfg.Auth.AccessTokenMinutes = 15
	}
	if cfg.Auth.RefreshTokenDays == 0 {
		cfg.Auth.RefreshTokenDays = 7
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Workflow.CancelGrace == 0 {
		cfg.Workflow.CancelGrace = 5 * time.Second
	}
	if cfg.Ticker.Interval == 0 {
		cfg.Ticker.Interval = 60 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
		cfg.RateLimit.BurstSize = 20
		cfg.RateLimit.Enabled = true
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if len(c.Auth.JWTSecret) < 32 && c.Environment == EnvProduction {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes in production")
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	return nil
}

// IsProduction reports whether hardening middleware should be active.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
