package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Sessions    SessionsConfig
	Broadcast   BroadcastConfig
	RateLimit   RateLimitConfig
	Bootstrap   BootstrapConfig
	Tracing     TracingConfig
	Logging     LoggingConfig
	Environment string
}

type ServerConfig struct {
	Host string `validate:"required"`
	Port int    `validate:"gte=0,lte=65535"`
}

type DatabaseConfig struct {
	URL            string `validate:"required"`
	MaxConnections int    `validate:"gte=1"`
}

type SessionsConfig struct {
	TTL time.Duration `validate:"gt=0"`
}

type BroadcastConfig struct {
	// Backlog is the per-subscriber buffered message capacity.
	Backlog int `validate:"gte=1"`
}

type RateLimitConfig struct {
	PublicPerMinute   int `validate:"gte=0"`
	DataPerMinute     int `validate:"gte=0"`
	AdminPerMinute    int `validate:"gte=0"`
	LoginPer15Minutes int `validate:"gte=0"`
	TrustedProxyCIDRs []string
}

// BootstrapConfig seeds the rank-0 root user on startup.
type BootstrapConfig struct {
	Username string
	Password string
}

// TracingConfig controls OpenTelemetry span export. Disabled by default;
// when enabled, Exporter selects where spans go.
type TracingConfig struct {
	Enabled      bool
	Exporter     string `validate:"oneof=stdout otlp none"`
	ServiceName  string `validate:"required"`
	OTLPEndpoint string
	SampleRate   float64 `validate:"gte=0,lte=1"`
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Sessions: SessionsConfig{
			TTL: time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		},
		Broadcast: BroadcastConfig{
			Backlog: getEnvInt("BROADCAST_BACKLOG", 16),
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:   getEnvInt("RATE_LIMIT_PUBLIC", 60),
			DataPerMinute:     getEnvInt("RATE_LIMIT_DATA", 600),
			AdminPerMinute:    getEnvInt("RATE_LIMIT_ADMIN", 0),
			LoginPer15Minutes: getEnvInt("RATE_LIMIT_LOGIN", 5),
			TrustedProxyCIDRs: getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		Bootstrap: BootstrapConfig{
			Username: getEnv("ROOT_USERNAME", ""),
			Password: getEnv("ROOT_PASSWORD", ""),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "none"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "conduit"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
