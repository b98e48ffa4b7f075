// Package config loads the process configuration from the environment,
// with an optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// MasterKey derives the AES key protecting stored Kalshi credentials.
	// Required: without it no credential can be decrypted.
	MasterKey string

	HTTPAddr       string
	ProductionMode bool
	AuthEnabled    bool
	JWTSecret      string
	AllowedOrigins []string

	// UserAgent identifies us to the NWS API, which requires one.
	UserAgent string

	ModelsDir string
	Workers   int
	Timezone  string

	LogLevel  string
	LogPretty bool

	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

// Load reads the environment (after loading .env if present) and
// validates the required settings.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     os.Getenv("BOZ_DATABASE_URL"),
		RedisURL:        getEnvOrDefault("BOZ_REDIS_URL", "redis://localhost:6379/0"),
		MasterKey:       os.Getenv("BOZ_MASTER_KEY"),
		HTTPAddr:        getEnvOrDefault("BOZ_HTTP_ADDR", ":8080"),
		ProductionMode:  getEnvBool("BOZ_PRODUCTION", false),
		AuthEnabled:     getEnvBool("BOZ_AUTH_ENABLED", false),
		JWTSecret:       os.Getenv("BOZ_JWT_SECRET"),
		UserAgent:       getEnvOrDefault("BOZ_USER_AGENT", "bozbot/1.0 (weather trading research)"),
		ModelsDir:       getEnvOrDefault("BOZ_MODELS_DIR", "models"),
		Workers:         getEnvInt("BOZ_WORKERS", 4),
		Timezone:        getEnvOrDefault("BOZ_TIMEZONE", "America/New_York"),
		LogLevel:        getEnvOrDefault("BOZ_LOG_LEVEL", "info"),
		LogPretty:       getEnvBool("BOZ_LOG_PRETTY", false),
		VAPIDPublicKey:  os.Getenv("BOZ_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("BOZ_VAPID_PRIVATE_KEY"),
	}

	if origins := os.Getenv("BOZ_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("BOZ_DATABASE_URL is required")
	}
	if cfg.MasterKey == "" {
		return nil, fmt.Errorf("BOZ_MASTER_KEY is required")
	}
	if cfg.AuthEnabled && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("BOZ_JWT_SECRET is required when BOZ_AUTH_ENABLED is set")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("BOZ_WORKERS must be at least 1")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("BOZ_TIMEZONE: %w", err)
	}
	return cfg, nil
}

// Location resolves the beat timezone. Load already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
