// Package config loads Clawcierge's runtime configuration from the
// environment via small getEnv/getEnvInt helpers, normalized into a single
// Config struct.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/morioust/clawcierge/internal/db"
)

// Config is every environment-driven setting Clawcierge's server needs.
type Config struct {
	Port   string
	AppEnv string

	LogLevel  string
	LogPretty bool

	Database db.Config

	RequestExpiry        time.Duration
	PipelineStageTimeout time.Duration
	ExpirySweepInterval  time.Duration
	WSHeartbeatInterval  time.Duration
	WSHeartbeatTimeout   time.Duration
	WSMaxMessageSize     int64

	JWTSecret        string
	JWTIssuer        string
	JWTTokenDuration time.Duration

	AdminUsername string
	// AdminPasswordHash is a bcrypt hash. If ADMIN_PASSWORD_HASH is unset
	// but ADMIN_PASSWORD is, the plaintext is hashed once at startup.
	AdminPasswordHash string

	RateLimitEnabled bool
	RateLimitRPM     int
}

// Load builds a Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:   getEnv("API_PORT", "8000"),
		AppEnv: getEnv("APP_ENV", "development"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		RequestExpiry:        time.Duration(getEnvInt("REQUEST_EXPIRY_SECONDS", 300)) * time.Second,
		PipelineStageTimeout: time.Duration(getEnvInt("PIPELINE_STAGE_TIMEOUT_SECONDS", 5)) * time.Second,
		ExpirySweepInterval:  time.Duration(getEnvInt("EXPIRY_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		WSHeartbeatInterval:  time.Duration(getEnvInt("WS_HEARTBEAT_INTERVAL_SECONDS", 15)) * time.Second,
		WSHeartbeatTimeout:   time.Duration(getEnvInt("WS_HEARTBEAT_TIMEOUT_SECONDS", 60)) * time.Second,
		WSMaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),

		JWTSecret:        getEnv("JWT_SECRET", "dev-only-insecure-secret-change-me"),
		JWTIssuer:        getEnv("JWT_ISSUER", "clawcierge"),
		JWTTokenDuration: time.Duration(getEnvInt("JWT_TOKEN_DURATION_MINUTES", 60)) * time.Minute,

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		RateLimitEnabled: getEnv("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitRPM:     getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
	}
	cfg.LogPretty = cfg.AppEnv != "production"

	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	cfg.Database = dbConfig

	return cfg, nil
}

// loadDatabaseConfig prefers DATABASE_URL (normalized per
// db.NormalizeDatabaseURL, then decomposed into db.Config fields since
// db.NewDatabase dials from discrete fields, not a DSN) and falls back to
// the individual DB_* variables.
func loadDatabaseConfig() (db.Config, error) {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return db.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "clawcierge"),
			Password: getEnv("DB_PASSWORD", "clawcierge"),
			DBName:   getEnv("DB_NAME", "clawcierge"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		}, nil
	}

	normalized, err := db.NormalizeDatabaseURL(raw)
	if err != nil {
		return db.Config{}, err
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return db.Config{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	password, _ := u.User.Password()
	dbName := strings.TrimPrefix(u.Path, "/")
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	port := u.Port()
	if port == "" {
		port = "5432"
	}

	return db.Config{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
