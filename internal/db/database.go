// Package db provides PostgreSQL database access and lifecycle management
// for Clawcierge.
//
// Purpose:
// - Establish and maintain a PostgreSQL connection pool
// - Initialize the registry schema on startup (agents, handles, api_keys,
//   capability_contracts, policies, requests)
// - Provide a centralized *sql.DB for the store layer
// - Validate database configuration to prevent connection-string injection
//
// Implementation Details:
// - Uses database/sql with the lib/pq PostgreSQL driver
// - Connection pool tuned for a single registry process (25 max open, 5 max
//   idle, 5 min max lifetime)
// - Schema initialization runs CREATE TABLE IF NOT EXISTS on startup
package db

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"database/sql"

	_ "github.com/lib/pq"

	"github.com/morioust/clawcierge/internal/logger"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database represents the database connection.
type Database struct {
	db *sql.DB
}

// validateConfig validates database configuration to prevent SQL injection
// via a hostile connection string.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NormalizeDatabaseURL rewrites a postgres://.../db?sslmode=X URL the way
// the connection string is expected by lib/pq: postgres:// and
// postgresql:// both work, but sslmode must be spelled out as the ssl query
// param name lib/pq understands is actually sslmode itself — what the
// original Python implementation normalizes is its own asyncpg driver
// prefix (postgresql+asyncpg://) and the query param name (ssl -> sslmode).
// Go's lib/pq wants sslmode, so normalization here is the mirror image:
// accept either scheme and any legacy "ssl" query alias, and emit a
// standard postgres:// DSN with sslmode set.
func NormalizeDatabaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid database_url: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		u.Scheme = "postgres"
	default:
		return raw, nil
	}

	q := u.Query()
	if ssl := q.Get("ssl"); ssl != "" && q.Get("sslmode") == "" {
		q.Set("sslmode", ssl)
		q.Del("ssl")
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// NewDatabase creates a new database connection with connection pooling.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting creates a Database from an existing sql.DB
// connection. Intended only for tests (e.g. with sqlmock).
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying sql.DB.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the registry schema if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'inactive',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS handles (
			handle VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(36) NOT NULL UNIQUE REFERENCES agents(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(36) PRIMARY KEY,
			key_hash VARCHAR(64) NOT NULL,
			key_prefix VARCHAR(16) NOT NULL,
			owner_type VARCHAR(10) NOT NULL,
			owner_id VARCHAR(36) NOT NULL,
			scopes JSONB NOT NULL DEFAULT '[]',
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_hash_active
			ON api_keys(key_hash) WHERE revoked_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS capability_contracts (
			id VARCHAR(36) PRIMARY KEY,
			agent_id VARCHAR(36) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			version INT NOT NULL,
			capabilities JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_contracts_agent_active
			ON capability_contracts(agent_id) WHERE is_active`,

		`CREATE TABLE IF NOT EXISTS policies (
			id VARCHAR(36) PRIMARY KEY,
			agent_id VARCHAR(36) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			version INT NOT NULL,
			rules JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_policies_agent_active
			ON policies(agent_id) WHERE is_active`,

		`CREATE TABLE IF NOT EXISTS requests (
			id VARCHAR(36) PRIMARY KEY,
			agent_id VARCHAR(36) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			sender_id VARCHAR(36) NOT NULL,
			handle VARCHAR(64) NOT NULL,
			action_type VARCHAR(255) NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL,
			result JSONB,
			pipeline_log JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_requests_agent_status ON requests(agent_id, status)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	logger.Database().Info().Int("statements", len(migrations)).Msg("schema migration complete")
	return nil
}
