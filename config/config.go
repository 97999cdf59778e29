// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database  DatabaseConfig
	Datastore DatastoreConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds PostgreSQL connection pool settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 50)
	MaxConns int `env:"DB_MAX_CONNS" default:"50"`

	// MinConns is the minimum number of connections to keep open (default: 10)
	MinConns int `env:"DB_MIN_CONNS" default:"10"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 5m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"5m"`

	// HealthCheckPeriod is how often idle pool connections are health checked (default: 1m)
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" default:"1m"`

	// ConnectTimeout is the maximum duration to establish a connection (default: 5s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"5s"`
}

// DatastoreConfig holds settings for the versioned datastore.
type DatastoreConfig struct {
	// SchemaVersion pins the schema version instead of resolving it from the
	// database at startup. 0 means resolve from the schema version table.
	SchemaVersion int `env:"DATASTORE_SCHEMA_VERSION" default:"0"`

	// MaxQueryTagCount is the maximum number of extended query tags a single
	// deployment may store (default: 128)
	MaxQueryTagCount int `env:"DATASTORE_MAX_QUERY_TAG_COUNT" default:"128"`

	// TagTableName overrides the extended query tag table name if set
	TagTableName string `env:"DATASTORE_TAG_TABLE"`

	// PartitionTableName overrides the partition table name if set
	PartitionTableName string `env:"DATASTORE_PARTITION_TABLE"`

	// SchemaVersionTableName overrides the schema version table name if set
	SchemaVersionTableName string `env:"DATASTORE_SCHEMA_VERSION_TABLE"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// PGXPoolConfig builds a pgxpool.Config from the database settings.
func (c *DatabaseConfig) PGXPoolConfig() (*pgxpool.Config, error) {
	dbConfig, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	dbConfig.MaxConns = int32(c.MaxConns)
	dbConfig.MinConns = int32(c.MinConns)
	dbConfig.MaxConnLifetime = c.MaxConnLifetime
	dbConfig.MaxConnIdleTime = c.MaxConnIdleTime
	dbConfig.HealthCheckPeriod = c.HealthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout

	return dbConfig, nil
}
