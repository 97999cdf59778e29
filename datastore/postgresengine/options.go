package postgresengine

import (
	"github.com/rohankhera/dicom-server/datastore"
)

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithTagTableName sets the table name for extended query tags.
func WithTagTableName(tableName string) Option {
	return func(s *Store) error {
		if tableName == "" {
			return datastore.ErrEmptyTableName
		}

		s.tagTableName = tableName

		return nil
	}
}

// WithPartitionTableName sets the table name for partitions.
func WithPartitionTableName(tableName string) Option {
	return func(s *Store) error {
		if tableName == "" {
			return datastore.ErrEmptyTableName
		}

		s.partitionTableName = tableName

		return nil
	}
}

// WithSchemaVersionTableName sets the table the active schema version is resolved from.
func WithSchemaVersionTableName(tableName string) Option {
	return func(s *Store) error {
		if tableName == "" {
			return datastore.ErrEmptyTableName
		}

		s.schemaVersionTableName = tableName

		return nil
	}
}

// WithSchemaVersion pins the schema version instead of resolving it from the
// database at construction. Intended for deployments that resolve the version
// elsewhere, and for tests that fix a store at a specific version.
func WithSchemaVersion(version datastore.SchemaVersion) Option {
	return func(s *Store) error {
		if !version.Valid() {
			return datastore.ErrInvalidSchemaVersion
		}

		s.pinnedVersion = version

		return nil
	}
}

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: batch sizes, durations, resolved schema versions (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger datastore.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Store. It receives
// the same messages as the plain logger but with context information,
// enabling automatic trace/span correlation when tracing is configured.
func WithContextualLogger(logger datastore.ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store. The collector
// receives operation durations, conflict counters, and error counters.
func WithMetrics(collector datastore.MetricsCollector) Option {
	return func(s *Store) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Store. The collector
// receives one span per store operation with outcome attributes.
func WithTracing(collector datastore.TracingCollector) Option {
	return func(s *Store) error {
		s.tracingCollector = collector
		return nil
	}
}
