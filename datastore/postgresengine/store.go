package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/rohankhera/dicom-server/datastore"
	"github.com/rohankhera/dicom-server/datastore/postgresengine/internal/adapters"
)

const (
	defaultTagTableName           = "extended_query_tag"
	defaultPartitionTableName     = "partition"
	defaultSchemaVersionTableName = "schema_version"

	dialectPostgres = "postgres"
	castText        = "?::text"
	castJsonb       = "?::jsonb"
	castInt         = "?::int"

	colVersion            = "version"
	colStatus             = "status"
	schemaStatusCompleted = "completed"

	logMsgStoreInitialized   = "versioned store initialized"
	logMsgTagsAdded          = "extended query tags added"
	logMsgTagsQueried        = "extended query tags queried"
	logMsgPartitionsQueried  = "partitions queried"
	logMsgPartitionAdded     = "partition added"
	logMsgDBQueryFailed      = "database query execution failed"
	logMsgDBExecFailed       = "database execution failed"
	logMsgRowsAffectedFailed = "failed to get rows affected count"
	logMsgCloseRowsFailed    = "failed to close database rows"
	logMsgScanRowFailed      = "failed to scan database row"
	logMsgBuildQueryFailed   = "failed to build query"
	logMsgOperationFailed    = "datastore operation failed: "
	logMsgSQLExecuted        = "executed sql for: "

	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrDurationMS            = "duration_ms"
	logAttrTagCount              = "tag_count"
	logAttrPartitionCount        = "partition_count"
	logAttrPartitionName         = "partition_name"
	logAttrSchemaVersion         = "schema_version"
	logAttrTagStoreVersion       = "tag_store_version"
	logAttrPartitionStoreVersion = "partition_store_version"

	operationAddTags        = "add_extended_query_tags"
	operationGetTags        = "get_extended_query_tags"
	operationGetPartitions  = "get_partitions"
	operationAddPartition   = "add_partition"
	operationResolveVersion = "resolve_schema_version"

	spanNamePrefix    = "datastore."
	spanAttrOperation = "operation"
	spanAttrErrorType = "error_type"
	spanAttrTagCount  = "tag_count"

	statusSuccess     = "success"
	statusError       = "error"
	statusConflict    = "conflict"
	statusUnsupported = "schema_upgrade_required"

	metricOperationDuration = "datastore_operation_duration"
	metricConflicts         = "datastore_conflicts"
	metricErrors            = "datastore_errors"
	metricUpgradeRequired   = "datastore_schema_upgrade_required"
)

// Store is the PostgreSQL-backed, schema-version-gated metadata store.
//
// The active schema version is resolved exactly once at construction and is
// immutable for the lifetime of the process; the matching implementation of
// each entity family is selected at the same time, so all callers
// transparently get version-correct behavior.
type Store struct {
	db                     adapters.DBAdapter
	tagTableName           string
	partitionTableName     string
	schemaVersionTableName string
	schemaVersion          datastore.SchemaVersion
	pinnedVersion          datastore.SchemaVersion // zero value means: resolve from the schema version table
	logger                 datastore.Logger
	contextualLogger       datastore.ContextualLogger
	metricsCollector       datastore.MetricsCollector
	tracingCollector       datastore.TracingCollector
	tags                   TagStore
	partitions             PartitionStore
}

// NewStoreFromPGXPool creates a new Store using a pgx pool with optional configuration.
func NewStoreFromPGXPool(ctx context.Context, db *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil {
		return nil, datastore.ErrNilDatabaseConnection
	}

	return newStore(ctx, adapters.NewPGXAdapter(db), options)
}

// NewStoreFromSQLDB creates a new Store using a sql.DB with optional configuration.
func NewStoreFromSQLDB(ctx context.Context, db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, datastore.ErrNilDatabaseConnection
	}

	return newStore(ctx, adapters.NewSQLAdapter(db), options)
}

// NewStoreFromSQLX creates a new Store using a sqlx.DB with optional configuration.
func NewStoreFromSQLX(ctx context.Context, db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, datastore.ErrNilDatabaseConnection
	}

	return newStore(ctx, adapters.NewSQLXAdapter(db), options)
}

func newStore(ctx context.Context, db adapters.DBAdapter, options []Option) (*Store, error) {
	s := &Store{
		db:                     db,
		tagTableName:           defaultTagTableName,
		partitionTableName:     defaultPartitionTableName,
		schemaVersionTableName: defaultSchemaVersionTableName,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	version := s.pinnedVersion
	if version == 0 {
		resolved, resolveErr := s.resolveSchemaVersion(ctx)
		if resolveErr != nil {
			return nil, resolveErr
		}

		version = resolved
	}

	if !version.Valid() {
		return nil, fmt.Errorf("%w: %d", datastore.ErrInvalidSchemaVersion, int(version))
	}

	s.schemaVersion = version
	s.tags = resolveTagStore(s, version)
	s.partitions = resolvePartitionStore(s, version)

	s.logOperation(
		logMsgStoreInitialized,
		logAttrSchemaVersion, version.String(),
		logAttrTagStoreVersion, s.tags.Version().String(),
		logAttrPartitionStoreVersion, s.partitions.Version().String(),
	)

	return s, nil
}

// SchemaVersion returns the schema version this store was resolved against.
func (s *Store) SchemaVersion() datastore.SchemaVersion {
	return s.schemaVersion
}

// AddExtendedQueryTags registers a batch of extended query tags as one atomic
// unit: either the whole batch is durably registered or none of it is. The
// engine enforces, within the same transaction, that no duplicate tag path is
// introduced and that the total tag count after insertion does not exceed
// maxAllowedCount.
//
// An empty batch is a no-op success. Conflicts are classified into
// datastore.ErrAlreadyExists or datastore.ExceedsMaxCountError; any other
// engine fault is wrapped as datastore.ErrDataStoreFailed. The operation is
// not retried internally; in particular resubmitting an already committed
// batch yields ErrAlreadyExists, which callers should treat as duplicate
// detection rather than a fault.
func (s *Store) AddExtendedQueryTags(
	ctx context.Context,
	entries []datastore.ExtendedQueryTagEntry,
	maxAllowedCount int,
) error {

	spanCtx, span := s.startSpan(ctx, operationAddTags, map[string]string{
		spanAttrTagCount: strconv.Itoa(len(entries)),
	})

	start := time.Now()
	err := s.tags.AddExtendedQueryTags(spanCtx, entries, maxAllowedCount)
	duration := time.Since(start)

	s.observeOperation(spanCtx, span, operationAddTags, duration, err)
	if err != nil {
		return err
	}

	s.logOperationContext(spanCtx, logMsgTagsAdded,
		logAttrTagCount, len(entries),
		logAttrDurationMS, toMilliseconds(duration))

	return nil
}

// GetExtendedQueryTags returns all registered extended query tags in
// registration order. Against a schema version that predates extended query
// tags it fails with datastore.ErrSchemaUpgradeRequired.
func (s *Store) GetExtendedQueryTags(ctx context.Context) ([]datastore.ExtendedQueryTagStoreEntry, error) {
	spanCtx, span := s.startSpan(ctx, operationGetTags, nil)

	start := time.Now()
	tags, err := s.tags.GetExtendedQueryTags(spanCtx)
	duration := time.Since(start)

	s.observeOperation(spanCtx, span, operationGetTags, duration, err)
	if err != nil {
		return nil, err
	}

	s.logOperationContext(spanCtx, logMsgTagsQueried,
		logAttrTagCount, len(tags),
		logAttrDurationMS, toMilliseconds(duration))

	return tags, nil
}

// GetPartitions returns all data partitions. Against a schema version that
// predates partitions it fails with datastore.ErrSchemaUpgradeRequired; this
// is the documented behavior of a node serving mid-rollout, not a fault.
func (s *Store) GetPartitions(ctx context.Context) ([]datastore.PartitionEntry, error) {
	spanCtx, span := s.startSpan(ctx, operationGetPartitions, nil)

	start := time.Now()
	partitions, err := s.partitions.GetPartitions(spanCtx)
	duration := time.Since(start)

	s.observeOperation(spanCtx, span, operationGetPartitions, duration, err)
	if err != nil {
		return nil, err
	}

	s.logOperationContext(spanCtx, logMsgPartitionsQueried,
		logAttrPartitionCount, len(partitions),
		logAttrDurationMS, toMilliseconds(duration))

	return partitions, nil
}

// AddPartition creates a new data partition and returns the persisted entry.
// A name collision is classified as datastore.ErrAlreadyExists.
func (s *Store) AddPartition(ctx context.Context, name string) (datastore.PartitionEntry, error) {
	spanCtx, span := s.startSpan(ctx, operationAddPartition, nil)

	start := time.Now()
	entry, err := s.partitions.AddPartition(spanCtx, name)
	duration := time.Since(start)

	s.observeOperation(spanCtx, span, operationAddPartition, duration, err)
	if err != nil {
		return datastore.PartitionEntry{}, err
	}

	s.logOperationContext(spanCtx, logMsgPartitionAdded,
		logAttrPartitionName, entry.Name,
		logAttrDurationMS, toMilliseconds(duration))

	return entry, nil
}

// resolveSchemaVersion reads the currently active schema version: the highest
// completed entry of the schema version table. An empty table means the
// baseline schema.
func (s *Store) resolveSchemaVersion(ctx context.Context) (datastore.SchemaVersion, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(s.schemaVersionTableName).
		Select(goqu.COALESCE(goqu.MAX(colVersion), int(datastore.MinSchemaVersion))).
		Where(goqu.Ex{colStatus: schemaStatusCompleted}).
		ToSQL()
	if toSQLErr != nil {
		s.logError(logMsgBuildQueryFailed, toSQLErr)
		return 0, errors.Join(datastore.ErrDataStoreFailed, toSQLErr)
	}

	rows, queryErr := s.executeQuery(ctx, sqlQuery, operationResolveVersion)
	if queryErr != nil {
		return 0, errors.Join(datastore.ErrDataStoreFailed, queryErr)
	}
	defer s.closeRows(rows)

	version := int(datastore.MinSchemaVersion)

	if rows.Next() {
		if scanErr := rows.Scan(&version); scanErr != nil {
			s.logError(logMsgScanRowFailed, scanErr)
			return 0, errors.Join(datastore.ErrDataStoreFailed, scanErr)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, errors.Join(datastore.ErrDataStoreFailed, rowsErr)
	}

	return datastore.SchemaVersion(version), nil
}

// executeQuery executes the SQL query with timing. The driver error is
// returned unwrapped so callers can classify it.
func (s *Store) executeQuery(ctx context.Context, sqlQuery string, action string) (adapters.DBRows, error) {
	start := time.Now()
	rows, queryErr := s.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		s.logErrorContext(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, queryErr
	}

	return rows, nil
}

// executeExec executes the SQL statement with timing and returns the number
// of affected rows. The driver error is returned unwrapped so callers can
// classify it.
func (s *Store) executeExec(ctx context.Context, sqlQuery string, action string) (int64, error) {
	start := time.Now()
	result, execErr := s.db.Exec(ctx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if execErr != nil {
		s.logErrorContext(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)
		return 0, execErr
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		s.logErrorContext(ctx, logMsgRowsAffectedFailed, rowsAffectedErr)
		return 0, rowsAffectedErr
	}

	return rowsAffected, nil
}

// closeRows safely closes database rows and logs any errors.
func (s *Store) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		s.logWarn(logMsgCloseRowsFailed, closeErr)
	}
}
