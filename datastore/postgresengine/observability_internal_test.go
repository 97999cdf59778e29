package postgresengine

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankhera/dicom-server/datastore"
	"github.com/rohankhera/dicom-server/testutil/testdoubles"
)

func Test_Observability_When_AnOperationSucceeds(t *testing.T) {
	// arrange
	logger := testdoubles.NewContextualLoggerSpy()
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()

	db := &fakeDB{execRowsAffected: 2}
	store := givenStoreAtVersion(t, db, datastore.V2,
		WithContextualLogger(logger),
		WithMetrics(metrics),
		WithTracing(tracing))

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 2), 10)

	// assert
	require.NoError(t, err)

	assert.True(t, metrics.
		HasDurationRecordForMetric("datastore_operation_duration").
		WithOperation("add_extended_query_tags").
		WithStatus("success").
		Assert())
	assert.False(t, metrics.HasCounterRecord("datastore_conflicts"))
	assert.False(t, metrics.HasCounterRecord("datastore_errors"))

	assert.True(t, tracing.
		HasSpanRecordForName("datastore.add_extended_query_tags").
		WithStatus("success").
		WithStartAttribute("operation", "add_extended_query_tags").
		WithStartAttribute("tag_count", "2").
		Assert())

	assert.True(t, logger.HasInfoLog("extended query tags added"))
	assert.True(t, logger.HasDebugLog("executed sql for: add_extended_query_tags"))
}

func Test_Observability_When_AConflictIsClassified(t *testing.T) {
	// arrange
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()

	db := &fakeDB{execErr: &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "extended_query_tag_path_key",
	}}
	store := givenStoreAtVersion(t, db, datastore.V2,
		WithMetrics(metrics),
		WithTracing(tracing))

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 1), 10)

	// assert
	require.ErrorIs(t, err, datastore.ErrAlreadyExists)

	assert.True(t, metrics.
		HasDurationRecordForMetric("datastore_operation_duration").
		WithOperation("add_extended_query_tags").
		WithStatus("conflict").
		Assert())
	assert.True(t, metrics.
		HasCounterRecordForMetric("datastore_conflicts").
		WithErrorType("already_exists").
		Assert())

	assert.True(t, tracing.
		HasSpanRecordForName("datastore.add_extended_query_tags").
		WithStatus("conflict").
		WithEndAttribute("error_type", "already_exists").
		Assert())
}

func Test_Observability_When_TheCeilingIsExceeded(t *testing.T) {
	// arrange
	metrics := testdoubles.NewMetricsCollectorSpy()

	db := &fakeDB{execRowsAffected: 0}
	store := givenStoreAtVersion(t, db, datastore.V2, WithMetrics(metrics))

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 3), 10)

	// assert
	require.ErrorIs(t, err, datastore.ErrExceedsMaxAllowedCount)

	assert.True(t, metrics.
		HasCounterRecordForMetric("datastore_conflicts").
		WithErrorType("exceeds_max_allowed_count").
		Assert())
}

func Test_Observability_When_TheSchemaDoesNotSupportTheOperation(t *testing.T) {
	// arrange
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()

	store := givenStoreAtVersion(t, &fakeDB{}, datastore.V2,
		WithMetrics(metrics),
		WithTracing(tracing))

	// act
	_, err := store.GetPartitions(context.Background())

	// assert
	require.ErrorIs(t, err, datastore.ErrSchemaUpgradeRequired)

	assert.True(t, metrics.
		HasDurationRecordForMetric("datastore_operation_duration").
		WithOperation("get_partitions").
		WithStatus("schema_upgrade_required").
		Assert())
	assert.True(t, metrics.
		HasCounterRecordForMetric("datastore_schema_upgrade_required").
		WithOperation("get_partitions").
		Assert())

	assert.True(t, tracing.
		HasSpanRecordForName("datastore.get_partitions").
		WithStatus("schema_upgrade_required").
		Assert())
}

func Test_Observability_When_TheEngineFails(t *testing.T) {
	// arrange
	metrics := testdoubles.NewMetricsCollectorSpy()
	logger := testdoubles.NewContextualLoggerSpy()

	db := &fakeDB{queryErr: assertableConnError{}}
	store := givenStoreAtVersion(t, db, datastore.V2,
		WithContextualLogger(logger),
		WithMetrics(metrics))

	// act
	_, err := store.GetExtendedQueryTags(context.Background())

	// assert
	require.ErrorIs(t, err, datastore.ErrDataStoreFailed)

	assert.True(t, metrics.
		HasDurationRecordForMetric("datastore_operation_duration").
		WithStatus("error").
		Assert())
	assert.True(t, metrics.
		HasCounterRecordForMetric("datastore_errors").
		WithErrorType("data_store_failure").
		Assert())

	assert.True(t, logger.HasErrorLog("database query execution failed"))
	assert.True(t, logger.HasErrorLog("datastore operation failed: get_extended_query_tags"))
}

func Test_Observability_When_NoCollectorsAreConfigured(t *testing.T) {
	// All observability hooks are nil-safe; nothing here may panic.
	db := &fakeDB{execRowsAffected: 1}
	store := givenStoreAtVersion(t, db, datastore.V2)

	assert.NoError(t, store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 1), 10))
}

type assertableConnError struct{}

func (assertableConnError) Error() string {
	return "dial tcp 127.0.0.1:5432: connection refused"
}
