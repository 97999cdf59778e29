package postgresengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankhera/dicom-server/datastore"
	"github.com/rohankhera/dicom-server/datastore/postgresengine/internal/adapters"
)

// fakeDB is an in-memory DBAdapter that records every statement and replays
// canned results, so version gating and conflict classification are testable
// without a database.
type fakeDB struct {
	queries []string
	execs   []string

	queryRows *fakeRows
	queryErr  error

	execRowsAffected int64
	execErr          error
}

func (f *fakeDB) Query(_ context.Context, query string) (adapters.DBRows, error) {
	f.queries = append(f.queries, query)

	if f.queryErr != nil {
		return nil, f.queryErr
	}

	if f.queryRows == nil {
		return &fakeRows{}, nil
	}

	return f.queryRows, nil
}

func (f *fakeDB) Exec(_ context.Context, query string) (adapters.DBResult, error) {
	f.execs = append(f.execs, query)

	if f.execErr != nil {
		return nil, f.execErr
	}

	return fakeResult{rowsAffected: f.execRowsAffected}, nil
}

type fakeRows struct {
	data    [][]any
	idx     int
	rowsErr error
	scanErr error
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}

	r.idx++

	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}

	row := r.data[r.idx-1]

	for i, d := range dest {
		switch v := d.(type) {
		case *int:
			*v = row[i].(int)
		case *int64:
			*v = row[i].(int64)
		case *string:
			*v = row[i].(string)
		case *[]byte:
			*v = row[i].([]byte)
		case *time.Time:
			*v = row[i].(time.Time)
		default:
			return fmt.Errorf("unsupported scan destination %T", d)
		}
	}

	return nil
}

func (r *fakeRows) Err() error {
	return r.rowsErr
}

func (r *fakeRows) Close() error {
	return nil
}

type fakeResult struct {
	rowsAffected int64
}

func (r fakeResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

func givenStoreAtVersion(t *testing.T, db *fakeDB, version datastore.SchemaVersion, extra ...Option) *Store {
	t.Helper()

	options := append([]Option{WithSchemaVersion(version)}, extra...)

	store, err := newStore(context.Background(), db, options)
	require.NoError(t, err, "creating the store failed in test setup")

	return store
}

func givenTagEntries(t *testing.T, count int) []datastore.ExtendedQueryTagEntry {
	t.Helper()

	entries := make([]datastore.ExtendedQueryTagEntry, count)

	for i := range entries {
		entry, err := datastore.BuildExtendedQueryTagEntry(
			fmt.Sprintf("0401%04d", i),
			"SS",
			"",
			datastore.QueryTagLevelInstance,
			nil,
		)
		require.NoError(t, err, "building a tag entry failed in test setup")

		entries[i] = entry
	}

	return entries
}

func givenUniquePartitionName(t *testing.T) string {
	t.Helper()

	return "partition-" + uuid.NewString()
}

func Test_VersionSelection_PicksTheClosestImplementationNotNewerThanTheSchema(t *testing.T) {
	tests := []struct {
		name                     string
		schemaVersion            datastore.SchemaVersion
		expectedTagVersion       datastore.SchemaVersion
		expectedPartitionVersion datastore.SchemaVersion
	}{
		{
			name:                     "baseline_schema",
			schemaVersion:            datastore.V1,
			expectedTagVersion:       datastore.V1,
			expectedPartitionVersion: datastore.V1,
		},
		{
			name:                     "tags_introduced",
			schemaVersion:            datastore.V2,
			expectedTagVersion:       datastore.V2,
			expectedPartitionVersion: datastore.V1,
		},
		{
			name:                     "tags_reoptimized",
			schemaVersion:            datastore.V3,
			expectedTagVersion:       datastore.V3,
			expectedPartitionVersion: datastore.V1,
		},
		{
			name:                     "partitions_introduced",
			schemaVersion:            datastore.V4,
			expectedTagVersion:       datastore.V3,
			expectedPartitionVersion: datastore.V4,
		},
		{
			name:                     "schema_newer_than_this_code",
			schemaVersion:            datastore.LatestSchemaVersion + 2,
			expectedTagVersion:       datastore.V3,
			expectedPartitionVersion: datastore.V4,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := givenStoreAtVersion(t, &fakeDB{}, tc.schemaVersion)

			assert.Equal(t, tc.schemaVersion, store.SchemaVersion())
			assert.Equal(t, tc.expectedTagVersion, store.tags.Version())
			assert.Equal(t, tc.expectedPartitionVersion, store.partitions.Version())
		})
	}
}

func Test_StoreConstruction_When_VersionIsResolvedFromTheDatabase(t *testing.T) {
	// arrange
	db := &fakeDB{queryRows: &fakeRows{data: [][]any{{3}}}}

	// act
	store, err := newStore(context.Background(), db, nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, datastore.V3, store.SchemaVersion())
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], `"schema_version"`)
	assert.Contains(t, db.queries[0], "completed")
}

func Test_StoreConstruction_When_TheSchemaVersionTableIsEmpty(t *testing.T) {
	// COALESCE makes the empty table read back as the baseline version; the
	// fake replays what the engine would return.
	db := &fakeDB{queryRows: &fakeRows{data: [][]any{{int(datastore.MinSchemaVersion)}}}}

	store, err := newStore(context.Background(), db, nil)

	require.NoError(t, err)
	assert.Equal(t, datastore.MinSchemaVersion, store.SchemaVersion())
}

func Test_StoreConstruction_When_TheVersionQueryFails(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("dial tcp: connection refused")}

	_, err := newStore(context.Background(), db, nil)

	assert.ErrorIs(t, err, datastore.ErrDataStoreFailed)
}

func Test_StoreConstruction_When_OptionsAreInvalid(t *testing.T) {
	tests := []struct {
		name        string
		option      Option
		expectedErr error
	}{
		{name: "empty_tag_table_name", option: WithTagTableName(""), expectedErr: datastore.ErrEmptyTableName},
		{name: "empty_partition_table_name", option: WithPartitionTableName(""), expectedErr: datastore.ErrEmptyTableName},
		{name: "empty_schema_version_table_name", option: WithSchemaVersionTableName(""), expectedErr: datastore.ErrEmptyTableName},
		{name: "invalid_pinned_version", option: WithSchemaVersion(0), expectedErr: datastore.ErrInvalidSchemaVersion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newStore(context.Background(), &fakeDB{}, []Option{tc.option})

			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func Test_NewStoreFromPGXPool_When_ConnectionIsNil(t *testing.T) {
	_, err := NewStoreFromPGXPool(context.Background(), nil)

	assert.ErrorIs(t, err, datastore.ErrNilDatabaseConnection)
}

func Test_NewStoreFromSQLDB_When_ConnectionIsNil(t *testing.T) {
	_, err := NewStoreFromSQLDB(context.Background(), nil)

	assert.ErrorIs(t, err, datastore.ErrNilDatabaseConnection)
}

func Test_NewStoreFromSQLX_When_ConnectionIsNil(t *testing.T) {
	_, err := NewStoreFromSQLX(context.Background(), nil)

	assert.ErrorIs(t, err, datastore.ErrNilDatabaseConnection)
}

func Test_AddExtendedQueryTags_When_TheSchemaIsBaseline(t *testing.T) {
	// arrange
	db := &fakeDB{}
	store := givenStoreAtVersion(t, db, datastore.V1)

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 2), 10)

	// assert
	assert.ErrorIs(t, err, datastore.ErrSchemaUpgradeRequired)
	assert.Empty(t, db.execs, "no statement must reach the engine")
}

func Test_GetExtendedQueryTags_When_TheSchemaIsBaseline(t *testing.T) {
	store := givenStoreAtVersion(t, &fakeDB{}, datastore.V1)

	_, err := store.GetExtendedQueryTags(context.Background())

	assert.ErrorIs(t, err, datastore.ErrSchemaUpgradeRequired)
}

func Test_AddExtendedQueryTags_When_TheBatchIsEmpty(t *testing.T) {
	db := &fakeDB{}
	store := givenStoreAtVersion(t, db, datastore.V2)

	err := store.AddExtendedQueryTags(context.Background(), nil, 10)

	assert.NoError(t, err)
	assert.Empty(t, db.execs, "an empty batch must not reach the engine")
}

func Test_AddExtendedQueryTags_When_TheGuardAcceptsTheBatch(t *testing.T) {
	// arrange
	entries := givenTagEntries(t, 3)
	db := &fakeDB{execRowsAffected: int64(len(entries))}
	store := givenStoreAtVersion(t, db, datastore.V2)

	// act
	err := store.AddExtendedQueryTags(context.Background(), entries, 10)

	// assert
	assert.NoError(t, err)
	require.Len(t, db.execs, 1, "the batch must be one atomic statement")
	assert.Contains(t, db.execs[0], `WITH`)
	assert.Contains(t, db.execs[0], `"extended_query_tag"`)
	assert.Contains(t, db.execs[0], `UNION ALL`)
}

func Test_AddExtendedQueryTags_When_TheGuardRejectsTheBatch(t *testing.T) {
	// arrange
	entries := givenTagEntries(t, 3)
	db := &fakeDB{execRowsAffected: 0}
	store := givenStoreAtVersion(t, db, datastore.V2)

	// act
	err := store.AddExtendedQueryTags(context.Background(), entries, 10)

	// assert
	assert.ErrorIs(t, err, datastore.ErrExceedsMaxAllowedCount)

	var exceedsErr datastore.ExceedsMaxCountError
	require.ErrorAs(t, err, &exceedsErr)
	assert.Equal(t, 10, exceedsErr.MaxAllowedCount)
}

func Test_AddExtendedQueryTags_When_TheBatchFillsTheStoreExactlyToTheCeiling(t *testing.T) {
	// The guard predicate is current_count <= max - batch, so a batch that
	// lands exactly on the ceiling is still accepted in full.
	entries := givenTagEntries(t, 4)
	db := &fakeDB{execRowsAffected: int64(len(entries))}
	store := givenStoreAtVersion(t, db, datastore.V2)

	err := store.AddExtendedQueryTags(context.Background(), entries, 4)

	assert.NoError(t, err)
}

func Test_AddExtendedQueryTags_When_TheBatchAloneIsLargerThanTheCeiling(t *testing.T) {
	// The guard predicate cannot hold for any current count, so the engine
	// inserts nothing and the shortfall classifies as exceeding the ceiling.
	entries := givenTagEntries(t, 5)
	db := &fakeDB{execRowsAffected: 0}
	store := givenStoreAtVersion(t, db, datastore.V2)

	err := store.AddExtendedQueryTags(context.Background(), entries, 3)

	assert.ErrorIs(t, err, datastore.ErrExceedsMaxAllowedCount)
}

func Test_AddExtendedQueryTags_When_ADuplicateTagPathExists(t *testing.T) {
	// arrange
	db := &fakeDB{execErr: &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "extended_query_tag_path_key",
	}}
	store := givenStoreAtVersion(t, db, datastore.V2)

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 1), 10)

	// assert
	assert.ErrorIs(t, err, datastore.ErrAlreadyExists)
}

func Test_AddExtendedQueryTags_When_TheContextIsAlreadyCancelled(t *testing.T) {
	// arrange
	db := &fakeDB{}
	store := givenStoreAtVersion(t, db, datastore.V2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// act
	err := store.AddExtendedQueryTags(ctx, givenTagEntries(t, 1), 10)

	// assert
	assert.ErrorIs(t, err, datastore.ErrDataStoreFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, db.execs)
}

func Test_AddExtendedQueryTags_When_TheSchemaHasTheStorageFunction(t *testing.T) {
	// arrange
	db := &fakeDB{execRowsAffected: 1}
	store := givenStoreAtVersion(t, db, datastore.V3)

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 2), 10)

	// assert
	assert.NoError(t, err)
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0], "add_extended_query_tags(")
	assert.Contains(t, db.execs[0], "::jsonb")
	assert.Contains(t, db.execs[0], "tagPath")
	assert.NotContains(t, db.execs[0], "UNION ALL", "the set-based insert replaces the client-built batch")
}

func Test_AddExtendedQueryTags_When_TheStorageFunctionReportsTheCountGuard(t *testing.T) {
	// arrange
	db := &fakeDB{execErr: &pgconn.PgError{
		Code:           "23514",
		ConstraintName: "extended_query_tag_count_guard",
	}}
	store := givenStoreAtVersion(t, db, datastore.V3)

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 2), 10)

	// assert
	var exceedsErr datastore.ExceedsMaxCountError
	require.ErrorAs(t, err, &exceedsErr)
	assert.Equal(t, 10, exceedsErr.MaxAllowedCount)
}

func Test_AddExtendedQueryTags_When_ResubmittingACommittedBatch(t *testing.T) {
	// A commit whose acknowledgment was lost surfaces as a duplicate on
	// resubmission; the caller treats that as confirmation, not as a fault.
	db := &fakeDB{execErr: &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "extended_query_tag_path_key",
	}}
	store := givenStoreAtVersion(t, db, datastore.V3)

	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 2), 10)

	assert.ErrorIs(t, err, datastore.ErrAlreadyExists)
	assert.NotErrorIs(t, err, datastore.ErrDataStoreFailed)
}

func Test_GetExtendedQueryTags_When_TagsExist(t *testing.T) {
	// arrange
	db := &fakeDB{queryRows: &fakeRows{data: [][]any{
		{int64(1), "04011001", "SS", "", "instance", []byte(`{}`)},
		{int64(2), "00101010", "AS", "creator", "study", []byte(`{"vendor":"acme"}`)},
	}}}
	store := givenStoreAtVersion(t, db, datastore.V2)

	// act
	tags, err := store.GetExtendedQueryTags(context.Background())

	// assert
	require.NoError(t, err)
	require.Len(t, tags, 2)

	assert.Equal(t, int64(1), tags[0].Key)
	assert.Equal(t, "04011001", tags[0].Entry.Path)
	assert.Equal(t, datastore.QueryTagLevelInstance, tags[0].Entry.Level)
	assert.Equal(t, "ready", tags[0].Status)

	assert.Equal(t, int64(2), tags[1].Key)
	assert.Equal(t, "creator", tags[1].Entry.PrivateCreator)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], `ORDER BY "tag_key" ASC`)
}

func Test_GetExtendedQueryTags_When_NoTagsAreRegistered(t *testing.T) {
	store := givenStoreAtVersion(t, &fakeDB{}, datastore.V2)

	tags, err := store.GetExtendedQueryTags(context.Background())

	assert.NoError(t, err)
	assert.NotNil(t, tags)
	assert.Empty(t, tags)
}

func Test_GetPartitions_When_TheSchemaPredatesPartitions(t *testing.T) {
	for _, version := range []datastore.SchemaVersion{datastore.V1, datastore.V2, datastore.V3} {
		t.Run(version.String(), func(t *testing.T) {
			db := &fakeDB{}
			store := givenStoreAtVersion(t, db, version)

			_, err := store.GetPartitions(context.Background())

			assert.ErrorIs(t, err, datastore.ErrSchemaUpgradeRequired)
			assert.Empty(t, db.queries)
		})
	}
}

func Test_AddPartition_When_TheSchemaPredatesPartitions(t *testing.T) {
	store := givenStoreAtVersion(t, &fakeDB{}, datastore.V3)

	_, err := store.AddPartition(context.Background(), "clinic-a")

	assert.ErrorIs(t, err, datastore.ErrSchemaUpgradeRequired)
}

func Test_GetPartitions_When_PartitionsExist(t *testing.T) {
	// arrange
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{queryRows: &fakeRows{data: [][]any{
		{int64(1), datastore.DefaultPartitionName, createdAt},
		{int64(2), "clinic-a", createdAt.Add(time.Hour)},
	}}}
	store := givenStoreAtVersion(t, db, datastore.V4)

	// act
	partitions, err := store.GetPartitions(context.Background())

	// assert
	require.NoError(t, err)
	require.Len(t, partitions, 2)
	assert.Equal(t, datastore.DefaultPartitionName, partitions[0].Name)
	assert.Equal(t, int64(2), partitions[1].Key)
	assert.Equal(t, createdAt.Add(time.Hour), partitions[1].CreatedAt)
}

func Test_AddPartition_When_TheNameIsNew(t *testing.T) {
	// arrange
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{queryRows: &fakeRows{data: [][]any{{int64(7), createdAt}}}}
	store := givenStoreAtVersion(t, db, datastore.V4)
	partitionName := givenUniquePartitionName(t)

	// act
	entry, err := store.AddPartition(context.Background(), partitionName)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Key)
	assert.Equal(t, partitionName, entry.Name)
	assert.Equal(t, createdAt, entry.CreatedAt)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], `INSERT INTO "partition"`)
	assert.Contains(t, db.queries[0], "RETURNING")
}

func Test_AddPartition_When_TheNameAlreadyExists(t *testing.T) {
	// pgx reports the violation through the row set, not through Query.
	db := &fakeDB{queryRows: &fakeRows{rowsErr: &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "partition_partition_name_key",
	}}}
	store := givenStoreAtVersion(t, db, datastore.V4)

	_, err := store.AddPartition(context.Background(), "clinic-a")

	assert.ErrorIs(t, err, datastore.ErrAlreadyExists)
}

func Test_AddPartition_When_TheNameIsEmpty(t *testing.T) {
	db := &fakeDB{}
	store := givenStoreAtVersion(t, db, datastore.V4)

	_, err := store.AddPartition(context.Background(), "")

	assert.ErrorIs(t, err, datastore.ErrEmptyPartitionName)
	assert.Empty(t, db.queries)
}

func Test_TableNameOptions_FlowIntoTheGeneratedSQL(t *testing.T) {
	// arrange
	db := &fakeDB{execRowsAffected: 1}
	store := givenStoreAtVersion(t, db, datastore.V2,
		WithTagTableName("tenant_extended_query_tag"))

	// act
	err := store.AddExtendedQueryTags(context.Background(), givenTagEntries(t, 1), 10)

	// assert
	require.NoError(t, err)
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0], `"tenant_extended_query_tag"`)
	assert.False(t, strings.Contains(db.execs[0], `"extended_query_tag"`),
		"the default table name must not appear")
}

func Test_GuardedInsert_PreservesInputOrder(t *testing.T) {
	// arrange
	entries := givenTagEntries(t, 3)
	db := &fakeDB{execRowsAffected: int64(len(entries))}
	store := givenStoreAtVersion(t, db, datastore.V2)

	// act
	err := store.AddExtendedQueryTags(context.Background(), entries, 10)

	// assert
	require.NoError(t, err)
	require.Len(t, db.execs, 1)

	first := strings.Index(db.execs[0], entries[0].Path)
	second := strings.Index(db.execs[0], entries[1].Path)
	third := strings.Index(db.execs[0], entries[2].Path)
	assert.True(t, first >= 0 && first < second && second < third,
		"candidate rows must appear in submission order")
	assert.Contains(t, db.execs[0], `ORDER BY "vals"."ord" ASC`)
}
