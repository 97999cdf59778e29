package postgresengine

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"

	"github.com/rohankhera/dicom-server/datastore"
)

const (
	colPartitionKey  = "partition_key"
	colPartitionName = "partition_name"
	colCreatedAt     = "created_at"
)

var errNoReturningRow = errors.New("insert returned no row")

// partitionStoreV1 is the baseline: partitions do not exist in storage before
// V4. The rejections below are deliberate, permanent stubs for this version,
// not bugs; they are the documented behavior of a node running against a
// database that has not been upgraded yet.
type partitionStoreV1 struct {
	store *Store
}

func newPartitionStoreV1(s *Store) *partitionStoreV1 {
	return &partitionStoreV1{store: s}
}

func (p *partitionStoreV1) Version() datastore.SchemaVersion {
	return datastore.V1
}

func (p *partitionStoreV1) GetPartitions(_ context.Context) ([]datastore.PartitionEntry, error) {
	return nil, datastore.ErrSchemaUpgradeRequired
}

func (p *partitionStoreV1) AddPartition(_ context.Context, _ string) (datastore.PartitionEntry, error) {
	return datastore.PartitionEntry{}, datastore.ErrSchemaUpgradeRequired
}

// partitionStoreV4 performs the real partition reads and writes against the
// partition table introduced by the V4 schema.
type partitionStoreV4 struct {
	*partitionStoreV1
}

func newPartitionStoreV4(s *Store) *partitionStoreV4 {
	return &partitionStoreV4{partitionStoreV1: newPartitionStoreV1(s)}
}

func (p *partitionStoreV4) Version() datastore.SchemaVersion {
	return datastore.V4
}

func (p *partitionStoreV4) GetPartitions(ctx context.Context) ([]datastore.PartitionEntry, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(p.store.partitionTableName).
		Select(colPartitionKey, colPartitionName, colCreatedAt).
		Order(goqu.I(colPartitionKey).Asc()).
		ToSQL()
	if toSQLErr != nil {
		p.store.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, errors.Join(datastore.ErrDataStoreFailed, toSQLErr)
	}

	rows, queryErr := p.store.executeQuery(ctx, sqlQuery, operationGetPartitions)
	if queryErr != nil {
		return nil, ClassifyEngineError(queryErr, 0)
	}
	defer p.store.closeRows(rows)

	partitions := make([]datastore.PartitionEntry, 0)

	for rows.Next() {
		var entry datastore.PartitionEntry

		if scanErr := rows.Scan(&entry.Key, &entry.Name, &entry.CreatedAt); scanErr != nil {
			p.store.logError(logMsgScanRowFailed, scanErr)
			return nil, errors.Join(datastore.ErrDataStoreFailed, scanErr)
		}

		partitions = append(partitions, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Join(datastore.ErrDataStoreFailed, rowsErr)
	}

	return partitions, nil
}

func (p *partitionStoreV4) AddPartition(ctx context.Context, name string) (datastore.PartitionEntry, error) {
	var empty datastore.PartitionEntry

	if name == "" {
		return empty, datastore.ErrEmptyPartitionName
	}

	if err := ctx.Err(); err != nil {
		return empty, errors.Join(datastore.ErrDataStoreFailed, err)
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Insert(p.store.partitionTableName).
		Rows(goqu.Record{colPartitionName: name}).
		Returning(colPartitionKey, colCreatedAt).
		ToSQL()
	if toSQLErr != nil {
		p.store.logError(logMsgBuildQueryFailed, toSQLErr)
		return empty, errors.Join(datastore.ErrDataStoreFailed, toSQLErr)
	}

	rows, queryErr := p.store.executeQuery(ctx, sqlQuery, operationAddPartition)
	if queryErr != nil {
		return empty, ClassifyEngineError(queryErr, 0)
	}
	defer p.store.closeRows(rows)

	entry := datastore.PartitionEntry{Name: name}

	if !rows.Next() {
		// pgx surfaces a constraint violation on INSERT .. RETURNING through
		// rows.Err after the first Next, not through Query itself.
		if rowsErr := rows.Err(); rowsErr != nil {
			return empty, ClassifyEngineError(rowsErr, 0)
		}

		return empty, errors.Join(datastore.ErrDataStoreFailed, errNoReturningRow)
	}

	if scanErr := rows.Scan(&entry.Key, &entry.CreatedAt); scanErr != nil {
		p.store.logError(logMsgScanRowFailed, scanErr)
		return empty, ClassifyEngineError(scanErr, 0)
	}

	return entry, nil
}
