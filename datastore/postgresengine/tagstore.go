package postgresengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	jsoniter "github.com/json-iterator/go"

	"github.com/rohankhera/dicom-server/datastore"
)

const (
	colTagKey            = "tag_key"
	colTagPath           = "tag_path"
	colTagVR             = "tag_vr"
	colTagPrivateCreator = "tag_private_creator"
	colTagLevel          = "tag_level"
	colVendorMetadata    = "vendor_metadata"

	cteTagCount       = "tag_count"
	cteTagVals        = "vals"
	aliasCurrentCount = "current_count"
	aliasOrdinal      = "ord"

	tagStatusReady = "ready"

	fnAddExtendedQueryTags = "add_extended_query_tags"
)

// tagRow is the storage-ready normalized form of one entry. The json names
// match the row type expected by the set-based storage function.
type tagRow struct {
	Path           string          `json:"tagPath"`
	VR             string          `json:"tagVR"`
	PrivateCreator string          `json:"tagPrivateCreator"`
	Level          string          `json:"tagLevel"`
	VendorMetadata json.RawMessage `json:"vendorMetadata"`
}

// normalizeTagEntries converts entries into storage-ready rows, preserving
// input order. Order decides which entry receives which generated ordinal.
func normalizeTagEntries(entries []datastore.ExtendedQueryTagEntry) []tagRow {
	rows := make([]tagRow, len(entries))

	for i, entry := range entries {
		metadata := entry.VendorMetadataJSON
		if len(metadata) == 0 {
			metadata = []byte("{}")
		}

		rows[i] = tagRow{
			Path:           entry.Path,
			VR:             entry.VR,
			PrivateCreator: entry.PrivateCreator,
			Level:          string(entry.Level),
			VendorMetadata: metadata,
		}
	}

	return rows
}

// tagStoreV1 is the baseline: the extended query tag table does not exist at
// V1, so every operation is refused until the fleet upgrade completes. This
// is deliberate rolling-upgrade behavior: a node running old schema must not
// attempt operations that require new schema objects.
type tagStoreV1 struct {
	store *Store
}

func newTagStoreV1(s *Store) *tagStoreV1 {
	return &tagStoreV1{store: s}
}

func (t *tagStoreV1) Version() datastore.SchemaVersion {
	return datastore.V1
}

func (t *tagStoreV1) AddExtendedQueryTags(
	_ context.Context,
	_ []datastore.ExtendedQueryTagEntry,
	_ int,
) error {
	return datastore.ErrSchemaUpgradeRequired
}

func (t *tagStoreV1) GetExtendedQueryTags(_ context.Context) ([]datastore.ExtendedQueryTagStoreEntry, error) {
	return nil, datastore.ErrSchemaUpgradeRequired
}

// tagStoreV2 implements the extended query tag operations introduced with the
// V2 schema. The bulk insert is one guarded statement: a count CTE supplies
// the current total and the guard predicate refuses the whole batch when it
// would pass the ceiling, so both invariants are checked atomically with the
// insert itself. Duplicates surface as a unique constraint violation.
type tagStoreV2 struct {
	*tagStoreV1
}

func newTagStoreV2(s *Store) *tagStoreV2 {
	return &tagStoreV2{tagStoreV1: newTagStoreV1(s)}
}

func (t *tagStoreV2) Version() datastore.SchemaVersion {
	return datastore.V2
}

func (t *tagStoreV2) AddExtendedQueryTags(
	ctx context.Context,
	entries []datastore.ExtendedQueryTagEntry,
	maxAllowedCount int,
) error {

	if len(entries) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return errors.Join(datastore.ErrDataStoreFailed, err)
	}

	rows := normalizeTagEntries(entries)

	sqlQuery, buildErr := t.buildGuardedInsertQuery(rows, maxAllowedCount)
	if buildErr != nil {
		return buildErr
	}

	rowsAffected, execErr := t.store.executeExec(ctx, sqlQuery, operationAddTags)
	if execErr != nil {
		return ClassifyEngineError(execErr, maxAllowedCount)
	}

	// The guard predicate rejects the batch as a whole: an affected-rows
	// shortfall means the insert would have passed the ceiling.
	if rowsAffected < int64(len(rows)) {
		return ClassifyConflict(ConflictGuardShortfall, DiscriminatorCountExceeded, maxAllowedCount, nil)
	}

	return nil
}

// buildGuardedInsertQuery builds the single atomic insert for the batch: the
// candidate rows as a UNION ALL values CTE, the current total as a count CTE,
// and the ceiling as the guard predicate on the final select.
func (t *tagStoreV2) buildGuardedInsertQuery(rows []tagRow, maxAllowedCount int) (string, error) {
	builder := goqu.Dialect(dialectPostgres)

	countStmt := builder.
		From(t.store.tagTableName).
		Select(goqu.COUNT(goqu.Star()).As(aliasCurrentCount))

	valueStatements := make([]*goqu.SelectDataset, len(rows))
	for i, row := range rows {
		valueStatements[i] = builder.
			Select(
				goqu.L(castInt, i).As(aliasOrdinal),
				goqu.L(castText, row.Path).As(colTagPath),
				goqu.L(castText, row.VR).As(colTagVR),
				goqu.L(castText, row.PrivateCreator).As(colTagPrivateCreator),
				goqu.L(castText, row.Level).As(colTagLevel),
				goqu.L(castJsonb, string(row.VendorMetadata)).As(colVendorMetadata),
			)
	}

	valuesStmt := valueStatements[0]
	for i := 1; i < len(valueStatements); i++ {
		valuesStmt = valuesStmt.UnionAll(valueStatements[i])
	}

	valsPath := fmt.Sprintf("%s.%s", cteTagVals, colTagPath)
	valsVR := fmt.Sprintf("%s.%s", cteTagVals, colTagVR)
	valsPrivateCreator := fmt.Sprintf("%s.%s", cteTagVals, colTagPrivateCreator)
	valsLevel := fmt.Sprintf("%s.%s", cteTagVals, colTagLevel)
	valsMetadata := fmt.Sprintf("%s.%s", cteTagVals, colVendorMetadata)
	valsOrdinal := fmt.Sprintf("%s.%s", cteTagVals, aliasOrdinal)

	insertStmt := builder.
		Insert(t.store.tagTableName).
		Cols(colTagPath, colTagVR, colTagPrivateCreator, colTagLevel, colVendorMetadata).
		With(cteTagCount, countStmt).
		With(cteTagVals, valuesStmt).
		FromQuery(
			builder.From(cteTagCount, cteTagVals).
				Select(valsPath, valsVR, valsPrivateCreator, valsLevel, valsMetadata).
				Where(goqu.C(aliasCurrentCount).Lte(goqu.V(maxAllowedCount - len(rows)))).
				Order(goqu.I(valsOrdinal).Asc()),
		)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		t.store.logError(logMsgBuildQueryFailed, toSQLErr, logAttrTagCount, len(rows))
		return "", errors.Join(datastore.ErrDataStoreFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (t *tagStoreV2) GetExtendedQueryTags(ctx context.Context) ([]datastore.ExtendedQueryTagStoreEntry, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(t.store.tagTableName).
		Select(colTagKey, colTagPath, colTagVR, colTagPrivateCreator, colTagLevel, colVendorMetadata).
		Order(goqu.I(colTagKey).Asc()).
		ToSQL()
	if toSQLErr != nil {
		t.store.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, errors.Join(datastore.ErrDataStoreFailed, toSQLErr)
	}

	rows, queryErr := t.store.executeQuery(ctx, sqlQuery, operationGetTags)
	if queryErr != nil {
		return nil, ClassifyEngineError(queryErr, 0)
	}
	defer t.store.closeRows(rows)

	tags := make([]datastore.ExtendedQueryTagStoreEntry, 0)

	for rows.Next() {
		var (
			key            int64
			path           string
			vr             string
			privateCreator string
			level          string
			metadata       []byte
		)

		if scanErr := rows.Scan(&key, &path, &vr, &privateCreator, &level, &metadata); scanErr != nil {
			t.store.logError(logMsgScanRowFailed, scanErr)
			return nil, errors.Join(datastore.ErrDataStoreFailed, scanErr)
		}

		tags = append(tags, datastore.ExtendedQueryTagStoreEntry{
			Key: key,
			Entry: datastore.ExtendedQueryTagEntry{
				Path:               path,
				VR:                 vr,
				PrivateCreator:     privateCreator,
				Level:              datastore.QueryTagLevel(level),
				VendorMetadataJSON: metadata,
			},
			// The status column only exists from V3 on; everything persisted
			// under V2 is ready by definition.
			Status: tagStatusReady,
		})
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Join(datastore.ErrDataStoreFailed, rowsErr)
	}

	return tags, nil
}

// tagStoreV3 re-optimizes the bulk insert with the set-based storage function
// introduced by the V3 schema: one round trip, both invariants enforced by
// named constraints, and the tag status column maintained server-side. Reads
// are inherited from V2 unchanged.
type tagStoreV3 struct {
	*tagStoreV2
}

func newTagStoreV3(s *Store) *tagStoreV3 {
	return &tagStoreV3{tagStoreV2: newTagStoreV2(s)}
}

func (t *tagStoreV3) Version() datastore.SchemaVersion {
	return datastore.V3
}

func (t *tagStoreV3) AddExtendedQueryTags(
	ctx context.Context,
	entries []datastore.ExtendedQueryTagEntry,
	maxAllowedCount int,
) error {

	if len(entries) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return errors.Join(datastore.ErrDataStoreFailed, err)
	}

	rows := normalizeTagEntries(entries)

	payload, marshalErr := jsoniter.ConfigFastest.Marshal(rows)
	if marshalErr != nil {
		return errors.Join(datastore.ErrDataStoreFailed, marshalErr)
	}

	sqlQuery, buildErr := t.buildStorageFunctionQuery(payload, maxAllowedCount)
	if buildErr != nil {
		return buildErr
	}

	if _, execErr := t.store.executeExec(ctx, sqlQuery, operationAddTags); execErr != nil {
		return ClassifyEngineError(execErr, maxAllowedCount)
	}

	return nil
}

func (t *tagStoreV3) buildStorageFunctionQuery(payload []byte, maxAllowedCount int) (string, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Select(goqu.L(fnAddExtendedQueryTags+"(?::jsonb, ?::int)", string(payload), maxAllowedCount)).
		ToSQL()
	if toSQLErr != nil {
		t.store.logError(logMsgBuildQueryFailed, toSQLErr)
		return "", errors.Join(datastore.ErrDataStoreFailed, toSQLErr)
	}

	return sqlQuery, nil
}
