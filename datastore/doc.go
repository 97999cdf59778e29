// Package datastore provides the core abstractions for the schema-versioned
// metadata store: schema version tags, store entry types, the domain error
// taxonomy, and the observability interfaces shared by all engine
// implementations.
//
// A deployed fleet is upgraded one node at a time, so old and new code run
// concurrently against a storage schema that is itself mid-upgrade. The types
// in this package encode that contract: each operation is introduced at a
// concrete SchemaVersion, and nodes running against an older schema refuse
// the operation with ErrSchemaUpgradeRequired instead of attempting it.
//
// Key types:
//   - SchemaVersion: ordered tag identifying the structural generation of
//     the persisted schema a code path is designed against
//   - ExtendedQueryTagEntry: a candidate tag definition for bulk registration
//   - PartitionEntry: a logical data partition record
//
// Common usage pattern:
//
//	entry, err := datastore.BuildExtendedQueryTagEntry(
//		"00101002", "SQ", "", datastore.QueryTagLevelStudy, nil)
//	if err != nil {
//		// handle error
//	}
//
//	err = store.AddExtendedQueryTags(ctx, []datastore.ExtendedQueryTagEntry{entry}, 128)
//	switch {
//	case errors.Is(err, datastore.ErrAlreadyExists):
//		// idempotent duplicate, safe to ignore or filter and retry
//	case errors.Is(err, datastore.ErrExceedsMaxAllowedCount):
//		// reduce the batch or raise the limit
//	}
package datastore
