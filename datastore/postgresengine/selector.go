package postgresengine

import (
	"context"

	"github.com/rohankhera/dicom-server/datastore"
)

// TagStore is the versioned contract of the extended query tag family.
type TagStore interface {
	Version() datastore.SchemaVersion
	AddExtendedQueryTags(ctx context.Context, entries []datastore.ExtendedQueryTagEntry, maxAllowedCount int) error
	GetExtendedQueryTags(ctx context.Context) ([]datastore.ExtendedQueryTagStoreEntry, error)
}

// PartitionStore is the versioned contract of the partition family.
type PartitionStore interface {
	Version() datastore.SchemaVersion
	GetPartitions(ctx context.Context) ([]datastore.PartitionEntry, error)
	AddPartition(ctx context.Context, name string) (datastore.PartitionEntry, error)
}

// The version tables below make "what runs at version V" statically
// inspectable: one row per implementation, ascending by the schema version
// that introduced it. Resolution picks the highest row whose version is not
// newer than the active one, so a deployment running a newer schema still
// satisfies contracts written against older versions. Every family has a V1
// baseline, so resolution cannot fail.

type tagStoreVersion struct {
	introduced datastore.SchemaVersion
	build      func(*Store) TagStore
}

type partitionStoreVersion struct {
	introduced datastore.SchemaVersion
	build      func(*Store) PartitionStore
}

var tagStoreVersions = []tagStoreVersion{
	{introduced: datastore.V1, build: func(s *Store) TagStore { return newTagStoreV1(s) }},
	{introduced: datastore.V2, build: func(s *Store) TagStore { return newTagStoreV2(s) }},
	{introduced: datastore.V3, build: func(s *Store) TagStore { return newTagStoreV3(s) }},
}

var partitionStoreVersions = []partitionStoreVersion{
	{introduced: datastore.V1, build: func(s *Store) PartitionStore { return newPartitionStoreV1(s) }},
	{introduced: datastore.V4, build: func(s *Store) PartitionStore { return newPartitionStoreV4(s) }},
}

// resolveTagStore returns the most specific tag store implementation whose
// declared version is not newer than current.
func resolveTagStore(s *Store, current datastore.SchemaVersion) TagStore {
	selected := tagStoreVersions[0]

	for _, candidate := range tagStoreVersions[1:] {
		if candidate.introduced > current {
			break
		}

		selected = candidate
	}

	return selected.build(s)
}

// resolvePartitionStore returns the most specific partition store
// implementation whose declared version is not newer than current.
func resolvePartitionStore(s *Store, current datastore.SchemaVersion) PartitionStore {
	selected := partitionStoreVersions[0]

	for _, candidate := range partitionStoreVersions[1:] {
		if candidate.introduced > current {
			break
		}

		selected = candidate
	}

	return selected.build(s)
}
