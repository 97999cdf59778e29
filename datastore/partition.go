package datastore

import (
	"errors"
	"time"
)

// ErrEmptyPartitionName is returned when a partition is added without a name.
var ErrEmptyPartitionName = errors.New("partition name must not be empty")

// DefaultPartitionName is the name of the implicit partition every upgraded
// schema starts with.
const DefaultPartitionName = "default"

// PartitionEntry is a logical data partition record. Partitions only exist
// from the schema version that introduces them; against older schemas every
// partition operation fails with ErrSchemaUpgradeRequired.
type PartitionEntry struct {
	Key       int64
	Name      string
	CreatedAt time.Time
}
