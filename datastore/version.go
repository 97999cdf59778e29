package datastore

import "fmt"

// SchemaVersion identifies the structural generation of the persisted storage
// schema that a given code path is designed against. Versions are totally
// ordered and monotonically increasing; exactly one version is current for
// the lifetime of a serving process, resolved once at store construction and
// never mutated afterwards.
type SchemaVersion int

const (
	// V1 is the baseline schema. Extended query tags and partitions do not
	// exist yet; operations on them are refused with ErrSchemaUpgradeRequired.
	V1 SchemaVersion = iota + 1

	// V2 introduces the extended query tag table.
	V2

	// V3 re-optimizes bulk tag registration with a server-side set-based
	// insert and adds the tag status column.
	V3

	// V4 introduces data partitions.
	V4
)

// MinSchemaVersion is the oldest schema version this code can serve.
const MinSchemaVersion = V1

// LatestSchemaVersion is the newest schema version this code knows about.
const LatestSchemaVersion = V4

// Valid reports whether v is a schema version this code can serve.
// Versions newer than LatestSchemaVersion are valid targets for the version
// selector: a node running old code against an already-upgraded schema still
// serves the operations it knows about (backward compatibility by construction).
func (v SchemaVersion) Valid() bool {
	return v >= MinSchemaVersion
}

// Supports reports whether v satisfies code that requires at least the given
// version.
func (v SchemaVersion) Supports(required SchemaVersion) bool {
	return v >= required
}

func (v SchemaVersion) String() string {
	return fmt.Sprintf("V%d", int(v))
}
