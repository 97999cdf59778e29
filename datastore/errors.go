package datastore

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when one or more entries in a batch collide
	// with entries that are already registered. Callers may treat this as
	// idempotent duplicate detection: filter the colliding entries and retry,
	// or ignore the error entirely.
	ErrAlreadyExists = errors.New("one or more entries already exist in the data store")

	// ErrSchemaUpgradeRequired is returned when an operation is invoked
	// against a schema version that does not support it yet. It is the
	// documented behavior of a node serving mid-rollout, not a fault; callers
	// retry after the fleet upgrade completes.
	ErrSchemaUpgradeRequired = errors.New("the current data store schema version does not support this operation")

	// ErrExceedsMaxAllowedCount is the sentinel wrapped by ExceedsMaxCountError.
	ErrExceedsMaxAllowedCount = errors.New("adding the entries would exceed the maximum allowed count")

	// ErrDataStoreFailed wraps any engine-level fault that is not part of the
	// conflict taxonomy: connectivity, timeouts, unrecognized error codes.
	// The original cause is always joined in for diagnostics.
	ErrDataStoreFailed = errors.New("data store operation failed")

	// ErrNilDatabaseConnection is returned by store constructors when the
	// supplied connection handle is nil.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName is returned when a store option supplies an empty table name.
	ErrEmptyTableName = errors.New("empty table name supplied")

	// ErrInvalidSchemaVersion is returned when the resolved or supplied
	// schema version is outside the supported range.
	ErrInvalidSchemaVersion = errors.New("invalid schema version")
)

// ExceedsMaxCountError is returned when a batch would push the total number
// of registered extended query tags past the caller-supplied ceiling. It
// carries the ceiling so callers can decide between shrinking the batch and
// raising the limit.
type ExceedsMaxCountError struct {
	MaxAllowedCount int
}

func (e ExceedsMaxCountError) Error() string {
	return fmt.Sprintf("%s: max allowed count is %d", ErrExceedsMaxAllowedCount.Error(), e.MaxAllowedCount)
}

// Unwrap makes errors.Is(err, ErrExceedsMaxAllowedCount) work for callers
// that do not care about the concrete ceiling.
func (e ExceedsMaxCountError) Unwrap() error {
	return ErrExceedsMaxAllowedCount
}
