package postgresengine

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/rohankhera/dicom-server/datastore"
)

// SQLSTATE codes of the constraint violation class the engine reports on
// uniqueness and capacity conflicts.
const (
	pgCodeUniqueViolation = "23505"
	pgCodeCheckViolation  = "23514"
)

// constraintTagCountGuard is the schema-side constraint enforcing the
// extended query tag ceiling. Its name is the discriminator that separates
// "count exceeded" from "already exists" within the shared violation class.
const constraintTagCountGuard = "extended_query_tag_count_guard"

// ConflictSignal is the engine-level indication that a write violated a
// uniqueness or capacity invariant. The signal alone is ambiguous; the
// accompanying ConflictDiscriminator decides which invariant was violated.
type ConflictSignal int

const (
	// ConflictNone means the engine reported no conflict.
	ConflictNone ConflictSignal = iota

	// ConflictConstraintViolation means the engine rejected the write with a
	// uniqueness/capacity constraint violation.
	ConflictConstraintViolation

	// ConflictGuardShortfall means a guarded insert affected fewer rows than
	// were submitted: the guard predicate filtered the whole batch out
	// server-side.
	ConflictGuardShortfall
)

// ConflictDiscriminator is the secondary signal accompanying a conflict.
type ConflictDiscriminator int

const (
	// DiscriminatorUnknown means the engine did not report which invariant was violated.
	DiscriminatorUnknown ConflictDiscriminator = iota

	// DiscriminatorAlreadyExists means a duplicate identifier was introduced.
	DiscriminatorAlreadyExists

	// DiscriminatorCountExceeded means the write would pass the configured ceiling.
	DiscriminatorCountExceeded
)

// ClassifyConflict maps an engine conflict signal plus its discriminator to
// exactly one kind of the domain error taxonomy. It is a pure function with
// no engine access, so the policy is testable in isolation.
//
// The policy is exhaustive and its order matters: a violation-class signal
// with the count-exceeded discriminator becomes ExceedsMaxCountError; one
// with any other discriminator becomes ErrAlreadyExists. Everything else
// with a cause is normalized to ErrDataStoreFailed carrying that cause, so a
// raw engine error never reaches a caller.
func ClassifyConflict(
	signal ConflictSignal,
	discriminator ConflictDiscriminator,
	maxAllowedCount int,
	cause error,
) error {

	switch signal {
	case ConflictConstraintViolation, ConflictGuardShortfall:
		if discriminator == DiscriminatorCountExceeded {
			return datastore.ExceedsMaxCountError{MaxAllowedCount: maxAllowedCount}
		}

		return datastore.ErrAlreadyExists

	default:
		if cause == nil {
			return nil
		}

		return errors.Join(datastore.ErrDataStoreFailed, cause)
	}
}

// ClassifyEngineError derives the conflict signal and discriminator from a
// driver error and classifies it. Both pgx (pgconn.PgError) and lib/pq
// (pq.Error) report the SQLSTATE and the violated constraint name; any error
// outside the violation class, recognized or not, is wrapped as a data store
// failure.
func ClassifyEngineError(err error, maxAllowedCount int) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isConflictCode(pgErr.Code) {
		return ClassifyConflict(
			ConflictConstraintViolation,
			discriminatorForConstraint(pgErr.ConstraintName),
			maxAllowedCount,
			err,
		)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && isConflictCode(string(pqErr.Code)) {
		return ClassifyConflict(
			ConflictConstraintViolation,
			discriminatorForConstraint(pqErr.Constraint),
			maxAllowedCount,
			err,
		)
	}

	return errors.Join(datastore.ErrDataStoreFailed, err)
}

func isConflictCode(code string) bool {
	return code == pgCodeUniqueViolation || code == pgCodeCheckViolation
}

func discriminatorForConstraint(constraintName string) ConflictDiscriminator {
	if constraintName == constraintTagCountGuard {
		return DiscriminatorCountExceeded
	}

	return DiscriminatorAlreadyExists
}
