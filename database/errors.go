package database

import (
	"errors"

	"github.com/jackc/pgconn"
)

var (
	// Caller misuse, detected before any statement runs.
	ErrColumnValueMismatch    = errors.New("columns and values have different lengths")
	ErrPredicateShapeMismatch = errors.New("predicate columns, operators and values have different lengths")
	ErrInvalidIdentifier      = errors.New("invalid identifier")
	ErrInvalidOperator        = errors.New("invalid operator")
	ErrUnsafeDeleteRejected   = errors.New("refusing to delete without a predicate")
	ErrEmptyConditions        = errors.New("unique lookup needs at least one condition")
	ErrKeyArityMismatch       = errors.New("key values do not match the primary key columns")
	ErrAmbiguousPatch         = errors.New("patch must use either Fields or Columns/Values, not both")
	ErrNoUpdatableColumns     = errors.New("no updatable columns in patch")

	ErrNoPrimaryKey    = errors.New("table has no primary key")
	ErrRecordNotFound  = errors.New("record not found")
	ErrAmbiguousResult = errors.New("more than one record matched a unique lookup")

	ErrInsertFailed = errors.New("insert returned no row")
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err carries a unique constraint violation from postgres.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
