package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
const (
	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"

	// undefinedTableCode is returned when the cache table has not been migrated
	undefinedTableCode = "42P01"
)

var (
	// ErrInvalidEntry is returned when a cache entry violates a table constraint
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNotMigrated is returned when the cache table does not exist
	ErrNotMigrated = errors.New("cache table missing, run migrations")
)

// MapError maps a database error to a package error, wrapping the original.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case checkViolationCode:
			return fmt.Errorf("%w: check constraint violation (%s): %v", ErrInvalidEntry, pgErr.ConstraintName, err)
		case undefinedTableCode:
			return fmt.Errorf("%w: %v", ErrNotMigrated, err)
		}
	}

	return err
}
