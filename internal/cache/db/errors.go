package db

import (
	"errors"

	"github.com/falcon/restaurants/internal/cache/live"
)

// Errors returned by the record cache.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, db.ErrConstraintViolation) {
//	    // the id is already stored; use Upsert or Update
//	}
var (
	// ErrConstraintViolation is returned by Insert when the id already exists.
	// Upsert never surfaces it for that reason since it checks first.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrQueryFailure is returned when a read query could not run. A failed
	// children check is reported with it rather than as "no children".
	ErrQueryFailure = live.ErrQueryFailure

	// ErrNotFound is returned by point lookups for an unknown id.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned by writes and new live queries after Close.
	ErrClosed = errors.New("database is closed")
)
