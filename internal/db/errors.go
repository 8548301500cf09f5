package db

import (
	"errors"
	"strings"
)

// Sentinel errors for logical store outcomes. Callers distinguish them
// from infrastructure failures with errors.Is.
var (
	// ErrRecordGone means a fetch-by-ID found no row: the record was
	// deleted out-of-band since the caller last saw it.
	ErrRecordGone = errors.New("record gone")

	// ErrStaleRecord means an optimistic update matched the ID but not
	// the expected version: another writer got there first.
	ErrStaleRecord = errors.New("stale record version")

	// ErrConflict means an insert violated a uniqueness rule.
	ErrConflict = errors.New("record conflict")
)

// IsLogical reports whether err is one of the logical store outcomes
// rather than an infrastructure failure.
func IsLogical(err error) bool {
	return errors.Is(err, ErrRecordGone) ||
		errors.Is(err, ErrStaleRecord) ||
		errors.Is(err, ErrConflict)
}

// isUniqueViolation detects SQLite unique-constraint failures. The
// modernc driver surfaces them as plain errors, so match on the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
