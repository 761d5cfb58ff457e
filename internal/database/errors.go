package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Store errors. Lookup misses use interfaces.ErrUserNotFound and interfaces.ErrClassNotFound.
var (
	ErrStoreClosed   = errors.New("database manager is closed")
	ErrAlreadyExists = errors.New("record already exists")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// isRetryable reports whether a write failed on lock contention rather than on its data.
func isRetryable(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
