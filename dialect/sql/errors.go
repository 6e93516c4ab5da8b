package sql

import (
	"errors"
	"strings"
)

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintForeignKey = 787
	sqliteConstraintUnique     = 2067
	sqliteConstraintCheck      = 275
)

// errorCoder is implemented by modernc.org/sqlite errors.
type errorCoder interface {
	Code() int
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	return matches(err, sqliteConstraintUnique, "UNIQUE constraint failed")
}

// IsForeignKeyConstraintError reports if the error resulted from a foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return matches(err, sqliteConstraintForeignKey, "FOREIGN KEY constraint failed")
}

// IsCheckConstraintError reports if the error resulted from a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return matches(err, sqliteConstraintCheck, "CHECK constraint failed")
}

func matches(err error, code int, msg string) bool {
	if err == nil {
		return false
	}
	var e errorCoder
	if errors.As(err, &e) && e.Code() == code {
		return true
	}
	// Fallback to string matching for wrapped or mocked errors.
	return strings.Contains(err.Error(), msg)
}
