// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as the
// services and handlers to distinguish between different failure
// scenarios without inspecting driver errors.  ErrDuplicateKey reports a
// unique index collision that callers may retry with fresh values.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update finds the row in the
// wrong state, e.g. confirming payment of a ticket that is not PENDING.
var ErrConflict = errors.New("conflict")

// ErrDuplicateKey is returned when an insert violates a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrEmailExists is returned when a staff account with the same email is
// already registered.
var ErrEmailExists = errors.New("email already exists")

// isDuplicateKey recognises unique violations from both supported drivers.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
