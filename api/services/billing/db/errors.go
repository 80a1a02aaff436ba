package db

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the owner link changed since it was read.
	ErrVersionConflict = errors.New("owner link version conflict")
	// ErrDuplicate wraps unique constraint violations.
	ErrDuplicate = errors.New("duplicate key")
)

// isDuplicateKey detects PostgreSQL unique constraint violations (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
