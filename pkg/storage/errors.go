package storage

import "errors"

// ErrNotFound reports a session record that does not exist, was evicted,
// or belongs to another tenant. ErrConflict reports an insert with an ID
// that is already taken. Every store implementation wraps these so
// callers can errors.Is across backends.
var (
	ErrNotFound = errors.New("no such session record")
	ErrConflict = errors.New("duplicate session record")
)
