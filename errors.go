package kvscript

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates the instance has been closed
	ErrClosed = errors.New("instance is closed")
)

// ReplicationError reports an entry a replica could not apply
type ReplicationError struct {
	Offset uint64 // last applied entry
	Err    error
}

// Error implements the error interface
func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication error after offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the wrapped error
func (e *ReplicationError) Unwrap() error {
	return e.Err
}

// OpenError reports an engine that could not be opened
type OpenError struct {
	Engine string
	Dir    string
	Err    error
}

// Error implements the error interface
func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s engine at %q: %v", e.Engine, e.Dir, e.Err)
}

// Unwrap returns the wrapped error
func (e *OpenError) Unwrap() error {
	return e.Err
}
