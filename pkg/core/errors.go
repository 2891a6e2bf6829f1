// Package core provides the Assistant façade: configuration, logging
// and the wiring of memory tiers, pipelines and the agent engine into
// one client.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that a connection to a storage backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrGenerationFailed indicates that a generative-service call failed.
	ErrGenerationFailed = errors.New("generation failed")
)

// CoreError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &CoreError{
//	    Op:  "Chat",
//	    Err: ErrGenerationFailed,
//	}
//	// Error() returns: "mindcore: Chat: generation failed"
type CoreError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "mindcore: <Op>: <Err>"
func (e *CoreError) Error() string {
	return fmt.Sprintf("mindcore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with CoreError.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewCoreError creates a new CoreError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err := op(); err != nil {
//	    return NewCoreError("Chat", err)
//	}
func NewCoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CoreError{Op: op, Err: err}
}
