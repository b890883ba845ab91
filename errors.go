package payable

import (
	"errors"
	"fmt"
)

// Error type constants for classification and matching
const (
	// ErrorTypeUnknownCapability indicates a capability name that is not
	// present in the router's registry. Caller programming error.
	ErrorTypeUnknownCapability = "unknown_capability"

	// ErrorTypeEmptyCandidatePool indicates a selection was requested with
	// no candidates to choose from. Caller programming error.
	ErrorTypeEmptyCandidatePool = "empty_candidate_pool"

	// ErrorTypeUnknownTool indicates a candidate pool named a tool that is
	// not in the router's catalog. Caller programming error.
	ErrorTypeUnknownTool = "unknown_tool"

	// ErrorTypeMissingPrecondition indicates a stage ran before the state
	// fields it reads were produced. Caller programming error.
	ErrorTypeMissingPrecondition = "missing_precondition"

	// ErrorTypeDuplicateCheckpoint indicates a checkpoint ID that already
	// exists in the store.
	ErrorTypeDuplicateCheckpoint = "duplicate_checkpoint"

	// ErrorTypeCheckpointNotFound indicates a lookup for a checkpoint ID
	// that does not exist.
	ErrorTypeCheckpointNotFound = "checkpoint_not_found"

	// ErrorTypeAlreadyResolved indicates a second decision was submitted for
	// a checkpoint that is already RESOLVED. Resolution is at-most-once; the
	// stored decision is never overwritten.
	ErrorTypeAlreadyResolved = "already_resolved"

	// ErrorTypeStageFailed indicates a stage returned a domain failure and
	// the run was terminated with a recorded reason.
	ErrorTypeStageFailed = "stage_failed"
)

// Error is a structured error with classification. It supports Go's error
// wrapping patterns with an Unwrap() method.
type Error struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewError creates a new Error with the specified type and a formatted cause.
func NewError(errorType, format string, args ...any) *Error {
	return &Error{Type: errorType, Cause: fmt.Sprintf(format, args...)}
}

// HasErrorType reports whether err is (or wraps) an Error of the given type.
func HasErrorType(err error, errorType string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}
