// Package errors provides the typed error taxonomy for the workspace
// mutation engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies what went wrong.
type ErrorCode string

const (
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION"
	ErrCodeAuthorization  ErrorCode = "AUTHORIZATION"
	ErrCodeValidation     ErrorCode = "VALIDATION"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeTypeMismatch   ErrorCode = "TYPE_MISMATCH"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeStore          ErrorCode = "STORE"
)

// Operation identifies which engine operation raised the error.
type Operation string

const (
	OpExecute   Operation = "execute"
	OpAuthorize Operation = "authorize"
	OpValidate  Operation = "validate"
	OpAppend    Operation = "append"
	OpLoad      Operation = "load"
	OpReplay    Operation = "replay"
	OpResolve   Operation = "resolve"
	OpClose     Operation = "close"
)

// ConflictMessage is the one error text a well-behaved caller should act on
// by re-reading state and retrying.
const ConflictMessage = "workspace was modified by another user, please try again"

// WorkspaceError is the error type raised inside command execution. The
// dispatcher converts every WorkspaceError into a structured result at its
// boundary; nothing escapes to collaborators as a raw error.
type WorkspaceError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "dispatch")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried with fresh state
	Retryable bool

	// Error code for the error class
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *WorkspaceError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// Message returns the user-facing text for the error: the underlying cause
// for everything except conflicts, which carry the actionable retry framing.
func (e *WorkspaceError) Message() string {
	if e.Code == ErrCodeConflict {
		return ConflictMessage
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

// NewAuthenticationError reports a request with no caller identity.
func NewAuthenticationError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code:      ErrCodeAuthentication,
		Op:        op,
		Component: "auth",
		Err:       cause,
	}
}

// NewAuthorizationError reports a caller lacking owner/editor rights.
func NewAuthorizationError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code:      ErrCodeAuthorization,
		Op:        op,
		Component: "auth",
		Err:       cause,
	}
}

// NewValidationError reports missing or malformed command fields.
func NewValidationError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code: ErrCodeValidation,
		Op:   op,
		Err:  cause,
	}
}

// NewNotFoundError reports an absent workspace or referenced item.
func NewNotFoundError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code: ErrCodeNotFound,
		Op:   op,
		Err:  cause,
	}
}

// NewTypeMismatchError reports a referenced item of the wrong kind.
func NewTypeMismatchError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code: ErrCodeTypeMismatch,
		Op:   op,
		Err:  cause,
	}
}

// NewConflictError reports a version check that failed after retries were
// exhausted or disallowed. Conflicts are retryable by the caller with fresh
// state, never blindly by the engine.
func NewConflictError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code:      ErrCodeConflict,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewStoreError reports a failed append or load at the storage layer.
func NewStoreError(op Operation, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code:      ErrCodeStore,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// New creates a WorkspaceError without a code.
func New(op Operation, err error) *WorkspaceError {
	return &WorkspaceError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a WorkspaceError with component information.
func NewWithComponent(op Operation, component string, err error) *WorkspaceError {
	return &WorkspaceError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable WorkspaceError.
func IsRetryable(err error) bool {
	var wsErr *WorkspaceError
	if errors.As(err, &wsErr) {
		return wsErr.Retryable
	}
	return false
}

// CodeOf returns the error's code, or the empty code for foreign errors.
func CodeOf(err error) ErrorCode {
	var wsErr *WorkspaceError
	if errors.As(err, &wsErr) {
		return wsErr.Code
	}
	return ""
}

// IsConflict reports whether the error is a version conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

// AsWorkspaceError extracts a WorkspaceError from err's chain, or wraps a
// foreign error as an uncoded one so boundary code can always report a
// structured failure.
func AsWorkspaceError(op Operation, err error) *WorkspaceError {
	var wsErr *WorkspaceError
	if errors.As(err, &wsErr) {
		return wsErr
	}
	return New(op, err)
}
