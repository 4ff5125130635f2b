// Package errors provides the coded domain errors used by dirwatch.
//
// Usage:
//
//	// In the scanner - return typed errors
//	if os.IsNotExist(err) {
//	    return nil, errors.PathNotFoundf("root %s does not exist", root).WithCause(err)
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrPathNotFound) {
//	    ...
//	}
//
//	// Or switch on the Code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeAlreadyRunning:
//	    case errors.CodeNativeWatchSetupFailed:
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout dirwatch.
const (
	CodePathNotFound           Code = "PATH_NOT_FOUND"
	CodeNotADirectory          Code = "NOT_A_DIRECTORY"
	CodePermissionDenied       Code = "PERMISSION_DENIED"
	CodeNativeWatchSetupFailed Code = "NATIVE_WATCH_SETUP_FAILED"
	CodeAlreadyRunning         Code = "ALREADY_RUNNING"
	CodeNotRunning             Code = "NOT_RUNNING"
	CodeScanFailed             Code = "SCAN_FAILED"
	CodeCallbackFailed         Code = "CALLBACK_FAILED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeValidation             Code = "VALIDATION"
	CodeInternal               Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code the host API uses for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound, CodePathNotFound:
		return http.StatusNotFound
	case CodeAlreadyRunning, CodeNotRunning:
		return http.StatusConflict
	case CodeValidation, CodeNotADirectory:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrPathNotFound           = &Error{Code: CodePathNotFound, Message: "path not found"}
	ErrNotADirectory          = &Error{Code: CodeNotADirectory, Message: "not a directory"}
	ErrPermissionDenied       = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrNativeWatchSetupFailed = &Error{Code: CodeNativeWatchSetupFailed, Message: "native watch setup failed"}
	ErrAlreadyRunning         = &Error{Code: CodeAlreadyRunning, Message: "watch already running"}
	ErrNotRunning             = &Error{Code: CodeNotRunning, Message: "watch not running"}
	ErrScanFailed             = &Error{Code: CodeScanFailed, Message: "scan failed"}
	ErrCallbackFailed         = &Error{Code: CodeCallbackFailed, Message: "callback failed"}
	ErrNotFound               = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation             = &Error{Code: CodeValidation, Message: "validation error"}
	ErrInternal               = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// PathNotFoundf creates a path not found error with formatted message.
func PathNotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodePathNotFound, Message: fmt.Sprintf(format, args...)}
}

// NotADirectoryf creates a not-a-directory error with formatted message.
func NotADirectoryf(format string, args ...any) *Error {
	return &Error{Code: CodeNotADirectory, Message: fmt.Sprintf(format, args...)}
}

// PermissionDeniedf creates a permission denied error with formatted message.
func PermissionDeniedf(format string, args ...any) *Error {
	return &Error{Code: CodePermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// NativeWatchSetupFailed creates a native watch setup error.
func NativeWatchSetupFailed(msg string) *Error {
	return &Error{Code: CodeNativeWatchSetupFailed, Message: msg}
}

// AlreadyRunning creates an already running error.
func AlreadyRunning(msg string) *Error {
	return &Error{Code: CodeAlreadyRunning, Message: msg}
}

// NotRunning creates a not running error.
func NotRunning(msg string) *Error {
	return &Error{Code: CodeNotRunning, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
