// Package apperr provides the error taxonomy used across Iris's session,
// transport, and scheduling core (spec §7).
package apperr

import (
	"errors"
	"fmt"
)

// Error codes, one per kind named in §7.
const (
	CodeConfiguration = "CONFIGURATION"
	CodeValidation    = "VALIDATION"
	CodeProcess       = "PROCESS"
	CodeBusy          = "BUSY"
	CodeTimeout       = "TIMEOUT"
	CodeQueueFull     = "QUEUE_FULL"
	CodeAgent         = "AGENT"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeInternal      = "INTERNAL"
)

// AppError is a typed error carrying a taxonomy code plus an optional
// wrapped cause, so callers can errors.As into it and branch on Code
// without string-matching messages.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newf(code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Configuration reports an unknown team, invalid path/name, or malformed config.
func Configuration(format string, args ...any) *AppError {
	return newf(CodeConfiguration, format, args...)
}

// Validation reports a bad UUID, bad team name, or oversized input.
func Validation(format string, args ...any) *AppError {
	return newf(CodeValidation, format, args...)
}

// Process reports a spawn failure, crashed exit, or unavailable stdin.
func Process(err error, format string, args ...any) *AppError {
	e := newf(CodeProcess, format, args...)
	e.Err = err
	return e
}

// Busy reports executeTell called against a transport that already has a
// cache entry attached.
func Busy(key string) *AppError {
	return newf(CodeBusy, "transport %q is busy with another request", key)
}

// Timeout reports a spawn-init, session-init, per-task, or SSH-connect
// deadline that elapsed before completion.
func Timeout(format string, args ...any) *AppError {
	return newf(CodeTimeout, format, args...)
}

// QueueFull reports a per-target FIFO at MAX_QUEUE_SIZE capacity.
func QueueFull(target string) *AppError {
	return newf(CodeQueueFull, "queue for target %q is full", target)
}

// Agent reports result.is_error or an explicit error frame from the agent
// process itself.
func Agent(format string, args ...any) *AppError {
	return newf(CodeAgent, format, args...)
}

// NotFound reports a missing session, transport, or approval id.
func NotFound(resource, id string) *AppError {
	return newf(CodeNotFound, "%s %q not found", resource, id)
}

// Conflict reports a uniqueness invariant violation (e.g. a session already
// exists for a pair that is being recreated).
func Conflict(format string, args ...any) *AppError {
	return newf(CodeConflict, format, args...)
}

// Internal wraps an unexpected error (storage I/O, marshal failure, ...).
func Internal(err error, format string, args ...any) *AppError {
	e := newf(CodeInternal, format, args...)
	e.Err = err
	return e
}

// Wrap re-codes an arbitrary error as an AppError, preserving the original
// code if it already is one.
func Wrap(err error, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{Code: appErr.Code, Message: msg + ": " + appErr.Message, Err: err}
	}
	return &AppError{Code: CodeInternal, Message: msg, Err: err}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code returns the AppError code for err, or "" if err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
