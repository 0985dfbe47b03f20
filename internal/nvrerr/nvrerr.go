// Package nvrerr defines the error-kind taxonomy shared across the
// recording pipeline and retrieval engine, generalizing the teacher's
// typed-string errors (BufferError, TimelineError) into one sentinel Kind.
package nvrerr

import (
	"errors"
	"fmt"
)

// Kind is a semantic error classification, used by callers (HTTP handlers,
// retry loops) to decide policy without string-matching messages.
type Kind string

const (
	ConfigInvalid    Kind = "config_invalid"
	CameraNotFound   Kind = "camera_not_found"
	SessionNotFound  Kind = "session_not_found"
	JobNotFound      Kind = "job_not_found"
	SegmentNotFound  Kind = "segment_not_found"
	AlreadyActive    Kind = "already_active"
	Unauthorized     Kind = "unauthorized"
	StorageFailure   Kind = "storage_failure"
	EncoderFailure   Kind = "encoder_failure"
	OversizeFrame    Kind = "oversize_frame"
	Lagged           Kind = "lagged"
	ExportFailed     Kind = "export_failed"
)

// Error wraps an underlying cause with a Kind, so callers can branch with
// errors.Is/As while still getting a normal wrapped error chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, nvrerr.New(nvrerr.CameraNotFound, "")) works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given Kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of returns the Kind of err if it is (or wraps) an *Error, and ok=true.
// A *LaggedError reports Lagged.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var l *LaggedError
	if errors.As(err, &l) {
		return Lagged, true
	}
	return "", false
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}

// LaggedError carries the count of items a subscriber missed when the frame
// bus's ring overwrote them before it could keep up.
type LaggedError struct {
	N uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("%s: subscriber lagged by %d frames", Lagged, e.N)
}

// NewLagged constructs a LaggedError for n missed items.
func NewLagged(n uint64) *LaggedError { return &LaggedError{N: n} }
