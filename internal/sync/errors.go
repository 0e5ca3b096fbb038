package sync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies sync failures. Kinds are strings so they log and
// serialize naturally.
type ErrorKind string

const (
	// KindConfiguration covers unset or invalid destination components
	KindConfiguration ErrorKind = "configuration"
	// KindValidation covers empty entry lists and lists with no valid path
	KindValidation ErrorKind = "validation"
	// KindProcess covers a mirroring process that exited non-zero
	KindProcess ErrorKind = "process"
	// KindConflict is reported when another sync holds the guard
	KindConflict ErrorKind = "conflict"
	// KindStore covers failures reading from the store collaborator
	KindStore ErrorKind = "store"
	// KindIO covers filesystem failures around the listing and destination
	KindIO ErrorKind = "io"
)

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrProcess        = &Error{Kind: KindProcess}
	ErrAlreadyRunning = &Error{Kind: KindConflict, Message: "sync already in progress"}
	ErrStore          = &Error{Kind: KindStore}
	ErrIO             = &Error{Kind: KindIO}
)

// Error is a classified sync failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind) + " error"
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ProcessError reports a mirroring process that exited with a non-zero code
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("rsync error (exit code %d): %s", e.ExitCode, e.Stderr)
}

// Is lets errors.Is(err, ErrProcess) match process failures
func (e *ProcessError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindProcess
}

// KindOf returns the kind of a sync error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return KindProcess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func configError(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func ioError(err error, format string, args ...any) error {
	return &Error{Kind: KindIO, Message: fmt.Sprintf(format, args...), Err: err}
}

// StoreError wraps a failure from the store collaborator
func StoreError(err error, format string, args ...any) error {
	return &Error{Kind: KindStore, Message: fmt.Sprintf(format, args...), Err: err}
}
