package safebox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies engine failures so adapters can map them to their own
// status codes without parsing messages.
type ErrorKind string

const (
	KindSecurityViolation ErrorKind = "SECURITY_VIOLATION"
	KindInvalidArgument   ErrorKind = "INVALID_ARGUMENT"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindAlreadyExists     ErrorKind = "ALREADY_EXISTS"
	KindPayloadTooLarge   ErrorKind = "PAYLOAD_TOO_LARGE"
	KindQuotaExceeded     ErrorKind = "QUOTA_EXCEEDED"
	KindLockedOrInUse     ErrorKind = "LOCKED_OR_IN_USE"
	KindIOFailure         ErrorKind = "IO_FAILURE"
)

// Sentinels for errors.Is matching on kind alone.
var (
	ErrSecurityViolation = &Error{Kind: KindSecurityViolation}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrQuotaExceeded     = &Error{Kind: KindQuotaExceeded}
	ErrLockedOrInUse     = &Error{Kind: KindLockedOrInUse}
	ErrIOFailure         = &Error{Kind: KindIOFailure}
)

// Error is the failure type returned by engine operations.
type Error struct {
	Kind    ErrorKind
	Op      string // engine operation, e.g. "SaveFile"
	Path    string // caller-supplied relative path, if any
	Message string

	// Size is the byte size of the entry a delete gave up on (LockedOrInUse only).
	Size int64

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. Sentinels carry only
// a kind, so errors.Is(err, ErrNotFound) matches any not-found failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// ioError wraps an unexpected filesystem failure.
func ioError(op, path string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
}
