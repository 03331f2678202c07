package http1

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a request-side failure
type ErrorKind int

const (
	// KindMalformedEncoding covers syntax errors in the request line, headers,
	// percent-escapes or chunk framing
	KindMalformedEncoding ErrorKind = iota + 1
	// KindRequestTooLarge is returned when a configured limit is exceeded
	KindRequestTooLarge
	// KindUnexpectedEOF is returned when the stream ends inside a declared body
	KindUnexpectedEOF
	// KindBodyConsumed is returned when a body is read after it was exhausted
	KindBodyConsumed
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedEncoding:
		return "MalformedEncoding"
	case KindRequestTooLarge:
		return "RequestTooLarge"
	case KindUnexpectedEOF:
		return "UnexpectedEof"
	case KindBodyConsumed:
		return "BodyConsumed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Status returns the HTTP status code a connection reports for this kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindRequestTooLarge:
		return 413
	default:
		return 400
	}
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrMalformedEncoding = &Error{Kind: KindMalformedEncoding}
	ErrRequestTooLarge   = &Error{Kind: KindRequestTooLarge}
	ErrUnexpectedEOF     = &Error{Kind: KindUnexpectedEOF}
	ErrBodyConsumed      = &Error{Kind: KindBodyConsumed}
)

// Error is a classified request parsing or body reading failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds a classified error for readers layered on top of a body.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return newError(kind, format, args...)
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
