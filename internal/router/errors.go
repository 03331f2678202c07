package router

import "fmt"

// ErrorKind classifies registration failures.
type ErrorKind int

const (
	// KindAmbiguousRoute means a parameter segment collides with an existing
	// parameter of a different name at the same position
	KindAmbiguousRoute ErrorKind = iota + 1
	// KindDuplicateRoute means the method (or WebSocket binding) is already
	// registered for an identical pattern
	KindDuplicateRoute
	// KindInvalidPattern covers syntax errors in a pattern
	KindInvalidPattern
	// KindFrozen is returned for registrations after serving started
	KindFrozen
)

func (k ErrorKind) String() string {
	switch k {
	case KindAmbiguousRoute:
		return "AmbiguousRoute"
	case KindDuplicateRoute:
		return "DuplicateRoute"
	case KindInvalidPattern:
		return "InvalidPattern"
	case KindFrozen:
		return "RouterFrozen"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrAmbiguousRoute = &Error{Kind: KindAmbiguousRoute}
	ErrDuplicateRoute = &Error{Kind: KindDuplicateRoute}
	ErrInvalidPattern = &Error{Kind: KindInvalidPattern}
	ErrFrozen         = &Error{Kind: KindFrozen}
)

// Error is a route registration failure.
type Error struct {
	Kind    ErrorKind
	Pattern string
	Message string
}

func (e *Error) Error() string {
	if e.Pattern == "" {
		return e.Kind.String()
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Pattern)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Pattern, e.Message)
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, pattern, format string, args ...any) *Error {
	return &Error{Kind: kind, Pattern: pattern, Message: fmt.Sprintf(format, args...)}
}
