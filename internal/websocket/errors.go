package websocket

import "fmt"

// ErrorKind classifies WebSocket failures.
type ErrorKind int

const (
	// KindProtocolViolation covers any frame sequence RFC 6455 forbids
	KindProtocolViolation ErrorKind = iota + 1
	// KindFrameTooLarge is returned when a frame or assembled message
	// exceeds the configured maximum
	KindFrameTooLarge
	// KindHandshakeFailed is returned for an unacceptable upgrade request
	KindHandshakeFailed
	// KindClosed is returned when sending after the close handshake started
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindFrameTooLarge:
		return "FrameTooLarge"
	case KindHandshakeFailed:
		return "HandshakeFailed"
	case KindClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrFrameTooLarge     = &Error{Kind: KindFrameTooLarge}
	ErrHandshakeFailed   = &Error{Kind: KindHandshakeFailed}
	ErrClosed            = &Error{Kind: KindClosed}
)

// Error is a WebSocket failure. Code is the close code sent to the peer
// when the error terminates the connection.
type Error struct {
	Kind    ErrorKind
	Code    CloseCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func violation(code CloseCode, format string, args ...any) *Error {
	return &Error{Kind: KindProtocolViolation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func tooLarge(format string, args ...any) *Error {
	return &Error{Kind: KindFrameTooLarge, Code: CloseMessageTooBig, Message: fmt.Sprintf(format, args...)}
}

func handshakeError(format string, args ...any) *Error {
	return &Error{Kind: KindHandshakeFailed, Message: fmt.Sprintf(format, args...)}
}
