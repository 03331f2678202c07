package websocket

import (
	"encoding/binary"
	"sync"
	"unicode/utf8"
)

// Options bounds what a peer may send.
type Options struct {
	// MaxFramePayload limits a single frame; 0 selects DefaultMaxFramePayload.
	MaxFramePayload uint64
	// MaxMessageSize limits an assembled message; 0 selects
	// DefaultMaxMessageSize.
	MaxMessageSize int
}

const (
	DefaultMaxFramePayload = 16 * 1024
	DefaultMaxMessageSize  = 64 * 1024
)

// Message is one complete text or binary message.
type Message struct {
	Opcode Opcode
	Data   []byte
}

// IsText reports whether the message was sent as text.
func (m Message) IsText() bool {
	return m.Opcode == OpText
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// Engine runs the WebSocket protocol for one connection after the upgrade.
// Inbound bytes are pushed in with Receive, which never blocks. Outbound
// frames are queued and collected with TakeOutput; the send methods may be
// called from any goroutine.
type Engine struct {
	dec        Decoder
	maxMessage int

	fragmenting bool
	fragOp      Opcode
	frag        []byte

	mu          sync.Mutex
	out         []byte
	notify      func()
	closeSent   bool
	closeRecv   bool
	closeCode   CloseCode
	closeReason string
	failed      error
}

// NewEngine creates a server-side engine. Client frames must be masked.
func NewEngine(opts Options) *Engine {
	if opts.MaxFramePayload == 0 {
		opts.MaxFramePayload = DefaultMaxFramePayload
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Engine{
		dec:        Decoder{MaxPayload: opts.MaxFramePayload, RequireMask: true},
		maxMessage: opts.MaxMessageSize,
	}
}

// SetNotify registers fn to be called whenever output is queued. The
// connection uses it to wake its poll loop.
func (e *Engine) SetNotify(fn func()) {
	e.mu.Lock()
	e.notify = fn
	e.mu.Unlock()
}

// Receive decodes data and returns the messages it completed. Control
// frames are answered internally. On a protocol error a close frame with
// the matching code is queued and the error is returned; the connection
// should flush output and shut down.
func (e *Engine) Receive(data []byte) ([]Message, error) {
	var msgs []Message
	for len(data) > 0 {
		if e.closeReceived() {
			// nothing after a close frame is processed
			return msgs, nil
		}
		n, frame, err := e.dec.Feed(data)
		data = data[n:]
		if err != nil {
			return msgs, e.abort(err)
		}
		if frame == nil {
			break
		}
		msg, ok, err := e.handleFrame(frame)
		if err != nil {
			return msgs, e.abort(err)
		}
		if ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (e *Engine) closeReceived() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeRecv
}

func (e *Engine) abort(err error) error {
	code := CloseProtocolError
	if werr, ok := err.(*Error); ok && werr.Code != 0 {
		code = werr.Code
	}
	e.mu.Lock()
	e.failed = err
	e.mu.Unlock()
	e.Close(code, "")
	return err
}

func (e *Engine) handleFrame(f *Frame) (Message, bool, error) {
	switch f.Opcode {
	case OpPing:
		e.mu.Lock()
		if !e.closeSent {
			e.queueLocked(AppendFrame(nil, true, OpPong, f.Payload))
		}
		e.mu.Unlock()
		return Message{}, false, nil

	case OpPong:
		return Message{}, false, nil

	case OpClose:
		return Message{}, false, e.handleClose(f.Payload)

	case OpContinuation:
		if !e.fragmenting {
			return Message{}, false, violation(CloseProtocolError, "continuation frame without a message in progress")
		}
		if len(e.frag)+len(f.Payload) > e.maxMessage {
			return Message{}, false, tooLarge("message exceeds %d bytes", e.maxMessage)
		}
		e.frag = append(e.frag, f.Payload...)
		if !f.FIN {
			return Message{}, false, nil
		}
		msg := Message{Opcode: e.fragOp, Data: e.frag}
		e.fragmenting = false
		e.frag = nil
		return e.finish(msg)

	default: // text or binary
		if e.fragmenting {
			return Message{}, false, violation(CloseProtocolError, "new %s frame before fragmented message completed", f.Opcode)
		}
		if len(f.Payload) > e.maxMessage {
			return Message{}, false, tooLarge("message exceeds %d bytes", e.maxMessage)
		}
		if !f.FIN {
			e.fragmenting = true
			e.fragOp = f.Opcode
			e.frag = append([]byte(nil), f.Payload...)
			return Message{}, false, nil
		}
		return e.finish(Message{Opcode: f.Opcode, Data: f.Payload})
	}
}

func (e *Engine) finish(msg Message) (Message, bool, error) {
	if msg.Opcode == OpText && !utf8.Valid(msg.Data) {
		return Message{}, false, violation(CloseInvalidPayload, "text message is not valid UTF-8")
	}
	return msg, true, nil
}

func (e *Engine) handleClose(payload []byte) error {
	code := CloseNoStatus
	reason := ""
	switch {
	case len(payload) == 1:
		return violation(CloseProtocolError, "close payload of 1 byte")
	case len(payload) >= 2:
		code = CloseCode(binary.BigEndian.Uint16(payload))
		if !code.validOnWire() {
			return violation(CloseProtocolError, "invalid close code %d", code)
		}
		if !utf8.Valid(payload[2:]) {
			return violation(CloseInvalidPayload, "close reason is not valid UTF-8")
		}
		reason = string(payload[2:])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeRecv = true
	if !e.closeSent {
		e.closeSent = true
		e.closeCode = code
		e.closeReason = reason
		e.queueLocked(AppendFrame(nil, true, OpClose, closePayload(code, "")))
	}
	return nil
}

func (e *Engine) queueLocked(frame []byte) {
	e.out = append(e.out, frame...)
	if e.notify != nil {
		e.notify()
	}
}

func (e *Engine) send(op Opcode, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeSent {
		return ErrClosed
	}
	e.queueLocked(AppendFrame(nil, true, op, payload))
	return nil
}

// SendText queues a text message.
func (e *Engine) SendText(s string) error {
	if !utf8.ValidString(s) {
		return violation(CloseInvalidPayload, "outbound text is not valid UTF-8")
	}
	return e.send(OpText, []byte(s))
}

// SendBinary queues a binary message.
func (e *Engine) SendBinary(b []byte) error {
	return e.send(OpBinary, b)
}

// Ping queues a ping. The payload is limited to 125 bytes.
func (e *Engine) Ping(payload []byte) error {
	if len(payload) > MaxControlPayload {
		return violation(CloseProtocolError, "ping payload of %d bytes exceeds %d", len(payload), MaxControlPayload)
	}
	return e.send(OpPing, payload)
}

// Close starts the close handshake. Calling it again has no effect.
func (e *Engine) Close(code CloseCode, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeSent {
		return
	}
	e.closeSent = true
	e.closeCode = code
	e.closeReason = reason
	e.queueLocked(AppendFrame(nil, true, OpClose, closePayload(code, reason)))
}

// TakeOutput returns and clears the queued outbound bytes.
func (e *Engine) TakeOutput() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.out
	e.out = nil
	return out
}

// HasOutput reports whether frames are waiting to be written.
func (e *Engine) HasOutput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.out) > 0
}

// CloseSent reports whether a close frame has been queued.
func (e *Engine) CloseSent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeSent
}

// Done reports whether the connection should be shut down once output is
// flushed: both close frames were exchanged, or the peer broke the protocol.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed != nil || (e.closeSent && e.closeRecv)
}

// CloseStatus returns the code and reason of the close handshake.
func (e *Engine) CloseStatus() (CloseCode, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCode, e.closeReason
}

// Err returns the protocol error that aborted the connection, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}
