package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MemoryStream is an in-process Stream. The test (or an in-process client)
// plays the peer through Feed, CloseInput and Output.
type MemoryStream struct {
	remote string
	secure bool
	in     *inbox

	mu       sync.Mutex
	out      bytes.Buffer
	closed   bool
	writeErr error
}

// NewMemoryStream creates a stream whose peer appears at remote.
func NewMemoryStream(remote string) *MemoryStream {
	return &MemoryStream{remote: remote, in: newInbox(1<<20, nil)}
}

// SetSecure makes the stream report itself as encrypted.
func (m *MemoryStream) SetSecure(v bool) { m.secure = v }

// FailWrites makes every following Write return err.
func (m *MemoryStream) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Feed makes data readable by the server side.
func (m *MemoryStream) Feed(data []byte) {
	m.in.put(data)
}

// FeedString is Feed for text.
func (m *MemoryStream) FeedString(s string) {
	m.Feed([]byte(s))
}

// CloseInput signals end of stream from the peer.
func (m *MemoryStream) CloseInput() {
	m.in.fail(io.EOF)
}

// Output returns and clears everything written so far.
func (m *MemoryStream) Output() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]byte(nil), m.out.Bytes()...)
	m.out.Reset()
	return out
}

// Closed reports whether Close was called.
func (m *MemoryStream) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryStream) TryRead(p []byte) (int, error) {
	if m.Closed() {
		return 0, errors.New("memory stream closed")
	}
	return m.in.tryRead(p)
}

func (m *MemoryStream) ReadTimeout(p []byte, d time.Duration) (int, error) {
	return m.in.readTimeout(p, d)
}

func (m *MemoryStream) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory stream closed")
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.out.Write(p)
	return nil
}

func (m *MemoryStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.in.close()
	}
	return nil
}

func (m *MemoryStream) RemoteAddr() string { return m.remote }
func (m *MemoryStream) Secure() bool       { return m.secure }
