package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

var (
	// ErrWouldBlock is returned by TryRead when no bytes are available yet.
	ErrWouldBlock = errors.New("transport: no data available")
	// ErrTimeout is returned by ReadTimeout when the wait expires.
	ErrTimeout = errors.New("transport: read timed out")
)

// Stream is a byte stream to one client, plaintext or already decrypted.
// TryRead never blocks. Write blocks until the bytes are handed to the
// kernel or the write timeout expires; any Write error is fatal.
type Stream interface {
	// TryRead copies buffered bytes into p. It returns ErrWouldBlock when
	// nothing is buffered and io.EOF once the peer closed and the buffer is
	// drained.
	TryRead(p []byte) (int, error)
	// ReadTimeout waits up to d for at least one byte.
	ReadTimeout(p []byte, d time.Duration) (int, error)
	Write(p []byte) error
	Close() error
	RemoteAddr() string
	Secure() bool
}

// Factory turns an accepted connection into a Stream. wake is called from
// the stream's reader whenever new bytes or an error arrive.
type Factory interface {
	Wrap(conn net.Conn, wake func()) Stream
	Secure() bool
}

// Options tune the net.Conn backed streams.
type Options struct {
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// ReadBuffer is how many bytes the reader buffers before it stops
	// reading from the socket.
	ReadBuffer int
}

// DefaultOptions returns conservative timeouts for small devices.
func DefaultOptions() Options {
	return Options{
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadBuffer:       4096,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.ReadBuffer <= 0 {
		o.ReadBuffer = d.ReadBuffer
	}
}

// inbox is the buffer between a stream's reader goroutine and the poll loop.
type inbox struct {
	mu    sync.Mutex
	buf   []byte
	max   int
	err   error
	avail chan struct{} // signalled when bytes or err arrive
	space chan struct{} // signalled when the consumer drained bytes
	done  chan struct{}
	wake  func()
}

func newInbox(max int, wake func()) *inbox {
	return &inbox{
		max:   max,
		avail: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
		wake:  wake,
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// put appends data, waiting while the buffer is full. It reports false if
// the stream was closed meanwhile.
func (in *inbox) put(data []byte) bool {
	for len(data) > 0 {
		in.mu.Lock()
		room := in.max - len(in.buf)
		if room > 0 {
			n := min(room, len(data))
			in.buf = append(in.buf, data[:n]...)
			data = data[n:]
			in.mu.Unlock()
			signal(in.avail)
			if in.wake != nil {
				in.wake()
			}
			continue
		}
		in.mu.Unlock()
		select {
		case <-in.space:
		case <-in.done:
			return false
		}
	}
	return true
}

func (in *inbox) fail(err error) {
	in.mu.Lock()
	if in.err == nil {
		in.err = err
	}
	in.mu.Unlock()
	signal(in.avail)
	if in.wake != nil {
		in.wake()
	}
}

func (in *inbox) tryRead(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.buf) > 0 {
		n := copy(p, in.buf)
		in.buf = append(in.buf[:0], in.buf[n:]...)
		signal(in.space)
		return n, nil
	}
	if in.err != nil {
		return 0, in.err
	}
	return 0, ErrWouldBlock
}

func (in *inbox) readTimeout(p []byte, d time.Duration) (int, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		n, err := in.tryRead(p)
		if err != ErrWouldBlock {
			return n, err
		}
		select {
		case <-in.avail:
		case <-in.done:
			return 0, net.ErrClosed
		case <-timer.C:
			return 0, ErrTimeout
		}
	}
}

func (in *inbox) close() {
	select {
	case <-in.done:
	default:
		close(in.done)
	}
}

// connStream adapts a net.Conn. A goroutine reads from the connection into
// the inbox so TryRead can return immediately.
type connStream struct {
	conn   net.Conn
	remote string
	secure bool
	opts   Options
	in     *inbox

	closeOnce sync.Once
	closeErr  error
}

func newConnStream(conn net.Conn, secure bool, opts Options, wake func()) *connStream {
	opts.applyDefaults()
	return &connStream{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		secure: secure,
		opts:   opts,
		in:     newInbox(opts.ReadBuffer, wake),
	}
}

// pump copies from the connection into the inbox until an error.
func (s *connStream) pump(r io.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && !s.in.put(buf[:n]) {
			return
		}
		if err != nil {
			s.in.fail(err)
			return
		}
	}
}

func (s *connStream) TryRead(p []byte) (int, error) {
	return s.in.tryRead(p)
}

func (s *connStream) ReadTimeout(p []byte, d time.Duration) (int, error) {
	return s.in.readTimeout(p, d)
}

func (s *connStream) Write(p []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(p)
	return err
}

func (s *connStream) Close() error {
	s.closeOnce.Do(func() {
		s.in.close()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *connStream) RemoteAddr() string { return s.remote }
func (s *connStream) Secure() bool       { return s.secure }

// PlainFactory serves unencrypted connections.
type PlainFactory struct {
	Options Options
}

// NewPlainFactory creates a factory for plaintext streams.
func NewPlainFactory(opts Options) *PlainFactory {
	return &PlainFactory{Options: opts}
}

func (f *PlainFactory) Wrap(conn net.Conn, wake func()) Stream {
	s := newConnStream(conn, false, f.Options, wake)
	go s.pump(conn)
	return s
}

func (f *PlainFactory) Secure() bool { return false }
