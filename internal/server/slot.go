package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/muurk/tinyhttps/internal/websocket"
	"go.uber.org/zap"
)

// Phase is where a connection slot is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadingHead
	PhaseRouting
	PhaseDispatching
	PhaseResponsePending
	PhaseKeepAliveWait
	PhaseWebSocketUpgrade
	PhaseWebSocketActive
	PhaseClosing
)

var phaseNames = [...]string{
	PhaseIdle:             "Idle",
	PhaseReadingHead:      "ReadingHead",
	PhaseRouting:          "Routing",
	PhaseDispatching:      "Dispatching",
	PhaseResponsePending:  "ResponsePending",
	PhaseKeepAliveWait:    "KeepAliveWait",
	PhaseWebSocketUpgrade: "WebSocketUpgrade",
	PhaseWebSocketActive:  "WebSocketActive",
	PhaseClosing:          "Closing",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Phase(?)"
}

// maxTransitions bounds the work one slot does per poll tick.
const maxTransitions = 8

// slot is one entry of the connection arena. All fields are owned by the
// poll loop.
type slot struct {
	srv   *Server
	index int
	phase Phase

	stream     transport.Stream
	id         string
	remote     string
	opened     time.Time
	active     time.Time // last time bytes moved
	phaseStart time.Time
	requests   int

	inbuf    []byte
	pending  []byte // read but not yet consumed, a window into inbuf
	readTick bool   // TryRead already called this tick
	parser   *http1.HeadParser
	src      bodySource

	// current exchange
	req       *http1.Request
	res       *http1.Response
	reqStart  time.Time
	handler   Handler
	drainLeft int64
	wsHandler websocket.Handler

	// websocket
	engine      *websocket.Engine
	conn        *websocket.Conn
	closeSentAt time.Time
	wsNotified  bool
}

func newSlot(srv *Server, index int) *slot {
	sl := &slot{
		srv:    srv,
		index:  index,
		inbuf:  make([]byte, srv.cfg.ReadBufferSize),
		parser: http1.NewHeadParser(srv.cfg.Limits),
	}
	sl.src = bodySource{sl: sl}
	return sl
}

func (sl *slot) open(stream transport.Stream, now time.Time) {
	sl.stream = stream
	sl.id = uuid.NewString()
	sl.remote = stream.RemoteAddr()
	sl.opened = now
	sl.active = now
	sl.requests = 0
	sl.pending = nil
	sl.parser.Reset()
	sl.setPhase(PhaseReadingHead, now)

	logging.LogConnection(sl.remote, sl.id, "connection_accepted")
	sl.srv.observer.ConnectionOpened(stream.Secure())
}

func (sl *slot) log() *zap.Logger {
	return logging.GetLogger().With(zap.String("conn_id", sl.id), zap.Int("slot", sl.index))
}

func (sl *slot) setPhase(p Phase, now time.Time) {
	sl.phase = p
	sl.phaseStart = now
}

// Write implements http1.Sink. A failed write is fatal to the connection.
func (sl *slot) Write(p []byte) error {
	if err := sl.stream.Write(p); err != nil {
		return err
	}
	sl.active = time.Now()
	return nil
}

// step advances the slot and reports whether anything happened.
func (sl *slot) step(now time.Time) bool {
	sl.readTick = false
	progress := false
	for i := 0; i < maxTransitions; i++ {
		var moved bool
		switch sl.phase {
		case PhaseReadingHead, PhaseKeepAliveWait:
			moved = sl.readHead(now)
		case PhaseRouting:
			sl.route(now)
			moved = true
		case PhaseDispatching:
			sl.dispatch(now)
			moved = true
		case PhaseResponsePending:
			moved = sl.finishExchange(now)
		case PhaseWebSocketUpgrade:
			sl.upgrade(now)
			moved = true
		case PhaseWebSocketActive:
			moved = sl.serveWebSocket(now)
		case PhaseClosing:
			sl.close(now)
			return true
		}
		if !moved {
			break
		}
		progress = true
	}
	return progress
}

// fill makes sure pending holds bytes, reading from the stream at most once
// per tick. It returns ErrWouldBlock when nothing is available.
func (sl *slot) fill(now time.Time) error {
	if len(sl.pending) > 0 {
		return nil
	}
	if sl.readTick {
		return transport.ErrWouldBlock
	}
	sl.readTick = true
	n, err := sl.stream.TryRead(sl.inbuf)
	if n > 0 {
		sl.pending = sl.inbuf[:n]
		sl.active = now
		return nil
	}
	return err
}

// readHead feeds available bytes to the head parser.
func (sl *slot) readHead(now time.Time) bool {
	if err := sl.fill(now); err != nil {
		if errors.Is(err, transport.ErrWouldBlock) {
			return sl.headTimeout(now)
		}
		if sl.parser.Started() {
			sl.log().Debug("Connection ended inside request head", zap.Error(err))
		}
		sl.setPhase(PhaseClosing, now)
		return true
	}
	if sl.phase == PhaseKeepAliveWait {
		sl.setPhase(PhaseReadingHead, now)
	}

	n, status, err := sl.parser.Feed(sl.pending)
	sl.pending = sl.pending[n:]
	if err != nil {
		sl.rejectHead(err, now)
		return true
	}
	if status == http1.Done {
		sl.req = sl.parser.Request()
		sl.setPhase(PhaseRouting, now)
	}
	return true
}

func (sl *slot) headTimeout(now time.Time) bool {
	switch sl.phase {
	case PhaseKeepAliveWait:
		if sl.srv.draining.Load() || now.Sub(sl.phaseStart) >= sl.srv.cfg.KeepAliveTimeout {
			sl.setPhase(PhaseClosing, now)
			return true
		}
	case PhaseReadingHead:
		if sl.srv.draining.Load() && !sl.parser.Started() {
			sl.setPhase(PhaseClosing, now)
			return true
		}
		if now.Sub(sl.active) >= sl.srv.cfg.HeadTimeout {
			sl.log().Debug("Request head timed out", zap.Bool("partial", sl.parser.Started()))
			if sl.parser.Started() {
				sl.reqStart = time.Now()
				sl.sendError(408, "", nil, true, now)
			} else {
				sl.setPhase(PhaseClosing, now)
			}
			return true
		}
	}
	return false
}

// close releases the stream and returns the slot to the free list.
func (sl *slot) close(now time.Time) {
	if sl.conn != nil && !sl.wsNotified {
		sl.notifyClose(websocket.CloseAbnormal, "")
	}
	if err := sl.stream.Close(); err != nil {
		sl.log().Debug("Error closing stream", zap.Error(err))
	}
	logging.LogConnection(sl.remote, sl.id, "connection_closed")
	sl.srv.observer.ConnectionClosed(now.Sub(sl.opened), sl.requests)

	sl.resetExchange()
	sl.engine = nil
	sl.conn = nil
	sl.wsHandler = nil
	sl.wsNotified = false
	sl.closeSentAt = time.Time{}
	sl.stream = nil
	sl.pending = nil
	sl.setPhase(PhaseIdle, now)
	sl.srv.release(sl)
}

func (sl *slot) resetExchange() {
	sl.req = nil
	sl.res = nil
	sl.handler = nil
	sl.drainLeft = 0
	sl.parser.Reset()
}

// bodySource feeds a request body from the slot's pending bytes and then
// from the stream. Reads wait up to the body read timeout, so only a
// running handler should trigger them.
type bodySource struct {
	sl *slot
}

func (b *bodySource) fill() error {
	sl := b.sl
	if len(sl.pending) > 0 {
		return nil
	}
	n, err := sl.stream.ReadTimeout(sl.inbuf, sl.srv.cfg.BodyReadTimeout)
	if n > 0 {
		sl.pending = sl.inbuf[:n]
		sl.active = time.Now()
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

func (b *bodySource) Read(p []byte) (int, error) {
	if err := b.fill(); err != nil {
		return 0, err
	}
	n := copy(p, b.sl.pending)
	b.sl.pending = b.sl.pending[n:]
	return n, nil
}

func (b *bodySource) ReadByte() (byte, error) {
	if err := b.fill(); err != nil {
		return 0, err
	}
	c := b.sl.pending[0]
	b.sl.pending = b.sl.pending[1:]
	return c, nil
}
