package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/router"
	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/muurk/tinyhttps/internal/websocket"
	"go.uber.org/zap"
)

// ErrServing is returned when the server is configured after serving
// started.
var ErrServing = errors.New("server already serving")

// Server multiplexes HTTP and WebSocket connections over a fixed pool of
// slots, driven by a single poll loop.
type Server struct {
	cfg     Config
	factory transport.Factory
	router  *router.Router[Handler, websocket.Handler]

	middleware     []Middleware
	defaultHeaders []http1.Header
	fallback       Handler
	observer       Observer

	// owned by the poll loop
	slots []*slot
	free  []int

	mu       sync.Mutex // guards queue
	queue    []transport.Stream
	wake     chan struct{}
	serving  atomic.Bool
	draining atomic.Bool
	force    atomic.Bool
	stopped  chan struct{}

	accepted atomic.Uint64
	rejected atomic.Uint64
	evicted  atomic.Uint64
	requests atomic.Uint64

	statsMu sync.Mutex
	stats   Stats
}

// New creates a server. A nil factory serves plaintext.
func New(cfg Config, factory transport.Factory) *Server {
	cfg.applyDefaults()
	if factory == nil {
		factory = transport.NewPlainFactory(transport.DefaultOptions())
	}
	s := &Server{
		cfg:      cfg,
		factory:  factory,
		router:   router.New[Handler, websocket.Handler](),
		observer: NopObserver{},
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	s.slots = make([]*slot, cfg.MaxConnections)
	for i := range s.slots {
		s.slots[i] = newSlot(s, i)
	}
	for i := len(s.slots) - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	return s
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Handle registers h for methods on pattern.
func (s *Server) Handle(methods http1.Methods, pattern string, h Handler, opts ...router.RouteOption) error {
	return s.router.Handle(methods, pattern, h, opts...)
}

// HandleFunc registers a function handler.
func (s *Server) HandleFunc(methods http1.Methods, pattern string, fn func(req *http1.Request, res *http1.Response), opts ...router.RouteOption) error {
	return s.router.Handle(methods, pattern, HandlerFunc(fn), opts...)
}

// HandleWebSocket registers a WebSocket endpoint.
func (s *Server) HandleWebSocket(pattern string, h websocket.Handler, opts ...router.RouteOption) error {
	return s.router.HandleWebSocket(pattern, h, opts...)
}

// Use appends middleware to the chain run before every handler.
func (s *Server) Use(mw Middleware) error {
	if s.serving.Load() {
		return ErrServing
	}
	s.middleware = append(s.middleware, mw)
	return nil
}

// SetDefaultHeader adds a header to every response.
func (s *Server) SetDefaultHeader(name, value string) error {
	if s.serving.Load() {
		return ErrServing
	}
	for i := range s.defaultHeaders {
		if s.defaultHeaders[i].Name == name {
			s.defaultHeaders[i].Value = value
			return nil
		}
	}
	s.defaultHeaders = append(s.defaultHeaders, http1.Header{Name: name, Value: value})
	return nil
}

// SetDefaultHandler serves requests no route matched, instead of a 404.
func (s *Server) SetDefaultHandler(h Handler) error {
	if s.serving.Load() {
		return ErrServing
	}
	s.fallback = h
	return nil
}

// SetObserver installs an event observer, typically metrics.
func (s *Server) SetObserver(o Observer) error {
	if s.serving.Load() {
		return ErrServing
	}
	if o == nil {
		o = NopObserver{}
	}
	s.observer = o
	return nil
}

// Routes lists the registered routes.
func (s *Server) Routes() []router.RouteInfo {
	return s.router.Routes()
}

// Attach queues an already established stream for a slot. It is safe to
// call from any goroutine.
func (s *Server) Attach(stream transport.Stream) {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.MaxPending || s.draining.Load() {
		s.mu.Unlock()
		s.rejected.Add(1)
		s.observer.ConnectionRejected("queue full")
		logging.Warn("Rejecting connection, pending queue full",
			zap.String("remote_addr", stream.RemoteAddr()),
		)
		_ = stream.Close()
		return
	}
	s.queue = append(s.queue, stream)
	s.mu.Unlock()
	s.accepted.Add(1)
	s.signal()
}

// signal wakes the poll loop.
func (s *Server) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// start freezes registration. Called on the first Poll.
func (s *Server) start() {
	if s.serving.CompareAndSwap(false, true) {
		s.router.Freeze()
	}
}

// Poll runs one tick of the loop: it assigns queued streams to free slots
// and advances every busy slot. It reports whether any work was done. Poll
// must only be called from one goroutine.
func (s *Server) Poll(now time.Time) bool {
	s.start()
	progress := s.admit(now)
	for _, sl := range s.slots {
		if sl.phase == PhaseIdle {
			continue
		}
		if sl.step(now) {
			progress = true
		}
	}
	s.snapshot(now)
	return progress
}

func (s *Server) admit(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress := false
	for len(s.queue) > 0 {
		sl := s.freeSlot()
		if sl == nil {
			sl = s.evictIdle(now)
		}
		if sl == nil {
			break
		}
		sl.open(s.queue[0], now)
		s.queue[0] = nil
		s.queue = s.queue[1:]
		progress = true
	}
	return progress
}

func (s *Server) freeSlot() *slot {
	if len(s.free) == 0 {
		return nil
	}
	i := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return s.slots[i]
}

// evictIdle closes the longest-waiting keep-alive slot that has been idle
// for at least IdleEvictAfter and returns it.
func (s *Server) evictIdle(now time.Time) *slot {
	var victim *slot
	for _, sl := range s.slots {
		if sl.phase != PhaseKeepAliveWait || len(sl.pending) > 0 {
			continue
		}
		if now.Sub(sl.phaseStart) < s.cfg.IdleEvictAfter {
			continue
		}
		if victim == nil || sl.phaseStart.Before(victim.phaseStart) {
			victim = sl
		}
	}
	if victim == nil {
		return nil
	}
	victim.log().Debug("Evicting idle keep-alive connection")
	s.evicted.Add(1)
	victim.close(now)
	return s.freeSlot()
}

func (s *Server) release(sl *slot) {
	s.free = append(s.free, sl.index)
}

// Serve accepts connections from ln and runs the poll loop until ctx is
// cancelled or Shutdown completes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.serving.Load() {
		return ErrServing
	}
	s.start()
	defer close(s.stopped)

	logging.Info("Server listening for connections",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.factory.Secure()),
		zap.Int("slots", s.cfg.MaxConnections),
	)

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- s.acceptConnections(ln)
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	listenerClosed := false

	for {
		progress := s.Poll(time.Now())

		if s.force.Load() {
			return s.abort(ln)
		}
		if s.draining.Load() {
			if !listenerClosed {
				_ = ln.Close()
				listenerClosed = true
			}
			if s.activeSlots() == 0 {
				logging.Info("All connections closed gracefully")
				return nil
			}
		}

		if progress {
			select {
			case <-ctx.Done():
				return s.abort(ln)
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return s.abort(ln)
		case err := <-acceptErr:
			acceptErr = nil
			if err != nil && !s.draining.Load() {
				s.closeAll(time.Now())
				return fmt.Errorf("accept: %w", err)
			}
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// ListenAndServe listens on Config.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) acceptConnections(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logging.Error("Failed to accept connection", zap.Error(err))
				continue
			}
			return err
		}
		s.Attach(s.factory.Wrap(conn, s.signal))
	}
}

func (s *Server) abort(ln net.Listener) error {
	_ = ln.Close()
	s.closeAll(time.Now())
	return nil
}

// closeAll drops every connection, busy or queued.
func (s *Server) closeAll(now time.Time) {
	for _, sl := range s.slots {
		if sl.phase != PhaseIdle {
			sl.close(now)
		}
	}
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, st := range queued {
		_ = st.Close()
	}
	logging.Sync()
}

// Shutdown stops accepting, lets running exchanges finish and closes idle
// and WebSocket connections with a going-away close frame. If ctx expires
// first the remaining connections are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")
	s.draining.Store(true)
	s.signal()
	if !s.serving.Load() {
		return nil
	}
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		s.force.Store(true)
		s.signal()
		return ctx.Err()
	}
}

func (s *Server) activeSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - len(s.free) + len(s.queue)
}
