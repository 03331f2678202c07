package websocket

import (
	"github.com/muurk/tinyhttps/internal/http1"
)

// Handler receives the events of one WebSocket connection. All callbacks
// run on the server's poll loop and must not block.
type Handler interface {
	OnOpen(c *Conn)
	OnMessage(c *Conn, m Message)
	OnClose(c *Conn, code CloseCode, reason string)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open    func(c *Conn)
	Message func(c *Conn, m Message)
	Close   func(c *Conn, code CloseCode, reason string)
}

func (h HandlerFuncs) OnOpen(c *Conn) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Conn, m Message) {
	if h.Message != nil {
		h.Message(c, m)
	}
}

func (h HandlerFuncs) OnClose(c *Conn, code CloseCode, reason string) {
	if h.Close != nil {
		h.Close(c, code, reason)
	}
}

// Conn is the handler's view of an upgraded connection. Its send methods
// are safe to call from other goroutines; output is written by the poll
// loop.
type Conn struct {
	engine *Engine
	req    *http1.Request
	id     string
}

// NewConn binds an engine to the request that opened it.
func NewConn(e *Engine, req *http1.Request, id string) *Conn {
	return &Conn{engine: e, req: req, id: id}
}

// ID returns the connection id used in logs.
func (c *Conn) ID() string { return c.id }

// Request returns the upgrade request.
func (c *Conn) Request() *http1.Request { return c.req }

// Param returns a path parameter bound by the route.
func (c *Conn) Param(name string) string { return c.req.Param(name) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.req.RemoteAddr }

// SendText queues a text message.
func (c *Conn) SendText(s string) error { return c.engine.SendText(s) }

// SendBinary queues a binary message.
func (c *Conn) SendBinary(b []byte) error { return c.engine.SendBinary(b) }

// Ping queues a ping frame.
func (c *Conn) Ping(payload []byte) error { return c.engine.Ping(payload) }

// Close starts the close handshake.
func (c *Conn) Close(code CloseCode, reason string) { c.engine.Close(code, reason) }

// Engine exposes the protocol engine.
func (c *Conn) Engine() *Engine { return c.engine }
