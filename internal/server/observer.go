package server

import (
	"time"

	"github.com/muurk/tinyhttps/internal/websocket"
)

// Observer receives server events, for metrics. Methods are called from the
// poll loop except ConnectionRejected, which may come from the accept
// goroutine.
type Observer interface {
	ConnectionOpened(secure bool)
	ConnectionClosed(lifetime time.Duration, requests int)
	ConnectionRejected(reason string)
	RequestServed(method, pattern string, status int, bytes int64, elapsed time.Duration)
	WebSocketMessage(op websocket.Opcode, size int)
	ProtocolError(kind string)
}

// NopObserver ignores every event. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) ConnectionOpened(bool)                                   {}
func (NopObserver) ConnectionClosed(time.Duration, int)                     {}
func (NopObserver) ConnectionRejected(string)                               {}
func (NopObserver) RequestServed(string, string, int, int64, time.Duration) {}
func (NopObserver) WebSocketMessage(websocket.Opcode, int)                  {}
func (NopObserver) ProtocolError(string)                                    {}
