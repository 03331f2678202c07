package server

import (
	"time"

	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/websocket"
)

// Config holds the server configuration
type Config struct {
	Addr string

	// MaxConnections is the number of connection slots. Connections accepted
	// while every slot is busy wait in a queue of MaxPending entries.
	MaxConnections int
	MaxPending     int

	Limits             http1.Limits
	ReadBufferSize     int // per-slot read buffer
	KeepAliveCacheSize int // response bytes buffered to compute a Content-Length
	MaxDrainBytes      int64

	HeadTimeout           time.Duration // partial request head
	KeepAliveTimeout      time.Duration // idle persistent connection
	BodyReadTimeout       time.Duration // each handler body read
	WebSocketIdleTimeout  time.Duration
	WebSocketCloseTimeout time.Duration // wait for the peer's close frame
	IdleEvictAfter        time.Duration // keep-alive slot reclaimable when full
	PollInterval          time.Duration

	WebSocket websocket.Options

	// CaptureDir, when set, receives a JSONL record of every WebSocket
	// message received.
	CaptureDir string
}

// DefaultConfig returns settings sized for a small device.
func DefaultConfig() Config {
	return Config{
		Addr:                  ":8443",
		MaxConnections:        8,
		MaxPending:            32,
		Limits:                http1.DefaultLimits(),
		ReadBufferSize:        1024,
		KeepAliveCacheSize:    http1.DefaultCacheSize,
		MaxDrainBytes:         64 * 1024,
		HeadTimeout:           10 * time.Second,
		KeepAliveTimeout:      5 * time.Second,
		BodyReadTimeout:       10 * time.Second,
		WebSocketIdleTimeout:  60 * time.Second,
		WebSocketCloseTimeout: 5 * time.Second,
		IdleEvictAfter:        500 * time.Millisecond,
		PollInterval:          50 * time.Millisecond,
	}
}

// applyDefaults fills zero fields from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.Limits == (http1.Limits{}) {
		c.Limits = d.Limits
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.KeepAliveCacheSize < 0 {
		c.KeepAliveCacheSize = 0
	} else if c.KeepAliveCacheSize == 0 {
		c.KeepAliveCacheSize = d.KeepAliveCacheSize
	}
	if c.MaxDrainBytes <= 0 {
		c.MaxDrainBytes = d.MaxDrainBytes
	}
	for _, p := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&c.HeadTimeout, d.HeadTimeout},
		{&c.KeepAliveTimeout, d.KeepAliveTimeout},
		{&c.BodyReadTimeout, d.BodyReadTimeout},
		{&c.WebSocketIdleTimeout, d.WebSocketIdleTimeout},
		{&c.WebSocketCloseTimeout, d.WebSocketCloseTimeout},
		{&c.IdleEvictAfter, d.IdleEvictAfter},
		{&c.PollInterval, d.PollInterval},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
}
