package config

import (
	"net"
	"strconv"

	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/server"
	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/muurk/tinyhttps/internal/websocket"
)

// ToServerConfig converts the file configuration into server settings.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Addr:               c.Server.Address,
		MaxConnections:     c.Server.MaxConnections,
		MaxPending:         c.Server.MaxPending,
		ReadBufferSize:     c.Server.ReadBufferSize,
		KeepAliveCacheSize: c.Server.KeepAliveCacheSize,
		MaxDrainBytes:      c.Server.MaxDrainBytes,
		Limits: http1.Limits{
			MaxRequestLine:  c.Limits.MaxRequestLine,
			MaxHeaderLine:   c.Limits.MaxHeaderLine,
			MaxHeaders:      c.Limits.MaxHeaders,
			MaxPathSegments: c.Limits.MaxPathSegments,
		},
		HeadTimeout:           c.Server.HeadTimeout,
		KeepAliveTimeout:      c.Server.KeepAliveTimeout,
		BodyReadTimeout:       c.Server.BodyReadTimeout,
		WebSocketIdleTimeout:  c.WebSocket.IdleTimeout,
		WebSocketCloseTimeout: c.WebSocket.CloseTimeout,
		IdleEvictAfter:        c.Server.IdleEvictAfter,
		PollInterval:          c.Server.PollInterval,
		WebSocket: websocket.Options{
			MaxFramePayload: c.WebSocket.MaxFramePayload,
			MaxMessageSize:  c.WebSocket.MaxMessageSize,
		},
		CaptureDir: c.Server.CaptureDir,
	}
}

// TransportOptions returns the stream options for accepted connections.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		WriteTimeout:     c.TLS.WriteTimeout,
		HandshakeTimeout: c.TLS.HandshakeTimeout,
		ReadBuffer:       4 * c.Server.ReadBufferSize,
	}
}

// CertParams returns self-signed certificate parameters for the configured
// hosts. The legacy profile needs an RSA key.
func (c *Config) CertParams() transport.CertParams {
	params := transport.DefaultCertParams()
	if len(c.TLS.Hosts) > 0 {
		params.Hosts = append([]string(nil), c.TLS.Hosts...)
		params.CommonName = c.TLS.Hosts[0]
	}
	params.RSA = c.TLS.Profile == string(transport.ProfileLegacy)
	return params
}

// Port returns the numeric listen port, or 0 when the address has none.
func (c *Config) Port() int {
	_, port, err := net.SplitHostPort(c.Server.Address)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}
