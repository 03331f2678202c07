package config

import (
	"time"
)

// Config is the on-disk server configuration.
type Config struct {
	// Version is the configuration file format version
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	TLS       TLSConfig       `yaml:"tls"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Demo      DemoConfig      `yaml:"demo"`
}

// ServerConfig sizes the connection pool and its timeouts.
type ServerConfig struct {
	Address            string        `yaml:"address"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxPending         int           `yaml:"max_pending"`
	ReadBufferSize     int           `yaml:"read_buffer_size"`
	KeepAliveCacheSize int           `yaml:"keep_alive_cache_size"`
	MaxDrainBytes      int64         `yaml:"max_drain_bytes"`
	HeadTimeout        time.Duration `yaml:"head_timeout"`
	KeepAliveTimeout   time.Duration `yaml:"keep_alive_timeout"`
	BodyReadTimeout    time.Duration `yaml:"body_read_timeout"`
	IdleEvictAfter     time.Duration `yaml:"idle_evict_after"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	// CaptureDir receives JSONL records of inbound WebSocket messages
	CaptureDir string `yaml:"capture_dir,omitempty"`
}

// LimitsConfig bounds the request head.
type LimitsConfig struct {
	MaxRequestLine  int `yaml:"max_request_line"`
	MaxHeaderLine   int `yaml:"max_header_line"`
	MaxHeaders      int `yaml:"max_headers"`
	MaxPathSegments int `yaml:"max_path_segments"`
}

// TLSConfig selects between plaintext and TLS and where the certificate
// comes from.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// Profile is "modern" or "legacy"
	Profile  string `yaml:"profile"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	// Hosts are used when a self-signed certificate is generated
	Hosts            []string      `yaml:"hosts,omitempty"`
	TicketRotation   string        `yaml:"ticket_rotation,omitempty"`
	TicketKeys       int           `yaml:"ticket_keys"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// WebSocketConfig bounds frames and messages and sets session timeouts.
type WebSocketConfig struct {
	MaxFramePayload uint64        `yaml:"max_frame_payload"`
	MaxMessageSize  int           `yaml:"max_message_size"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`
}

// LoggingConfig controls zap verbosity. An empty level keeps logging silent.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig exposes Prometheus metrics on the server itself.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DiscoveryConfig advertises the server over mDNS.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Domain   string `yaml:"domain"`
}

// DemoConfig configures the bundled demo application.
type DemoConfig struct {
	Enabled bool `yaml:"enabled"`
	// Database is a sqlite path; empty keeps the store in memory
	Database  string `yaml:"database,omitempty"`
	MaxUpload int64  `yaml:"max_upload"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Address:            ":8443",
			MaxConnections:     8,
			MaxPending:         32,
			ReadBufferSize:     1024,
			KeepAliveCacheSize: 1400,
			MaxDrainBytes:      64 * 1024,
			HeadTimeout:        10 * time.Second,
			KeepAliveTimeout:   5 * time.Second,
			BodyReadTimeout:    10 * time.Second,
			IdleEvictAfter:     500 * time.Millisecond,
			PollInterval:       50 * time.Millisecond,
			ShutdownTimeout:    10 * time.Second,
		},
		Limits: LimitsConfig{
			MaxRequestLine:  1024,
			MaxHeaderLine:   1024,
			MaxHeaders:      32,
			MaxPathSegments: 32,
		},
		TLS: TLSConfig{
			Enabled:          true,
			Profile:          "modern",
			Hosts:            []string{"localhost", "127.0.0.1", "::1"},
			TicketRotation:   "@every 12h",
			TicketKeys:       3,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxFramePayload: 16 * 1024,
			MaxMessageSize:  64 * 1024,
			IdleTimeout:     60 * time.Second,
			CloseTimeout:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Discovery: DiscoveryConfig{
			Enabled:  false,
			Instance: "tinyhttps",
			Domain:   "local.",
		},
		Demo: DemoConfig{
			Enabled:   true,
			MaxUpload: 1 << 20,
		},
	}
}
