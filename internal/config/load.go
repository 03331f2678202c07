package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TINYHTTPS_"

// ApplyDefaults fills zero-valued fields from Default. Booleans are left
// alone since false is a meaningful setting.
func ApplyDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	s, ds := &cfg.Server, d.Server
	if s.Address == "" {
		s.Address = ds.Address
	}
	defaultInt(&s.MaxConnections, ds.MaxConnections)
	defaultInt(&s.MaxPending, ds.MaxPending)
	defaultInt(&s.ReadBufferSize, ds.ReadBufferSize)
	defaultInt(&s.KeepAliveCacheSize, ds.KeepAliveCacheSize)
	if s.MaxDrainBytes == 0 {
		s.MaxDrainBytes = ds.MaxDrainBytes
	}
	defaultDuration(&s.HeadTimeout, ds.HeadTimeout)
	defaultDuration(&s.KeepAliveTimeout, ds.KeepAliveTimeout)
	defaultDuration(&s.BodyReadTimeout, ds.BodyReadTimeout)
	defaultDuration(&s.IdleEvictAfter, ds.IdleEvictAfter)
	defaultDuration(&s.PollInterval, ds.PollInterval)
	defaultDuration(&s.ShutdownTimeout, ds.ShutdownTimeout)

	l, dl := &cfg.Limits, d.Limits
	defaultInt(&l.MaxRequestLine, dl.MaxRequestLine)
	defaultInt(&l.MaxHeaderLine, dl.MaxHeaderLine)
	defaultInt(&l.MaxHeaders, dl.MaxHeaders)
	defaultInt(&l.MaxPathSegments, dl.MaxPathSegments)

	t, dt := &cfg.TLS, d.TLS
	if t.Profile == "" {
		t.Profile = dt.Profile
	}
	if len(t.Hosts) == 0 {
		t.Hosts = dt.Hosts
	}
	defaultInt(&t.TicketKeys, dt.TicketKeys)
	defaultDuration(&t.HandshakeTimeout, dt.HandshakeTimeout)
	defaultDuration(&t.WriteTimeout, dt.WriteTimeout)

	w, dw := &cfg.WebSocket, d.WebSocket
	if w.MaxFramePayload == 0 {
		w.MaxFramePayload = dw.MaxFramePayload
	}
	defaultInt(&w.MaxMessageSize, dw.MaxMessageSize)
	defaultDuration(&w.IdleTimeout, dw.IdleTimeout)
	defaultDuration(&w.CloseTimeout, dw.CloseTimeout)

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = d.Metrics.Path
	}
	if cfg.Discovery.Instance == "" {
		cfg.Discovery.Instance = d.Discovery.Instance
	}
	if cfg.Discovery.Domain == "" {
		cfg.Discovery.Domain = d.Discovery.Domain
	}
	if cfg.Demo.MaxUpload == 0 {
		cfg.Demo.MaxUpload = d.Demo.MaxUpload
	}
}

func defaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func defaultDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

// applyEnvOverrides applies TINYHTTPS_<SECTION>_<FIELD> variables.
// Unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server
	envString("SERVER_ADDRESS", &cfg.Server.Address)
	envInt("SERVER_MAX_CONNECTIONS", &cfg.Server.MaxConnections)
	envInt("SERVER_MAX_PENDING", &cfg.Server.MaxPending)
	envInt("SERVER_READ_BUFFER_SIZE", &cfg.Server.ReadBufferSize)
	envInt("SERVER_KEEP_ALIVE_CACHE_SIZE", &cfg.Server.KeepAliveCacheSize)
	if val := os.Getenv(EnvPrefix + "SERVER_MAX_DRAIN_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxDrainBytes = n
		}
	}
	envDuration("SERVER_HEAD_TIMEOUT", &cfg.Server.HeadTimeout)
	envDuration("SERVER_KEEP_ALIVE_TIMEOUT", &cfg.Server.KeepAliveTimeout)
	envDuration("SERVER_BODY_READ_TIMEOUT", &cfg.Server.BodyReadTimeout)
	envDuration("SERVER_IDLE_EVICT_AFTER", &cfg.Server.IdleEvictAfter)
	envDuration("SERVER_POLL_INTERVAL", &cfg.Server.PollInterval)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("SERVER_CAPTURE_DIR", &cfg.Server.CaptureDir)

	// Limits
	envInt("LIMITS_MAX_REQUEST_LINE", &cfg.Limits.MaxRequestLine)
	envInt("LIMITS_MAX_HEADER_LINE", &cfg.Limits.MaxHeaderLine)
	envInt("LIMITS_MAX_HEADERS", &cfg.Limits.MaxHeaders)
	envInt("LIMITS_MAX_PATH_SEGMENTS", &cfg.Limits.MaxPathSegments)

	// TLS
	envBool("TLS_ENABLED", &cfg.TLS.Enabled)
	envString("TLS_PROFILE", &cfg.TLS.Profile)
	envString("TLS_CERT_FILE", &cfg.TLS.CertFile)
	envString("TLS_KEY_FILE", &cfg.TLS.KeyFile)
	if val := os.Getenv(EnvPrefix + "TLS_HOSTS"); val != "" {
		cfg.TLS.Hosts = splitList(val)
	}
	envString("TLS_TICKET_ROTATION", &cfg.TLS.TicketRotation)
	envInt("TLS_TICKET_KEYS", &cfg.TLS.TicketKeys)
	envDuration("TLS_HANDSHAKE_TIMEOUT", &cfg.TLS.HandshakeTimeout)
	envDuration("TLS_WRITE_TIMEOUT", &cfg.TLS.WriteTimeout)

	// WebSocket
	if val := os.Getenv(EnvPrefix + "WEBSOCKET_MAX_FRAME_PAYLOAD"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			cfg.WebSocket.MaxFramePayload = n
		}
	}
	envInt("WEBSOCKET_MAX_MESSAGE_SIZE", &cfg.WebSocket.MaxMessageSize)
	envDuration("WEBSOCKET_IDLE_TIMEOUT", &cfg.WebSocket.IdleTimeout)
	envDuration("WEBSOCKET_CLOSE_TIMEOUT", &cfg.WebSocket.CloseTimeout)

	// Logging
	envString("LOGGING_LEVEL", &cfg.Logging.Level)

	// Metrics
	envBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString("METRICS_PATH", &cfg.Metrics.Path)

	// Discovery
	envBool("DISCOVERY_ENABLED", &cfg.Discovery.Enabled)
	envString("DISCOVERY_INSTANCE", &cfg.Discovery.Instance)
	envString("DISCOVERY_DOMAIN", &cfg.Discovery.Domain)

	// Demo
	envBool("DEMO_ENABLED", &cfg.Demo.Enabled)
	envString("DEMO_DATABASE", &cfg.Demo.Database)
	if val := os.Getenv(EnvPrefix + "DEMO_MAX_UPLOAD"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Demo.MaxUpload = n
		}
	}
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
