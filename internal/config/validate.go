package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/robfig/cron/v3"
)

// FieldError is a validation failure for one configuration field.
type FieldError struct {
	// Field is the dotted YAML path, e.g. "server.address"
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "configuration validation failed"
	case 1:
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks cfg for values the server cannot run with.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		add("server.address", "invalid listen address %q: %v", cfg.Server.Address, err)
	}
	if cfg.Server.MaxConnections < 1 {
		add("server.max_connections", "must be at least 1")
	}
	if cfg.Server.MaxPending < 0 {
		add("server.max_pending", "must not be negative")
	}
	if cfg.Server.ReadBufferSize < 64 {
		add("server.read_buffer_size", "must be at least 64 bytes")
	}
	if cfg.Server.MaxDrainBytes < 0 {
		add("server.max_drain_bytes", "must not be negative")
	}
	for field, d := range map[string]int64{
		"server.head_timeout":       int64(cfg.Server.HeadTimeout),
		"server.keep_alive_timeout": int64(cfg.Server.KeepAliveTimeout),
		"server.body_read_timeout":  int64(cfg.Server.BodyReadTimeout),
		"server.poll_interval":      int64(cfg.Server.PollInterval),
		"websocket.idle_timeout":    int64(cfg.WebSocket.IdleTimeout),
		"websocket.close_timeout":   int64(cfg.WebSocket.CloseTimeout),
	} {
		if d <= 0 {
			add(field, "must be positive")
		}
	}

	if cfg.Limits.MaxRequestLine < 16 {
		add("limits.max_request_line", "must be at least 16 bytes")
	}
	if cfg.Limits.MaxHeaderLine < 16 {
		add("limits.max_header_line", "must be at least 16 bytes")
	}
	if cfg.Limits.MaxHeaders < 1 {
		add("limits.max_headers", "must be at least 1")
	}
	if cfg.Limits.MaxPathSegments < 1 {
		add("limits.max_path_segments", "must be at least 1")
	}

	if cfg.TLS.Enabled {
		if _, err := transport.ParseProfile(cfg.TLS.Profile); err != nil {
			add("tls.profile", "%v", err)
		}
		if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
			add("tls.cert_file", "cert_file and key_file must be set together")
		}
		if cfg.TLS.TicketRotation != "" {
			if _, err := cron.ParseStandard(cfg.TLS.TicketRotation); err != nil {
				add("tls.ticket_rotation", "invalid schedule %q: %v", cfg.TLS.TicketRotation, err)
			}
		}
		if cfg.TLS.TicketKeys < 1 {
			add("tls.ticket_keys", "must be at least 1")
		}
	}

	if cfg.WebSocket.MaxFramePayload < 125 {
		add("websocket.max_frame_payload", "must be at least 125 bytes")
	}
	if cfg.WebSocket.MaxMessageSize < 1 {
		add("websocket.max_message_size", "must be at least 1")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level", "unknown level %q (use debug, info, warn or error)", cfg.Logging.Level)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}
	if cfg.Discovery.Enabled && cfg.Discovery.Instance == "" {
		add("discovery.instance", "must not be empty")
	}
	if cfg.Demo.MaxUpload < 0 {
		add("demo.max_upload", "must not be negative")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
