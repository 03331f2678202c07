// Package logging provides structured logging for the tinyhttps server.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used throughout the server: connection lifecycle, TLS handshakes,
// request/response summaries and WebSocket traffic dumps.
//
// # Log Levels
//
//   - Debug: Frame dumps, parser progress, slot phase transitions
//   - Info: Connections, requests, responses, upgrades
//   - Warn: Malformed input, protocol violations, timeouts
//   - Error: Startup failures, transport write failures
//
// # Configuration
//
// Initialize logging at server startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// With an empty level the TINYHTTPS_LOG_LEVEL environment variable is used,
// and if that is empty too the logger is silent.
//
// The level is backed by a zap.AtomicLevel, so SetLevel adjusts a running
// server (the config watcher calls it when the config file changes).
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once Initialize has
// returned.
package logging
