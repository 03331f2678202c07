package logging

import (
	"crypto/tls"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, lvl zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(lvl)
	old := logger
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(old) })
	return logs
}

func TestLogWebSocketMessage(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	LogWebSocketMessage("c1", "received", "text", true, []byte("hello"))
	LogWebSocketMessage("c1", "received", "binary", false, []byte{0xde, 0xad})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["content"]; got != "hello" {
		t.Errorf("text content = %v", got)
	}
	if got := entries[1].ContextMap()["hex"]; got != "dead" {
		t.Errorf("binary hex = %v", got)
	}
}

func TestLogWebSocketMessageSkippedAboveDebug(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)
	LogWebSocketMessage("c1", "received", "text", true, []byte("hello"))
	if logs.Len() != 0 {
		t.Errorf("got %d entries at info level, want 0", logs.Len())
	}
}

func TestLogTLSHandshake(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)
	LogTLSHandshake("10.0.0.1:1234", tls.VersionTLS12, tls.TLS_RSA_WITH_AES_128_CBC_SHA, "panel.local")

	fields := logs.All()[0].ContextMap()
	if fields["tls_version"] != "TLS 1.2" {
		t.Errorf("tls_version = %v", fields["tls_version"])
	}
	if fields["cipher_suite"] != "TLS_RSA_WITH_AES_128_CBC_SHA" {
		t.Errorf("cipher_suite = %v", fields["cipher_suite"])
	}
}

func TestDumps(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		hex   string
		ascii string
	}{
		{"empty", nil, "", ""},
		{"printable", []byte("GET /"), "474554202f", "GET /"},
		{"control bytes", []byte{'a', 0, '\n', 'b'}, "61000a62", "a..b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hexDump(tt.data); got != tt.hex {
				t.Errorf("hexDump() = %q, want %q", got, tt.hex)
			}
			if got := asciiDump(tt.data); got != tt.ascii {
				t.Errorf("asciiDump() = %q, want %q", got, tt.ascii)
			}
		})
	}

	long := make([]byte, maxDump+10)
	if got := hexDump(long); !strings.HasSuffix(got, "...") || len(got) != 2*maxDump+3 {
		t.Errorf("hexDump(long) length = %d", len(got))
	}
}

func TestSetLevel(t *testing.T) {
	old := level.Level()
	defer level.SetLevel(old)

	SetLevel("warn")
	if level.Level() != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", level.Level())
	}
	SetLevel("bogus")
	if level.Level() != zapcore.InfoLevel {
		t.Errorf("unknown level = %v, want info", level.Level())
	}
}
