package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/tinyhttps/internal/transport"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG rules only apply on linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if dir != "/tmp/xdg/tinyhttps" {
		t.Errorf("GetConfigDir() = %q, want /tmp/xdg/tinyhttps", dir)
	}

	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(path) != "server.yaml" {
		t.Errorf("GetConfigPath() should end with server.yaml, got %q", path)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	d := Default()
	if cfg.Server != d.Server || cfg.Limits != d.Limits || cfg.WebSocket != d.WebSocket {
		t.Errorf("Load() of missing file = %+v, want defaults", cfg)
	}
	if !cfg.TLS.Enabled {
		t.Error("TLS should be enabled by default")
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `version: 1
server:
  address: "127.0.0.1:8080"
  max_connections: 4
  keep_alive_timeout: 2s
tls:
  enabled: false
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"address", cfg.Server.Address, "127.0.0.1:8080"},
		{"max connections", cfg.Server.MaxConnections, 4},
		{"keep-alive timeout", cfg.Server.KeepAliveTimeout, 2 * time.Second},
		{"head timeout default", cfg.Server.HeadTimeout, 10 * time.Second},
		{"tls disabled", cfg.TLS.Enabled, false},
		{"profile default", cfg.TLS.Profile, "modern"},
		{"log level", cfg.Logging.Level, "debug"},
		{"metrics path default", cfg.Metrics.Path, "/metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"bad yaml", "server: [", ""},
		{"bad version", "version: 2\n", ""},
		{"bad address", "server:\n  address: nowhere\n", "server.address"},
		{"bad profile", "tls:\n  profile: ancient\n", "tls.profile"},
		{"bad schedule", "tls:\n  ticket_rotation: \"every now and then\"\n", "tls.ticket_rotation"},
		{"cert without key", "tls:\n  cert_file: a.pem\n", "tls.cert_file"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad metrics path", "metrics:\n  path: metrics\n", "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "server.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if tt.field == "" {
				return
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Load() error = %v, want ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("ValidationError %v does not name %s", verr, tt.field)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TINYHTTPS_SERVER_ADDRESS", ":9443")
	t.Setenv("TINYHTTPS_SERVER_MAX_CONNECTIONS", "16")
	t.Setenv("TINYHTTPS_SERVER_HEAD_TIMEOUT", "3s")
	t.Setenv("TINYHTTPS_TLS_ENABLED", "false")
	t.Setenv("TINYHTTPS_TLS_HOSTS", "a.local, 10.0.0.1 ,")
	t.Setenv("TINYHTTPS_WEBSOCKET_MAX_FRAME_PAYLOAD", "4096")
	t.Setenv("TINYHTTPS_LOGGING_LEVEL", "warn")
	t.Setenv("TINYHTTPS_SERVER_MAX_PENDING", "lots")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9443" || cfg.Server.MaxConnections != 16 || cfg.Server.HeadTimeout != 3*time.Second {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Server.MaxPending != Default().Server.MaxPending {
		t.Errorf("unparseable override changed MaxPending to %d", cfg.Server.MaxPending)
	}
	if cfg.TLS.Enabled {
		t.Error("TLS_ENABLED=false not applied")
	}
	if strings.Join(cfg.TLS.Hosts, "|") != "a.local|10.0.0.1" {
		t.Errorf("TLS hosts = %v", cfg.TLS.Hosts)
	}
	if cfg.WebSocket.MaxFramePayload != 4096 || cfg.Logging.Level != "warn" {
		t.Errorf("websocket/logging overrides not applied: %+v %+v", cfg.WebSocket, cfg.Logging)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.yaml")
	cfg := Default()
	cfg.Server.Address = "0.0.0.0:443"
	cfg.TLS.Profile = "legacy"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# tinyhttps server configuration") {
		t.Error("saved file should start with the header comment")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
	if info, err := os.Stat(path); err == nil && runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Address != "0.0.0.0:443" || loaded.TLS.Profile != "legacy" {
		t.Errorf("round trip lost values: %+v %+v", loaded.Server, loaded.TLS)
	}
	if loaded.Server.HeadTimeout != cfg.Server.HeadTimeout {
		t.Errorf("duration round trip = %v, want %v", loaded.Server.HeadTimeout, cfg.Server.HeadTimeout)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = "127.0.0.1:8443"
	cfg.Server.CaptureDir = "/tmp/capture"
	cfg.TLS.Profile = "legacy"
	cfg.TLS.Hosts = []string{"device.local"}

	sc := cfg.ToServerConfig()
	if sc.Addr != cfg.Server.Address || sc.MaxConnections != cfg.Server.MaxConnections {
		t.Errorf("ToServerConfig() = %+v", sc)
	}
	if sc.Limits.MaxHeaders != cfg.Limits.MaxHeaders || sc.WebSocket.MaxMessageSize != cfg.WebSocket.MaxMessageSize {
		t.Errorf("limits not carried over: %+v %+v", sc.Limits, sc.WebSocket)
	}
	if sc.WebSocketIdleTimeout != cfg.WebSocket.IdleTimeout || sc.CaptureDir != "/tmp/capture" {
		t.Errorf("websocket settings not carried over: %+v", sc)
	}

	params := cfg.CertParams()
	if !params.RSA || params.CommonName != "device.local" {
		t.Errorf("CertParams() = %+v, want RSA for device.local", params)
	}
	if opts := cfg.TransportOptions(); opts.HandshakeTimeout != cfg.TLS.HandshakeTimeout {
		t.Errorf("TransportOptions() = %+v", opts)
	}
	if cfg.Port() != 8443 {
		t.Errorf("Port() = %d, want 8443", cfg.Port())
	}
	if _, err := transport.ParseProfile(cfg.TLS.Profile); err != nil {
		t.Errorf("legacy profile should parse: %v", err)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	cfg := Default()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, cfg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go w.Watch(ctx, func(c *Config) { reloaded <- c })

	// Unrelated files in the directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0600)

	cfg.Logging.Level = "debug"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloaded:
		if got.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", got.Logging.Level)
		}
		if w.Current().Logging.Level != "debug" {
			t.Error("Current() not updated")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file change")
	}
}

func TestWatcherKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	cfg := Default()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, cfg, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	w.reload(nil)
	if w.Current() == cfg {
		t.Error("successful reload should replace the configuration")
	}

	good := w.Current()
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0600); err != nil {
		t.Fatal(err)
	}
	called := false
	w.reload(func(*Config) { called = true })
	if called || w.Current() != good {
		t.Error("invalid file should keep the previous configuration")
	}
	w.watcher.Close()
}
