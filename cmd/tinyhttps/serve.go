package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/tinyhttps/internal/config"
	"github.com/muurk/tinyhttps/internal/demo"
	"github.com/muurk/tinyhttps/internal/discovery"
	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/metrics"
	"github.com/muurk/tinyhttps/internal/server"
	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/muurk/tinyhttps/internal/ui"
	"github.com/muurk/tinyhttps/internal/version"
)

// AdminPasswordEnvVar supplies the demo admin password when the flag is not
// given.
const AdminPasswordEnvVar = "TINYHTTPS_ADMIN_PASSWORD"

// Serve command flags
var (
	serveAddr        string
	serveLogLevel    string
	serveCert        string
	serveKey         string
	serveProfile     string
	serveNoTLS       bool
	serveMaxConns    int
	serveCaptureDir  string
	serveAdvertise   bool
	serveNoDemo      bool
	serveTUI         bool
	serveAdminUser   string
	serveAdminPasswd string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the server with the demo application and the metrics endpoint.

When TLS is enabled and no certificate is configured, a self-signed
certificate is generated for the configured hosts on every start. Use
'tinyhttps certs generate' to create one that persists.

The legacy TLS profile restricts the server to TLS 1.2 with RSA key exchange
cipher suites, for clients with small TLS stacks.`,
	Example: `  # Start with defaults (TLS on :8443, self-signed certificate)
  tinyhttps serve

  # Plaintext on port 8080 with debug logging
  tinyhttps serve --no-tls --addr :8080 --log-level debug

  # Your own certificate, legacy profile, live slot monitor
  tinyhttps serve --cert cert.pem --key key.pem --profile legacy --tui

  # Record every inbound WebSocket message and advertise over mDNS
  tinyhttps serve --capture-dir ./captures --advertise`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	f.StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&serveCert, "cert", "", "Path to TLS certificate file")
	f.StringVar(&serveKey, "key", "", "Path to TLS private key file")
	f.StringVar(&serveProfile, "profile", "", "TLS profile (modern, legacy)")
	f.BoolVar(&serveNoTLS, "no-tls", false, "Serve plaintext HTTP")
	f.IntVar(&serveMaxConns, "max-connections", 0, "Number of connection slots")
	f.StringVar(&serveCaptureDir, "capture-dir", "", "Directory for JSONL captures of WebSocket messages")
	f.BoolVar(&serveAdvertise, "advertise", false, "Advertise the server over mDNS")
	f.BoolVar(&serveNoDemo, "no-demo", false, "Do not install the demo application")
	f.BoolVar(&serveTUI, "tui", false, "Show the live connection monitor")
	f.StringVar(&serveAdminUser, "admin-user", "admin", "Username for the demo admin routes")
	f.StringVar(&serveAdminPasswd, "admin-password", "", "Password for the demo admin routes (default $"+AdminPasswordEnvVar+", empty disables them)")
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

// loadServeConfig reads the config file and applies the command flags.
func loadServeConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", path, err)
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Address = serveAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = serveLogLevel
	}
	if flags.Changed("cert") || flags.Changed("key") {
		cfg.TLS.CertFile = serveCert
		cfg.TLS.KeyFile = serveKey
	}
	if flags.Changed("profile") {
		cfg.TLS.Profile = serveProfile
	}
	if serveNoTLS {
		cfg.TLS.Enabled = false
	}
	if flags.Changed("max-connections") {
		cfg.Server.MaxConnections = serveMaxConns
	}
	if flags.Changed("capture-dir") {
		cfg.Server.CaptureDir = serveCaptureDir
	}
	if serveAdvertise {
		cfg.Discovery.Enabled = true
	}
	if serveNoDemo {
		cfg.Demo.Enabled = false
	}

	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	if cfg.Server.CaptureDir != "" {
		info, err := os.Stat(cfg.Server.CaptureDir)
		if err != nil {
			return nil, "", fmt.Errorf("cannot access capture directory: %w", err)
		}
		if !info.IsDir() {
			return nil, "", fmt.Errorf("capture path is not a directory: %s", cfg.Server.CaptureDir)
		}
	}
	return cfg, path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	// The monitor owns the terminal, so log lines would corrupt it.
	if serveTUI {
		logging.SetLogger(zap.NewNop())
	} else if err := logging.Initialize(cfg.Logging.Level); err != nil {
		return err
	}
	defer logging.Sync()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := buildFactory(sigCtx, cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg.ToServerConfig(), factory)
	if err := srv.SetDefaultHeader("Server", version.ServerHeader()); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(metrics.DefaultNamespace, nil)
		collector.ObserveStats(srv.Stats)
		if err := srv.SetObserver(collector); err != nil {
			return err
		}
		if err := srv.Handle(http1.Methods{http1.MethodGet}, cfg.Metrics.Path, collector.Handler()); err != nil {
			return fmt.Errorf("failed to register metrics endpoint: %w", err)
		}
	}

	if cfg.Demo.Enabled {
		store, err := demo.OpenStore(cfg.Demo.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		password := serveAdminPasswd
		if password == "" {
			password = os.Getenv(AdminPasswordEnvVar)
		}
		app := demo.New(store, demo.Options{
			MaxUpload:     cfg.Demo.MaxUpload,
			AdminUser:     serveAdminUser,
			AdminPassword: password,
			Stats:         srv.Stats,
		})
		if err := app.Register(srv); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(discovery.Advertisement{
			Instance: cfg.Discovery.Instance,
			Domain:   cfg.Discovery.Domain,
			Port:     port,
			Secure:   cfg.TLS.Enabled,
			Text:     []string{"version=" + version.Version},
		})
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	if _, err := os.Stat(path); err == nil {
		w, err := config.NewWatcher(path, cfg, config.DefaultDebounce)
		if err != nil {
			logging.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			go func() {
				if err := w.Watch(sigCtx, nil); err != nil {
					logging.Warn("Config watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	if !serveTUI {
		ui.NewPrinter(nil).PrintBanner("tinyhttps", version.Full(), []ui.Field{
			{Key: "Listening", Value: fmt.Sprintf("%s://%s", scheme, ln.Addr())},
			{Key: "Slots", Value: strconv.Itoa(srv.Config().MaxConnections)},
			{Key: "TLS profile", Value: tlsSummary(cfg)},
			{Key: "Metrics", Value: enabledPath(cfg.Metrics.Enabled, cfg.Metrics.Path)},
			{Key: "Demo", Value: enabledPath(cfg.Demo.Enabled, "/")},
			{Key: "Config", Value: path},
		})
	}

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(serveCtx, ln)
		stop()
	}()

	if serveTUI {
		model := ui.NewMonitorModel("tinyhttps", fmt.Sprintf("%s://%s", scheme, ln.Addr()), srv.Stats)
		if err := ui.RunMonitor(sigCtx, model); err != nil {
			logging.Error("Monitor failed", zap.Error(err))
		}
	} else {
		<-sigCtx.Done()
	}

	select {
	case err := <-errCh:
		return err
	default:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logging.Error("Shutdown failed", zap.Error(err))
	}
	return <-errCh
}

// buildFactory returns the stream factory for the configured transport and
// starts session ticket rotation for TLS.
func buildFactory(ctx context.Context, cfg *config.Config) (transport.Factory, error) {
	opts := cfg.TransportOptions()
	if !cfg.TLS.Enabled {
		return transport.NewPlainFactory(opts), nil
	}

	profile, err := transport.ParseProfile(cfg.TLS.Profile)
	if err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if cfg.TLS.CertFile != "" {
		tlsConfig, err = transport.NewTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, profile)
	} else {
		var cert *transport.ServerCert
		cert, err = transport.GenerateSelfSigned(cfg.CertParams())
		if err != nil {
			return nil, fmt.Errorf("failed to generate certificate: %w", err)
		}
		logging.Info("Generated self-signed certificate",
			zap.String("cn", cert.Certificate.Subject.CommonName),
			zap.Strings("hosts", cfg.TLS.Hosts),
		)
		tlsConfig, err = transport.NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM, profile)
	}
	if err != nil {
		return nil, err
	}

	if cfg.TLS.TicketRotation != "" {
		rotator, err := transport.NewTicketRotator(tlsConfig, cfg.TLS.TicketRotation, cfg.TLS.TicketKeys)
		if err != nil {
			return nil, err
		}
		if err := rotator.Start(ctx); err != nil {
			return nil, err
		}
	}
	return transport.NewTLSFactory(tlsConfig, opts), nil
}

func tlsSummary(cfg *config.Config) string {
	if !cfg.TLS.Enabled {
		return "disabled"
	}
	if cfg.TLS.CertFile != "" {
		return cfg.TLS.Profile + " (" + cfg.TLS.CertFile + ")"
	}
	return cfg.TLS.Profile + " (self-signed)"
}

func enabledPath(enabled bool, path string) string {
	if !enabled {
		return "disabled"
	}
	return path
}
