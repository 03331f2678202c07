package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/muurk/tinyhttps/internal/config"
	"github.com/muurk/tinyhttps/internal/demo"
	"github.com/muurk/tinyhttps/internal/discovery"
	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/metrics"
	"github.com/muurk/tinyhttps/internal/router"
	"github.com/muurk/tinyhttps/internal/server"
	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/muurk/tinyhttps/internal/ui"
)

// routesCmd lists the routes serve would install
var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	Long: `Print every route the serve command installs with the current
configuration: the demo application, its WebSocket endpoints and the
metrics endpoint.`,
	RunE: runRoutes,
}

func runRoutes(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	srv := server.New(cfg.ToServerConfig(), nil)
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(metrics.DefaultNamespace, nil)
		if err := srv.Handle(http1.Methods{http1.MethodGet}, cfg.Metrics.Path, collector.Handler()); err != nil {
			return err
		}
	}
	if cfg.Demo.Enabled {
		store, err := demo.OpenStore("")
		if err != nil {
			return err
		}
		defer store.Close()
		if err := demo.New(store, demo.Options{}).Register(srv); err != nil {
			return err
		}
	}

	routes := srv.Routes()
	if len(routes) == 0 {
		fmt.Println("No routes installed (demo and metrics are disabled).")
		return nil
	}
	ui.NewPrinter(nil).PrintTable([]string{"PATTERN", "METHODS", "KIND", "TAG"}, routeRows(routes))
	return nil
}

func routeRows(routes []router.RouteInfo) [][]string {
	rows := make([][]string, 0, len(routes))
	for _, r := range routes {
		kind := "http"
		methods := make([]string, 0, len(r.Methods))
		for _, m := range r.Methods {
			methods = append(methods, string(m))
		}
		if r.WebSocket {
			kind = "websocket"
			methods = []string{"GET"}
		}
		rows = append(rows, []string{r.Pattern, strings.Join(methods, ","), kind, r.Tag})
	}
	return rows
}

// Certificate command flags
var (
	certOut     string
	keyOut      string
	certHosts   []string
	certDays    int
	certRSA     bool
	certCN      string
	certOrgName string
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage TLS certificates",
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a self-signed server certificate",
	Long: `Generate a self-signed certificate and private key as PEM files.

Use --rsa for clients restricted to the legacy TLS profile, which only offers
RSA key exchange.`,
	Example: `  # Certificate for localhost
  tinyhttps certs generate

  # Certificate for a device name and address, RSA key
  tinyhttps certs generate --host panel.local --host 192.168.4.20 --rsa`,
	RunE: runCertsGenerate,
}

func init() {
	f := certsGenerateCmd.Flags()
	f.StringVar(&certOut, "cert-out", "cert.pem", "Certificate output path")
	f.StringVar(&keyOut, "key-out", "key.pem", "Private key output path")
	f.StringSliceVar(&certHosts, "host", nil, "DNS name or IP address (repeatable)")
	f.IntVar(&certDays, "days", 365, "Validity in days")
	f.BoolVar(&certRSA, "rsa", false, "Use an RSA 2048 key instead of ECDSA P-256")
	f.StringVar(&certCN, "cn", "", "Common name (default: first host)")
	f.StringVar(&certOrgName, "org", "tinyhttps", "Organization")
	certsCmd.AddCommand(certsGenerateCmd)
}

func runCertsGenerate(cmd *cobra.Command, args []string) error {
	params := transport.DefaultCertParams()
	if len(certHosts) > 0 {
		params.Hosts = certHosts
		params.CommonName = certHosts[0]
	}
	if certCN != "" {
		params.CommonName = certCN
	}
	params.Organization = certOrgName
	params.ValidDays = certDays
	params.RSA = certRSA

	cert, err := transport.GenerateSelfSigned(params)
	if err != nil {
		return err
	}
	if err := cert.WriteFiles(certOut, keyOut); err != nil {
		return err
	}

	keyType := "ECDSA P-256"
	if certRSA {
		keyType = "RSA 2048"
	}
	ui.NewPrinter(nil).PrintSuccess("Certificate generated", []ui.Field{
		{Key: "Certificate", Value: certOut},
		{Key: "Key", Value: keyOut},
		{Key: "Subject", Value: cert.Certificate.Subject.CommonName},
		{Key: "Hosts", Value: strings.Join(params.Hosts, ", ")},
		{Key: "Key type", Value: keyType},
		{Key: "Expires", Value: cert.Certificate.NotAfter.Format(time.RFC3339)},
	})
	return nil
}

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(filepath.Clean(path))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Discover command flags
var (
	discoverTimeout int
	discoverAll     bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find tinyhttps servers on the local network",
	Long: `Browse mDNS for servers advertising _http._tcp or _https._tcp.

Only tinyhttps instances are listed unless --all is given.`,
	Example: `  # Browse for 5 seconds (default)
  tinyhttps discover

  # Include every HTTP service
  tinyhttps discover --all --timeout 10`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", int(discovery.DefaultScanTimeout/time.Second), "Browse timeout in seconds")
	discoverCmd.Flags().BoolVar(&discoverAll, "all", false, "Include services that are not tinyhttps servers")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(discoverTimeout) * time.Second
	scanner.All = discoverAll

	fmt.Printf("Browsing for servers (timeout: %ds)...\n\n", discoverTimeout)
	services, err := scanner.Browse(cmd.Context())
	if err != nil {
		return fmt.Errorf("browse failed: %w", err)
	}
	if len(services) == 0 {
		fmt.Println("No servers found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Start the server with --advertise")
		fmt.Println("  - Multicast traffic may be blocked between subnets")
		fmt.Println("  - Try increasing --timeout")
		return nil
	}

	rows := make([][]string, 0, len(services))
	for _, s := range services {
		rows = append(rows, []string{s.Instance, s.BaseURL(), s.Hostname, s.GetMetadata("version")})
	}
	ui.NewPrinter(nil).PrintTable([]string{"INSTANCE", "URL", "HOST", "VERSION"}, rows)
	return nil
}

// WebSocket client flags
var (
	wsInsecure bool
	wsWait     time.Duration
	wsTimeout  time.Duration
)

var wsclientCmd = &cobra.Command{
	Use:   "wsclient <url> [message...]",
	Short: "Send messages to a WebSocket endpoint and print replies",
	Long: `Connect to a WebSocket endpoint, send each message as a text frame and
print every message received until --wait elapses with nothing new.

Useful for checking a running server against an independent client
implementation.`,
	Example: `  # Echo round trip against a local plaintext server
  tinyhttps wsclient ws://localhost:8080/ws/echo hello world

  # Chat room on a server with a self-signed certificate
  tinyhttps wsclient --insecure wss://localhost:8443/ws/chat hi`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWSClient,
}

func init() {
	f := wsclientCmd.Flags()
	f.BoolVar(&wsInsecure, "insecure", false, "Skip TLS certificate verification")
	f.DurationVar(&wsWait, "wait", time.Second, "How long to wait for further messages")
	f.DurationVar(&wsTimeout, "timeout", 10*time.Second, "Handshake timeout")
}

func runWSClient(cmd *cobra.Command, args []string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: wsInsecure},
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), wsTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, args[0], http.Header{"Origin": {"http://localhost"}})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("handshake failed: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s (%s)\n", args[0], resp.Header.Get("Server"))

	for _, msg := range args[1:] {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("> %s\n", msg)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(wsWait))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				fmt.Printf("Server closed: %d %s\n", ce.Code, ce.Text)
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if mt == websocket.BinaryMessage {
			fmt.Printf("< [%d bytes binary] %x\n", len(data), data)
			continue
		}
		fmt.Printf("< %s\n", data)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}
