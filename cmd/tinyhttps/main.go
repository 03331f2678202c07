// Tinyhttps is a small HTTP/1.1 and WebSocket server built for constrained
// devices.
//
// It serves a fixed pool of connection slots from a single poll loop, over
// plaintext or TLS, and ships a demo application that exercises routing,
// form and multipart bodies, middleware and WebSockets.
//
// Usage:
//
//	tinyhttps serve [flags]
//
// See 'tinyhttps --help' for available commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/tinyhttps/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configPath is shared by every command that reads the config file.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "tinyhttps",
	Short: "Tiny HTTP/1.1 and WebSocket server",
	Long: `A single-threaded HTTP/1.1 and WebSocket server with a fixed pool of
connection slots, sized for small devices.

Configuration is read from the file given by --config, or from the default
location ($XDG_CONFIG_HOME/tinyhttps/server.yaml). TINYHTTPS_* environment
variables override file values and command flags override both.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(wsclientCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tinyhttps %s (commit: %s, %s, %s)\n",
			info.Version, info.Commit, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}
