// Package config loads, validates and persists the tinyhttps server
// configuration.
//
// # Configuration File Location
//
// The default file lives in a platform-appropriate directory:
//   - Linux: $XDG_CONFIG_HOME/tinyhttps/server.yaml or $HOME/.config/tinyhttps/server.yaml
//   - macOS: $HOME/.config/tinyhttps/server.yaml
//   - Windows: %LOCALAPPDATA%\tinyhttps\server.yaml
//
// # Precedence
//
// Values are resolved in this order, later wins:
//  1. Default()
//  2. the YAML file
//  3. TINYHTTPS_<SECTION>_<FIELD> environment variables
//  4. command line flags (applied by the caller)
//
// # Reloading
//
// A Watcher follows the file with fsnotify. The log level takes effect
// immediately; connection pool and routing settings need a restart.
//
// # Usage Example
//
//	path, _ := config.GetConfigPath()
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	srv := server.New(cfg.ToServerConfig(), factory)
package config
