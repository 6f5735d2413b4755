// Package config provides TOML configuration file loading for the agent.
// The configuration file lives at ~/.devbridge/config.toml by default, but
// can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied by ApplyDefaults for fields left at their zero value.
const (
	// DefaultEndpoint is the control-server WebSocket URL.
	DefaultEndpoint = "ws://127.0.0.1:8420/bridge"

	// DefaultReconnectDelayMs is the fixed pause between reconnection
	// attempts. The delay is constant, not an increasing backoff.
	DefaultReconnectDelayMs = 3000

	// DefaultConsoleCapacity is the diagnostic ring size.
	DefaultConsoleCapacity = 1000

	// DefaultDiscoverTimeoutMs bounds the mDNS browse when --discover
	// is used.
	DefaultDiscoverTimeoutMs = 3000
)

// Config represents the agent configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files via struct tags.
type Config struct {
	// Endpoint is the control-server WebSocket URL the bridge dials.
	// Default: ws://127.0.0.1:8420/bridge
	Endpoint string `toml:"endpoint"`

	// ReconnectDelayMs is the fixed delay between reconnection attempts
	// in milliseconds. Default: 3000
	ReconnectDelayMs int `toml:"reconnect_delay_ms"`

	// ConsoleCapacity is the diagnostic ring capacity. On overflow the
	// ring keeps the most recent half. Default: 1000
	ConsoleCapacity int `toml:"console_capacity"`

	// Store is the path to the SQLite database for recording sessions.
	// Empty disables persistence: sessions then exist only for the
	// lifetime of the connection. Default: ~/.devbridge/devbridge.db
	// is NOT assumed; persistence is opt-in.
	Store string `toml:"store"`

	// AllowEval enables the eval channel. Disabled by default: a
	// control server should not evaluate expressions on the target
	// unless the operator opted in.
	AllowEval bool `toml:"allow_eval"`

	// Discover enables mDNS browsing for a control server on the local
	// network when no endpoint is configured. Default: false
	Discover bool `toml:"discover"`

	// DiscoverTimeoutMs bounds the mDNS browse in milliseconds.
	// Default: 3000
	DiscoverTimeoutMs int `toml:"discover_timeout_ms"`

	// LogFile redirects agent log output. Empty logs to stderr.
	LogFile string `toml:"log_file"`
}

// DefaultConfigPath returns the default config file location:
// ~/.devbridge/config.toml. Returns an error only if the user's home
// directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".devbridge", "config.toml"), nil
}

// Load reads a TOML config file from the given path.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.devbridge/config.toml). Returns an empty Config without error
//     if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try the default location, but don't error
		// if missing. The agent runs fine without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if the file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.ReconnectDelayMs == 0 {
		c.ReconnectDelayMs = DefaultReconnectDelayMs
	}
	if c.ConsoleCapacity == 0 {
		c.ConsoleCapacity = DefaultConsoleCapacity
	}
	if c.DiscoverTimeoutMs == 0 {
		c.DiscoverTimeoutMs = DefaultDiscoverTimeoutMs
	}
}

// Validate rejects values that cannot be defaulted away. Zero values
// mean "use default" and are valid.
func (c *Config) Validate() error {
	if c.ReconnectDelayMs < 0 {
		return fmt.Errorf("invalid reconnect_delay_ms %d: must be >= 0", c.ReconnectDelayMs)
	}
	if c.ConsoleCapacity < 0 {
		return fmt.Errorf("invalid console_capacity %d: must be >= 0", c.ConsoleCapacity)
	}
	if c.DiscoverTimeoutMs < 0 {
		return fmt.Errorf("invalid discover_timeout_ms %d: must be >= 0", c.DiscoverTimeoutMs)
	}
	return nil
}
