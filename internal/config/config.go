// Package config provides configuration loading and management for the sync-monitor.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "MAILVAULT"

const (
	// DefaultRequestTimeout bounds each individual attempt against a server endpoint
	DefaultRequestTimeout = 10 * time.Second

	// DefaultFastTickInterval is the cadence of the local-estimate monitor tick
	DefaultFastTickInterval = 2 * time.Second

	// DefaultSlowTickInterval is the cadence of the authoritative remote status tick
	DefaultSlowTickInterval = 4 * time.Second

	// DefaultConfirmRetries is the number of extra status checks performed before
	// concluding that no sync job is active (3 checks total)
	DefaultConfirmRetries = 2

	// DefaultConfirmDelay is the pause between confirmation checks
	DefaultConfirmDelay = 1 * time.Second

	// DefaultListenAddress is the address the dashboard-facing HTTP surface binds to
	DefaultListenAddress = ":8095"

	// DefaultDataDir is where the engine keeps its small state files
	DefaultDataDir = "./data"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Server holds the archival server connection settings
	Server ServerConfig `yaml:"server"`

	// Monitor holds the real-time monitor cadences
	Monitor MonitorConfig `yaml:"monitor,omitempty"`

	// Coordinator holds the start-coordinator confirmation settings
	Coordinator CoordinatorConfig `yaml:"coordinator,omitempty"`

	// HTTP holds the dashboard-facing HTTP surface settings
	HTTP HTTPConfig `yaml:"http,omitempty"`

	// Storage holds local state file settings
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Telemetry holds the OpenTelemetry settings
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ServerConfig defines how the engine reaches the archival server
type ServerConfig struct {
	// Endpoints is the ordered list of candidate base URLs for the sync API.
	// The endpoint resolver tries them in order on every read.
	Endpoints []string `yaml:"endpoints"`

	// RequestTimeout bounds each individual HTTP attempt (e.g. "10s")
	RequestTimeout string `yaml:"requestTimeout,omitempty"`
}

// MonitorConfig defines the two polling cadences of the real-time monitor
type MonitorConfig struct {
	// FastTickInterval is the local-estimate recomputation cadence (e.g. "2s")
	FastTickInterval string `yaml:"fastTickInterval,omitempty"`

	// SlowTickInterval is the authoritative remote fetch cadence (e.g. "4s")
	SlowTickInterval string `yaml:"slowTickInterval,omitempty"`
}

// CoordinatorConfig defines the bounded double-check protocol settings
type CoordinatorConfig struct {
	// ConfirmRetries is the number of extra confirmation checks after the
	// initial status check reports no active job
	ConfirmRetries *int `yaml:"confirmRetries,omitempty"`

	// ConfirmDelay is the pause between confirmation checks (e.g. "1s")
	ConfirmDelay string `yaml:"confirmDelay,omitempty"`
}

// HTTPConfig defines the dashboard-facing HTTP surface settings
type HTTPConfig struct {
	// Address is the listen address (e.g. ":8095")
	Address string `yaml:"address,omitempty"`
}

// StorageConfig defines where the engine keeps local state files
type StorageConfig struct {
	// DataDir is the directory for the last-session history file
	DataDir string `yaml:"dataDir,omitempty"`
}

// TelemetryConfig defines OpenTelemetry settings
type TelemetryConfig struct {
	// Enabled controls whether metrics are exported
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint ("host:port")
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure allows HTTP connections instead of HTTPS
	Insecure bool `yaml:"insecure,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file, then applies
// environment variable overrides with the MAILVAULT prefix.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	applyEnvOverrides(&config)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides overlays MAILVAULT_* environment variables on the config
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if endpoints := v.GetString("SERVER_ENDPOINTS"); endpoints != "" {
		cfg.Server.Endpoints = splitAndTrim(endpoints)
	}
	if timeout := v.GetString("SERVER_REQUEST_TIMEOUT"); timeout != "" {
		cfg.Server.RequestTimeout = timeout
	}
	if addr := v.GetString("HTTP_ADDRESS"); addr != "" {
		cfg.HTTP.Address = addr
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Server.Endpoints) == 0 {
		return fmt.Errorf("at least one server endpoint must be configured")
	}
	for i, ep := range c.Server.Endpoints {
		parsed, err := url.Parse(ep)
		if err != nil {
			return fmt.Errorf("server.endpoints[%d]: invalid URL %q: %w", i, ep, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("server.endpoints[%d]: URL %q must use http or https", i, ep)
		}
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.requestTimeout", c.Server.RequestTimeout},
		{"monitor.fastTickInterval", c.Monitor.FastTickInterval},
		{"monitor.slowTickInterval", c.Monitor.SlowTickInterval},
		{"coordinator.confirmDelay", c.Coordinator.ConfirmDelay},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", field.name, field.value, err)
		}
	}

	if c.Coordinator.ConfirmRetries != nil && *c.Coordinator.ConfirmRetries < 0 {
		return fmt.Errorf("coordinator.confirmRetries cannot be negative")
	}

	return nil
}

// GetRequestTimeout returns the per-attempt request timeout, using the default if unset
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.Server.RequestTimeout, DefaultRequestTimeout)
}

// GetFastTickInterval returns the fast tick interval, using the default if unset
func (c *Config) GetFastTickInterval() time.Duration {
	return parseDurationOr(c.Monitor.FastTickInterval, DefaultFastTickInterval)
}

// GetSlowTickInterval returns the slow tick interval, using the default if unset
func (c *Config) GetSlowTickInterval() time.Duration {
	return parseDurationOr(c.Monitor.SlowTickInterval, DefaultSlowTickInterval)
}

// GetConfirmRetries returns the confirmation retry budget, using the default if unset
func (c *Config) GetConfirmRetries() int {
	if c.Coordinator.ConfirmRetries == nil {
		return DefaultConfirmRetries
	}
	return *c.Coordinator.ConfirmRetries
}

// GetConfirmDelay returns the pause between confirmation checks, using the default if unset
func (c *Config) GetConfirmDelay() time.Duration {
	return parseDurationOr(c.Coordinator.ConfirmDelay, DefaultConfirmDelay)
}

// GetListenAddress returns the HTTP listen address, using the default if unset
func (c *Config) GetListenAddress() string {
	if c.HTTP.Address == "" {
		return DefaultListenAddress
	}
	return c.HTTP.Address
}

// GetDataDir returns the local state directory, using the default if unset
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir == "" {
		return DefaultDataDir
	}
	return c.Storage.DataDir
}

// parseDurationOr parses a duration string, falling back to def when empty or
// invalid. Validation rejects invalid values at load time, so the fallback only
// covers configs constructed in code.
func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
