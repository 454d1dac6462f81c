// Package config handles configuration loading and management for Nexus.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/appdir"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/notify"
)

// BackendConfig points the console at the BSP backend.
type BackendConfig struct {
	// BaseURL is the REST base URL, e.g. https://bsp.example.com
	BaseURL string `yaml:"base_url"`
	// StreamURL is the websocket endpoint. When empty it is derived
	// from BaseURL by swapping the scheme and appending /socket.
	StreamURL string `yaml:"stream_url,omitempty"`
}

// ResolvedStreamURL returns the websocket endpoint, deriving it from
// BaseURL when stream_url is not set.
func (b BackendConfig) ResolvedStreamURL() string {
	if b.StreamURL != "" {
		return b.StreamURL
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	return u.String()
}

// FacebookConfig configures the embedded-signup connect flow.
type FacebookConfig struct {
	// AppID is the Facebook app used for the OAuth dialog.
	AppID string `yaml:"app_id,omitempty"`
	// RedirectPort is the loopback port for the OAuth callback.
	// 0 selects a random free port.
	RedirectPort int `yaml:"redirect_port,omitempty"`
}

// StreamConfig tunes the event stream connection.
type StreamConfig struct {
	// MaxReconnectAttempts bounds the reconnect loop before the
	// connection is reported failed.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts,omitempty"`
	// ReconnectBackoffSeconds is the delay between reconnect attempts.
	ReconnectBackoffSeconds int `yaml:"reconnect_backoff_seconds,omitempty"`
	// LivenessIntervalSeconds is how often connection health is checked.
	LivenessIntervalSeconds int `yaml:"liveness_interval_seconds,omitempty"`
}

// ReconnectBackoff returns the backoff as a duration.
func (s StreamConfig) ReconnectBackoff() time.Duration {
	return time.Duration(s.ReconnectBackoffSeconds) * time.Second
}

// LivenessInterval returns the liveness check interval as a duration.
func (s StreamConfig) LivenessInterval() time.Duration {
	return time.Duration(s.LivenessIntervalSeconds) * time.Second
}

// SendConfig throttles outbound message sends.
type SendConfig struct {
	// RatePerSecond is the sustained send rate.
	RatePerSecond float64 `yaml:"rate_per_second,omitempty"`
	// Burst is the burst allowance on top of the sustained rate.
	Burst int `yaml:"burst,omitempty"`
}

// LoggingConfig configures the log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
	// File enables rotating file output when set.
	File string `yaml:"file,omitempty"`
	// JSON switches the file output to JSON lines.
	JSON bool `yaml:"json,omitempty"`
	// Components limits debug output to the named components.
	Components []string `yaml:"components,omitempty"`
}

// Config is the complete Nexus configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Facebook FacebookConfig `yaml:"facebook,omitempty"`
	Stream   StreamConfig   `yaml:"stream,omitempty"`
	Send     SendConfig     `yaml:"send,omitempty"`
	// Notify is the operator's alert rule list, evaluated in order.
	Notify  []notify.Rule `yaml:"notify,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// Default returns the configuration used when no settings file exists.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:3000",
		},
		Stream: StreamConfig{
			MaxReconnectAttempts:    5,
			ReconnectBackoffSeconds: 2,
			LivenessIntervalSeconds: 30,
		},
		Send: SendConfig{
			RatePerSecond: 10,
			Burst:         5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Parse parses YAML configuration data, layered over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the configuration file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadDefault loads the settings file from the data directory. A
// missing file is not an error: the defaults apply, and the returned
// path is where settings would be written.
func LoadDefault() (*Config, string, error) {
	path, err := appdir.SettingsPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), path, nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}

// Validate checks invariants that would make the console unusable.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		return fmt.Errorf("stream.max_reconnect_attempts must not be negative")
	}
	if c.Send.RatePerSecond <= 0 {
		return fmt.Errorf("send.rate_per_second must be positive")
	}
	return nil
}
