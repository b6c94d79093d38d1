// Package config loads the console configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvGatewayURL overrides the configured gateway URL when set.
const EnvGatewayURL = "OPSDECK_GATEWAY_URL"

// Defaults applied by Load for unset fields.
const (
	DefaultDataDir        = ".opsdeck"
	DefaultRole           = "operator"
	DefaultClientID       = "opsdeck"
	DefaultClientMode     = "observer"
	DefaultReconnectDelay = 5 * time.Second
	DefaultPollInterval   = 15 * time.Second
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the console configuration.
type Config struct {
	// GatewayURL is the websocket endpoint. When empty, the console falls
	// back to mDNS discovery.
	GatewayURL string `yaml:"gatewayUrl"`

	// Role and Scopes requested during the handshake.
	Role   string   `yaml:"role"`
	Scopes []string `yaml:"scopes"`

	// AuthToken is an optional pre-shared bearer secret.
	AuthToken string `yaml:"authToken"`

	// DataDir holds the identity and device token files.
	DataDir string `yaml:"dataDir"`

	// Client metadata sent with the handshake.
	ClientID   string `yaml:"clientId"`
	ClientMode string `yaml:"clientMode"`

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay Duration `yaml:"reconnectDelay"`

	// PollInterval is the time between list poll cycles.
	PollInterval Duration `yaml:"pollInterval"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// TraceFile, when set, receives the CBOR connection trace.
	TraceFile string `yaml:"traceFile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir:        DefaultDataDir,
		Role:           DefaultRole,
		ClientID:       DefaultClientID,
		ClientMode:     DefaultClientMode,
		ReconnectDelay: Duration(DefaultReconnectDelay),
		PollInterval:   Duration(DefaultPollInterval),
		LogLevel:       "info",
	}
}

// Load reads a YAML config file, fills defaults for unset fields and
// applies environment overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		applyDefaults(cfg)
	}

	if url := os.Getenv(EnvGatewayURL); url != "" {
		cfg.GatewayURL = url
	}

	return cfg, nil
}

// applyDefaults restores defaults for fields the file left empty or zero.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.Role == "" {
		cfg.Role = DefaultRole
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.ClientMode == "" {
		cfg.ClientMode = DefaultClientMode
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = Duration(DefaultReconnectDelay)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
