// config.go: client configuration with validation, file loading and defaults
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "250ms"-style strings or plain
// nanosecond numbers from JSON and YAML configuration files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	case int:
		*d = Duration(time.Duration(v))
	case int64:
		*d = Duration(time.Duration(v))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value of type %T", raw)
	}
	return nil
}

// ReconnectConfig controls the socket transport's reconnection policy.
//
// Delays grow as BaseDelay, 2*BaseDelay, 4*BaseDelay... capped at MaxDelay.
// After MaxAttempts consecutive failures the transport stays disconnected.
type ReconnectConfig struct {
	MaxAttempts      int      `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay        Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay         Duration `json:"max_delay" yaml:"max_delay"`
	HandshakeTimeout Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval     Duration `json:"ping_interval" yaml:"ping_interval"`
}

// FetchConfig controls the store's full-collection fetch retries.
//
// Retries of zero selects the default; a negative value disables retrying.
type FetchConfig struct {
	Retries   int      `json:"retries" yaml:"retries"`
	BaseDelay Duration `json:"base_delay" yaml:"base_delay"`
}

// ClientConfig holds every tunable of a Session.
//
// Example (YAML):
//
//	transport: socket
//	endpoint: ${WAVECRAFT_WS_URL:-ws://127.0.0.1:9000}
//	request_timeout: 5s
//	connect_timeout: 15s
//	reconnect:
//	  max_attempts: 5
//	  base_delay: 1s
//	fetch:
//	  retries: 3
//	  base_delay: 500ms
type ClientConfig struct {
	Transport          TransportKind   `json:"transport" yaml:"transport"`
	Endpoint           string          `json:"endpoint" yaml:"endpoint"`
	RequestTimeout     Duration        `json:"request_timeout" yaml:"request_timeout"`
	ConnectTimeout     Duration        `json:"connect_timeout" yaml:"connect_timeout"`
	StatusPollInterval Duration        `json:"status_poll_interval" yaml:"status_poll_interval"`
	Reconnect          ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	Fetch              FetchConfig     `json:"fetch" yaml:"fetch"`
}

// DefaultClientConfig returns the configuration used by the development tooling:
// a socket transport to the local dev server.
func DefaultClientConfig() ClientConfig {
	socket := DefaultSocketOptions()
	return ClientConfig{
		Transport:          TransportSocket,
		Endpoint:           DefaultEndpoint,
		RequestTimeout:     Duration(DefaultRequestTimeout),
		ConnectTimeout:     Duration(DefaultConnectTimeout),
		StatusPollInterval: Duration(DefaultStatusPollInterval),
		Reconnect: ReconnectConfig{
			MaxAttempts:      socket.MaxReconnectAttempts,
			BaseDelay:        Duration(socket.ReconnectBaseDelay),
			MaxDelay:         Duration(socket.ReconnectMaxDelay),
			HandshakeTimeout: Duration(socket.HandshakeTimeout),
			WriteTimeout:     Duration(socket.WriteTimeout),
			PingInterval:     Duration(socket.PingInterval),
		},
		Fetch: FetchConfig{
			Retries:   DefaultFetchRetries,
			BaseDelay: Duration(DefaultFetchBaseDelay),
		},
	}
}

// ApplyDefaults fills zero fields from DefaultClientConfig.
func (c *ClientConfig) ApplyDefaults() {
	d := DefaultClientConfig()
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.Endpoint == "" && c.Transport == TransportSocket {
		c.Endpoint = d.Endpoint
	}
	setDefaultDuration(&c.RequestTimeout, d.RequestTimeout)
	setDefaultDuration(&c.ConnectTimeout, d.ConnectTimeout)
	setDefaultDuration(&c.StatusPollInterval, d.StatusPollInterval)

	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	setDefaultDuration(&c.Reconnect.BaseDelay, d.Reconnect.BaseDelay)
	setDefaultDuration(&c.Reconnect.MaxDelay, d.Reconnect.MaxDelay)
	setDefaultDuration(&c.Reconnect.HandshakeTimeout, d.Reconnect.HandshakeTimeout)
	setDefaultDuration(&c.Reconnect.WriteTimeout, d.Reconnect.WriteTimeout)
	setDefaultDuration(&c.Reconnect.PingInterval, d.Reconnect.PingInterval)

	if c.Fetch.Retries == 0 {
		c.Fetch.Retries = d.Fetch.Retries
	}
	setDefaultDuration(&c.Fetch.BaseDelay, d.Fetch.BaseDelay)
}

func setDefaultDuration(field *Duration, value Duration) {
	if *field == 0 {
		*field = value
	}
}

// Validate checks the configuration for consistency.
func (c ClientConfig) Validate() error {
	switch c.Transport {
	case TransportSocket:
		if err := validateEndpoint(c.Endpoint); err != nil {
			return err
		}
	case TransportEmbedded:
	default:
		return NewConfigValidationError(fmt.Sprintf("unsupported transport %q (expected %q or %q)",
			c.Transport, TransportSocket, TransportEmbedded), nil)
	}

	if c.RequestTimeout <= 0 {
		return NewConfigValidationError("request_timeout must be positive", nil)
	}
	if c.ConnectTimeout <= 0 {
		return NewConfigValidationError("connect_timeout must be positive", nil)
	}
	if c.StatusPollInterval < 0 {
		return NewConfigValidationError("status_poll_interval cannot be negative", nil)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return NewConfigValidationError("reconnect.max_attempts cannot be negative", nil)
	}
	if c.Reconnect.BaseDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return NewConfigValidationError("reconnect delays cannot be negative", nil)
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return NewConfigValidationError("reconnect.max_delay must not be lower than reconnect.base_delay", nil)
	}
	if c.Fetch.BaseDelay < 0 {
		return NewConfigValidationError("fetch.base_delay cannot be negative", nil)
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return NewConfigValidationError("endpoint is required for the socket transport", nil)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return NewConfigValidationError("invalid endpoint URL", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return NewConfigValidationError(fmt.Sprintf("endpoint scheme must be ws or wss, got %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return NewConfigValidationError("endpoint has no host", nil)
	}
	return nil
}

// SocketOptions derives the socket transport options.
func (c ClientConfig) SocketOptions(logger Logger) SocketOptions {
	return SocketOptions{
		Endpoint:             c.Endpoint,
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
		ReconnectBaseDelay:   c.Reconnect.BaseDelay.Std(),
		ReconnectMaxDelay:    c.Reconnect.MaxDelay.Std(),
		HandshakeTimeout:     c.Reconnect.HandshakeTimeout.Std(),
		WriteTimeout:         c.Reconnect.WriteTimeout.Std(),
		PingInterval:         c.Reconnect.PingInterval.Std(),
		Logger:               logger,
	}
}

// StoreOptions derives the parameter store options.
func (c ClientConfig) StoreOptions(logger Logger) StoreOptions {
	return StoreOptions{
		FetchRetries:   c.Fetch.Retries,
		FetchBaseDelay: c.Fetch.BaseDelay.Std(),
		ConnectTimeout: c.ConnectTimeout.Std(),
		Logger:         logger,
	}
}

// LoadConfigFromFile reads a JSON, YAML or TOML configuration file, expands
// ${VAR} references, applies environment overrides and defaults, and validates
// the result.
func LoadConfigFromFile(path string) (ClientConfig, error) {
	return loadConfigFromFile(path, DefaultEnvConfigOptions())
}

func loadConfigFromFile(path string, envOptions EnvConfigOptions) (ClientConfig, error) {
	var config ClientConfig

	data, err := readConfigFile(path)
	if err != nil {
		return config, err
	}

	format := argus.DetectFormat(path)
	if err := parseClientConfig(data, format, &config); err != nil {
		return config, NewConfigParseError(path, err)
	}

	if err := ProcessConfigurationWithEnv(&config, envOptions); err != nil {
		return config, err
	}
	if err := ApplyEnvironmentOverrides(&config, envOptions); err != nil {
		return config, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, NewConfigFileError(path, fmt.Errorf("empty config file path"))
	}
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, NewConfigFileError(path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, NewConfigFileError(path, fmt.Errorf("not a regular file"))
	}
	if info.Size() > maxConfigFileSize {
		return nil, NewConfigFileError(path, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize))
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, NewConfigFileError(path, err)
	}
	return data, nil
}

const maxConfigFileSize = 1 << 20

// parseClientConfig uses yaml.v3 for YAML and argus for the remaining formats.
func parseClientConfig(data []byte, format argus.ConfigFormat, config *ClientConfig) error {
	switch format {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
		return nil
	case argus.FormatJSON, argus.FormatTOML:
		configMap, err := argus.ParseConfig(data, format)
		if err != nil {
			return err
		}
		return bindClientConfig(configMap, config)
	default:
		return fmt.Errorf("unsupported config format: %s", strings.TrimSpace(fmt.Sprint(format)))
	}
}

// bindClientConfig converts an argus configuration map into ClientConfig.
func bindClientConfig(configMap map[string]interface{}, config *ClientConfig) error {
	if configMap == nil {
		return fmt.Errorf("configuration map is nil")
	}
	jsonBytes, err := json.Marshal(configMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config map to JSON: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
