// Package config provides configuration management for OpenVPN Admin.
// It handles loading, saving, and validating the settings used to reach a
// management interface, the monitor and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/management"
)

// Config represents the application configuration.
// Files ending in .toml are read and written as TOML, everything else as YAML.
type Config struct {
	Management ManagementConfig `yaml:"management" toml:"management"`
	Monitor    MonitorConfig    `yaml:"monitor" toml:"monitor"`
	Log        LogConfig        `yaml:"log" toml:"log"`

	path string
}

// ManagementConfig describes the management endpoint.
type ManagementConfig struct {
	// Network is "tcp" or "unix".
	Network string `yaml:"network" toml:"network"`
	// Host is the TCP host or, for unix sockets, the socket path.
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
	// Timeouts use Go duration syntax ("3s", "500ms"). "0" disables a
	// read or write timeout.
	ConnectTimeout string `yaml:"connect_timeout" toml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout" toml:"write_timeout"`
	BufferSize     int    `yaml:"buffer_size" toml:"buffer_size"`
	// SupportedVersions lists accepted management interface versions.
	SupportedVersions []string `yaml:"supported_versions" toml:"supported_versions"`
	// Password is the plain management password. Prefer the keyring.
	Password string `yaml:"password,omitempty" toml:"password,omitempty"`
	// UseKeyring looks the password up in the system keyring.
	UseKeyring bool `yaml:"use_keyring" toml:"use_keyring"`
}

// MonitorConfig controls the polling monitor used by watch.
type MonitorConfig struct {
	Interval             string `yaml:"interval" toml:"interval"`
	FailureThreshold     int    `yaml:"failure_threshold" toml:"failure_threshold"`
	AutoReconnect        bool   `yaml:"auto_reconnect" toml:"auto_reconnect"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	// Notifications sends desktop notifications on health changes.
	Notifications bool `yaml:"notifications" toml:"notifications"`
}

// LogConfig controls the application logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
	// File enables logging to ~/.config/ovpn-admin/logs.
	File bool `yaml:"file" toml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Management: ManagementConfig{
			Network:           "tcp",
			Host:              common.DefaultManagementHost,
			Port:              common.DefaultManagementPort,
			ConnectTimeout:    common.ConnectionTimeout.String(),
			ReadTimeout:       common.ManagementTimeout.String(),
			WriteTimeout:      common.ManagementTimeout.String(),
			BufferSize:        common.DefaultBufferSize,
			SupportedVersions: []string{"1"},
		},
		Monitor: MonitorConfig{
			Interval:             common.MonitorInterval.String(),
			FailureThreshold:     3,
			AutoReconnect:        true,
			MaxReconnectAttempts: 3,
			Notifications:        false,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Load loads the configuration from the default location, or from the
// file named by OVPN_ADMIN_CONFIG.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration from path, creating it with defaults if
// it doesn't exist.
func LoadFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		cfg.path = configPath
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, common.WrapError(common.ErrConfigLoad, fmt.Sprintf("error opening configuration: %v", err))
	}

	config, err := Parse(data, isTOML(configPath))
	if err != nil {
		return nil, common.WrapError(common.ErrConfigLoad, err.Error())
	}
	config.path = configPath
	return config, nil
}

// Parse decodes and validates configuration data. Unknown fields are
// rejected in both formats.
func Parse(data []byte, asTOML bool) (*Config, error) {
	config := DefaultConfig()
	if asTOML {
		meta, err := toml.Decode(string(data), config)
		if err != nil {
			return nil, fmt.Errorf("error parsing configuration: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("error parsing configuration: unknown field %q", undecoded[0].String())
		}
	} else if len(strings.TrimSpace(string(data))) > 0 {
		decoder := yaml.NewDecoder(strings.NewReader(string(data)))
		decoder.KnownFields(true) // Strict validation: reject unknown fields
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("error parsing configuration: %w", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// validate checks values and falls back to defaults for missing ones.
func (c *Config) validate() error {
	def := DefaultConfig()
	m := &c.Management

	switch m.Network {
	case "":
		m.Network = def.Management.Network
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("management.network must be tcp or unix, got %q", m.Network)
	}
	if m.Host == "" {
		m.Host = def.Management.Host
	}
	if m.Network != "unix" && (m.Port < 1 || m.Port > 65535) {
		return fmt.Errorf("management.port out of range: %d", m.Port)
	}
	if m.BufferSize <= 0 {
		m.BufferSize = def.Management.BufferSize
	}
	if len(m.SupportedVersions) == 0 {
		m.SupportedVersions = def.Management.SupportedVersions
	}
	for key, value := range map[string]*string{
		"management.connect_timeout": &m.ConnectTimeout,
		"management.read_timeout":    &m.ReadTimeout,
		"management.write_timeout":   &m.WriteTimeout,
		"monitor.interval":           &c.Monitor.Interval,
	} {
		if *value == "" {
			continue
		}
		if _, err := parseDuration(*value, key); err != nil {
			return err
		}
	}
	if m.ConnectTimeout == "" {
		m.ConnectTimeout = def.Management.ConnectTimeout
	}
	if c.Monitor.Interval == "" {
		c.Monitor.Interval = def.Monitor.Interval
	}

	if c.Monitor.FailureThreshold <= 0 {
		c.Monitor.FailureThreshold = def.Monitor.FailureThreshold
	}
	if c.Monitor.MaxReconnectAttempts < 0 {
		c.Monitor.MaxReconnectAttempts = 0
	}

	if _, ok := common.ParseLogLevel(c.Log.Level); !ok {
		c.Log.Level = def.Log.Level // Fallback to default
	}
	return nil
}

func parseDuration(value, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// mustDuration parses a value already checked by validate.
func mustDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, _ := time.ParseDuration(strings.TrimSpace(value))
	return d
}

// Save saves the configuration to the file it was loaded from, or to the
// default location.
func (c *Config) Save() error {
	configPath := c.path
	if configPath == "" {
		var err error
		if configPath, err = DefaultPath(); err != nil {
			return err
		}
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return common.WrapError(common.ErrConfigSave, fmt.Sprintf("error creating config directory: %v", err))
	}

	var (
		data []byte
		err  error
	)
	if isTOML(configPath) {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return common.WrapError(common.ErrConfigSave, fmt.Sprintf("error serializing configuration: %v", err))
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return common.WrapError(common.ErrConfigSave, fmt.Sprintf("error saving configuration: %v", err))
	}
	c.path = configPath
	return nil
}

// DefaultPath returns OVPN_ADMIN_CONFIG when set, otherwise
// ~/.config/ovpn-admin/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(common.EnvConfig); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Endpoint identifies the management interface, e.g. tcp://localhost:7505.
// It keys the stored password.
func (m ManagementConfig) Endpoint() string {
	return m.Network + "://" + m.SessionConfig().Address()
}

// SessionConfig converts the file settings into session parameters.
// The password is not included; see ResolvePassword.
func (m ManagementConfig) SessionConfig() management.Config {
	cfg := management.DefaultConfig()
	if m.Network != "" {
		cfg.Network = m.Network
	}
	if m.Host != "" {
		cfg.Host = m.Host
	}
	if m.Port != 0 {
		cfg.Port = m.Port
	}
	if m.ConnectTimeout != "" {
		cfg.ConnectTimeout = mustDuration(m.ConnectTimeout)
	}
	if m.ReadTimeout != "" {
		cfg.ReadTimeout = mustDuration(m.ReadTimeout)
	}
	if m.WriteTimeout != "" {
		cfg.WriteTimeout = mustDuration(m.WriteTimeout)
	}
	if m.BufferSize > 0 {
		cfg.BufferSize = m.BufferSize
	}
	if len(m.SupportedVersions) > 0 {
		cfg.SupportedVersions = append([]string(nil), m.SupportedVersions...)
	}
	return cfg
}

// ResolvePassword returns the management password from, in order, the
// config file, the OVPN_ADMIN_PASSWORD environment variable and the
// credential store. An empty result means no password is configured.
func (m ManagementConfig) ResolvePassword(store common.CredentialStore) (string, error) {
	if m.Password != "" {
		return m.Password, nil
	}
	if pw := os.Getenv(common.EnvPassword); pw != "" {
		return pw, nil
	}
	if !m.UseKeyring || store == nil {
		return "", nil
	}

	pw, err := store.Get(m.Endpoint())
	if errors.Is(err, common.ErrCredentialsNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pw, nil
}

// PollInterval returns the monitor interval.
func (m MonitorConfig) PollInterval() time.Duration {
	if d := mustDuration(m.Interval); d > 0 {
		return d
	}
	return common.MonitorInterval
}
