package management

import (
	"net"
	"strconv"
	"time"

	"github.com/yllada/ovpn-admin/common"
)

// Config holds the connection parameters for one management endpoint.
// It is passed by value to Connect; there are no package-level defaults to
// mutate.
type Config struct {
	// Network is "tcp" or "unix".
	Network string
	// Host is the TCP host, or the socket path when Network is "unix".
	Host string
	// Port is the TCP port; ignored for unix sockets.
	Port int
	// ConnectTimeout bounds the dial.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for a complete reply. Zero disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds sending a command. Zero disables it.
	WriteTimeout time.Duration
	// BufferSize is the socket read chunk size.
	BufferSize int
	// SupportedVersions lists accepted management interface versions.
	SupportedVersions []string
	// Password answers the ENTER PASSWORD: prompt when set.
	Password string
	// Logger receives protocol traces at debug level and shutdown warnings.
	Logger common.Logger
}

// DefaultConfig returns the settings for a local management interface on
// the conventional port.
func DefaultConfig() Config {
	return Config{
		Network:           "tcp",
		Host:              common.DefaultManagementHost,
		Port:              common.DefaultManagementPort,
		ConnectTimeout:    common.ConnectionTimeout,
		ReadTimeout:       common.ManagementTimeout,
		WriteTimeout:      common.ManagementTimeout,
		BufferSize:        common.DefaultBufferSize,
		SupportedVersions: []string{"1"},
	}
}

// Address returns the dial address.
func (c Config) Address() string {
	if c.Network == "unix" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// withDefaults fills zero fields. Timeouts are left alone so callers can
// disable them explicitly.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Network == "" {
		c.Network = def.Network
	}
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if len(c.SupportedVersions) == 0 {
		c.SupportedVersions = def.SupportedVersions
	}
	if c.Logger == nil {
		c.Logger = common.NopLogger{}
	}
	return c
}
