// Package common provides shared constants, types, and utilities
// used across the OpenVPN admin tool.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "OpenVPN Admin"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ovpn-admin"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "ovpn-admin.log"
)

// Management interface defaults.
const (
	// DefaultManagementHost is the host the management interface listens on.
	DefaultManagementHost = "localhost"
	// DefaultManagementPort is the conventional management port.
	DefaultManagementPort = 7505
	// DefaultBufferSize is the socket read chunk size in bytes.
	DefaultBufferSize = 4096
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time to wait for the management socket to connect.
	ConnectionTimeout = 3 * time.Second
	// ManagementTimeout is the timeout for a single management command round trip.
	ManagementTimeout = 5 * time.Second
	// MonitorInterval is how often the monitor polls the server.
	MonitorInterval = 5 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
)

// Environment variables.
const (
	// EnvPassword overrides the management interface password.
	EnvPassword = "OVPN_ADMIN_PASSWORD"
	// EnvConfig overrides the configuration file path.
	EnvConfig = "OVPN_ADMIN_CONFIG"
)

// Output formats supported by the CLI.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)
