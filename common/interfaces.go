// Package common provides shared constants, types, and utilities
// used across the OpenVPN admin tool.
package common

// CredentialStore defines the interface for management password storage.
// Implementations may use the system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves the password for a management endpoint.
	Store(endpoint, password string) error
	// Get retrieves the password for a management endpoint.
	Get(endpoint string) (string, error)
	// Delete removes the password for a management endpoint.
	Delete(endpoint string) error
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
