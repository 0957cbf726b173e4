// Package common provides shared constants, types, utilities, and interfaces
// used throughout the OpenVPN admin tool.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide defaults like management ports, timeouts and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage, notifications and logging
//   - Logger: Leveled logging with file output and rotation
//   - Utils: ID generation and file helpers
//
// # Usage
//
//	import "github.com/yllada/ovpn-admin/common"
//
//	timeout := common.ManagementTimeout
//
//	common.LogInfo("Connecting to management interface at %s", addr)
//
//	if errors.Is(err, common.ErrCredentialsNotFound) {
//	    // prompt for a password
//	}
package common
