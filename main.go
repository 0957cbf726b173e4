// Package main provides the entry point for OpenVPN Admin, a command-line
// client for the OpenVPN management interface.
//
// Features:
//   - Query version, state history, client status, load statistics and logs
//   - Disconnect clients and signal the server process
//   - Live terminal dashboard with health monitoring
//   - Management password storage using the system keyring
//
// Usage:
//
//	ovpn-admin [--host HOST] [--port PORT] [-o text|json|yaml] COMMAND
//
// Environment:
//
//	The OpenVPN server must be started with --management. OVPN_ADMIN_CONFIG
//	selects the configuration file and OVPN_ADMIN_PASSWORD supplies the
//	management password.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/ovpn-admin/cli"
	"github.com/yllada/ovpn-admin/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	code := run(ctx, os.Args[1:], os.Stderr)
	cancel()
	common.CloseLogger()
	os.Exit(code)
}

// run executes the command line and returns the exit code. A failure is
// reported once, on stderr.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	app := cli.New(cli.BuildInfo{Version: appVersion, Commit: commitSHA, Date: buildTime})
	if err := app.Execute(ctx, args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// Cancelling the context interrupts a blocked management read.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
