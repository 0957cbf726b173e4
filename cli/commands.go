package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/config"
	"github.com/yllada/ovpn-admin/keyring"
	"github.com/yllada/ovpn-admin/management"
	"github.com/yllada/ovpn-admin/monitor"
	"github.com/yllada/ovpn-admin/notify"
	"github.com/yllada/ovpn-admin/tui"
)

// historyArg converts an optional N|all argument.
func historyArg(args []string, fallback string) (string, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	if strings.EqualFold(args[0], management.HistoryAll) {
		return management.HistoryAll, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("history must be a positive number or %q, got %q", management.HistoryAll, args[0])
	}
	return management.HistoryCount(n), nil
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var info management.VersionInfo
			err := c.withSession(cmd.Context(), func(s *management.Session) error {
				var err error
				info, err = s.Version(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}

			out := struct {
				Client string `json:"client" yaml:"client"`
				management.VersionInfo `yaml:",inline"`
			}{Client: c.build.Version, VersionInfo: info}
			return c.render(out, func(w io.Writer) error {
				fmt.Fprintf(w, "%s %s\n", common.AppName, c.build.Version)
				if c.build.Commit != "" && c.build.Commit != "unknown" {
					fmt.Fprintf(w, "  Commit: %s\n", c.build.Commit)
				}
				fmt.Fprintf(w, "Server: %s\n", info.OpenVPN)
				fmt.Fprintf(w, "Management interface: %s\n", info.Management)
				return nil
			})
		},
	}
}

func (c *CLI) stateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state [N|all]",
		Short: "Show the current state or the last N state changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := historyArg(args, "")
			if err != nil {
				return err
			}
			var records []management.StateRecord
			err = c.withSession(cmd.Context(), func(s *management.Session) error {
				records, err = s.State(cmd.Context(), history)
				return err
			})
			if err != nil {
				return err
			}
			return c.render(records, func(w io.Writer) error {
				return writeState(w, records)
			})
		},
	}
}

func (c *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connected clients and routing tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var snap *management.StatusSnapshot
			err := c.withSession(cmd.Context(), func(s *management.Session) error {
				var err error
				snap, err = s.Status(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return c.render(snap.Flatten(), func(w io.Writer) error {
				return writeStatus(w, snap)
			})
		},
	}
}

func (c *CLI) loadStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load-stats",
		Short: "Show client count and traffic totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats management.LoadStats
			err := c.withSession(cmd.Context(), func(s *management.Session) error {
				var err error
				stats, err = s.LoadStats(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return c.render(stats, func(w io.Writer) error {
				return writeLoadStats(w, stats)
			})
		},
	}
}

func (c *CLI) logCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "log [N|all]",
		Short: "Show the last N log lines (default 20)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := historyArg(args, management.HistoryCount(20))
			if err != nil {
				return err
			}
			var lines []string
			err = c.withSession(cmd.Context(), func(s *management.Session) error {
				lines, err = s.Log(cmd.Context(), history)
				return err
			})
			if err != nil {
				return err
			}

			if raw {
				return c.render(lines, func(w io.Writer) error {
					for _, line := range lines {
						fmt.Fprintln(w, line)
					}
					return nil
				})
			}

			entries := make([]management.LogEntry, 0, len(lines))
			for _, line := range lines {
				entry, err := management.ParseLogLine(line)
				if err != nil {
					c.logger.Debug("Keeping unparsed log line: %v", err)
					entry = management.LogEntry{Message: line}
				}
				entries = append(entries, entry)
			}
			return c.render(entries, func(w io.Writer) error {
				return writeLogEntries(w, entries)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print log lines as received")
	return cmd
}

// adminCommand builds a command that sends one administrative command and
// prints the server's reply.
func (c *CLI) adminCommand(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, s *management.Session, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply string
			err := c.withSession(cmd.Context(), func(s *management.Session) error {
				var err error
				reply, err = run(cmd.Context(), s, args)
				return err
			})
			if err != nil {
				return err
			}
			result := map[string]string{"reply": strings.TrimRight(reply, "\n")}
			return c.render(result, func(w io.Writer) error {
				return writeReply(w, reply)
			})
		},
	}
}

func (c *CLI) killCommand() *cobra.Command {
	return c.adminCommand("kill COMMON_NAME|IP:PORT", "Disconnect clients by common name or real address",
		cobra.ExactArgs(1),
		func(ctx context.Context, s *management.Session, args []string) (string, error) {
			return s.Kill(ctx, args[0])
		})
}

func (c *CLI) clientKillCommand() *cobra.Command {
	return c.adminCommand("client-kill CID", "Disconnect a client by client ID",
		cobra.ExactArgs(1),
		func(ctx context.Context, s *management.Session, args []string) (string, error) {
			cid, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return "", fmt.Errorf("client ID must be a number, got %q", args[0])
			}
			return s.ClientKill(ctx, cid)
		})
}

func (c *CLI) signalCommand() *cobra.Command {
	return c.adminCommand("signal "+strings.Join(management.Signals, "|"), "Send a signal to the server process",
		cobra.ExactArgs(1),
		func(ctx context.Context, s *management.Session, args []string) (string, error) {
			return s.Signal(ctx, args[0])
		})
}

func (c *CLI) holdReleaseCommand() *cobra.Command {
	return c.adminCommand("hold-release", "Release a server waiting in management hold",
		cobra.NoArgs,
		func(ctx context.Context, s *management.Session, _ []string) (string, error) {
			return s.HoldRelease(ctx)
		})
}

func (c *CLI) verbCommand() *cobra.Command {
	return c.adminCommand("verb LEVEL", "Set the server log verbosity (0-15)",
		cobra.ExactArgs(1),
		func(ctx context.Context, s *management.Session, args []string) (string, error) {
			level, err := strconv.Atoi(args[0])
			if err != nil {
				return "", fmt.Errorf("verb level must be a number, got %q", args[0])
			}
			return s.Verb(ctx, level)
		})
}

func (c *CLI) rawCommand() *cobra.Command {
	var multiline bool
	cmd := &cobra.Command{
		Use:   "raw COMMAND...",
		Short: "Send an arbitrary management command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(args, " ")
			var reply string
			err := c.withSession(cmd.Context(), func(s *management.Session) error {
				var err error
				reply, err = s.Command(cmd.Context(), line, multiline)
				return err
			})
			if err != nil {
				return err
			}
			return c.render(map[string]string{"reply": reply}, func(w io.Writer) error {
				_, err := io.WriteString(w, reply)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&multiline, "multiline", "m", false, "read the reply until END")
	return cmd
}

func (c *CLI) watchCommand() *cobra.Command {
	var (
		interval time.Duration
		notifs   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of clients and load statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, quiet, err := c.newWatchMonitor(interval)
			if err != nil {
				return err
			}

			endpoint := c.cfg.Management.Endpoint()
			if notifs || c.cfg.Monitor.Notifications {
				n, err := notify.New()
				if err != nil {
					c.logger.Warn("Desktop notifications unavailable: %v", err)
				} else {
					defer n.Close()
					notify.Attach(m, n, endpoint, quiet)
				}
			}

			// Run starts the polling loop and stops it on exit.
			return tui.Run(cmd.Context(), m, endpoint)
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "poll interval (default from config)")
	cmd.Flags().BoolVar(&notifs, "notify", false, "send desktop notifications on health changes")
	return cmd
}

// newWatchMonitor builds the monitor behind watch from the config. The
// returned logger discards everything, since log lines would corrupt the
// alternate screen; everything watch starts logs through it.
func (c *CLI) newWatchMonitor(interval time.Duration) (*monitor.Monitor, common.Logger, error) {
	sc, err := c.sessionConfig()
	if err != nil {
		return nil, nil, err
	}

	mcfg := monitor.DefaultConfig()
	mcfg.Interval = c.cfg.Monitor.PollInterval()
	if interval > 0 {
		mcfg.Interval = interval
	}
	mcfg.FailureThreshold = c.cfg.Monitor.FailureThreshold
	mcfg.AutoReconnect = c.cfg.Monitor.AutoReconnect
	mcfg.MaxReconnectAttempts = c.cfg.Monitor.MaxReconnectAttempts
	mcfg.ReconnectDelay = 0
	mcfg.IncludeStatus = true

	quiet := common.NopLogger{}
	sc.Logger = quiet
	return monitor.New(monitor.SessionDialer(sc), mcfg, quiet), quiet, nil
}

func (c *CLI) passwordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage the stored management interface password",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the password in the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := c.readPassword("Management password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if password == "" {
				return fmt.Errorf("password cannot be empty")
			}

			endpoint := c.cfg.Management.Endpoint()
			if err := c.credentialStore().Store(endpoint, password); err != nil {
				return err
			}

			if !c.cfg.Management.UseKeyring {
				// Reload so this run's flag overrides are not persisted.
				onDisk, err := config.LoadFile(c.cfg.Path())
				if err != nil {
					return err
				}
				onDisk.Management.UseKeyring = true
				if err := onDisk.Save(); err != nil {
					return err
				}
				c.cfg.Management.UseKeyring = true
			}
			fmt.Fprintf(c.out, "✓ Password stored for %s\n", endpoint)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint := c.cfg.Management.Endpoint()
			if err := c.credentialStore().Delete(endpoint); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "✓ Password removed for %s\n", endpoint)
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}

func (c *CLI) credentialStore() common.CredentialStore {
	if c.store == nil {
		c.store = keyring.New(c.logger)
	}
	return c.store
}
