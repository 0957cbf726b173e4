// Package cli provides the command-line interface of OpenVPN Admin.
// Every command opens one management session, runs, and exits the session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yllada/ovpn-admin/common"
	"github.com/yllada/ovpn-admin/config"
	"github.com/yllada/ovpn-admin/keyring"
	"github.com/yllada/ovpn-admin/management"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// CLI holds the state shared by all commands.
type CLI struct {
	build  BuildInfo
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// flags
	configPath string
	output     string
	network    string
	host       string
	port       int
	verbose    bool

	cfg    *config.Config
	store  common.CredentialStore
	logger common.Logger
}

// New creates a CLI writing to stdout and stderr.
func New(build BuildInfo) *CLI {
	return &CLI{
		build:  build,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// Execute runs the command line.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	return root.ExecuteContext(ctx)
}

// RootCommand builds the command tree.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ovpn-admin",
		Short:         "Administer an OpenVPN server over its management interface",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       c.build.Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ~/.config/ovpn-admin/config.yaml)")
	flags.StringVarP(&c.output, "output", "o", common.OutputText, "output format: text, json or yaml")
	flags.StringVar(&c.network, "network", "", "management socket network: tcp or unix")
	flags.StringVarP(&c.host, "host", "H", "", "management host, or socket path for unix")
	flags.IntVarP(&c.port, "port", "p", 0, "management port")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return c.setup()
	}

	root.AddCommand(
		c.versionCommand(),
		c.stateCommand(),
		c.statusCommand(),
		c.loadStatsCommand(),
		c.logCommand(),
		c.killCommand(),
		c.clientKillCommand(),
		c.signalCommand(),
		c.holdReleaseCommand(),
		c.verbCommand(),
		c.rawCommand(),
		c.watchCommand(),
		c.passwordCommand(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and initializes
// logging.
func (c *CLI) setup() error {
	switch c.output {
	case common.OutputText, common.OutputJSON, common.OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q", c.output)
	}

	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if c.network != "" {
		cfg.Management.Network = c.network
	}
	if c.host != "" {
		cfg.Management.Host = c.host
	}
	if c.port != 0 {
		cfg.Management.Port = c.port
	}
	c.cfg = cfg

	level, _ := common.ParseLogLevel(cfg.Log.Level)
	if c.verbose {
		level = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       level,
		EnableFile:  cfg.Log.File,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(c.errOut, "Warning: Could not initialize file logging: %v\n", err)
	}
	c.logger = common.GetLogger()

	if c.store == nil && cfg.Management.UseKeyring {
		c.store = keyring.New(c.logger)
	}
	return nil
}

// sessionConfig returns the connection parameters including the resolved
// password.
func (c *CLI) sessionConfig() (management.Config, error) {
	sc := c.cfg.Management.SessionConfig()
	password, err := c.cfg.Management.ResolvePassword(c.store)
	if err != nil {
		return sc, fmt.Errorf("resolve management password: %w", err)
	}
	sc.Password = password
	sc.Logger = c.logger
	return sc, nil
}

// withSession runs fn inside one management session.
func (c *CLI) withSession(ctx context.Context, fn func(*management.Session) error) error {
	sc, err := c.sessionConfig()
	if err != nil {
		return err
	}
	c.logger.Debug("Connecting to %s", c.cfg.Management.Endpoint())
	return management.WithSession(ctx, sc, fn)
}

// readPassword prompts on stderr and reads without echo when stdin is a
// terminal.
func (c *CLI) readPassword(prompt string) (string, error) {
	fmt.Fprint(c.errOut, prompt)

	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.errOut)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(c.in)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
