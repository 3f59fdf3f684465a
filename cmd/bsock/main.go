// Command bsock serves and calls bsock endpoints.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bcoin-org/bsock/config"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// cli is the state shared by subcommands, set in PersistentPreRunE.
type cli struct {
	cfgFile string
	proto   string
	listen  string
	service string
	etcd    []string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "bsock",
		Short: "Bidirectional RPC over TCP and WebSocket",
		Long: `bsock runs servers and clients for two wire protocols:

  tcp  a binary framed protocol with checksummed packets
  ws   a socket.io compatible text protocol over WebSocket

Both sides can call hooks and fire events on each other.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ~/.bsock/config.yaml)")
	flags.StringVarP(&c.proto, "protocol", "p", "", "protocol: tcp or ws")
	flags.StringVarP(&c.listen, "addr", "a", "", "listen or target address")
	flags.StringVar(&c.service, "service", "", "service name in the registry")
	flags.StringSliceVar(&c.etcd, "etcd", nil, "etcd endpoints for discovery")

	cmd.AddCommand(
		serveCmd(c),
		callCmd(c),
		fireCmd(c),
		versionCmd(),
	)
	return cmd
}

// load reads the config file, then applies flags set on the command line.
func (c *cli) load(cmd *cobra.Command) error {
	path := c.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("protocol") {
		cfg.Protocol = c.proto
	}
	if flags.Changed("addr") {
		cfg.Listen = c.listen
	}
	if flags.Changed("service") {
		cfg.Service = c.service
	}
	if flags.Changed("etcd") {
		cfg.Etcd = c.etcd
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bsock %s (%s)\n", version, commit)
		},
	}
}
