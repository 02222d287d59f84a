// Package main implements parmux, a terminal front end that renders
// each tab as a resizable tree of split panes and can mirror the
// windows of a tmux control-mode session in real time.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/paulrobello/parmux/internal/config"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	logLevel string
	logFile  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parmux",
		Short: "Split-pane terminal workspace with tmux mirroring",
		Long: `parmux - split-pane terminal workspace

Every tab holds a binary tree of resizable panes. Attach to a tmux
server in control mode and its windows appear as tabs whose panes stay
in sync both ways: remote layout changes reshape the local tree, and
local splits, closes and keystrokes are forwarded upstream.`,
		Example: `  # Run a local workspace
  parmux

  # Attach to a tmux session (created if missing)
  parmux attach work

  # List sessions on the tmux server
  parmux ls

  # Show the configuration file path
  parmux config path`,
		Version: version,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Session.AutoAttach {
				return runAttach(cfg, logger, cfg.Session.DefaultSession)
			}
			return runLocal(cfg, logger)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")

	attachCmd := &cobra.Command{
		Use:   "attach [session]",
		Short: "Attach to a tmux session in control mode",
		Long: `Attach to a tmux session in control mode

The session is created if it does not exist. Its windows appear as
tabs; detaching (prefix d) or a server exit hands every pane back to
local control without closing it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			name := cfg.Session.DefaultSession
			if len(args) == 1 {
				name = args[0]
			}
			return runAttach(cfg, logger, name)
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List sessions on the tmux server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runList(cfg, logger)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the parmux configuration",
	}
	configPathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	configResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the configuration file so defaults are recreated",
		RunE: func(_ *cobra.Command, _ []string) error {
			return config.Reset()
		},
	}
	configCmd.AddCommand(configPathCmd, configResetCmd)

	rootCmd.AddCommand(attachCmd, lsCmd, configCmd)

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(fmt.Sprintf("%s\nCommit: %s\nBuilt: %s", version, commit, date)),
	); err != nil {
		os.Exit(1)
	}
}
