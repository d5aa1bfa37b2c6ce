// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the nidata command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roshan-srin/nidata/internal/logging"
	_ "github.com/roshan-srin/nidata/pkg/dataset/catalog"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string

	logger *logrus.Logger
}

// Logger returns the logger built before the command ran, or a discarding
// one for commands that ran without the root pre-run.
func (ro *RootOpts) Logger() *logrus.Logger {
	if ro.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return ro.logger
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := NewRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:           "nidata [DATASET]",
		Short:         "Resumable downloader for neuroimaging datasets and atlases",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON (progress events, plans, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Plain line-by-line progress instead of the live view")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write JSON logs to a rotating file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return ro.setup(cmd)
	}

	fetchCmd := newFetchCmd(ro)
	root.AddCommand(fetchCmd)
	root.AddCommand(newListCmd(ro))
	root.AddCommand(newInfoCmd(ro))
	root.AddCommand(newVersionCmd(ro, version))
	root.AddCommand(newServeCmd(ro, version))
	root.AddCommand(newConfigCmd(ro))

	// fetch is the default command when no subcommand is given
	root.Args = cobra.MaximumNArgs(1)
	root.Flags().AddFlagSet(fetchCmd.Flags())
	root.RunE = fetchCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

// setup loads the config file into flags the user did not set, then builds
// the logger.
func (ro *RootOpts) setup(cmd *cobra.Command) error {
	// config subcommands must work even with a broken config file
	if cmd.Parent() == nil || cmd.Parent().Name() != "config" {
		cfg, _, err := LoadConfig(ro.Config)
		if err != nil {
			return err
		}
		if err := applyConfig(cmd.Flags(), cfg); err != nil {
			return err
		}
	}

	level := ro.LogLevel
	if ro.Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		File:   ro.LogFile,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	ro.logger = logger
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
