// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Fieldvault is the command-line controller for fieldvault-service.
// Each subcommand sends one control message to the service socket;
// commands that need an answer (ping, status, watch and the --wait
// forms of start and stop) also listen on the controller socket, where
// the service reports recording state and mirrors its log output.
//
// The configuration file is the one the service uses: it names both
// sockets and the key directory. keygen and inspect work locally and
// do not need a running service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/fieldvault/fieldvault/lib/config"
	"github.com/fieldvault/fieldvault/lib/controller"
	"github.com/fieldvault/fieldvault/lib/process"
	"github.com/fieldvault/fieldvault/lib/transport"
	"github.com/fieldvault/fieldvault/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		configPath string
		timeout    time.Duration
	)

	flagSet := pflag.NewFlagSet("fieldvault", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", "", "path to the configuration file (default: $FIELDVAULT_CONFIG)")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the service to answer")
	flagSet.BoolP("help", "h", false, "show help")

	if len(args) > 0 && args[0] == "--version" {
		version.Fprint(stdout, "fieldvault")
		return nil
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, flagSet)
			return nil
		}
		return usageError("%v", err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(stdout, flagSet)
		return nil
	}
	if flagSet.NArg() == 0 {
		printUsage(stdout, flagSet)
		return &process.ExitError{Code: 2}
	}

	name := flagSet.Arg(0)
	if name == "help" {
		printUsage(stdout, flagSet)
		return nil
	}
	cmd, ok := lookupCommand(name)
	if !ok {
		return usageError("unknown command %q (run 'fieldvault help')", name)
	}
	if timeout <= 0 {
		return usageError("--timeout must be positive")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newCommandLogger().With("command", name)
	env := &environment{
		config:     cfg,
		controller: controller.New(transport.NewClient(cfg.Transport.ServiceSocket), logger),
		logger:     logger,
		stdout:     stdout,
		timeout:    timeout,
	}
	return cmd.run(ctx, env, flagSet.Args()[1:])
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newCommandLogger logs warnings and errors to stderr: text on a
// terminal, JSON when redirected.
func newCommandLogger() *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

func usageError(format string, args ...any) error {
	return &process.ExitError{Code: 2, Err: fmt.Errorf(format, args...)}
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "fieldvault: control the fieldvault recording service\n\n")
	fmt.Fprintf(w, "Usage: fieldvault [flags] <command> [arguments]\n\nCommands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-28s %s\n", cmd.usage, cmd.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}
