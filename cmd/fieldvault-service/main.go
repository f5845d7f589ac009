// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/fieldvault/fieldvault/lib/config"
	"github.com/fieldvault/fieldvault/lib/controller"
	"github.com/fieldvault/fieldvault/lib/keystore"
	"github.com/fieldvault/fieldvault/lib/logbridge"
	"github.com/fieldvault/fieldvault/lib/process"
	"github.com/fieldvault/fieldvault/lib/transport"
	"github.com/fieldvault/fieldvault/lib/version"
)

// bridgeDrainTimeout bounds how long exit waits for queued log lines
// to reach the controller.
const bridgeDrainTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("fieldvault-service", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the configuration file (default: $FIELDVAULT_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "info", "minimum log level: debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("fieldvault-service")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}

	loadConfig := func() (*config.Config, error) {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
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

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	peer := transport.NewClient(cfg.Transport.ControllerSocket)
	bridge := logbridge.New(peer, logbridge.Options{
		Address: controller.AddressLogOutput,
		Level:   level,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeDrainTimeout)
		defer cancel()
		bridge.Close(ctx)
	}()
	logger := newLogger(os.Stderr, level, bridge)

	keys, err := keystore.Open(cfg.Paths.Keys)
	if err != nil {
		return err
	}

	service, err := newService(Options{
		Config:     cfg,
		LoadConfig: loadConfig,
		Logger:     logger,
		Keys:       keys,
		Peer:       peer,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The socket outlives the signal context: a signal stops the
	// service through StopServer, which flushes the recording first.
	if err := service.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	logger.Info("fieldvault service running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"socket", cfg.Transport.ServiceSocket,
		"controller_socket", cfg.Transport.ControllerSocket,
	)

	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
		service.StopServer()
	case <-service.Terminated():
	}

	if err := service.Join(context.Background()); err != nil {
		logger.Error("transport server error", "error", err)
		return err
	}
	logger.Info("fieldvault service stopped")
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `fieldvault-service: background recording service

Usage: fieldvault-service [flags]

Listens on transport.service_socket for control messages from the
fieldvault controller and reports recording state and log output to
transport.controller_socket.

Flags:
`)
	flagSet.PrintDefaults()
}
