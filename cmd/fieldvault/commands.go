// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fieldvault/fieldvault/lib/codec"
	"github.com/fieldvault/fieldvault/lib/config"
	"github.com/fieldvault/fieldvault/lib/container"
	"github.com/fieldvault/fieldvault/lib/controller"
	"github.com/fieldvault/fieldvault/lib/keystore"
	"github.com/fieldvault/fieldvault/lib/recording"
)

// environment is what every command runs against.
type environment struct {
	config     *config.Config
	controller *controller.Controller
	logger     *slog.Logger
	stdout     io.Writer
	timeout    time.Duration
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

func commands() []command {
	return []command{
		{"ping", "ping", "check that the service answers", runPing},
		{"start", "start [--env NAME] [--wait]", "start recording to an encryption environment", runStart},
		{"stop", "stop [--wait]", "stop recording and seal the container", runStop},
		{"status", "status", "print the recording state", runStatus},
		{"decrypt", "decrypt <container>", "decrypt a container into the exports directory", runDecrypt},
		{"daemonize", "daemonize on|off", "keep the service running in the background", runDaemonize},
		{"shutdown", "shutdown", "stop the service, finishing any recording", runShutdown},
		{"watch", "watch", "print state changes and service logs until interrupted", runWatch},
		{"keygen", "keygen <name>", "create a decryption identity and print its recipient", runKeygen},
		{"inspect", "inspect [--cbor] <container>", "print a container's header without decrypting it", runInspect},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands() {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func noArguments(name string, args []string) error {
	if len(args) != 0 {
		return usageError("%s: unexpected argument %q", name, args[0])
	}
	return nil
}

func runPing(ctx context.Context, env *environment, args []string) error {
	if err := noArguments("ping", args); err != nil {
		return err
	}

	lines := make(chan string, 64)
	stop, err := env.listen(ctx, controller.Callbacks{OnLog: offer[string](lines)})
	if err != nil {
		return err
	}
	defer stop()

	started := time.Now()
	if err := env.controller.Ping(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()
	for {
		select {
		case line := <-lines:
			if line == "Pong" {
				fmt.Fprintf(env.stdout, "pong (%s)\n", time.Since(started).Round(time.Millisecond))
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("no answer from the service within %s", env.timeout)
		}
	}
}

func runStart(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("start", pflag.ContinueOnError)
	name := flagSet.String("env", "", "encryption environment (default: "+config.DefaultEnvironmentName+")")
	wait := flagSet.Bool("wait", false, "wait until the recording has started")
	if err := flagSet.Parse(args); err != nil {
		return usageError("start: %v", err)
	}
	if err := noArguments("start", flagSet.Args()); err != nil {
		return err
	}

	environmentArgument := ""
	if *name != "" {
		environmentArgument = "env=" + *name
	}
	return env.transition(ctx, *wait, func(ctx context.Context) error {
		return env.controller.StartRecording(ctx, environmentArgument)
	})
}

func runStop(ctx context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("stop", pflag.ContinueOnError)
	wait := flagSet.Bool("wait", false, "wait until the container is sealed")
	if err := flagSet.Parse(args); err != nil {
		return usageError("stop: %v", err)
	}
	if err := noArguments("stop", flagSet.Args()); err != nil {
		return err
	}
	return env.transition(ctx, *wait, env.controller.StopRecording)
}

// transition sends a start or stop. With wait it reports the settled
// state the service broadcasts when the transition ends.
func (env *environment) transition(ctx context.Context, wait bool, send func(context.Context) error) error {
	if !wait {
		return send(ctx)
	}

	statuses := make(chan recording.Status, 16)
	stop, err := env.listen(ctx, controller.Callbacks{OnStatus: offer[recording.Status](statuses)})
	if err != nil {
		return err
	}
	defer stop()

	if err := send(ctx); err != nil {
		return err
	}
	status, err := env.awaitStatus(ctx, statuses, true)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, status)
	return nil
}

func runStatus(ctx context.Context, env *environment, args []string) error {
	if err := noArguments("status", args); err != nil {
		return err
	}

	statuses := make(chan recording.Status, 16)
	stop, err := env.listen(ctx, controller.Callbacks{OnStatus: offer[recording.Status](statuses)})
	if err != nil {
		return err
	}
	defer stop()

	if err := env.controller.BroadcastRecordingState(ctx); err != nil {
		return err
	}
	status, err := env.awaitStatus(ctx, statuses, false)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, status)
	return nil
}

// awaitStatus returns the next status broadcast. With settled it skips
// unknown statuses until the service reports idle or recording.
func (env *environment) awaitStatus(ctx context.Context, statuses <-chan recording.Status, settled bool) (recording.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()
	for {
		select {
		case status := <-statuses:
			if settled && status == recording.StatusUnknown {
				continue
			}
			return status, nil
		case <-ctx.Done():
			return recording.StatusUnknown, fmt.Errorf("no recording state from the service within %s", env.timeout)
		}
	}
}

func runDecrypt(ctx context.Context, env *environment, args []string) error {
	if len(args) != 1 {
		return usageError("decrypt: expected one container path")
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if err := env.controller.AttemptContainerDecryption(ctx, path); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "decryption requested; output goes to %s\n",
		filepath.Join(env.config.Paths.Exports, filepath.Base(path)))
	return nil
}

func runDaemonize(ctx context.Context, env *environment, args []string) error {
	if len(args) != 1 {
		return usageError("daemonize: expected on or off")
	}
	daemonize, err := parseSwitch(args[0])
	if err != nil {
		return usageError("daemonize: %v", err)
	}
	return env.controller.SwitchDaemonizeService(ctx, daemonize)
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not on or off", value)
	}
}

func runShutdown(ctx context.Context, env *environment, args []string) error {
	if err := noArguments("shutdown", args); err != nil {
		return err
	}
	return env.controller.StopServer(ctx)
}

func runWatch(ctx context.Context, env *environment, args []string) error {
	if err := noArguments("watch", args); err != nil {
		return err
	}

	stop, err := env.listen(ctx, controller.Callbacks{
		OnStatus: func(status recording.Status) {
			fmt.Fprintf(env.stdout, "%s state: %s\n", time.Now().Format(time.TimeOnly), status)
		},
		OnLog: func(line string) {
			fmt.Fprintf(env.stdout, "%s %s\n", time.Now().Format(time.TimeOnly), line)
		},
	})
	if err != nil {
		return err
	}
	defer stop()

	// The initial state is reported on the same channel as changes.
	if err := env.controller.BroadcastRecordingState(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func runKeygen(_ context.Context, env *environment, args []string) error {
	if len(args) != 1 {
		return usageError("keygen: expected an identity name")
	}
	store, err := keystore.Open(env.config.Paths.Keys)
	if err != nil {
		return err
	}
	recipient, err := store.Generate(args[0])
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("identity %q already exists in %s", args[0], store.Directory())
		}
		return err
	}
	fmt.Fprintln(env.stdout, recipient)
	return nil
}

func runInspect(_ context.Context, env *environment, args []string) error {
	flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	raw := flagSet.Bool("cbor", false, "print the header in CBOR diagnostic notation")
	if err := flagSet.Parse(args); err != nil {
		return usageError("inspect: %v", err)
	}
	if flagSet.NArg() != 1 {
		return usageError("inspect: expected one container path")
	}

	loaded, err := container.Load(flagSet.Arg(0))
	if err != nil {
		return err
	}
	ciphertextSize := len(loaded.Ciphertext)

	if *raw {
		header := *loaded
		header.Ciphertext = nil
		encoded, err := codec.Marshal(header)
		if err != nil {
			return err
		}
		notation, err := codec.Diagnose(encoded)
		if err != nil {
			return err
		}
		fmt.Fprintln(env.stdout, notation)
		return nil
	}

	fmt.Fprintf(env.stdout, "version:        %d\n", loaded.Version)
	fmt.Fprintf(env.stdout, "session:        %s\n", loaded.Session)
	fmt.Fprintf(env.stdout, "environment:    %s\n", loaded.Environment)
	fmt.Fprintf(env.stdout, "created:        %s\n", loaded.Created.Format(time.RFC3339))
	fmt.Fprintf(env.stdout, "compression:    %s\n", loaded.Compression)
	fmt.Fprintf(env.stdout, "plaintext size: %d\n", loaded.PlaintextSize)
	fmt.Fprintf(env.stdout, "ciphertext:     %d bytes\n", ciphertextSize)
	fmt.Fprintf(env.stdout, "digest:         %s\n", hex.EncodeToString(loaded.Digest))
	return nil
}

// listen serves the controller socket until the returned stop function
// is called.
func (env *environment) listen(ctx context.Context, callbacks controller.Callbacks) (func(), error) {
	listener := controller.NewListener(env.config.Transport.ControllerSocket, callbacks, env.logger)
	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx) }()

	select {
	case <-listener.Ready():
	case err := <-done:
		return nil, fmt.Errorf("listening on %s: %w", env.config.Transport.ControllerSocket, err)
	}
	return func() {
		listener.Stop()
		<-done
	}, nil
}

// offer returns a callback that queues values on ch, dropping them
// when nobody is reading.
func offer[T any](ch chan<- T) func(T) {
	return func(value T) {
		select {
		case ch <- value:
		default:
		}
	}
}
