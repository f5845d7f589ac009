// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldvault/fieldvault/lib/clock"
	"github.com/fieldvault/fieldvault/lib/config"
	"github.com/fieldvault/fieldvault/lib/container"
	"github.com/fieldvault/fieldvault/lib/controller"
	"github.com/fieldvault/fieldvault/lib/keystore"
	"github.com/fieldvault/fieldvault/lib/marker"
	"github.com/fieldvault/fieldvault/lib/platform"
	"github.com/fieldvault/fieldvault/lib/recording"
	"github.com/fieldvault/fieldvault/lib/scheduler"
	"github.com/fieldvault/fieldvault/lib/toolchain"
	"github.com/fieldvault/fieldvault/lib/transport"
)

// broadcastTimeout bounds one status send to the controller. The
// controller acknowledges on receipt, so only an unresponsive peer
// hits it.
const broadcastTimeout = 2 * time.Second

// Options holds the service's collaborators. Config, Logger, Keys and
// Peer are required.
type Options struct {
	// Config is the validated configuration loaded at start-up.
	Config *config.Config

	// LoadConfig reloads configuration before every recording start.
	// Defaults to returning Config unchanged.
	LoadConfig func() (*config.Config, error)

	Logger *slog.Logger
	Clock  clock.Clock

	// Host defaults to the desktop host.
	Host platform.Host

	// Keys decrypts container data keys.
	Keys *keystore.Store

	// Peer delivers status broadcasts to the controller.
	Peer controller.Sender

	// Build overrides toolchain construction. Defaults to building a
	// command recorder from freshly loaded configuration.
	Build recording.BuildFunc
}

// Service is the state shared by the message handlers and the
// scheduler closures. It is created once by run and never reachable
// from package-level variables.
type Service struct {
	config     *config.Config
	loadConfig func() (*config.Config, error)
	logger     *slog.Logger
	clock      clock.Clock
	host       platform.Host
	keys       *keystore.Store
	peer       controller.Sender

	scheduler *scheduler.Scheduler
	lifecycle *recording.Lifecycle
	server    *transport.Server

	served     chan struct{}
	serveErr   error
	stopOnce   sync.Once
	terminated chan struct{}

	// stopDeadline is set by StopServer before terminated is closed.
	stopDeadline time.Time
}

func newService(options Options) (*Service, error) {
	if options.Config == nil {
		return nil, errors.New("service: configuration is required")
	}
	if options.Logger == nil {
		return nil, errors.New("service: logger is required")
	}
	if options.Keys == nil {
		return nil, errors.New("service: key store is required")
	}
	if options.Peer == nil {
		return nil, errors.New("service: controller peer is required")
	}

	s := &Service{
		config:     options.Config,
		loadConfig: options.LoadConfig,
		logger:     options.Logger,
		clock:      options.Clock,
		host:       options.Host,
		keys:       options.Keys,
		peer:       options.Peer,
		served:     make(chan struct{}),
		terminated: make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.host == nil {
		s.host = platform.NewDesktop(s.logger)
	}
	if s.loadConfig == nil {
		loaded := options.Config
		s.loadConfig = func() (*config.Config, error) { return loaded, nil }
	}

	build := options.Build
	if build == nil {
		build = s.buildToolchain
	}

	s.scheduler = scheduler.New(s.logger, s.clock)
	s.lifecycle = recording.New(recording.Config{
		Build:             build,
		Host:              s.host,
		MarkerPath:        s.config.MarkerPath(),
		ForegroundTitle:   s.config.Recording.ForegroundTitle,
		ForegroundMessage: s.config.Recording.ForegroundMessage,
		OnChange:          s.broadcast,
		Clock:             s.clock,
		Logger:            s.logger,
	})
	s.server = transport.NewServer(s.config.Transport.ServiceSocket, s.logger)
	s.registerHandlers()
	return s, nil
}

// Start applies the persistence setting, resumes a recording left
// behind by a previous run and then begins serving. Both start-up
// tasks are queued before the socket accepts its first message, so a
// status request arriving right away already sees the resumed start
// in progress. Start returns once the socket is listening.
func (s *Service) Start(ctx context.Context) error {
	daemonize := s.config.Settings.DaemonizeService
	s.scheduler.Submit("apply persistence", func(context.Context) error {
		return s.setPersistent(daemonize)
	})

	state, present, err := marker.Check(s.config.MarkerPath())
	if present {
		if err != nil {
			s.logger.Warn("recording marker unreadable, resuming with default environment",
				"path", s.config.MarkerPath(),
				"error", err,
			)
		}
		s.logger.Info("resuming interrupted recording",
			"environment", state.Environment,
			"started_at", state.StartedAt,
		)
		s.submitStart(state.Environment)
	} else if err != nil {
		return fmt.Errorf("checking recording marker: %w", err)
	}

	go func() {
		s.serveErr = s.server.Serve(ctx)
		close(s.served)
	}()

	select {
	case <-s.server.Ready():
	case <-s.served:
		return fmt.Errorf("starting transport server: %w", s.serveErr)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("service listening", "socket", s.server.SocketPath())
	return nil
}

// Terminated returns a channel closed once StopServer has finished.
func (s *Service) Terminated() <-chan struct{} { return s.terminated }

// Join blocks until StopServer has finished and the transport server
// has returned, or until ctx is done. Queued tasks may drain until
// service.stop_timeout after StopServer began; a task still stuck
// then is abandoned. It returns the transport server's error.
func (s *Service) Join(ctx context.Context) error {
	select {
	case <-s.terminated:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-s.served:
	case <-ctx.Done():
		return ctx.Err()
	}

	var expired <-chan time.Time
	if remaining := s.stopDeadline.Sub(s.clock.Now()); remaining > 0 {
		expired = s.clock.After(remaining)
	} else {
		closed := make(chan time.Time)
		close(closed)
		expired = closed
	}
	select {
	case <-s.scheduler.Stopped():
	case <-expired:
		s.logger.Warn("abandoning queued work at exit", "phase", s.lifecycle.Phase())
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.serveErr
}

// submitStart begins a start transition and queues its body.
func (s *Service) submitStart(environment string) *scheduler.Task {
	return s.submitTransition("start recording", func(ctx context.Context) error {
		return s.lifecycle.Start(ctx, environment)
	})
}

// submitStop begins a stop transition and queues its body.
func (s *Service) submitStop() *scheduler.Task {
	return s.submitTransition("stop recording", s.lifecycle.Stop)
}

// submitTransition marks a transition as in progress before queueing
// body, so the status reads unknown from this point on. When the
// scheduler has been closed the body never runs and the transition is
// cancelled here instead.
func (s *Service) submitTransition(name string, body scheduler.Operation) *scheduler.Task {
	s.lifecycle.BeginTransition()
	task := s.scheduler.Submit(name, body)
	select {
	case <-task.Done():
		if errors.Is(task.Err(), scheduler.ErrClosed) {
			s.lifecycle.CancelTransition()
		}
	default:
	}
	return task
}

func (s *Service) setPersistent(persistent bool) error {
	if err := s.host.SetPersistent(persistent); err != nil {
		return fmt.Errorf("setting service persistence to %t: %w", persistent, err)
	}
	s.logger.Info("service persistence updated", "persistent", persistent)
	return nil
}

// broadcastRecordingState sends the current status to the controller.
func (s *Service) broadcastRecordingState() {
	s.broadcast(s.lifecycle.Status())
}

// broadcast sends status on /receive_recording_state. A controller
// that is not listening is not an error.
func (s *Service) broadcast(status recording.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	if err := s.peer.Send(ctx, controller.AddressReceiveRecordingState, status.WireValue()); err != nil {
		s.logger.Debug("recording state not delivered",
			"status", status,
			"phase", s.lifecycle.Phase(),
			"error", err,
		)
	}
}

// buildToolchain constructs a command recorder for environment from
// configuration reloaded from disk. With no enabled sensor it returns
// a nil toolchain, which cancels the recording.
func (s *Service) buildToolchain(environment string) (toolchain.Toolchain, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("reloading configuration: %w", err)
	}

	enabled := cfg.EnabledSensors()
	if len(enabled) == 0 {
		s.logger.Warn("no sensor enabled, recording cancelled")
		return nil, nil
	}

	encryption, err := cfg.EncryptionFor(environment)
	if err != nil {
		return nil, err
	}
	compression, err := container.ParseCompression(cfg.Recording.Compression)
	if err != nil {
		return nil, err
	}

	sensors := make([]toolchain.Sensor, 0, len(enabled))
	for _, sensor := range enabled {
		sensors = append(sensors, toolchain.Sensor{
			Name:    sensor.Name,
			Command: sensor.Command,
			Output:  sensor.Output,
		})
	}

	return toolchain.Build(toolchain.Options{
		Environment:   config.ResolveEnvironmentName(environment),
		Sensors:       sensors,
		Recipients:    encryption.Recipients,
		Compression:   compression,
		SessionsDir:   cfg.SessionsDir(),
		ContainersDir: cfg.Paths.Containers,
		StopGrace:     cfg.Recording.StopGrace,
		Clock:         s.clock,
		Logger:        s.logger,
	})
}
