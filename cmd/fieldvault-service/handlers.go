// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/fieldvault/fieldvault/lib/controller"
	"github.com/fieldvault/fieldvault/lib/transport"
)

// routes is the service's message table. Every address the controller
// may send to appears here exactly once.
func (s *Service) routes() map[string]transport.HandlerFunc {
	return map[string]transport.HandlerFunc{
		controller.AddressPing:                       s.handlePing,
		controller.AddressStartRecording:             s.handleStartRecording,
		controller.AddressStopRecording:              s.handleStopRecording,
		controller.AddressBroadcastRecordingState:    s.handleBroadcastRecordingState,
		controller.AddressAttemptContainerDecryption: s.handleAttemptContainerDecryption,
		controller.AddressSwitchDaemonizeService:     s.handleSwitchDaemonizeService,
		controller.AddressStopServer:                 s.handleStopServer,
	}
}

func (s *Service) registerHandlers() {
	for address, handler := range s.routes() {
		s.server.Handle(address, s.guard(address, handler))
	}
}

// guard keeps one bad message from taking the dispatch loop down: a
// handler error is logged and a panic is recovered and logged. The
// transport has already acknowledged the message, so neither is
// reported to the sender.
func (s *Service) guard(address string, handler transport.HandlerFunc) transport.HandlerFunc {
	return func(ctx context.Context, message transport.Message) error {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error("message handler panicked",
					"address", address,
					"message_id", message.ID,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
			}
		}()
		if err := handler(ctx, message); err != nil {
			s.logger.Error("message handler failed",
				"address", address,
				"message_id", message.ID,
				"error", err,
			)
		}
		return nil
	}
}

// handlePing answers with "Pong" on /log_output. The reply goes
// straight to the controller, so it does not depend on the log level
// or on room in the log bridge queue.
func (s *Service) handlePing(ctx context.Context, _ transport.Message) error {
	s.logger.Info("ping received")

	ctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
	defer cancel()
	if err := s.peer.Send(ctx, controller.AddressLogOutput, "Pong"); err != nil {
		s.logger.Debug("ping reply not delivered", "error", err)
	}
	return nil
}

func (s *Service) handleStartRecording(_ context.Context, message transport.Message) error {
	environment, err := message.Values.OptionalString(0, "")
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	s.submitStart(environment)
	return nil
}

func (s *Service) handleStopRecording(context.Context, transport.Message) error {
	s.submitStop()
	return nil
}

func (s *Service) handleBroadcastRecordingState(context.Context, transport.Message) error {
	s.broadcastRecordingState()
	return nil
}

func (s *Service) handleAttemptContainerDecryption(_ context.Context, message transport.Message) error {
	path, err := message.Values.String(0)
	if err != nil {
		return fmt.Errorf("container decryption: %w", err)
	}
	s.scheduler.Submit("decrypt container", func(context.Context) error {
		return s.decryptContainer(path)
	})
	return nil
}

func (s *Service) handleSwitchDaemonizeService(_ context.Context, message transport.Message) error {
	daemonize, err := message.Values.Bool(0)
	if err != nil {
		return fmt.Errorf("switch daemonize service: %w", err)
	}
	s.scheduler.Submit("switch persistence", func(context.Context) error {
		return s.setPersistent(daemonize)
	})
	return nil
}

func (s *Service) handleStopServer(context.Context, transport.Message) error {
	s.StopServer()
	return nil
}
