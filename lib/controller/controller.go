// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller is the client side of the service's control
// surface: a [Controller] that sends requests, and a [Listener] that
// receives the status broadcasts and log lines the service sends back.
//
// Requests are fire-and-forget. A successful call means the service
// accepted the message, not that the operation finished; results
// arrive later through the Listener.
package controller

import (
	"context"
	"log/slog"
)

// Sender delivers values to an address. transport.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, address string, values ...any) error
}

// Controller sends requests to the service.
type Controller struct {
	sender Sender
	logger *slog.Logger
}

// New returns a Controller sending through sender.
func New(sender Sender, logger *slog.Logger) *Controller {
	return &Controller{sender: sender, logger: logger}
}

// Ping asks the service to answer with a "Pong" log line.
func (c *Controller) Ping(ctx context.Context) error {
	return c.send(ctx, AddressPing)
}

// StartRecording asks the service to start recording with the named
// encryption environment. The empty string selects the default.
func (c *Controller) StartRecording(ctx context.Context, environment string) error {
	return c.send(ctx, AddressStartRecording, environment)
}

// StopRecording asks the service to stop recording.
func (c *Controller) StopRecording(ctx context.Context) error {
	return c.send(ctx, AddressStopRecording)
}

// BroadcastRecordingState asks the service to send its recording
// status to the Listener.
func (c *Controller) BroadcastRecordingState(ctx context.Context) error {
	return c.send(ctx, AddressBroadcastRecordingState)
}

// AttemptContainerDecryption asks the service to decrypt and extract
// the container at path, as seen by the service.
func (c *Controller) AttemptContainerDecryption(ctx context.Context, path string) error {
	return c.send(ctx, AddressAttemptContainerDecryption, path)
}

// SwitchDaemonizeService sets whether the service keeps running after
// the controller exits.
func (c *Controller) SwitchDaemonizeService(ctx context.Context, daemonize bool) error {
	return c.send(ctx, AddressSwitchDaemonizeService, daemonize)
}

// StopServer asks the service to shut down, stopping any recording
// first.
func (c *Controller) StopServer(ctx context.Context) error {
	return c.send(ctx, AddressStopServer)
}

func (c *Controller) send(ctx context.Context, address string, values ...any) error {
	if err := c.sender.Send(ctx, address, values...); err != nil {
		c.logger.Warn("sending to service failed", "address", address, "error", err)
		return err
	}
	return nil
}
