// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"log/slog"

	"github.com/fieldvault/fieldvault/lib/recording"
	"github.com/fieldvault/fieldvault/lib/transport"
)

// Callbacks receive what the service sends. Both are optional and run
// on the listener's dispatch goroutine, one at a time.
type Callbacks struct {
	OnStatus func(recording.Status)
	OnLog    func(line string)
}

// Listener serves the controller socket.
type Listener struct {
	server    *transport.Server
	callbacks Callbacks
}

// NewListener returns a listener for socketPath.
func NewListener(socketPath string, callbacks Callbacks, logger *slog.Logger) *Listener {
	listener := &Listener{
		server:    transport.NewServer(socketPath, logger),
		callbacks: callbacks,
	}
	listener.server.Handle(AddressReceiveRecordingState, listener.receiveRecordingState)
	listener.server.Handle(AddressLogOutput, listener.logOutput)
	return listener
}

// Serve accepts messages until ctx is cancelled or Stop is called.
func (l *Listener) Serve(ctx context.Context) error { return l.server.Serve(ctx) }

// Ready is closed once the socket accepts connections.
func (l *Listener) Ready() <-chan struct{} { return l.server.Ready() }

// Stop ends Serve.
func (l *Listener) Stop() { l.server.Stop() }

func (l *Listener) receiveRecordingState(_ context.Context, message transport.Message) error {
	var value any
	if message.Values.Len() > 0 {
		value = message.Values[0]
	}
	status, err := recording.ParseStatus(value)
	if err != nil {
		return err
	}
	if l.callbacks.OnStatus != nil {
		l.callbacks.OnStatus(status)
	}
	return nil
}

func (l *Listener) logOutput(_ context.Context, message transport.Message) error {
	line, err := message.Values.String(0)
	if err != nil {
		return err
	}
	if l.callbacks.OnLog != nil {
		l.callbacks.OnLog(line)
	}
	return nil
}
