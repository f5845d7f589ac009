// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldvault/fieldvault/lib/recording"
	"github.com/fieldvault/fieldvault/lib/testutil"
	"github.com/fieldvault/fieldvault/lib/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	address string
	values  []any
}

type fakeSender struct {
	calls []sent
	err   error
}

func (f *fakeSender) Send(_ context.Context, address string, values ...any) error {
	f.calls = append(f.calls, sent{address: address, values: values})
	return f.err
}

func TestControllerAddresses(t *testing.T) {
	sender := &fakeSender{}
	controller := New(sender, testLogger())
	ctx := context.Background()

	controller.Ping(ctx)
	controller.StartRecording(ctx, "env=field")
	controller.StopRecording(ctx)
	controller.BroadcastRecordingState(ctx)
	controller.AttemptContainerDecryption(ctx, "/data/containers/abc.fvc")
	controller.SwitchDaemonizeService(ctx, true)
	controller.StopServer(ctx)

	want := []sent{
		{AddressPing, nil},
		{AddressStartRecording, []any{"env=field"}},
		{AddressStopRecording, nil},
		{AddressBroadcastRecordingState, nil},
		{AddressAttemptContainerDecryption, []any{"/data/containers/abc.fvc"}},
		{AddressSwitchDaemonizeService, []any{true}},
		{AddressStopServer, nil},
	}
	if len(sender.calls) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(sender.calls), len(want))
	}
	for index, call := range sender.calls {
		if call.address != want[index].address {
			t.Errorf("message %d address = %s, want %s", index, call.address, want[index].address)
		}
		if len(call.values) != len(want[index].values) {
			t.Errorf("message %d values = %v, want %v", index, call.values, want[index].values)
			continue
		}
		for position := range call.values {
			if call.values[position] != want[index].values[position] {
				t.Errorf("message %d value %d = %v, want %v", index, position, call.values[position], want[index].values[position])
			}
		}
	}
}

func TestControllerReturnsSendErrors(t *testing.T) {
	failure := errors.New("service not running")
	controller := New(&fakeSender{err: failure}, testLogger())
	if err := controller.Ping(context.Background()); !errors.Is(err, failure) {
		t.Fatalf("Ping = %v, want %v", err, failure)
	}
}

func TestListenerDecodesStatusAndLogs(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "controller.sock")
	statuses := make(chan recording.Status, 8)
	lines := make(chan string, 8)
	listener := NewListener(socketPath, Callbacks{
		OnStatus: func(status recording.Status) { statuses <- status },
		OnLog:    func(line string) { lines <- line },
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return")
	})
	testutil.RequireClosed(t, listener.Ready(), 5*time.Second, "listener did not start")

	client := transport.NewClient(socketPath)
	for _, status := range []recording.Status{recording.StatusUnknown, recording.StatusRecording, recording.StatusIdle} {
		if err := client.Send(ctx, AddressReceiveRecordingState, status.WireValue()); err != nil {
			t.Fatalf("Send %v: %v", status, err)
		}
		if got := testutil.RequireReceive(t, statuses, 5*time.Second, "status"); got != status {
			t.Errorf("received %v, want %v", got, status)
		}
	}

	if err := client.Send(ctx, AddressLogOutput, "Service: Pong"); err != nil {
		t.Fatalf("Send log: %v", err)
	}
	if got := testutil.RequireReceive(t, lines, 5*time.Second, "log line"); got != "Service: Pong" {
		t.Errorf("log line = %q", got)
	}
}
