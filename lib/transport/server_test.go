// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fieldvault/fieldvault/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs server in the background and returns a function
// that waits for Serve to return.
func startServer(t *testing.T, server *Server) (wait func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not start")

	var once sync.Once
	var result error
	wait = func() error {
		once.Do(func() {
			result = testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return")
		})
		return result
	}
	t.Cleanup(func() {
		cancel()
		wait()
	})
	return wait
}

func TestSendDeliversValues(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "service.sock")
	server := NewServer(socketPath, testLogger())

	received := make(chan Message, 1)
	server.Handle("/attempt_container_decryption", func(_ context.Context, message Message) error {
		received <- message
		return nil
	})
	startServer(t, server)

	client := NewClient(socketPath)
	if err := client.Send(context.Background(), "/attempt_container_decryption", "/data/session.fvc", true, 7); err != nil {
		t.Fatalf("Send: %v", err)
	}

	message := testutil.RequireReceive(t, received, 5*time.Second, "handler not invoked")
	if message.ID == "" {
		t.Error("message ID is empty")
	}
	path, err := message.Values.String(0)
	if err != nil || path != "/data/session.fvc" {
		t.Errorf("String(0) = %q, %v", path, err)
	}
	flag, err := message.Values.Bool(1)
	if err != nil || !flag {
		t.Errorf("Bool(1) = %v, %v", flag, err)
	}
	number, err := message.Values.Int(2)
	if err != nil || number != 7 {
		t.Errorf("Int(2) = %d, %v", number, err)
	}
}

func TestHandlersRunInArrivalOrderOnOneGoroutine(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "service.sock")
	server := NewServer(socketPath, testLogger())

	var mu sync.Mutex
	var running, maxRunning int
	var order []int64
	server.Handle("/count", func(_ context.Context, message Message) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		value, _ := message.Values.Int(0)
		time.Sleep(time.Millisecond)

		mu.Lock()
		order = append(order, value)
		running--
		mu.Unlock()
		return nil
	})
	startServer(t, server)

	client := NewClient(socketPath)
	for index := range 20 {
		if err := client.Send(context.Background(), "/count", index); err != nil {
			t.Fatalf("Send %d: %v", index, err)
		}
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, "not all messages dispatched")

	mu.Lock()
	defer mu.Unlock()
	for index, value := range order {
		if value != int64(index) {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if maxRunning != 1 {
		t.Errorf("max concurrent handlers = %d, want 1", maxRunning)
	}
}

func TestUnknownAddressIsRejected(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "service.sock")
	server := NewServer(socketPath, testLogger())
	server.Handle("/ping", func(context.Context, Message) error { return nil })
	startServer(t, server)

	err := NewClient(socketPath).Send(context.Background(), "/not_there")
	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("Send = %v, want *DeliveryError", err)
	}
	if delivery.Address != "/not_there" {
		t.Errorf("DeliveryError.Address = %q", delivery.Address)
	}
}

func TestSendToMissingPeerFails(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "absent.sock")
	err := NewClient(socketPath).Send(context.Background(), "/ping")
	if err == nil {
		t.Fatal("Send to a missing socket succeeded")
	}
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		t.Fatalf("connection failure reported as delivery error: %v", err)
	}
}

func TestSendHonoursContextDeadlineWhileAwaitingAck(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "silent.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	// The peer accepts and reads but never acknowledges.
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(io.Discard, conn)
				time.Sleep(ackTimeout)
			}()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	started := time.Now()
	err = NewClient(socketPath).Send(ctx, "/ping")
	elapsed := time.Since(started)
	if err == nil {
		t.Fatal("Send to a silent peer succeeded")
	}
	if elapsed >= ackTimeout/2 {
		t.Errorf("Send returned after %s, want about the 300ms context deadline", elapsed)
	}
}

func TestStopFromHandler(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "service.sock")
	server := NewServer(socketPath, testLogger())
	server.Handle("/stop_server", func(context.Context, Message) error {
		server.Stop()
		return nil
	})
	wait := startServer(t, server)

	if err := NewClient(socketPath).Send(context.Background(), "/stop_server"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := wait(); err != nil {
		t.Fatalf("Serve returned %v", err)
	}

	if err := NewClient(socketPath).Send(context.Background(), "/stop_server"); err == nil {
		t.Fatal("Send after Stop succeeded")
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewServer("/tmp/unused.sock", testLogger())
	server.Handle("/ping", func(context.Context, Message) error { return nil })

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Handle did not panic")
		}
	}()
	server.Handle("/ping", func(context.Context, Message) error { return nil })
}
