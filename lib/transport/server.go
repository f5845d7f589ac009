// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fieldvault/fieldvault/lib/codec"
)

// HandlerFunc processes one inbound message on the dispatch goroutine.
// A returned error is logged by the server; the sender has already been
// acknowledged and never sees it.
type HandlerFunc func(ctx context.Context, message Message) error

// readTimeout bounds how long a connected client may take to send its
// message.
const readTimeout = 10 * time.Second

// writeTimeout bounds writing the acknowledgement.
const writeTimeout = 5 * time.Second

// maxMessageSize caps a single message. Control payloads are a few
// primitives; log lines are the largest thing carried.
const maxMessageSize = 256 * 1024

// inboxSize is the number of acknowledged messages that may wait for
// the dispatch goroutine before connection handlers start blocking.
const inboxSize = 64

// Server accepts addressed messages on a Unix socket and dispatches
// them to registered handlers on one goroutine, in arrival order.
type Server struct {
	socketPath string
	handlers   map[string]HandlerFunc
	logger     *slog.Logger

	inbox    chan Message
	stop     chan struct{}
	stopOnce sync.Once
	ready    chan struct{}

	activeConnections sync.WaitGroup
}

// NewServer creates a server for socketPath. Register handlers with
// Handle before calling Serve.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		logger:     logger,
		inbox:      make(chan Message, inboxSize),
		stop:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Handle registers handler for address. Panics on a duplicate address.
// Must not be called after Serve has started.
func (s *Server) Handle(address string, handler HandlerFunc) {
	if _, exists := s.handlers[address]; exists {
		panic(fmt.Sprintf("transport.Server: duplicate handler for address %q", address))
	}
	s.handlers[address] = handler
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Ready returns a channel closed once the socket is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Stop makes Serve stop accepting connections and return once in-flight
// connections and the current handler have finished. Safe to call from
// inside a handler, and more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Serve listens on the socket and dispatches messages until ctx is
// cancelled or Stop is called. Messages still queued for dispatch when
// the server stops are dropped. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		listener.Close()
	}()

	dispatchQuit := make(chan struct{})
	dispatchDone := make(chan struct{})
	go s.dispatch(ctx, dispatchQuit, dispatchDone)

	s.logger.Info("transport listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.stopping() || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	close(dispatchQuit)
	<-dispatchDone
	s.logger.Info("transport stopped", "path", s.socketPath)
	return nil
}

func (s *Server) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// dispatch is the single goroutine that runs handlers.
func (s *Server) dispatch(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case message := <-s.inbox:
			handler := s.handlers[message.Address]
			if err := handler(ctx, message); err != nil {
				s.logger.Warn("handler failed",
					"address", message.Address,
					"message_id", message.ID,
					"error", err,
				)
			}
		case <-quit:
			return
		}
	}
}

// handleConnection reads one message, validates its address and queues
// it for dispatch.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var message Message
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&message); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeAck(conn, fmt.Sprintf("invalid message: %v", err))
		return
	}
	if message.Address == "" {
		s.writeAck(conn, "missing required field: address")
		return
	}
	if _, exists := s.handlers[message.Address]; !exists {
		s.writeAck(conn, fmt.Sprintf("unknown address %q", message.Address))
		return
	}

	select {
	case s.inbox <- message:
		s.writeAck(conn, "")
	case <-s.stop:
		s.writeAck(conn, "server stopping")
	case <-ctx.Done():
		s.writeAck(conn, "server stopping")
	}
}

// writeAck sends {ok: true} when problem is empty, otherwise
// {ok: false, error: problem}.
func (s *Server) writeAck(conn net.Conn, problem string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	ack := Ack{OK: problem == "", Error: problem}
	if err := codec.NewEncoder(conn).Encode(ack); err != nil {
		s.logger.Debug("failed to write acknowledgement", "error", err)
	}
}
