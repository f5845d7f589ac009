// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/fieldvault/fieldvault/lib/codec"
)

// dialTimeout bounds connecting to the peer socket.
const dialTimeout = 2 * time.Second

// ackTimeout bounds waiting for the peer's acknowledgement. The peer
// acknowledges before running the handler, so this only covers queueing.
const ackTimeout = 5 * time.Second

// DeliveryError is returned by Send when the peer received the message
// but rejected it (unknown address, malformed payload, shutting down).
type DeliveryError struct {
	Address string
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("message %q rejected: %s", e.Address, e.Message)
}

// Client sends addressed messages to a peer's Server. It holds no
// connection state: every Send dials anew, so a Client stays usable
// while the peer restarts.
type Client struct {
	socketPath string
}

// NewClient returns a client for the peer listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the peer socket path.
func (c *Client) SocketPath() string { return c.socketPath }

// Send delivers one message and waits for the acknowledgement.
// Connection failures are returned as plain errors; rejections as
// *DeliveryError.
func (c *Client) Send(ctx context.Context, address string, values ...any) error {
	message := Message{
		ID:      uuid.NewString(),
		Address: address,
	}
	if len(values) > 0 {
		message.Values = Values(values)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("sending %s to %s: connecting: %w", address, c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(message); err != nil {
		return fmt.Errorf("sending %s to %s: writing: %w", address, c.socketPath, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	ackDeadline := time.Now().Add(ackTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(ackDeadline) {
		ackDeadline = deadline
	}
	conn.SetReadDeadline(ackDeadline)
	var ack Ack
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&ack); err != nil {
		return fmt.Errorf("sending %s to %s: reading acknowledgement: %w", address, c.socketPath, err)
	}
	if !ack.OK {
		return &DeliveryError{Address: address, Message: ack.Error}
	}
	return nil
}
