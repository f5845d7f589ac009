// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package logbridge forwards the service's log records to the
// controller.
//
// A [Bridge] is an slog.Handler meant to be composed next to the local
// handlers (slog-multi Fanout). Each record is rendered as one line,
// "Service: <message> key=value ...", and queued for a background
// goroutine that sends it as a single string value to the controller's
// log address. Handle never blocks on the transport: a full queue
// drops the record.
//
// Forwarding failures are written to a fallback writer rather than
// logged, since logging them would feed them back into the bridge.
// Records logged with a context returned by [Forwarding] are skipped
// for the same reason.
package logbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Prefix starts every forwarded line.
const Prefix = "Service: "

// Sender delivers values to an address. transport.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, address string, values ...any) error
}

// Options configures a Bridge.
type Options struct {
	// Address receives the log lines. Required.
	Address string

	// Level is the minimum forwarded level. Default: info.
	Level slog.Leveler

	// QueueSize bounds records waiting to be sent. Default: 256.
	QueueSize int

	// SendTimeout bounds each send. Default: 2s.
	SendTimeout time.Duration

	// Fallback receives forwarding failures. Default: stderr.
	Fallback io.Writer
}

type forwardingKey struct{}

// Forwarding marks ctx so that records logged with it are not
// forwarded.
func Forwarding(ctx context.Context) context.Context {
	return context.WithValue(ctx, forwardingKey{}, true)
}

func isForwarding(ctx context.Context) bool {
	marked, _ := ctx.Value(forwardingKey{}).(bool)
	return marked
}

// core is shared by a Bridge and the handlers derived from it with
// WithAttrs and WithGroup.
type core struct {
	sender  Sender
	options Options
	queue   chan string

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	fallbackMu sync.Mutex
}

// Bridge is an slog.Handler forwarding records through a Sender.
type Bridge struct {
	core   *core
	prefix string
	attrs  []slog.Attr
}

// New starts a bridge. Close it to stop the forwarder.
func New(sender Sender, options Options) *Bridge {
	if options.Address == "" {
		panic("logbridge.New: Address is required")
	}
	if options.Level == nil {
		options.Level = slog.LevelInfo
	}
	if options.QueueSize <= 0 {
		options.QueueSize = 256
	}
	if options.SendTimeout <= 0 {
		options.SendTimeout = 2 * time.Second
	}
	if options.Fallback == nil {
		options.Fallback = os.Stderr
	}

	shared := &core{
		sender:  sender,
		options: options,
		queue:   make(chan string, options.QueueSize),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go shared.forward()
	return &Bridge{core: shared}
}

// Enabled implements slog.Handler.
func (b *Bridge) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= b.core.options.Level.Level() && !isForwarding(ctx)
}

// Handle implements slog.Handler.
func (b *Bridge) Handle(ctx context.Context, record slog.Record) error {
	if isForwarding(ctx) {
		return nil
	}

	var line strings.Builder
	line.WriteString(Prefix)
	line.WriteString(record.Message)
	for _, attr := range b.attrs {
		appendAttr(&line, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		appendAttr(&line, b.prefix, attr)
		return true
	})

	select {
	case <-b.core.closed:
	case b.core.queue <- line.String():
	default:
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return b
	}
	derived := *b
	derived.attrs = make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	derived.attrs = append(derived.attrs, b.attrs...)
	for _, attr := range attrs {
		if b.prefix != "" {
			attr.Key = b.prefix + attr.Key
		}
		derived.attrs = append(derived.attrs, attr)
	}
	return &derived
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	derived := *b
	derived.prefix = b.prefix + name + "."
	return &derived
}

// Close stops accepting records, sends what is queued within ctx, and
// stops the forwarder.
func (b *Bridge) Close(ctx context.Context) {
	b.core.closeOnce.Do(func() { close(b.core.closed) })
	select {
	case <-b.core.done:
	case <-ctx.Done():
	}
}

func (c *core) forward() {
	defer close(c.done)
	for {
		select {
		case line := <-c.queue:
			c.send(line)
		case <-c.closed:
			for {
				select {
				case line := <-c.queue:
					c.send(line)
				default:
					return
				}
			}
		}
	}
}

func (c *core) send(line string) {
	ctx, cancel := context.WithTimeout(Forwarding(context.Background()), c.options.SendTimeout)
	defer cancel()
	if err := c.sender.Send(ctx, c.options.Address, line); err != nil {
		c.fallbackMu.Lock()
		fmt.Fprintf(c.options.Fallback, "logbridge: forwarding to %s failed: %v\n", c.options.Address, err)
		c.fallbackMu.Unlock()
	}
}

func appendAttr(line *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			appendAttr(line, groupPrefix, member)
		}
		return
	}

	line.WriteByte(' ')
	line.WriteString(prefix)
	line.WriteString(attr.Key)
	line.WriteByte('=')
	value := attr.Value.String()
	if value == "" || strings.ContainsAny(value, " =\"") {
		fmt.Fprintf(line, "%q", value)
	} else {
		line.WriteString(value)
	}
}
