// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
	"golang.org/x/term"
)

// parseLevel maps a --log-level value to a slog level.
func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: use debug, info, warn or error", name)
	}
	return level, nil
}

// newLogger builds the service logger. Records fan out to stderr (text
// on a terminal, JSON otherwise), to the systemd journal when the
// service runs as a systemd unit, and to remote when it is non-nil.
// Under systemd the journal replaces stderr, which the unit would
// otherwise copy into the journal a second time.
func newLogger(stderr *os.File, level slog.Level, remote slog.Handler) *slog.Logger {
	var handlers []slog.Handler

	underSystemd := runningAsSystemdService()
	if !underSystemd {
		handlers = append(handlers, localHandler(stderr, level))
	}

	if underSystemd {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			ReplaceGroup: journalKey,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				attr.Key = journalKey(attr.Key)
				return attr
			},
		})
		if err != nil {
			// Without the journal stderr is the only local sink left.
			local := localHandler(stderr, level)
			slog.New(local).Warn("systemd journal unavailable, logging to stderr", "error", err)
			handlers = append(handlers, local)
		} else {
			handlers = append(handlers, leveled{Handler: journal, level: level})
		}
	}

	if remote != nil {
		handlers = append(handlers, remote)
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

func localHandler(w io.Writer, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}

// leveled drops records below level before they reach Handler.
type leveled struct {
	slog.Handler
	level slog.Level
}

func (h leveled) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h leveled) WithGroup(name string) slog.Handler {
	return leveled{Handler: h.Handler.WithGroup(name), level: h.level}
}

// runningAsSystemdService reports whether this process lives in the
// cgroup of a systemd .service unit.
func runningAsSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	for line := range strings.Lines(string(content)) {
		fields := strings.SplitN(strings.TrimSpace(line), ":", 3)
		if len(fields) != 3 {
			continue
		}
		if strings.HasSuffix(path.Dir(fields[2]), ".service") || strings.HasSuffix(fields[2], ".service") {
			return true
		}
	}
	return false
}

// journalKey converts an attribute key to a journal field name:
// uppercase letters, digits and underscores only.
func journalKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return '_'
		}
	}, key)
}
