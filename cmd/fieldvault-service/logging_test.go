// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
		{"", 0, true},
	}
	for _, test := range tests {
		got, err := parseLevel(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %t", test.input, err, test.wantErr)
			continue
		}
		if !test.wantErr && got != test.want {
			t.Errorf("parseLevel(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestJournalKey(t *testing.T) {
	tests := map[string]string{
		"error":             "ERROR",
		"message_id":        "MESSAGE_ID",
		"controller.socket": "CONTROLLER_SOCKET",
		"task-id2":          "TASK_ID2",
	}
	for input, want := range tests {
		if got := journalKey(input); got != want {
			t.Errorf("journalKey(%q) = %q, want %q", input, got, want)
		}
	}
}

// permissive enables every level.
type permissive struct {
	slog.Handler
}

func (permissive) Enabled(context.Context, slog.Level) bool { return true }

func TestLeveledFiltersBelowLevel(t *testing.T) {
	handler := leveled{Handler: permissive{}, level: slog.LevelWarn}

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled on a warn handler")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled on a warn handler")
	}
}
