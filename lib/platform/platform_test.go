// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"io"
	"log/slog"
	"testing"
)

func TestDesktopHost(t *testing.T) {
	host := NewDesktop(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var _ Host = host

	if host.RequiresForeground() {
		t.Error("desktop host should not require a foreground guarantee")
	}
	if err := host.AcquireForeground("title", "message"); err != nil {
		t.Errorf("AcquireForeground: %v", err)
	}
	if err := host.ReleaseForeground(); err != nil {
		t.Errorf("ReleaseForeground: %v", err)
	}

	if err := host.SetPersistent(true); err != nil {
		t.Fatalf("SetPersistent: %v", err)
	}
	if !host.Persistent() {
		t.Error("Persistent() = false after SetPersistent(true)")
	}
	host.SetPersistent(false)
	if host.Persistent() {
		t.Error("Persistent() = true after SetPersistent(false)")
	}
}
