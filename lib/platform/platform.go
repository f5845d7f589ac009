// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform isolates the host integration the service needs
// around a recording: keeping the process alive when the controller
// goes away, and the visible foreground guarantee some hosts demand
// while sensors are active.
package platform

import (
	"log/slog"
	"sync/atomic"
)

// Host is the host-platform integration surface.
type Host interface {
	// RequiresForeground reports whether active sensors must be backed
	// by a visible foreground guarantee (a persistent notification).
	RequiresForeground() bool

	// AcquireForeground raises the foreground guarantee.
	AcquireForeground(title, message string) error

	// ReleaseForeground clears the guarantee raised by
	// AcquireForeground.
	ReleaseForeground() error

	// SetPersistent controls whether the service keeps running after
	// the controller application exits.
	SetPersistent(persistent bool) error
}

// Desktop is the Host for desktop and server platforms. No foreground
// guarantee exists there and the service process lifetime is managed
// externally, so it only records the persistence preference.
type Desktop struct {
	logger     *slog.Logger
	persistent atomic.Bool
}

// NewDesktop returns a desktop Host.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{logger: logger}
}

// RequiresForeground returns false.
func (d *Desktop) RequiresForeground() bool { return false }

// AcquireForeground is a no-op.
func (d *Desktop) AcquireForeground(title, message string) error { return nil }

// ReleaseForeground is a no-op.
func (d *Desktop) ReleaseForeground() error { return nil }

// SetPersistent records the preference.
func (d *Desktop) SetPersistent(persistent bool) error {
	d.persistent.Store(persistent)
	d.logger.Debug("service persistence recorded", "persistent", persistent)
	return nil
}

// Persistent returns the last value passed to SetPersistent.
func (d *Desktop) Persistent() bool { return d.persistent.Load() }
