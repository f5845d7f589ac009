// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolchain defines the contract between the service control
// core and the sensor capture pipeline, and provides a command-driven
// implementation of it.
//
// The control core only ever sees a [Toolchain]: something that can be
// started, stopped, and asked whether it is running. Flushing and
// sealing captured data into an encrypted container is the toolchain's
// responsibility and happens inside Stop.
package toolchain

// Toolchain is one recording session's capture pipeline. At most one
// exists at a time; the recording lifecycle owns it exclusively.
type Toolchain interface {
	// IsRunning reports whether capture is active.
	IsRunning() bool

	// Start begins capture.
	Start() error

	// Stop ends capture and finalizes buffered output.
	Stop() error
}
