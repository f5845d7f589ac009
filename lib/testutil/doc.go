// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for fieldvault
// packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes. [RequireReceive] and
// [RequireClosed] wrap the select-with-timeout pattern so tests never
// hang on a channel. [Eventually] polls a condition for state that is
// only observable from outside a goroutine.
//
// All helpers call t.Fatalf on failure.
package testutil
