// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the fieldvault
// binaries: the raw stderr report used when run() fails before or
// after the structured logger exists, and the exit code convention.
package process
