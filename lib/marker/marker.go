// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package marker persists the "recording in progress" flag that lets
// the service resume a recording after an abrupt restart.
//
// The marker is written when a recording session begins and removed
// when it ends cleanly. If the process dies in between (killed by the
// host, crashed, device rebooted), the file survives and the next
// service start finds it and restarts recording before serving any
// request.
//
// Existence is what matters. The file also carries the environment the
// recording was started with and the start time, so a resumed
// recording uses the same encryption settings; a marker whose content
// cannot be parsed still counts as present.
//
// The file is written atomically (temporary file, fsync, rename, parent
// directory fsync) so a crash mid-write never leaves a torn marker.
package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldvault/fieldvault/lib/codec"
)

// State is the marker content.
type State struct {
	// Environment is the encryption environment the interrupted
	// recording was started with.
	Environment string `cbor:"environment"`

	// StartedAt is when the recording began.
	StartedAt time.Time `cbor:"started_at"`
}

// Write atomically creates or replaces the marker at path. The parent
// directory must exist. The file mode is 0600.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling recording marker: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary marker file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary marker file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary marker file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary marker file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming marker file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Read returns the marker content. A missing marker yields an error
// wrapping os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing recording marker %s: %w", path, err)
	}
	return state, nil
}

// Check reports whether a marker exists and returns its content. A
// marker that exists but cannot be parsed is reported as present with
// a zero State and the parse error, so callers can still resume.
func Check(path string) (State, bool, error) {
	state, err := Read(path)
	if err == nil {
		return state, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return State{}, true, err
	}
	return State{}, false, err
}

// Remove deletes the marker. Removing a missing marker is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing recording marker: %w", err)
	}
	return nil
}
