// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fieldvault/fieldvault/lib/container"
)

// decryptContainer opens the container at path with the key store and
// extracts its archive into <exports>/<basename(path)>. Existing files
// are overwritten. A failure part way through leaves whatever was
// already extracted in place.
func (s *Service) decryptContainer(path string) error {
	destination := filepath.Join(s.config.Paths.Exports, filepath.Base(path))
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	sealed, err := container.Load(path)
	if err != nil {
		return err
	}
	archive, err := sealed.Open(s.keys)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if err := container.Extract(bytes.NewReader(archive), destination); err != nil {
		return fmt.Errorf("extracting %s: %w", path, err)
	}

	s.logger.Info("container decrypted",
		"container", path,
		"session", sealed.Session,
		"environment", sealed.Environment,
		"destination", destination,
	)
	return nil
}
