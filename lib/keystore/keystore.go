// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore is the key-storage pool: a directory of age
// identity files used to unwrap container data keys.
//
// Each identity lives in its own <name>.key file (mode 0600) holding a
// single AGE-SECRET-KEY-1... line. Identities are read into protected
// memory only for the duration of an unwrap.
package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fieldvault/fieldvault/lib/sealed"
	"github.com/fieldvault/fieldvault/lib/secret"
)

// ErrNoIdentity is returned when the pool holds no identity able to
// unwrap a key.
var ErrNoIdentity = errors.New("no identity in key storage can unwrap this key")

const keySuffix = ".key"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is a key-storage directory.
type Store struct {
	directory string
}

// Open returns the store rooted at directory, creating it with mode
// 0700 if needed.
func Open(directory string) (*Store, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("creating key storage %s: %w", directory, err)
	}
	return &Store{directory: directory}, nil
}

// Directory returns the store's directory.
func (s *Store) Directory() string { return s.directory }

// Generate creates a new identity under name and returns its public
// recipient string. An existing identity with the same name is never
// replaced.
func (s *Store) Generate(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("invalid key name %q", name)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", err
	}
	defer keypair.Close()

	path := filepath.Join(s.directory, name+keySuffix)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("creating key file: %w", err)
	}
	contents := append(append([]byte(nil), keypair.PrivateKey.Bytes()...), '\n')
	_, writeErr := file.Write(contents)
	secret.Zero(contents)
	if writeErr == nil {
		writeErr = file.Sync()
	}
	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing key file: %w", writeErr)
	}

	return keypair.PublicKey, nil
}

// Names returns the identity names in the store, sorted.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("listing key storage: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), keySuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), keySuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Recipient returns the public recipient string of the named identity.
func (s *Store) Recipient(name string) (string, error) {
	privateKey, err := secret.ReadFile(filepath.Join(s.directory, name+keySuffix))
	if err != nil {
		return "", fmt.Errorf("reading identity %q: %w", name, err)
	}
	defer privateKey.Close()
	return sealed.ParsePrivateKey(privateKey)
}

// Unwrap decrypts an age-wrapped key with every identity in the store.
// The caller must Close the returned buffer.
func (s *Store) Unwrap(wrapped []byte) (*secret.Buffer, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoIdentity, s.directory)
	}

	privateKeys := make([]*secret.Buffer, 0, len(names))
	defer func() {
		for _, privateKey := range privateKeys {
			privateKey.Close()
		}
	}()
	for _, name := range names {
		privateKey, err := secret.ReadFile(filepath.Join(s.directory, name+keySuffix))
		if err != nil {
			return nil, fmt.Errorf("reading identity %q: %w", name, err)
		}
		privateKeys = append(privateKeys, privateKey)
	}

	unwrapped, err := sealed.Unwrap(wrapped, privateKeys...)
	if errors.Is(err, sealed.ErrNoMatchingIdentity) {
		return nil, ErrNoIdentity
	}
	return unwrapped, err
}
