// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldvault/fieldvault/lib/codec"
	"github.com/fieldvault/fieldvault/lib/sealed"
	"github.com/fieldvault/fieldvault/lib/secret"
)

// FormatVersion is the current container format version. It is part
// of the AAD, so a header claiming another version fails
// authentication.
const FormatVersion byte = 1

// Extension is the file name extension of container files.
const Extension = ".fvc"

// maxContainerSize bounds what Load reads into memory.
const maxContainerSize = 16 << 30

var (
	// ErrDigestMismatch means the decrypted payload does not hash to
	// the digest in the header.
	ErrDigestMismatch = errors.New("container payload digest mismatch")

	// ErrAuthentication means the payload failed AEAD authentication:
	// wrong key, tampered ciphertext, or a header that does not
	// belong to this payload.
	ErrAuthentication = errors.New("container payload authentication failed")
)

// Container is the on-disk container document.
type Container struct {
	Version     byte        `cbor:"version"`
	Session     string      `cbor:"session"`
	Environment string      `cbor:"environment"`
	Created     time.Time   `cbor:"created"`
	Compression Compression `cbor:"compression"`

	// PlaintextSize is the uncompressed payload length.
	PlaintextSize uint64 `cbor:"plaintext_size"`

	// Digest is the BLAKE3-256 hash of the uncompressed payload.
	Digest []byte `cbor:"digest"`

	// WrappedKey is the age-encrypted data key.
	WrappedKey []byte `cbor:"wrapped_key"`

	Nonce      []byte `cbor:"nonce"`
	Ciphertext []byte `cbor:"ciphertext"`
}

// SealOptions describes a container to create.
type SealOptions struct {
	Session     string
	Environment string
	Created     time.Time

	// Recipients are age1... public keys allowed to open the
	// container.
	Recipients []string

	// Compression selects the payload compression. The zero value is
	// CompressionNone; use CompressionAuto to probe.
	Compression Compression
}

// Unwrapper recovers a data key from its age-wrapped form. The
// key-storage pool implements it.
type Unwrapper interface {
	Unwrap(wrapped []byte) (*secret.Buffer, error)
}

// FileName returns the container file name for a session.
func FileName(session string) string {
	return session + Extension
}

// Seal encrypts payload into a new container.
func Seal(payload []byte, options SealOptions) (*Container, error) {
	if options.Session == "" {
		return nil, fmt.Errorf("container session id is required")
	}

	dataKey, err := newDataKey()
	if err != nil {
		return nil, err
	}
	defer dataKey.Close()

	wrappedKey, err := sealed.Wrap(dataKey.Bytes(), options.Recipients)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}

	identity := sessionIdentity(options.Session)
	payloadKey, err := derivePayloadKey(dataKey, identity)
	if err != nil {
		return nil, err
	}
	defer payloadKey.Close()

	compressed, algorithm, err := compress(payload, options.Compression)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext, err := sealPayload(compressed, payloadKey, FormatVersion, identity)
	if err != nil {
		return nil, err
	}

	created := options.Created
	if created.IsZero() {
		created = time.Now()
	}
	return &Container{
		Version:       FormatVersion,
		Session:       options.Session,
		Environment:   options.Environment,
		Created:       created.UTC(),
		Compression:   algorithm,
		PlaintextSize: uint64(len(payload)),
		Digest:        payloadDigest(payload),
		WrappedKey:    wrappedKey,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

// Open decrypts the container payload, unwrapping the data key with
// unwrapper.
func (c *Container) Open(unwrapper Unwrapper) ([]byte, error) {
	if c.Version != FormatVersion {
		return nil, fmt.Errorf("container format version %d is not supported (expected %d)", c.Version, FormatVersion)
	}

	dataKey, err := unwrapper.Unwrap(c.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping data key: %w", err)
	}
	defer dataKey.Close()

	identity := sessionIdentity(c.Session)
	payloadKey, err := derivePayloadKey(dataKey, identity)
	if err != nil {
		return nil, err
	}
	defer payloadKey.Close()

	compressed, err := openPayload(c.Nonce, c.Ciphertext, payloadKey, c.Version, identity)
	if err != nil {
		return nil, err
	}

	if c.PlaintextSize > maxContainerSize {
		return nil, fmt.Errorf("container plaintext size %d exceeds limit", c.PlaintextSize)
	}
	payload, err := decompress(compressed, c.Compression, int(c.PlaintextSize))
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(payloadDigest(payload), c.Digest) {
		return nil, ErrDigestMismatch
	}
	return payload, nil
}

// Write stores the container at path atomically.
func (c *Container) Write(path string) error {
	data, err := codec.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding container: %w", err)
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), ".container-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary container file: %w", err)
	}
	temporaryPath := temporary.Name()

	_, writeErr := temporary.Write(data)
	if writeErr == nil {
		writeErr = temporary.Sync()
	}
	if closeErr := temporary.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr == nil {
		writeErr = os.Chmod(temporaryPath, 0600)
	}
	if writeErr == nil {
		writeErr = os.Rename(temporaryPath, path)
	}
	if writeErr != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("writing container %s: %w", path, writeErr)
	}
	return nil
}

// Load reads a container file. Only the document structure is
// checked; the payload is authenticated by Open.
func Load(path string) (*Container, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxContainerSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading container %s: %w", path, err)
	}
	if len(data) > maxContainerSize {
		return nil, fmt.Errorf("container %s exceeds %d bytes", path, maxContainerSize)
	}

	var loaded Container
	if err := codec.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("decoding container %s: %w", path, err)
	}
	if loaded.Session == "" {
		return nil, fmt.Errorf("container %s has no session id", path)
	}
	return &loaded, nil
}
