// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package container implements the encrypted recording container.
//
// A container file is a single CBOR document ([Container]) holding a
// plaintext header and the encrypted payload. The payload is a tar
// archive of one recording session's sensor output.
//
// Sealing a payload:
//
//  1. A fresh random 32-byte data key is generated and wrapped with age
//     to the recipients of the encryption environment.
//  2. The payload is compressed (lz4, zstd or none, chosen by probing
//     a sample unless configured).
//  3. The compressed bytes are encrypted with XChaCha20-Poly1305 under
//     a key derived from the data key with HKDF-SHA256. The AAD is the
//     format version byte followed by the BLAKE3 hash of the session
//     id, binding the ciphertext to its header.
//  4. The BLAKE3-256 digest of the uncompressed payload is recorded and
//     verified after decryption.
//
// [Open] reverses this given anything that can unwrap the data key
// (the key-storage pool). [Extract] unpacks the recovered archive.
package container
