// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps small secrets (container data keys) to age
// x25519 recipients and unwraps them with age identities held in
// [secret.Buffer] memory.
//
// Ciphertext is the raw binary age format; containers embed it as a
// CBOR byte string, so no text armor is applied.
package sealed
