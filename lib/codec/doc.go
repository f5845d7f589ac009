// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR encoding configuration shared by every
// fieldvault component that writes bytes another component will read:
// transport messages between the service and its controller, the
// recording marker file, and encrypted container documents.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical value always produces the same bytes. Container headers
// rely on this: the authenticated header bytes must be reproducible
// from the decoded struct.
//
// Buffer-oriented use (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Struct fields carry `cbor` tags. Values decoded into `any` come back
// as map[string]any for maps, []any for arrays, uint64 for non-negative
// integers and int64 for negative ones.
package codec
