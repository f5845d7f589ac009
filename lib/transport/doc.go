// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries addressed messages between the fieldvault
// service and its controller over Unix sockets.
//
// A message is one CBOR value: an address such as "/start_recording"
// and an ordered list of primitive values. Each side of the channel
// runs a [Server] on its own socket and holds a [Client] pointing at the
// peer's socket, so either side can send at any time. Replies are not
// part of the protocol: a handler that wants to answer sends a new
// message to a reply address on the peer.
//
// Each connection carries exactly one message. The server acknowledges
// receipt with {ok: true} once the message has been queued for
// dispatch, or {ok: false, error: "..."} for malformed messages and
// unknown addresses. Acknowledgement does not wait for the handler.
//
// Handlers run on a single dispatch goroutine, in arrival order. A
// handler must return quickly: while it runs, no other message is
// dispatched.
package transport
