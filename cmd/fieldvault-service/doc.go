// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Fieldvault-service is the background recording service. It listens
// on a unix socket for addressed control messages from the fieldvault
// controller, runs every recording transition on a single worker, and
// reports the ternary recording state back to the controller's socket
// on /receive_recording_state. Service log records are mirrored to the
// controller on /log_output, prefixed with "Service: ".
//
// At start-up the service applies the configured persistence setting
// and, when a recording marker survived a previous run, resumes that
// recording before it accepts any message. A /stop_server request (or
// SIGINT/SIGTERM) stops an active recording, waiting up to
// service.stop_timeout for its container to be sealed, before the
// socket is closed.
//
// Recording is driven by the sensor commands in the configuration:
// each enabled sensor runs as a child process writing into a session
// directory, which is packed, encrypted to the selected environment's
// recipients and written as a container when the recording stops.
// Containers are decrypted on request into the exports directory with
// the identities in the key directory.
package main
