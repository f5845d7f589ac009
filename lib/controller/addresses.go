// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package controller

// Addresses handled by the service.
const (
	AddressPing                       = "/ping"
	AddressStartRecording             = "/start_recording"
	AddressStopRecording              = "/stop_recording"
	AddressBroadcastRecordingState    = "/broadcast_recording_state"
	AddressAttemptContainerDecryption = "/attempt_container_decryption"
	AddressSwitchDaemonizeService     = "/switch_daemonize_service"
	AddressStopServer                 = "/stop_server"
)

// Addresses handled by the controller.
const (
	// AddressReceiveRecordingState carries one value: "" (unknown),
	// false (idle) or true (recording).
	AddressReceiveRecordingState = "/receive_recording_state"

	// AddressLogOutput carries one string, a rendered service log line.
	AddressLogOutput = "/log_output"
)
