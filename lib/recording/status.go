// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package recording

import "fmt"

// Status is the recording state reported to the controller. It is
// ternary: while any start or stop is queued or running the state is
// [StatusUnknown], otherwise it reflects whether a toolchain is
// actively capturing.
type Status int

const (
	// StatusUnknown means a transition is in progress.
	StatusUnknown Status = iota

	// StatusIdle means no recording is active.
	StatusIdle

	// StatusRecording means a toolchain is capturing.
	StatusRecording
)

// String returns "unknown", "idle", or "recording".
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// WireValue returns the single value carried on the recording state
// address: the empty string for unknown, false for idle, true for
// recording. Controllers in the field test the value's type before
// its truth, so the empty string must not be replaced with null.
func (s Status) WireValue() any {
	switch s {
	case StatusIdle:
		return false
	case StatusRecording:
		return true
	default:
		return ""
	}
}

// ParseStatus decodes a value produced by [Status.WireValue]. A null
// value is accepted as unknown.
func ParseStatus(value any) (Status, error) {
	switch typed := value.(type) {
	case nil:
		return StatusUnknown, nil
	case string:
		if typed == "" {
			return StatusUnknown, nil
		}
		return StatusUnknown, fmt.Errorf("unexpected recording state string %q", typed)
	case bool:
		if typed {
			return StatusRecording, nil
		}
		return StatusIdle, nil
	default:
		return StatusUnknown, fmt.Errorf("unexpected recording state type %T", value)
	}
}
