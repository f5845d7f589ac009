// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sampleMessage struct {
	Address string `cbor:"address"`
	Values  []any  `cbor:"values,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	message := map[string]any{
		"values":  []any{"env=default", true},
		"address": "/start_recording",
		"id":      "abc",
	}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(message)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestAnyValuesDecodeToPrimitives(t *testing.T) {
	data, err := Marshal(sampleMessage{
		Address: "/switch_daemonize_service",
		Values:  []any{1, -3, "text", false, map[string]any{"k": "v"}},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleMessage
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got, ok := decoded.Values[0].(uint64); !ok || got != 1 {
		t.Errorf("Values[0] = %#v, want uint64(1)", decoded.Values[0])
	}
	if got, ok := decoded.Values[1].(int64); !ok || got != -3 {
		t.Errorf("Values[1] = %#v, want int64(-3)", decoded.Values[1])
	}
	if got, ok := decoded.Values[2].(string); !ok || got != "text" {
		t.Errorf("Values[2] = %#v, want \"text\"", decoded.Values[2])
	}
	if got, ok := decoded.Values[3].(bool); !ok || got {
		t.Errorf("Values[3] = %#v, want false", decoded.Values[3])
	}
	if _, ok := decoded.Values[4].(map[string]any); !ok {
		t.Errorf("Values[4] = %T, want map[string]any", decoded.Values[4])
	}
}

func TestTimeKeepsSubSecondPrecision(t *testing.T) {
	type stamped struct {
		At time.Time `cbor:"at"`
	}
	original := stamped{At: time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded stamped
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.At.Equal(original.At) {
		t.Errorf("At = %v, want %v", decoded.At, original.At)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	messages := []sampleMessage{
		{Address: "/ping"},
		{Address: "/stop_recording"},
		{Address: "/attempt_container_decryption", Values: []any{"/data/a.fvc"}},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, message := range messages {
		if err := encoder.Encode(message); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index, want := range messages {
		var got sampleMessage
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", index, err)
		}
		if got.Address != want.Address || len(got.Values) != len(want.Values) {
			t.Errorf("message %d: got %+v, want %+v", index, got, want)
		}
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleMessage{Address: "/ping"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"/ping"`) {
		t.Errorf("Diagnose = %q, want it to mention the address", notation)
	}
}
