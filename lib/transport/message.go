// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"math"
)

// Message is the wire envelope for one addressed message.
type Message struct {
	// ID identifies the message in logs on both sides.
	ID string `cbor:"id"`

	// Address selects the handler on the receiving side.
	Address string `cbor:"address"`

	// Values is the ordered payload. Elements are booleans, strings,
	// integers, floats or nil.
	Values Values `cbor:"values,omitempty"`
}

// Ack is the receiving server's acknowledgement of a message.
type Ack struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// Values is a decoded message payload with typed accessors. Accessors
// return an error when the index is out of range or the element has an
// incompatible type.
type Values []any

// Len returns the number of payload elements.
func (v Values) Len() int { return len(v) }

// String returns element index as a string.
func (v Values) String(index int) (string, error) {
	element, err := v.at(index)
	if err != nil {
		return "", err
	}
	text, ok := element.(string)
	if !ok {
		return "", fmt.Errorf("value %d: expected string, got %T", index, element)
	}
	return text, nil
}

// OptionalString returns element index as a string, or fallback when
// the payload has fewer elements or the element is nil.
func (v Values) OptionalString(index int, fallback string) (string, error) {
	if index >= len(v) || v[index] == nil {
		return fallback, nil
	}
	return v.String(index)
}

// Bool returns element index as a boolean. Integers are accepted and
// normalized (zero is false), since some controllers encode flags as
// 0/1.
func (v Values) Bool(index int) (bool, error) {
	element, err := v.at(index)
	if err != nil {
		return false, err
	}
	switch value := element.(type) {
	case bool:
		return value, nil
	case uint64:
		return value != 0, nil
	case int64:
		return value != 0, nil
	case int:
		return value != 0, nil
	default:
		return false, fmt.Errorf("value %d: expected boolean or integer, got %T", index, element)
	}
}

// Int returns element index as an int64.
func (v Values) Int(index int) (int64, error) {
	element, err := v.at(index)
	if err != nil {
		return 0, err
	}
	switch value := element.(type) {
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case uint64:
		if value > math.MaxInt64 {
			return 0, fmt.Errorf("value %d: %d overflows int64", index, value)
		}
		return int64(value), nil
	default:
		return 0, fmt.Errorf("value %d: expected integer, got %T", index, element)
	}
}

func (v Values) at(index int) (any, error) {
	if index < 0 || index >= len(v) {
		return nil, fmt.Errorf("value %d: payload has %d values", index, len(v))
	}
	return v[index], nil
}
