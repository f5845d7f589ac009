// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "testing"

func TestValuesBool(t *testing.T) {
	tests := []struct {
		name    string
		values  Values
		want    bool
		wantErr bool
	}{
		{name: "true", values: Values{true}, want: true},
		{name: "false", values: Values{false}, want: false},
		{name: "one", values: Values{uint64(1)}, want: true},
		{name: "zero", values: Values{uint64(0)}, want: false},
		{name: "negative", values: Values{int64(-1)}, want: true},
		{name: "string", values: Values{"yes"}, wantErr: true},
		{name: "missing", values: nil, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.values.Bool(0)
			if (err != nil) != test.wantErr {
				t.Fatalf("Bool(0) error = %v, wantErr %v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("Bool(0) = %v, want %v", got, test.want)
			}
		})
	}
}

func TestValuesOptionalString(t *testing.T) {
	tests := []struct {
		name    string
		values  Values
		want    string
		wantErr bool
	}{
		{name: "absent", values: nil, want: "fallback"},
		{name: "nil", values: Values{nil}, want: "fallback"},
		{name: "present", values: Values{"env=field"}, want: "env=field"},
		{name: "empty string", values: Values{""}, want: ""},
		{name: "wrong type", values: Values{true}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.values.OptionalString(0, "fallback")
			if (err != nil) != test.wantErr {
				t.Fatalf("OptionalString error = %v, wantErr %v", err, test.wantErr)
			}
			if !test.wantErr && got != test.want {
				t.Errorf("OptionalString = %q, want %q", got, test.want)
			}
		})
	}
}

func TestValuesIntOverflow(t *testing.T) {
	if _, err := (Values{^uint64(0)}).Int(0); err == nil {
		t.Fatal("Int accepted a value overflowing int64")
	}
}
