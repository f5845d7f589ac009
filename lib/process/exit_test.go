// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain", errors.New("boom"), 1},
		{"exit error", &ExitError{Code: 3}, 3},
		{"wrapped", fmt.Errorf("running: %w", &ExitError{Code: 2, Err: errors.New("bad flag")}), 2},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.want {
			t.Errorf("%s: ExitCode = %d, want %d", test.name, got, test.want)
		}
	}
}

func TestReport(t *testing.T) {
	var buffer bytes.Buffer
	Report(&buffer, errors.New("config missing"))
	if buffer.String() != "error: config missing\n" {
		t.Errorf("Report = %q", buffer.String())
	}

	buffer.Reset()
	Report(&buffer, &ExitError{Code: 4})
	if buffer.Len() != 0 {
		t.Errorf("silent exit error reported %q", buffer.String())
	}
}
