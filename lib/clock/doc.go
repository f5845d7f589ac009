// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the two time operations fieldvault code
// needs: reading the current time and waiting for a deadline.
// Production code injects [Real]; tests inject [Fake] and advance it
// explicitly, so bounded waits (the shutdown flush, toolchain stop
// grace periods) can be exercised without sleeping.
package clock
