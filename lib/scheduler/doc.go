// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs submitted operations one at a time, in
// submission order, on a single dedicated worker goroutine.
//
// The service routes every state-changing request (recording start and
// stop, container decryption, persistence toggles) through one
// [Scheduler]. Because exactly one worker executes tasks, the
// operations never overlap and the recording state they mutate needs no
// further locking against each other.
//
// [Scheduler.Submit] never blocks: the queue is unbounded, since
// control traffic is a handful of requests per minute. It returns a
// [Task] handle that can be waited on with [Task.Wait] or
// [Task.WaitTimeout]. An error returned by an operation, or a panic
// raised inside it, is recorded on the handle; the worker continues
// with the next task.
package scheduler
