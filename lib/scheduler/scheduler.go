// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldvault/fieldvault/lib/clock"
)

var (
	// ErrClosed is recorded on tasks submitted after Close.
	ErrClosed = errors.New("scheduler: closed")

	// ErrWaitTimeout is returned by Task.WaitTimeout when the task has
	// not finished within the timeout. The task keeps running.
	ErrWaitTimeout = errors.New("scheduler: timed out waiting for task")

	// ErrTaskPanicked wraps the value recovered from a panicking task.
	ErrTaskPanicked = errors.New("scheduler: task panicked")
)

// Operation is the body of a task. The context is never cancelled
// while the task runs: there is no mid-task cancellation.
type Operation func(ctx context.Context) error

// Task is the handle returned by Submit.
type Task struct {
	// ID uniquely identifies the task in log output.
	ID string

	// Name is the caller-supplied operation name.
	Name string

	operation Operation
	clock     clock.Clock
	done      chan struct{}
	err       error
}

// Done returns a channel closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's outcome. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done, returning the
// task's error in the first case and ctx.Err() in the second.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks until the task finishes or timeout elapses on the
// scheduler's clock. On timeout it returns ErrWaitTimeout.
func (t *Task) WaitTimeout(timeout time.Duration) error {
	select {
	case <-t.done:
		return t.err
	default:
	}
	select {
	case <-t.done:
		return t.err
	case <-t.clock.After(timeout):
		return fmt.Errorf("%w %s (%s) after %s", ErrWaitTimeout, t.Name, t.ID, timeout)
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Scheduler is a single-worker FIFO task queue.
type Scheduler struct {
	logger *slog.Logger
	clock  clock.Clock

	mu      sync.Mutex
	pending *sync.Cond
	queue   []*Task
	closed  bool

	// workerDone is closed when the worker goroutine returns.
	workerDone chan struct{}
}

// New creates a scheduler and starts its worker goroutine.
func New(logger *slog.Logger, clk clock.Clock) *Scheduler {
	s := &Scheduler{
		logger:     logger,
		clock:      clk,
		workerDone: make(chan struct{}),
	}
	s.pending = sync.NewCond(&s.mu)
	go s.work()
	return s
}

// Submit enqueues operation and returns immediately. Tasks execute
// strictly after every task submitted before them.
func (s *Scheduler) Submit(name string, operation Operation) *Task {
	task := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		operation: operation,
		clock:     s.clock,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		task.finish(fmt.Errorf("submitting %s: %w", name, ErrClosed))
		return task
	}
	s.queue = append(s.queue, task)
	s.pending.Signal()
	s.mu.Unlock()

	s.logger.Debug("task submitted", "task", name, "task_id", task.ID)
	return task
}

// Close stops accepting tasks. Already queued tasks still run; the
// worker exits once the queue is empty. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending.Broadcast()
	s.mu.Unlock()
}

// Stopped returns a channel closed after Close once the worker has
// drained the queue and exited.
func (s *Scheduler) Stopped() <-chan struct{} { return s.workerDone }

func (s *Scheduler) work() {
	defer close(s.workerDone)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.pending.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(task)
	}
}

// run executes one task, converting a panic into the task's error so
// the worker survives it.
func (s *Scheduler) run(task *Task) {
	started := s.clock.Now()
	var err error
	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%w: %s: %v", ErrTaskPanicked, task.Name, recovered)
				s.logger.Error("task panicked",
					"task", task.Name,
					"task_id", task.ID,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
			}
		}()
		err = task.operation(context.Background())
	}()

	if err != nil && !errors.Is(err, ErrTaskPanicked) {
		s.logger.Error("task failed", "task", task.Name, "task_id", task.ID, "error", err)
	}
	s.logger.Debug("task finished",
		"task", task.Name,
		"task_id", task.ID,
		"duration", s.clock.Now().Sub(started),
	)
	task.finish(err)
}
