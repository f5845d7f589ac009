// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package recording implements the recording lifecycle: the state
// machine that owns the single active toolchain, and the ternary
// status derived from it.
//
// Transitions are driven by two worker bodies, [Lifecycle.Start] and
// [Lifecycle.Stop], which the service runs on its single-worker
// scheduler so they never overlap. Before submitting either body the
// caller invokes [Lifecycle.BeginTransition]; the matching body always
// ends the transition and reports the new status, whatever happens
// inside it. From the first BeginTransition until the last queued body
// finishes, [Lifecycle.Status] reports [StatusUnknown]:
//
//	Idle --BeginTransition--> (Unknown) --Start ok--> Recording
//	Recording --BeginTransition--> (Unknown) --Stop--> Idle
//
// Start on a recording lifecycle and Stop on an idle one are no-ops
// that still end the transition and report the status.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fieldvault/fieldvault/lib/clock"
	"github.com/fieldvault/fieldvault/lib/marker"
	"github.com/fieldvault/fieldvault/lib/platform"
	"github.com/fieldvault/fieldvault/lib/toolchain"
)

// Phase is the internal lifecycle phase. Unlike [Status] it
// distinguishes the direction of an in-flight transition.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRecording
	PhaseStopping
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRecording:
		return "recording"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// BuildFunc constructs a toolchain for the named encryption
// environment from fresh configuration. Returning a nil toolchain with
// a nil error means configuration cancelled the recording (for
// example, no sensor is enabled).
type BuildFunc func(environment string) (toolchain.Toolchain, error)

// Config holds the lifecycle's collaborators.
type Config struct {
	// Build constructs toolchains. Required.
	Build BuildFunc

	// Host provides the foreground guarantee. Required.
	Host platform.Host

	// MarkerPath is where the in-progress marker is written while
	// recording. Required.
	MarkerPath string

	// ForegroundTitle and ForegroundMessage are shown by hosts that
	// require a foreground guarantee while recording.
	ForegroundTitle   string
	ForegroundMessage string

	// OnChange is called with the current status at the end of every
	// transition body. Optional.
	OnChange func(Status)

	// Clock stamps the marker. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives transition logs. Required.
	Logger *slog.Logger
}

// Lifecycle owns the active toolchain. Start and Stop must only be
// called from one goroutine at a time (the scheduler worker); all
// other methods are safe from any goroutine.
type Lifecycle struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	// pending counts transitions begun but not yet finished.
	pending atomic.Int64
	phase   atomic.Int32

	mu         sync.Mutex
	active     toolchain.Toolchain
	foreground bool
}

// New returns an idle lifecycle.
func New(config Config) *Lifecycle {
	if config.Build == nil {
		panic("recording.New: Build is required")
	}
	if config.Host == nil {
		panic("recording.New: Host is required")
	}
	if config.Logger == nil {
		panic("recording.New: Logger is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Lifecycle{
		config: config,
		clock:  clk,
		logger: config.Logger,
	}
}

// BeginTransition marks a start or stop as in progress. Call it
// synchronously when submitting the body so that a status query
// arriving before the body runs already reports unknown. Every call
// must be matched by exactly one Start or Stop.
func (l *Lifecycle) BeginTransition() {
	l.pending.Add(1)
}

// CancelTransition ends a transition whose body will never run, for
// example because the scheduler refused it during shutdown.
func (l *Lifecycle) CancelTransition() {
	l.endTransition()
}

// InProgress reports whether any transition is queued or running.
func (l *Lifecycle) InProgress() bool {
	return l.pending.Load() > 0
}

// IsRecording reports whether a toolchain is held and running.
func (l *Lifecycle) IsRecording() bool {
	l.mu.Lock()
	active := l.active
	l.mu.Unlock()
	return active != nil && active.IsRunning()
}

// Status returns the ternary recording status.
func (l *Lifecycle) Status() Status {
	if l.InProgress() {
		return StatusUnknown
	}
	if l.IsRecording() {
		return StatusRecording
	}
	return StatusIdle
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() Phase {
	return Phase(l.phase.Load())
}

// Start is the worker body of a start transition. It is a no-op if a
// recording is already running.
func (l *Lifecycle) Start(ctx context.Context, environment string) error {
	defer l.endTransition()

	if l.IsRecording() {
		l.logger.Info("recording already running, start ignored")
		return nil
	}

	l.phase.Store(int32(PhaseStarting))
	defer func() {
		if l.IsRecording() {
			l.phase.Store(int32(PhaseRecording))
			return
		}
		l.dropIdleToolchain()
		l.phase.Store(int32(PhaseIdle))
	}()

	l.mu.Lock()
	active := l.active
	l.mu.Unlock()

	if active == nil {
		built, err := l.config.Build(environment)
		if err != nil {
			return fmt.Errorf("building recording toolchain: %w", err)
		}
		if built == nil {
			l.logger.Info("recording cancelled by configuration", "environment", environment)
			return nil
		}
		active = built
		l.mu.Lock()
		l.active = active
		l.mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := active.Start(); err != nil {
		return fmt.Errorf("starting recording toolchain: %w", err)
	}

	if err := marker.Write(l.config.MarkerPath, marker.State{
		Environment: environment,
		StartedAt:   l.clock.Now(),
	}); err != nil {
		l.logger.Warn("writing recording marker failed, an interrupted recording will not resume",
			"path", l.config.MarkerPath, "error", err)
	}

	if l.config.Host.RequiresForeground() {
		if err := l.config.Host.AcquireForeground(l.config.ForegroundTitle, l.config.ForegroundMessage); err != nil {
			l.logger.Warn("acquiring foreground guarantee failed", "error", err)
		} else {
			l.mu.Lock()
			l.foreground = true
			l.mu.Unlock()
		}
	}

	l.logger.Info("recording started", "environment", environment)
	return nil
}

// Stop is the worker body of a stop transition. It is a no-op if no
// recording is running. The toolchain reference is always dropped; the
// marker is removed only when the toolchain stopped cleanly.
func (l *Lifecycle) Stop(ctx context.Context) error {
	defer l.endTransition()

	if !l.IsRecording() {
		l.logger.Info("no recording running, stop ignored")
		return nil
	}

	l.phase.Store(int32(PhaseStopping))
	defer l.phase.Store(int32(PhaseIdle))

	l.mu.Lock()
	active := l.active
	holdsForeground := l.foreground
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.active = nil
		l.mu.Unlock()
	}()

	stopErr := active.Stop()

	if holdsForeground {
		if err := l.config.Host.ReleaseForeground(); err != nil {
			l.logger.Warn("releasing foreground guarantee failed", "error", err)
		}
		l.mu.Lock()
		l.foreground = false
		l.mu.Unlock()
	}

	if stopErr != nil {
		return fmt.Errorf("stopping recording toolchain: %w", stopErr)
	}

	if err := marker.Remove(l.config.MarkerPath); err != nil {
		return errors.Join(errors.New("recording stopped but marker remains"), err)
	}
	l.logger.Info("recording stopped")
	return nil
}

// dropIdleToolchain releases a toolchain that failed to start so the
// next start rebuilds it from current configuration.
func (l *Lifecycle) dropIdleToolchain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil && !l.active.IsRunning() {
		l.active = nil
	}
}

func (l *Lifecycle) endTransition() {
	l.pending.Add(-1)
	if l.config.OnChange != nil {
		l.config.OnChange(l.Status())
	}
}
