// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/fieldvault/fieldvault/lib/clock"
	"github.com/fieldvault/fieldvault/lib/container"
)

// OutputPlaceholder is replaced in sensor commands with the absolute
// path of the sensor's output file. A command without it has its
// standard output written to that file instead.
const OutputPlaceholder = "{output}"

// Sensor is one capture command.
type Sensor struct {
	Name    string
	Command []string

	// Output is the file name inside the session directory.
	Output string
}

// Options configures a recording session.
type Options struct {
	// Session names the recording. Generated when empty.
	Session string

	// Environment is the encryption environment name, recorded in
	// the container header.
	Environment string

	// Sensors are the capture commands to run. With none, Build
	// cancels the recording.
	Sensors []Sensor

	// Recipients are the age public keys the container is sealed to.
	Recipients []string

	// Compression selects the container payload compression.
	Compression container.Compression

	// SessionsDir holds the per-session work directory while
	// capturing.
	SessionsDir string

	// ContainersDir receives the finished container.
	ContainersDir string

	// StopGrace bounds how long a sensor may take to exit after
	// being interrupted.
	StopGrace time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Recorder is a [Toolchain] running one process per sensor. Stop
// interrupts the processes, packs their output, seals it into a
// container and removes the work directory.
type Recorder struct {
	options   Options
	directory string

	running atomic.Bool

	mu        sync.Mutex
	processes []*sensorProcess
}

type sensorProcess struct {
	sensor Sensor
	cmd    *exec.Cmd
	log    *os.File
	output *os.File
	exited chan struct{}
	err    error
}

// Build prepares a recorder from options. It returns a nil Toolchain
// and a nil error when no sensor is configured.
func Build(options Options) (Toolchain, error) {
	if len(options.Sensors) == 0 {
		return nil, nil
	}
	if len(options.Recipients) == 0 {
		return nil, fmt.Errorf("encryption environment %q has no recipients", options.Environment)
	}
	if options.SessionsDir == "" || options.ContainersDir == "" {
		return nil, fmt.Errorf("sessions and containers directories are required")
	}
	if options.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	for _, sensor := range options.Sensors {
		if len(sensor.Command) == 0 {
			return nil, fmt.Errorf("sensor %q has no command", sensor.Name)
		}
	}
	if options.Session == "" {
		options.Session = uuid.NewString()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.StopGrace <= 0 {
		options.StopGrace = 10 * time.Second
	}
	options.Logger = options.Logger.With("session", options.Session)

	return &Recorder{
		options:   options,
		directory: filepath.Join(options.SessionsDir, options.Session),
	}, nil
}

// Session returns the session id.
func (r *Recorder) Session() string { return r.options.Session }

// ContainerPath returns where Stop writes the container.
func (r *Recorder) ContainerPath() string {
	return filepath.Join(r.options.ContainersDir, container.FileName(r.options.Session))
}

// IsRunning reports whether capture has started and not yet been
// stopped. A sensor exiting on its own does not end the recording;
// its output is still collected by Stop.
func (r *Recorder) IsRunning() bool {
	return r.running.Load()
}

// Start creates the work directory and launches every sensor. If any
// sensor fails to launch, the others are killed and the work
// directory is removed.
func (r *Recorder) Start() error {
	if r.running.Load() {
		return fmt.Errorf("recorder already running")
	}
	if err := os.MkdirAll(r.directory, 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sensor := range r.options.Sensors {
		process, err := r.launch(sensor)
		if err != nil {
			r.killAll()
			os.RemoveAll(r.directory)
			return fmt.Errorf("starting sensor %q: %w", sensor.Name, err)
		}
		r.processes = append(r.processes, process)
	}

	r.running.Store(true)
	r.options.Logger.Info("sensors started", "count", len(r.processes), "directory", r.directory)
	return nil
}

func (r *Recorder) launch(sensor Sensor) (*sensorProcess, error) {
	outputName := sensor.Output
	if outputName == "" {
		outputName = sensor.Name + ".dat"
	}
	outputPath := filepath.Join(r.directory, outputName)

	argv := make([]string, len(sensor.Command))
	usesPlaceholder := false
	for index, argument := range sensor.Command {
		if strings.Contains(argument, OutputPlaceholder) {
			usesPlaceholder = true
			argument = strings.ReplaceAll(argument, OutputPlaceholder, outputPath)
		}
		argv[index] = argument
	}

	logFile, err := os.OpenFile(filepath.Join(r.directory, outputName+".log"), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.directory
	cmd.Stderr = logFile
	// Own process group, so interrupts reach the sensor's children and
	// a terminal interrupt aimed at the service does not reach sensors.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	process := &sensorProcess{
		sensor: sensor,
		cmd:    cmd,
		log:    logFile,
		exited: make(chan struct{}),
	}

	if usesPlaceholder {
		cmd.Stdout = logFile
	} else {
		outputFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			logFile.Close()
			return nil, err
		}
		cmd.Stdout = outputFile
		process.output = outputFile
	}

	if err := cmd.Start(); err != nil {
		process.closeFiles()
		return nil, err
	}

	go func() {
		process.err = cmd.Wait()
		process.closeFiles()
		close(process.exited)
		if r.running.Load() {
			r.options.Logger.Warn("sensor exited during recording",
				"sensor", sensor.Name, "error", process.err)
		}
	}()
	return process, nil
}

func (p *sensorProcess) closeFiles() {
	p.log.Close()
	if p.output != nil {
		p.output.Close()
	}
}

// Stop interrupts every sensor, waits up to the stop grace for them to
// exit, then seals the session into a container. On a sealing failure
// the work directory is kept so the capture can be recovered by hand.
func (r *Recorder) Stop() error {
	if !r.running.Swap(false) {
		return nil
	}

	r.mu.Lock()
	processes := r.processes
	r.processes = nil
	r.mu.Unlock()

	for _, process := range processes {
		signalGroup(process.cmd, unix.SIGINT)
	}

	deadline := r.options.Clock.After(r.options.StopGrace)
	for _, process := range processes {
		select {
		case <-process.exited:
		case <-deadline:
			r.options.Logger.Warn("sensor did not exit after interrupt, killing", "sensor", process.sensor.Name)
			signalGroup(process.cmd, unix.SIGKILL)
			<-process.exited
			// Later sensors get no further grace.
			closed := make(chan time.Time)
			close(closed)
			deadline = closed
		}
	}

	return r.seal()
}

// seal packs, encrypts and writes the session, then removes the work
// directory.
func (r *Recorder) seal() error {
	payload, err := container.Pack(r.directory)
	if err != nil {
		return err
	}

	sealed, err := container.Seal(payload, container.SealOptions{
		Session:     r.options.Session,
		Environment: r.options.Environment,
		Created:     r.options.Clock.Now(),
		Recipients:  r.options.Recipients,
		Compression: r.options.Compression,
	})
	if err != nil {
		return fmt.Errorf("sealing session %s: %w", r.options.Session, err)
	}

	if err := os.MkdirAll(r.options.ContainersDir, 0755); err != nil {
		return fmt.Errorf("creating containers directory: %w", err)
	}
	if err := sealed.Write(r.ContainerPath()); err != nil {
		return err
	}
	r.options.Logger.Info("recording sealed",
		"container", r.ContainerPath(),
		"bytes", sealed.PlaintextSize,
		"compression", sealed.Compression.String())

	if err := os.RemoveAll(r.directory); err != nil {
		r.options.Logger.Warn("removing session directory failed", "directory", r.directory, "error", err)
	}
	return nil
}

// killAll kills launched processes after a failed Start. Caller holds
// r.mu.
func (r *Recorder) killAll() {
	for _, process := range r.processes {
		signalGroup(process.cmd, unix.SIGKILL)
		<-process.exited
	}
	r.processes = nil
}

func signalGroup(cmd *exec.Cmd, signal unix.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, signal); err != nil && !errors.Is(err, unix.ESRCH) {
		cmd.Process.Signal(signal)
	}
}
