// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldvault/fieldvault/lib/container"
	"github.com/fieldvault/fieldvault/lib/keystore"
)

// Sensors that loop until interrupted. The trap runs once the
// foreground sleep returns.
const (
	politeLoop   = `trap 'exit 0' INT; while true; do sleep 0.05; done`
	stubbornLoop = `trap '' INT; while true; do sleep 0.05; done`
)

type fixture struct {
	store         *keystore.Store
	recipient     string
	sessionsDir   string
	containersDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := keystore.Open(filepath.Join(root, "keys"))
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	recipient, err := store.Generate("device")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return &fixture{
		store:         store,
		recipient:     recipient,
		sessionsDir:   filepath.Join(root, "sessions"),
		containersDir: filepath.Join(root, "containers"),
	}
}

func (f *fixture) options(sensors ...Sensor) Options {
	return Options{
		Session:       "session-1",
		Environment:   "default",
		Sensors:       sensors,
		Recipients:    []string{f.recipient},
		Compression:   container.CompressionAuto,
		SessionsDir:   f.sessionsDir,
		ContainersDir: f.containersDir,
		StopGrace:     5 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// openSession decrypts the session container and extracts it.
func (f *fixture) openSession(t *testing.T, session string) string {
	t.Helper()
	loaded, err := container.Load(filepath.Join(f.containersDir, container.FileName(session)))
	if err != nil {
		t.Fatalf("container.Load: %v", err)
	}
	payload, err := loaded.Open(f.store)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	destination := t.TempDir()
	if err := container.Extract(bytes.NewReader(payload), destination); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return destination
}

func TestBuildWithoutSensorsCancels(t *testing.T) {
	f := newFixture(t)
	built, err := Build(f.options())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built != nil {
		t.Fatalf("Build without sensors = %v, want nil", built)
	}
}

func TestBuildRequiresRecipients(t *testing.T) {
	f := newFixture(t)
	options := f.options(Sensor{Name: "mic", Command: []string{"true"}})
	options.Recipients = nil
	if _, err := Build(options); err == nil {
		t.Fatal("Build without recipients succeeded")
	}
}

func TestRecordAndSeal(t *testing.T) {
	f := newFixture(t)
	built, err := Build(f.options(
		Sensor{Name: "microphone", Output: "microphone.raw", Command: []string{
			"sh", "-c", `printf 'pcm-frames' > "$0"; ` + politeLoop, "{output}",
		}},
		Sensor{Name: "imu", Output: "imu.csv", Command: []string{
			"sh", "-c", `echo 't,x,y,z'; ` + politeLoop,
		}},
	))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	recorder := built.(*Recorder)

	if recorder.IsRunning() {
		t.Fatal("running before Start")
	}
	if err := recorder.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !recorder.IsRunning() {
		t.Fatal("not running after Start")
	}

	// Give the sensors a moment to write their headers.
	time.Sleep(200 * time.Millisecond)

	if err := recorder.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if recorder.IsRunning() {
		t.Fatal("running after Stop")
	}
	if _, err := os.Stat(filepath.Join(f.sessionsDir, "session-1")); !os.IsNotExist(err) {
		t.Errorf("session directory not removed: %v", err)
	}

	extracted := f.openSession(t, "session-1")
	microphone, err := os.ReadFile(filepath.Join(extracted, "microphone.raw"))
	if err != nil {
		t.Fatalf("reading microphone output: %v", err)
	}
	if string(microphone) != "pcm-frames" {
		t.Errorf("microphone.raw = %q", microphone)
	}
	imu, err := os.ReadFile(filepath.Join(extracted, "imu.csv"))
	if err != nil {
		t.Fatalf("reading imu output: %v", err)
	}
	if string(imu) != "t,x,y,z\n" {
		t.Errorf("imu.csv = %q", imu)
	}
}

func TestStopKillsStubbornSensor(t *testing.T) {
	f := newFixture(t)
	options := f.options(Sensor{Name: "stubborn", Command: []string{"sh", "-c", stubbornLoop}})
	options.StopGrace = 200 * time.Millisecond
	built, err := Build(options)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := built.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	started := time.Now()
	if err := built.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("Stop took %s", elapsed)
	}
	f.openSession(t, "session-1")
}

func TestStartFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	built, err := Build(f.options(
		Sensor{Name: "ok", Command: []string{"sh", "-c", politeLoop}},
		Sensor{Name: "missing", Command: []string{"/nonexistent/sensor-binary"}},
	))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := built.Start(); err == nil {
		t.Fatal("Start succeeded with a missing binary")
	}
	if built.IsRunning() {
		t.Error("running after failed Start")
	}
	if _, err := os.Stat(filepath.Join(f.sessionsDir, "session-1")); !os.IsNotExist(err) {
		t.Errorf("session directory left behind: %v", err)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	f := newFixture(t)
	built, err := Build(f.options(Sensor{Name: "mic", Command: []string{"true"}}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := built.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if _, err := os.Stat(f.containersDir); !os.IsNotExist(err) {
		t.Error("container written for a recording that never started")
	}
}

func TestGeneratedSessionID(t *testing.T) {
	f := newFixture(t)
	options := f.options(Sensor{Name: "mic", Command: []string{"true"}})
	options.Session = ""
	built, err := Build(options)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	recorder := built.(*Recorder)
	if recorder.Session() == "" {
		t.Fatal("no session id generated")
	}
	if filepath.Base(recorder.ContainerPath()) != recorder.Session()+container.Extension {
		t.Errorf("ContainerPath = %s", recorder.ContainerPath())
	}
}
