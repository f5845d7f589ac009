// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func TestPackExtract(t *testing.T) {
	source := t.TempDir()
	files := map[string]string{
		"microphone.wav":        "RIFF....WAVE",
		"imu/accelerometer.csv": "t,x,y,z\n",
		"imu/gyro.csv":          "t,a,b,c\n",
	}
	for name, content := range files {
		if err := writeFile(filepath.Join(source, name), []byte(content)); err != nil {
			t.Fatalf("writeFile: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(source, "empty"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	archive, err := Pack(source)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	destination := t.TempDir()
	if err := Extract(bytes.NewReader(archive), destination); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(destination, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if info, err := os.Stat(filepath.Join(destination, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory not extracted: %v", err)
	}
}

func TestExtractOverwrites(t *testing.T) {
	source := t.TempDir()
	if err := writeFile(filepath.Join(source, "data.bin"), []byte("new")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	archive, err := Pack(source)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	destination := t.TempDir()
	if err := writeFile(filepath.Join(destination, "data.bin"), []byte("old and longer")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	for range 2 {
		if err := Extract(bytes.NewReader(archive), destination); err != nil {
			t.Fatalf("Extract: %v", err)
		}
	}
	got, err := os.ReadFile(filepath.Join(destination, "data.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("data.bin = %q, want new", got)
	}
}

func buildArchive(t *testing.T, headers ...*tar.Header) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for _, header := range headers {
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if header.Size > 0 {
			if _, err := writer.Write(bytes.Repeat([]byte("x"), int(header.Size))); err != nil {
				t.Fatalf("Write: %v", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buffer.Bytes()
}

func TestExtractRejectsEscapes(t *testing.T) {
	for _, name := range []string{"../outside.txt", "/etc/passwd", "a/../../outside.txt"} {
		t.Run(name, func(t *testing.T) {
			archive := buildArchive(t, &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: 1})
			parent := t.TempDir()
			destination := filepath.Join(parent, "export")
			if err := os.Mkdir(destination, 0755); err != nil {
				t.Fatalf("Mkdir: %v", err)
			}
			err := Extract(bytes.NewReader(archive), destination)
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("Extract = %v, want ErrUnsafePath", err)
			}
			if _, statErr := os.Stat(filepath.Join(parent, "outside.txt")); !os.IsNotExist(statErr) {
				t.Error("file written outside destination")
			}
		})
	}
}

func TestExtractIgnoresOwnership(t *testing.T) {
	archive := buildArchive(t, &tar.Header{
		Name: "owned.txt", Typeflag: tar.TypeReg, Mode: 0600, Size: 3,
		Uid: 4242, Gid: 4242, Uname: "someone", Gname: "others",
	})
	destination := t.TempDir()
	if err := Extract(bytes.NewReader(archive), destination); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	info, err := os.Stat(filepath.Join(destination, "owned.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestExtractRejectsLinks(t *testing.T) {
	archive := buildArchive(t, &tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"})
	if err := Extract(bytes.NewReader(archive), t.TempDir()); err == nil {
		t.Fatal("Extract accepted a symlink entry")
	}
}
