package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriter_Write(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	w, err := NewRotatingWriter(logPath, RotationConfig{MaxSize: 1024})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	msg := []byte("hello log\n")
	n, err := w.Write(msg)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write() = %d, want %d", n, len(msg))
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if string(data) != "hello log\n" {
		t.Errorf("log content = %q, want %q", string(data), "hello log\n")
	}
}

func TestRotatingWriter_AppendsToExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")
	if err := os.WriteFile(logPath, []byte("previous\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(logPath, RotationConfig{MaxSize: 1024})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	if _, err := w.Write([]byte("current\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "previous\ncurrent\n" {
		t.Errorf("log content = %q", string(data))
	}
}

func TestRotatingWriter_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	w, err := NewRotatingWriter(logPath, RotationConfig{MaxSize: 32, Daily: false})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	line := []byte(strings.Repeat("x", 20) + "\n")
	for i := 0; i < 4; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("Write() %d error = %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	rotated := 0
	for _, e := range entries {
		if e.Name() != "test.log" && strings.HasPrefix(e.Name(), "test.") &&
			strings.HasSuffix(e.Name(), ".log") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Errorf("expected rotated backups, found none; dir entries: %v", entries)
	}

	// The active file stays within the budget after rotation.
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 32 {
		t.Errorf("active log size = %d, want <= 32", info.Size())
	}
}

func TestRotatingWriter_MaxBackupsCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	// Pre-create rotated backups with distinct mod times.
	for i, stamp := range []string{
		"2026-01-01-000000", "2026-01-02-000000", "2026-01-03-000000",
	} {
		backup := filepath.Join(dir, "test."+stamp+".log")
		if err := os.WriteFile(backup, []byte("old\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		mod := time.Now().Add(-time.Duration(72-i) * time.Hour)
		if err := os.Chtimes(backup, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	w, err := NewRotatingWriter(logPath, RotationConfig{MaxSize: 1024, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	backups := 0
	for _, e := range entries {
		if e.Name() != "test.log" {
			backups++
		}
	}
	if backups != 1 {
		t.Errorf("backups after cleanup = %d, want 1", backups)
	}
}

func TestRotatingWriter_DefaultMaxSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewRotatingWriter(filepath.Join(dir, "test.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	if w.cfg.MaxSize != DefaultRotationConfig().MaxSize {
		t.Errorf("MaxSize = %d, want default %d", w.cfg.MaxSize, DefaultRotationConfig().MaxSize)
	}
}
