package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jamesainslie/runvault/pkg/runvault/logging"
)

// ErrAlreadyRunning is returned when starting a monitor whose PID file points
// at a live process.
var ErrAlreadyRunning = errors.New("runvaultd is already running")

// WritePIDFile writes the current process ID to a file, creating parent
// directories as needed.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsRunning checks whether the process recorded in the PID file is alive.
// A stale or unreadable PID file counts as not running.
func IsRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

// isProcessRunning probes the PID with signal 0, which checks for existence
// without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// RecoverStale cleans up after a monitor that died without removing its
// artifacts: the PID file and the registry's Badger lock. Returns
// ErrAlreadyRunning when the recorded process is actually alive; returns nil
// when there was nothing to recover.
func RecoverStale(pidPath, registryPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		// No PID file or an unparsable one means nothing to recover.
		return nil //nolint:nilerr
	}

	if isProcessRunning(pid) {
		return ErrAlreadyRunning
	}

	logging.Get("monitor").Warn("cleaning up stale daemon files", "stale_pid", pid)

	_ = os.Remove(pidPath)
	if registryPath != "" {
		_ = os.Remove(filepath.Join(registryPath, "LOCK"))
	}

	return nil
}
