package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// writePIDFile writes the current process ID to path and holds an exclusive
// flock on it. The returned cleanup removes the file and releases the lock.
// If the lock is taken, a service for the same camera is already running.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty: cannot determine data directory")
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), pidDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another service for this camera is already running (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile reads the PID from path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// runningPID returns the PID of the live service recorded at path, or 0 when
// there is none. A PID file left by a dead process counts as none.
func runningPID(path string) int {
	pid, err := readPIDFile(path)
	if err != nil {
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	// Signal 0 only checks that the process exists.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0
	}

	return pid
}
