package session

import (
	"fmt"
	"os"
	"strconv"
)

// ConflictError means another process already holds the run lock for a
// request, or a stale lock was left behind by a crash.
type ConflictError struct {
	RequestID string
	LockPath  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s is already being processed (lock file %s exists)", e.RequestID, e.LockPath)
}

// Lock is an exclusive per-request lock backed by an O_EXCL file
type Lock struct {
	path string
}

// AcquireLock takes the run lock for a request. A second concurrent run
// against the same request directory fails with a ConflictError.
func (m *Manager) AcquireLock() (*Lock, error) {
	path := m.LockPath()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &ConflictError{RequestID: m.requestID, LockPath: path}
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	if _, err := file.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close lock file: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ClearStaleLock removes a leftover lock file. Resume uses this after the
// caller has confirmed no other process is working on the request.
func (m *Manager) ClearStaleLock() error {
	if err := os.Remove(m.LockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale lock: %w", err)
	}
	return nil
}
