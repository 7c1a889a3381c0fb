package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrLocked indicates the lock is held by another process or holder.
var ErrLocked = errors.New("lock is held by another holder")

// Lock is an exclusive advisory lock on a file, implemented with flock(2).
// The kernel drops it when the holding process exits, so a crashed worker
// never leaves a stale lock behind.
type Lock struct {
	path string
	file *os.File
}

// NewLock returns an unlocked lock for path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// LockPath returns the lock file path for an owner under the root.
func (r *Root) LockPath(owner string) (string, error) {
	return r.Path(KindLocks, "jobs", owner, "lock")
}

// TryLock acquires the lock without blocking. It returns ErrLocked on
// contention and a different error for unexpected failures.
func (l *Lock) TryLock() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("flock failed: %w", err)
	}

	l.file = file
	return nil
}

// Unlock releases the lock. Unlocking an unlocked Lock is a no-op.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close failed: %w", closeErr)
	}
	return nil
}

// IsLocked reports whether this instance holds the lock.
func (l *Lock) IsLocked() bool {
	return l.file != nil
}
