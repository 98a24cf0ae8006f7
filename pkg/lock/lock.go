// Package lock implements a single-instance advisory file lock so a cycle
// refuses to run concurrently with another instance.
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned by Acquire when another instance already holds the
// lock.
var ErrHeld = fmt.Errorf("lock already held by another instance")

// Lock is an acquired advisory file lock. Release must be called to free
// it; the lock is also released implicitly if the process exits.
type Lock struct {
	file *os.File
}

// Acquire opens (creating if necessary) the file at path and takes a
// non-blocking exclusive advisory lock on it. It returns ErrHeld if the
// lock is currently held by another process.
func Acquire(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{file: file}, nil
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking: %w", err)
	}
	return l.file.Close()
}
