// Package advisorylock implements the named, non-blocking cross-process
// lock the sync engine uses to serialise ticks across instances of the
// process, extending the existing POSIX syscall usage in pkg/sqliteopt
// from Fadvise to Flock.
package advisorylock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held, exclusive, non-blocking file lock. The zero value is
// not usable; obtain one via Acquire.
type Lock struct {
	file *os.File
}

// Acquire attempts to take an exclusive, non-blocking lock on the file at
// path (created if absent). ok is false, with a nil error, if another
// process already holds the lock — a "not acquired, exit" outcome, not
// a failure.
func Acquire(path string) (lock *Lock, ok bool, err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("advisorylock: open %s: %w", path, err)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("advisorylock: flock %s: %w", path, err)
	}

	return &Lock{file: file}, true, nil
}

// Release drops the lock and closes the underlying file handle.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("advisorylock: unlock: %w", err)
	}
	return l.file.Close()
}
