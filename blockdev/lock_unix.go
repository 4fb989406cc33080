//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package blockdev

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/packfs/go-packfs/backend"
)

// lockStorage takes a non-blocking advisory exclusive lock on the
// underlying OS file, giving spec §5's "exactly one active instance per
// backing file" rule real teeth across processes (within one process it
// is already the caller's job to share a single *Device). Returns a nil
// unlock func, not an error, for storage that has no OS file (e.g. the
// in-memory backend), since there is nothing to lock.
func lockStorage(st backend.Storage) (func() error, error) {
	osFile, err := st.Sys()
	if err != nil {
		if errors.Is(err, backend.ErrNotSuitable) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockdev: lock: %w", err)
	}

	fd := int(osFile.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("blockdev: lock: %w", err)
	}

	return func() error {
		return unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
