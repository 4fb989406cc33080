//go:build !aix && !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd && !solaris
// +build !aix,!darwin,!dragonfly,!freebsd,!linux,!netbsd,!openbsd,!solaris

package blockdev

import "github.com/packfs/go-packfs/backend"

// lockStorage is a no-op on platforms without flock: unlike on unix, no
// cross-process lock is taken, so nothing here enforces the single-instance
// rule in spec §5.
func lockStorage(_ backend.Storage) (func() error, error) {
	return nil, nil
}
