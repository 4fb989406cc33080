package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/packfs/go-packfs/backend"
)

// rawBackend adapts an os.File (or any fs.File satisfying the right
// interfaces) to backend.Storage. Every volume this package opens is
// read-write: packfs has no read-only mount mode, so unlike a general
// disk-image library there is no readOnly flag to thread through.
type rawBackend struct {
	storage fs.File
}

// OpenFromPath opens an existing backing file at pathName read-write.
// pathName must already exist; use CreateFromPath to make a new one.
func OpenFromPath(pathName string) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass device or file name")
	}
	if _, err := os.Stat(pathName); os.IsNotExist(err) {
		return nil, fmt.Errorf("backing file %s does not exist", pathName)
	}

	f, err := os.OpenFile(pathName, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open backing file %s: %w", pathName, err)
	}

	return rawBackend{storage: f}, nil
}

// CreateFromPath creates a new backing file of exactly size bytes,
// zero-filled. pathName must not already exist.
func CreateFromPath(pathName string, size int64) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass device or file name")
	}
	if size <= 0 {
		return nil, errors.New("must pass a positive size to create")
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not create backing file %s: %w", pathName, err)
	}
	if err := os.Truncate(pathName, size); err != nil {
		return nil, fmt.Errorf("could not size backing file %s to %d bytes: %w", pathName, size, err)
	}

	return rawBackend{storage: f}, nil
}

var _ backend.Storage = (*rawBackend)(nil)

// Sys returns the underlying *os.File, for flock-style locking by addr.
func (f rawBackend) Sys() (*os.File, error) {
	if osFile, ok := f.storage.(*os.File); ok {
		return osFile, nil
	}
	return nil, backend.ErrNotSuitable
}

// Writable returns the storage itself; every rawBackend is read-write.
func (f rawBackend) Writable() (backend.WritableFile, error) {
	if rwFile, ok := f.storage.(backend.WritableFile); ok {
		return rwFile, nil
	}
	return nil, backend.ErrNotSuitable
}

func (f rawBackend) Stat() (fs.FileInfo, error) {
	return f.storage.Stat()
}

func (f rawBackend) Read(b []byte) (int, error) {
	return f.storage.Read(b)
}

func (f rawBackend) Close() error {
	return f.storage.Close()
}

func (f rawBackend) ReadAt(p []byte, off int64) (n int, err error) {
	if readerAt, ok := f.storage.(io.ReaderAt); ok {
		return readerAt.ReadAt(p, off)
	}
	return -1, backend.ErrNotSuitable
}

func (f rawBackend) Seek(offset int64, whence int) (int64, error) {
	if seeker, ok := f.storage.(io.Seeker); ok {
		return seeker.Seek(offset, whence)
	}
	return -1, backend.ErrNotSuitable
}
