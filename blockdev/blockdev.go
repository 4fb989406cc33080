// Package blockdev realizes the fixed-size random-access byte array
// contract (read/write by address and length) that the rest of this module
// treats as an external BlockDevice capability, the way
// github.com/packfs/go-packfs/backend/file realizes an OS file as a
// backend.Storage for the teacher this module is grounded on.
package blockdev

import (
	"errors"
	"fmt"
	"io"

	"github.com/packfs/go-packfs/backend"
	"github.com/packfs/go-packfs/backend/file"
	"github.com/packfs/go-packfs/backend/memory"
)

// Size is the fixed size of every backing device this package opens or
// creates: 1 MiB.
const Size uint64 = 1 << 20

var (
	// ErrOutOfRange is returned when a read or write would fall outside [0, Size).
	ErrOutOfRange = errors.New("blockdev: address range outside device")
	// ErrAlreadyLocked is returned by Open/Create when another process
	// already holds the advisory lock on the backing file.
	ErrAlreadyLocked = errors.New("blockdev: backing file is locked by another process")
)

// Device is a fixed-Size random-access byte array backed by a
// backend.Storage (an OS file, or an in-memory buffer for tests).
type Device struct {
	storage backend.Storage
	unlock  func() error
}

// Open opens an existing backing file. It fails if the file does not exist.
func Open(path string) (*Device, error) {
	st, err := file.OpenFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return newFileDevice(st)
}

// Create creates a new backing file of exactly Size bytes, zero-filled. It
// fails if the file already exists.
func Create(path string) (*Device, error) {
	st, err := file.CreateFromPath(path, int64(Size))
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}
	return newFileDevice(st)
}

// OpenOrCreate opens path if it exists, or creates it zero-filled to Size
// if it does not. This is the "opening a non-existent backing store
// creates it zero-filled" rule the BlockDevice contract assumes.
func OpenOrCreate(path string) (*Device, error) {
	d, err := Open(path)
	if err == nil {
		return d, nil
	}
	return Create(path)
}

func newFileDevice(st backend.Storage) (*Device, error) {
	unlock, err := lockStorage(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Device{storage: st, unlock: unlock}, nil
}

// Memory returns an in-memory Device of Size bytes, zero-filled, with no
// file-system presence and no locking. Used by tests and by callers who
// want a scratch volume.
func Memory() *Device {
	return &Device{storage: memory.New(int64(Size))}
}

// Read copies length bytes starting at addr into out. out must be at least
// length bytes long.
func (d *Device) Read(addr, length uint64, out []byte) error {
	if addr+length > Size || addr+length < addr {
		return ErrOutOfRange
	}
	_, err := d.storage.ReadAt(out[:length], int64(addr))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("blockdev: read at %d: %w", addr, err)
	}
	return nil
}

// Write copies len(in) bytes from in into the device starting at addr.
func (d *Device) Write(addr uint64, in []byte) error {
	length := uint64(len(in))
	if addr+length > Size || addr+length < addr {
		return ErrOutOfRange
	}
	w, err := d.storage.Writable()
	if err != nil {
		return fmt.Errorf("blockdev: write at %d: %w", addr, err)
	}
	if _, err := w.WriteAt(in, int64(addr)); err != nil {
		return fmt.Errorf("blockdev: write at %d: %w", addr, err)
	}
	return nil
}

// Size returns the fixed device size.
func (*Device) Size() uint64 {
	return Size
}

// Close releases the advisory lock, if any, and closes the underlying
// storage.
func (d *Device) Close() error {
	var err error
	if d.unlock != nil {
		err = d.unlock()
	}
	if cerr := d.storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
