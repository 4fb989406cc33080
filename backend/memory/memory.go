// Package memory provides an in-memory backend.Storage, for tests and for
// embedding a volume without touching the filesystem.
package memory

import (
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/packfs/go-packfs/backend"
)

// Storage is a backend.Storage backed by a byte slice held in memory. Its
// size is fixed by New; a write that would run past the end fails.
type Storage struct {
	mu     sync.Mutex
	buf    []byte
	pos    int64
	closed bool
}

// New returns a zero-filled in-memory backend.Storage of the given size.
func New(size int64) *Storage {
	return &Storage{buf: make([]byte, size)}
}

var _ backend.Storage = (*Storage)(nil)

func (s *Storage) Stat() (fs.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memInfo{size: int64(len(s.buf))}, nil
}

func (s *Storage) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.readAtLocked(b, s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *Storage) ReadAt(b []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAtLocked(b, off)
}

func (s *Storage) readAtLocked(b []byte, off int64) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if off < 0 || off >= int64(len(s.buf)) {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(b, s.buf[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Storage) WriteAt(b []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	end := off + int64(len(b))
	if end > int64(len(s.buf)) {
		return 0, io.ErrShortWrite
	}
	return copy(s.buf[off:end], b), nil
}

func (s *Storage) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = int64(len(s.buf)) + offset
	default:
		return -1, backend.ErrNotSuitable
	}
	if pos < 0 {
		return -1, os.ErrInvalid
	}
	s.pos = pos
	return pos, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Storage) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (s *Storage) Writable() (backend.WritableFile, error) {
	return s, nil
}

type memInfo struct {
	size int64
}

func (m memInfo) Name() string       { return "memory" }
func (m memInfo) Size() int64        { return m.size }
func (m memInfo) Mode() fs.FileMode  { return 0o600 }
func (m memInfo) ModTime() time.Time { return time.Time{} }
func (m memInfo) IsDir() bool        { return false }
func (m memInfo) Sys() interface{}   { return nil }
