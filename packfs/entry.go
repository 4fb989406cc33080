package packfs

import (
	"encoding/binary"
	"fmt"
)

// MaxPathLength is the maximum byte length of an Entry.Path, per spec §3.1.
const MaxPathLength = 256

// EntryKind distinguishes a file entry from a directory entry. The values
// match the on-disk encoding in spec §3.5 exactly (1 = file, 2 = directory)
// so EncodeEntry can write it directly.
type EntryKind uint8

const (
	// EntryFile marks a regular file entry.
	EntryFile EntryKind = 1
	// EntryDirectory marks a directory entry.
	EntryDirectory EntryKind = 2
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// noAddress is the sentinel address of an entry that has not been allocated
// yet (spec §3.1: "address" is -1 before first allocation). No code in this
// package assigns it: every entry is allocated as soon as it is constructed.
const noAddress = ^uint64(0)

// Entry is a single record in the filesystem table: a file or a directory,
// identified by its absolute path.
type Entry struct {
	Path    string
	Kind    EntryKind
	Size    uint64
	Address uint64
}

// serializedSize returns the exact number of bytes EncodeEntry will produce
// for e, per spec §3.5: 1 (kind) + 8 (pathLen) + len(path) + 8 (size) + 8 (address).
func (e Entry) serializedSize() int {
	return 1 + 8 + len(e.Path) + 8 + 8
}

// EncodeEntry serializes an Entry to its on-disk form:
// [kind:1][pathLen:8][path:pathLen][size:8][address:8], little-endian, no padding.
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, e.serializedSize())
	buf[0] = byte(e.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(len(e.Path)))
	n := copy(buf[9:9+len(e.Path)], e.Path)
	off := 9 + n
	binary.LittleEndian.PutUint64(buf[off:off+8], e.Size)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Address)
	return buf
}

// DecodeEntry deserializes an Entry from the start of b, returning the
// entry and the number of bytes consumed so callers can advance a cursor
// without recomputing serializedSize first. Fails with a *CorruptEntryError
// if pathLen exceeds MaxPathLength or b is too short to hold a full record.
func DecodeEntry(b []byte) (Entry, int, error) {
	const headerLen = 1 + 8
	if len(b) < headerLen {
		return Entry{}, 0, newCorruptEntryError(0)
	}
	kind := EntryKind(b[0])
	pathLen := binary.LittleEndian.Uint64(b[1:9])
	if pathLen > MaxPathLength {
		return Entry{}, 0, newCorruptEntryError(0)
	}
	total := headerLen + int(pathLen) + 8 + 8
	if len(b) < total {
		return Entry{}, 0, newCorruptEntryError(0)
	}
	path := string(b[9 : 9+pathLen])
	off := 9 + int(pathLen)
	size := binary.LittleEndian.Uint64(b[off : off+8])
	address := binary.LittleEndian.Uint64(b[off+8 : off+16])
	return Entry{Path: path, Kind: kind, Size: size, Address: address}, total, nil
}
