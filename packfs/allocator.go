package packfs

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/packfs/go-packfs/blockdev"
)

// DefaultBlockSize is the allocator's default alignment granularity, 32
// bytes, matching the original allocator's 64-bit default (16 on 32-bit
// targets is not distinguished here: Go binaries run on both, but a single
// conservative default keeps on-disk images portable across them).
const DefaultBlockSize = 32

// freeBlock is one entry of the free-space map: an unallocated byte range
// [start, start+length).
type freeBlock struct {
	start  uint64
	length uint64
}

// addressAllocator manages free space in the data region: block-aligned
// allocation, deallocation with adjacent-free-space coalescing, in-place
// growth on reallocation, and a compacting defrag. Grounded on
// original_source/src/allocator.cpp, with the free-space map kept as a
// slice sorted by start address (in place of the C++ std::map<size_t,size_t>)
// so predecessor/successor lookups for coalescing are a binary search.
type addressAllocator struct {
	firstAddress uint64
	lastAddress  uint64
	blockSize    uint64
	free         []freeBlock
	log          *logrus.Entry
}

func newAddressAllocator(first, last, blockSize uint64, log *logrus.Entry) *addressAllocator {
	return &addressAllocator{firstAddress: first, lastAddress: last, blockSize: blockSize, log: log}
}

// align rounds size up to the next multiple of the block size; a logical
// size of 0 still occupies one block.
func (a *addressAllocator) align(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return ((size + a.blockSize - 1) / a.blockSize) * a.blockSize
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}

// initialize populates the free-space map by sweeping the given entries
// (sorted by address) from firstAddress: each gap between the cursor and
// the next entry's address becomes a free block; the trailing region after
// the last entry becomes the final free block.
func (a *addressAllocator) initialize(entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	a.free = a.free[:0]
	cursor := a.firstAddress
	for _, e := range sorted {
		if e.Address > cursor {
			a.free = append(a.free, freeBlock{start: cursor, length: e.Address - cursor})
		}
		cursor = e.Address + a.align(e.Size)
	}
	if cursor < a.lastAddress {
		a.free = append(a.free, freeBlock{start: cursor, length: a.lastAddress - cursor})
	}
}

// indexAtOrAfter returns the index of the first free block whose start is
// >= addr (len(a.free) if none).
func (a *addressAllocator) indexAtOrAfter(addr uint64) int {
	return sort.Search(len(a.free), func(i int) bool { return a.free[i].start >= addr })
}

func (a *addressAllocator) insertFree(start, length uint64) {
	i := a.indexAtOrAfter(start)
	a.free = append(a.free, freeBlock{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = freeBlock{start: start, length: length}
}

// allocate finds the first free block able to hold requested bytes
// (rounded to block alignment), carves it from the block's low end, and
// returns the allocated address.
func (a *addressAllocator) allocate(requested uint64) (uint64, error) {
	need := a.align(requested)
	for i, fb := range a.free {
		if fb.length < need {
			continue
		}
		addr := fb.start
		remaining := fb.length - need
		a.free = append(a.free[:i], a.free[i+1:]...)
		if remaining > 0 {
			a.insertFree(addr+need, remaining)
		}
		if a.log != nil {
			a.log.WithFields(logrus.Fields{"address": addr, "bytes": need}).Debug("allocator: allocated extent")
		}
		return addr, nil
	}
	return 0, ErrOutOfSpace
}

// deallocate returns the entry's extent to the free-space map, coalescing
// with an abutting predecessor and/or successor so the result is a single
// maximal free block.
func (a *addressAllocator) deallocate(e Entry) {
	start := e.Address
	length := a.align(e.Size)

	i := a.indexAtOrAfter(start)
	if i > 0 && a.free[i-1].start+a.free[i-1].length == start {
		start = a.free[i-1].start
		length += a.free[i-1].length
		a.free = append(a.free[:i-1], a.free[i:]...)
		i--
	}
	if i < len(a.free) && start+length == a.free[i].start {
		length += a.free[i].length
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
	a.insertFree(start, length)
	if a.log != nil {
		a.log.WithFields(logrus.Fields{"address": start, "bytes": length}).Debug("allocator: deallocated extent")
	}
}

// reallocate resizes an entry's extent in place, updating entry.Size (and
// entry.Address, if the extent had to move) to reflect newSize.
func (a *addressAllocator) reallocate(entry *Entry, newSize uint64) error {
	oldAligned := a.align(entry.Size)
	newAligned := a.align(newSize)
	oldBlocks := ceilDiv(oldAligned, a.blockSize)
	newBlocks := ceilDiv(newAligned, a.blockSize)

	if newBlocks <= oldBlocks {
		entry.Size = newSize
		return nil
	}

	growStart := entry.Address + oldAligned
	if i := a.indexAtOrAfter(growStart); i < len(a.free) && a.free[i].start == growStart {
		need := newAligned - oldAligned
		if a.free[i].length >= need {
			remaining := a.free[i].length - need
			a.free = append(a.free[:i], a.free[i+1:]...)
			if remaining > 0 {
				a.insertFree(growStart+need, remaining)
			}
			entry.Size = newSize
			if a.log != nil {
				a.log.WithField("address", entry.Address).Debug("allocator: grew extent in place")
			}
			return nil
		}
	}

	old := *entry
	snapshot := append([]freeBlock(nil), a.free...)
	a.deallocate(old)
	addr, err := a.allocate(newSize)
	if err != nil {
		// Restore the free-space map to before the old extent was freed, so
		// entry keeps sole ownership of its current range instead of
		// leaving it marked free with nothing allocated in its place.
		a.free = snapshot
		return err
	}
	entry.Address = addr
	entry.Size = newSize
	if a.log != nil {
		a.log.WithFields(logrus.Fields{"from": old.Address, "to": addr}).Debug("allocator: relocated extent")
	}
	return nil
}

// defrag relocates every live extent to the low end of the data region in
// ascending source-address order (so every destination address is <= its
// source address, making the per-entry copy safe without a whole-region
// scratch buffer), then resets the free-space map to the single trailing
// block. Returns the entries with their Address fields updated.
func (a *addressAllocator) defrag(entries []Entry, device *blockdev.Device) ([]Entry, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	var scratch []byte
	cursor := a.firstAddress
	for i := range sorted {
		e := &sorted[i]
		aligned := a.align(e.Size)
		if cap(scratch) < int(aligned) {
			scratch = make([]byte, aligned)
		}
		buf := scratch[:aligned]
		if err := device.Read(e.Address, aligned, buf); err != nil {
			return nil, fmt.Errorf("packfs: defrag: read %s: %w", e.Path, err)
		}
		if e.Address != cursor {
			if err := device.Write(cursor, buf); err != nil {
				return nil, fmt.Errorf("packfs: defrag: write %s: %w", e.Path, err)
			}
		}
		e.Address = cursor
		cursor += aligned
	}

	a.free = a.free[:0]
	if cursor < a.lastAddress {
		a.free = append(a.free, freeBlock{start: cursor, length: a.lastAddress - cursor})
	}
	if a.log != nil {
		a.log.WithField("entries", len(sorted)).Debug("allocator: defrag complete")
	}
	return sorted, nil
}
