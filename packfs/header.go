package packfs

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/packfs/go-packfs/blockdev"
)

const (
	// magic is the 4-byte volume magic, spec §3.2.
	magic = "MYFS"
	// version is the on-disk format version this package reads and writes.
	version byte = 0x03

	// headerSize is the byte length of the fixed preamble up to (but not
	// including) totalFatSize: magic(4) + version(1) + blockSize(2) +
	// 8 bytes of struct padding, per the packed layout spec §6.1 mandates
	// implementers reproduce so existing device images stay readable.
	headerSize = 4 + 1 + 2 + 8
	// preambleSize is headerSize plus the 8-byte totalFatSize field; the
	// serialized entry table begins immediately after it.
	preambleSize = headerSize + 8

	// FatSize is the fixed size, in bytes, of the FAT region (header +
	// entry table): the first 4096 bytes of the device. Data begins here.
	FatSize uint64 = 4096
)

// volume owns the on-disk header and the serialized entry table: loading,
// saving, and formatting a fresh one. Grounded on
// original_source/src/myfs.cpp's load/save/format and, for the low-level
// byte packing, on filesystem/fat32/table.go's hand-rolled
// binary.LittleEndian (de)serialization rather than encoding/binary's
// struct codec, since Go struct padding does not match the packed layout
// spec §6.1 requires.
type volume struct {
	device    *blockdev.Device
	blockSize uint16
	log       *logrus.Entry
}

func newVolume(device *blockdev.Device, blockSize uint16, log *logrus.Entry) *volume {
	return &volume{device: device, blockSize: blockSize, log: log}
}

// load reads the header and entry table, failing with ErrBadMagic,
// ErrBadVersion, ErrBadBlockSize, or a *CorruptEntryError /
// *MaxPathLengthError on mismatch. On success it updates v.blockSize from
// the header.
func (v *volume) load() ([]Entry, error) {
	hdr := make([]byte, headerSize)
	if err := v.device.Read(0, uint64(headerSize), hdr); err != nil {
		return nil, fmt.Errorf("packfs: load header: %w", err)
	}
	if string(hdr[0:4]) != magic {
		return nil, newCorruptHeaderError(ErrBadMagic)
	}
	if hdr[4] != version {
		return nil, newCorruptHeaderError(ErrBadVersion)
	}
	blockSize := binary.LittleEndian.Uint16(hdr[5:7])
	if blockSize == 0 || uint64(blockSize) >= FatSize {
		return nil, newCorruptHeaderError(ErrBadBlockSize)
	}
	v.blockSize = blockSize

	totalFatBuf := make([]byte, 8)
	if err := v.device.Read(headerSize, 8, totalFatBuf); err != nil {
		return nil, fmt.Errorf("packfs: load totalFatSize: %w", err)
	}
	totalFatSize := binary.LittleEndian.Uint64(totalFatBuf)

	if totalFatSize > FatSize-uint64(blockSize) {
		return nil, newCorruptHeaderError(fmt.Errorf("totalFatSize %d exceeds FAT region", totalFatSize))
	}

	table := make([]byte, totalFatSize)
	if totalFatSize > 0 {
		if err := v.device.Read(preambleSize, totalFatSize, table); err != nil {
			return nil, fmt.Errorf("packfs: load entry table: %w", err)
		}
	}

	var entries []Entry
	var consumed uint64
	for consumed < totalFatSize {
		e, n, err := DecodeEntry(table[consumed:])
		if err != nil {
			return nil, newCorruptEntryError(preambleSize + consumed)
		}
		if len(e.Path) > MaxPathLength {
			return nil, newMaxPathLengthError(e.Path)
		}
		entries = append(entries, e)
		consumed += uint64(n)
	}

	if v.log != nil {
		v.log.WithField("entries", len(entries)).Debug("volume: loaded")
	}
	return entries, nil
}

// save recomputes totalFatSize from entries, fails with ErrFatFull if it
// would not fit, and otherwise writes header + totalFatSize + the
// serialized table to the device.
func (v *volume) save(entries []Entry) error {
	var totalFatSize uint64
	for _, e := range entries {
		totalFatSize += uint64(e.serializedSize())
	}
	if totalFatSize > FatSize-uint64(v.blockSize) {
		return ErrFatFull
	}

	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic)
	hdr[4] = version
	binary.LittleEndian.PutUint16(hdr[5:7], v.blockSize)
	// hdr[7:15] left zero: struct padding, per §6.1.
	if err := v.device.Write(0, hdr); err != nil {
		return fmt.Errorf("packfs: save header: %w", err)
	}

	totalFatBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(totalFatBuf, totalFatSize)
	if err := v.device.Write(headerSize, totalFatBuf); err != nil {
		return fmt.Errorf("packfs: save totalFatSize: %w", err)
	}

	table := make([]byte, 0, totalFatSize)
	for _, e := range entries {
		table = append(table, EncodeEntry(e)...)
	}
	if len(table) > 0 {
		if err := v.device.Write(preambleSize, table); err != nil {
			return fmt.Errorf("packfs: save entry table: %w", err)
		}
	}

	if v.log != nil {
		v.log.WithFields(logrus.Fields{"entries": len(entries), "fat_bytes": totalFatSize}).Debug("volume: saved")
	}
	return nil
}

// format writes a fresh, empty header (default block size, totalFatSize=0)
// and zeroes the rest of the device. It does not create the root entry:
// that is the FileSystem's job, since it requires the address allocator.
func (v *volume) format() error {
	v.blockSize = DefaultBlockSize

	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic)
	hdr[4] = version
	binary.LittleEndian.PutUint16(hdr[5:7], v.blockSize)
	if err := v.device.Write(0, hdr); err != nil {
		return fmt.Errorf("packfs: format header: %w", err)
	}

	zeroTotalFat := make([]byte, 8)
	if err := v.device.Write(headerSize, zeroTotalFat); err != nil {
		return fmt.Errorf("packfs: format totalFatSize: %w", err)
	}

	zero := make([]byte, 1<<16)
	for addr := uint64(preambleSize); addr < v.device.Size(); {
		n := uint64(len(zero))
		if addr+n > v.device.Size() {
			n = v.device.Size() - addr
		}
		if err := v.device.Write(addr, zero[:n]); err != nil {
			return fmt.Errorf("packfs: format zero data region: %w", err)
		}
		addr += n
	}

	if v.log != nil {
		v.log.Debug("volume: formatted")
	}
	return nil
}
