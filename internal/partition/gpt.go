// Package partition reads MBR and GPT partition tables from a block device.
// A GPT is accepted only when the protective MBR, both header copies and both
// entry arrays agree.
package partition

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

var log = logger.Logger()

const (
	// HeaderStructSize is the size of the defined GPT header fields.
	HeaderStructSize = 92
	// EntryStructSize is the size of the defined GPT entry fields.
	EntryStructSize = 128

	nameUnits          = 36
	maxEntryArrayBytes = 1 << 20
)

var gptSignature = []byte("EFI PART")

// Header is a GPT header, primary or alternate.
type Header struct {
	Signature       [8]byte
	Revision        uint32
	HeaderSize      uint32
	HeaderCRC32     uint32
	HeaderLBA       uint64
	AlternateLBA    uint64
	FirstUsableLBA  uint64
	LastUsableLBA   uint64
	DiskGUID        uuid.UUID
	EntryArrayLBA   uint64
	EntryCount      uint32
	EntrySize       uint32
	EntryArrayCRC32 uint32
}

// DecodeHeader decodes and validates a header from the start of block b.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderStructSize {
		return nil, fmt.Errorf("GPT header needs %d bytes, got %d: %w", HeaderStructSize, len(b), ErrTruncated)
	}
	h := &Header{
		Revision:        binary.LittleEndian.Uint32(b[8:12]),
		HeaderSize:      binary.LittleEndian.Uint32(b[12:16]),
		HeaderCRC32:     binary.LittleEndian.Uint32(b[16:20]),
		HeaderLBA:       binary.LittleEndian.Uint64(b[24:32]),
		AlternateLBA:    binary.LittleEndian.Uint64(b[32:40]),
		FirstUsableLBA:  binary.LittleEndian.Uint64(b[40:48]),
		LastUsableLBA:   binary.LittleEndian.Uint64(b[48:56]),
		DiskGUID:        decodeGUID(b[56:72]),
		EntryArrayLBA:   binary.LittleEndian.Uint64(b[72:80]),
		EntryCount:      binary.LittleEndian.Uint32(b[80:84]),
		EntrySize:       binary.LittleEndian.Uint32(b[84:88]),
		EntryArrayCRC32: binary.LittleEndian.Uint32(b[88:92]),
	}
	copy(h.Signature[:], b[0:8])

	if !bytes.Equal(h.Signature[:], gptSignature) {
		return nil, fmt.Errorf("%w: %q", ErrBadSignature, h.Signature[:])
	}
	if h.HeaderSize < HeaderStructSize || int(h.HeaderSize) > len(b) {
		return nil, fmt.Errorf("%w: %d (block holds %d)", ErrBadHeaderSize, h.HeaderSize, len(b))
	}
	if h.EntrySize == 0 || h.EntrySize%EntryStructSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadEntrySize, h.EntrySize)
	}
	if sum := HeaderCRC(b[:h.HeaderSize]); sum != h.HeaderCRC32 {
		return nil, fmt.Errorf("%w: stored 0x%08X, computed 0x%08X", ErrHeaderCRC, h.HeaderCRC32, sum)
	}
	return h, nil
}

// HeaderCRC computes the CRC32 of raw header bytes with the stored CRC field zeroed.
func HeaderCRC(raw []byte) uint32 {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	if len(buf) >= 20 {
		copy(buf[16:20], []byte{0, 0, 0, 0})
	}
	return crc32.ChecksumIEEE(buf)
}

// entryArrayBlocks is ceil(entry_size*entry_count / block_size).
func (h *Header) entryArrayBlocks(blockSize uint32) (uint64, error) {
	total := uint64(h.EntrySize) * uint64(h.EntryCount)
	if total > maxEntryArrayBytes {
		return 0, fmt.Errorf("%w: entry array of %d bytes", ErrBadEntrySize, total)
	}
	bs := uint64(blockSize)
	return (total + bs - 1) / bs, nil
}

// Entry is one GPT partition entry.
type Entry struct {
	TypeGUID      uuid.UUID
	PartitionGUID uuid.UUID
	StartLBA      uint64
	EndLBA        uint64
	Attributes    uint64
	RawName       [nameUnits]uint16
}

// DecodeEntry decodes the first 128 bytes of b.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < EntryStructSize {
		return Entry{}, fmt.Errorf("GPT entry needs %d bytes, got %d: %w", EntryStructSize, len(b), ErrTruncated)
	}
	e := Entry{
		TypeGUID:      decodeGUID(b[0:16]),
		PartitionGUID: decodeGUID(b[16:32]),
		StartLBA:      binary.LittleEndian.Uint64(b[32:40]),
		EndLBA:        binary.LittleEndian.Uint64(b[40:48]),
		Attributes:    binary.LittleEndian.Uint64(b[48:56]),
	}
	for i := range e.RawName {
		e.RawName[i] = binary.LittleEndian.Uint16(b[56+2*i : 58+2*i])
	}
	return e, nil
}

// Used reports whether the entry describes a partition.
func (e Entry) Used() bool {
	return e.TypeGUID != uuid.Nil
}

// Name decodes the UTF-16LE partition name up to the first NUL.
func (e Entry) Name() string {
	n := 0
	for n < len(e.RawName) && e.RawName[n] != 0 {
		n++
	}
	return string(utf16.Decode(e.RawName[:n]))
}

// Blocks is the inclusive length of the partition in logical blocks.
func (e Entry) Blocks() uint64 {
	if e.EndLBA < e.StartLBA {
		return 0
	}
	return e.EndLBA - e.StartLBA + 1
}

// SizeBytes is the partition size for the given block size.
func (e Entry) SizeBytes(blockSize uint32) uint64 {
	return e.Blocks() * uint64(blockSize)
}

// GPT is a validated GUID partition table.
type GPT struct {
	MBR              *MBR
	Primary          *Header
	Alternate        *Header
	Entries          []Entry
	AlternateEntries []Entry
	BlockSize        uint32

	// EntryArrayCRCValid records whether the primary entry array matches the
	// CRC stored in the primary header. Acceptance does not depend on it.
	EntryArrayCRCValid bool
}

// DiskGUID is the disk identifier from the primary header.
func (g *GPT) DiskGUID() uuid.UUID {
	return g.Primary.DiskGUID
}

// Read reads and cross-checks the protective MBR, both GPT headers and both
// entry arrays of r.
func Read(r blockdev.Reader) (*GPT, error) {
	dev, err := blockdev.New(r)
	if err != nil {
		return nil, err
	}
	geo := dev.Geometry()

	raw, err := dev.ReadBytes(0, mbrSize)
	if err != nil {
		return nil, fmt.Errorf("read MBR: %w", err)
	}
	mbr, err := DecodeMBR(raw)
	if err != nil {
		return nil, err
	}
	if err := mbr.ValidateProtective(); err != nil {
		return nil, err
	}

	primary, err := readHeader(dev, 1)
	if err != nil {
		return nil, fmt.Errorf("primary header: %w", err)
	}
	alternate, err := readHeader(dev, geo.LastBlock)
	if err != nil {
		return nil, fmt.Errorf("alternate header: %w", err)
	}

	entries, rawEntries, err := readEntries(dev, primary)
	if err != nil {
		return nil, fmt.Errorf("primary entry array: %w", err)
	}
	altEntries, _, err := readEntries(dev, alternate)
	if err != nil {
		return nil, fmt.Errorf("alternate entry array: %w", err)
	}

	if err := compareEntryArrays(entries, altEntries); err != nil {
		return nil, err
	}

	arrayCRC := crc32.ChecksumIEEE(rawEntries)
	if arrayCRC != primary.EntryArrayCRC32 {
		log.Debugf("GPT entry array CRC mismatch: stored 0x%08X, computed 0x%08X", primary.EntryArrayCRC32, arrayCRC)
	}

	log.Debugf("Read GPT: disk %s, %d entries of %d bytes", primary.DiskGUID, primary.EntryCount, primary.EntrySize)
	return &GPT{
		MBR:                mbr,
		Primary:            primary,
		Alternate:          alternate,
		Entries:            entries,
		AlternateEntries:   altEntries,
		BlockSize:          geo.BlockSize,
		EntryArrayCRCValid: arrayCRC == primary.EntryArrayCRC32,
	}, nil
}

func readHeader(dev *blockdev.Device, lba uint64) (*Header, error) {
	b, err := dev.ReadBlock(lba)
	if err != nil {
		return nil, fmt.Errorf("read LBA %d: %w", lba, err)
	}
	return DecodeHeader(b)
}

// readEntries returns the decoded entries and the raw entry_count*entry_size bytes.
func readEntries(dev *blockdev.Device, h *Header) ([]Entry, []byte, error) {
	blocks, err := h.entryArrayBlocks(dev.Geometry().BlockSize)
	if err != nil {
		return nil, nil, err
	}
	buf, err := dev.ReadBlocks(h.EntryArrayLBA, blocks)
	if err != nil {
		return nil, nil, fmt.Errorf("read %d blocks at LBA %d: %w", blocks, h.EntryArrayLBA, err)
	}

	entries := make([]Entry, 0, h.EntryCount)
	for i := uint32(0); i < h.EntryCount; i++ {
		off := uint64(i) * uint64(h.EntrySize)
		e, err := DecodeEntry(buf[off : off+uint64(h.EntrySize)])
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
	}
	return entries, buf[:uint64(h.EntryCount)*uint64(h.EntrySize)], nil
}

func compareEntryArrays(a, b []Entry) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d vs %d entries", ErrEntryArrayMismatch, len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%w: entry %d", ErrEntryArrayMismatch, i+1)
		}
	}
	return nil
}
