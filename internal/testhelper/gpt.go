// Package testhelper builds byte-exact disk images in memory for tests.
package testhelper

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"
)

// GPTPartition describes one entry of a generated GPT.
type GPTPartition struct {
	Type       uuid.UUID
	GUID       uuid.UUID
	Start      uint64
	End        uint64
	Attributes uint64
	Name       string
	// Data is copied to the first block of the partition.
	Data []byte
}

// GPTDisk describes a generated GPT disk.
type GPTDisk struct {
	BlockSize  uint32
	Blocks     uint64
	DiskGUID   uuid.UUID
	EntryCount uint32
	EntrySize  uint32
	// Slots places partitions at explicit 0-based entry indexes. When nil
	// partitions fill entries 0..n-1.
	Slots      []int
	Partitions []GPTPartition
}

// GPTLayout reports where the generated structures live.
type GPTLayout struct {
	PrimaryHeaderLBA   uint64
	PrimaryEntriesLBA  uint64
	AlternateHeaderLBA uint64
	AltEntriesLBA      uint64
	EntryArrayBlocks   uint64
}

func (d *GPTDisk) defaults() {
	if d.BlockSize == 0 {
		d.BlockSize = 512
	}
	if d.EntryCount == 0 {
		d.EntryCount = 128
	}
	if d.EntrySize == 0 {
		d.EntrySize = 128
	}
	if d.DiskGUID == uuid.Nil {
		d.DiskGUID = uuid.MustParse("5A4E6F2C-1B3D-4E5F-8A9B-0C1D2E3F4A5B")
	}
}

// Build renders the disk.
func (d GPTDisk) Build() ([]byte, GPTLayout, error) {
	d.defaults()
	bs := uint64(d.BlockSize)
	arrayBlocks := (uint64(d.EntryCount)*uint64(d.EntrySize) + bs - 1) / bs
	if d.Blocks < 2*arrayBlocks+4 {
		return nil, GPTLayout{}, fmt.Errorf("disk of %d blocks too small for GPT", d.Blocks)
	}
	lay := GPTLayout{
		PrimaryHeaderLBA:   1,
		PrimaryEntriesLBA:  2,
		AlternateHeaderLBA: d.Blocks - 1,
		AltEntriesLBA:      d.Blocks - 1 - arrayBlocks,
		EntryArrayBlocks:   arrayBlocks,
	}
	img := make([]byte, d.Blocks*bs)

	// protective MBR
	binary.LittleEndian.PutUint32(img[440:444], 0x1234ABCD)
	rec := img[446:462]
	rec[0] = 0x00
	copy(rec[1:4], []byte{0x00, 0x02, 0x00})
	rec[4] = 0xEE
	copy(rec[5:8], []byte{0xFF, 0xFF, 0xFF})
	binary.LittleEndian.PutUint32(rec[8:12], 1)
	last := d.Blocks - 1
	if last > 0xFFFFFFFF {
		last = 0xFFFFFFFF
	}
	binary.LittleEndian.PutUint32(rec[12:16], uint32(last))
	img[510], img[511] = 0x55, 0xAA

	entries := make([]byte, arrayBlocks*bs)
	for i, p := range d.Partitions {
		slot := i
		if d.Slots != nil {
			slot = d.Slots[i]
		}
		if slot >= int(d.EntryCount) {
			return nil, GPTLayout{}, fmt.Errorf("slot %d beyond %d entries", slot, d.EntryCount)
		}
		e := entries[uint64(slot)*uint64(d.EntrySize):]
		PutGUID(e[0:16], p.Type)
		PutGUID(e[16:32], p.GUID)
		binary.LittleEndian.PutUint64(e[32:40], p.Start)
		binary.LittleEndian.PutUint64(e[40:48], p.End)
		binary.LittleEndian.PutUint64(e[48:56], p.Attributes)
		for j, u := range utf16.Encode([]rune(p.Name)) {
			if j >= 36 {
				break
			}
			binary.LittleEndian.PutUint16(e[56+2*j:], u)
		}
		if p.Data != nil {
			if p.Start*bs+uint64(len(p.Data)) > lay.AltEntriesLBA*bs {
				return nil, GPTLayout{}, fmt.Errorf("partition %d data overflows disk", i+1)
			}
			copy(img[p.Start*bs:], p.Data)
		}
	}
	arrayCRC := crc32.ChecksumIEEE(entries[:uint64(d.EntryCount)*uint64(d.EntrySize)])

	copy(img[lay.PrimaryEntriesLBA*bs:], entries)
	copy(img[lay.AltEntriesLBA*bs:], entries)

	d.writeHeader(img[lay.PrimaryHeaderLBA*bs:(lay.PrimaryHeaderLBA+1)*bs], lay.PrimaryHeaderLBA, lay.AlternateHeaderLBA, lay.PrimaryEntriesLBA, lay, arrayCRC)
	d.writeHeader(img[lay.AlternateHeaderLBA*bs:], lay.AlternateHeaderLBA, lay.PrimaryHeaderLBA, lay.AltEntriesLBA, lay, arrayCRC)
	return img, lay, nil
}

func (d GPTDisk) writeHeader(h []byte, self, alt, entriesLBA uint64, lay GPTLayout, arrayCRC uint32) {
	copy(h[0:8], "EFI PART")
	binary.LittleEndian.PutUint32(h[8:12], 0x00010000)
	binary.LittleEndian.PutUint32(h[12:16], 92)
	binary.LittleEndian.PutUint64(h[24:32], self)
	binary.LittleEndian.PutUint64(h[32:40], alt)
	binary.LittleEndian.PutUint64(h[40:48], lay.PrimaryEntriesLBA+lay.EntryArrayBlocks)
	binary.LittleEndian.PutUint64(h[48:56], lay.AltEntriesLBA-1)
	PutGUID(h[56:72], d.DiskGUID)
	binary.LittleEndian.PutUint64(h[72:80], entriesLBA)
	binary.LittleEndian.PutUint32(h[80:84], d.EntryCount)
	binary.LittleEndian.PutUint32(h[84:88], d.EntrySize)
	binary.LittleEndian.PutUint32(h[88:92], arrayCRC)
	FixHeaderCRC(h)
}

// FixHeaderCRC recomputes the CRC32 of a header in place using its header_size.
func FixHeaderCRC(h []byte) {
	size := binary.LittleEndian.Uint32(h[12:16])
	binary.LittleEndian.PutUint32(h[16:20], 0)
	binary.LittleEndian.PutUint32(h[16:20], crc32.ChecksumIEEE(h[:size]))
}

// PutGUID writes g in the mixed-endian on-disk GUID layout.
func PutGUID(b []byte, g uuid.UUID) {
	copy(b[:16], g[:])
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
}
