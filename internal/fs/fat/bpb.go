package fat

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const bootSectorSize = 512

// BPB is the BIOS parameter block common to every FAT variant.
type BPB struct {
	Jump              [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	Heads             uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// EBPB16 is the extended BPB used by FAT12 and FAT16.
type EBPB16 struct {
	DriveNumber   uint8
	BootSignature uint8
	VolumeID      uint32
	VolumeLabel   [11]byte
	FSType        [8]byte
}

// EBPB32 is the extended BPB used by FAT32.
type EBPB32 struct {
	SectorsPerFAT    uint32
	Flags            uint16
	Version          uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	DriveNumber      uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FSType           [8]byte
}

// BootSector is a decoded boot sector. Exactly one of EBPB16 and EBPB32 is set.
type BootSector struct {
	BPB
	EBPB16    *EBPB16
	EBPB32    *EBPB32
	Signature uint16
}

// DecodeBootSector decodes and sanity checks the first 512 bytes of b. The
// FAT32 extended layout is chosen when the 16-bit sectors-per-FAT field is zero.
func DecodeBootSector(b []byte) (*BootSector, error) {
	if len(b) < bootSectorSize {
		return nil, fmt.Errorf("boot sector needs %d bytes, got %d: %w", bootSectorSize, len(b), ErrTruncated)
	}
	le := binary.LittleEndian
	bs := &BootSector{
		BPB: BPB{
			BytesPerSector:    le.Uint16(b[11:13]),
			SectorsPerCluster: b[13],
			ReservedSectors:   le.Uint16(b[14:16]),
			FATCount:          b[16],
			RootEntryCount:    le.Uint16(b[17:19]),
			TotalSectors16:    le.Uint16(b[19:21]),
			Media:             b[21],
			SectorsPerFAT16:   le.Uint16(b[22:24]),
			SectorsPerTrack:   le.Uint16(b[24:26]),
			Heads:             le.Uint16(b[26:28]),
			HiddenSectors:     le.Uint32(b[28:32]),
			TotalSectors32:    le.Uint32(b[32:36]),
		},
		Signature: le.Uint16(b[510:512]),
	}
	copy(bs.Jump[:], b[0:3])
	copy(bs.OEMName[:], b[3:11])

	if bs.SectorsPerFAT16 == 0 {
		e := &EBPB32{
			SectorsPerFAT:    le.Uint32(b[36:40]),
			Flags:            le.Uint16(b[40:42]),
			Version:          le.Uint16(b[42:44]),
			RootCluster:      le.Uint32(b[44:48]),
			FSInfoSector:     le.Uint16(b[48:50]),
			BackupBootSector: le.Uint16(b[50:52]),
			DriveNumber:      b[64],
			BootSignature:    b[66],
			VolumeID:         le.Uint32(b[67:71]),
		}
		copy(e.VolumeLabel[:], b[71:82])
		copy(e.FSType[:], b[82:90])
		bs.EBPB32 = e
	} else {
		e := &EBPB16{
			DriveNumber:   b[36],
			BootSignature: b[38],
			VolumeID:      le.Uint32(b[39:43]),
		}
		copy(e.VolumeLabel[:], b[43:54])
		copy(e.FSType[:], b[54:62])
		bs.EBPB16 = e
	}

	if err := bs.validate(); err != nil {
		return nil, err
	}
	return bs, nil
}

func (bs *BootSector) validate() error {
	switch {
	case bs.Signature != 0xAA55:
		return fmt.Errorf("%w: signature 0x%04X", ErrInvalidBootSector, bs.Signature)
	case bs.BytesPerSector != 512 && bs.BytesPerSector != 1024 &&
		bs.BytesPerSector != 2048 && bs.BytesPerSector != 4096:
		return fmt.Errorf("%w: %d bytes per sector", ErrInvalidBootSector, bs.BytesPerSector)
	case bs.SectorsPerCluster == 0 || bs.SectorsPerCluster&(bs.SectorsPerCluster-1) != 0:
		return fmt.Errorf("%w: %d sectors per cluster", ErrInvalidBootSector, bs.SectorsPerCluster)
	case bs.ReservedSectors == 0:
		return fmt.Errorf("%w: no reserved sectors", ErrInvalidBootSector)
	case bs.FATCount == 0:
		return fmt.Errorf("%w: no FATs", ErrInvalidBootSector)
	case bs.SectorsPerFAT() == 0:
		return fmt.Errorf("%w: zero sectors per FAT", ErrInvalidBootSector)
	case bs.TotalSectors() == 0:
		return fmt.Errorf("%w: zero total sectors", ErrInvalidBootSector)
	}
	return nil
}

// TotalSectors prefers the 16-bit count and falls back to the 32-bit one.
func (bs *BootSector) TotalSectors() uint32 {
	if bs.TotalSectors16 != 0 {
		return uint32(bs.TotalSectors16)
	}
	return bs.TotalSectors32
}

// SectorsPerFAT prefers the 16-bit count and falls back to the FAT32 field.
func (bs *BootSector) SectorsPerFAT() uint32 {
	if bs.SectorsPerFAT16 != 0 {
		return uint32(bs.SectorsPerFAT16)
	}
	if bs.EBPB32 != nil {
		return bs.EBPB32.SectorsPerFAT
	}
	return 0
}

// Label is the volume label from the extended BPB without padding.
func (bs *BootSector) Label() string {
	var raw []byte
	switch {
	case bs.EBPB32 != nil:
		raw = bs.EBPB32.VolumeLabel[:]
	case bs.EBPB16 != nil:
		raw = bs.EBPB16.VolumeLabel[:]
	}
	return strings.TrimRight(string(raw), " \x00")
}

// VolumeID is the serial number from the extended BPB.
func (bs *BootSector) VolumeID() uint32 {
	switch {
	case bs.EBPB32 != nil:
		return bs.EBPB32.VolumeID
	case bs.EBPB16 != nil:
		return bs.EBPB16.VolumeID
	}
	return 0
}

// FSTypeHint is the informational type string. It never decides the variant.
func (bs *BootSector) FSTypeHint() string {
	var raw []byte
	switch {
	case bs.EBPB32 != nil:
		raw = bs.EBPB32.FSType[:]
	case bs.EBPB16 != nil:
		raw = bs.EBPB16.FSType[:]
	}
	return strings.TrimRight(string(raw), " \x00")
}
