package fat

import (
	"encoding/binary"
	"fmt"
)

const (
	fsInfoLeadSignature  = 0x41615252
	fsInfoMidSignature   = 0x61417272
	fsInfoTrailSignature = 0xAA550000

	// FSInfoUnknown marks an unset free-count or next-free hint.
	FSInfoUnknown = 0xFFFFFFFF
)

// FSInfo is the FAT32 allocation hint sector.
type FSInfo struct {
	LeadSignature  uint32
	MidSignature   uint32
	FreeCount      uint32
	NextFree       uint32
	TrailSignature uint32
}

// DecodeFSInfo decodes the 512-byte FSInfo sector.
func DecodeFSInfo(b []byte) (*FSInfo, error) {
	if len(b) < 512 {
		return nil, fmt.Errorf("FSInfo needs 512 bytes, got %d: %w", len(b), ErrTruncated)
	}
	le := binary.LittleEndian
	return &FSInfo{
		LeadSignature:  le.Uint32(b[0:4]),
		MidSignature:   le.Uint32(b[484:488]),
		FreeCount:      le.Uint32(b[488:492]),
		NextFree:       le.Uint32(b[492:496]),
		TrailSignature: le.Uint32(b[508:512]),
	}, nil
}

// Valid reports whether all three signatures match.
func (fi *FSInfo) Valid() bool {
	return fi.LeadSignature == fsInfoLeadSignature &&
		fi.MidSignature == fsInfoMidSignature &&
		fi.TrailSignature == fsInfoTrailSignature
}
