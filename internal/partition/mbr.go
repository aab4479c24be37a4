package partition

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	mbrSize          = 512
	mbrDiskSigOffset = 440
	mbrRecordsOffset = 446
	mbrRecordSize    = 16
	mbrSignature     = 0xAA55

	// ProtectiveType marks the single MBR record covering a GPT disk.
	ProtectiveType = 0xEE
)

var protectiveStartCHS = [3]byte{0x00, 0x02, 0x00}

// MBRRecord is one of the four legacy partition records.
type MBRRecord struct {
	Attributes uint8
	StartCHS   [3]byte
	Type       uint8
	EndCHS     [3]byte
	StartLBA   uint32
	Sectors    uint32
}

func (r MBRRecord) isZero() bool {
	return r == MBRRecord{}
}

// MBR is the master boot record at LBA 0.
type MBR struct {
	DiskSignature uint32
	Records       [4]MBRRecord
	Signature     uint16
}

// DecodeMBR decodes the first 512 bytes of b. Only the trailer signature is
// validated here.
func DecodeMBR(b []byte) (*MBR, error) {
	if len(b) < mbrSize {
		return nil, fmt.Errorf("MBR needs %d bytes, got %d: %w", mbrSize, len(b), ErrTruncated)
	}
	m := &MBR{
		DiskSignature: binary.LittleEndian.Uint32(b[mbrDiskSigOffset : mbrDiskSigOffset+4]),
		Signature:     binary.LittleEndian.Uint16(b[510:512]),
	}
	for i := range m.Records {
		rec := b[mbrRecordsOffset+i*mbrRecordSize : mbrRecordsOffset+(i+1)*mbrRecordSize]
		r := &m.Records[i]
		r.Attributes = rec[0]
		copy(r.StartCHS[:], rec[1:4])
		r.Type = rec[4]
		copy(r.EndCHS[:], rec[5:8])
		r.StartLBA = binary.LittleEndian.Uint32(rec[8:12])
		r.Sectors = binary.LittleEndian.Uint32(rec[12:16])
	}
	if m.Signature != mbrSignature {
		return nil, fmt.Errorf("%w: 0x%04X", ErrBadMBR, m.Signature)
	}
	return m, nil
}

// ValidateProtective checks the protective MBR layout required on GPT disks.
func (m *MBR) ValidateProtective() error {
	r := m.Records[0]
	switch {
	case r.Attributes != 0:
		return fmt.Errorf("%w: record 0 attributes 0x%02X", ErrBadProtectiveMBR, r.Attributes)
	case !bytes.Equal(r.StartCHS[:], protectiveStartCHS[:]):
		return fmt.Errorf("%w: record 0 starting CHS % X", ErrBadProtectiveMBR, r.StartCHS)
	case r.Type != ProtectiveType:
		return fmt.Errorf("%w: record 0 type 0x%02X", ErrBadProtectiveMBR, r.Type)
	case r.StartLBA != 1:
		return fmt.Errorf("%w: record 0 starting LBA %d", ErrBadProtectiveMBR, r.StartLBA)
	}
	for i := 1; i < len(m.Records); i++ {
		if !m.Records[i].isZero() {
			return fmt.Errorf("%w: record %d is not empty", ErrBadProtectiveMBR, i)
		}
	}
	return nil
}
