package fat

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"
)

// DirEntrySize is the size of one directory record.
const DirEntrySize = 32

// Directory attribute bits.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = 0x0F
)

const (
	recordEnd     = 0x00
	recordDeleted = 0xE5
	// A leading 0x05 stands for a real 0xE5 in the first name byte.
	kanjiEscape = 0x05
)

// ShortEntry is a classic 8.3 directory record.
type ShortEntry struct {
	Name            [8]byte
	Ext             [3]byte
	Attr            uint8
	NTReserved      uint8
	CreateTimeTenth uint8
	CreateTime      uint16
	CreateDate      uint16
	AccessDate      uint16
	ClusterHi       uint16
	WriteTime       uint16
	WriteDate       uint16
	ClusterLo       uint16
	FileSize        uint32
}

// LFNFragment is one long-file-name record holding 13 UTF-16 code units.
type LFNFragment struct {
	Order    uint8
	Units    [13]uint16
	Checksum uint8
}

// DirEntry is a short record together with the long-name fragments that
// preceded it.
type DirEntry struct {
	Fragments []LFNFragment
	Short     ShortEntry
}

// DecodeDirectory decodes consecutive 32-byte records until the end marker.
// Deleted records are skipped and long-name fragments accumulate until the
// next short record claims them. A trailing partial record is ignored.
func DecodeDirectory(raw []byte) []DirEntry {
	var (
		entries []DirEntry
		pending []LFNFragment
	)
	for off := 0; off+DirEntrySize <= len(raw); off += DirEntrySize {
		rec := raw[off : off+DirEntrySize]
		switch rec[0] {
		case recordEnd:
			return entries
		case recordDeleted:
			continue
		}
		if rec[11] == AttrLongName {
			// Fragments are stored last-first, so each new one goes in front.
			pending = append([]LFNFragment{decodeLFN(rec)}, pending...)
			continue
		}
		entries = append(entries, DirEntry{Fragments: pending, Short: decodeShort(rec)})
		pending = nil
	}
	return entries
}

func decodeShort(rec []byte) ShortEntry {
	le := binary.LittleEndian
	var s ShortEntry
	copy(s.Name[:], rec[0:8])
	copy(s.Ext[:], rec[8:11])
	s.Attr = rec[11]
	s.NTReserved = rec[12]
	s.CreateTimeTenth = rec[13]
	s.CreateTime = le.Uint16(rec[14:16])
	s.CreateDate = le.Uint16(rec[16:18])
	s.AccessDate = le.Uint16(rec[18:20])
	s.ClusterHi = le.Uint16(rec[20:22])
	s.WriteTime = le.Uint16(rec[22:24])
	s.WriteDate = le.Uint16(rec[24:26])
	s.ClusterLo = le.Uint16(rec[26:28])
	s.FileSize = le.Uint32(rec[28:32])
	return s
}

func decodeLFN(rec []byte) LFNFragment {
	le := binary.LittleEndian
	f := LFNFragment{Order: rec[0], Checksum: rec[13]}
	n := 0
	for _, span := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := span[0]; i < span[1]; i += 2 {
			f.Units[n] = le.Uint16(rec[i : i+2])
			n++
		}
	}
	return f
}

// ShortName renders the 8.3 name in upper case, omitting the dot when the
// extension is blank.
func (e DirEntry) ShortName() string {
	name := e.Short.Name
	if name[0] == kanjiEscape {
		name[0] = recordDeleted
	}
	base := strings.TrimRight(string(asciiUpper(name[:])), " ")
	ext := strings.TrimRight(string(asciiUpper(e.Short.Ext[:])), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// asciiUpper folds a-z only; bytes above 0x7F belong to an OEM code page and
// are kept as they are.
func asciiUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// LongName joins the fragments and cuts at the first NUL. It is empty when
// the record has no long name.
func (e DirEntry) LongName() string {
	if len(e.Fragments) == 0 {
		return ""
	}
	units := make([]uint16, 0, 13*len(e.Fragments))
	for _, f := range e.Fragments {
		units = append(units, f.Units[:]...)
	}
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}

// Name is the long name when present, otherwise the 8.3 name.
func (e DirEntry) Name() string {
	if n := e.LongName(); n != "" {
		return n
	}
	return e.ShortName()
}

// Matches reports whether name equals either the long or the short name,
// ignoring case.
func (e DirEntry) Matches(name string) bool {
	if ln := e.LongName(); ln != "" && strings.EqualFold(ln, name) {
		return true
	}
	return strings.EqualFold(e.ShortName(), name)
}

// ChecksumValid reports whether every fragment carries the checksum of the
// short name it precedes.
func (e DirEntry) ChecksumValid() bool {
	sum := ShortNameChecksum(e.Short.Name, e.Short.Ext)
	for _, f := range e.Fragments {
		if f.Checksum != sum {
			return false
		}
	}
	return true
}

// ShortNameChecksum is the rotate-and-add checksum stored in long-name records.
func ShortNameChecksum(name [8]byte, ext [3]byte) uint8 {
	var sum uint8
	for _, b := range append(name[:], ext[:]...) {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}

func (e DirEntry) IsDir() bool         { return e.Short.Attr&AttrDirectory != 0 }
func (e DirEntry) IsVolumeLabel() bool { return e.Short.Attr&AttrVolumeID != 0 && !e.IsDir() }
func (e DirEntry) IsFile() bool        { return !e.IsDir() && !e.IsVolumeLabel() }
func (e DirEntry) IsHidden() bool      { return e.Short.Attr&AttrHidden != 0 }
func (e DirEntry) IsReadOnly() bool    { return e.Short.Attr&AttrReadOnly != 0 }

// IsDot reports the "." and ".." records of a subdirectory.
func (e DirEntry) IsDot() bool {
	n := e.ShortName()
	return e.IsDir() && (n == "." || n == "..")
}

// FirstCluster combines the high and low cluster halves.
func (e DirEntry) FirstCluster() uint32 {
	return uint32(e.Short.ClusterHi)<<16 | uint32(e.Short.ClusterLo)
}

// Size is the file size in bytes; directories report zero.
func (e DirEntry) Size() uint32 { return e.Short.FileSize }

// ModTime is the last write time.
func (e DirEntry) ModTime() time.Time {
	return decodeTimestamp(e.Short.WriteDate, e.Short.WriteTime, 0)
}

// Created is the creation time including the 10 ms refinement.
func (e DirEntry) Created() time.Time {
	return decodeTimestamp(e.Short.CreateDate, e.Short.CreateTime, e.Short.CreateTimeTenth)
}

// Accessed is the last access date.
func (e DirEntry) Accessed() time.Time {
	return decodeTimestamp(e.Short.AccessDate, 0, 0)
}
