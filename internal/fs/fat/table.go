package fat

import (
	"encoding/binary"
	"fmt"
)

// EntryKind classifies a raw FAT entry value.
type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryReserved
	EntryNext
	EntryBad
	EntryEndOfChain
)

func (k EntryKind) String() string {
	switch k {
	case EntryFree:
		return "free"
	case EntryReserved:
		return "reserved"
	case EntryNext:
		return "next"
	case EntryBad:
		return "bad"
	case EntryEndOfChain:
		return "end-of-chain"
	}
	return fmt.Sprintf("EntryKind(%d)", int(k))
}

// Classify interprets a raw FAT entry value for this variant.
func (v Variant) Classify(value uint32) EntryKind {
	var bad uint32
	switch v {
	case FAT12:
		value &= 0xFFF
		bad = 0xFF7
	case FAT16:
		value &= 0xFFFF
		bad = 0xFFF7
	default:
		value &= 0x0FFFFFFF
		bad = 0x0FFFFFF7
	}
	switch {
	case value == 0:
		return EntryFree
	case value == 1:
		return EntryReserved
	case value == bad:
		return EntryBad
	case value > bad:
		return EntryEndOfChain
	}
	return EntryNext
}

// FATEntry reads the raw entry for cluster c from the first FAT copy. FAT32
// entries are masked to 28 bits.
func (v *Volume) FATEntry(c uint32) (uint32, error) {
	if c > v.layout.MaxCluster() {
		return 0, fmt.Errorf("%w: %d > %d", ErrClusterRange, c, v.layout.MaxCluster())
	}
	base := uint64(v.layout.FirstFATSector) * uint64(v.layout.BytesPerSector)
	switch v.variant {
	case FAT12:
		// 12-bit entries are packed in pairs; a 16-bit read at c + c/2 always
		// covers the entry, even when it straddles a sector boundary.
		b, err := v.dev.ReadBytes(base+uint64(c)+uint64(c/2), 2)
		if err != nil {
			return 0, err
		}
		w := binary.LittleEndian.Uint16(b)
		if c%2 == 0 {
			return uint32(w & 0x0FFF), nil
		}
		return uint32(w >> 4), nil
	case FAT16:
		b, err := v.dev.ReadBytes(base+uint64(c)*2, 2)
		if err != nil {
			return 0, err
		}
		return uint32(binary.LittleEndian.Uint16(b)), nil
	default:
		b, err := v.dev.ReadBytes(base+uint64(c)*4, 4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b) & 0x0FFFFFFF, nil
	}
}

// NextCluster returns the cluster that follows c. ok is false when the chain
// ends, which covers end-of-chain, free and reserved entries. A bad-cluster
// marker ends the chain with ErrBadCluster.
func (v *Volume) NextCluster(c uint32) (next uint32, ok bool, err error) {
	if c < 2 {
		return 0, false, nil
	}
	value, err := v.FATEntry(c)
	if err != nil {
		return 0, false, err
	}
	switch v.variant.Classify(value) {
	case EntryNext:
		if value > v.layout.MaxCluster() {
			return 0, false, fmt.Errorf("cluster %d links to %d: %w", c, value, ErrClusterRange)
		}
		return value, true, nil
	case EntryBad:
		return 0, false, fmt.Errorf("cluster %d: %w", c, ErrBadCluster)
	default:
		return 0, false, nil
	}
}

// ReadCluster returns the contents of data cluster c.
func (v *Volume) ReadCluster(c uint32) ([]byte, error) {
	if c < 2 || c > v.layout.MaxCluster() {
		return nil, fmt.Errorf("%w: %d", ErrClusterRange, c)
	}
	sector := uint64(c-2)*uint64(v.layout.SectorsPerCluster) + uint64(v.layout.FirstDataSector)
	return v.dev.ReadBytes(sector*uint64(v.layout.BytesPerSector), int(v.layout.ClusterSize))
}

// Chain lists the clusters of the chain that starts at start. A start below 2
// is an empty chain.
func (v *Volume) Chain(start uint32) ([]uint32, error) {
	if start < 2 {
		return nil, nil
	}
	var chain []uint32
	seen := make(map[uint32]struct{})
	for c, ok := start, true; ok; {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("cluster %d revisited after %d clusters: %w", c, len(chain), ErrClusterLoop)
		}
		seen[c] = struct{}{}
		chain = append(chain, c)

		var err error
		c, ok, err = v.NextCluster(c)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// ReadClusterChain concatenates every cluster of the chain starting at start.
func (v *Volume) ReadClusterChain(start uint32) ([]byte, error) {
	return v.readChain(start, -1)
}

// readChain stops early once limit bytes are available; a negative limit reads
// the whole chain.
func (v *Volume) readChain(start uint32, limit int64) ([]byte, error) {
	chain, err := v.Chain(start)
	if err != nil {
		return nil, err
	}
	capacity := int64(len(chain)) * int64(v.layout.ClusterSize)
	if limit >= 0 && limit < capacity {
		capacity = limit
	}
	out := make([]byte, 0, capacity)
	for _, c := range chain {
		if limit >= 0 && int64(len(out)) >= limit {
			break
		}
		data, err := v.ReadCluster(c)
		if err != nil {
			return nil, fmt.Errorf("read cluster %d: %w", c, err)
		}
		out = append(out, data...)
	}
	return out, nil
}
