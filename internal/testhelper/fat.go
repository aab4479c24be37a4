package testhelper

import (
	"encoding/binary"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf16"
)

// FAT variants understood by the builder.
const (
	FAT12 = 12
	FAT16 = 16
	FAT32 = 32
)

// FATFile is a file or directory placed in a generated volume.
type FATFile struct {
	Path    string
	Data    []byte
	Dir     bool
	ModTime time.Time
}

// FATVolume describes a generated FAT volume. Zero fields take defaults that
// produce a volume of the requested variant.
type FATVolume struct {
	Variant           int
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	RootEntries       uint16
	TotalSectors      uint32
	Label             string
	VolumeID          uint32
	// Stride spaces allocated clusters apart so chains are not contiguous.
	Stride int
	Files  []FATFile
}

// FATImage is a rendered volume plus the layout needed to poke at it.
type FATImage struct {
	Bytes             []byte
	Variant           int
	BytesPerSector    uint32
	SectorsPerCluster uint32
	FATOffset         uint64
	FATBytes          uint64
	FATCount          int
	RootDirOffset     uint64
	DataOffset        uint64
	TotalClusters     uint32
	RootCluster       uint32
	// Clusters maps each path (and "/" for a FAT32 root) to its chain.
	Clusters map[string][]uint32
}

// DefaultModTime is stamped on entries without an explicit ModTime.
var DefaultModTime = time.Date(2024, time.March, 15, 12, 34, 56, 0, time.UTC)

type node struct {
	name     string
	dir      bool
	data     []byte
	mod      time.Time
	children []*node
	clusters []uint32
	short    [11]byte
	path     string
}

func (v *FATVolume) defaults() error {
	if v.BytesPerSector == 0 {
		v.BytesPerSector = 512
	}
	if v.SectorsPerCluster == 0 {
		v.SectorsPerCluster = 1
	}
	if v.FATCount == 0 {
		v.FATCount = 2
	}
	if v.Stride <= 0 {
		v.Stride = 1
	}
	if v.VolumeID == 0 {
		v.VolumeID = 0x1A2B3C4D
	}
	switch v.Variant {
	case FAT12:
		if v.ReservedSectors == 0 {
			v.ReservedSectors = 1
		}
		if v.RootEntries == 0 {
			v.RootEntries = 64
		}
		if v.TotalSectors == 0 {
			v.TotalSectors = 2048
		}
	case FAT16:
		if v.ReservedSectors == 0 {
			v.ReservedSectors = 1
		}
		if v.RootEntries == 0 {
			v.RootEntries = 512
		}
		if v.TotalSectors == 0 {
			v.TotalSectors = 8400
		}
	case FAT32:
		if v.ReservedSectors == 0 {
			v.ReservedSectors = 32
		}
		v.RootEntries = 0
		if v.TotalSectors == 0 {
			v.TotalSectors = 67200
		}
	default:
		return fmt.Errorf("unsupported FAT variant %d", v.Variant)
	}
	return nil
}

// Build renders the volume.
func (v FATVolume) Build() (*FATImage, error) {
	if err := v.defaults(); err != nil {
		return nil, err
	}
	bps := uint64(v.BytesPerSector)
	spc := uint64(v.SectorsPerCluster)
	rootDirSectors := (uint64(v.RootEntries)*32 + bps - 1) / bps

	// settle sectors-per-FAT against the cluster count it must describe
	var spf, clusters uint64
	for i := 0; i < 16; i++ {
		meta := uint64(v.ReservedSectors) + uint64(v.FATCount)*spf + rootDirSectors
		if meta >= uint64(v.TotalSectors) {
			return nil, fmt.Errorf("volume of %d sectors too small", v.TotalSectors)
		}
		clusters = (uint64(v.TotalSectors) - meta) / spc
		need := ((clusters+2)*uint64(v.Variant)/8 + 1 + bps - 1) / bps
		if need == spf {
			break
		}
		spf = need
	}
	switch {
	case v.Variant == FAT12 && clusters >= 4085,
		v.Variant == FAT16 && (clusters < 4085 || clusters >= 65525),
		v.Variant == FAT32 && clusters < 65525:
		return nil, fmt.Errorf("geometry yields %d clusters, not FAT%d", clusters, v.Variant)
	}

	img := &FATImage{
		Bytes:             make([]byte, uint64(v.TotalSectors)*bps),
		Variant:           v.Variant,
		BytesPerSector:    uint32(bps),
		SectorsPerCluster: uint32(spc),
		FATOffset:         uint64(v.ReservedSectors) * bps,
		FATBytes:          spf * bps,
		FATCount:          int(v.FATCount),
		TotalClusters:     uint32(clusters),
		Clusters:          map[string][]uint32{},
	}
	img.RootDirOffset = img.FATOffset + uint64(v.FATCount)*img.FATBytes
	img.DataOffset = img.RootDirOffset + rootDirSectors*bps

	root, err := buildTree(v.Files)
	if err != nil {
		return nil, err
	}

	clusterBytes := bps * spc
	next := uint32(2)
	alloc := func(n uint64) ([]uint32, error) {
		var out []uint32
		for i := uint64(0); i < n; i++ {
			if uint64(next) >= clusters+2 {
				return nil, fmt.Errorf("volume full")
			}
			out = append(out, next)
			next += uint32(v.Stride)
		}
		return out, nil
	}

	var assign func(n *node) error
	assign = func(n *node) error {
		var size uint64
		if n.dir {
			size = uint64(dirRecords(n)) * 32
			if size == 0 {
				size = 32
			}
		} else {
			size = uint64(len(n.data))
		}
		if size > 0 {
			c, err := alloc((size + clusterBytes - 1) / clusterBytes)
			if err != nil {
				return err
			}
			n.clusters = c
			img.Clusters[n.path] = c
		}
		for _, ch := range n.children {
			if err := assign(ch); err != nil {
				return err
			}
		}
		return nil
	}

	if v.Variant == FAT32 {
		root.path = "/"
		if err := assign(root); err != nil {
			return nil, err
		}
		img.RootCluster = root.clusters[0]
	} else {
		if dirRecords(root) > int(v.RootEntries) {
			return nil, fmt.Errorf("root directory needs %d records, has %d", dirRecords(root), v.RootEntries)
		}
		for _, ch := range root.children {
			if err := assign(ch); err != nil {
				return nil, err
			}
		}
	}

	img.SetEntry(0, 0x0FFFFF00|0xF8)
	img.SetEntry(1, img.EOC())
	var link func(n *node)
	link = func(n *node) {
		for i, c := range n.clusters {
			if i+1 < len(n.clusters) {
				img.SetEntry(c, n.clusters[i+1])
			} else {
				img.SetEntry(c, img.EOC())
			}
		}
		for _, ch := range n.children {
			link(ch)
		}
	}
	link(root)

	var write func(n *node, parent *node)
	write = func(n *node, parent *node) {
		if n.dir {
			recs := dirBytes(n, parent, v.Label)
			if n == root && v.Variant != FAT32 {
				copy(img.Bytes[img.RootDirOffset:], recs)
			} else {
				img.writeChain(n.clusters, recs)
			}
			for _, ch := range n.children {
				write(ch, n)
			}
			return
		}
		img.writeChain(n.clusters, n.data)
	}
	write(root, nil)

	v.writeBootSector(img, spf, root)
	return img, nil
}

// EOC is the end-of-chain value written by the builder.
func (img *FATImage) EOC() uint32 {
	switch img.Variant {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// BadCluster is the bad-cluster sentinel for the variant.
func (img *FATImage) BadCluster() uint32 {
	switch img.Variant {
	case FAT12:
		return 0xFF7
	case FAT16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

// SetEntry writes value into every FAT copy for cluster c.
func (img *FATImage) SetEntry(c uint32, value uint32) {
	for i := 0; i < img.FATCount; i++ {
		fat := img.Bytes[img.FATOffset+uint64(i)*img.FATBytes:]
		switch img.Variant {
		case FAT12:
			off := c + c/2
			w := binary.LittleEndian.Uint16(fat[off:])
			if c%2 == 0 {
				w = (w & 0xF000) | uint16(value&0x0FFF)
			} else {
				w = (w & 0x000F) | uint16(value&0x0FFF)<<4
			}
			binary.LittleEndian.PutUint16(fat[off:], w)
		case FAT16:
			binary.LittleEndian.PutUint16(fat[c*2:], uint16(value))
		default:
			old := binary.LittleEndian.Uint32(fat[c*4:])
			binary.LittleEndian.PutUint32(fat[c*4:], (old&0xF0000000)|(value&0x0FFFFFFF))
		}
	}
}

// ClusterOffset is the byte offset of cluster c.
func (img *FATImage) ClusterOffset(c uint32) uint64 {
	return img.DataOffset + uint64(c-2)*uint64(img.BytesPerSector*img.SectorsPerCluster)
}

func (img *FATImage) writeChain(chain []uint32, data []byte) {
	cb := int(img.BytesPerSector * img.SectorsPerCluster)
	for i, c := range chain {
		lo := i * cb
		if lo >= len(data) {
			break
		}
		hi := lo + cb
		if hi > len(data) {
			hi = len(data)
		}
		copy(img.Bytes[img.ClusterOffset(c):], data[lo:hi])
	}
}

func (v FATVolume) writeBootSector(img *FATImage, spf uint64, root *node) {
	b := img.Bytes
	copy(b[0:3], []byte{0xEB, 0x3C, 0x90})
	copy(b[3:11], "MSWIN4.1")
	binary.LittleEndian.PutUint16(b[11:13], v.BytesPerSector)
	b[13] = v.SectorsPerCluster
	binary.LittleEndian.PutUint16(b[14:16], v.ReservedSectors)
	b[16] = v.FATCount
	binary.LittleEndian.PutUint16(b[17:19], v.RootEntries)
	if v.Variant != FAT32 && v.TotalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(b[19:21], uint16(v.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(b[32:36], v.TotalSectors)
	}
	b[21] = 0xF8
	binary.LittleEndian.PutUint16(b[24:26], 32)
	binary.LittleEndian.PutUint16(b[26:28], 64)

	label := padName(v.Label, 11)
	if v.Label == "" {
		label = padName("NO NAME", 11)
	}
	if v.Variant == FAT32 {
		binary.LittleEndian.PutUint32(b[36:40], uint32(spf))
		binary.LittleEndian.PutUint32(b[44:48], root.clusters[0])
		binary.LittleEndian.PutUint16(b[48:50], 1)
		binary.LittleEndian.PutUint16(b[50:52], 6)
		b[64] = 0x80
		b[66] = 0x29
		binary.LittleEndian.PutUint32(b[67:71], v.VolumeID)
		copy(b[71:82], label)
		copy(b[82:90], "FAT32   ")

		fsi := b[uint64(v.BytesPerSector):]
		binary.LittleEndian.PutUint32(fsi[0:4], 0x41615252)
		binary.LittleEndian.PutUint32(fsi[484:488], 0x61417272)
		binary.LittleEndian.PutUint32(fsi[488:492], img.TotalClusters-uint32(len(img.allClusters())))
		binary.LittleEndian.PutUint32(fsi[492:496], 2)
		binary.LittleEndian.PutUint32(fsi[508:512], 0xAA550000)
	} else {
		binary.LittleEndian.PutUint16(b[22:24], uint16(spf))
		b[36] = 0x80
		b[38] = 0x29
		binary.LittleEndian.PutUint32(b[39:43], v.VolumeID)
		copy(b[43:54], label)
		copy(b[54:62], fmt.Sprintf("FAT%d   ", v.Variant))
	}
	b[510], b[511] = 0x55, 0xAA
}

func (img *FATImage) allClusters() []uint32 {
	var all []uint32
	for _, c := range img.Clusters {
		all = append(all, c...)
	}
	return all
}

func buildTree(files []FATFile) (*node, error) {
	root := &node{dir: true, path: "/"}
	index := map[string]*node{"/": root}

	var ensureDir func(p string) (*node, error)
	ensureDir = func(p string) (*node, error) {
		if n, ok := index[p]; ok {
			if !n.dir {
				return nil, fmt.Errorf("%s is a file", p)
			}
			return n, nil
		}
		parent, err := ensureDir(path.Dir(p))
		if err != nil {
			return nil, err
		}
		n := &node{name: path.Base(p), dir: true, mod: DefaultModTime, path: p}
		parent.children = append(parent.children, n)
		index[p] = n
		return n, nil
	}

	for _, f := range files {
		p := path.Clean("/" + f.Path)
		if p == "/" {
			continue
		}
		if f.Dir {
			n, err := ensureDir(p)
			if err != nil {
				return nil, err
			}
			if !f.ModTime.IsZero() {
				n.mod = f.ModTime
			}
			continue
		}
		if _, dup := index[p]; dup {
			return nil, fmt.Errorf("duplicate path %s", p)
		}
		parent, err := ensureDir(path.Dir(p))
		if err != nil {
			return nil, err
		}
		mod := f.ModTime
		if mod.IsZero() {
			mod = DefaultModTime
		}
		n := &node{name: path.Base(p), data: f.Data, mod: mod, path: p}
		parent.children = append(parent.children, n)
		index[p] = n
	}

	var names func(n *node)
	names = func(n *node) {
		used := map[string]bool{}
		for _, ch := range n.children {
			ch.short = shortName(ch.name, used)
			names(ch)
		}
	}
	names(root)
	return root, nil
}

// dirRecords counts the 32-byte records a directory needs, excluding the
// label record and dot entries.
func dirRecords(n *node) int {
	count := 0
	if n.path != "/" {
		count += 2
	}
	for _, ch := range n.children {
		count += 1 + lfnCount(ch)
	}
	if n.path == "/" {
		count++ // room for a label
	}
	return count
}

func lfnCount(n *node) int {
	if needsLFN(n.name) {
		return (len(utf16.Encode([]rune(n.name))) + 12) / 13
	}
	return 0
}

func dirBytes(n, parent *node, label string) []byte {
	var out []byte
	if n.path == "/" && label != "" {
		rec := make([]byte, 32)
		copy(rec[0:11], padName(strings.ToUpper(label), 11))
		rec[11] = 0x08
		out = append(out, rec...)
	}
	if n.path != "/" {
		var dot, dotdot [11]byte
		copy(dot[:], padName(".", 11))
		copy(dotdot[:], padName("..", 11))
		parentCluster := uint32(0)
		if parent != nil && parent.path != "/" {
			parentCluster = parent.clusters[0]
		}
		out = append(out, shortRecord(dot, true, n.clusters[0], 0, n.mod)...)
		out = append(out, shortRecord(dotdot, true, parentCluster, 0, n.mod)...)
	}
	for _, ch := range n.children {
		if needsLFN(ch.name) {
			out = append(out, lfnRecords(ch.name, ch.short)...)
		}
		first := uint32(0)
		if len(ch.clusters) > 0 {
			first = ch.clusters[0]
		}
		out = append(out, shortRecord(ch.short, ch.dir, first, uint32(len(ch.data)), ch.mod)...)
	}
	return out
}

func shortRecord(name [11]byte, dir bool, cluster, size uint32, mod time.Time) []byte {
	rec := make([]byte, 32)
	copy(rec[0:11], name[:])
	if dir {
		rec[11] = 0x10
	} else {
		rec[11] = 0x20
	}
	d, t := FATDateTime(mod)
	binary.LittleEndian.PutUint16(rec[14:16], t)
	binary.LittleEndian.PutUint16(rec[16:18], d)
	binary.LittleEndian.PutUint16(rec[18:20], d)
	binary.LittleEndian.PutUint16(rec[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(rec[22:24], t)
	binary.LittleEndian.PutUint16(rec[24:26], d)
	binary.LittleEndian.PutUint16(rec[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(rec[28:32], size)
	return rec
}

// FATDateTime packs t into FAT date and time fields with two-second
// resolution. Years outside 1980..2107 are clamped.
func FATDateTime(t time.Time) (date, clock uint16) {
	t = t.UTC()
	year := t.Year()
	switch {
	case year < 1980:
		return 1<<5 | 1, 0
	case year > 2107:
		year = 2107
	}
	date = uint16(year-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	clock = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, clock
}

// LFNRecords renders the long-name records for name in on-disk order.
func LFNRecords(name string, short [11]byte) []byte {
	return lfnRecords(name, short)
}

func lfnRecords(name string, short [11]byte) []byte {
	units := utf16.Encode([]rune(name))
	count := (len(units) + 12) / 13
	padded := make([]uint16, count*13)
	for i := range padded {
		switch {
		case i < len(units):
			padded[i] = units[i]
		case i == len(units):
			padded[i] = 0x0000
		default:
			padded[i] = 0xFFFF
		}
	}
	sum := ShortNameChecksum(short)
	var out []byte
	for seq := count; seq >= 1; seq-- {
		rec := make([]byte, 32)
		rec[0] = byte(seq)
		if seq == count {
			rec[0] |= 0x40
		}
		rec[11] = 0x0F
		rec[13] = sum
		chunk := padded[(seq-1)*13 : seq*13]
		offsets := []int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}
		for i, off := range offsets {
			binary.LittleEndian.PutUint16(rec[off:], chunk[i])
		}
		out = append(out, rec...)
	}
	return out
}

// ShortNameChecksum is the VFAT checksum of an 11-byte short name.
func ShortNameChecksum(name [11]byte) byte {
	var sum byte
	for _, c := range name {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

func needsLFN(name string) bool {
	base, ext, dot := strings.Cut(name, ".")
	if dot && strings.Contains(ext, ".") {
		return true
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return true
	}
	for _, r := range base + ext {
		if !valid83(r) {
			return true
		}
	}
	return false
}

func valid83(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'()-@^_`{}~", r):
		return true
	}
	return false
}

func shortName(name string, used map[string]bool) [11]byte {
	var out [11]byte
	if !needsLFN(name) {
		base, ext, _ := strings.Cut(name, ".")
		copy(out[:], padName(base, 8)+padName(ext, 3))
		used[string(out[:])] = true
		return out
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	clean := func(s string, n int) string {
		var sb strings.Builder
		for _, r := range strings.ToUpper(s) {
			if sb.Len() == n {
				break
			}
			if valid83(r) {
				sb.WriteRune(r)
			}
		}
		return sb.String()
	}
	b, e := clean(base, 6), clean(ext, 3)
	if b == "" {
		b = "FILE"
	}
	for i := 1; ; i++ {
		cand := padName(fmt.Sprintf("%s~%d", b, i), 8) + padName(e, 3)
		if !used[cand] {
			used[cand] = true
			copy(out[:], cand)
			return out
		}
	}
}

func padName(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// SortedPaths returns the keys of the cluster map in order, for stable test output.
func (img *FATImage) SortedPaths() []string {
	out := make([]string, 0, len(img.Clusters))
	for p := range img.Clusters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
