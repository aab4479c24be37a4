// Package imageinspect summarizes the partition table and FAT volumes of a disk
// image, optionally cross-checking the partition reading against go-diskfs.
package imageinspect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/compression"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"go.uber.org/zap"
)

var log = logger.Logger()

// ImageSummary holds the summary information about an inspected disk image.
type ImageSummary struct {
	File           string                `json:"file,omitempty" yaml:"file,omitempty"`
	SHA256         string                `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SizeBytes      int64                 `json:"sizeBytes,omitempty" yaml:"sizeBytes,omitempty"`
	Compression    string                `json:"compression,omitempty" yaml:"compression,omitempty"`
	PartitionTable PartitionTableSummary `json:"partitionTable" yaml:"partitionTable"`
	CrossCheck     *CrossCheckSummary    `json:"crossCheck,omitempty" yaml:"crossCheck,omitempty"`
}

// PartitionTableSummary holds information about the GPT of the disk image.
type PartitionTableSummary struct {
	Type               string `json:"type" yaml:"type"`
	DiskGUID           string `json:"diskGuid,omitempty" yaml:"diskGuid,omitempty"`
	DiskSignature      string `json:"diskSignature,omitempty" yaml:"diskSignature,omitempty"`
	LogicalSectorSize  int64  `json:"logicalSectorSize" yaml:"logicalSectorSize"`
	PhysicalSectorSize int64  `json:"physicalSectorSize,omitempty" yaml:"physicalSectorSize,omitempty"`
	ProtectiveMBR      bool   `json:"protectiveMbr" yaml:"protectiveMbr"`

	FirstUsableLBA     uint64 `json:"firstUsableLba" yaml:"firstUsableLba"`
	LastUsableLBA      uint64 `json:"lastUsableLba" yaml:"lastUsableLba"`
	AlternateHeaderLBA uint64 `json:"alternateHeaderLba" yaml:"alternateHeaderLba"`
	EntryCount         uint32 `json:"entryCount" yaml:"entryCount"`
	EntrySize          uint32 `json:"entrySize" yaml:"entrySize"`
	EntryArrayCRCValid bool   `json:"entryArrayCrcValid" yaml:"entryArrayCrcValid"`

	Partitions []PartitionSummary `json:"partitions" yaml:"partitions"`

	LargestFreeSpan      *FreeSpanSummary `json:"largestFreeSpan,omitempty" yaml:"largestFreeSpan,omitempty"`
	MisalignedPartitions []int            `json:"misalignedPartitions,omitempty" yaml:"misalignedPartitions,omitempty"`
}

// FreeSpanSummary captures the largest unallocated extent of the usable area (by LBA).
type FreeSpanSummary struct {
	StartLBA  uint64 `json:"startLba" yaml:"startLba"`
	EndLBA    uint64 `json:"endLba" yaml:"endLba"`
	SizeBytes uint64 `json:"sizeBytes" yaml:"sizeBytes"`
}

// PartitionSummary holds information about a single used GPT entry.
type PartitionSummary struct {
	// Index is the 1-based partition number, i.e. the entry slot + 1.
	Index     int    `json:"index" yaml:"index"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Type      string `json:"type" yaml:"type"`
	TypeName  string `json:"typeName,omitempty" yaml:"typeName,omitempty"`
	GUID      string `json:"guid" yaml:"guid"`
	StartLBA  uint64 `json:"startLba" yaml:"startLba"`
	EndLBA    uint64 `json:"endLba" yaml:"endLba"`
	SizeBytes uint64 `json:"sizeBytes" yaml:"sizeBytes"`

	AttrRaw                uint64 `json:"attrRaw,omitempty" yaml:"attrRaw,omitempty"`
	AttrRequired           bool   `json:"attrRequired,omitempty" yaml:"attrRequired,omitempty"`
	AttrLegacyBIOSBootable bool   `json:"attrLegacyBiosBootable,omitempty" yaml:"attrLegacyBiosBootable,omitempty"`
	AttrReadOnly           bool   `json:"attrReadOnly,omitempty" yaml:"attrReadOnly,omitempty"`

	Filesystem *FilesystemSummary `json:"filesystem,omitempty" yaml:"filesystem,omitempty"` // nil if not FAT
}

// FilesystemSummary describes a FAT volume found on a partition.
type FilesystemSummary struct {
	Type    string `json:"type" yaml:"type"`
	FATType string `json:"fatType" yaml:"fatType"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	UUID    string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	// TypeHint is the informational file system type string of the boot sector.
	TypeHint string `json:"typeHint,omitempty" yaml:"typeHint,omitempty"`

	BytesPerSector    uint32 `json:"bytesPerSector" yaml:"bytesPerSector"`
	SectorsPerCluster uint32 `json:"sectorsPerCluster" yaml:"sectorsPerCluster"`
	ClusterCount      uint32 `json:"clusterCount" yaml:"clusterCount"`
	FATCount          uint32 `json:"fatCount" yaml:"fatCount"`
	SectorsPerFAT     uint32 `json:"sectorsPerFat" yaml:"sectorsPerFat"`
	RootCluster       uint32 `json:"rootCluster,omitempty" yaml:"rootCluster,omitempty"`

	// FAT32 FSInfo hints; nil when absent or invalid.
	FreeClusters *uint32 `json:"freeClusters,omitempty" yaml:"freeClusters,omitempty"`
	NextFree     *uint32 `json:"nextFree,omitempty" yaml:"nextFree,omitempty"`

	HasShim     bool                `json:"hasShim,omitempty" yaml:"hasShim,omitempty"`
	HasUKI      bool                `json:"hasUki,omitempty" yaml:"hasUki,omitempty"`
	EFIBinaries []EFIBinaryEvidence `json:"efiBinaries,omitempty" yaml:"efiBinaries,omitempty"`

	Notes []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Inspector reads an image with the in-tree partition and FAT readers.
type Inspector struct {
	HashImages bool
	CrossCheck bool
	// SectorSize overrides the probed logical sector size when non-zero.
	SectorSize uint32

	logger    *zap.SugaredLogger
	openTable tableOpener
}

// NewInspector returns an inspector using the shared logger.
func NewInspector(hash, crossCheck bool) *Inspector {
	return &Inspector{
		HashImages: hash,
		CrossCheck: crossCheck,
		logger:     logger.Logger(),
		openTable:  openDiskfsTable,
	}
}

// Inspect opens imagePath (raw or compressed) and summarizes it.
func (d *Inspector) Inspect(imagePath string) (*ImageSummary, error) {
	d.logger.Infof("Inspecting image: %s, hashImages=%v, crossCheck=%v", imagePath, d.HashImages, d.CrossCheck)

	fi, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	var opts []blockdev.Option
	if d.SectorSize != 0 {
		opts = append(opts, blockdev.WithSectorSize(d.SectorSize))
	}
	img, err := blockdev.OpenImage(imagePath, opts...)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	sha := ""
	if d.HashImages {
		d.logger.Infof("Computing SHA256 for image: %s", imagePath)
		sha, err = computeFileSHA256(imagePath)
		if err != nil {
			return nil, fmt.Errorf("sha256 image: %w", err)
		}
	}

	summary, err := d.inspectCore(img.Device, imagePath, fi.Size(), sha)
	if err != nil {
		return nil, err
	}
	summary.Compression = string(img.Compression)

	if d.CrossCheck {
		if img.Compression != compression.None {
			summary.CrossCheck = &CrossCheckSummary{
				Tool:    diskfsTool,
				Skipped: true,
				Notes:   []string{fmt.Sprintf("%s compressed images are not cross-checked", img.Compression)},
			}
		} else {
			summary.CrossCheck = d.crossCheck(imagePath, &summary.PartitionTable)
		}
	}
	return summary, nil
}

// inspectCore summarizes the GPT and every FAT volume on dev.
func (d *Inspector) inspectCore(dev *blockdev.Device, imagePath string, sizeBytes int64, sha256sum string) (*ImageSummary, error) {
	g, err := partition.Read(dev)
	if err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}

	pt := summarizePartitionTable(g)
	for i := range pt.Partitions {
		p := &pt.Partitions[i]
		view, _, err := g.Open(dev, p.Index)
		if err != nil {
			d.logger.Warnf("Partition %d: %v", p.Index, err)
			continue
		}
		fsum, err := inspectFAT(view)
		if err != nil {
			d.logger.Debugf("Partition %d holds no FAT volume: %v", p.Index, err)
			continue
		}
		p.Filesystem = fsum
	}

	return &ImageSummary{
		File:           imagePath,
		SHA256:         sha256sum,
		SizeBytes:      sizeBytes,
		PartitionTable: pt,
	}, nil
}

// summarizePartitionTable creates a PartitionTableSummary from a validated GPT.
func summarizePartitionTable(g *partition.GPT) PartitionTableSummary {
	h := g.Primary
	pt := PartitionTableSummary{
		Type:               "gpt",
		DiskGUID:           partition.FormatGUID(g.DiskGUID()),
		DiskSignature:      fmt.Sprintf("0x%08x", g.MBR.DiskSignature),
		LogicalSectorSize:  int64(g.BlockSize),
		ProtectiveMBR:      true,
		FirstUsableLBA:     h.FirstUsableLBA,
		LastUsableLBA:      h.LastUsableLBA,
		AlternateHeaderLBA: h.AlternateLBA,
		EntryCount:         h.EntryCount,
		EntrySize:          h.EntrySize,
		EntryArrayCRCValid: g.EntryArrayCRCValid,
		Partitions:         make([]PartitionSummary, 0),
	}

	for _, n := range g.Used() {
		e := n.Entry
		pt.Partitions = append(pt.Partitions, PartitionSummary{
			Index:                  n.Number,
			Name:                   e.Name(),
			Type:                   partition.FormatGUID(e.TypeGUID),
			TypeName:               partition.TypeName(e.TypeGUID),
			GUID:                   partition.FormatGUID(e.PartitionGUID),
			StartLBA:               e.StartLBA,
			EndLBA:                 e.EndLBA,
			SizeBytes:              e.SizeBytes(g.BlockSize),
			AttrRaw:                e.Attributes,
			AttrRequired:           e.Attributes&0x1 != 0,
			AttrLegacyBIOSBootable: e.Attributes&(1<<2) != 0,
			AttrReadOnly:           e.Attributes&(1<<60) != 0,
		})
	}

	pt.LargestFreeSpan = computeLargestFreeSpan(pt.Partitions, h.FirstUsableLBA, h.LastUsableLBA, int64(g.BlockSize))
	pt.MisalignedPartitions = findMisalignedPartitions(pt.Partitions, int64(g.BlockSize), pt.PhysicalSectorSize)
	return pt
}

// computeLargestFreeSpan returns the largest unallocated extent between first
// and last (inclusive), or nil when the usable area is fully allocated.
func computeLargestFreeSpan(parts []PartitionSummary, first, last uint64, logicalBlockSize int64) *FreeSpanSummary {
	if logicalBlockSize <= 0 || last < first {
		return nil
	}

	sorted := append([]PartitionSummary(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartLBA < sorted[j].StartLBA })

	var best *FreeSpanSummary
	next := first
	for _, p := range sorted {
		if p.EndLBA < next {
			continue
		}
		if p.StartLBA > next {
			best = pickLarger(best, buildSpan(next, min(p.StartLBA-1, last), logicalBlockSize))
		}
		next = p.EndLBA + 1
		if next > last {
			return best
		}
	}
	return pickLarger(best, buildSpan(next, last, logicalBlockSize))
}

func buildSpan(start, end uint64, logicalBlockSize int64) *FreeSpanSummary {
	if end < start {
		return nil
	}
	size := (end - start + 1) * uint64(logicalBlockSize)
	return &FreeSpanSummary{StartLBA: start, EndLBA: end, SizeBytes: size}
}

func pickLarger(cur, cand *FreeSpanSummary) *FreeSpanSummary {
	if cand == nil {
		return cur
	}
	if cur == nil || cand.SizeBytes > cur.SizeBytes {
		return cand
	}
	return cur
}

// findMisalignedPartitions returns partition numbers that are not aligned to
// the physical sector size or a 1MiB boundary (whichever is stricter).
func findMisalignedPartitions(parts []PartitionSummary, logicalBlockSize int64, physicalSectorSize int64) []int {
	if len(parts) == 0 || logicalBlockSize <= 0 {
		return nil
	}

	alignBytes := physicalSectorSize
	if alignBytes <= 0 {
		alignBytes = 4096
	}

	var out []int
	for _, p := range parts {
		startBytes := int64(p.StartLBA) * logicalBlockSize
		if startBytes%alignBytes != 0 || startBytes%(1024*1024) != 0 {
			out = append(out, p.Index)
		}
	}
	return out
}

func computeFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// volumeUUID renders a FAT volume serial the way blkid does.
func volumeUUID(id uint32) string {
	return fmt.Sprintf("%04X-%04X", id>>16, id&0xFFFF)
}

// fatTypeName is the upper-case variant name, e.g. FAT16.
func fatTypeName(v fat.Variant) string {
	return fmt.Sprintf("FAT%d", int(v))
}
