// Package fat is a read-only FAT12/FAT16/FAT32 driver. A Volume sits on top
// of a block device (usually a GPT partition view) and resolves absolute
// paths to file contents.
package fat

import (
	"fmt"

	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

var log = logger.Logger()

// Variant is the FAT flavour, derived only from the data cluster count.
type Variant int

const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

// Cluster count thresholds that separate the variants.
const (
	maxFAT12Clusters = 4085
	maxFAT16Clusters = 65524
)

// ClassifyClusters maps a data cluster count to its variant.
func ClassifyClusters(total uint32) Variant {
	switch {
	case total < maxFAT12Clusters:
		return FAT12
	case total < maxFAT16Clusters:
		return FAT16
	default:
		return FAT32
	}
}

func (v Variant) String() string {
	switch v {
	case FAT12:
		return "fat12"
	case FAT16:
		return "fat16"
	case FAT32:
		return "fat32"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Layout holds the sector arithmetic derived from the boot sector.
type Layout struct {
	BytesPerSector     uint32
	SectorsPerCluster  uint32
	ClusterSize        uint32
	FATCount           uint32
	SectorsPerFAT      uint32
	FirstFATSector     uint32
	RootDirSectors     uint32
	FirstRootDirSector uint32
	FirstDataSector    uint32
	TotalSectors       uint32
	DataSectors        uint32
	TotalClusters      uint32
	RootCluster        uint32
}

// MaxCluster is the highest valid data cluster number.
func (l Layout) MaxCluster() uint32 { return l.TotalClusters + 1 }

func computeLayout(bs *BootSector) (Layout, error) {
	l := Layout{
		BytesPerSector:    uint32(bs.BytesPerSector),
		SectorsPerCluster: uint32(bs.SectorsPerCluster),
		FATCount:          uint32(bs.FATCount),
		SectorsPerFAT:     bs.SectorsPerFAT(),
		FirstFATSector:    uint32(bs.ReservedSectors),
		TotalSectors:      bs.TotalSectors(),
	}
	l.ClusterSize = l.BytesPerSector * l.SectorsPerCluster
	l.RootDirSectors = (uint32(bs.RootEntryCount)*32 + l.BytesPerSector - 1) / l.BytesPerSector
	l.FirstDataSector = l.FirstFATSector + l.FATCount*l.SectorsPerFAT + l.RootDirSectors
	l.FirstRootDirSector = l.FirstDataSector - l.RootDirSectors
	if l.FirstDataSector >= l.TotalSectors {
		return l, fmt.Errorf("%w: data region starts at sector %d of %d",
			ErrInvalidBootSector, l.FirstDataSector, l.TotalSectors)
	}
	l.DataSectors = l.TotalSectors - l.FirstDataSector
	l.TotalClusters = l.DataSectors / l.SectorsPerCluster
	if bs.EBPB32 != nil {
		l.RootCluster = bs.EBPB32.RootCluster
	}
	return l, nil
}

// Volume is an opened FAT file system.
type Volume struct {
	dev     *blockdev.Device
	boot    *BootSector
	layout  Layout
	variant Variant
	fsInfo  *FSInfo
}

// Open reads the boot sector of r and prepares the volume for lookups.
func Open(r blockdev.Reader) (*Volume, error) {
	dev, err := blockdev.New(r)
	if err != nil {
		return nil, err
	}
	raw, err := dev.ReadBytes(0, bootSectorSize)
	if err != nil {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	bs, err := DecodeBootSector(raw)
	if err != nil {
		return nil, err
	}
	layout, err := computeLayout(bs)
	if err != nil {
		return nil, err
	}
	v := &Volume{
		dev:     dev,
		boot:    bs,
		layout:  layout,
		variant: ClassifyClusters(layout.TotalClusters),
	}

	// The cluster count decides the variant; the extended BPB shape must agree
	// because the root directory location depends on it.
	if (v.variant == FAT32) != (bs.EBPB32 != nil) {
		return nil, fmt.Errorf("%w: %d clusters classify as %s but the BPB has the %s layout",
			ErrInvalidBootSector, layout.TotalClusters, v.variant, shapeName(bs))
	}
	if v.variant == FAT32 && (layout.RootCluster < 2 || layout.RootCluster > layout.MaxCluster()) {
		return nil, fmt.Errorf("%w: root cluster %d", ErrInvalidBootSector, layout.RootCluster)
	}
	if hint := bs.FSTypeHint(); hint != "" && hint != "FAT" && hint != fsTypeString(v.variant) {
		log.Warnf("FAT type string %q disagrees with cluster count (%s)", hint, v.variant)
	}
	if v.variant == FAT32 {
		v.loadFSInfo()
	}

	log.Debugf("opened %s volume: %d clusters of %d bytes, label %q",
		v.variant, layout.TotalClusters, layout.ClusterSize, bs.Label())
	return v, nil
}

func (v *Volume) loadFSInfo() {
	sector := v.boot.EBPB32.FSInfoSector
	if sector == 0 || sector == 0xFFFF || uint32(sector) >= v.layout.FirstFATSector {
		return
	}
	raw, err := v.dev.ReadBytes(uint64(sector)*uint64(v.layout.BytesPerSector), 512)
	if err != nil {
		log.Warnf("read FSInfo sector %d: %v", sector, err)
		return
	}
	fi, err := DecodeFSInfo(raw)
	if err != nil {
		log.Warnf("decode FSInfo sector %d: %v", sector, err)
		return
	}
	if !fi.Valid() {
		log.Warnf("FSInfo sector %d has bad signatures, ignoring", sector)
		return
	}
	v.fsInfo = fi
}

func shapeName(bs *BootSector) string {
	if bs.EBPB32 != nil {
		return "FAT32"
	}
	return "FAT12/16"
}

func fsTypeString(v Variant) string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	}
	return "FAT32"
}

// Variant reports the FAT flavour of the volume.
func (v *Volume) Variant() Variant { return v.variant }

// BootSector returns the decoded boot sector.
func (v *Volume) BootSector() *BootSector { return v.boot }

// FSTypeHint is the informational type string from the boot sector.
func (v *Volume) FSTypeHint() string { return v.boot.FSTypeHint() }

// Layout returns the derived sector layout.
func (v *Volume) Layout() Layout { return v.layout }

// Label is the volume label from the boot sector.
func (v *Volume) Label() string { return v.boot.Label() }

// VolumeID is the volume serial number.
func (v *Volume) VolumeID() uint32 { return v.boot.VolumeID() }

// FSInfo returns the FAT32 allocation hints, or nil when absent or invalid.
func (v *Volume) FSInfo() *FSInfo { return v.fsInfo }

// SizeBytes is the size of the file system as recorded in the boot sector.
func (v *Volume) SizeBytes() uint64 {
	return uint64(v.layout.TotalSectors) * uint64(v.layout.BytesPerSector)
}
