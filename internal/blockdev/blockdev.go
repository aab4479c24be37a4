// Package blockdev provides the raw, read-only block device capability that the
// partition and file system readers are built on.
package blockdev

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for reads that extend past the last block.
	ErrOutOfRange = errors.New("read beyond end of device")
	// ErrShortRead is returned when the backing store returns fewer bytes than requested.
	ErrShortRead = errors.New("short read")
)

// Geometry describes the fixed properties of a device.
type Geometry struct {
	SectorSize uint32 `json:"sectorSize" yaml:"sectorSize"`
	BlockSize  uint32 `json:"blockSize" yaml:"blockSize"`
	LastBlock  uint64 `json:"lastBlock" yaml:"lastBlock"`
	MediaID    uint32 `json:"mediaId" yaml:"mediaId"`
}

// SizeBytes is the addressable size of the device.
func (g Geometry) SizeBytes() uint64 {
	return (g.LastBlock + 1) * uint64(g.BlockSize)
}

func (g Geometry) validate() error {
	if g.SectorSize == 0 || g.BlockSize == 0 {
		return fmt.Errorf("invalid geometry: sectorSize=%d blockSize=%d", g.SectorSize, g.BlockSize)
	}
	return nil
}

// Reader is the raw read contract consumed by the partition and FAT readers.
//
//go:generate mockgen -destination=mock_blockdev/mock_reader.go -package=mock_blockdev . Reader
type Reader interface {
	Geometry() Geometry
	ReadBytes(offset uint64, count int) ([]byte, error)
}

// Device adds sector and block addressed reads on top of a Reader.
type Device struct {
	r   Reader
	geo Geometry
}

// New wraps r. The geometry is queried once.
func New(r Reader) (*Device, error) {
	if d, ok := r.(*Device); ok {
		return d, nil
	}
	geo := r.Geometry()
	if err := geo.validate(); err != nil {
		return nil, err
	}
	return &Device{r: r, geo: geo}, nil
}

func (d *Device) Geometry() Geometry { return d.geo }

func (d *Device) ReadBytes(offset uint64, count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative read count %d", count)
	}
	return d.r.ReadBytes(offset, count)
}

// ReadSector reads sector n.
func (d *Device) ReadSector(n uint64) ([]byte, error) {
	return d.ReadSectors(n, 1)
}

// ReadSectors reads count consecutive sectors starting at n.
func (d *Device) ReadSectors(n uint64, count uint32) ([]byte, error) {
	ss := uint64(d.geo.SectorSize)
	return d.ReadBytes(n*ss, int(uint64(count)*ss))
}

// ReadBlock reads logical block lba.
func (d *Device) ReadBlock(lba uint64) ([]byte, error) {
	return d.ReadBlocks(lba, 1)
}

// ReadBlocks reads count consecutive logical blocks starting at lba.
func (d *Device) ReadBlocks(lba uint64, count uint64) ([]byte, error) {
	bs := uint64(d.geo.BlockSize)
	return d.ReadBytes(lba*bs, int(count*bs))
}

// Partition returns a view of the blocks [startLBA, endLBA]. Offsets passed to
// the view are relative to the partition start.
func (d *Device) Partition(startLBA, endLBA uint64) (*Device, error) {
	if endLBA < startLBA || endLBA > d.geo.LastBlock {
		return nil, fmt.Errorf("partition range %d-%d outside device (last block %d): %w",
			startLBA, endLBA, d.geo.LastBlock, ErrOutOfRange)
	}
	geo := d.geo
	geo.LastBlock = endLBA - startLBA
	return &Device{
		r: &offsetReader{
			parent: d,
			base:   startLBA * uint64(d.geo.BlockSize),
			geo:    geo,
		},
		geo: geo,
	}, nil
}

type offsetReader struct {
	parent Reader
	base   uint64
	geo    Geometry
}

func (o *offsetReader) Geometry() Geometry { return o.geo }

func (o *offsetReader) ReadBytes(offset uint64, count int) ([]byte, error) {
	if err := checkRange(o.geo, offset, count); err != nil {
		return nil, err
	}
	return o.parent.ReadBytes(o.base+offset, count)
}

func checkRange(geo Geometry, offset uint64, count int) error {
	end := offset + uint64(count)
	if end < offset || end > geo.SizeBytes() {
		return fmt.Errorf("offset %d count %d (device %d bytes): %w", offset, count, geo.SizeBytes(), ErrOutOfRange)
	}
	return nil
}
