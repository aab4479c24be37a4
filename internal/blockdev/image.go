package blockdev

import (
	"bytes"
	"fmt"
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/compression"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

const (
	defaultSectorSize = 512
	// maxInMemoryImage bounds decompression of packed images.
	maxInMemoryImage = 8 << 30
)

// Image is a disk image file opened as a read-only device.
type Image struct {
	*Device
	Path        string
	Compression compression.Format

	file *os.File
}

type imageOptions struct {
	sectorSize uint32
	mediaID    uint32
}

// Option adjusts how an image is opened.
type Option func(*imageOptions)

// WithSectorSize overrides the probed logical sector size.
func WithSectorSize(n uint32) Option {
	return func(o *imageOptions) { o.sectorSize = n }
}

// WithMediaID sets the media identifier reported in the geometry.
func WithMediaID(id uint32) Option {
	return func(o *imageOptions) { o.mediaID = id }
}

// OpenImage opens a raw, gzip, zstd or xz disk image. Raw images are read in
// place; compressed images are unpacked into memory.
func OpenImage(path string, opts ...Option) (*Image, error) {
	log := logger.Logger()

	var o imageOptions
	for _, opt := range opts {
		opt(&o)
	}

	format, err := compression.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	if format != compression.None {
		log.Infof("Image %s is %s compressed, unpacking into memory", path, format)
		data, _, err := compression.DecompressFile(path, maxInMemoryImage)
		if err != nil {
			return nil, err
		}
		ss := o.sectorSize
		if ss == 0 {
			ss = defaultSectorSize
		}
		dev, err := NewReaderAt(bytes.NewReader(data), int64(len(data)), ss, ss, o.mediaID)
		if err != nil {
			return nil, err
		}
		return &Image{Device: dev, Path: path, Compression: format}, nil
	}

	ss := o.sectorSize
	if ss == 0 {
		ss, err = probeSectorSize(path)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}
	dev, err := NewReaderAt(f, fi.Size(), ss, ss, o.mediaID)
	if err != nil {
		f.Close()
		return nil, err
	}
	log.Debugf("Opened %s: %d bytes, %d-byte sectors", path, fi.Size(), ss)
	return &Image{Device: dev, Path: path, Compression: format, file: f}, nil
}

// probeSectorSize asks go-diskfs for the logical block size of the image.
func probeSectorSize(path string) (uint32, error) {
	disk, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return 0, fmt.Errorf("open disk image: %w", err)
	}
	defer disk.Close()

	if disk.LogicalBlocksize <= 0 || disk.LogicalBlocksize > 65535 {
		return defaultSectorSize, nil
	}
	return uint32(disk.LogicalBlocksize), nil
}

// Close releases the backing file, if any.
func (i *Image) Close() error {
	if i.file == nil {
		return nil
	}
	err := i.file.Close()
	i.file = nil
	return err
}
