package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// readerAtSource serves reads from an io.ReaderAt of known size.
type readerAtSource struct {
	r   io.ReaderAt
	geo Geometry
}

func (s *readerAtSource) Geometry() Geometry { return s.geo }

func (s *readerAtSource) ReadBytes(offset uint64, count int) ([]byte, error) {
	if err := checkRange(s.geo, offset, count); err != nil {
		return nil, err
	}
	buf := make([]byte, count)
	n, err := s.r.ReadAt(buf, int64(offset))
	if n == count {
		return buf, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %d bytes at %d: %w", count, offset, err)
	}
	return nil, fmt.Errorf("read %d of %d bytes at %d: %w", n, count, offset, ErrShortRead)
}

// NewReaderAt builds a device over r. size is truncated to whole blocks.
func NewReaderAt(r io.ReaderAt, size int64, sectorSize, blockSize, mediaID uint32) (*Device, error) {
	if sectorSize == 0 || blockSize == 0 {
		return nil, fmt.Errorf("invalid geometry: sectorSize=%d blockSize=%d", sectorSize, blockSize)
	}
	blocks := uint64(size) / uint64(blockSize)
	if size <= 0 || blocks == 0 {
		return nil, fmt.Errorf("device of %d bytes holds no %d-byte block", size, blockSize)
	}
	return New(&readerAtSource{
		r: r,
		geo: Geometry{
			SectorSize: sectorSize,
			BlockSize:  blockSize,
			LastBlock:  blocks - 1,
			MediaID:    mediaID,
		},
	})
}

// NewMemory builds a device over b using one size for sectors and blocks.
func NewMemory(b []byte, sectorSize uint32) (*Device, error) {
	return NewReaderAt(bytes.NewReader(b), int64(len(b)), sectorSize, sectorSize, 0)
}
