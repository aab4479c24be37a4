// Package compression detects and unpacks compressed disk image containers.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format identifies a compression container.
type Format string

const (
	None Format = "none"
	Gzip Format = "gzip"
	Zstd Format = "zstd"
	Xz   Format = "xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Detect classifies a stream by its leading bytes.
func Detect(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, xzMagic):
		return Xz
	case bytes.HasPrefix(header, zstdMagic):
		return Zstd
	case bytes.HasPrefix(header, gzipMagic):
		return Gzip
	default:
		return None
	}
}

// DetectFile reads the first bytes of path and classifies them.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return None, err
	}
	defer f.Close()

	hdr := make([]byte, len(xzMagic))
	n, err := io.ReadFull(f, hdr)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return None, fmt.Errorf("read header of %s: %w", path, err)
	}
	return Detect(hdr[:n]), nil
}

// NewReader returns a decompressing reader for format f.
func NewReader(f Format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gr, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	default:
		return nil, fmt.Errorf("unsupported compression format %q", f)
	}
}

// DecompressFile unpacks path into memory. Output larger than limit bytes is
// refused when limit is positive.
func DecompressFile(path string, limit int64) ([]byte, Format, error) {
	format, err := DetectFile(path)
	if err != nil {
		return nil, None, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, format, err
	}
	defer f.Close()

	rc, err := NewReader(format, f)
	if err != nil {
		return nil, format, fmt.Errorf("open %s stream: %w", format, err)
	}
	defer rc.Close()

	src := io.Reader(rc)
	if limit > 0 {
		src = io.LimitReader(rc, limit+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, format, fmt.Errorf("decompress %s: %w", path, err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, format, fmt.Errorf("decompressed image exceeds %d bytes", limit)
	}
	return buf.Bytes(), format, nil
}
