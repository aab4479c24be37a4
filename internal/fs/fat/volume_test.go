package fat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/testhelper"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func sampleFiles() []testhelper.FATFile {
	return []testhelper.FATFile{
		{Path: "/EFI/BOOT/BOOTX64.EFI", Data: pattern(1300, 1)},
		{Path: "/EFI/Linux", Dir: true},
		{Path: "/loader/entries/Linux Entry.conf", Data: []byte("title Linux\nlinux /vmlinuz\n")},
		{Path: "/Very Long Kernel Name.efi", Data: pattern(700, 3)},
		{Path: "/README.TXT", Data: []byte("hello\n")},
		{Path: "/empty.txt"},
	}
}

func buildVolume(t *testing.T, layout testhelper.FATVolume) (*testhelper.FATImage, *Volume) {
	t.Helper()
	img, err := layout.Build()
	if err != nil {
		t.Fatalf("build FAT%d image: %v", layout.Variant, err)
	}
	v, err := openImage(t, img.Bytes, img.BytesPerSector)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return img, v
}

func openImage(t *testing.T, b []byte, sectorSize uint32) (*Volume, error) {
	t.Helper()
	dev, err := blockdev.NewMemory(b, sectorSize)
	if err != nil {
		t.Fatalf("NewMemory() error: %v", err)
	}
	return Open(dev)
}

func TestClassifyClusters(t *testing.T) {
	tests := []struct {
		clusters uint32
		want     Variant
	}{
		{0, FAT12},
		{4084, FAT12},
		{4085, FAT16},
		{65523, FAT16},
		{65524, FAT32},
		{1 << 22, FAT32},
	}
	for _, tt := range tests {
		if got := ClassifyClusters(tt.clusters); got != tt.want {
			t.Errorf("ClassifyClusters(%d) = %s, want %s", tt.clusters, got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	for _, variant := range []int{testhelper.FAT12, testhelper.FAT16, testhelper.FAT32} {
		t.Run(Variant(variant).String(), func(t *testing.T) {
			img, v := buildVolume(t, testhelper.FATVolume{
				Variant:  variant,
				Label:    "BOOTVOL",
				VolumeID: 0xCAFEF00D,
				Files:    sampleFiles(),
			})
			if v.Variant() != Variant(variant) {
				t.Errorf("Variant() = %s, want FAT%d", v.Variant(), variant)
			}
			if v.Label() != "BOOTVOL" {
				t.Errorf("Label() = %q, want BOOTVOL", v.Label())
			}
			if v.VolumeID() != 0xCAFEF00D {
				t.Errorf("VolumeID() = %08X", v.VolumeID())
			}
			if got, want := v.FSTypeHint(), fsTypeString(Variant(variant)); got != want {
				t.Errorf("FSTypeHint() = %q, want %q", got, want)
			}
			l := v.Layout()
			if l.TotalClusters != img.TotalClusters {
				t.Errorf("TotalClusters = %d, want %d", l.TotalClusters, img.TotalClusters)
			}
			if got := uint64(l.FirstDataSector) * uint64(l.BytesPerSector); got != img.DataOffset {
				t.Errorf("data region at %d, want %d", got, img.DataOffset)
			}
			if v.SizeBytes() != uint64(len(img.Bytes)) {
				t.Errorf("SizeBytes() = %d, want %d", v.SizeBytes(), len(img.Bytes))
			}

			fi := v.FSInfo()
			if variant == testhelper.FAT32 {
				if fi == nil {
					t.Fatal("FSInfo() = nil on FAT32")
				}
				if fi.NextFree != 2 {
					t.Errorf("FSInfo.NextFree = %d, want 2", fi.NextFree)
				}
			} else if fi != nil {
				t.Errorf("FSInfo() = %+v on %s", fi, v.Variant())
			}
		})
	}
}

func TestOpenRejectsBadBootSector(t *testing.T) {
	fat16, err := testhelper.FATVolume{Variant: testhelper.FAT16}.Build()
	if err != nil {
		t.Fatalf("build FAT16 image: %v", err)
	}
	fat32, err := testhelper.FATVolume{Variant: testhelper.FAT32}.Build()
	if err != nil {
		t.Fatalf("build FAT32 image: %v", err)
	}

	tests := []struct {
		name   string
		base   []byte
		mutate func(b []byte)
	}{
		{"missing signature", fat16.Bytes, func(b []byte) { b[510] = 0 }},
		{"odd sector size", fat16.Bytes, func(b []byte) { binary.LittleEndian.PutUint16(b[11:], 300) }},
		{"cluster size not a power of two", fat16.Bytes, func(b []byte) { b[13] = 3 }},
		{"zero sectors per cluster", fat16.Bytes, func(b []byte) { b[13] = 0 }},
		{"no reserved sectors", fat16.Bytes, func(b []byte) { binary.LittleEndian.PutUint16(b[14:], 0) }},
		{"no FATs", fat16.Bytes, func(b []byte) { b[16] = 0 }},
		{"metadata larger than volume", fat16.Bytes, func(b []byte) { binary.LittleEndian.PutUint16(b[19:], 10) }},
		{"FAT32 cluster count with FAT16 layout", fat32.Bytes, func(b []byte) {
			spf := binary.LittleEndian.Uint32(b[36:40])
			binary.LittleEndian.PutUint16(b[22:], uint16(spf))
		}},
		{"FAT32 root cluster out of range", fat32.Bytes, func(b []byte) { binary.LittleEndian.PutUint32(b[44:], 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(tt.base)
			tt.mutate(b)
			_, err := openImage(t, b, 512)
			if !errors.Is(err, ErrInvalidBootSector) {
				t.Errorf("Open() err = %v, want ErrInvalidBootSector", err)
			}
		})
	}
}

func TestDecodeBootSectorTruncated(t *testing.T) {
	if _, err := DecodeBootSector(make([]byte, 100)); !errors.Is(err, ErrTruncated) {
		t.Errorf("DecodeBootSector(short) err = %v, want ErrTruncated", err)
	}
}
