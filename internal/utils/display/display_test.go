package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/open-edge-platform/os-image-bootreader/internal/boot"
	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(prev) })
	return &buf
}

func TestPrintBootSummary(t *testing.T) {
	buf := captureLog(t)

	diskGUID := uuid.MustParse("5a4e6f2c-1b3d-4e5f-8a9b-0c1d2e3f4a5b")
	PrintBootSummary(&boot.Loaded{
		Entry: config.BootEntry{
			Name:      "linux",
			Partition: 1,
			Path:      "/EFI/Linux/vmlinuz.efi",
			Initrd:    "/EFI/Linux/initrd.img",
		},
		Disk:      &boot.Disk{GUID: diskGUID, Name: "disk.img"},
		Partition: partition.Entry{TypeGUID: partition.TypeEFISystem},
		Variant:   fat.FAT12,
		Label:     "ESP        ",
		Program:   make([]byte, 2048),
		Initrd:    make([]byte, 3*1024*1024),
		Args:      "console=ttyS0",
		SHA256:    "deadbeef",
		Signer:    "Boot Signer <boot@example.com>",
	})

	out := buf.String()
	for _, want := range []string{
		"BOOT ENTRY LOADED SUCCESSFULLY",
		"Entry:        linux",
		"disk.img (5A4E6F2C-1B3D-4E5F-8A9B-0C1D2E3F4A5B)",
		`1 "EFI System", fat12`,
		"Volume label: ESP",
		"/EFI/Linux/vmlinuz.efi (2.00 KB)",
		"sha256 deadbeef",
		"/EFI/Linux/initrd.img (3.00 MB)",
		"Signed by:    Boot Signer",
		"Arguments:    console=ttyS0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
}

func TestPrintBootSummaryNil(t *testing.T) {
	buf := captureLog(t)
	PrintBootSummary(nil)
	if !strings.Contains(buf.String(), "No boot entry loaded") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
