package imageinspect

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	diskpart "github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/open-edge-platform/os-image-bootreader/internal/testhelper"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/compression"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

var (
	shimBinary = testhelper.PEImage{
		Signed: true,
		Sections: []testhelper.PESection{
			{Name: ".text", Data: []byte("shim code")},
			{Name: ".sbat", Data: []byte("sbat,1,SBAT Version\n")},
		},
	}.Build()

	ukiBinary = testhelper.PEImage{
		Sections: []testhelper.PESection{
			{Name: ".text", Data: []byte("stub")},
			{Name: ".osrel", Data: []byte("NAME=\"Edge OS\"\nVERSION_ID=3.0\n# comment\nID=edge\n")},
			{Name: ".cmdline", Data: []byte("root=PARTUUID=11223344 ro quiet\n")},
			{Name: ".uname", Data: []byte("6.6.0-edge")},
			{Name: ".linux", Data: []byte("kernel image")},
			{Name: ".initrd", Data: []byte("initrd image")},
		},
	}.Build()

	armBinary = testhelper.PEImage{
		Machine:  testhelper.MachineARM64,
		Sections: []testhelper.PESection{{Name: ".text", Data: []byte("arm")}},
	}.Build()
)

func espFiles() []testhelper.FATFile {
	return []testhelper.FATFile{
		{Path: "/EFI/BOOT/BOOTX64.EFI", Data: shimBinary},
		{Path: "/EFI/edge/shimx64.efi", Data: shimBinary},
		{Path: "/EFI/Linux/edge-6.6.efi", Data: ukiBinary},
		{Path: "/EFI/BOOT/BOOTAA64.EFI", Data: armBinary},
		{Path: "/EFI/BOOT/notes.txt", Data: []byte("not a binary")},
		{Path: "/EFI/tools/broken.efi", Data: []byte("MZ but nothing else")},
		{Path: "/README.TXT", Data: []byte("hello")},
	}
}

// writeBootDisk renders a boot disk into a temp file and returns its path.
func writeBootDisk(t *testing.T, files []testhelper.FATFile) string {
	t.Helper()
	img, _, err := testhelper.BootDisk("ESP", files)
	if err != nil {
		t.Fatalf("BootDisk: %v", err)
	}
	p := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(p, img, 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return p
}

func newTestInspector(hash bool, opener tableOpener) *Inspector {
	return &Inspector{
		HashImages: hash,
		CrossCheck: opener != nil,
		SectorSize: 512,
		logger:     logger.Logger(),
		openTable:  opener,
	}
}

func TestInspectPartitionTable(t *testing.T) {
	path := writeBootDisk(t, espFiles())
	got, err := newTestInspector(true, nil).Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	if got.SizeBytes != testhelper.BootDiskBlocks*512 {
		t.Errorf("SizeBytes = %d, want %d", got.SizeBytes, testhelper.BootDiskBlocks*512)
	}
	if len(got.SHA256) != 64 {
		t.Errorf("SHA256 = %q, want 64 hex chars", got.SHA256)
	}
	if got.Compression != "none" {
		t.Errorf("Compression = %q, want none", got.Compression)
	}
	if got.CrossCheck != nil {
		t.Errorf("CrossCheck = %+v, want nil when disabled", got.CrossCheck)
	}

	pt := got.PartitionTable
	if pt.Type != "gpt" || !pt.ProtectiveMBR {
		t.Errorf("Type = %q ProtectiveMBR = %v", pt.Type, pt.ProtectiveMBR)
	}
	if pt.DiskGUID != "5A4E6F2C-1B3D-4E5F-8A9B-0C1D2E3F4A5B" {
		t.Errorf("DiskGUID = %s", pt.DiskGUID)
	}
	if pt.LogicalSectorSize != 512 || pt.EntryCount != 128 || pt.EntrySize != 128 {
		t.Errorf("geometry = %d/%d/%d", pt.LogicalSectorSize, pt.EntryCount, pt.EntrySize)
	}
	if pt.FirstUsableLBA != 34 || pt.LastUsableLBA != 2270 || pt.AlternateHeaderLBA != 2303 {
		t.Errorf("usable = %d-%d alt %d", pt.FirstUsableLBA, pt.LastUsableLBA, pt.AlternateHeaderLBA)
	}
	if !pt.EntryArrayCRCValid {
		t.Errorf("EntryArrayCRCValid = false")
	}
	if len(pt.Partitions) != 2 {
		t.Fatalf("got %d partitions, want 2", len(pt.Partitions))
	}

	esp, data := pt.Partitions[0], pt.Partitions[1]
	if esp.Index != 1 || esp.Name != "EFI System Partition" || esp.TypeName != "EFI System" {
		t.Errorf("esp = %+v", esp)
	}
	if esp.StartLBA != testhelper.ESPStart || esp.EndLBA != testhelper.ESPEnd || esp.SizeBytes != 2048*512 {
		t.Errorf("esp extent = %d-%d (%d bytes)", esp.StartLBA, esp.EndLBA, esp.SizeBytes)
	}
	if data.Index != 2 || data.TypeName != "Linux filesystem" || data.GUID != "11223344-5566-4778-899A-ABBCCDDEEFF0" {
		t.Errorf("data = %+v", data)
	}
	if data.Filesystem != nil {
		t.Errorf("data partition Filesystem = %+v, want nil", data.Filesystem)
	}

	span := pt.LargestFreeSpan
	if span == nil || span.StartLBA != 2240 || span.EndLBA != 2270 || span.SizeBytes != 31*512 {
		t.Errorf("LargestFreeSpan = %+v, want 2240-2270", span)
	}
	if want := []int{1, 2}; !equalInts(pt.MisalignedPartitions, want) {
		t.Errorf("MisalignedPartitions = %v, want %v", pt.MisalignedPartitions, want)
	}
}

func TestInspectFilesystem(t *testing.T) {
	path := writeBootDisk(t, espFiles())
	got, err := newTestInspector(false, nil).Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	fs := got.PartitionTable.Partitions[0].Filesystem
	if fs == nil {
		t.Fatal("ESP Filesystem = nil")
	}

	if fs.Type != "vfat" || fs.FATType != "FAT12" || fs.Label != "ESP" || fs.UUID != "1A2B-3C4D" {
		t.Errorf("fs = %s/%s label %q uuid %q", fs.Type, fs.FATType, fs.Label, fs.UUID)
	}
	if fs.BytesPerSector != 512 || fs.FATCount != 2 || fs.ClusterCount == 0 {
		t.Errorf("geometry = %d bytes/sector, %d FATs, %d clusters", fs.BytesPerSector, fs.FATCount, fs.ClusterCount)
	}
	if fs.FreeClusters != nil {
		t.Errorf("FreeClusters = %d, want nil for FAT12", *fs.FreeClusters)
	}
	if !fs.HasShim || !fs.HasUKI {
		t.Errorf("HasShim = %v HasUKI = %v", fs.HasShim, fs.HasUKI)
	}

	byPath := map[string]EFIBinaryEvidence{}
	for _, ev := range fs.EFIBinaries {
		byPath[ev.Path] = ev
	}
	if len(byPath) != 4 {
		t.Fatalf("got %d EFI binaries (%v), want 4", len(byPath), keys(byPath))
	}

	shim := byPath["EFI/edge/shimx64.efi"]
	if shim.Kind != BootloaderShim || !shim.Signed || !shim.HasSBAT || shim.Arch != "x86_64" {
		t.Errorf("shim = %+v", shim)
	}
	boot := byPath["EFI/BOOT/BOOTX64.EFI"]
	if boot.Kind != BootloaderShim || boot.SHA256 != shim.SHA256 {
		t.Errorf("BOOTX64.EFI kind = %s, want inherited shim", boot.Kind)
	}
	if arm := byPath["EFI/BOOT/BOOTAA64.EFI"]; arm.Arch != "arm64" || arm.Kind != BootloaderUnknown || arm.Signed {
		t.Errorf("BOOTAA64.EFI = %+v", arm)
	}

	uki := byPath["EFI/Linux/edge-6.6.efi"]
	if !uki.IsUKI || uki.Kind != BootloaderUKI {
		t.Fatalf("uki = %+v", uki)
	}
	if uki.Cmdline != "root=PARTUUID=11223344 ro quiet" || uki.Uname != "6.6.0-edge" {
		t.Errorf("uki cmdline %q uname %q", uki.Cmdline, uki.Uname)
	}
	if uki.KernelSHA256 == "" || uki.InitrdSHA256 == "" || uki.KernelSHA256 == uki.InitrdSHA256 {
		t.Errorf("payload hashes kernel %q initrd %q", uki.KernelSHA256, uki.InitrdSHA256)
	}
	wantRel := []KeyValue{{"ID", "edge"}, {"NAME", "Edge OS"}, {"VERSION_ID", "3.0"}}
	if len(uki.OSReleaseSorted) != len(wantRel) {
		t.Fatalf("os-release = %v, want %v", uki.OSReleaseSorted, wantRel)
	}
	for i := range wantRel {
		if uki.OSReleaseSorted[i] != wantRel[i] {
			t.Errorf("os-release[%d] = %v, want %v", i, uki.OSReleaseSorted[i], wantRel[i])
		}
	}

	var brokenNote bool
	for _, n := range fs.Notes {
		if strings.Contains(n, "EFI/tools/broken.efi") {
			brokenNote = true
		}
	}
	if !brokenNote {
		t.Errorf("Notes = %v, want a PE parse failure for broken.efi", fs.Notes)
	}
}

func TestInspectErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := newTestInspector(false, nil).Inspect(filepath.Join(t.TempDir(), "nope.img")); err == nil {
			t.Fatal("Inspect() error = nil, want stat error")
		}
	})
	t.Run("no partition table", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "blank.img")
		if err := os.WriteFile(p, make([]byte, 64*512), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := newTestInspector(false, nil).Inspect(p)
		if err == nil || !strings.Contains(err.Error(), "read partition table") {
			t.Fatalf("Inspect() error = %v, want partition table error", err)
		}
	})
}

type fakeTable struct {
	pt      diskpart.Table
	err     error
	closed  bool
	openErr error
}

func (f *fakeTable) GetPartitionTable() (diskpart.Table, error) { return f.pt, f.err }
func (f *fakeTable) Close() error                               { f.closed = true; return nil }

func (f *fakeTable) opener() tableOpener {
	return func(string) (diskTable, error) {
		if f.openErr != nil {
			return nil, f.openErr
		}
		return f, nil
	}
}

func matchingTable() *gpt.Table {
	return &gpt.Table{
		LogicalSectorSize:  512,
		PhysicalSectorSize: 4096,
		ProtectiveMBR:      true,
		GUID:               "5a4e6f2c-1b3d-4e5f-8a9b-0c1d2e3f4a5b",
		Partitions: []*gpt.Partition{
			{Start: testhelper.ESPStart, End: testhelper.ESPEnd, Name: "EFI System Partition",
				GUID: testhelper.ESPPartGUID.String(), Type: gpt.EFISystemPartition},
			{Start: testhelper.DataStart, End: testhelper.DataEnd, Name: "data",
				GUID: testhelper.DataPartGUID.String(), Type: gpt.LinuxFilesystem},
			{},
		},
	}
}

func TestCrossCheck(t *testing.T) {
	path := writeBootDisk(t, nil)

	tests := []struct {
		name      string
		fake      *fakeTable
		mutate    func(*gpt.Table)
		wantMatch bool
		wantSkip  bool
		wantDiff  string
	}{
		{name: "agree", fake: &fakeTable{}, wantMatch: true},
		{name: "extent", fake: &fakeTable{}, mutate: func(g *gpt.Table) { g.Partitions[1].End++ }, wantDiff: "partition 2 extent"},
		{name: "name", fake: &fakeTable{}, mutate: func(g *gpt.Table) { g.Partitions[0].Name = "ESP" }, wantDiff: "partition 1 name"},
		{name: "type", fake: &fakeTable{}, mutate: func(g *gpt.Table) { g.Partitions[1].Type = gpt.LinuxSwap }, wantDiff: "partition 2 type"},
		{name: "disk guid", fake: &fakeTable{}, mutate: func(g *gpt.Table) { g.GUID = "00000000-0000-0000-0000-000000000001" }, wantDiff: "disk GUID"},
		{name: "missing", fake: &fakeTable{}, mutate: func(g *gpt.Table) { g.Partitions = g.Partitions[:1] }, wantDiff: "partition 2 (11223344-5566-4778-899A-ABBCCDDEEFF0) missing"},
		{name: "extra", fake: &fakeTable{}, mutate: func(g *gpt.Table) {
			g.Partitions = append(g.Partitions, &gpt.Partition{Start: 2240, End: 2250, GUID: "aaaaaaaa-0000-4000-8000-000000000000", Type: gpt.LinuxFilesystem})
		}, wantDiff: "go-diskfs partition AAAAAAAA-0000-4000-8000-000000000000 not in table"},
		{name: "mbr", fake: &fakeTable{pt: &mbr.Table{LogicalSectorSize: 512}}, wantDiff: "want GPT"},
		{name: "read error", fake: &fakeTable{err: errors.New("boom")}, wantDiff: "could not read"},
		{name: "open error", fake: &fakeTable{openErr: errors.New("busy")}, wantSkip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.fake.pt == nil && tt.fake.err == nil {
				g := matchingTable()
				if tt.mutate != nil {
					tt.mutate(g)
				}
				tt.fake.pt = g
			}
			got, err := newTestInspector(false, tt.fake.opener()).Inspect(path)
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			cc := got.CrossCheck
			if cc == nil {
				t.Fatal("CrossCheck = nil")
			}
			if cc.Tool != "go-diskfs" || cc.Match != tt.wantMatch || cc.Skipped != tt.wantSkip {
				t.Errorf("CrossCheck = %+v, want match %v skipped %v", cc, tt.wantMatch, tt.wantSkip)
			}
			if tt.wantDiff != "" && !containsSubstring(cc.Differences, tt.wantDiff) {
				t.Errorf("Differences = %v, want one containing %q", cc.Differences, tt.wantDiff)
			}
			if tt.fake.openErr == nil && !tt.fake.closed {
				t.Error("disk was not closed")
			}
			if tt.wantMatch {
				if cc.Partitions != 2 {
					t.Errorf("Partitions = %d, want 2", cc.Partitions)
				}
				if got.PartitionTable.PhysicalSectorSize != 4096 {
					t.Errorf("PhysicalSectorSize = %d, want 4096 from go-diskfs", got.PartitionTable.PhysicalSectorSize)
				}
			}
		})
	}
}

func TestCrossCheckSkipsCompressedImages(t *testing.T) {
	img, _, err := testhelper.BootDisk("ESP", nil)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := testhelper.Compress(string(compression.Gzip), img)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "disk.img.gz")
	if err := os.WriteFile(p, packed, 0644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeTable{pt: matchingTable()}
	got, err := newTestInspector(false, fake.opener()).Inspect(p)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if got.Compression != "gzip" {
		t.Errorf("Compression = %q, want gzip", got.Compression)
	}
	if got.CrossCheck == nil || !got.CrossCheck.Skipped {
		t.Errorf("CrossCheck = %+v, want skipped", got.CrossCheck)
	}
	if len(got.PartitionTable.Partitions) != 2 {
		t.Errorf("got %d partitions from compressed image, want 2", len(got.PartitionTable.Partitions))
	}
}

func TestComputeLargestFreeSpan(t *testing.T) {
	tests := []struct {
		name        string
		parts       []PartitionSummary
		first, last uint64
		want        *FreeSpanSummary
	}{
		{name: "empty disk", first: 34, last: 99, want: &FreeSpanSummary{StartLBA: 34, EndLBA: 99, SizeBytes: 66 * 512}},
		{name: "full", parts: []PartitionSummary{{StartLBA: 34, EndLBA: 99}}, first: 34, last: 99},
		{
			name:  "middle gap wins",
			parts: []PartitionSummary{{StartLBA: 80, EndLBA: 99}, {StartLBA: 40, EndLBA: 49}},
			first: 34, last: 99,
			want: &FreeSpanSummary{StartLBA: 50, EndLBA: 79, SizeBytes: 30 * 512},
		},
		{
			name:  "overlap",
			parts: []PartitionSummary{{StartLBA: 34, EndLBA: 60}, {StartLBA: 50, EndLBA: 55}},
			first: 34, last: 99,
			want: &FreeSpanSummary{StartLBA: 61, EndLBA: 99, SizeBytes: 39 * 512},
		},
		{name: "inverted range", first: 10, last: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeLargestFreeSpan(tt.parts, tt.first, tt.last, 512)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil || *got != *tt.want:
				t.Errorf("computeLargestFreeSpan() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	path := writeBootDisk(t, espFiles())
	fake := &fakeTable{pt: matchingTable()}
	got, err := newTestInspector(false, fake.opener()).Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	var buf bytes.Buffer
	PrintSummary(&buf, got)
	out := buf.String()
	for _, want := range []string{
		"Disk Image Summary",
		"Disk GUID:",
		"5A4E6F2C-1B3D-4E5F-8A9B-0C1D2E3F4A5B",
		"Largest free span:",
		"Misaligned partitions:",
		"vfat(FAT12)",
		"ESP (1A2B-3C4D)",
		"Partition 1 filesystem details",
		"EFI artifacts:",
		"EFI/Linux/edge-6.6.efi",
		"UKI details",
		"6.6.0-edge",
		"EFI OS release:",
		"OK: 2 partitions agree",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}

	buf.Reset()
	PrintSummary(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("PrintSummary(nil) wrote %q", buf.String())
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{-1, "-1 B"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.in); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func keys(m map[string]EFIBinaryEvidence) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
