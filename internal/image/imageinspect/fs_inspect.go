package imageinspect

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
)

// inspectFAT opens a FAT volume on r and collects its geometry and EFI evidence.
func inspectFAT(r blockdev.Reader) (*FilesystemSummary, error) {
	vol, err := fat.Open(r)
	if err != nil {
		return nil, err
	}
	lay := vol.Layout()
	out := &FilesystemSummary{
		Type:              "vfat",
		FATType:           fatTypeName(vol.Variant()),
		Label:             vol.Label(),
		UUID:              volumeUUID(vol.VolumeID()),
		TypeHint:          vol.FSTypeHint(),
		BytesPerSector:    lay.BytesPerSector,
		SectorsPerCluster: lay.SectorsPerCluster,
		ClusterCount:      lay.TotalClusters,
		FATCount:          lay.FATCount,
		SectorsPerFAT:     lay.SectorsPerFAT,
		RootCluster:       lay.RootCluster,
	}

	if hint := strings.TrimSpace(out.TypeHint); hint != "" && !strings.EqualFold(hint, out.FATType) && !strings.EqualFold(hint, "FAT") {
		out.Notes = append(out.Notes, fmt.Sprintf("boot sector type string %q disagrees with cluster count (%s)", hint, out.FATType))
	}

	if fi := vol.FSInfo(); fi != nil {
		if fi.FreeCount != fat.FSInfoUnknown {
			free := fi.FreeCount
			out.FreeClusters = &free
		}
		if fi.NextFree != fat.FSInfoUnknown {
			next := fi.NextFree
			out.NextFree = &next
		}
	}

	if err := scanEFIBinaries(vol.FS(), out); err != nil {
		out.Notes = append(out.Notes, fmt.Sprintf("scan EFI directory: %v", err))
	}
	return out, nil
}

// scanEFIBinaries walks EFI/ on fsys, parsing every *.efi file it finds.
func scanEFIBinaries(fsys fs.FS, out *FilesystemSummary) error {
	root, ok := findEFIRoot(fsys)
	if !ok {
		return nil
	}

	out.EFIBinaries = nil
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("walk %s: %v", p, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		nameLower := strings.ToLower(d.Name())
		if !strings.HasSuffix(nameLower, ".efi") {
			return nil
		}
		fullLower := strings.ToLower(p)
		if strings.HasPrefix(fullLower, "efi/linux/") {
			out.HasUKI = true
		}
		if strings.Contains(nameLower, "shim") {
			out.HasShim = true
		}

		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("read %s failed: %v", p, err))
			return nil
		}
		ev, err := ParsePEFromBytes(p, b)
		if err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("PE parse %s failed: %v", p, err))
			return nil
		}
		if ev.IsUKI {
			out.HasUKI = true
		}
		out.EFIBinaries = append(out.EFIBinaries, ev)
		return nil
	})
	if err != nil {
		return err
	}

	inheritBootloaderKindBySHA(out.EFIBinaries)
	sort.Slice(out.EFIBinaries, func(i, j int) bool { return out.EFIBinaries[i].Path < out.EFIBinaries[j].Path })
	return nil
}

// findEFIRoot returns the on-disk spelling of the top-level EFI directory.
func findEFIRoot(fsys fs.FS) (string, bool) {
	ents, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return "", false
	}
	for _, e := range ents {
		if e.IsDir() && strings.EqualFold(e.Name(), "EFI") {
			return e.Name(), true
		}
	}
	return "", false
}

// isESPPartition reports whether p is typed as, or looks like, an EFI system partition.
func isESPPartition(p PartitionSummary) bool {
	return strings.EqualFold(p.Type, "C12A7328-F81F-11D2-BA4B-00A0C93EC93B") ||
		(p.Filesystem != nil && p.Filesystem.HasShim)
}
