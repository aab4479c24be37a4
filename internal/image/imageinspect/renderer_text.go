package imageinspect

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// PrintSummary prints a human-readable summary of the image inspection to the given writer.
func PrintSummary(w io.Writer, summary *ImageSummary) {
	if summary == nil {
		log.Errorf("PrintSummary: summary is nil")
		return
	}

	fmt.Fprintln(w, "Disk Image Summary")
	fmt.Fprintln(w, "==================")
	kv := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(kv, "Image:\t%s\n", summary.File)
	fmt.Fprintf(kv, "Size:\t%s (%d bytes)\n", humanBytes(summary.SizeBytes), summary.SizeBytes)
	if summary.Compression != "" && summary.Compression != "none" {
		fmt.Fprintf(kv, "Compression:\t%s\n", summary.Compression)
	}
	if summary.SHA256 != "" {
		fmt.Fprintf(kv, "SHA256:\t%s\n", summary.SHA256)
	}
	_ = kv.Flush()

	pt := summary.PartitionTable
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Partition Table")
	fmt.Fprintln(w, "---------------")
	kv = tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(kv, "Type:\t%s\n", strings.ToUpper(emptyIfWhitespace(pt.Type)))
	fmt.Fprintf(kv, "Disk GUID:\t%s\n", emptyIfWhitespace(pt.DiskGUID))
	fmt.Fprintf(kv, "Logical sector size:\t%d bytes\n", pt.LogicalSectorSize)
	if pt.PhysicalSectorSize > 0 {
		fmt.Fprintf(kv, "Physical sector size:\t%d bytes\n", pt.PhysicalSectorSize)
	}
	fmt.Fprintf(kv, "Usable LBAs:\t%d-%d\n", pt.FirstUsableLBA, pt.LastUsableLBA)
	fmt.Fprintf(kv, "Entries:\t%d x %d bytes\n", pt.EntryCount, pt.EntrySize)
	fmt.Fprintf(kv, "Entry array CRC:\t%s\n", okOr(pt.EntryArrayCRCValid, "mismatch"))
	if pt.LargestFreeSpan != nil {
		fs := pt.LargestFreeSpan
		fmt.Fprintf(kv, "Largest free span:\t%d-%d (%s)\n", fs.StartLBA, fs.EndLBA, humanBytes(int64(fs.SizeBytes)))
	}
	if len(pt.MisalignedPartitions) > 0 {
		fmt.Fprintf(kv, "Misaligned partitions:\t%s\n", joinInts(pt.MisalignedPartitions))
	}
	_ = kv.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Partitions")
	fmt.Fprintln(w, "----------")

	if len(pt.Partitions) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "IDX\tNAME\tROLE\tPTYPE_NAME\tSTART(LBA)\tEND(LBA)\tSIZE\tFS\tLABEL/ID")
		for _, p := range pt.Partitions {
			fsType, fsLabelOrID := "-", "-"
			if p.Filesystem != nil {
				fsType = fmt.Sprintf("vfat(%s)", p.Filesystem.FATType)
				lbl := strings.TrimSpace(p.Filesystem.Label)
				switch {
				case lbl != "" && p.Filesystem.UUID != "":
					fsLabelOrID = fmt.Sprintf("%s (%s)", lbl, p.Filesystem.UUID)
				case lbl != "":
					fsLabelOrID = lbl
				case p.Filesystem.UUID != "":
					fsLabelOrID = p.Filesystem.UUID
				}
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				p.Index,
				emptyIfWhitespace(p.Name),
				partitionRole(p),
				emptyIfWhitespace(p.TypeName),
				p.StartLBA,
				p.EndLBA,
				humanBytes(int64(p.SizeBytes)),
				fsType,
				fsLabelOrID,
			)
		}
		_ = tw.Flush()
	}

	for _, p := range pt.Partitions {
		if p.Filesystem != nil {
			printFilesystem(w, p.Index, p.Filesystem)
		}
	}

	if cc := summary.CrossCheck; cc != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Cross-check (%s)\n", cc.Tool)
		fmt.Fprintln(w, "-----------------------")
		switch {
		case cc.Skipped:
			fmt.Fprintln(w, "Skipped")
		case cc.Match:
			fmt.Fprintf(w, "OK: %d partitions agree\n", cc.Partitions)
		default:
			fmt.Fprintln(w, "MISMATCH:")
			for _, d := range cc.Differences {
				fmt.Fprintf(w, "  - %s\n", d)
			}
		}
		for _, n := range cc.Notes {
			fmt.Fprintf(w, "  note: %s\n", n)
		}
	}

	fmt.Fprintln(w)
}

func printFilesystem(w io.Writer, index int, fs *FilesystemSummary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Partition %d filesystem details\n", index)
	fmt.Fprintln(w, "------------------------------")

	kv := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(kv, "FAT type:\t%s\n", fs.FATType)
	if strings.TrimSpace(fs.Label) != "" {
		fmt.Fprintf(kv, "Label:\t%s\n", fs.Label)
	}
	if fs.UUID != "" {
		fmt.Fprintf(kv, "UUID/ID:\t%s\n", fs.UUID)
	}
	fmt.Fprintf(kv, "Bytes/sector:\t%d\n", fs.BytesPerSector)
	fmt.Fprintf(kv, "Sectors/cluster:\t%d\n", fs.SectorsPerCluster)
	fmt.Fprintf(kv, "Clusters:\t%d\n", fs.ClusterCount)
	clusterSize := uint64(fs.BytesPerSector) * uint64(fs.SectorsPerCluster)
	fmt.Fprintf(kv, "Cluster size:\t%s (%d bytes)\n", humanBytes(int64(clusterSize)), clusterSize)
	fmt.Fprintf(kv, "FATs:\t%d x %d sectors\n", fs.FATCount, fs.SectorsPerFAT)
	if fs.RootCluster != 0 {
		fmt.Fprintf(kv, "Root cluster:\t%d\n", fs.RootCluster)
	}
	if fs.FreeClusters != nil {
		fmt.Fprintf(kv, "Free clusters (FSInfo):\t%d\n", *fs.FreeClusters)
	}
	if fs.HasShim {
		fmt.Fprintf(kv, "Shim detected:\t%t\n", fs.HasShim)
	}
	if fs.HasUKI {
		fmt.Fprintf(kv, "UKI detected:\t%t\n", fs.HasUKI)
	}
	_ = kv.Flush()

	if len(fs.EFIBinaries) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "EFI artifacts:\t%d\n", len(fs.EFIBinaries))

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tSIGNED\tARCH\tPATH\tSIZE\tSHA256\tKERNEL\tINITRD")
		for _, a := range fs.EFIBinaries {
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%s\t%s\t%s\n",
				emptyOr(string(a.Kind), "unknown"),
				a.Signed,
				emptyOr(a.Arch, "-"),
				emptyIfWhitespace(a.Path),
				humanBytes(a.Size),
				shortHash(a.SHA256),
				emptyOr(shortHash(a.KernelSHA256), "-"),
				emptyOr(shortHash(a.InitrdSHA256), "-"),
			)
		}
		_ = tw.Flush()

		if uki, ok := firstUKI(fs.EFIBinaries); ok {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "UKI details")
			fmt.Fprintln(w, "-----------")
			kv2 := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
			fmt.Fprintf(kv2, "Path:\t%s\n", uki.Path)
			if uki.Uname != "" {
				fmt.Fprintf(kv2, "EFI uname:\t%s\n", uki.Uname)
			}
			if uki.Cmdline != "" {
				fmt.Fprintf(kv2, "EFI cmdline:\t%s\n", uki.Cmdline)
			}
			_ = kv2.Flush()
			printOSReleaseKV(w, "EFI OS release:", uki.OSReleaseSorted)
		}
	}

	if len(fs.Notes) > 0 {
		fmt.Fprintln(w, "Notes:")
		for _, note := range fs.Notes {
			fmt.Fprintf(w, "  - %s\n", note)
		}
	}
}

func humanBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func partitionRole(p PartitionSummary) string {
	switch {
	case isESPPartition(p):
		return "ESP"
	case strings.HasPrefix(p.TypeName, "Linux root"):
		return "ROOT"
	case p.TypeName == "Linux filesystem":
		return "FS"
	case p.TypeName == "Linux extended boot":
		return "XBOOTLDR"
	case p.Filesystem != nil:
		return "ESP?"
	}
	return "-"
}

func okOr(ok bool, bad string) string {
	if ok {
		return "ok"
	}
	return bad
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

func emptyIfWhitespace(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strings.TrimSpace(s)
}

func emptyOr(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

func shortHash(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}

func firstUKI(arts []EFIBinaryEvidence) (EFIBinaryEvidence, bool) {
	for _, a := range arts {
		if a.IsUKI || a.Kind == BootloaderUKI {
			return a, true
		}
	}
	return EFIBinaryEvidence{}, false
}

func printOSReleaseKV(w io.Writer, title string, kvs []KeyValue) {
	if len(kvs) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, kv := range kvs {
		fmt.Fprintf(tw, "%s:\t%q\n", kv.Key, kv.Value)
	}
	_ = tw.Flush()
}
