package imageinspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/diskfs/go-diskfs"
	diskpart "github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
)

const diskfsTool = "go-diskfs"

// CrossCheckSummary compares the in-tree GPT reading with a second reader.
type CrossCheckSummary struct {
	Tool        string   `json:"tool" yaml:"tool"`
	Skipped     bool     `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Match       bool     `json:"match" yaml:"match"`
	Partitions  int      `json:"partitions" yaml:"partitions"`
	Differences []string `json:"differences,omitempty" yaml:"differences,omitempty"`
	Notes       []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type diskTable interface {
	GetPartitionTable() (diskpart.Table, error)
	Close() error
}

type tableOpener func(path string) (diskTable, error)

func openDiskfsTable(path string) (diskTable, error) {
	return diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
}

// crossCheck reads imagePath with go-diskfs and compares the result with pt.
// A physical sector size reported by go-diskfs is copied into pt.
func (d *Inspector) crossCheck(imagePath string, pt *PartitionTableSummary) *CrossCheckSummary {
	out := &CrossCheckSummary{Tool: diskfsTool}

	disk, err := d.openTable(imagePath)
	if err != nil {
		out.Skipped = true
		out.Notes = append(out.Notes, fmt.Sprintf("open disk image: %v", err))
		return out
	}
	defer disk.Close()

	table, err := disk.GetPartitionTable()
	if err != nil {
		out.Differences = append(out.Differences, fmt.Sprintf("go-diskfs could not read the partition table: %v", err))
		return out
	}

	g, ok := table.(*gpt.Table)
	if !ok {
		out.Differences = append(out.Differences, fmt.Sprintf("go-diskfs read a %T, want GPT", table))
		return out
	}

	if g.PhysicalSectorSize > 0 && pt.PhysicalSectorSize == 0 {
		pt.PhysicalSectorSize = int64(g.PhysicalSectorSize)
		pt.MisalignedPartitions = findMisalignedPartitions(pt.Partitions, pt.LogicalSectorSize, pt.PhysicalSectorSize)
	}
	if g.LogicalSectorSize > 0 && int64(g.LogicalSectorSize) != pt.LogicalSectorSize {
		out.Differences = append(out.Differences, fmt.Sprintf("logical sector size %d, go-diskfs %d", pt.LogicalSectorSize, g.LogicalSectorSize))
	}
	out.Differences = append(out.Differences, comparePartitions(pt, g)...)
	out.Partitions = len(usedDiskfsPartitions(g))
	out.Match = len(out.Differences) == 0

	if out.Match {
		d.logger.Debugf("Cross-check with %s: %d partitions agree", diskfsTool, out.Partitions)
	} else {
		d.logger.Warnf("Cross-check with %s found %d differences", diskfsTool, len(out.Differences))
	}
	return out
}

func usedDiskfsPartitions(g *gpt.Table) []*gpt.Partition {
	var out []*gpt.Partition
	for _, p := range g.Partitions {
		if p == nil || p.Type == gpt.Unused || (p.Start == 0 && p.End == 0) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// comparePartitions matches partitions by unique GUID and lists every field
// that differs between the two readings.
func comparePartitions(pt *PartitionTableSummary, g *gpt.Table) []string {
	var diffs []string
	if g.GUID != "" && !strings.EqualFold(g.GUID, pt.DiskGUID) {
		diffs = append(diffs, fmt.Sprintf("disk GUID %s, go-diskfs %s", pt.DiskGUID, strings.ToUpper(g.GUID)))
	}

	theirs := map[string]*gpt.Partition{}
	for _, p := range usedDiskfsPartitions(g) {
		theirs[strings.ToUpper(p.GUID)] = p
	}

	for _, ours := range pt.Partitions {
		p, ok := theirs[strings.ToUpper(ours.GUID)]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("partition %d (%s) missing from go-diskfs", ours.Index, ours.GUID))
			continue
		}
		delete(theirs, strings.ToUpper(ours.GUID))

		if p.Start != ours.StartLBA || p.End != ours.EndLBA {
			diffs = append(diffs, fmt.Sprintf("partition %d extent %d-%d, go-diskfs %d-%d", ours.Index, ours.StartLBA, ours.EndLBA, p.Start, p.End))
		}
		if !strings.EqualFold(string(p.Type), ours.Type) {
			diffs = append(diffs, fmt.Sprintf("partition %d type %s, go-diskfs %s", ours.Index, ours.Type, strings.ToUpper(string(p.Type))))
		}
		if p.Name != ours.Name {
			diffs = append(diffs, fmt.Sprintf("partition %d name %q, go-diskfs %q", ours.Index, ours.Name, p.Name))
		}
	}

	extra := make([]string, 0, len(theirs))
	for guid := range theirs {
		extra = append(extra, guid)
	}
	sort.Strings(extra)
	for _, guid := range extra {
		diffs = append(diffs, fmt.Sprintf("go-diskfs partition %s not in table", guid))
	}
	return diffs
}
