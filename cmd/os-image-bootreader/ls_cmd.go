package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/spf13/cobra"
)

// ls command flags
var (
	lsPartition int    = 1
	lsFormat    string = "text"
	lsPretty    bool   = false
	lsAll       bool   = false
)

// dirListing is the structured form of the ls output.
type dirListing struct {
	Path    string     `json:"path" yaml:"path"`
	Variant string     `json:"variant" yaml:"variant"`
	Entries []dirEntry `json:"entries" yaml:"entries"`
}

type dirEntry struct {
	Name      string    `json:"name" yaml:"name"`
	ShortName string    `json:"shortName" yaml:"shortName"`
	Dir       bool      `json:"dir" yaml:"dir"`
	Size      uint32    `json:"size" yaml:"size"`
	Attr      string    `json:"attr" yaml:"attr"`
	Modified  time.Time `json:"modified" yaml:"modified"`
	Cluster   uint32    `json:"cluster" yaml:"cluster"`
}

// createLsCommand creates the ls subcommand
func createLsCommand() *cobra.Command {
	lsCmd := &cobra.Command{
		Use:   "ls [flags] IMAGE_FILE [PATH]",
		Short: "Lists a directory of a FAT partition",
		Long: `Ls lists the directory at PATH (default /) on the FAT file system of a
GPT partition. Names are matched case-insensitively against both the long
name and the 8.3 alias. Hidden and system entries are shown with --all.`,
		Args: cobra.RangeArgs(1, 2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkOutputFormat(lsFormat)
		},
		RunE:              executeLs,
		ValidArgsFunction: imageFileCompletion,
	}

	lsCmd.Flags().IntVarP(&lsPartition, "partition", "p", 1, "1-based GPT partition number")
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "Include hidden and system entries")
	addOutputFlags(lsCmd.Flags(), &lsFormat, &lsPretty)
	return lsCmd
}

func executeLs(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) > 1 {
		dir = args[1]
	}

	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	vol, err := openVolume(img, lsPartition)
	if err != nil {
		return err
	}
	entries, err := vol.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ls %s: %w", dir, err)
	}

	listing := dirListing{Path: dir, Variant: vol.Variant().String(), Entries: []dirEntry{}}
	for _, e := range entries {
		if !lsAll && (e.IsHidden() || e.Short.Attr&fat.AttrSystem != 0) {
			continue
		}
		listing.Entries = append(listing.Entries, dirEntry{
			Name:      e.Name(),
			ShortName: e.ShortName(),
			Dir:       e.IsDir(),
			Size:      e.Size(),
			Attr:      attrString(e),
			Modified:  e.ModTime(),
			Cluster:   e.FirstCluster(),
		})
	}

	return writeStructured(cmd.OutOrStdout(), listing, lsFormat, lsPretty, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, e := range listing.Entries {
			name := e.Name
			if e.Dir {
				name += "/"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Attr, e.Size, e.Modified.Format("2006-01-02 15:04:05"), name)
		}
		_ = tw.Flush()
	})
}

// attrString renders the attribute bits as a fixed-width "drhsa" string.
func attrString(e fat.DirEntry) string {
	flags := []struct {
		bit uint8
		c   byte
	}{
		{fat.AttrDirectory, 'd'},
		{fat.AttrReadOnly, 'r'},
		{fat.AttrHidden, 'h'},
		{fat.AttrSystem, 's'},
		{fat.AttrArchive, 'a'},
	}
	out := make([]byte, len(flags))
	for i, f := range flags {
		out[i] = '-'
		if e.Short.Attr&f.bit != 0 {
			out[i] = f.c
		}
	}
	return string(out)
}
