package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/display"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/spf13/cobra"
)

// partitions command flags
var (
	partitionsFormat string = "text"
	partitionsPretty bool   = false
)

// partitionListing is the structured form of the partitions output.
type partitionListing struct {
	Image              string         `json:"image" yaml:"image"`
	DiskGUID           string         `json:"diskGuid" yaml:"diskGuid"`
	BlockSize          uint32         `json:"blockSize" yaml:"blockSize"`
	FirstUsableLBA     uint64         `json:"firstUsableLba" yaml:"firstUsableLba"`
	LastUsableLBA      uint64         `json:"lastUsableLba" yaml:"lastUsableLba"`
	EntryArrayCRCValid bool           `json:"entryArrayCrcValid" yaml:"entryArrayCrcValid"`
	Partitions         []partitionRow `json:"partitions" yaml:"partitions"`
}

type partitionRow struct {
	Number     int    `json:"number" yaml:"number"`
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	TypeName   string `json:"typeName,omitempty" yaml:"typeName,omitempty"`
	GUID       string `json:"guid" yaml:"guid"`
	StartLBA   uint64 `json:"startLba" yaml:"startLba"`
	EndLBA     uint64 `json:"endLba" yaml:"endLba"`
	SizeBytes  uint64 `json:"sizeBytes" yaml:"sizeBytes"`
	Attributes uint64 `json:"attributes" yaml:"attributes"`
}

// createPartitionsCommand creates the partitions subcommand
func createPartitionsCommand() *cobra.Command {
	partitionsCmd := &cobra.Command{
		Use:   "partitions [flags] IMAGE_FILE",
		Short: "Lists the GPT partitions of a disk image",
		Long: `Partitions reads the protective MBR and the primary and alternate GPT
headers of a disk image, checks them against each other and lists the
used partition entries with their 1-based numbers.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkOutputFormat(partitionsFormat)
		},
		RunE:              executePartitions,
		ValidArgsFunction: imageFileCompletion,
	}

	addOutputFlags(partitionsCmd.Flags(), &partitionsFormat, &partitionsPretty)
	return partitionsCmd
}

func executePartitions(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]

	img, err := openImage(imageFile)
	if err != nil {
		return err
	}
	defer img.Close()

	table, err := partition.Read(img.Device)
	if err != nil {
		return fmt.Errorf("read partition table: %w", err)
	}
	if !table.EntryArrayCRCValid {
		log.Warnf("%s: GPT entry array CRC does not match the header", imageFile)
	}

	listing := buildPartitionListing(imageFile, table)
	return writeStructured(cmd.OutOrStdout(), listing, partitionsFormat, partitionsPretty, func(w io.Writer) {
		printPartitionListing(w, listing)
	})
}

func buildPartitionListing(imageFile string, table *partition.GPT) partitionListing {
	listing := partitionListing{
		Image:              imageFile,
		DiskGUID:           partition.FormatGUID(table.DiskGUID()),
		BlockSize:          table.BlockSize,
		FirstUsableLBA:     table.Primary.FirstUsableLBA,
		LastUsableLBA:      table.Primary.LastUsableLBA,
		EntryArrayCRCValid: table.EntryArrayCRCValid,
		Partitions:         []partitionRow{},
	}
	for _, p := range table.Used() {
		listing.Partitions = append(listing.Partitions, partitionRow{
			Number:     p.Number,
			Name:       p.Entry.Name(),
			Type:       partition.FormatGUID(p.Entry.TypeGUID),
			TypeName:   partition.TypeName(p.Entry.TypeGUID),
			GUID:       partition.FormatGUID(p.Entry.PartitionGUID),
			StartLBA:   p.Entry.StartLBA,
			EndLBA:     p.Entry.EndLBA,
			SizeBytes:  p.Entry.SizeBytes(table.BlockSize),
			Attributes: p.Entry.Attributes,
		})
	}
	return listing
}

func printPartitionListing(w io.Writer, l partitionListing) {
	fmt.Fprintf(w, "Disk %s, GUID %s, %d-byte blocks, usable LBAs %d-%d\n",
		l.Image, l.DiskGUID, l.BlockSize, l.FirstUsableLBA, l.LastUsableLBA)
	if len(l.Partitions) == 0 {
		fmt.Fprintln(w, "(no partitions)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUM\tNAME\tTYPE\tSTART\tEND\tSIZE\tGUID")
	for _, p := range l.Partitions {
		typeName := p.TypeName
		if typeName == "" {
			typeName = p.Type
		}
		name := p.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			p.Number, name, typeName, p.StartLBA, p.EndLBA, display.FormatSize(int64(p.SizeBytes)), p.GUID)
	}
	_ = tw.Flush()
}
