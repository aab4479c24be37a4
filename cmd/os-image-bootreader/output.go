package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// addOutputFlags registers --format and --pretty on fs.
func addOutputFlags(fs *pflag.FlagSet, format *string, pretty *bool) {
	fs.StringVar(format, "format", "text",
		"Specify the output format: text, json or yaml")
	fs.BoolVar(pretty, "pretty", false,
		"Pretty-print JSON output (only for --format json)")
}

func checkOutputFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", format)
	}
}

// writeStructured writes v as JSON or YAML. Text output is rendered by the
// caller through printText.
func writeStructured(out io.Writer, v any, format string, pretty bool, printText func(io.Writer)) error {
	switch format {
	case "text":
		printText(out)
		return nil

	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(v, "", "  ")
		} else {
			b, err = json.Marshal(v)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprint(out, string(b))
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// openImage opens a disk image honouring --sector-size.
func openImage(path string) (*blockdev.Image, error) {
	var opts []blockdev.Option
	if sectorSize != 0 {
		opts = append(opts, blockdev.WithSectorSize(sectorSize))
	}
	return blockdev.OpenImage(path, opts...)
}

// openVolume reads the GPT of img and opens the FAT volume of partition n.
func openVolume(img *blockdev.Image, n int) (*fat.Volume, error) {
	table, err := partition.Read(img.Device)
	if err != nil {
		return nil, err
	}
	view, _, err := table.Open(img.Device, n)
	if err != nil {
		return nil, err
	}
	vol, err := fat.Open(view)
	if err != nil {
		return nil, fmt.Errorf("partition %d: %w", n, err)
	}
	return vol, nil
}

// imageFileCompletion completes disk image file names.
func imageFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"img", "raw", "gz", "zst", "xz"}, cobra.ShellCompDirectiveFilterFileExt
}
