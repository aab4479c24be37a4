package main

import (
	"fmt"
	"io"

	"github.com/open-edge-platform/os-image-bootreader/internal/image/imageinspect"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/spf13/cobra"
)

// cmd needs only this method.
type inspector interface {
	Inspect(imagePath string) (*imageinspect.ImageSummary, error)
}

// Allow tests to inject a fake inspector.
var newInspector = func(hash, crossCheck bool) inspector {
	in := imageinspect.NewInspector(hash, crossCheck)
	in.SectorSize = sectorSize
	return in
}

// Output format command flags
var (
	outputFormat string = "text" // Output format for the inspection results
	prettyJSON   bool   = false  // Pretty-print JSON output
	hashImages   bool   = false  // Compute the SHA256 of the image file
	crossCheck   bool   = false  // Compare the GPT reading with go-diskfs
)

// createInspectCommand creates the inspect subcommand
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE_FILE",
		Short: "inspects a disk image file",
		Long: `Inspect performs a deep inspection of a raw or compressed disk
		image and provides useful details such as the partition table layout,
		free space and alignment, the FAT geometry of each partition and the
		EFI binaries (shim, systemd-boot, GRUB, UKI) found on it.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkOutputFormat(outputFormat)
		},
		RunE:              executeInspect,
		ValidArgsFunction: imageFileCompletion,
	}

	// Add flags
	addOutputFlags(inspectCmd.Flags(), &outputFormat, &prettyJSON)

	inspectCmd.Flags().BoolVar(&hashImages, "hash-images", false,
		"Compute SHA256 hash of the image file (slower on large images)")
	inspectCmd.Flags().BoolVar(&crossCheck, "cross-check", false,
		"Cross-check the partition table against go-diskfs (raw images only)")

	return inspectCmd
}

// executeInspect handles the inspect command execution logic
func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]
	log.Infof("Inspecting image file: %s", imageFile)

	inspector := newInspector(hashImages, crossCheck)

	inspectionResults, err := inspector.Inspect(imageFile)
	if err != nil {
		return fmt.Errorf("image inspection failed: %v", err)
	}

	return writeInspectionResult(cmd, inspectionResults, outputFormat, prettyJSON)
}

func writeInspectionResult(cmd *cobra.Command, summary *imageinspect.ImageSummary, format string, pretty bool) error {
	return writeStructured(cmd.OutOrStdout(), summary, format, pretty, func(w io.Writer) {
		imageinspect.PrintSummary(w, summary)
	})
}
