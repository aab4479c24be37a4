package main

import (
	"io"

	"github.com/open-edge-platform/os-image-bootreader/internal/image/imageextract"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// extract command flags
var (
	extractPartition  int  = 1
	extractOverwrite  bool = false
	extractNoProgress bool = false
)

// Allow tests to extract into a memory file system.
var extractDest = func() afero.Fs { return afero.NewOsFs() }

// createExtractCommand creates the extract subcommand
func createExtractCommand() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract [flags] IMAGE_FILE PATH DEST",
		Short: "Copies a file or directory out of a FAT partition",
		Long: `Extract copies the file or directory tree at the absolute PATH on the FAT
file system of a GPT partition to DEST on the local file system. A file is
written to DEST itself; a directory's contents are written below DEST.
Modification times are preserved.`,
		Args:              cobra.ExactArgs(3),
		RunE:              executeExtract,
		ValidArgsFunction: imageFileCompletion,
	}

	extractCmd.Flags().IntVarP(&extractPartition, "partition", "p", 1, "1-based GPT partition number")
	extractCmd.Flags().BoolVar(&extractOverwrite, "overwrite", false, "Replace existing destination files")
	extractCmd.Flags().BoolVar(&extractNoProgress, "no-progress", false, "Do not show a progress bar")
	return extractCmd
}

func executeExtract(cmd *cobra.Command, args []string) error {
	imageFile, src, dst := args[0], args[1], args[2]

	img, err := openImage(imageFile)
	if err != nil {
		return err
	}
	defer img.Close()

	vol, err := openVolume(img, extractPartition)
	if err != nil {
		return err
	}

	var progress io.Writer
	if !extractNoProgress {
		progress = cmd.ErrOrStderr()
	}
	_, err = imageextract.Extract(vol, src, extractDest(), dst, imageextract.Options{
		Overwrite:     extractOverwrite,
		Progress:      progress,
		PreserveTimes: true,
	})
	return err
}
