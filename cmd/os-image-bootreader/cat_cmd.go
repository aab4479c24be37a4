package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/spf13/cobra"
)

// cat command flags
var (
	catPartition int    = 1
	catOutput    string = "" // Write to this file instead of stdout
)

// createCatCommand creates the cat subcommand
func createCatCommand() *cobra.Command {
	catCmd := &cobra.Command{
		Use:   "cat [flags] IMAGE_FILE PATH",
		Short: "Prints a file from a FAT partition",
		Long: `Cat loads the file at the absolute PATH from the FAT file system of a
GPT partition and writes its bytes to stdout or to --output.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeCat,
		ValidArgsFunction: imageFileCompletion,
	}

	catCmd.Flags().IntVarP(&catPartition, "partition", "p", 1, "1-based GPT partition number")
	catCmd.Flags().StringVarP(&catOutput, "output", "o", "", "Write the file here instead of stdout")
	return catCmd
}

func executeCat(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile, filePath := args[0], args[1]

	img, err := openImage(imageFile)
	if err != nil {
		return err
	}
	defer img.Close()

	vol, err := openVolume(img, catPartition)
	if err != nil {
		return err
	}
	data, err := vol.LoadFile(filePath)
	if err != nil {
		return fmt.Errorf("load %s: %w", filePath, err)
	}

	if catOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(catOutput, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", catOutput, err)
	}
	log.Infof("Wrote %s (%d bytes) to %s", filePath, len(data), catOutput)
	return nil
}
