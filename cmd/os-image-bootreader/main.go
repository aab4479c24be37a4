package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Version information, set by the release build
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Persistent command flags
var (
	configFile string = "" // Path to the boot configuration file
	logLevel   string = "" // Log level override (debug, info, warn, error)
	sectorSize uint32 = 0  // Logical sector size override for disk images
)

func main() {
	defer logger.Sync()

	rootCmd := createRootCommand()
	if err := rootCmd.Execute(); err != nil {
		logger.Logger().Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// createRootCommand builds the command tree
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "os-image-bootreader",
		Short: "Reads GPT disk images and FAT boot partitions",
		Long: `os-image-bootreader reads the GPT partition table of a disk image and
the FAT12, FAT16 or FAT32 file system of its partitions without mounting them.
It lists partitions and directories, copies files out, inspects EFI system
partitions and resolves the boot entries of a boot configuration file.`,
		Version:           fmt.Sprintf("%s (built %s)", Version, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initGlobalConfig,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		fmt.Sprintf("Boot configuration file (default ./%s when present)", config.DefaultConfigFile))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides the configuration)")
	rootCmd.PersistentFlags().Uint32Var(&sectorSize, "sector-size", 0,
		"Logical sector size of disk images (default: probed)")

	rootCmd.AddCommand(createPartitionsCommand())
	rootCmd.AddCommand(createLsCommand())
	rootCmd.AddCommand(createCatCommand())
	rootCmd.AddCommand(createExtractCommand())
	rootCmd.AddCommand(createInspectCommand())
	rootCmd.AddCommand(createBootCommand())
	rootCmd.AddCommand(createValidateCommand())

	return rootCmd
}

// initGlobalConfig loads the configuration file, when there is one, and
// applies the log level. The --log-level flag wins over the file.
func initGlobalConfig(cmd *cobra.Command, args []string) error {
	path := configFile
	explicit := path != ""
	if !explicit {
		if _, err := os.Stat(config.DefaultConfigFile); err == nil {
			path = config.DefaultConfigFile
		}
	}

	cfg := config.DefaultConfig()
	// validate reports its own errors for the file it is given.
	if path != "" && cmd.Name() != "validate" {
		loaded, err := config.Load(path)
		switch {
		case err == nil:
			cfg = *loaded
		case explicit || !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("configuration: %w", err)
		}
	}
	config.SetGlobal(cfg)

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := logger.SetLevel(level); err != nil {
		return err
	}
	return nil
}
