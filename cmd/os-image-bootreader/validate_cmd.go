package main

import (
	"fmt"

	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] CONFIG_FILE",
		Short: "Validate a boot configuration file",
		Long: `Validate a boot configuration file against the schema without loading
anything from disk. The file must be in YAML format. Besides the schema,
entry names, disk GUIDs, partition numbers and paths are checked.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	configPath := args[0]

	log.Infof("validating configuration file: %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %v", err)
	}

	log.Infof("✓ Configuration validation successful")
	log.Infof("  Log level: %s", cfg.LogLevel)
	log.Infof("  Disks: %d", len(cfg.Disks))
	log.Infof("  Boot entries: %d", len(cfg.BootEntries))
	if cfg.DefaultEntry != "" {
		log.Infof("  Default entry: %s", cfg.DefaultEntry)
	}
	if cfg.Keyring != "" {
		log.Infof("  Keyring: %s", cfg.Keyring)
	}
	for _, e := range cfg.BootEntries {
		log.Infof("    - %s: disk %s partition %d %s", e.Name, e.DiskGUID, e.Partition, e.Path)
	}

	return nil
}
