package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/open-edge-platform/os-image-bootreader/internal/boot"
	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/display"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/spf13/cobra"
)

// boot command flags
var (
	bootList    bool   = false
	bootSaveDir string = "" // Write the loaded program and initrd here
)

// createBootCommand creates the boot subcommand
func createBootCommand() *cobra.Command {
	bootCmd := &cobra.Command{
		Use:   "boot [flags] [ENTRY]",
		Short: "Loads a boot entry from the configured disks",
		Long: `Boot resolves a boot entry of the configuration file: it finds the disk
by its GPT disk GUID, selects the partition, opens the FAT file system and
loads the program and its initrd. The program type, SHA256 digest and
detached OpenPGP signature are checked when the entry asks for it.
Without ENTRY the entry menu is printed and the default entry is used; the
menu is skipped when instant_boot is set. With offer_shell set a failed load
is reported as a warning and the command exits successfully.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeBoot,
	}

	bootCmd.Flags().BoolVarP(&bootList, "list", "l", false, "List the configured boot entries and exit")
	bootCmd.Flags().StringVar(&bootSaveDir, "save", "", "Write the loaded program and initrd into this directory")
	return bootCmd
}

func executeBoot(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	cfg := config.Global()

	if bootList {
		printBootEntries(cmd, cfg)
		return nil
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	} else if !cfg.InstantBoot {
		printBootEntries(cmd, cfg)
	}
	entry, err := cfg.Entry(name)
	if err != nil {
		return err
	}

	var opts []boot.LoaderOption
	if cfg.Keyring != "" {
		kr, err := boot.LoadKeyring(cfg.Keyring)
		if err != nil {
			return err
		}
		opts = append(opts, boot.WithKeyring(kr))
	}

	reg := boot.NewRegistry()
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warnf("closing disks: %v", err)
		}
	}()

	disks := make([]config.DiskConfig, len(cfg.Disks))
	for i, d := range cfg.Disks {
		if d.SectorSize == 0 {
			d.SectorSize = sectorSize
		}
		disks[i] = d
	}
	n := reg.RegisterAll(disks)
	log.Debugf("registered %d of %d disks", n, len(disks))

	loaded, err := boot.NewLoader(reg, opts...).Load(entry)
	if err != nil {
		if cfg.OfferShell {
			log.Errorf("%v", err)
			log.Warnf("boot entry %q was not loaded, shell fallback available", entry.Name)
			return nil
		}
		return err
	}
	display.PrintBootSummary(loaded)

	if bootSaveDir != "" {
		return saveLoaded(bootSaveDir, loaded)
	}
	return nil
}

func printBootEntries(cmd *cobra.Command, cfg config.Config) {
	out := cmd.OutOrStdout()
	if len(cfg.BootEntries) == 0 {
		fmt.Fprintln(out, "(no boot entries)")
		return
	}
	def := cfg.DefaultEntry
	if def == "" {
		def = cfg.BootEntries[0].Name
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tDISK\tPART\tPATH")
	for _, e := range cfg.BootEntries {
		mark := ""
		if strings.EqualFold(e.Name, def) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", mark, e.Name, strings.ToUpper(e.DiskGUID), e.Partition, e.Path)
	}
	_ = tw.Flush()
}

func saveLoaded(dir string, l *boot.Loaded) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	files := map[string][]byte{path.Base(l.Entry.Path): l.Program}
	if l.Entry.Initrd != "" {
		files[path.Base(l.Entry.Initrd)] = l.Initrd
	}
	for name, data := range files {
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		logger.Logger().Infof("Saved %s (%s)", target, display.FormatSize(int64(len(data))))
	}
	return nil
}
