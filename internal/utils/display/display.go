package display

import (
	"fmt"
	"strings"

	"github.com/open-edge-platform/os-image-bootreader/internal/boot"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

// PrintBootSummary logs a highlighted summary of a loaded boot entry.
// This is called once the program and initrd are in memory and verified.
func PrintBootSummary(l *boot.Loaded) {
	log := logger.Logger()

	if l == nil {
		log.Warn("No boot entry loaded")
		return
	}

	// Print highlighted box with success message
	log.Info("")
	log.Info("╔════════════════════════════════════════════════════════════════════════════╗")
	log.Info("║                    ✓ BOOT ENTRY LOADED SUCCESSFULLY                        ║")
	log.Info("╚════════════════════════════════════════════════════════════════════════════╝")
	log.Info("")

	log.Infof("  Entry:        %s", l.Entry.Name)
	if l.Disk != nil {
		log.Infof("  Disk:         %s (%s)", l.Disk.Name, partition.FormatGUID(l.Disk.GUID))
	}
	name := l.Partition.Name()
	if name == "" {
		name = partition.TypeName(l.Partition.TypeGUID)
	}
	log.Infof("  Partition:    %d %q, %s", l.Entry.Partition, name, l.Variant)
	if label := strings.TrimSpace(l.Label); label != "" {
		log.Infof("  Volume label: %s", label)
	}
	log.Info("")
	log.Info("  Loaded Files:")
	log.Infof("    • %s (%s)", l.Entry.Path, FormatSize(int64(len(l.Program))))
	log.Infof("      sha256 %s", l.SHA256)
	if l.Entry.Initrd != "" {
		log.Infof("    • %s (%s)", l.Entry.Initrd, FormatSize(int64(len(l.Initrd))))
	}
	if l.Signer != "" {
		log.Infof("  Signed by:    %s", l.Signer)
	}
	if l.Args != "" {
		log.Infof("  Arguments:    %s", l.Args)
	}

	log.Info("════════════════════════════════════════════════════════════════════════════")
	log.Info("")
}

// FormatSize renders a byte count in B, KB, MB or GB.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	}
	sizeMB := float64(n) / (1024 * 1024)
	if sizeMB > 1024 {
		return fmt.Sprintf("%.2f GB", sizeMB/1024)
	}
	return fmt.Sprintf("%.2f MB", sizeMB)
}
