// Package config loads the boot configuration: the disks to register, the
// boot entries and the logging and menu settings.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"gopkg.in/yaml.v3"
)

var log = logger.Logger()

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "bootreader.yml"

// MaxEntryNameLength is the longest boot entry name accepted.
const MaxEntryNameLength = 64

// ErrInvalidConfig wraps every semantic validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrNoSuchEntry is returned when a boot entry name does not resolve.
var ErrNoSuchEntry = errors.New("no such boot entry")

// FSType names the file system a boot entry expects.
type FSType string

const (
	FSAuto  FSType = ""
	FSFAT12 FSType = "fat12"
	FSFAT16 FSType = "fat16"
	FSFAT32 FSType = "fat32"
)

// ProgramType is the executable format of a boot entry's program.
type ProgramType string

const (
	ProgramAny  ProgramType = ""
	ProgramUEFI ProgramType = "UEFI"
	ProgramELF  ProgramType = "ELF"
)

// Config is the boot configuration file.
type Config struct {
	// LogLevel is one of debug, info, warn or error
	LogLevel string `yaml:"log_level"`

	// InstantBoot boots the default entry without showing the entry menu
	InstantBoot bool `yaml:"instant_boot"`

	// OfferShell turns a failed load into a warning that a shell fallback is
	// available instead of an error
	OfferShell bool `yaml:"offer_shell"`

	// DefaultEntry names the entry booted when none is chosen
	DefaultEntry string `yaml:"default_entry"`

	// Keyring is an armored OpenPGP public keyring for signature checks
	Keyring string `yaml:"keyring"`

	// Disks are the disk images to register by their GPT disk GUID
	Disks []DiskConfig `yaml:"disks"`

	// BootEntries are the bootable programs
	BootEntries []BootEntry `yaml:"boot_entries"`
}

// DiskConfig is one disk image to register.
type DiskConfig struct {
	Path string `yaml:"path"`
	// SectorSize overrides the probed logical sector size
	SectorSize uint32 `yaml:"sector_size,omitempty"`
}

// BootEntry locates a program by disk GUID, partition number and path.
type BootEntry struct {
	Name      string      `yaml:"name" json:"name"`
	DiskGUID  string      `yaml:"disk_guid" json:"disk_guid"`
	Partition int         `yaml:"partition" json:"partition"`
	FS        FSType      `yaml:"fs,omitempty" json:"fs,omitempty"`
	ProgType  ProgramType `yaml:"progtype,omitempty" json:"progtype,omitempty"`
	Path      string      `yaml:"path" json:"path"`
	Initrd    string      `yaml:"initrd,omitempty" json:"initrd,omitempty"`
	Args      string      `yaml:"args,omitempty" json:"args,omitempty"`
	Signature string      `yaml:"signature,omitempty" json:"signature,omitempty"`
	SHA256    string      `yaml:"sha256,omitempty" json:"sha256,omitempty"`
}

// DiskUUID parses the entry's disk GUID.
func (e BootEntry) DiskUUID() (uuid.UUID, error) {
	return uuid.Parse(e.DiskGUID)
}

// DefaultConfig returns the configuration used for unset keys.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
	}
}

// Merge fills zero values of c from defaults.
func (c Config) Merge(defaults Config) Config {
	merged := c
	if merged.LogLevel == "" {
		merged.LogLevel = defaults.LogLevel
	}
	if merged.DefaultEntry == "" {
		merged.DefaultEntry = defaults.DefaultEntry
	}
	if merged.Keyring == "" {
		merged.Keyring = defaults.Keyring
	}
	if len(merged.Disks) == 0 {
		merged.Disks = defaults.Disks
	}
	if len(merged.BootEntries) == 0 {
		merged.BootEntries = defaults.BootEntries
	}
	// InstantBoot and OfferShell default to false, so an explicit false wins.
	return merged
}

// Parse validates data against the schema, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		cfg := DefaultConfig()
		return &cfg, nil
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the file at path. Relative disk and keyring paths are
// resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range cfg.Disks {
		cfg.Disks[i].Path = resolve(base, cfg.Disks[i].Path)
	}
	if cfg.Keyring != "" {
		cfg.Keyring = resolve(base, cfg.Keyring)
	}
	log.Debugf("loaded %s: %d disks, %d boot entries", path, len(cfg.Disks), len(cfg.BootEntries))
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate runs the checks the schema cannot express.
func (c *Config) Validate() error {
	var problems []string
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	seen := make(map[string]bool)
	for i, e := range c.BootEntries {
		label := fmt.Sprintf("boot_entries[%d]", i)
		if e.Name == "" {
			problems = append(problems, label+": name is required")
		} else {
			label = fmt.Sprintf("boot entry %q", e.Name)
		}
		if utf8.RuneCountInString(e.Name) > MaxEntryNameLength {
			problems = append(problems, fmt.Sprintf("%s: name longer than %d characters", label, MaxEntryNameLength))
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			problems = append(problems, label+": duplicate name")
		}
		seen[key] = true
		if _, err := e.DiskUUID(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: disk_guid: %v", label, err))
		}
		if e.Partition < 1 {
			problems = append(problems, fmt.Sprintf("%s: partition %d, numbering starts at 1", label, e.Partition))
		}
		switch e.FS {
		case FSAuto, FSFAT12, FSFAT16, FSFAT32:
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown fs %q", label, e.FS))
		}
		switch e.ProgType {
		case ProgramAny, ProgramUEFI, ProgramELF:
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown progtype %q", label, e.ProgType))
		}
		if e.SHA256 != "" {
			if sum, err := hex.DecodeString(e.SHA256); err != nil || len(sum) != sha256.Size {
				problems = append(problems, fmt.Sprintf("%s: sha256 is not a hex SHA-256 digest", label))
			}
		}
		for _, f := range [][2]string{{"path", e.Path}, {"initrd", e.Initrd}, {"signature", e.Signature}} {
			if (f[0] == "path" || f[1] != "") && !strings.HasPrefix(f[1], "/") {
				problems = append(problems, fmt.Sprintf("%s: %s %q is not absolute", label, f[0], f[1]))
			}
		}
	}
	if c.DefaultEntry != "" && !seen[strings.ToLower(c.DefaultEntry)] {
		problems = append(problems, fmt.Sprintf("default_entry %q does not name a boot entry", c.DefaultEntry))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Entry returns the boot entry called name, or the default entry when name is
// empty. Without a default the first entry is used.
func (c *Config) Entry(name string) (BootEntry, error) {
	if name == "" {
		name = c.DefaultEntry
	}
	if name == "" {
		if len(c.BootEntries) == 0 {
			return BootEntry{}, fmt.Errorf("%w: configuration has no boot entries", ErrNoSuchEntry)
		}
		return c.BootEntries[0], nil
	}
	for _, e := range c.BootEntries {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return BootEntry{}, fmt.Errorf("%w: %q", ErrNoSuchEntry, name)
}

var (
	globalMu     sync.RWMutex
	globalConfig = DefaultConfig()
)

// SetGlobal installs the process-wide configuration.
func SetGlobal(c Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = c
}

// Global returns the process-wide configuration.
func Global() Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}
