// Package boot resolves configured boot entries to program bytes: it finds
// the disk by GUID, selects the GPT partition, opens the FAT volume and loads
// and verifies the program and its initrd.
package boot

import (
	"errors"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
)

var log = logger.Logger()

// Loaded is the result of a successful boot entry load.
type Loaded struct {
	Entry     config.BootEntry
	Disk      *Disk
	Partition partition.Entry
	Variant   fat.Variant
	Label     string
	Program   []byte
	Initrd    []byte
	Args      string
	SHA256    string
	Signer    string
}

// Loader loads boot entries from the disks of a registry.
type Loader struct {
	registry *Registry
	keyring  openpgp.EntityList
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithKeyring sets the keys trusted for detached program signatures.
func WithKeyring(kr openpgp.EntityList) LoaderOption {
	return func(l *Loader) { l.keyring = kr }
}

// NewLoader returns a loader over reg.
func NewLoader(reg *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{registry: reg}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open resolves the disk, partition and file system of e without reading any
// file. Failures are reported as *Failure.
func (l *Loader) Open(e config.BootEntry) (*fat.Volume, *Disk, partition.Entry, error) {
	g, err := e.DiskUUID()
	if err != nil {
		return nil, nil, partition.Entry{}, fail(e.Name, StageDisk, fmt.Errorf("%w: %v", ErrNoSuchDisk, err))
	}
	disk, ok := l.registry.Lookup(g)
	if !ok {
		return nil, nil, partition.Entry{}, fail(e.Name, StageDisk, fmt.Errorf("%w: %s", ErrNoSuchDisk, partition.FormatGUID(g)))
	}

	table, err := partition.Read(disk.Device)
	if err != nil {
		return nil, nil, partition.Entry{}, fail(e.Name, StageGPT, err)
	}
	view, pe, err := table.Open(disk.Device, e.Partition)
	if err != nil {
		return nil, nil, partition.Entry{}, fail(e.Name, StagePartition, err)
	}

	vol, err := fat.Open(view)
	if err != nil {
		// Device errors pass through; only a boot sector that does not
		// describe a FAT volume counts as an unknown file system.
		if errors.Is(err, fat.ErrInvalidBootSector) || errors.Is(err, fat.ErrTruncated) {
			err = fmt.Errorf("%w: %w", ErrUnknownFS, err)
		}
		return nil, nil, partition.Entry{}, fail(e.Name, StageFS, err)
	}
	if e.FS != config.FSAuto && string(e.FS) != vol.Variant().String() {
		log.Warnf("boot entry %q expects %s but partition %d holds %s", e.Name, e.FS, e.Partition, vol.Variant())
	}
	return vol, disk, pe, nil
}

// Load reads the program and initrd of e and verifies them.
func (l *Loader) Load(e config.BootEntry) (*Loaded, error) {
	log.Infof("Loading boot entry %q", e.Name)

	vol, disk, pe, err := l.Open(e)
	if err != nil {
		return nil, err
	}

	prog, err := vol.LoadFile(e.Path)
	if err != nil {
		return nil, fail(e.Name, StageRead, err)
	}
	out := &Loaded{
		Entry:     e,
		Disk:      disk,
		Partition: pe,
		Variant:   vol.Variant(),
		Label:     vol.Label(),
		Program:   prog,
		Args:      e.Args,
		SHA256:    digest(prog),
	}

	if err := CheckProgramType(e.ProgType, prog); err != nil {
		return nil, fail(e.Name, StageVerify, err)
	}
	if err := checkDigest(e.SHA256, out.SHA256); err != nil {
		return nil, fail(e.Name, StageVerify, err)
	}
	if e.Signature != "" {
		sig, err := vol.LoadFile(e.Signature)
		if err != nil {
			return nil, fail(e.Name, StageRead, fmt.Errorf("signature: %w", err))
		}
		signer, err := verifySignature(l.keyring, prog, sig)
		if err != nil {
			return nil, fail(e.Name, StageVerify, err)
		}
		out.Signer = signer
	}

	if e.Initrd != "" {
		if out.Initrd, err = vol.LoadFile(e.Initrd); err != nil {
			return nil, fail(e.Name, StageRead, fmt.Errorf("initrd: %w", err))
		}
	}

	log.Debugf("boot entry %q: %d byte program, %d byte initrd from %s partition %d",
		e.Name, len(out.Program), len(out.Initrd), disk.Name, e.Partition)
	return out, nil
}
