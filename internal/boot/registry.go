package boot

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
)

// Disk is a registered device known by its GPT disk GUID.
type Disk struct {
	GUID   uuid.UUID
	Name   string
	Device *blockdev.Device

	closer io.Closer
}

// Registry maps disk GUIDs to devices.
type Registry struct {
	mu    sync.RWMutex
	disks map[uuid.UUID]*Disk
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{disks: make(map[uuid.UUID]*Disk)}
}

// Register reads the GPT of dev to learn its disk GUID and records it under
// that GUID. closer, when non-nil, is closed by Close.
func (r *Registry) Register(name string, dev *blockdev.Device, closer io.Closer) (*Disk, error) {
	g, err := partition.Read(dev)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	d := &Disk{GUID: g.DiskGUID(), Name: name, Device: dev, closer: closer}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.disks[d.GUID]; ok {
		return nil, fmt.Errorf("register %s: %s is %s: %w", name, partition.FormatGUID(d.GUID), prev.Name, ErrDuplicateDisk)
	}
	r.disks[d.GUID] = d
	log.Debugf("registered disk %s as %s", name, partition.FormatGUID(d.GUID))
	return d, nil
}

// RegisterImage opens a disk image file and registers it.
func (r *Registry) RegisterImage(path string, opts ...blockdev.Option) (*Disk, error) {
	img, err := blockdev.OpenImage(path, opts...)
	if err != nil {
		return nil, err
	}
	d, err := r.Register(path, img.Device, img)
	if err != nil {
		img.Close()
		return nil, err
	}
	return d, nil
}

// RegisterAll registers every configured disk image. Disks that cannot be
// opened or carry no valid GPT are skipped with a warning. It returns the
// number of disks registered.
func (r *Registry) RegisterAll(disks []config.DiskConfig) int {
	n := 0
	for _, dc := range disks {
		var opts []blockdev.Option
		if dc.SectorSize != 0 {
			opts = append(opts, blockdev.WithSectorSize(dc.SectorSize))
		}
		if _, err := r.RegisterImage(dc.Path, opts...); err != nil {
			log.Warnf("skipping disk %s: %v", dc.Path, err)
			continue
		}
		n++
	}
	return n
}

// Lookup finds a disk by GUID.
func (r *Registry) Lookup(g uuid.UUID) (*Disk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.disks[g]
	return d, ok
}

// Disks lists the registered disks ordered by name.
func (r *Registry) Disks() []*Disk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Disk, 0, len(r.disks))
	for _, d := range r.disks {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every registered disk and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for g, d := range r.disks {
		if d.closer != nil {
			if err := d.closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", d.Name, err))
			}
		}
		delete(r.disks, g)
	}
	return errors.Join(errs...)
}
