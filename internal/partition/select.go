package partition

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
)

// Numbered pairs an entry with its 1-based partition number.
type Numbered struct {
	Number int
	Entry  Entry
}

// Partition returns the entry for 1-based partition number n.
func (g *GPT) Partition(n int) (Entry, error) {
	if n < 1 || n > len(g.Entries) {
		return Entry{}, fmt.Errorf("partition %d of %d: %w", n, len(g.Entries), ErrNoSuchPartition)
	}
	e := g.Entries[n-1]
	if !e.Used() || e.PartitionGUID == uuid.Nil {
		return Entry{}, fmt.Errorf("partition %d is unused: %w", n, ErrNoSuchPartition)
	}
	return e, nil
}

// Used lists the used entries in table order.
func (g *GPT) Used() []Numbered {
	var out []Numbered
	for i, e := range g.Entries {
		if e.Used() {
			out = append(out, Numbered{Number: i + 1, Entry: e})
		}
	}
	return out
}

// Open returns a partition-relative view of dev for 1-based partition n.
func (g *GPT) Open(dev *blockdev.Device, n int) (*blockdev.Device, Entry, error) {
	e, err := g.Partition(n)
	if err != nil {
		return nil, Entry{}, err
	}
	view, err := dev.Partition(e.StartLBA, e.EndLBA)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("partition %d: %w", n, err)
	}
	return view, e, nil
}
