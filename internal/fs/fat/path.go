package fat

import (
	"fmt"
	"strings"
)

// splitPath validates an absolute path and returns its non-empty components.
// dir reports a trailing slash, which requires the last component to name a
// directory.
func splitPath(p string) (parts []string, dir bool, err error) {
	if !strings.HasPrefix(p, "/") {
		return nil, false, fmt.Errorf("%q: %w", p, ErrNonAbsolutePath)
	}
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts, strings.HasSuffix(p, "/"), nil
}

// RootDirectory returns the records of the root directory. FAT12 and FAT16
// keep it in a fixed region ahead of the data area; FAT32 stores it as an
// ordinary cluster chain.
func (v *Volume) RootDirectory() ([]DirEntry, error) {
	var (
		raw []byte
		err error
	)
	if v.variant == FAT32 {
		raw, err = v.ReadClusterChain(v.layout.RootCluster)
	} else {
		bps := uint64(v.layout.BytesPerSector)
		raw, err = v.dev.ReadBytes(uint64(v.layout.FirstRootDirSector)*bps,
			int(uint64(v.layout.RootDirSectors)*bps))
	}
	if err != nil {
		return nil, fmt.Errorf("read root directory: %w", err)
	}
	return DecodeDirectory(raw), nil
}

func (v *Volume) directoryAt(cluster uint32) ([]DirEntry, error) {
	// ".." entries that point at the root carry cluster 0.
	if cluster == 0 {
		return v.RootDirectory()
	}
	raw, err := v.ReadClusterChain(cluster)
	if err != nil {
		return nil, err
	}
	return DecodeDirectory(raw), nil
}

func find(entries []DirEntry, name string) (DirEntry, bool) {
	for _, e := range entries {
		if e.IsVolumeLabel() {
			continue
		}
		if e.Matches(name) {
			return e, true
		}
	}
	return DirEntry{}, false
}

// walk resolves every component of parts and returns the final entry. A nil
// entry means the root directory. With dir set the final entry must be a
// directory.
func (v *Volume) walk(p string, parts []string, dir bool) (*DirEntry, error) {
	listing, err := v.RootDirectory()
	if err != nil {
		return nil, err
	}
	var cur *DirEntry
	for i, name := range parts {
		e, ok := find(listing, name)
		if !ok {
			return nil, fmt.Errorf("%s: %w", p, ErrFileNotFound)
		}
		cur = &e
		if i == len(parts)-1 {
			if dir && !e.IsDir() {
				return nil, fmt.Errorf("%s: %q: %w", p, name, ErrNotDirectory)
			}
			break
		}
		if !e.IsDir() {
			return nil, fmt.Errorf("%s: %q: %w", p, name, ErrNotDirectory)
		}
		if listing, err = v.directoryAt(e.FirstCluster()); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return cur, nil
}

// LoadFile returns the contents of the file at the absolute path p. Names
// match case-insensitively against long and short names.
func (v *Volume) LoadFile(p string) ([]byte, error) {
	parts, dir, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	e, err := v.walk(p, parts, dir)
	if err != nil {
		return nil, err
	}
	if e == nil || e.IsDir() {
		return nil, fmt.Errorf("%s: %w", p, ErrReadDirectoryAsFile)
	}
	return v.ReadFile(*e)
}

// ReadFile returns the contents of a file entry, truncated to its size.
func (v *Volume) ReadFile(e DirEntry) ([]byte, error) {
	if e.IsDir() {
		return nil, ErrReadDirectoryAsFile
	}
	size := int64(e.Size())
	if size == 0 {
		return []byte{}, nil
	}
	data, err := v.readChain(e.FirstCluster(), size)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < size {
		return nil, fmt.Errorf("%q holds %d of %d bytes: %w", e.Name(), len(data), size, ErrShortChain)
	}
	return data[:size], nil
}

// ReadDir lists the directory at the absolute path p, without the dot
// records and the volume label.
func (v *Volume) ReadDir(p string) ([]DirEntry, error) {
	parts, _, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	var listing []DirEntry
	if len(parts) == 0 {
		listing, err = v.RootDirectory()
	} else {
		var e *DirEntry
		if e, err = v.walk(p, parts, false); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			return nil, fmt.Errorf("%s: %w", p, ErrNotDirectory)
		}
		listing, err = v.directoryAt(e.FirstCluster())
	}
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(listing))
	for _, e := range listing {
		if e.IsVolumeLabel() || e.IsDot() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Stat returns the entry at p. The root has no record and reports ok=false.
func (v *Volume) Stat(p string) (e DirEntry, ok bool, err error) {
	parts, dir, err := splitPath(p)
	if err != nil {
		return DirEntry{}, false, err
	}
	if len(parts) == 0 {
		return DirEntry{}, false, nil
	}
	found, err := v.walk(p, parts, dir)
	if err != nil {
		return DirEntry{}, false, err
	}
	return *found, true, nil
}
