package fat

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"
)

// FS exposes a Volume through io/fs.
type FS struct {
	v *Volume
}

var (
	_ fs.ReadDirFS  = (*FS)(nil)
	_ fs.ReadFileFS = (*FS)(nil)
	_ fs.StatFS     = (*FS)(nil)
)

// FS returns an io/fs view of the volume.
func (v *Volume) FS() *FS { return &FS{v: v} }

func toAbs(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

func mapErr(op, name string, err error) error {
	switch {
	case errors.Is(err, ErrFileNotFound):
		err = fs.ErrNotExist
	case errors.Is(err, ErrNotDirectory):
		err = fs.ErrNotExist
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (f *FS) stat(op, name string) (fileInfo, error) {
	if !fs.ValidPath(name) {
		return fileInfo{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	e, ok, err := f.v.Stat(toAbs(name))
	if err != nil {
		return fileInfo{}, mapErr(op, name, err)
	}
	if !ok {
		return fileInfo{name: ".", root: true}, nil
	}
	return fileInfo{name: path.Base(name), entry: e}, nil
}

// Open implements fs.FS.
func (f *FS) Open(name string) (fs.File, error) {
	info, err := f.stat("open", name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		entries, err := f.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &dirFile{info: info, entries: entries}, nil
	}
	data, err := f.v.ReadFile(info.entry)
	if err != nil {
		return nil, mapErr("open", name, err)
	}
	return &file{info: info, Reader: bytes.NewReader(data)}, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	list, err := f.v.ReadDir(toAbs(name))
	if err != nil {
		return nil, mapErr("readdir", name, err)
	}
	out := make([]fs.DirEntry, 0, len(list))
	for _, e := range list {
		out = append(out, fileInfo{name: e.Name(), entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// ReadFile implements fs.ReadFileFS.
func (f *FS) ReadFile(name string) ([]byte, error) {
	info, err := f.stat("readfile", name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: ErrReadDirectoryAsFile}
	}
	data, err := f.v.ReadFile(info.entry)
	if err != nil {
		return nil, mapErr("readfile", name, err)
	}
	return data, nil
}

// Stat implements fs.StatFS.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	info, err := f.stat("stat", name)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// fileInfo serves as both fs.FileInfo and fs.DirEntry.
type fileInfo struct {
	name  string
	entry DirEntry
	root  bool
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) IsDir() bool  { return fi.root || fi.entry.IsDir() }
func (fi fileInfo) Sys() any     { return fi.entry }

func (fi fileInfo) Size() int64 {
	if fi.IsDir() {
		return 0
	}
	return int64(fi.entry.Size())
}

func (fi fileInfo) Mode() fs.FileMode {
	if fi.IsDir() {
		return fs.ModeDir | 0o555
	}
	if fi.entry.IsReadOnly() {
		return 0o444
	}
	return 0o644
}

func (fi fileInfo) ModTime() time.Time {
	if fi.root {
		return time.Time{}
	}
	return fi.entry.ModTime()
}

func (fi fileInfo) Type() fs.FileMode          { return fi.Mode().Type() }
func (fi fileInfo) Info() (fs.FileInfo, error) { return fi, nil }

type file struct {
	*bytes.Reader
	info fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *file) Close() error               { return nil }

type dirFile struct {
	info    fileInfo
	entries []fs.DirEntry
	offset  int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}
