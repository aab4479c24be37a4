// Package imageextract copies files and directory trees out of a FAT volume
// into any afero file system.
package imageextract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/utils/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
)

// ErrExists is returned when a destination file exists and overwriting is off.
var ErrExists = errors.New("destination exists")

// Options controls an extraction.
type Options struct {
	// Overwrite replaces existing destination files.
	Overwrite bool
	// Progress receives a byte progress bar; nil disables it.
	Progress io.Writer
	// PreserveTimes copies modification times when the destination supports it.
	PreserveTimes bool
}

// Result counts what was copied.
type Result struct {
	Files int   `json:"files" yaml:"files"`
	Dirs  int   `json:"dirs" yaml:"dirs"`
	Bytes int64 `json:"bytes" yaml:"bytes"`
}

// Extract copies src (an absolute path on vol) to dst on dest. A file is
// written to dst itself; a directory's contents are written below dst.
func Extract(vol *fat.Volume, src string, dest afero.Fs, dst string, opts Options) (Result, error) {
	log := logger.Logger()

	name, err := ioName(src)
	if err != nil {
		return Result{}, err
	}
	source := afero.FromIOFS{FS: vol.FS()}

	root, err := source.Stat(name)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", src, err)
	}

	total, err := treeSize(source, name, root)
	if err != nil {
		return Result{}, err
	}
	bar := newBar(total, opts.Progress)

	var res Result
	err = afero.Walk(source, name, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		target := dst
		if rel := relTo(name, p); rel != "" {
			target = filepath.Join(dst, filepath.FromSlash(rel))
		}

		if info.IsDir() {
			if err := dest.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			res.Dirs++
			return nil
		}

		if bar != nil {
			bar.Describe(path.Base(p))
		}
		n, err := copyFile(source, p, dest, target, opts, bar)
		if err != nil {
			return err
		}
		if opts.PreserveTimes {
			if err := dest.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
				log.Debugf("Cannot set times on %s: %v", target, err)
			}
		}
		res.Files++
		res.Bytes += n
		return nil
	})
	if bar != nil {
		if ferr := bar.Finish(); ferr != nil {
			log.Errorf("failed to finish progress bar: %v", ferr)
		}
	}
	if err != nil {
		return res, err
	}

	log.Infof("Extracted %s: %d files, %d directories, %d bytes", src, res.Files, res.Dirs, res.Bytes)
	return res, nil
}

func copyFile(source afero.Fs, name string, dest afero.Fs, target string, opts Options, bar *progressbar.ProgressBar) (int64, error) {
	if !opts.Overwrite {
		if _, err := dest.Stat(target); err == nil {
			return 0, fmt.Errorf("%s: %w", target, ErrExists)
		}
	}
	if dir := filepath.Dir(target); dir != "." {
		if err := dest.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	in, err := source.Open(name)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer in.Close()

	out, err := dest.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}

	var w io.Writer = out
	if bar != nil {
		w = io.MultiWriter(out, bar)
	}
	n, err := io.Copy(w, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", name, err)
	}
	return n, nil
}

// treeSize sums the sizes of the files below name.
func treeSize(source afero.Fs, name string, root os.FileInfo) (int64, error) {
	if !root.IsDir() {
		return root.Size(), nil
	}
	var total int64
	err := afero.Walk(source, name, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func newBar(total int64, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// ioName converts an absolute volume path to an io/fs name.
func ioName(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%q: %w", p, fat.ErrNonAbsolutePath)
	}
	clean := strings.Trim(path.Clean(p), "/")
	if clean == "" {
		return ".", nil
	}
	return clean, nil
}

// relTo returns p relative to root in slash form, or "" when p is root.
func relTo(root, p string) string {
	p = filepath.ToSlash(p)
	if root == "." {
		if p == "." {
			return ""
		}
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
}
