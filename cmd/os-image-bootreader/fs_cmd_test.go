package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/spf13/afero"
)

func TestLsCommand(t *testing.T) {
	image := writeImage(t)

	t.Run("Root", func(t *testing.T) {
		out, err := runRoot(t, "ls", image)
		if err != nil {
			t.Fatalf("ls error = %v", err)
		}
		for _, want := range []string{"EFI/", "loader/", "d----"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		out, err := runRoot(t, "ls", "--format", "json", image, "/efi/linux")
		if err != nil {
			t.Fatalf("ls error = %v", err)
		}
		var got dirListing
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if got.Variant != "fat12" || len(got.Entries) != 1 {
			t.Fatalf("listing = %+v", got)
		}
		e := got.Entries[0]
		if e.Name != "initrd.img" || e.ShortName != "INITRD~1.IMG" || e.Size != 600 || e.Dir {
			t.Errorf("entry = %+v", e)
		}
	})

	t.Run("NotADirectory", func(t *testing.T) {
		_, err := runRoot(t, "ls", image, "/loader/loader.conf")
		if !errors.Is(err, fat.ErrNotDirectory) {
			t.Fatalf("error = %v, want ErrNotDirectory", err)
		}
	})

	t.Run("NoSuchPartition", func(t *testing.T) {
		_, err := runRoot(t, "ls", "--partition", "7", image)
		if !errors.Is(err, partition.ErrNoSuchPartition) {
			t.Fatalf("error = %v, want ErrNoSuchPartition", err)
		}
	})

	t.Run("NotFAT", func(t *testing.T) {
		_, err := runRoot(t, "ls", "--partition", "2", image)
		if err == nil || !strings.Contains(err.Error(), "partition 2") {
			t.Fatalf("error = %v, want a partition 2 error", err)
		}
	})
}

func TestAttrString(t *testing.T) {
	e := fat.DirEntry{Short: fat.ShortEntry{Attr: fat.AttrDirectory | fat.AttrHidden}}
	if got := attrString(e); got != "d-h--" {
		t.Errorf("attrString = %q, want d-h--", got)
	}
}

func TestCatCommand(t *testing.T) {
	image := writeImage(t)

	t.Run("Stdout", func(t *testing.T) {
		out, err := runRoot(t, "cat", image, "/LOADER/LOADER.CONF")
		if err != nil {
			t.Fatalf("cat error = %v", err)
		}
		if out != "timeout 3\n" {
			t.Errorf("cat output = %q", out)
		}
	})

	t.Run("OutputFile", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "bootx64.efi")
		if _, err := runRoot(t, "cat", "-o", dst, image, "/EFI/BOOT/BOOTX64.EFI"); err != nil {
			t.Fatalf("cat error = %v", err)
		}
		got, err := os.ReadFile(dst)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, loaderImage) {
			t.Errorf("wrote %d bytes, want %d", len(got), len(loaderImage))
		}
	})

	t.Run("Directory", func(t *testing.T) {
		_, err := runRoot(t, "cat", image, "/EFI")
		if !errors.Is(err, fat.ErrReadDirectoryAsFile) {
			t.Fatalf("error = %v, want ErrReadDirectoryAsFile", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := runRoot(t, "cat", image, "/EFI/BOOT/GRUBX64.EFI")
		if !errors.Is(err, fat.ErrFileNotFound) {
			t.Fatalf("error = %v, want ErrFileNotFound", err)
		}
	})
}

func TestExtractCommand(t *testing.T) {
	image := writeImage(t)

	dest := afero.NewMemMapFs()
	old := extractDest
	extractDest = func() afero.Fs { return dest }
	t.Cleanup(func() { extractDest = old })

	if _, err := runRoot(t, "extract", "--no-progress", image, "/EFI", "/out"); err != nil {
		t.Fatalf("extract error = %v", err)
	}
	got, err := afero.ReadFile(dest, "/out/BOOT/BOOTX64.EFI")
	if err != nil {
		t.Fatalf("extracted loader: %v", err)
	}
	if !bytes.Equal(got, loaderImage) {
		t.Errorf("extracted %d bytes, want %d", len(got), len(loaderImage))
	}
	if _, err := dest.Stat("/out/Linux/initrd.img"); err != nil {
		t.Errorf("initrd not extracted: %v", err)
	}

	_, err = runRoot(t, "extract", "--no-progress", image, "/EFI", "/out")
	if err == nil || !strings.Contains(err.Error(), "destination exists") {
		t.Fatalf("second extract error = %v, want destination exists", err)
	}
	if _, err := runRoot(t, "extract", "--no-progress", "--overwrite", image, "/EFI", "/out"); err != nil {
		t.Fatalf("extract --overwrite error = %v", err)
	}
}
