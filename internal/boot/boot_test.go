package boot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	pgperrors "github.com/ProtonMail/go-crypto/openpgp/errors"
	"github.com/google/uuid"
	"github.com/open-edge-platform/os-image-bootreader/internal/blockdev"
	"github.com/open-edge-platform/os-image-bootreader/internal/config"
	"github.com/open-edge-platform/os-image-bootreader/internal/fs/fat"
	"github.com/open-edge-platform/os-image-bootreader/internal/partition"
	"github.com/open-edge-platform/os-image-bootreader/internal/testhelper"
)

var (
	signerOnce sync.Once
	signer     *openpgp.Entity
	outsider   *openpgp.Entity
	signerErr  error
)

func testKeys(t *testing.T) (*openpgp.Entity, *openpgp.Entity) {
	t.Helper()
	signerOnce.Do(func() {
		signer, signerErr = openpgp.NewEntity("Boot Signer", "", "boot@example.com", nil)
		if signerErr == nil {
			outsider, signerErr = openpgp.NewEntity("Someone Else", "", "else@example.com", nil)
		}
	})
	if signerErr != nil {
		t.Fatalf("generate OpenPGP keys: %v", signerErr)
	}
	return signer, outsider
}

func peImage(n int) []byte {
	b := make([]byte, n)
	copy(b, "MZ")
	binary.LittleEndian.PutUint32(b[0x3C:], 0x40)
	copy(b[0x40:], "PE\x00\x00")
	for i := 0x44; i < n; i++ {
		b[i] = byte(i)
	}
	return b
}

func elfImage(n int) []byte {
	b := make([]byte, n)
	copy(b, "\x7fELF")
	for i := 4; i < n; i++ {
		b[i] = byte(i * 3)
	}
	return b
}

type fixture struct {
	disk     []byte
	kernel   []byte
	initrd   []byte
	shim     []byte
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, _ := testKeys(t)
	f := &fixture{
		kernel: elfImage(3000),
		initrd: bytes.Repeat([]byte("initrd"), 120),
		shim:   peImage(1500),
	}

	var sig, armored bytes.Buffer
	if err := openpgp.DetachSign(&sig, key, bytes.NewReader(f.shim), nil); err != nil {
		t.Fatalf("DetachSign() error: %v", err)
	}
	if err := openpgp.ArmoredDetachSign(&armored, key, bytes.NewReader(f.kernel), nil); err != nil {
		t.Fatalf("ArmoredDetachSign() error: %v", err)
	}

	disk, _, err := testhelper.BootDisk("BOOTVOL", []testhelper.FATFile{
		{Path: "/EFI/BOOT/BOOTX64.EFI", Data: f.shim},
		{Path: "/EFI/BOOT/BOOTX64.EFI.sig", Data: sig.Bytes()},
		{Path: "/vmlinuz", Data: f.kernel},
		{Path: "/vmlinuz.asc", Data: armored.Bytes()},
		{Path: "/initrd.img", Data: f.initrd},
	})
	if err != nil {
		t.Fatalf("build boot disk: %v", err)
	}
	f.disk = disk

	dev, err := blockdev.NewMemory(disk, 512)
	if err != nil {
		t.Fatalf("NewMemory() error: %v", err)
	}
	f.registry = NewRegistry()
	if _, err := f.registry.Register("disk0", dev, nil); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	return f
}

func kernelEntry() config.BootEntry {
	return config.BootEntry{
		Name:      "linux",
		DiskGUID:  testhelper.BootDiskGUID.String(),
		Partition: 1,
		FS:        config.FSFAT12,
		ProgType:  config.ProgramELF,
		Path:      "/vmlinuz",
		Initrd:    "/initrd.img",
		Args:      "console=ttyS0",
	}
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	e := kernelEntry()
	e.SHA256 = sum(f.kernel)

	got, err := NewLoader(f.registry).Load(e)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(got.Program, f.kernel) {
		t.Errorf("Program = %d bytes, want %d", len(got.Program), len(f.kernel))
	}
	if !bytes.Equal(got.Initrd, f.initrd) {
		t.Errorf("Initrd = %d bytes, want %d", len(got.Initrd), len(f.initrd))
	}
	if got.Args != "console=ttyS0" || got.SHA256 != e.SHA256 {
		t.Errorf("Args/SHA256 = %q/%s", got.Args, got.SHA256)
	}
	if got.Variant != fat.FAT12 || got.Label != "BOOTVOL" {
		t.Errorf("Variant/Label = %s/%q", got.Variant, got.Label)
	}
	if got.Partition.PartitionGUID != testhelper.ESPPartGUID {
		t.Errorf("Partition GUID = %s", got.Partition.PartitionGUID)
	}
	if got.Disk.Name != "disk0" || got.Signer != "" {
		t.Errorf("Disk/Signer = %q/%q", got.Disk.Name, got.Signer)
	}
}

func TestLoadFSHintMismatchIsNotFatal(t *testing.T) {
	f := newFixture(t)
	e := kernelEntry()
	e.FS = config.FSFAT32
	if _, err := NewLoader(f.registry).Load(e); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestLoadSignatures(t *testing.T) {
	f := newFixture(t)
	key, other := testKeys(t)
	shim := config.BootEntry{
		Name:      "shim",
		DiskGUID:  testhelper.BootDiskGUID.String(),
		Partition: 1,
		ProgType:  config.ProgramUEFI,
		Path:      "/EFI/BOOT/BOOTX64.EFI",
		Signature: "/EFI/BOOT/BOOTX64.EFI.sig",
	}
	armoredKernel := kernelEntry()
	armoredKernel.Signature = "/vmlinuz.asc"
	wrongFile := shim
	wrongFile.Signature = "/vmlinuz.asc"
	missingSig := shim
	missingSig.Signature = "/EFI/BOOT/missing.sig"

	tests := []struct {
		name      string
		keyring   openpgp.EntityList
		entry     config.BootEntry
		wantErr   error
		wantCause error
	}{
		{name: "binary signature", keyring: openpgp.EntityList{key}, entry: shim},
		{name: "armored signature", keyring: openpgp.EntityList{other, key}, entry: armoredKernel},
		{name: "untrusted signer", keyring: openpgp.EntityList{other}, entry: shim, wantErr: ErrSignature, wantCause: pgperrors.ErrUnknownIssuer},
		{name: "no keyring", entry: shim, wantErr: ErrSignature},
		{name: "signature of another file", keyring: openpgp.EntityList{key}, entry: wrongFile, wantErr: ErrSignature},
		{name: "missing signature file", keyring: openpgp.EntityList{key}, entry: missingSig, wantErr: fat.ErrFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewLoader(f.registry, WithKeyring(tt.keyring)).Load(tt.entry)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load() err = %v, want %v", err, tt.wantErr)
				}
				if tt.wantCause != nil && !errors.Is(err, tt.wantCause) {
					t.Errorf("Load() err = %v, want cause %v", err, tt.wantCause)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if got.Signer != "Boot Signer <boot@example.com>" {
				t.Errorf("Signer = %q", got.Signer)
			}
		})
	}
}

func TestLoadFailures(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name      string
		mutate    func(e *config.BootEntry)
		wantStage Stage
		wantErr   error
	}{
		{"unknown disk", func(e *config.BootEntry) { e.DiskGUID = uuid.NewString() }, StageDisk, ErrNoSuchDisk},
		{"malformed disk guid", func(e *config.BootEntry) { e.DiskGUID = "not-a-guid" }, StageDisk, ErrNoSuchDisk},
		{"unused partition", func(e *config.BootEntry) { e.Partition = 3 }, StagePartition, partition.ErrNoSuchPartition},
		{"partition zero", func(e *config.BootEntry) { e.Partition = 0 }, StagePartition, partition.ErrNoSuchPartition},
		{"partition without FAT", func(e *config.BootEntry) { e.Partition = 2 }, StageFS, ErrUnknownFS},
		{"missing program", func(e *config.BootEntry) { e.Path = "/vmlinuz-old" }, StageRead, fat.ErrFileNotFound},
		{"directory as program", func(e *config.BootEntry) { e.Path = "/EFI" }, StageRead, fat.ErrReadDirectoryAsFile},
		{"relative program path", func(e *config.BootEntry) { e.Path = "vmlinuz" }, StageRead, fat.ErrNonAbsolutePath},
		{"missing initrd", func(e *config.BootEntry) { e.Initrd = "/initrd-old.img" }, StageRead, fat.ErrFileNotFound},
		{"wrong program type", func(e *config.BootEntry) { e.ProgType = config.ProgramUEFI }, StageVerify, ErrProgramType},
		{"wrong digest", func(e *config.BootEntry) { e.SHA256 = sum([]byte("other")) }, StageVerify, ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := kernelEntry()
			tt.mutate(&e)
			_, err := NewLoader(f.registry).Load(e)
			var failure *Failure
			if !errors.As(err, &failure) {
				t.Fatalf("Load() err = %v, want *Failure", err)
			}
			if failure.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s", failure.Stage, tt.wantStage)
			}
			if failure.Entry != "linux" {
				t.Errorf("Entry = %q, want linux", failure.Entry)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// failingReader fails every read that touches the byte at failAt once armed.
type failingReader struct {
	blockdev.Reader
	failAt uint64
	armed  bool
}

var errDeviceRead = errors.New("device read failed")

func (r *failingReader) ReadBytes(offset uint64, count int) ([]byte, error) {
	if r.armed && offset <= r.failAt && r.failAt < offset+uint64(count) {
		return nil, errDeviceRead
	}
	return r.Reader.ReadBytes(offset, count)
}

func TestLoadDeviceErrorInBootSector(t *testing.T) {
	f := newFixture(t)
	mem, err := blockdev.NewMemory(f.disk, 512)
	if err != nil {
		t.Fatalf("NewMemory() error: %v", err)
	}
	r := &failingReader{Reader: mem, failAt: testhelper.ESPStart * 512}
	dev, err := blockdev.New(r)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	reg := NewRegistry()
	if _, err := reg.Register("disk0", dev, nil); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	r.armed = true

	_, err = NewLoader(reg).Load(kernelEntry())
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != StageFS {
		t.Fatalf("Load() err = %v, want fs stage failure", err)
	}
	if !errors.Is(err, errDeviceRead) {
		t.Errorf("Load() err = %v, want the device error", err)
	}
	if errors.Is(err, ErrUnknownFS) {
		t.Errorf("Load() err = %v, a device error is not an unknown file system", err)
	}
}

func TestLoadCorruptedGPT(t *testing.T) {
	f := newFixture(t)
	// both headers damaged after registration
	f.disk[512+20] ^= 0xFF
	f.disk[len(f.disk)-512+20] ^= 0xFF

	_, err := NewLoader(f.registry).Load(kernelEntry())
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != StageGPT {
		t.Fatalf("Load() err = %v, want gpt stage failure", err)
	}
	if !errors.Is(err, partition.ErrBadPartitionTable) {
		t.Errorf("Load() err = %v, want ErrBadPartitionTable", err)
	}
}

func TestCheckProgramType(t *testing.T) {
	truncatedPE := peImage(0x80)
	binary.LittleEndian.PutUint32(truncatedPE[0x3C:], 0x7E)

	tests := []struct {
		name    string
		typ     config.ProgramType
		prog    []byte
		wantErr bool
	}{
		{"any accepts anything", config.ProgramAny, []byte("text"), false},
		{"UEFI", config.ProgramUEFI, peImage(0x80), false},
		{"UEFI tiny MZ stub", config.ProgramUEFI, []byte("MZ"), false},
		{"UEFI without MZ", config.ProgramUEFI, elfImage(0x80), true},
		{"UEFI PE offset past end", config.ProgramUEFI, truncatedPE, true},
		{"ELF", config.ProgramELF, elfImage(16), false},
		{"ELF given PE", config.ProgramELF, peImage(0x80), true},
		{"ELF empty", config.ProgramELF, nil, true},
		{"unknown type", config.ProgramType("COFF"), peImage(0x80), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckProgramType(tt.typ, tt.prog)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckProgramType() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrProgramType) {
				t.Errorf("CheckProgramType() err = %v, want ErrProgramType", err)
			}
		})
	}
}

func TestLoadKeyring(t *testing.T) {
	key, other := testKeys(t)
	path := filepath.Join(t.TempDir(), "keys.asc")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create keyring: %v", err)
	}
	w, err := armor.Encode(out, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor.Encode() error: %v", err)
	}
	for _, e := range []*openpgp.Entity{key, other} {
		if err := e.Serialize(w); err != nil {
			t.Fatalf("Serialize() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	out.Close()

	kr, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("LoadKeyring() error: %v", err)
	}
	if len(kr) != 2 {
		t.Errorf("LoadKeyring() returned %d keys, want 2", len(kr))
	}
	if _, err := LoadKeyring(filepath.Join(t.TempDir(), "missing.asc")); err == nil {
		t.Error("expected error for a missing keyring")
	}
}
