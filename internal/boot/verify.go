package boot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/open-edge-platform/os-image-bootreader/internal/config"
)

var (
	peMagic  = []byte("MZ")
	peSig    = []byte("PE\x00\x00")
	elfMagic = []byte("\x7fELF")
)

// CheckProgramType verifies the executable magic for the declared type. An
// empty type accepts anything.
func CheckProgramType(t config.ProgramType, prog []byte) error {
	switch t {
	case config.ProgramAny:
		return nil
	case config.ProgramUEFI:
		if !bytes.HasPrefix(prog, peMagic) {
			return fmt.Errorf("%w: UEFI program lacks the MZ header", ErrProgramType)
		}
		if len(prog) >= 0x40 {
			off := uint64(binary.LittleEndian.Uint32(prog[0x3C:0x40]))
			if off+4 > uint64(len(prog)) || !bytes.Equal(prog[off:off+4], peSig) {
				return fmt.Errorf("%w: UEFI program lacks the PE signature", ErrProgramType)
			}
		}
		return nil
	case config.ProgramELF:
		if !bytes.HasPrefix(prog, elfMagic) {
			return fmt.Errorf("%w: not an ELF image", ErrProgramType)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown program type %q", ErrProgramType, t)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func checkDigest(want, got string) error {
	if want == "" || strings.EqualFold(want, got) {
		return nil
	}
	return fmt.Errorf("%w: have %s, want %s", ErrChecksum, got, strings.ToLower(want))
}

// LoadKeyring reads an armored OpenPGP public keyring.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()
	kr, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read keyring %s: %w", path, err)
	}
	return kr, nil
}

// verifySignature checks a binary or armored detached signature and returns
// the signer's primary identity.
func verifySignature(kr openpgp.EntityList, signed, sig []byte) (string, error) {
	if len(kr) == 0 {
		return "", fmt.Errorf("%w: no keyring configured", ErrSignature)
	}
	var (
		signer *openpgp.Entity
		err    error
	)
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN")) {
		signer, err = openpgp.CheckArmoredDetachedSignature(kr, bytes.NewReader(signed), bytes.NewReader(sig), nil)
	} else {
		signer, err = openpgp.CheckDetachedSignature(kr, bytes.NewReader(signed), bytes.NewReader(sig), nil)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignature, err)
	}
	if id := signer.PrimaryIdentity(); id != nil {
		return id.Name, nil
	}
	return fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint), nil
}
