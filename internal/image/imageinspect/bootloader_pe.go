package imageinspect

import (
	"bytes"
	"debug/pe"
	"fmt"
	"sort"
	"strings"
)

// BootloaderKind represents the kind of bootloader detected in an EFI binary.
type BootloaderKind string

// Possible BootloaderKind values
const (
	BootloaderUnknown     BootloaderKind = "unknown"
	BootloaderUKI         BootloaderKind = "uki"
	BootloaderShim        BootloaderKind = "shim"
	BootloaderGrub        BootloaderKind = "grub"
	BootloaderSystemdBoot BootloaderKind = "systemd-boot"
	BootloaderMokManager  BootloaderKind = "mok-manager"
)

// KeyValue represents a simple key-value pair.
type KeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// EFIBinaryEvidence holds what could be learned from one PE file on an ESP.
type EFIBinaryEvidence struct {
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	SHA256 string `json:"sha256" yaml:"sha256"`

	Arch string         `json:"arch,omitempty" yaml:"arch,omitempty"`
	Kind BootloaderKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	Signed        bool `json:"signed,omitempty" yaml:"signed,omitempty"`
	SignatureSize int  `json:"signatureSize,omitempty" yaml:"signatureSize,omitempty"`
	HasSBAT       bool `json:"hasSbat,omitempty" yaml:"hasSbat,omitempty"`

	Sections []string `json:"sections,omitempty" yaml:"sections,omitempty"`

	// Unified kernel image payload, when Kind == uki.
	IsUKI           bool       `json:"isUki,omitempty" yaml:"isUki,omitempty"`
	Cmdline         string     `json:"cmdline,omitempty" yaml:"cmdline,omitempty"`
	Uname           string     `json:"uname,omitempty" yaml:"uname,omitempty"`
	OSReleaseSorted []KeyValue `json:"osRelease,omitempty" yaml:"osRelease,omitempty"`
	KernelSHA256    string     `json:"kernelSha256,omitempty" yaml:"kernelSha256,omitempty"`
	InitrdSHA256    string     `json:"initrdSha256,omitempty" yaml:"initrdSha256,omitempty"`

	Notes []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ParsePEFromBytes parses a PE (Portable Executable) binary read from path p.
func ParsePEFromBytes(p string, blob []byte) (EFIBinaryEvidence, error) {
	ev := EFIBinaryEvidence{
		Path:   p,
		Size:   int64(len(blob)),
		SHA256: sha256Hex(blob),
		Kind:   classifyBootloaderKind(p, nil),
	}

	f, err := pe.NewFile(bytes.NewReader(blob))
	if err != nil {
		return ev, err
	}
	defer f.Close()

	ev.Arch = peMachineToArch(f.FileHeader.Machine)
	for _, s := range f.Sections {
		ev.Sections = append(ev.Sections, strings.TrimRight(s.Name, "\x00"))
	}

	ev.Signed, ev.SignatureSize = peSignatureInfo(f)
	ev.HasSBAT = hasSection(ev.Sections, ".sbat")

	ev.IsUKI = hasSection(ev.Sections, ".linux") &&
		(hasSection(ev.Sections, ".cmdline") || hasSection(ev.Sections, ".osrel") || hasSection(ev.Sections, ".uname"))
	if ev.IsUKI {
		ev.Kind = BootloaderUKI
	} else {
		ev.Kind = classifyBootloaderKind(p, ev.Sections)
	}

	for _, s := range f.Sections {
		name := strings.TrimRight(s.Name, "\x00")
		switch name {
		case ".linux", ".initrd", ".cmdline", ".uname", ".osrel":
		default:
			continue
		}
		data, err := s.Data()
		if err != nil {
			ev.Notes = append(ev.Notes, fmt.Sprintf("read section %s: %v", name, err))
			continue
		}
		switch name {
		case ".linux":
			ev.KernelSHA256 = sha256Hex(data)
		case ".initrd":
			ev.InitrdSHA256 = sha256Hex(data)
		case ".cmdline":
			ev.Cmdline = sectionText(data)
		case ".uname":
			ev.Uname = sectionText(data)
		case ".osrel":
			ev.OSReleaseSorted = parseOSRelease(sectionText(data))
		}
	}
	return ev, nil
}

func sectionText(b []byte) string {
	return strings.TrimSpace(string(bytes.Trim(b, "\x00")))
}

// peSignatureInfo reports whether the security data directory holds an
// Authenticode certificate table.
func peSignatureInfo(f *pe.File) (bool, int) {
	const secDir = 4 // IMAGE_DIRECTORY_ENTRY_SECURITY

	var dd []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dd = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		dd = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	}
	if len(dd) <= secDir {
		return false, 0
	}
	sz, va := dd[secDir].Size, dd[secDir].VirtualAddress
	return sz > 0 && va > 0, int(sz)
}

// classifyBootloaderKind classifies the bootloader kind based on path and sections.
func classifyBootloaderKind(p string, sections []string) BootloaderKind {
	lp := strings.ToLower(p)

	if sections != nil && hasSection(sections, ".linux") {
		return BootloaderUKI
	}
	switch {
	case strings.Contains(lp, "shim"):
		return BootloaderShim
	case strings.Contains(lp, "systemd") && strings.Contains(lp, "boot"):
		return BootloaderSystemdBoot
	case strings.Contains(lp, "grub"):
		return BootloaderGrub
	case strings.Contains(lp, "mmx64.efi"), strings.Contains(lp, "mmia32.efi"):
		return BootloaderMokManager
	}
	return BootloaderUnknown
}

// hasSection checks if the given section name is present in the list (case-insensitive).
func hasSection(secs []string, want string) bool {
	for _, s := range secs {
		if strings.EqualFold(strings.TrimSpace(s), want) {
			return true
		}
	}
	return false
}

// inheritBootloaderKindBySHA assigns a kind to unknown binaries that are
// byte-identical to a classified one, e.g. EFI/BOOT/BOOTX64.EFI copied from shim.
func inheritBootloaderKindBySHA(evs []EFIBinaryEvidence) {
	known := make(map[string]BootloaderKind)
	for _, ev := range evs {
		if ev.SHA256 == "" || ev.Kind == BootloaderUnknown {
			continue
		}
		if _, ok := known[ev.SHA256]; !ok {
			known[ev.SHA256] = ev.Kind
		}
	}
	for i := range evs {
		if evs[i].Kind != BootloaderUnknown || evs[i].SHA256 == "" {
			continue
		}
		if k, ok := known[evs[i].SHA256]; ok {
			evs[i].Kind = k
			evs[i].Notes = append(evs[i].Notes, "bootloader kind inherited from identical EFI binary (sha256 match)")
		}
	}
}

// peMachineToArch maps PE machine types to architecture strings.
func peMachineToArch(m uint16) string {
	switch m {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x86_64"
	case pe.IMAGE_FILE_MACHINE_I386:
		return "x86"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "arm64"
	case pe.IMAGE_FILE_MACHINE_ARM:
		return "arm"
	case pe.IMAGE_FILE_MACHINE_RISCV64:
		return "riscv64"
	default:
		return fmt.Sprintf("unknown(0x%x)", m)
	}
}

// parseOSRelease parses os-release style key=value data into sorted pairs.
func parseOSRelease(raw string) []KeyValue {
	m := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyValue{Key: k, Value: m[k]})
	}
	return out
}
