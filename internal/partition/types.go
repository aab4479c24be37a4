package partition

import (
	"strings"

	"github.com/google/uuid"
)

// Well-known partition type GUIDs.
var (
	TypeEFISystem      = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	TypeBIOSBoot       = uuid.MustParse("21686148-6449-6E6F-744E-656564454649")
	TypeMicrosoftBasic = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	TypeLinuxFS        = uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	TypeLinuxSwap      = uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F")
	TypeLinuxRootX64   = uuid.MustParse("4F68BCE3-E8CD-4DB1-96E7-FBCAF984B709")
	TypeLinuxXBOOTLDR  = uuid.MustParse("BC13C2FF-59E6-4262-A352-B275FD6F7172")
)

var typeNames = map[uuid.UUID]string{
	TypeEFISystem:      "EFI System",
	TypeBIOSBoot:       "BIOS boot",
	TypeMicrosoftBasic: "Microsoft basic data",
	TypeLinuxFS:        "Linux filesystem",
	TypeLinuxSwap:      "Linux swap",
	TypeLinuxRootX64:   "Linux root (x86-64)",
	TypeLinuxXBOOTLDR:  "Linux extended boot",
}

// TypeName returns a display name for a partition type GUID, or "" if unknown.
func TypeName(t uuid.UUID) string {
	return typeNames[t]
}

// FormatGUID renders a GUID in the conventional upper-case form.
func FormatGUID(g uuid.UUID) string {
	return strings.ToUpper(g.String())
}
