package testhelper

import (
	"github.com/google/uuid"
)

// GUIDs used by BootDisk.
var (
	BootDiskGUID    = uuid.MustParse("5A4E6F2C-1B3D-4E5F-8A9B-0C1D2E3F4A5B")
	ESPPartGUID     = uuid.MustParse("9D3B1F2A-6C4E-4B8A-9E1D-2F3A4B5C6D7E")
	DataPartGUID    = uuid.MustParse("11223344-5566-4778-899A-ABBCCDDEEFF0")
	espTypeGUID     = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	linuxFSTypeGUID = uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
)

// BootDiskLayout records where BootDisk placed its partitions, in 512-byte blocks.
const (
	BootDiskBlocks = 2304
	ESPStart       = 64
	ESPEnd         = ESPStart + 2048 - 1
	DataStart      = ESPEnd + 1
	DataEnd        = DataStart + 127
)

// BootDisk renders a 512-byte-block GPT disk whose first partition is an EFI
// system partition holding a FAT12 volume with files, and whose second is an
// empty Linux file system partition.
func BootDisk(label string, files []FATFile) ([]byte, *FATImage, error) {
	fat, err := FATVolume{Variant: FAT12, Label: label, Files: files}.Build()
	if err != nil {
		return nil, nil, err
	}
	img, _, err := GPTDisk{
		Blocks:   BootDiskBlocks,
		DiskGUID: BootDiskGUID,
		Partitions: []GPTPartition{
			{Type: espTypeGUID, GUID: ESPPartGUID, Start: ESPStart, End: ESPEnd, Name: "EFI System Partition", Data: fat.Bytes},
			{Type: linuxFSTypeGUID, GUID: DataPartGUID, Start: DataStart, End: DataEnd, Name: "data"},
		},
	}.Build()
	if err != nil {
		return nil, nil, err
	}
	return img, fat, nil
}
