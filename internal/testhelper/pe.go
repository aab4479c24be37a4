package testhelper

import (
	"encoding/binary"
)

// PE machine types used by the builders.
const (
	MachineAMD64 = 0x8664
	MachineARM64 = 0xaa64
)

// PESection is one section of a generated PE32+ image.
type PESection struct {
	Name string
	Data []byte
}

// PEImage describes a minimal PE32+ executable that debug/pe can parse.
type PEImage struct {
	Machine  uint16
	Sections []PESection
	// Signed fills the security data directory with a fake certificate table.
	Signed bool
}

const (
	peHeaderOffset   = 0x40
	peOptHeaderSize  = 240
	peSectionHdrSize = 40
	peFileAlign      = 0x200
)

// Build renders the image. Section data follows the headers, each section
// padded to 512 bytes.
func (p PEImage) Build() []byte {
	le := binary.LittleEndian
	machine := p.Machine
	if machine == 0 {
		machine = MachineAMD64
	}

	headers := peHeaderOffset + 4 + 20 + peOptHeaderSize + peSectionHdrSize*len(p.Sections)
	off := alignUp(headers, peFileAlign)

	type placed struct{ off, size int }
	var layout []placed
	for _, s := range p.Sections {
		size := alignUp(len(s.Data), peFileAlign)
		layout = append(layout, placed{off: off, size: size})
		off += size
	}
	certOff := off
	certSize := 0
	if p.Signed {
		certSize = 16
		off += certSize
	}

	img := make([]byte, off)
	img[0], img[1] = 'M', 'Z'
	le.PutUint32(img[0x3c:], peHeaderOffset)
	copy(img[peHeaderOffset:], "PE\x00\x00")

	fh := img[peHeaderOffset+4:]
	le.PutUint16(fh[0:2], machine)
	le.PutUint16(fh[2:4], uint16(len(p.Sections)))
	le.PutUint16(fh[16:18], peOptHeaderSize)
	le.PutUint16(fh[18:20], 0x0022)

	oh := fh[20 : 20+peOptHeaderSize]
	le.PutUint16(oh[0:2], 0x20b)
	le.PutUint32(oh[32:36], 0x1000)      // SectionAlignment
	le.PutUint32(oh[36:40], peFileAlign) // FileAlignment
	le.PutUint16(oh[68:70], 10)          // Subsystem: EFI application
	le.PutUint32(oh[108:112], 16)        // NumberOfRvaAndSizes
	if p.Signed {
		dd := oh[112+4*8:]
		le.PutUint32(dd[0:4], uint32(certOff))
		le.PutUint32(dd[4:8], uint32(certSize))
		le.PutUint32(img[certOff:], uint32(certSize))
		le.PutUint16(img[certOff+4:], 0x0200)
		le.PutUint16(img[certOff+6:], 0x0002)
	}

	sh := fh[20+peOptHeaderSize:]
	for i, s := range p.Sections {
		h := sh[i*peSectionHdrSize : (i+1)*peSectionHdrSize]
		copy(h[0:8], s.Name)
		le.PutUint32(h[8:12], uint32(len(s.Data)))
		le.PutUint32(h[12:16], uint32(0x1000*(i+1)))
		le.PutUint32(h[16:20], uint32(layout[i].size))
		le.PutUint32(h[20:24], uint32(layout[i].off))
		le.PutUint32(h[36:40], 0x40000040)
		copy(img[layout[i].off:], s.Data)
	}
	return img
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
