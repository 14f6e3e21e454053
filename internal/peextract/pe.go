// Package peextract builds a *registry.Registry by scanning a game
// executable's .rdata section for the reflection metadata the engine embeds
// there (spec.md §4.2, C5). It does not implement a general PE parser —
// only the minimal DOS/NT header and section table walk needed to locate
// .rdata and translate between RVAs and file offsets.
package peextract

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/xerrors"
)

const (
	dosMagic  = 0x5A4D // "MZ"
	peMagic   = 0x4550 // "PE\0\0"
	pe32Magic = 0x10b
	pe32Plus  = 0x20b
)

type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

func (s *sectionHeader) name() string {
	n := 0
	for n < len(s.Name) && s.Name[n] != 0 {
		n++
	}
	return string(s.Name[:n])
}

// Image is a memory-mapped PE file, opened read-only for the duration of one
// extraction pass.
type Image struct {
	f        *os.File
	data     mmap.MMap
	sections []sectionHeader
}

// Open mmaps path and parses just enough of its PE structure (headers,
// section table) to resolve RVAs, per spec.md §4.2.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("peextract: %w", err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("peextract: mmap: %w", err)
	}
	img := &Image{f: f, data: data}
	if err := img.parseHeaders(); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// Close unmaps the image and closes the underlying file.
func (img *Image) Close() error {
	err := img.data.Unmap()
	cerr := img.f.Close()
	if err != nil {
		return err
	}
	return cerr
}

func (img *Image) parseHeaders() error {
	if len(img.data) < 0x40 {
		return xerrors.New("peextract: file too small for a DOS header")
	}
	if binary.LittleEndian.Uint16(img.data[0:2]) != dosMagic {
		return xerrors.New("peextract: missing MZ signature")
	}
	peOffset := binary.LittleEndian.Uint32(img.data[0x3c:0x40])
	if int(peOffset)+24 > len(img.data) {
		return xerrors.New("peextract: NT header offset out of range")
	}
	if binary.LittleEndian.Uint32(img.data[peOffset:peOffset+4]) != peMagic {
		return xerrors.New("peextract: missing PE signature")
	}

	coffOffset := peOffset + 4
	numSections := binary.LittleEndian.Uint16(img.data[coffOffset+2 : coffOffset+4])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(img.data[coffOffset+16 : coffOffset+18])

	optOffset := coffOffset + 20
	if int(optOffset)+2 > len(img.data) {
		return xerrors.New("peextract: optional header out of range")
	}
	magic := binary.LittleEndian.Uint16(img.data[optOffset : optOffset+2])
	if magic != pe32Magic && magic != pe32Plus {
		return xerrors.Errorf("peextract: unrecognized optional header magic %#04x", magic)
	}

	sectionTableOffset := optOffset + uint32(sizeOfOptionalHeader)
	img.sections = make([]sectionHeader, 0, numSections)
	for i := uint16(0); i < numSections; i++ {
		off := int(sectionTableOffset) + int(i)*40
		if off+40 > len(img.data) {
			return xerrors.New("peextract: section table out of range")
		}
		var sh sectionHeader
		r := img.data[off : off+40]
		copy(sh.Name[:], r[0:8])
		sh.VirtualSize = binary.LittleEndian.Uint32(r[8:12])
		sh.VirtualAddress = binary.LittleEndian.Uint32(r[12:16])
		sh.SizeOfRawData = binary.LittleEndian.Uint32(r[16:20])
		sh.PointerToRawData = binary.LittleEndian.Uint32(r[20:24])
		sh.Characteristics = binary.LittleEndian.Uint32(r[36:40])
		img.sections = append(img.sections, sh)
	}
	return nil
}

// Section returns the raw file bytes backing the named section (e.g.
// ".rdata"), or nil if the image has no such section.
func (img *Image) Section(name string) []byte {
	for _, sh := range img.sections {
		if sh.name() == name {
			start := sh.PointerToRawData
			end := start + sh.SizeOfRawData
			if int(end) > len(img.data) {
				end = uint32(len(img.data))
			}
			return img.data[start:end]
		}
	}
	return nil
}

// RvaToSectionOffset converts a virtual address into a (section name,
// offset within Section(name)) pair, or ok=false if rva falls outside every
// section (e.g. it addresses the header itself).
func (img *Image) RvaToSectionOffset(rva uint32) (name string, offset uint32, ok bool) {
	for _, sh := range img.sections {
		if rva >= sh.VirtualAddress && rva < sh.VirtualAddress+sh.VirtualSize {
			return sh.name(), rva - sh.VirtualAddress, true
		}
	}
	return "", 0, false
}

// FileOffset converts a virtual address directly into an absolute file
// offset, by locating its section and adding PointerToRawData.
func (img *Image) FileOffset(rva uint32) (uint32, bool) {
	for _, sh := range img.sections {
		if rva >= sh.VirtualAddress && rva < sh.VirtualAddress+sh.VirtualSize {
			return sh.PointerToRawData + (rva - sh.VirtualAddress), true
		}
	}
	return 0, false
}

// Bytes exposes the image's full mapped contents, for code that already has
// an absolute file offset (e.g. one returned by FileOffset).
func (img *Image) Bytes() []byte { return img.data }
