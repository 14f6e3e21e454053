package peextract

import (
	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/registry"
)

// Extract opens the executable at path, scans its .rdata section for the
// embedded type registry, and returns a fully-resolved *registry.Registry
// (spec.md §4.2, C5). version is stamped onto the result for the cache
// freshness check in registry.EnsureFresh.
func Extract(path, version string) (*registry.Registry, error) {
	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	rdata := img.Section(".rdata")
	if rdata == nil {
		return nil, xerrors.New("peextract: image has no .rdata section")
	}
	base, ok := sectionBaseRVA(img, ".rdata")
	if !ok {
		return nil, xerrors.New("peextract: could not resolve .rdata base RVA")
	}

	anchors := findAnchorRVAs(rdata, base)
	if len(anchors) == 0 {
		return nil, xerrors.New("peextract: no anchor literals found in .rdata; unrecognized build")
	}

	data := img.Bytes()
	rvaToOffset := func(rva uint32) (uint32, bool) { return img.FileOffset(rva) }

	w := &walker{
		data:        data,
		rvaToOffset: rvaToOffset,
		rvaToIndex:  make(map[uint32]registry.TypeIndex),
		raw:         make(map[registry.TypeIndex]rawTypeDesc),
	}

	for _, anchorRVA := range anchors {
		descRVA, ok := findDescriptorByQualifiedNameRVA(data, rvaToOffset, base, uint32(len(rdata)), anchorRVA)
		if !ok {
			continue
		}
		w.enqueue(descRVA)
	}
	if err := w.drain(); err != nil {
		return nil, err
	}

	types := w.build()
	reg := registry.New(types, version)
	if err := reg.Validate(); err != nil {
		return nil, xerrors.Errorf("peextract: extracted registry failed validation: %w", err)
	}
	return reg, nil
}

// sectionBaseRVA returns a section's VirtualAddress, used to turn an offset
// within its raw bytes back into an RVA when scanning for anchor literals.
func sectionBaseRVA(img *Image, name string) (uint32, bool) {
	for _, sh := range img.sections {
		if sh.name() == name {
			return sh.VirtualAddress, true
		}
	}
	return 0, false
}

// findDescriptorByQualifiedNameRVA scans every 4-byte-aligned offset of
// .rdata for a typeDescSize-byte record whose qualifiedNameRVA field equals
// nameRVA — the anchor
// literal is a type's own name, so its descriptor is the first (and only)
// slot that points back at it.
func findDescriptorByQualifiedNameRVA(data []byte, rvaToOffset func(uint32) (uint32, bool), base, size uint32, nameRVA uint32) (uint32, bool) {
	for off := base; off+typeDescSize <= base+size; off += 4 {
		fileOff, ok := rvaToOffset(off)
		if !ok || int(fileOff)+typeDescSize > len(data) {
			continue
		}
		rd := decodeRawTypeDesc(data, fileOff)
		if rd.qualifiedNameRVA == nameRVA {
			return off, true
		}
	}
	return 0, false
}

// walker performs the BFS over type descriptor RVAs: Inner, struct field
// types, and enum storage types all chain to further descriptors, and the
// registry is only as complete as this walk's reachability (spec.md §4.2).
type walker struct {
	data        []byte
	rvaToOffset func(uint32) (uint32, bool)

	queue      []uint32
	queued     map[uint32]bool
	rvaToIndex map[uint32]registry.TypeIndex
	order      []uint32
	raw        map[registry.TypeIndex]rawTypeDesc
}

func (w *walker) enqueue(rva uint32) {
	if w.queued == nil {
		w.queued = make(map[uint32]bool)
	}
	if w.queued[rva] {
		return
	}
	w.queued[rva] = true
	w.queue = append(w.queue, rva)
}

func (w *walker) drain() error {
	for len(w.queue) > 0 {
		rva := w.queue[0]
		w.queue = w.queue[1:]

		off, ok := w.rvaToOffset(rva)
		if !ok || int(off)+typeDescSize > len(w.data) {
			return xerrors.Errorf("peextract: type descriptor at RVA %#x is out of range", rva)
		}
		rd := decodeRawTypeDesc(w.data, off)
		idx := registry.TypeIndex(len(w.order))
		w.rvaToIndex[rva] = idx
		w.order = append(w.order, rva)
		w.raw[idx] = rd

		if rd.innerRVA != 0 {
			w.enqueue(rd.innerRVA)
		}
		for i := uint32(0); i < rd.fieldCount; i++ {
			foff, ok := w.rvaToOffset(rd.fieldsArrayRVA + i*fieldEntrySize)
			if !ok {
				continue
			}
			fe := decodeRawFieldEntry(w.data, foff)
			if fe.typeDescRVA != 0 {
				w.enqueue(fe.typeDescRVA)
			}
		}
	}
	return nil
}

// build converts every discovered raw descriptor into a registry.Type, now
// that every RVA the walk touched has a stable TypeIndex assigned.
func (w *walker) build() []registry.Type {
	types := make([]registry.Type, len(w.order))
	for i, rva := range w.order {
		rd := w.raw[registry.TypeIndex(i)]
		types[i] = w.decodeType(rva, rd)
	}
	return types
}

func (w *walker) typeIndexOf(rva uint32) registry.TypeIndex {
	if rva == 0 {
		return registry.NoType
	}
	idx, ok := w.rvaToIndex[rva]
	if !ok {
		return registry.NoType
	}
	return idx
}

func (w *walker) str(rva uint32) string {
	if rva == 0 {
		return ""
	}
	off, ok := w.rvaToOffset(rva)
	if !ok {
		return ""
	}
	return readCString(w.data, off)
}

func (w *walker) decodeType(_ uint32, rd rawTypeDesc) registry.Type {
	t := registry.Type{
		QualifiedName:    w.str(rd.qualifiedNameRVA),
		Name:             w.str(rd.nameRVA),
		ImpactName:       w.str(rd.impactNameRVA),
		Size:             rd.size,
		Alignment:        rd.alignment,
		ElementAlignment: rd.elementAlignment,
		PrimitiveKind:    registry.PrimitiveKind(rd.primitiveKind),
		Flags:            registry.Flags(rd.flags),
		Inner:            w.typeIndexOf(rd.innerRVA),
		QualifiedHash:    rd.qualifiedHash,
		InternalHash:     rd.internalHash,
		NameHash:         rd.nameHash,
		ImpactHash:       rd.impactHash,
	}
	if rd.namespaceNodeRVA != 0 {
		t.Namespace = walkNamespace(w.data, w.rvaToOffset, rd.namespaceNodeRVA)
	}
	for i := uint32(0); i < rd.fieldCount; i++ {
		foff, ok := w.rvaToOffset(rd.fieldsArrayRVA + i*fieldEntrySize)
		if !ok {
			continue
		}
		fe := decodeRawFieldEntry(w.data, foff)
		t.StructFields = append(t.StructFields, registry.Field{
			Name:   w.str(fe.nameRVA),
			Type:   w.typeIndexOf(fe.typeDescRVA),
			Offset: fe.offset,
		})
	}
	for i := uint32(0); i < rd.enumFieldCount; i++ {
		eoff, ok := w.rvaToOffset(rd.enumFieldsRVA + i*enumEntrySize)
		if !ok {
			continue
		}
		ee := decodeRawEnumEntry(w.data, eoff)
		t.EnumFields = append(t.EnumFields, registry.EnumField{
			Name:  w.str(ee.nameRVA),
			Value: ee.value,
		})
	}
	if rd.defaultValueRVA != 0 && rd.defaultValueSize > 0 {
		if off, ok := w.rvaToOffset(rd.defaultValueRVA); ok && int(off)+int(rd.defaultValueSize) <= len(w.data) {
			t.DefaultValue = append([]byte(nil), w.data[off:off+rd.defaultValueSize]...)
		}
	}
	return t
}
