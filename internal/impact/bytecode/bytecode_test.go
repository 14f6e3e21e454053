package bytecode

import (
	"testing"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/registry"
)

func newTestRegistry() *registry.Registry {
	t := registry.Type{
		QualifiedName: "game::PlaySound",
		ImpactName:    "PlaySound",
		QualifiedHash: hashio.FNV32aString("game::PlaySound"),
		ImpactHash:    hashio.FNV32aString("PlaySound"),
	}
	return registry.New([]registry.Type{t}, "v1")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	instrs := []Instr{
		{Op: OpIConst0},
		{Op: OpGStore, Operands: []uint32{makeDataHandle(0)}},
		{Op: OpGLoad, Operands: []uint32{makeDataHandle(0)}},
		{Op: OpInc},
		{Op: OpBr, Operands: []uint32{0}},
		{Op: OpHalt},
	}
	words := Encode(instrs)
	got := Decode(words)
	if len(got) != len(instrs) {
		t.Fatalf("Decode produced %d instructions, want %d", len(got), len(instrs))
	}
	for i := range instrs {
		if got[i].Op != instrs[i].Op || len(got[i].Operands) != len(instrs[i].Operands) {
			t.Fatalf("instr %d = %+v, want %+v", i, got[i], instrs[i])
		}
		for j := range instrs[i].Operands {
			if got[i].Operands[j] != instrs[i].Operands[j] {
				t.Fatalf("instr %d operand %d = %d, want %d", i, j, got[i].Operands[j], instrs[i].Operands[j])
			}
		}
	}
	if words2 := Encode(got); !wordsEqual(words, words2) {
		t.Fatalf("Encode(Decode(words)) != words")
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	words := []uint32{0x1E, 0xFF, 0x1E}
	instrs := Decode(words)
	if len(instrs) != 3 {
		t.Fatalf("got %d instructions, want 3", len(instrs))
	}
	if instrs[1].Op != 0 || !instrs[1].Unknown || instrs[1].Word != 0xFF {
		t.Fatalf("instr 1 = %+v, want Unknown(0xFF)", instrs[1])
	}
}

func TestAssembleResolvesLabelsAndDataSlots(t *testing.T) {
	data := []DataSlot{{Name: "counter"}, {Name: "limit"}}
	text := `
; initialize the loop counter
iconst0
gstore counter
loop:
gload counter
gload limit
ilt
brf done
gload counter
inc
gstore counter
br loop
done:
halt
`
	prog, err := Assemble(text, "halt", data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Init) == 0 {
		t.Fatal("expected non-empty init program")
	}

	var brf, br *Instr
	for i := range prog.Init {
		switch prog.Init[i].Op {
		case OpBrf:
			brf = &prog.Init[i]
		case OpBr:
			br = &prog.Init[i]
		}
	}
	if brf == nil || br == nil {
		t.Fatal("expected both a brf and a br instruction")
	}
	if prog.Init[brf.Operands[0]].Op != OpHalt {
		t.Errorf("brf target does not land on halt")
	}
	if prog.Init[br.Operands[0]].Op != OpGLoad {
		t.Errorf("br target does not land on the loop head")
	}
}

func TestAssembleRejectsDuplicateLabel(t *testing.T) {
	text := "l: halt\nl: halt\n"
	if _, err := Assemble(text, "", nil, nil); err == nil {
		t.Fatal("expected a duplicate-label error")
	}
}

func TestAssembleRejectsUndefinedLabel(t *testing.T) {
	text := "br nope\n"
	if _, err := Assemble(text, "", nil, nil); err == nil {
		t.Fatal("expected an undefined-label error")
	}
}

func TestAssembleResolvesEcallTypeName(t *testing.T) {
	reg := newTestRegistry()
	text := "ecall PlaySound 0\nhalt\n"
	prog, err := Assemble(text, "", nil, reg)
	if err != nil {
		t.Fatal(err)
	}
	want := hashio.FNV32aString("PlaySound")
	if prog.Init[0].Operands[0] != want {
		t.Errorf("ecall hash = %d, want %d", prog.Init[0].Operands[0], want)
	}
}

func TestDisassembleRoundTripsAssemble(t *testing.T) {
	reg := newTestRegistry()
	data := []DataSlot{{Name: "x"}}
	text := "iconst0\ngstore x\nloop:\ngload x\nbrt loop\necall PlaySound 1\nhalt\n"
	prog, err := Assemble(text, "", data, reg)
	if err != nil {
		t.Fatal(err)
	}
	rendered := Disassemble(prog.Init, data, reg)

	prog2, err := Assemble(rendered, "", data, reg)
	if err != nil {
		t.Fatalf("re-assembling disassembled text: %v", err)
	}
	w1, w2 := Encode(prog.Init), Encode(prog2.Init)
	if !wordsEqual(w1, w2) {
		t.Fatalf("disassemble(assemble(text)) did not round-trip: %v != %v", w1, w2)
	}
}

func wordsEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
