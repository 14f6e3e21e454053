// Package bytecode implements the Impact VM's instruction set: op tables,
// an assembler (text → commands) and a disassembler (commands → text)
// (spec.md §4.4, C10). A program is a flat array of 32-bit commands; most
// ops occupy one word, branches and iconst/gload/gstore two, call/ecall
// three.
package bytecode

import "fmt"

// Opcode is the one-byte op tag stored in the low byte of a command word.
type Opcode byte

const (
	OpIAdd    Opcode = 0x01
	OpILt     Opcode = 0x05
	OpILeq    Opcode = 0x07
	OpBr      Opcode = 0x08
	OpBrt     Opcode = 0x09
	OpBrf     Opcode = 0x0A
	OpIConst  Opcode = 0x0B
	OpIConst0 Opcode = 0x0C
	OpInc     Opcode = 0x0E
	OpDup     Opcode = 0x11
	OpCall    Opcode = 0x12
	OpECall   Opcode = 0x13
	OpGLoad   Opcode = 0x16
	OpGStore  Opcode = 0x18
	OpLTime   Opcode = 0x19
	OpTimeFF  Opcode = 0x1A
	OpPop     Opcode = 0x1B
	OpRvm     Opcode = 0x1C
	OpDSelf   Opcode = 0x1D
	OpHalt    Opcode = 0x1E
)

// opInfo describes one opcode's mnemonic and word count, including its
// opcode word (size() in spec.md §4.4).
type opInfo struct {
	mnemonic string
	size     int // total words, including the opcode word
}

var opTable = map[Opcode]opInfo{
	OpIAdd:    {"iadd", 1},
	OpILt:     {"ilt", 1},
	OpILeq:    {"ileq", 1},
	OpBr:      {"br", 2},
	OpBrt:     {"brt", 2},
	OpBrf:     {"brf", 2},
	OpIConst:  {"iconst", 2},
	OpIConst0: {"iconst0", 1},
	OpInc:     {"inc", 1},
	OpDup:     {"dup", 1},
	OpCall:    {"call", 3},
	OpECall:   {"ecall", 3},
	OpGLoad:   {"gload", 2},
	OpGStore:  {"gstore", 2},
	OpLTime:   {"ltime", 1},
	OpTimeFF:  {"timeff", 1},
	OpPop:     {"pop", 1},
	OpRvm:     {"rvm", 1},
	OpDSelf:   {"dself", 1},
	OpHalt:    {"halt", 1},
}

var mnemonicToOp = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opTable))
	for op, info := range opTable {
		m[info.mnemonic] = op
	}
	return m
}()

// dataHandleTag marks an operand word as a resolved named-data-slot handle
// rather than a raw literal, per spec.md §4.4 "OR-s 0xFFFF_0000".
const dataHandleTag = 0xFFFF0000

// isDataHandle reports whether word encodes a named-data-slot handle.
func isDataHandle(word uint32) bool { return word&dataHandleTag == dataHandleTag }

// dataHandleIndex extracts the data-layout slot index from a handle word.
func dataHandleIndex(word uint32) uint32 { return word &^ dataHandleTag }

// makeDataHandle packs a data-layout slot index into a handle word.
func makeDataHandle(index uint32) uint32 { return dataHandleTag | index }

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.mnemonic
	}
	return fmt.Sprintf("Unknown(0x%02x)", byte(op))
}

// size returns the instruction's word count, or 1 for an unrecognized
// opcode (the Unknown word occupies exactly one word, spec.md §4.4
// "Unrecognized words disassemble to Unknown(word)").
func (op Opcode) size() int {
	if info, ok := opTable[op]; ok {
		return info.size
	}
	return 1
}
