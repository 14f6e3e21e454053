package bytecode

import "golang.org/x/xerrors"

// Instr is one decoded instruction: an opcode plus its raw operand words.
// Operands are interpreted per-opcode: a branch's single operand is an
// instruction index; iconst/gload/gstore's is a data handle (see
// isDataHandle); call/ecall carry two operands, (hash, index).
//
// Unknown holds the raw word for an unrecognized opcode (spec.md §4.4
// "Unrecognized words disassemble to Unknown(word)"); Op is zero-valued and
// Operands empty in that case.
type Instr struct {
	Op       Opcode
	Operands []uint32
	Unknown  bool
	Word     uint32 // the raw first word, meaningful only when Unknown
}

// Size is the instruction's word count (1 for Unknown).
func (in Instr) Size() int {
	if in.Unknown {
		return 1
	}
	return in.Op.size()
}

// Decode parses a flat command array into instructions. It never returns an
// error: an unrecognized opcode produces an Unknown instruction rather than
// failing, matching spec.md §4.4's disassembler contract.
func Decode(words []uint32) []Instr {
	var out []Instr
	for i := 0; i < len(words); {
		op := Opcode(byte(words[i]))
		info, ok := opTable[op]
		if !ok {
			out = append(out, Instr{Unknown: true, Word: words[i]})
			i++
			continue
		}
		n := info.size - 1
		if i+1+n > len(words) {
			// Truncated operand list: surface the remainder as Unknown
			// words rather than reading out of bounds.
			out = append(out, Instr{Unknown: true, Word: words[i]})
			i++
			continue
		}
		operands := append([]uint32(nil), words[i+1:i+1+n]...)
		out = append(out, Instr{Op: op, Operands: operands})
		i += info.size
	}
	return out
}

// Encode flattens instructions back into a command array. Encode(Decode(w))
// reproduces w exactly for any w with no Unknown words (spec.md §8
// "Bytecode" round-trip property).
func Encode(instrs []Instr) []uint32 {
	var out []uint32
	for _, in := range instrs {
		if in.Unknown {
			out = append(out, in.Word)
			continue
		}
		out = append(out, uint32(in.Op))
		out = append(out, in.Operands...)
	}
	return out
}

// InstrIndexAt returns the instruction index containing word offset wordOff,
// computed by prefix-summing instruction sizes (spec.md §4.4 "Before
// pattern matching the decompiler converts byte-indexed branch targets into
// instruction-indexed targets").
func InstrIndexAt(instrs []Instr, wordOff uint32) (int, error) {
	var cur uint32
	for i, in := range instrs {
		if cur == wordOff {
			return i, nil
		}
		cur += uint32(in.Size())
	}
	if cur == wordOff {
		return len(instrs), nil
	}
	return 0, xerrors.Errorf("bytecode: word offset %d does not land on an instruction boundary", wordOff)
}
