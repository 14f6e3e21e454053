package bytecode

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/registry"
)

// DataSlot is one named entry of a program's data layout (spec.md §4.4
// "Assembler" input): iconst/gload/gstore operands resolve to a slot index
// here before being packed into a data handle.
type DataSlot struct {
	Name              string `json:"name"`
	QualifiedTypeHash uint32 `json:"qualified_type_hash"`
	OffsetInBytes     uint32 `json:"offset_in_bytes"`
	Size              uint32 `json:"size"`
	ConfigID          uint32 `json:"config_id"`
}

// Program is an assembled Impact script: separate init/shutdown command
// streams sharing one data layout (spec.md §4.4 "two text sections").
type Program struct {
	Init     []Instr
	Shutdown []Instr
	Data     []DataSlot
}

// Assemble parses init and shutdown text against data and reg, resolving
// named data slots and call/ecall type names to their registry hash
// (spec.md §4.4 "Assembler").
func Assemble(init, shutdown string, data []DataSlot, reg *registry.Registry) (*Program, error) {
	dataIndex := make(map[string]int, len(data))
	for i, d := range data {
		dataIndex[d.Name] = i
	}
	initInstrs, err := assembleSection(init, dataIndex, reg)
	if err != nil {
		return nil, xerrors.Errorf("bytecode: assembling init: %w", err)
	}
	shutdownInstrs, err := assembleSection(shutdown, dataIndex, reg)
	if err != nil {
		return nil, xerrors.Errorf("bytecode: assembling shutdown: %w", err)
	}
	return &Program{Init: initInstrs, Shutdown: shutdownInstrs, Data: data}, nil
}

// pending is a parsed instruction before branch-label resolution.
type pending struct {
	op        Opcode
	operands  []uint32
	label     string // non-empty iff this is a branch awaiting resolution
	hasLabel  bool
}

func assembleSection(text string, dataIndex map[string]int, reg *registry.Registry) ([]Instr, error) {
	tokens := tokenize(text)

	labels := make(map[string]int) // label name -> instruction index
	var instrs []pending

	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		if strings.HasSuffix(tok, ":") {
			name := strings.TrimSuffix(tok, ":")
			if _, dup := labels[name]; dup {
				return nil, xerrors.Errorf("bytecode: duplicate label %q", name)
			}
			labels[name] = len(instrs)
			i++
			continue
		}

		op, ok := mnemonicToOp[tok]
		if !ok {
			return nil, xerrors.Errorf("bytecode: unknown mnemonic %q", tok)
		}
		info := opTable[op]
		operandCount := info.size - 1

		switch op {
		case OpBr, OpBrt, OpBrf:
			if i+1 >= len(tokens) {
				return nil, xerrors.Errorf("bytecode: %s: missing label operand", tok)
			}
			instrs = append(instrs, pending{op: op, label: tokens[i+1], hasLabel: true})
			i += 2

		case OpIConst, OpGLoad, OpGStore:
			if i+1 >= len(tokens) {
				return nil, xerrors.Errorf("bytecode: %s: missing data-slot operand", tok)
			}
			name := tokens[i+1]
			idx, ok := dataIndex[name]
			if !ok {
				return nil, xerrors.Errorf("bytecode: %s: unknown data slot %q", tok, name)
			}
			instrs = append(instrs, pending{op: op, operands: []uint32{makeDataHandle(uint32(idx))}})
			i += 2

		case OpCall, OpECall:
			if i+2 >= len(tokens) {
				return nil, xerrors.Errorf("bytecode: %s: expected two operands", tok)
			}
			hash, err := resolveCallHash(tokens[i+1], reg)
			if err != nil {
				return nil, xerrors.Errorf("bytecode: %s: %w", tok, err)
			}
			idx, err := strconv.ParseUint(tokens[i+2], 10, 32)
			if err != nil {
				return nil, xerrors.Errorf("bytecode: %s: invalid index operand %q", tok, tokens[i+2])
			}
			instrs = append(instrs, pending{op: op, operands: []uint32{hash, uint32(idx)}})
			i += 3

		default:
			if operandCount != 0 {
				return nil, xerrors.Errorf("bytecode: unhandled opcode %s with %d operands", tok, operandCount)
			}
			instrs = append(instrs, pending{op: op})
			i++
		}
	}

	out := make([]Instr, len(instrs))
	for idx, p := range instrs {
		if p.hasLabel {
			target, ok := labels[p.label]
			if !ok {
				return nil, xerrors.Errorf("bytecode: undefined label %q", p.label)
			}
			out[idx] = Instr{Op: p.op, Operands: []uint32{uint32(target)}}
			continue
		}
		out[idx] = Instr{Op: p.op, Operands: p.operands}
	}
	return out, nil
}

// resolveCallHash accepts either a literal integer or a type name whose
// impact hash is registered (spec.md §4.4 "call/ecall operands accept
// either a literal integer or a type name").
func resolveCallHash(tok string, reg *registry.Registry) (uint32, error) {
	if n, err := strconv.ParseUint(tok, 0, 32); err == nil {
		return uint32(n), nil
	}
	if reg == nil {
		return 0, xerrors.Errorf("no registry available to resolve type name %q", tok)
	}
	idx, ok := reg.GetByName(registry.LookupImpactName, tok)
	if !ok {
		return 0, xerrors.Errorf("unknown impact-node type %q", tok)
	}
	return reg.Get(idx).ImpactHash, nil
}

// tokenize splits assembly text into tokens, stripping ';' line comments.
func tokenize(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		out = append(out, strings.Fields(line)...)
	}
	return out
}

// Disassemble renders instrs back to text, synthesizing a label at every
// instruction a branch targets (spec.md §4.4 "disassembler renders branch
// targets back to synthetic labels").
func Disassemble(instrs []Instr, data []DataSlot, reg *registry.Registry) string {
	targets := make(map[int]bool)
	for _, in := range instrs {
		if in.Unknown {
			continue
		}
		switch in.Op {
		case OpBr, OpBrt, OpBrf:
			targets[int(in.Operands[0])] = true
		}
	}

	var b strings.Builder
	for i, in := range instrs {
		if targets[i] {
			fmt.Fprintf(&b, "L%d:\n", i)
		}
		writeInstr(&b, in, data, reg)
	}
	return b.String()
}

func writeInstr(b *strings.Builder, in Instr, data []DataSlot, reg *registry.Registry) {
	if in.Unknown {
		fmt.Fprintf(b, "; Unknown(0x%08x)\n", in.Word)
		return
	}
	switch in.Op {
	case OpBr, OpBrt, OpBrf:
		fmt.Fprintf(b, "%s L%d\n", in.Op, in.Operands[0])
	case OpIConst, OpGLoad, OpGStore:
		name := dataSlotName(data, in.Operands[0])
		fmt.Fprintf(b, "%s %s\n", in.Op, name)
	case OpCall, OpECall:
		name := callOperandText(in.Operands[0], reg)
		fmt.Fprintf(b, "%s %s %d\n", in.Op, name, in.Operands[1])
	default:
		fmt.Fprintf(b, "%s\n", in.Op)
	}
}

func dataSlotName(data []DataSlot, handle uint32) string {
	idx := dataHandleIndex(handle)
	if int(idx) < len(data) {
		return data[idx].Name
	}
	return fmt.Sprintf("0x%x", handle)
}

func callOperandText(hash uint32, reg *registry.Registry) string {
	if reg != nil {
		if idx, ok := reg.GetByHash(registry.LookupImpactHash, hash); ok {
			return reg.Get(idx).ImpactName
		}
	}
	return strconv.FormatUint(uint64(hash), 10)
}
