package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/impact/bytecode"
	"github.com/kfc-tools/kfc/internal/impact/graph"
)

const impactHelp = `kfc impact <assemble|disassemble|extract-nodes> [-flags]

Operate on an Impact VM script (spec.md §4.4, C10/C11):
  assemble      - compile init/shutdown text plus a data-slot layout to bytecode
  disassemble   - render assembled bytecode back to text
  extract-nodes - decompile bytecode into a node graph (impact_nodes.json)
`

var impactJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeSections packs a Program's two instruction streams into the
// length-prefixed binary framing kfc's impact subcommands read and write;
// the VM's own word encoding (spec.md §4.4 "command vector") says nothing
// about how the init/shutdown halves of a script are concatenated on disk,
// so this framing is local to the CLI rather than a format the spec
// mandates.
func encodeSections(prog *bytecode.Program) []byte {
	initWords := bytecode.Encode(prog.Init)
	shutdownWords := bytecode.Encode(prog.Shutdown)
	out := make([]byte, 0, 8+4*(len(initWords)+len(shutdownWords)))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(initWords)))
	out = append(out, lenBuf[:]...)
	for _, w := range initWords {
		binary.LittleEndian.PutUint32(lenBuf[:], w)
		out = append(out, lenBuf[:]...)
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(shutdownWords)))
	out = append(out, lenBuf[:]...)
	for _, w := range shutdownWords {
		binary.LittleEndian.PutUint32(lenBuf[:], w)
		out = append(out, lenBuf[:]...)
	}
	return out
}

func decodeSections(data []byte) (init, shutdown []uint32, err error) {
	readWords := func(b []byte) ([]uint32, []byte, error) {
		if len(b) < 4 {
			return nil, nil, xerrors.New("impact: truncated section length")
		}
		n := binary.LittleEndian.Uint32(b)
		b = b[4:]
		if uint64(len(b)) < uint64(n)*4 {
			return nil, nil, xerrors.New("impact: truncated section body")
		}
		words := make([]uint32, n)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(b[i*4:])
		}
		return words, b[n*4:], nil
	}
	init, rest, err := readWords(data)
	if err != nil {
		return nil, nil, err
	}
	shutdown, _, err = readWords(rest)
	if err != nil {
		return nil, nil, err
	}
	return init, shutdown, nil
}

func cmdImpact(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, impactHelp)
		return xerrors.New("impact: missing subcommand (assemble, disassemble, or extract-nodes)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "assemble":
		return impactAssemble(rest)
	case "disassemble":
		return impactDisassemble(rest)
	case "extract-nodes":
		return impactExtractNodes(rest)
	default:
		fmt.Fprintln(os.Stderr, impactHelp)
		return xerrors.Errorf("impact: unknown subcommand %q", sub)
	}
}

func impactAssemble(args []string) error {
	fset := flag.NewFlagSet("impact assemble", flag.ExitOnError)
	a := registerArchiveFlags(fset)
	init := fset.String("init", "", "path to the init section's assembly text")
	shutdown := fset.String("shutdown", "", "path to the shutdown section's assembly text")
	data := fset.String("data", "", "path to the program_data JSON data-slot layout")
	out := fset.String("output", "", "path to write the assembled bytecode to (default: stdout)")
	fset.Parse(args)

	if *init == "" || *shutdown == "" || *data == "" {
		return xerrors.New("impact assemble: -init, -shutdown, and -data are required")
	}
	reg, err := a.loadRegistry()
	if err != nil {
		return xerrors.Errorf("impact assemble: loading type cache: %w", err)
	}
	initText, err := os.ReadFile(*init)
	if err != nil {
		return xerrors.Errorf("impact assemble: %w", err)
	}
	shutdownText, err := os.ReadFile(*shutdown)
	if err != nil {
		return xerrors.Errorf("impact assemble: %w", err)
	}
	dataJSON, err := os.ReadFile(*data)
	if err != nil {
		return xerrors.Errorf("impact assemble: %w", err)
	}
	var slots []bytecode.DataSlot
	if err := impactJSON.Unmarshal(dataJSON, &slots); err != nil {
		return xerrors.Errorf("impact assemble: parsing %s: %w", *data, err)
	}

	prog, err := bytecode.Assemble(string(initText), string(shutdownText), slots, reg)
	if err != nil {
		return xerrors.Errorf("impact assemble: %w", err)
	}

	return writeOutput(*out, encodeSections(prog))
}

func impactDisassemble(args []string) error {
	fset := flag.NewFlagSet("impact disassemble", flag.ExitOnError)
	a := registerArchiveFlags(fset)
	in := fset.String("input", "", "path to assembled bytecode (default: stdin)")
	data := fset.String("data", "", "path to the program_data JSON data-slot layout")
	out := fset.String("output", "", "path to write disassembly text to (default: stdout)")
	fset.Parse(args)

	reg, err := a.loadRegistry()
	if err != nil {
		return xerrors.Errorf("impact disassemble: loading type cache: %w", err)
	}
	raw, err := readInput(*in)
	if err != nil {
		return xerrors.Errorf("impact disassemble: %w", err)
	}
	var slots []bytecode.DataSlot
	if *data != "" {
		dataJSON, err := os.ReadFile(*data)
		if err != nil {
			return xerrors.Errorf("impact disassemble: %w", err)
		}
		if err := impactJSON.Unmarshal(dataJSON, &slots); err != nil {
			return xerrors.Errorf("impact disassemble: parsing %s: %w", *data, err)
		}
	}

	initWords, shutdownWords, err := decodeSections(raw)
	if err != nil {
		return xerrors.Errorf("impact disassemble: %w", err)
	}
	text := "; init\n" + bytecode.Disassemble(bytecode.Decode(initWords), slots, reg) +
		"\n; shutdown\n" + bytecode.Disassemble(bytecode.Decode(shutdownWords), slots, reg)

	return writeOutput(*out, []byte(text))
}

func impactExtractNodes(args []string) error {
	fset := flag.NewFlagSet("impact extract-nodes", flag.ExitOnError)
	a := registerArchiveFlags(fset)
	in := fset.String("input", "", "path to assembled bytecode (default: stdin)")
	section := fset.String("section", "init", "which section to decompile: init or shutdown")
	out := fset.String("output", "impact_nodes.json", "path to write the decompiled node graph to")
	fset.Parse(args)

	reg, err := a.loadRegistry()
	if err != nil {
		return xerrors.Errorf("impact extract-nodes: loading type cache: %w", err)
	}
	raw, err := readInput(*in)
	if err != nil {
		return xerrors.Errorf("impact extract-nodes: %w", err)
	}
	initWords, shutdownWords, err := decodeSections(raw)
	if err != nil {
		return xerrors.Errorf("impact extract-nodes: %w", err)
	}
	words := initWords
	if *section == "shutdown" {
		words = shutdownWords
	} else if *section != "init" {
		return xerrors.Errorf("impact extract-nodes: -section must be init or shutdown, got %q", *section)
	}

	g, err := graph.Decompile(words, reg)
	if err != nil {
		return xerrors.Errorf("impact extract-nodes: %w", err)
	}
	out2, err := impactJSON.MarshalIndent(g, "", "  ")
	if err != nil {
		return xerrors.Errorf("impact extract-nodes: %w", err)
	}
	return writeOutput(*out, out2)
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
