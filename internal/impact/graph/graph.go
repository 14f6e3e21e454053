// Package graph implements the Impact decompiler (spec.md §4.4 C11):
// converting a flat bytecode command stream into a higher-level node graph
// by recognizing a fixed set of intrinsic patterns (function call,
// conditional branch, boolean branch, for-each loop, wait, leaf ops).
package graph

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/kfc-tools/kfc/internal/impact/bytecode"
	"github.com/kfc-tools/kfc/internal/registry"
)

// ErrDanglingBranch is returned when a branch or node-graph edge targets an
// instruction or node that does not exist — a diagnostic this
// implementation adds beyond the source decompiler's bare pattern-mismatch
// error, since a dangling target is common enough in hand-edited or
// partially-understood bytecode to deserve its own error kind.
var ErrDanglingBranch = xerrors.New("impact: branch targets no recognized instruction or node")

// Node is one entry of the decompiled graph: a registered type's instance
// (by impact name) plus the literal config values its iconst pushes
// supplied (spec.md §4.4 "Decompiler").
type Node struct {
	ID      int
	Type    string
	Configs []uint32
}

// Edge connects an upstream node's output pin to a downstream node's input
// pin. Execution edges (then/else, loop body) and data edges share this
// shape; pin numbering follows the producing pattern (spec.md §4.4: "pins
// 1 and 2" for a conditional function's then/else, etc).
type Edge struct {
	From, FromPin int
	To, ToPin     int
}

// Graph is the decompiler's output (spec.md §4.4 "node graph").
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Decompile converts a flat 32-bit command array into a Graph. Equal
// bytecode always produces an equal graph (spec.md §4.4 "deterministic").
func Decompile(words []uint32, reg *registry.Registry) (*Graph, error) {
	instrs := bytecode.Decode(words)
	targets, err := resolveTargets(instrs)
	if err != nil {
		return nil, err
	}

	d := &decompiler{
		instrs:         instrs,
		targets:        targets,
		reg:            reg,
		slotProducer:   make(map[uint32]int),
		instrStartNode: make(map[int]int),
		hasExit:        make(map[int]bool),
	}
	for d.pos < len(d.instrs) {
		if err := d.step(); err != nil {
			return nil, err
		}
	}
	if err := d.resolvePendingEdges(); err != nil {
		return nil, err
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &Graph{Nodes: d.nodes, Edges: d.edges}, nil
}

// resolveTargets converts every branch's word-indexed operand into an
// instruction index, by prefix-summing instruction sizes (spec.md §4.4
// "Before pattern matching the decompiler converts byte-indexed branch
// targets into instruction-indexed targets").
func resolveTargets(instrs []bytecode.Instr) ([]int, error) {
	targets := make([]int, len(instrs))
	for i, in := range instrs {
		if in.Unknown {
			continue
		}
		switch in.Op {
		case bytecode.OpBr, bytecode.OpBrt, bytecode.OpBrf:
			idx, err := bytecode.InstrIndexAt(instrs, in.Operands[0])
			if err != nil {
				return nil, xerrors.Errorf("impact: instruction %d: %w", i, err)
			}
			targets[i] = idx
		}
	}
	return targets, nil
}

type decompiler struct {
	instrs  []bytecode.Instr
	targets []int // instruction-indexed branch targets, parallel to instrs
	reg     *registry.Registry

	pos          int
	nextID       int
	nodes        []Node
	edges        []Edge
	slotProducer map[uint32]int // data-slot index -> node id of its most recent writer

	instrStartNode map[int]int // instruction index a node's pattern started at -> node id
	pendingEdges   []pendingEdge
	hasExit        map[int]bool // node id -> pattern already registered an outgoing exec edge for it
}

func (d *decompiler) op(i int) bytecode.Opcode {
	if i < 0 || i >= len(d.instrs) || d.instrs[i].Unknown {
		return 0
	}
	return d.instrs[i].Op
}

// addNode records a new node whose recognized pattern started at
// instruction startInstr, so later addExecEdge calls targeting startInstr
// (forward or backward branches alike) can resolve to it.
func (d *decompiler) addNode(startInstr int, typ string, configs []uint32) int {
	id := d.nextID
	d.nextID++
	d.nodes = append(d.nodes, Node{ID: id, Type: typ, Configs: configs})
	d.instrStartNode[startInstr] = id
	return id
}

// step recognizes one pattern starting at d.pos, advances d.pos past it,
// and appends the resulting node/edges. It tries patterns most-specific
// first since several share a common prefix (e.g. wait and boolean branch
// both start with gload; for-each and set both start with iconst0, gstore).
func (d *decompiler) step() error {
	for _, match := range []func() (int, error){
		d.matchWait,
		d.matchForEach,
		d.matchConditionalFunction,
		d.matchBooleanBranch,
		d.matchSet,
		d.matchFunction,
		d.matchLeaf,
	} {
		n, err := match()
		if err != nil {
			return err
		}
		if n > 0 {
			id := d.nodes[len(d.nodes)-1].ID
			next := d.pos + n
			d.pos = next
			// Patterns that branch (conditional function, boolean branch,
			// for-each, wait) already registered their own outgoing exec
			// edges via addExecEdge. Everything else (Set, Function, leaf
			// ops) runs straight into whatever instruction follows it.
			if !d.hasExit[id] {
				if err := d.addExecEdge(id, 0, next); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return xerrors.Errorf("impact: unrecognized instruction sequence at %d (%s)", d.pos, d.op(d.pos))
}

// matchLeaf recognizes a single-op node (spec.md §4.4 "Leaf ops"); its
// execution edge into the following node is wired by step()'s fallthrough,
// not by the pattern itself.
func (d *decompiler) matchLeaf() (int, error) {
	switch d.op(d.pos) {
	case bytecode.OpRvm, bytecode.OpDSelf, bytecode.OpHalt:
		d.addNode(d.pos, leafNodeType(d.op(d.pos)), nil)
		return 1, nil
	}
	return 0, nil
}

// leafNodeType names a leaf node by the node-graph's own type vocabulary
// (spec.md §4.4 scenario: "RVM", "Halt"), not the instruction's assembly
// mnemonic ("rvm", "halt") used elsewhere for text disassembly.
func leafNodeType(op bytecode.Opcode) string {
	switch op {
	case bytecode.OpRvm:
		return "RVM"
	case bytecode.OpDSelf:
		return "DSelf"
	case bytecode.OpHalt:
		return "Halt"
	default:
		return op.String()
	}
}

// matchSet recognizes a bare literal push immediately stored to a data
// slot (spec.md §4.4 scenario: "iconst0 gstore idx ..." decompiles to a
// Set node), as opposed to matchFunction/matchConditionalFunction's
// iconst*/ecall, where the pushed values feed a call instead of a store.
func (d *decompiler) matchSet() (int, error) {
	i := d.pos
	var value uint32
	switch d.op(i) {
	case bytecode.OpIConst:
		value = d.instrs[i].Operands[0]
	case bytecode.OpIConst0:
		value = 0
	default:
		return 0, nil
	}
	if d.op(i+1) != bytecode.OpGStore {
		return 0, nil
	}
	slot := d.instrs[i+1].Operands[0]
	id := d.addNode(i, "Set", []uint32{value})
	d.slotProducer[slot] = id
	return 2, nil
}

// iconstRun collects a contiguous run of iconst/iconst0 pushes starting at
// i, returning their literal operand words (0 for iconst0) and the count
// consumed.
func (d *decompiler) iconstRun(i int) (configs []uint32, n int) {
	for d.op(i+n) == bytecode.OpIConst || d.op(i+n) == bytecode.OpIConst0 {
		if d.op(i+n) == bytecode.OpIConst0 {
			configs = append(configs, 0)
		} else {
			configs = append(configs, d.instrs[i+n].Operands[0])
		}
		n++
	}
	return configs, n
}

// matchFunction recognizes iconst* ecall pop (spec.md §4.4 "Function
// node").
func (d *decompiler) matchFunction() (int, error) {
	i := d.pos
	configs, n := d.iconstRun(i)
	if d.op(i+n) != bytecode.OpECall && d.op(i+n) != bytecode.OpCall {
		return 0, nil
	}
	callPos := i + n
	if d.op(callPos+1) != bytecode.OpPop {
		return 0, nil
	}
	d.addFunctionNode(i, callPos, configs)
	return n + 2, nil
}

// matchConditionalFunction recognizes iconst* ecall brt/brf (spec.md §4.4
// "Conditional function node").
func (d *decompiler) matchConditionalFunction() (int, error) {
	i := d.pos
	configs, n := d.iconstRun(i)
	if d.op(i+n) != bytecode.OpECall && d.op(i+n) != bytecode.OpCall {
		return 0, nil
	}
	callPos := i + n
	branchOp := d.op(callPos + 1)
	if branchOp != bytecode.OpBrt && branchOp != bytecode.OpBrf {
		return 0, nil
	}
	id := d.addFunctionNode(i, callPos, configs)
	d.nodes[id].Configs = append([]uint32{polarity(branchOp)}, d.nodes[id].Configs...)

	thenTarget := d.targets[callPos+1]
	elseTarget := callPos + 2
	if err := d.addExecEdge(id, 1, thenTarget); err != nil {
		return 0, err
	}
	if err := d.addExecEdge(id, 2, elseTarget); err != nil {
		return 0, err
	}
	return n + 2, nil
}

func polarity(op bytecode.Opcode) uint32 {
	if op == bytecode.OpBrt {
		return 1
	}
	return 0
}

// addFunctionNode builds a function node from the call at callPos and its
// preceding iconst pushes, looking the node's type up in the registry by
// the call's hash operand, and wiring data inputs from the slots the
// pushes reference (spec.md §4.4: "inputs bind the output slots of
// upstream nodes via the data-layout handle table").
func (d *decompiler) addFunctionNode(startInstr, callPos int, configs []uint32) int {
	hash := d.instrs[callPos].Operands[0]
	typeName := ""
	if d.reg != nil {
		if idx, ok := d.reg.GetByHash(registry.LookupImpactHash, hash); ok {
			typeName = d.reg.Get(idx).ImpactName
		}
	}
	if typeName == "" {
		typeName = "ecall"
	}
	id := d.addNode(startInstr, typeName, configs)
	for pin, slot := range configs {
		if producer, ok := d.slotProducer[slot]; ok {
			d.edges = append(d.edges, Edge{From: producer, FromPin: 0, To: id, ToPin: pin})
		}
	}
	return id
}

// matchBooleanBranch recognizes gload cond; brt/brf target (spec.md §4.4
// "Boolean branch").
func (d *decompiler) matchBooleanBranch() (int, error) {
	i := d.pos
	if d.op(i) != bytecode.OpGLoad {
		return 0, nil
	}
	branchOp := d.op(i + 1)
	if branchOp != bytecode.OpBrt && branchOp != bytecode.OpBrf {
		return 0, nil
	}
	id := d.addNode(i, "BooleanBranch", []uint32{polarity(branchOp)})
	thenTarget := d.targets[i+1]
	elseTarget := i + 2
	if err := d.addExecEdge(id, 1, thenTarget); err != nil {
		return 0, err
	}
	if err := d.addExecEdge(id, 2, elseTarget); err != nil {
		return 0, err
	}
	return 2, nil
}

// matchForEach recognizes the fixed for-each idiom (spec.md §4.4
// "For-each"): iconst0; gstore idx; L: gload idx; gload count; ilt; brt
// L'; ...; gload idx; inc; gstore idx; br L.
func (d *decompiler) matchForEach() (int, error) {
	i := d.pos
	if d.op(i) != bytecode.OpIConst0 || d.op(i+1) != bytecode.OpGStore {
		return 0, nil
	}
	idxSlot := d.instrs[i+1].Operands[0]
	loopHead := i + 2
	if d.op(loopHead) != bytecode.OpGLoad || d.instrs[loopHead].Operands[0] != idxSlot {
		return 0, nil
	}
	if d.op(loopHead+1) != bytecode.OpGLoad {
		return 0, nil
	}
	countSlot := d.instrs[loopHead+1].Operands[0]
	if d.op(loopHead+2) != bytecode.OpILt || d.op(loopHead+3) != bytecode.OpBrt {
		return 0, nil
	}
	bodyStart := loopHead + 4
	exitTarget := d.targets[loopHead+3]

	// Find the matching tail: gload idx; inc; gstore idx; br loopHead.
	end := -1
	for j := bodyStart; j+3 < len(d.instrs); j++ {
		if d.op(j) == bytecode.OpGLoad && d.instrs[j].Operands[0] == idxSlot &&
			d.op(j+1) == bytecode.OpInc &&
			d.op(j+2) == bytecode.OpGStore && d.instrs[j+2].Operands[0] == idxSlot &&
			d.op(j+3) == bytecode.OpBr && d.targets[j+3] == loopHead {
			end = j + 4
			break
		}
	}
	if end == -1 {
		return 0, nil
	}

	// The loop body (bodyStart..j) is consumed as part of this single
	// atomic pattern rather than recursively decompiled into its own
	// nodes: ForEach's body pin is therefore left unconnected in the
	// output graph (a for-each with a non-trivial body decompiles as one
	// opaque node, not a nested sub-graph).
	id := d.addNode(i, "ForEach", []uint32{idxSlot, countSlot})
	if err := d.addExecEdge(id, 0, exitTarget); err != nil {
		return 0, err
	}
	d.slotProducer[idxSlot] = id
	return end - i, nil
}

// matchWait recognizes the fixed wait idiom (spec.md §4.4 "Wait"): gload
// d; ltime; iadd; dup; L: ltime; ileq; brt end; rvm; br L.
func (d *decompiler) matchWait() (int, error) {
	i := d.pos
	if d.op(i) != bytecode.OpGLoad {
		return 0, nil
	}
	delaySlot := d.instrs[i].Operands[0]
	if d.op(i+1) != bytecode.OpLTime || d.op(i+2) != bytecode.OpIAdd || d.op(i+3) != bytecode.OpDup {
		return 0, nil
	}
	loopHead := i + 4
	if d.op(loopHead) != bytecode.OpLTime || d.op(loopHead+1) != bytecode.OpILeq ||
		d.op(loopHead+2) != bytecode.OpBrt {
		return 0, nil
	}
	if d.op(loopHead+3) != bytecode.OpRvm || d.op(loopHead+4) != bytecode.OpBr ||
		d.targets[loopHead+4] != loopHead {
		return 0, nil
	}
	end := loopHead + 5

	id := d.addNode(i, "Wait", []uint32{delaySlot})
	if producer, ok := d.slotProducer[delaySlot]; ok {
		d.edges = append(d.edges, Edge{From: producer, FromPin: 0, To: id, ToPin: 0})
	}
	exitTarget := d.targets[loopHead+2]
	if err := d.addExecEdge(id, 0, exitTarget); err != nil {
		return 0, err
	}
	return end - i, nil
}

// addExecEdge records an execution edge from node outID's fromPin to the
// node that will eventually be produced for instruction targetInstr. Since
// that node may not exist yet (targetInstr can be ahead of d.pos), the edge
// is recorded against a placeholder keyed by instruction index and
// resolved once decompilation finishes walking every instruction.
func (d *decompiler) addExecEdge(fromID, fromPin, targetInstr int) error {
	if targetInstr < 0 || targetInstr > len(d.instrs) {
		return xerrors.Errorf("%w: target instruction %d out of range", ErrDanglingBranch, targetInstr)
	}
	d.pendingEdges = append(d.pendingEdges, pendingEdge{fromID: fromID, fromPin: fromPin, targetInstr: targetInstr})
	d.hasExit[fromID] = true
	return nil
}

type pendingEdge struct {
	fromID, fromPin int
	targetInstr     int
}

// resolvePendingEdges turns every recorded pendingEdge into a concrete Edge
// once every node has been created, mapping each edge's target instruction
// to the node whose pattern began there. A target that lines up with no
// node's start (e.g. a branch into the middle of a recognized pattern) is
// reported as ErrDanglingBranch (spec.md §4.4 supplemented diagnostic).
func (d *decompiler) resolvePendingEdges() error {
	end := len(d.instrs)
	for _, pe := range d.pendingEdges {
		if pe.targetInstr == end {
			// Falls off the end of the program: no node to wire to, and
			// not an error — e.g. a conditional's fall-through at EOF.
			continue
		}
		toID, ok := d.instrStartNode[pe.targetInstr]
		if !ok {
			return xerrors.Errorf("%w: branch from node %d targets instruction %d, not a node boundary",
				ErrDanglingBranch, pe.fromID, pe.targetInstr)
		}
		d.edges = append(d.edges, Edge{From: pe.fromID, FromPin: pe.fromPin, To: toID, ToPin: 0})
	}
	return nil
}

func (d *decompiler) validate() error {
	g := simple.NewDirectedGraph()
	ids := make(map[int]bool, len(d.nodes))
	for _, n := range d.nodes {
		g.AddNode(simpleNode(n.ID))
		ids[n.ID] = true
	}
	for _, e := range d.edges {
		if !ids[e.From] || !ids[e.To] {
			return xerrors.Errorf("%w: edge %d->%d references an unknown node", ErrDanglingBranch, e.From, e.To)
		}
		g.SetEdge(g.NewEdge(simpleNode(e.From), simpleNode(e.To)))
	}
	if _, err := topo.Sort(g); err != nil {
		if _, ok := err.(topo.Unorderable); ok {
			return xerrors.Errorf("impact: node graph contains a cycle: %w", err)
		}
		return xerrors.Errorf("impact: sorting node graph: %w", err)
	}
	return nil
}

type simpleNode int64

func (n simpleNode) ID() int64 { return int64(n) }
