package graph

import (
	"reflect"
	"testing"
)

// words encodes: gload <slot0>; brt 5; rvm; halt — a boolean branch whose
// then-target (word offset 5, instruction 3) is the halt leaf and whose
// fall-through (instruction 2) is the rvm leaf.
func booleanBranchWords() []uint32 {
	return []uint32{
		0x16, 0xFFFF0000, // gload slot0
		0x09, 5, // brt -> word offset 5 (instruction 3, halt)
		0x1C, // rvm
		0x1E, // halt
	}
}

func TestDecompileBooleanBranch(t *testing.T) {
	g, err := Decompile(booleanBranchWords(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3: %+v", len(g.Nodes), g.Nodes)
	}
	if g.Nodes[0].Type != "BooleanBranch" {
		t.Errorf("node 0 type = %q, want BooleanBranch", g.Nodes[0].Type)
	}
	if g.Nodes[1].Type != "RVM" || g.Nodes[2].Type != "Halt" {
		t.Errorf("leaf nodes = %q, %q, want RVM, Halt", g.Nodes[1].Type, g.Nodes[2].Type)
	}

	// 2 branch edges (then/else) plus the rvm->halt fallthrough the else
	// arm runs into.
	if len(g.Edges) != 3 {
		t.Fatalf("got %d edges, want 3: %+v", len(g.Edges), g.Edges)
	}
	var thenEdge, elseEdge, fallthroughEdge *Edge
	for i := range g.Edges {
		switch g.Edges[i].FromPin {
		case 1:
			thenEdge = &g.Edges[i]
		case 2:
			elseEdge = &g.Edges[i]
		case 0:
			fallthroughEdge = &g.Edges[i]
		}
	}
	if thenEdge == nil || thenEdge.To != g.Nodes[2].ID {
		t.Errorf("then edge = %+v, want pointing at the halt node", thenEdge)
	}
	if elseEdge == nil || elseEdge.To != g.Nodes[1].ID {
		t.Errorf("else edge = %+v, want pointing at the rvm node", elseEdge)
	}
	if fallthroughEdge == nil || fallthroughEdge.From != g.Nodes[1].ID || fallthroughEdge.To != g.Nodes[2].ID {
		t.Errorf("fallthrough edge = %+v, want rvm node -> halt node", fallthroughEdge)
	}
}

// setSequenceWords encodes: iconst0 gstore idx; iconst0 gstore other; rvm;
// halt — the literal end-to-end decompiler scenario of two plain
// assignments followed by two leaf ops, with no branches at all.
func setSequenceWords() []uint32 {
	return []uint32{
		0x0C, 0x18, 0xFFFF0000, // iconst0 gstore idx
		0x0C, 0x18, 0xFFFF0001, // iconst0 gstore other
		0x1C, // rvm
		0x1E, // halt
	}
}

func TestDecompileSetSequence(t *testing.T) {
	g, err := Decompile(setSequenceWords(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 4 {
		t.Fatalf("got %d nodes, want 4: %+v", len(g.Nodes), g.Nodes)
	}
	wantTypes := []string{"Set", "Set", "RVM", "Halt"}
	for i, want := range wantTypes {
		if g.Nodes[i].Type != want {
			t.Errorf("node %d type = %q, want %q", i, g.Nodes[i].Type, want)
		}
	}
	if len(g.Edges) != 3 {
		t.Fatalf("got %d edges, want 3: %+v", len(g.Edges), g.Edges)
	}
	for i, e := range g.Edges {
		if e.From != g.Nodes[i].ID || e.To != g.Nodes[i+1].ID {
			t.Errorf("edge %d = %+v, want node %d -> node %d", i, e, g.Nodes[i].ID, g.Nodes[i+1].ID)
		}
	}
}

func TestDecompileUnrecognizedSequenceErrors(t *testing.T) {
	// iadd with nothing preceding or following it matches no pattern.
	words := []uint32{0x01}
	if _, err := Decompile(words, nil); err == nil {
		t.Fatal("expected an error for an unrecognized sequence")
	}
}

func TestDecompileDeterministic(t *testing.T) {
	words := booleanBranchWords()
	g1, err := Decompile(words, nil)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Decompile(words, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(g1.Nodes) != len(g2.Nodes) || len(g1.Edges) != len(g2.Edges) {
		t.Fatal("decompiling the same bytecode twice produced different-shaped graphs")
	}
	for i := range g1.Nodes {
		if !reflect.DeepEqual(g1.Nodes[i], g2.Nodes[i]) {
			t.Fatalf("node %d differs between runs: %+v != %+v", i, g1.Nodes[i], g2.Nodes[i])
		}
	}
}
