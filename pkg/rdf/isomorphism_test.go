package rdf

import (
	"testing"
)

func TestAreQuadsIsomorphic_NoBlankNodes(t *testing.T) {
	a := []*Quad{
		NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil),
		NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o2"), NewNamedNode("http://example.org/g")),
	}
	b := []*Quad{a[1], a[0]}

	if !AreQuadsIsomorphic(a, b) {
		t.Error("Expected reordered quad sets to be isomorphic")
	}

	c := []*Quad{a[0], NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o2"), nil)}
	if AreQuadsIsomorphic(a, c) {
		t.Error("Quads in different graphs should not be isomorphic")
	}
}

func TestAreQuadsIsomorphic_BlankNodeRelabeling(t *testing.T) {
	p := NewNamedNode("http://example.org/knows")
	name := NewNamedNode("http://example.org/name")

	a := []*Quad{
		NewQuad(NewBlankNode("x"), p, NewBlankNode("y"), nil),
		NewQuad(NewBlankNode("x"), name, NewLiteral("X"), nil),
		NewQuad(NewBlankNode("y"), name, NewLiteral("Y"), nil),
	}
	b := []*Quad{
		NewQuad(NewBlankNode("c14n1"), name, NewLiteral("Y"), nil),
		NewQuad(NewBlankNode("c14n0"), p, NewBlankNode("c14n1"), nil),
		NewQuad(NewBlankNode("c14n0"), name, NewLiteral("X"), nil),
	}
	if !AreQuadsIsomorphic(a, b) {
		t.Error("Expected relabeled graphs to be isomorphic")
	}

	// Swapping the names breaks the structure
	d := []*Quad{
		NewQuad(NewBlankNode("c14n1"), name, NewLiteral("X"), nil),
		NewQuad(NewBlankNode("c14n0"), p, NewBlankNode("c14n1"), nil),
		NewQuad(NewBlankNode("c14n0"), name, NewLiteral("Y"), nil),
	}
	if AreQuadsIsomorphic(a, d) {
		t.Error("Expected structurally different graphs not to be isomorphic")
	}
}

func TestAreQuadsIsomorphic_DuplicatesIgnored(t *testing.T) {
	q := NewQuad(NewBlankNode("b"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil)
	if !AreQuadsIsomorphic([]*Quad{q, q}, []*Quad{NewQuad(NewBlankNode("z"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil)}) {
		t.Error("Expected duplicates to be ignored")
	}
}
