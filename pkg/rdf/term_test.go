package rdf

import (
	"testing"
)

// ===== NamedNode Tests =====

func TestNamedNode_Equals(t *testing.T) {
	node1 := NewNamedNode("http://example.org/resource")
	node2 := NewNamedNode("http://example.org/resource")
	node3 := NewNamedNode("http://example.org/different")

	if !node1.Equals(node2) {
		t.Error("Expected equal NamedNodes to be equal")
	}
	if node1.Equals(node3) {
		t.Error("Expected different NamedNodes to not be equal")
	}
	if node1.Equals(NewLiteral("http://example.org/resource")) {
		t.Error("NamedNode should not equal Literal")
	}
}

// ===== Literal Tests =====

func TestLiteral_PlainIsXSDString(t *testing.T) {
	lit := NewLiteral("Alice")
	if lit.EffectiveDatatype().IRI != XSDString.IRI {
		t.Errorf("Expected xsd:string, got %s", lit.EffectiveDatatype().IRI)
	}
	if !lit.Equals(NewLiteralWithDatatype("Alice", XSDString)) {
		t.Error("Plain literal should equal explicit xsd:string literal")
	}
}

func TestLiteral_ExplicitXSDStringIsDropped(t *testing.T) {
	lit := NewLiteralWithDatatype("Alice", XSDString)
	if lit.Datatype != nil {
		t.Errorf("Expected normalized literal without datatype, got %v", lit.Datatype)
	}
}

func TestLiteral_LanguageImpliesLangString(t *testing.T) {
	lit := NewLiteralWithLanguage("Alice", "EN")
	if lit.Language != "en" {
		t.Errorf("Expected lower-case tag, got %s", lit.Language)
	}
	if lit.EffectiveDatatype().IRI != RDFLangString.IRI {
		t.Errorf("Expected rdf:langString, got %s", lit.EffectiveDatatype().IRI)
	}
	if lit.Equals(NewLiteral("Alice")) {
		t.Error("Language-tagged literal should not equal plain literal")
	}
}

func TestLiteral_TypedEquality(t *testing.T) {
	a := NewIntegerLiteral(42)
	b := NewLiteralWithDatatype("42", XSDInteger)
	c := NewLiteralWithDatatype("42", XSDDecimal)

	if !a.Equals(b) {
		t.Error("Expected equal typed literals")
	}
	if a.Equals(c) {
		t.Error("Different datatypes should not be equal")
	}
}

// ===== Quad Tests =====

func TestQuad_EqualsAndKey(t *testing.T) {
	q1 := NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil)
	q2 := NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), NewDefaultGraph())
	q3 := NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), NewNamedNode("http://example.org/g"))

	if !q1.Equals(q2) {
		t.Error("Nil graph should equal default graph")
	}
	if q1.Key() != q2.Key() {
		t.Errorf("Expected equal keys, got %q and %q", q1.Key(), q2.Key())
	}
	if q1.Equals(q3) || q1.Key() == q3.Key() {
		t.Error("Quads in different graphs should differ")
	}
	if !q1.IsDefaultGraph() || q3.IsDefaultGraph() {
		t.Error("IsDefaultGraph reported the wrong graph")
	}
}

func TestQuad_Validate(t *testing.T) {
	valid := NewQuad(NewBlankNode("b0"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil)
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid quad, got %v", err)
	}

	tests := []struct {
		name string
		quad *Quad
		want error
	}{
		{"literal subject", NewQuad(NewLiteral("s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil), ErrInvalidSubject},
		{"blank predicate", NewQuad(NewNamedNode("http://example.org/s"), NewBlankNode("p"), NewLiteral("o"), nil), ErrInvalidPredicate},
		{"literal graph", NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), NewLiteral("g")), ErrInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.quad.Validate(); err != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// ===== Canonical Tests =====

func TestSerializeQuadsCanonical(t *testing.T) {
	quads := []*Quad{
		NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("line\nbreak \"quoted\""), nil),
		NewQuad(NewBlankNode("b0"), NewNamedNode("http://example.org/p"), NewLiteralWithLanguage("hi", "EN-gb"), NewNamedNode("http://example.org/g")),
		NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewIntegerLiteral(7), nil),
	}

	expected := `<http://example.org/s> <http://example.org/p> "line\nbreak \"quoted\"" .
_:b0 <http://example.org/p> "hi"@en-gb <http://example.org/g> .
<http://example.org/s> <http://example.org/p> "7"^^<http://www.w3.org/2001/XMLSchema#integer> .
`
	if got := SerializeQuadsCanonical(quads); got != expected {
		t.Errorf("Unexpected canonical output:\n%s\nwant:\n%s", got, expected)
	}
}

func TestSortQuads_Deterministic(t *testing.T) {
	a := NewQuad(NewNamedNode("http://example.org/a"), RDFType, NewLiteral("x"), nil)
	b := NewQuad(NewNamedNode("http://example.org/b"), RDFType, NewLiteral("x"), nil)

	quads := []*Quad{b, a}
	SortQuads(quads)
	if quads[0] != a || quads[1] != b {
		t.Error("Expected quads sorted by canonical line")
	}
}

func TestSkolemize(t *testing.T) {
	q := NewQuad(NewBlankNode("b1"), NewNamedNode("http://example.org/p"), NewBlankNode("b2"), nil)
	sk := Skolemize(q, "")

	if sk.Subject.(*NamedNode).IRI != DefaultSkolemBase+"b1" {
		t.Errorf("Unexpected skolem subject %s", sk.Subject)
	}
	if sk.Object.(*NamedNode).IRI != DefaultSkolemBase+"b2" {
		t.Errorf("Unexpected skolem object %s", sk.Object)
	}

	ground := NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("o"), nil)
	if Skolemize(ground, "") != ground {
		t.Error("Ground quad should be returned unchanged")
	}
}
