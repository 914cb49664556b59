package rdf

import (
	"errors"
	"testing"
)

func TestNQuadsParser_Basic(t *testing.T) {
	input := `<http://example.org/s> <http://example.org/p> "o" .
<http://example.org/s> <http://example.org/p> "hi"@en <http://example.org/g> .
_:b.1 <http://example.org/p> "7"^^<http://www.w3.org/2001/XMLSchema#integer> .
# comment line

_:b-2 <http://example.org/p> _:b.1 <http://example.org/g> . # trailing comment
`
	quads, err := NewNQuadsParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(quads) != 4 {
		t.Fatalf("Expected 4 quads, got %d", len(quads))
	}

	if !quads[0].IsDefaultGraph() {
		t.Errorf("Expected default graph, got %v", quads[0].Graph)
	}
	if getIRI(quads[1].Graph) != "http://example.org/g" {
		t.Errorf("Expected named graph, got %v", quads[1].Graph)
	}
	if b, ok := quads[2].Subject.(*BlankNode); !ok || b.ID != "b.1" {
		t.Errorf("Expected blank node b.1, got %v", quads[2].Subject)
	}
	if !quads[2].Object.Equals(NewIntegerLiteral(7)) {
		t.Errorf("Expected integer literal, got %v", quads[2].Object)
	}
	if b, ok := quads[3].Object.(*BlankNode); !ok || b.ID != "b.1" {
		t.Errorf("Expected blank node object b.1, got %v", quads[3].Object)
	}
}

func TestNQuadsParser_RoundTripCanonical(t *testing.T) {
	quads := []*Quad{
		NewQuad(NewNamedNode("http://example.org/s"), NewNamedNode("http://example.org/p"), NewLiteral("tab\tquote\"nl\n"), nil),
		NewQuad(NewBlankNode("x"), NewNamedNode("http://example.org/p"), NewLiteralWithLanguage("hallo", "de"), NewNamedNode("http://example.org/g")),
	}
	parsed, err := NewNQuadsParser(SerializeQuadsCanonical(quads)).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !AreQuadsIsomorphic(quads, parsed) {
		t.Errorf("Round trip changed the dataset:\n%s", SerializeQuadsCanonical(parsed))
	}
}

func TestNQuadsParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"literal subject", `"s" <http://example.org/p> "o" .`, 1},
		{"missing dot", "<http://example.org/s> <http://example.org/p> \"o\"\n", 1},
		{"prefixed name", "<http://example.org/s> <http://example.org/p> \"o\" .\nex:s <http://example.org/p> \"o\" .", 2},
		{"blank graph", `<http://example.org/s> <http://example.org/p> "o" _:g .`, 1},
		{"two statements on one line", `<http://example.org/s> <http://example.org/p> "o" . <http://example.org/s> <http://example.org/p> "o" .`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNQuadsParser(tt.input).Parse()
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Fatalf("Expected *SyntaxError, got %v", err)
			}
			if syntaxErr.Line != tt.line {
				t.Errorf("Expected error on line %d, got %d", tt.line, syntaxErr.Line)
			}
		})
	}
}
