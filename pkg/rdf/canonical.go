package rdf

import (
	"fmt"
	"sort"
	"strings"
)

// SerializeQuadsCanonical serializes quads to canonical N-Quads.
// Input order is preserved; use SortQuads first for byte-stable output.
func SerializeQuadsCanonical(quads []*Quad) string {
	if len(quads) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, quad := range quads {
		writeQuadCanonical(&builder, quad)
	}

	return builder.String()
}

// SerializeQuadCanonical serializes a single quad as one canonical N-Quads line
func SerializeQuadCanonical(quad *Quad) string {
	var builder strings.Builder
	writeQuadCanonical(&builder, quad)
	return builder.String()
}

func writeQuadCanonical(builder *strings.Builder, quad *Quad) {
	builder.WriteString(SerializeTermCanonical(quad.Subject))
	builder.WriteString(" ")
	builder.WriteString(SerializeTermCanonical(quad.Predicate))
	builder.WriteString(" ")
	builder.WriteString(SerializeTermCanonical(quad.Object))

	// Add graph if not default graph
	if quad.Graph != nil {
		if _, isDefault := quad.Graph.(*DefaultGraph); !isDefault {
			builder.WriteString(" ")
			builder.WriteString(SerializeTermCanonical(quad.Graph))
		}
	}

	builder.WriteString(" .\n")
}

// SerializeTermCanonical serializes a single RDF term in canonical N-Quads form.
// The default graph serializes to the empty string.
func SerializeTermCanonical(term Term) string {
	switch t := term.(type) {
	case *NamedNode:
		return fmt.Sprintf("<%s>", escapeIRICanonical(t.IRI))
	case *BlankNode:
		return fmt.Sprintf("_:%s", t.ID)
	case *Literal:
		return serializeLiteralCanonical(t)
	default:
		return ""
	}
}

// serializeLiteralCanonical serializes a literal in canonical format
func serializeLiteralCanonical(lit *Literal) string {
	escaped := escapeStringCanonical(lit.Value)

	if lit.Language != "" {
		return fmt.Sprintf(`"%s"@%s`, escaped, strings.ToLower(lit.Language))
	}

	// Omit xsd:string datatype in canonical format (it's the default)
	if lit.Datatype != nil && lit.Datatype.IRI != XSDString.IRI {
		return fmt.Sprintf(`"%s"^^<%s>`, escaped, escapeIRICanonical(lit.Datatype.IRI))
	}

	return fmt.Sprintf(`"%s"`, escaped)
}

// escapeStringCanonical escapes a string value for canonical N-Triples/N-Quads output:
// named escapes for \t \b \n \r \f \" \\ and \uXXXX for the remaining control characters.
func escapeStringCanonical(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\t':
			builder.WriteString(`\t`)
		case '\b':
			builder.WriteString(`\b`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\f':
			builder.WriteString(`\f`)
		case '"':
			builder.WriteString(`\"`)
		case '\\':
			builder.WriteString(`\\`)
		default:
			if r < 0x20 || r == 0x7F || (r >= 0xFFFE && r <= 0xFFFF) {
				builder.WriteString(fmt.Sprintf(`\u%04X`, r))
			} else {
				builder.WriteRune(r)
			}
		}
	}

	return builder.String()
}

// escapeIRICanonical escapes characters that may not appear inside <...>
func escapeIRICanonical(iri string) string {
	if !strings.ContainsAny(iri, "<>\"{}|^`\\ \n\r\t") {
		return iri
	}
	var builder strings.Builder
	for _, r := range iri {
		if r <= 0x20 || strings.ContainsRune("<>\"{}|^`\\", r) {
			builder.WriteString(fmt.Sprintf(`\u%04X`, r))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// SortQuads orders quads by their canonical line, giving a deterministic serialization order.
func SortQuads(quads []*Quad) {
	keys := make(map[*Quad]string, len(quads))
	for _, q := range quads {
		keys[q] = q.Key()
	}
	sort.SliceStable(quads, func(i, j int) bool {
		return keys[quads[i]] < keys[quads[j]]
	})
}

// DefaultSkolemBase is the IRI prefix used for skolemized blank nodes
const DefaultSkolemBase = "https://worlds.invalid/.well-known/genid/"

// Skolemize returns a copy of the quad with every blank node replaced by an IRI
// built from base and the blank node label. Quads without blank nodes are returned as is.
func Skolemize(quad *Quad, base string) *Quad {
	if base == "" {
		base = DefaultSkolemBase
	}
	subject, s := skolemizeTerm(quad.Subject, base)
	object, o := skolemizeTerm(quad.Object, base)
	if !s && !o {
		return quad
	}
	return NewQuad(subject, quad.Predicate, object, quad.Graph)
}

func skolemizeTerm(term Term, base string) (Term, bool) {
	if b, ok := term.(*BlankNode); ok {
		return NewNamedNode(base + b.ID), true
	}
	return term, false
}
