package codec

import (
	"fmt"
	"io"
	"strings"

	knakk "github.com/knakk/rdf"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// encodeTurtle writes the merged triple set as Turtle; N3 output is the same document
func encodeTurtle(w io.Writer, quads []*rdf.Quad) error {
	return encodeTriples(w, quads, knakk.Turtle)
}

func encodeNTriples(w io.Writer, quads []*rdf.Quad) error {
	return encodeTriples(w, quads, knakk.NTriples)
}

func encodeTriples(w io.Writer, quads []*rdf.Quad, format knakk.Format) error {
	triples := make([]knakk.Triple, 0, len(quads))
	for _, q := range mergeGraphs(quads) {
		t, err := toKnakkTriple(q)
		if err != nil {
			return err
		}
		triples = append(triples, t)
	}

	enc := knakk.NewTripleEncoder(w, format)
	if err := enc.EncodeAll(triples); err != nil {
		return err
	}
	return enc.Close()
}

func toKnakkTriple(q *rdf.Quad) (knakk.Triple, error) {
	subj, err := toKnakkTerm(q.Subject)
	if err != nil {
		return knakk.Triple{}, err
	}
	pred, err := toKnakkTerm(q.Predicate)
	if err != nil {
		return knakk.Triple{}, err
	}
	obj, err := toKnakkTerm(q.Object)
	if err != nil {
		return knakk.Triple{}, err
	}

	s, ok := subj.(knakk.Subject)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("invalid subject %s", q.Subject)
	}
	p, ok := pred.(knakk.Predicate)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("invalid predicate %s", q.Predicate)
	}
	o, ok := obj.(knakk.Object)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("invalid object %s", q.Object)
	}
	return knakk.Triple{Subj: s, Pred: p, Obj: o}, nil
}

func toKnakkTerm(term rdf.Term) (knakk.Term, error) {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return knakk.NewIRI(t.IRI)
	case *rdf.BlankNode:
		return knakk.NewBlank(strings.TrimPrefix(t.ID, "_:"))
	case *rdf.Literal:
		if t.Language != "" {
			return knakk.NewLangLiteral(t.Value, t.Language)
		}
		dt, err := knakk.NewIRI(t.EffectiveDatatype().IRI)
		if err != nil {
			return nil, err
		}
		return knakk.NewTypedLiteral(t.Value, dt), nil
	default:
		return nil, fmt.Errorf("unsupported term %v", term)
	}
}
