// Package search keeps a full-text index of a world's quads in step with its store.
package search

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// SkolemBase is the IRI prefix blank nodes are rewritten to before hashing
const SkolemBase = rdf.DefaultSkolemBase

// Document is the indexed form of one quad
type Document struct {
	ID        string
	Subject   string
	Predicate string
	Object    string
	Graph     string
}

// DocumentID returns the content address of a quad: the hex xxh3-128 hash of its
// skolemized canonical N-Quads line. Equal quads always share an ID.
func DocumentID(q *rdf.Quad) string {
	line := rdf.SerializeQuadCanonical(rdf.Skolemize(q, SkolemBase))
	hash := xxh3.Hash128([]byte(line))
	var sum [16]byte
	binary.BigEndian.PutUint64(sum[0:8], hash.Hi)
	binary.BigEndian.PutUint64(sum[8:16], hash.Lo)
	return hex.EncodeToString(sum[:])
}

// NewDocument builds the document for a quad
func NewDocument(q *rdf.Quad) Document {
	return Document{
		ID:        DocumentID(q),
		Subject:   rdf.SerializeTermCanonical(q.Subject),
		Predicate: rdf.SerializeTermCanonical(q.Predicate),
		Object:    rdf.SerializeTermCanonical(q.Object),
		Graph:     rdf.SerializeTermCanonical(q.Graph),
	}
}

// Quad parses the document's terms back into a quad
func (d Document) Quad() (*rdf.Quad, error) {
	line := d.Subject + " " + d.Predicate + " " + d.Object
	if d.Graph != "" {
		line += " " + d.Graph
	}
	quads, err := rdf.NewNQuadsParser(line + " .").Parse()
	if err != nil {
		return nil, err
	}
	return quads[0], nil
}

// Text returns the searchable text: subject and predicate local names plus the object's lexical form
func (d Document) Text() string {
	return localName(d.Subject) + " " + localName(d.Predicate) + " " + objectText(d.Object)
}

func localName(term string) string {
	term = strings.TrimSuffix(strings.TrimPrefix(term, "<"), ">")
	term = strings.TrimPrefix(term, "_:")
	if idx := strings.LastIndexAny(term, "#/:"); idx >= 0 && idx < len(term)-1 {
		return term[idx+1:]
	}
	return term
}

func objectText(term string) string {
	if strings.HasPrefix(term, "\"") {
		quads, err := rdf.NewNQuadsParser("<urn:x:s> <urn:x:p> " + term + " .").Parse()
		if err == nil {
			if lit, ok := quads[0].Object.(*rdf.Literal); ok {
				return lit.Value
			}
		}
	}
	return localName(term)
}
