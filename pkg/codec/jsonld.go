package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/piprate/json-gold/ld"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

const nquadsMediaType = "application/n-quads"

// offlineLoader refuses remote contexts; blobs and imports must be self-contained
type offlineLoader struct{}

func (offlineLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, fmt.Sprintf("remote context %s is not allowed", u))
}

func newJSONLDOptions() *ld.JsonLdOptions {
	options := ld.NewJsonLdOptions("")
	options.ProcessingMode = ld.JsonLd_1_1
	options.DocumentLoader = offlineLoader{}
	return options
}

// encodeJSONLD writes expanded JSON-LD, one top-level object per graph
func encodeJSONLD(w io.Writer, quads []*rdf.Quad) error {
	proc := ld.NewJsonLdProcessor()
	options := newJSONLDOptions()
	options.Format = nquadsMediaType

	doc, err := proc.FromRDF(serializeForJSONGold(quads), options)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

func decodeJSONLD(data []byte) ([]*rdf.Quad, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		var jsonErr *json.SyntaxError
		if errors.As(err, &jsonErr) {
			line, col := offsetPosition(data, jsonErr.Offset)
			return nil, &SyntaxError{Format: FormatJSONLD, Line: line, Column: col, Msg: jsonErr.Error()}
		}
		return nil, &SyntaxError{Format: FormatJSONLD, Msg: err.Error()}
	}

	proc := ld.NewJsonLdProcessor()
	options := newJSONLDOptions()
	options.Format = nquadsMediaType

	out, err := proc.ToRDF(doc, options)
	if err != nil {
		return nil, &SyntaxError{Format: FormatJSONLD, Msg: err.Error()}
	}
	nquads, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected JSON-LD processor output %T", out)
	}
	return rdf.NewNQuadsParser(nquads).Parse()
}

// serializeForJSONGold renders sorted canonical N-Quads with blank nodes relabelled b0, b1, ...
// because the json-gold N-Quads reader only accepts alphanumeric labels.
func serializeForJSONGold(quads []*rdf.Quad) string {
	sorted := dedupe(quads)
	rdf.SortQuads(sorted)

	labels := make(map[string]*rdf.BlankNode)
	relabel := func(term rdf.Term) rdf.Term {
		b, ok := term.(*rdf.BlankNode)
		if !ok {
			return term
		}
		if n, ok := labels[b.ID]; ok {
			return n
		}
		n := rdf.NewBlankNode(fmt.Sprintf("b%d", len(labels)))
		labels[b.ID] = n
		return n
	}

	var sb strings.Builder
	for _, q := range sorted {
		sb.WriteString(rdf.SerializeQuadCanonical(rdf.NewQuad(relabel(q.Subject), q.Predicate, relabel(q.Object), q.Graph)))
	}
	return sb.String()
}

func offsetPosition(data []byte, offset int64) (int, int) {
	line, col := 1, 1
	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
