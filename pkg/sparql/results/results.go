// Package results writes SPARQL results in the W3C result formats and quad
// results as RDF.
package results

import (
	"io"
	"mime"
	"sort"
	"strconv"
	"strings"

	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

const (
	ContentTypeJSON = "application/sparql-results+json"
	ContentTypeXML  = "application/sparql-results+xml"
	ContentTypeCSV  = "text/csv"
	ContentTypeTSV  = "text/tab-separated-values"
)

// Writer serializes one kind of result
type Writer interface {
	ContentType() string
	Write(w io.Writer, result *sparql.Result) error
}

var writers = map[string]Writer{
	ContentTypeJSON:    JSONWriter{},
	"application/json": JSONWriter{},
	ContentTypeXML:     XMLWriter{},
	"application/xml":  XMLWriter{},
	"text/xml":         XMLWriter{},
	ContentTypeCSV:     CSVWriter{},
	ContentTypeTSV:     TSVWriter{},
}

// Negotiate picks a writer for result from an HTTP Accept header. Quad
// results are written as RDF unless a SPARQL results type is preferred; an
// empty or unmatched header selects SPARQL JSON for solutions and N-Quads
// for quads.
func Negotiate(accept string, kind sparql.ResultKind) Writer {
	for _, mediaType := range acceptedTypes(accept) {
		if w, ok := writers[mediaType]; ok {
			return w
		}
		if kind == sparql.KindQuads {
			if format, err := codec.Negotiate(mediaType); err == nil && mediaType != "*/*" {
				return RDFWriter{Format: format}
			}
		}
	}
	if kind == sparql.KindQuads {
		return RDFWriter{Format: codec.FormatNQuads}
	}
	return JSONWriter{}
}

// acceptedTypes returns the media types of an Accept header ordered by
// preference, dropping those with q=0
func acceptedTypes(accept string) []string {
	type candidate struct {
		mediaType string
		q         float64
	}
	var candidates []candidate
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
		if q > 0 {
			candidates = append(candidates, candidate{mediaType: mediaType, q: q})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].q > candidates[j].q
	})

	types := make([]string, len(candidates))
	for i, c := range candidates {
		types[i] = c.mediaType
	}
	return types
}

// rows returns the solutions of a result, turning quads into bindings of
// subject, predicate, object and graph. Default-graph quads leave graph
// unbound.
func rows(result *sparql.Result) []*store.Binding {
	if result.Kind != sparql.KindQuads {
		return result.Rows
	}
	out := make([]*store.Binding, len(result.Quads))
	for i, q := range result.Quads {
		b := store.NewBinding()
		b.Vars["subject"] = q.Subject
		b.Vars["predicate"] = q.Predicate
		b.Vars["object"] = q.Object
		if q.Graph != nil && q.Graph.Type() != rdf.TermTypeDefaultGraph {
			b.Vars["graph"] = q.Graph
		}
		out[i] = b
	}
	return out
}

func variables(result *sparql.Result) []string {
	if result.Kind == sparql.KindQuads {
		return sparql.QuadVariables
	}
	if result.Variables == nil {
		return []string{}
	}
	return result.Variables
}

// RDFWriter serializes quad results through the blob codec
type RDFWriter struct {
	Format codec.Format
}

func (w RDFWriter) ContentType() string {
	return w.Format.ContentType()
}

func (w RDFWriter) Write(out io.Writer, result *sparql.Result) error {
	return codec.EncodeTo(out, result.Quads, w.Format, codec.CompressionNone)
}
