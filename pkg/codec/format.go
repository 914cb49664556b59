package codec

import (
	"mime"
	"sort"
	"strconv"
	"strings"
)

// Format names an RDF serialization
type Format string

const (
	FormatNQuads   Format = "n-quads"
	FormatTriG     Format = "trig"
	FormatJSONLD   Format = "json-ld"
	FormatTurtle   Format = "turtle"
	FormatNTriples Format = "n-triples"
	FormatN3       Format = "n3"
	FormatRDFXML   Format = "rdf-xml"
)

// Operation is the codec direction reported by UnsupportedFormatError
type Operation string

const (
	OperationEncode Operation = "encode"
	OperationDecode Operation = "decode"
)

type formatInfo struct {
	contentType string
	aliases     []string
	decodable   bool
	relabels    bool // blank nodes get fresh labels on every encode
	extension   string
}

var formats = map[Format]formatInfo{
	FormatNQuads:   {contentType: "application/n-quads", aliases: []string{"nquads", "nq"}, decodable: true, extension: ".nq"},
	FormatTriG:     {contentType: "application/trig", decodable: true, extension: ".trig"},
	FormatJSONLD:   {contentType: "application/ld+json", aliases: []string{"jsonld"}, decodable: true, relabels: true, extension: ".jsonld"},
	FormatTurtle:   {contentType: "text/turtle", aliases: []string{"ttl"}, extension: ".ttl"},
	FormatNTriples: {contentType: "application/n-triples", aliases: []string{"ntriples", "nt"}, extension: ".nt"},
	FormatN3:       {contentType: "text/n3", extension: ".n3"},
	FormatRDFXML:   {contentType: "application/rdf+xml", aliases: []string{"rdfxml", "xml"}, extension: ".rdf"},
}

// ContentType returns the media type of the format
func (f Format) ContentType() string {
	return formats[f].contentType
}

// Extension returns the conventional file extension, including the dot
func (f Format) Extension() string {
	return formats[f].extension
}

// Encodable reports whether quads can be written in this format
func (f Format) Encodable() bool {
	_, ok := formats[f]
	return ok
}

// Decodable reports whether the format can be read back without losing graph names
func (f Format) Decodable() bool {
	return formats[f].decodable
}

// Storable reports whether quads read back from the format keep the blank node
// labels they were written with, so that search document IDs stay valid
// across re-serializations of a world
func (f Format) Storable() bool {
	info := formats[f]
	return info.decodable && !info.relabels
}

// ParseFormat resolves a format name, alias or content type
func ParseFormat(name string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if mediaType, _, err := mime.ParseMediaType(key); err == nil {
		key = mediaType
	}
	for format, info := range formats {
		if key == string(format) || key == info.contentType {
			return format, nil
		}
		for _, alias := range info.aliases {
			if key == alias {
				return format, nil
			}
		}
	}
	return "", &UnsupportedFormatError{Format: name, Operation: OperationEncode}
}

// Negotiate picks the encodable format best matching an HTTP Accept header.
// An empty header or a wildcard selects N-Quads.
func Negotiate(accept string) (Format, error) {
	if strings.TrimSpace(accept) == "" {
		return FormatNQuads, nil
	}

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
		if q <= 0 {
			continue
		}
		candidates = append(candidates, candidate{mediaType: mediaType, q: q})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].q > candidates[j].q
	})

	for _, c := range candidates {
		if c.mediaType == "*/*" || c.mediaType == "application/*" {
			return FormatNQuads, nil
		}
		// application/json is served as JSON-LD
		if c.mediaType == "application/json" {
			return FormatJSONLD, nil
		}
		if format, err := ParseFormat(c.mediaType); err == nil {
			return format, nil
		}
	}
	return "", &UnsupportedFormatError{Format: accept, Operation: OperationEncode}
}
