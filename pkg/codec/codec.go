// Package codec serializes quad sets into compressed RDF blobs and back.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// UnsupportedFormatError is returned for formats outside the encodable or decodable set
type UnsupportedFormatError struct {
	Format    string
	Operation Operation
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %q for %s", e.Format, e.Operation)
}

// SyntaxError reports malformed serialized input.
// Line and Column are zero when the underlying parser does not track positions.
type SyntaxError struct {
	Format Format
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s syntax error at line %d, column %d: %s", e.Format, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%s syntax error: %s", e.Format, e.Msg)
}

// CompressionError reports corrupt compressed input
type CompressionError struct {
	Compression Compression
	Err         error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s decompression failed: %v", e.Compression, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Encode serializes quads in format and wraps the result with compression
func Encode(quads []*rdf.Quad, format Format, compression Compression) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, quads, format, compression); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo streams the encoded, compressed serialization to w
func EncodeTo(w io.Writer, quads []*rdf.Quad, format Format, compression Compression) error {
	encode, ok := encoders[format]
	if !ok {
		return &UnsupportedFormatError{Format: string(format), Operation: OperationEncode}
	}

	zw, err := compressWriter(w, compression)
	if err != nil {
		return err
	}
	if err := encode(zw, quads); err != nil {
		zw.Close()
		return fmt.Errorf("encoding %s: %w", format, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing %s writer: %w", compression, err)
	}
	return nil
}

// Decode parses data written by Encode with the same format and compression
func Decode(data []byte, format Format, compression Compression) ([]*rdf.Quad, error) {
	return DecodeFrom(bytes.NewReader(data), format, compression)
}

// DecodeFrom reads a compressed serialization from r
func DecodeFrom(r io.Reader, format Format, compression Compression) ([]*rdf.Quad, error) {
	decode, ok := decoders[format]
	if !ok {
		return nil, &UnsupportedFormatError{Format: string(format), Operation: OperationDecode}
	}

	data, err := readAll(r, compression)
	if err != nil {
		return nil, err
	}
	quads, err := decode(data)
	if err != nil {
		return nil, wrapSyntaxError(format, err)
	}
	for _, q := range quads {
		if err := q.Validate(); err != nil {
			return nil, &SyntaxError{Format: format, Msg: fmt.Sprintf("%v: %s", err, q)}
		}
	}
	return quads, nil
}

func wrapSyntaxError(format Format, err error) error {
	var syntaxErr *rdf.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &SyntaxError{Format: format, Line: syntaxErr.Line, Column: syntaxErr.Column, Msg: syntaxErr.Msg}
	}
	var ours *SyntaxError
	if errors.As(err, &ours) {
		return err
	}
	return &SyntaxError{Format: format, Msg: err.Error()}
}

type encodeFunc func(w io.Writer, quads []*rdf.Quad) error

type decodeFunc func(data []byte) ([]*rdf.Quad, error)

var encoders = map[Format]encodeFunc{
	FormatNQuads:   encodeNQuads,
	FormatTriG:     encodeTriG,
	FormatJSONLD:   encodeJSONLD,
	FormatTurtle:   encodeTurtle,
	FormatNTriples: encodeNTriples,
	FormatN3:       encodeTurtle,
	FormatRDFXML:   encodeRDFXML,
}

var decoders = map[Format]decodeFunc{
	FormatNQuads: decodeNQuads,
	FormatTriG:   decodeTriG,
	FormatJSONLD: decodeJSONLD,
}

func encodeNQuads(w io.Writer, quads []*rdf.Quad) error {
	sorted := dedupe(quads)
	rdf.SortQuads(sorted)
	_, err := io.WriteString(w, rdf.SerializeQuadsCanonical(sorted))
	return err
}

func decodeNQuads(data []byte) ([]*rdf.Quad, error) {
	return rdf.NewNQuadsParser(string(data)).Parse()
}

func decodeTriG(data []byte) ([]*rdf.Quad, error) {
	return rdf.NewTriGParser(string(data)).Parse()
}

// dedupe copies quads dropping structural duplicates
func dedupe(quads []*rdf.Quad) []*rdf.Quad {
	seen := make(map[string]struct{}, len(quads))
	out := make([]*rdf.Quad, 0, len(quads))
	for _, q := range quads {
		key := q.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}

// mergeGraphs flattens quads into the default graph for single-graph formats
func mergeGraphs(quads []*rdf.Quad) []*rdf.Quad {
	flat := make([]*rdf.Quad, 0, len(quads))
	for _, q := range quads {
		flat = append(flat, rdf.NewQuad(q.Subject, q.Predicate, q.Object, nil))
	}
	sorted := dedupe(flat)
	rdf.SortQuads(sorted)
	return sorted
}
