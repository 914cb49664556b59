package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/piprate/json-gold/ld"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// Canonicalize returns the URDNA2015 canonical N-Quads of a quad set.
// Isomorphic sets produce identical output.
func Canonicalize(quads []*rdf.Quad) (string, error) {
	if len(quads) == 0 {
		return "", nil
	}

	proc := ld.NewJsonLdProcessor()
	options := newJSONLDOptions()
	options.InputFormat = nquadsMediaType
	options.Format = nquadsMediaType
	options.Algorithm = ld.AlgorithmURDNA2015

	out, err := proc.Normalize(serializeForJSONGold(quads), options)
	if err != nil {
		return "", fmt.Errorf("canonicalizing dataset: %w", err)
	}
	normalized, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("unexpected normalization output %T", out)
	}
	return normalized, nil
}

// Digest returns the hex SHA-256 of the canonical form of quads
func Digest(quads []*rdf.Quad) (string, error) {
	canonical, err := Canonicalize(quads)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}
