package rdf

import (
	"sort"
	"strings"
)

// AreQuadsIsomorphic checks if two quad sets are equal up to blank node relabeling.
// Duplicate quads are ignored; the comparison is on sets.
// Blank nodes are matched by backtracking, most-connected nodes first.
func AreQuadsIsomorphic(expected, actual []*Quad) bool {
	expected = dedupeQuads(expected)
	actual = dedupeQuads(actual)
	if len(expected) != len(actual) {
		return false
	}

	expectedBlanks := blankLabels(expected)
	actualBlanks := blankLabels(actual)
	if len(expectedBlanks) != len(actualBlanks) {
		return false
	}

	// No blank nodes: plain set comparison
	if len(expectedBlanks) == 0 {
		return sameKeys(expected, actual, nil)
	}

	expectedSig := blankSignatures(expected)
	actualSig := blankSignatures(actual)
	sortByDegree(expectedBlanks, expectedSig)

	target := make(map[string]bool, len(actual))
	for _, q := range actual {
		target[mappedKey(q, nil)] = true
	}

	iso := &isoSearch{
		expected:  expected,
		target:    target,
		blanks:    expectedBlanks,
		candidate: actualBlanks,
		expSig:    expectedSig,
		actSig:    actualSig,
		mapping:   make(map[string]string),
		used:      make(map[string]bool),
	}
	return iso.search(0)
}

type isoSearch struct {
	expected  []*Quad
	target    map[string]bool
	blanks    []string
	candidate []string
	expSig    map[string]string
	actSig    map[string]string
	mapping   map[string]string
	used      map[string]bool
}

func (s *isoSearch) search(i int) bool {
	if i == len(s.blanks) {
		return sameKeysTarget(s.expected, s.target, s.mapping)
	}
	from := s.blanks[i]
	for _, to := range s.candidate {
		if s.used[to] || s.expSig[from] != s.actSig[to] {
			continue
		}
		s.mapping[from] = to
		s.used[to] = true
		if s.consistent() && s.search(i+1) {
			return true
		}
		delete(s.mapping, from)
		s.used[to] = false
	}
	return false
}

// consistent checks every quad whose blank nodes are all mapped
func (s *isoSearch) consistent() bool {
	for _, q := range s.expected {
		if !fullyMapped(q, s.mapping) {
			continue
		}
		if !s.target[mappedKey(q, s.mapping)] {
			return false
		}
	}
	return true
}

func fullyMapped(q *Quad, mapping map[string]string) bool {
	for _, t := range []Term{q.Subject, q.Object} {
		if b, ok := t.(*BlankNode); ok {
			if _, mapped := mapping[b.ID]; !mapped {
				return false
			}
		}
	}
	return true
}

func mappedKey(q *Quad, mapping map[string]string) string {
	if mapping == nil {
		return q.Key()
	}
	return SerializeQuadCanonical(NewQuad(mapTerm(q.Subject, mapping), q.Predicate, mapTerm(q.Object, mapping), q.Graph))
}

func mapTerm(t Term, mapping map[string]string) Term {
	if b, ok := t.(*BlankNode); ok {
		if to, mapped := mapping[b.ID]; mapped {
			return NewBlankNode(to)
		}
	}
	return t
}

func sameKeys(expected, actual []*Quad, mapping map[string]string) bool {
	target := make(map[string]bool, len(actual))
	for _, q := range actual {
		target[q.Key()] = true
	}
	return sameKeysTarget(expected, target, mapping)
}

func sameKeysTarget(expected []*Quad, target map[string]bool, mapping map[string]string) bool {
	for _, q := range expected {
		if !target[mappedKey(q, mapping)] {
			return false
		}
	}
	return true
}

func dedupeQuads(quads []*Quad) []*Quad {
	seen := make(map[string]bool, len(quads))
	out := make([]*Quad, 0, len(quads))
	for _, q := range quads {
		k := q.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, q)
	}
	return out
}

func blankLabels(quads []*Quad) []string {
	set := make(map[string]bool)
	for _, q := range quads {
		for _, t := range []Term{q.Subject, q.Object} {
			if b, ok := t.(*BlankNode); ok {
				set[b.ID] = true
			}
		}
	}
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// blankSignatures summarizes each blank node by the ground parts of the quads it
// occurs in. Isomorphic nodes always share a signature, which prunes the search.
func blankSignatures(quads []*Quad) map[string]string {
	parts := make(map[string][]string)
	for _, q := range quads {
		if b, ok := q.Subject.(*BlankNode); ok {
			parts[b.ID] = append(parts[b.ID], "s|"+groundOrBlank(q.Predicate)+"|"+groundOrBlank(q.Object)+"|"+groundOrBlank(q.Graph))
		}
		if b, ok := q.Object.(*BlankNode); ok {
			parts[b.ID] = append(parts[b.ID], "o|"+groundOrBlank(q.Subject)+"|"+groundOrBlank(q.Predicate)+"|"+groundOrBlank(q.Graph))
		}
	}
	sigs := make(map[string]string, len(parts))
	for id, p := range parts {
		sort.Strings(p)
		sigs[id] = strings.Join(p, ";")
	}
	return sigs
}

func groundOrBlank(t Term) string {
	if _, ok := t.(*BlankNode); ok {
		return "_"
	}
	if t == nil {
		return ""
	}
	return SerializeTermCanonical(t)
}

// sortByDegree orders blank nodes so the most-connected are matched first
func sortByDegree(blanks []string, sigs map[string]string) {
	sort.SliceStable(blanks, func(i, j int) bool {
		return strings.Count(sigs[blanks[i]], ";") > strings.Count(sigs[blanks[j]], ";")
	})
}
