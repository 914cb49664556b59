package store

import (
	"sort"
	"sync"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// QuadStore is the queryable quad set a SPARQL evaluation runs against.
// A nil term in Match, RemoveMatching or DeleteGraph is a wildcard.
type QuadStore interface {
	// Add inserts a quad and reports whether it was new
	Add(q *rdf.Quad) bool
	// AddMany inserts quads and returns how many were new
	AddMany(qs []*rdf.Quad) int
	// Remove deletes a quad and reports whether it was present
	Remove(q *rdf.Quad) bool
	// RemoveMany deletes quads and returns how many were present
	RemoveMany(qs []*rdf.Quad) int
	// RemoveMatching deletes every quad matching the pattern
	RemoveMatching(s, p, o, g rdf.Term) int
	// DeleteGraph deletes every quad in graph g
	DeleteGraph(g rdf.Term) int
	Match(s, p, o, g rdf.Term) []*rdf.Quad
	Has(q *rdf.Quad) bool
	Size() int
	// Graphs lists the distinct graph terms, default graph included when non-empty
	Graphs() []rdf.Term
}

type keySet map[string]struct{}

// MemoryStore is an indexed in-memory QuadStore.
// Readers may run concurrently; writers are serialized.
type MemoryStore struct {
	mu    sync.RWMutex
	quads map[string]*rdf.Quad

	// position indexes: canonical term -> quad keys
	bySubject   map[string]keySet
	byPredicate map[string]keySet
	byObject    map[string]keySet
	byGraph     map[string]keySet
}

// NewMemoryStore creates an empty store, optionally seeded with quads
func NewMemoryStore(quads ...*rdf.Quad) *MemoryStore {
	s := &MemoryStore{
		quads:       make(map[string]*rdf.Quad),
		bySubject:   make(map[string]keySet),
		byPredicate: make(map[string]keySet),
		byObject:    make(map[string]keySet),
		byGraph:     make(map[string]keySet),
	}
	s.AddMany(quads)
	return s
}

func (s *MemoryStore) Add(q *rdf.Quad) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(q)
}

func (s *MemoryStore) AddMany(qs []*rdf.Quad) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range qs {
		if s.add(q) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Remove(q *rdf.Quad) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(q.Key())
}

func (s *MemoryStore) RemoveMany(qs []*rdf.Quad) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range qs {
		if s.remove(q.Key()) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) RemoveMatching(subj, pred, obj, graph rdf.Term) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, key := range s.matchKeys(subj, pred, obj, graph) {
		if s.remove(key) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) DeleteGraph(graph rdf.Term) int {
	if graph == nil {
		graph = rdf.NewDefaultGraph()
	}
	return s.RemoveMatching(nil, nil, nil, graph)
}

// Match returns matching quads in canonical order
func (s *MemoryStore) Match(subj, pred, obj, graph rdf.Term) []*rdf.Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.matchKeys(subj, pred, obj, graph)
	sort.Strings(keys)
	out := make([]*rdf.Quad, len(keys))
	for i, key := range keys {
		out[i] = s.quads[key]
	}
	return out
}

func (s *MemoryStore) Has(q *rdf.Quad) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.quads[q.Key()]
	return ok
}

func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quads)
}

func (s *MemoryStore) Graphs() []rdf.Term {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byGraph))
	for name := range s.byGraph {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]rdf.Term, 0, len(names))
	for _, name := range names {
		for key := range s.byGraph[name] {
			out = append(out, s.quads[key].Graph)
			break
		}
	}
	return out
}

// Quads returns every quad in canonical order
func (s *MemoryStore) Quads() []*rdf.Quad {
	return s.Match(nil, nil, nil, nil)
}

func (s *MemoryStore) add(q *rdf.Quad) bool {
	if q.Graph == nil {
		q = rdf.NewQuad(q.Subject, q.Predicate, q.Object, nil)
	}
	key := q.Key()
	if _, ok := s.quads[key]; ok {
		return false
	}
	s.quads[key] = q
	index(s.bySubject, rdf.SerializeTermCanonical(q.Subject), key)
	index(s.byPredicate, rdf.SerializeTermCanonical(q.Predicate), key)
	index(s.byObject, rdf.SerializeTermCanonical(q.Object), key)
	index(s.byGraph, rdf.SerializeTermCanonical(q.Graph), key)
	return true
}

func (s *MemoryStore) remove(key string) bool {
	q, ok := s.quads[key]
	if !ok {
		return false
	}
	delete(s.quads, key)
	unindex(s.bySubject, rdf.SerializeTermCanonical(q.Subject), key)
	unindex(s.byPredicate, rdf.SerializeTermCanonical(q.Predicate), key)
	unindex(s.byObject, rdf.SerializeTermCanonical(q.Object), key)
	unindex(s.byGraph, rdf.SerializeTermCanonical(q.Graph), key)
	return true
}

// matchKeys selects the smallest posting set among the bound positions and filters it
func (s *MemoryStore) matchKeys(subj, pred, obj, graph rdf.Term) []string {
	type bound struct {
		index map[string]keySet
		term  string
	}
	var bounds []bound
	if subj != nil {
		bounds = append(bounds, bound{s.bySubject, rdf.SerializeTermCanonical(subj)})
	}
	if pred != nil {
		bounds = append(bounds, bound{s.byPredicate, rdf.SerializeTermCanonical(pred)})
	}
	if obj != nil {
		bounds = append(bounds, bound{s.byObject, rdf.SerializeTermCanonical(obj)})
	}
	if graph != nil {
		bounds = append(bounds, bound{s.byGraph, rdf.SerializeTermCanonical(graph)})
	}

	if len(bounds) == 0 {
		keys := make([]string, 0, len(s.quads))
		for key := range s.quads {
			keys = append(keys, key)
		}
		return keys
	}

	best := 0
	for i := range bounds {
		if len(bounds[i].index[bounds[i].term]) < len(bounds[best].index[bounds[best].term]) {
			best = i
		}
	}

	var keys []string
candidates:
	for key := range bounds[best].index[bounds[best].term] {
		for i, b := range bounds {
			if i == best {
				continue
			}
			if _, ok := b.index[b.term][key]; !ok {
				continue candidates
			}
		}
		keys = append(keys, key)
	}
	return keys
}

func index(idx map[string]keySet, term, key string) {
	set, ok := idx[term]
	if !ok {
		set = make(keySet)
		idx[term] = set
	}
	set[key] = struct{}{}
}

func unindex(idx map[string]keySet, term, key string) {
	set := idx[term]
	delete(set, key)
	if len(set) == 0 {
		delete(idx, term)
	}
}
