package store

import (
	"sort"
	"sync"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

type opKind int

const (
	opAdd opKind = iota
	opAddMany
	opRemove
	opRemoveMany
	opRemoveMatching
	opDeleteGraph
)

type journalEntry struct {
	kind       opKind
	quads      []*rdf.Quad
	s, p, o, g rdf.Term
}

// Overlay stages mutations on top of a base store without touching it.
// Commit replays the recorded calls onto the base in order, so a base that is
// an Interceptor emits its patches only once the whole batch has succeeded.
// The base must not change between the first staged call and Commit.
type Overlay struct {
	mu      sync.RWMutex
	base    QuadStore
	added   map[string]*rdf.Quad // absent from base, present in the view
	removed map[string]*rdf.Quad // present in base, absent from the view
	journal []journalEntry
}

// NewOverlay creates an empty staging view over base
func NewOverlay(base QuadStore) *Overlay {
	return &Overlay{
		base:    base,
		added:   make(map[string]*rdf.Quad),
		removed: make(map[string]*rdf.Quad),
	}
}

// Commit applies the journal to the base store and resets the overlay
func (v *Overlay) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.journal {
		switch e.kind {
		case opAdd:
			v.base.Add(e.quads[0])
		case opAddMany:
			v.base.AddMany(e.quads)
		case opRemove:
			v.base.Remove(e.quads[0])
		case opRemoveMany:
			v.base.RemoveMany(e.quads)
		case opRemoveMatching:
			v.base.RemoveMatching(e.s, e.p, e.o, e.g)
		case opDeleteGraph:
			v.base.DeleteGraph(e.g)
		}
	}
	v.reset()
}

// Discard drops every staged mutation
func (v *Overlay) Discard() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
}

// Pending reports whether any mutating call was staged
func (v *Overlay) Pending() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.journal) > 0
}

func (v *Overlay) reset() {
	v.added = make(map[string]*rdf.Quad)
	v.removed = make(map[string]*rdf.Quad)
	v.journal = nil
}

func (v *Overlay) Add(q *rdf.Quad) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = append(v.journal, journalEntry{kind: opAdd, quads: []*rdf.Quad{q}})
	return v.add(q)
}

func (v *Overlay) AddMany(qs []*rdf.Quad) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = append(v.journal, journalEntry{kind: opAddMany, quads: qs})
	n := 0
	for _, q := range qs {
		if v.add(q) {
			n++
		}
	}
	return n
}

func (v *Overlay) Remove(q *rdf.Quad) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = append(v.journal, journalEntry{kind: opRemove, quads: []*rdf.Quad{q}})
	return v.remove(q)
}

func (v *Overlay) RemoveMany(qs []*rdf.Quad) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = append(v.journal, journalEntry{kind: opRemoveMany, quads: qs})
	n := 0
	for _, q := range qs {
		if v.remove(q) {
			n++
		}
	}
	return n
}

func (v *Overlay) RemoveMatching(s, p, o, g rdf.Term) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = append(v.journal, journalEntry{kind: opRemoveMatching, s: s, p: p, o: o, g: g})
	n := 0
	for _, q := range v.match(s, p, o, g) {
		if v.remove(q) {
			n++
		}
	}
	return n
}

func (v *Overlay) DeleteGraph(g rdf.Term) int {
	if g == nil {
		g = rdf.NewDefaultGraph()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.journal = append(v.journal, journalEntry{kind: opDeleteGraph, g: g})
	n := 0
	for _, q := range v.match(nil, nil, nil, g) {
		if v.remove(q) {
			n++
		}
	}
	return n
}

func (v *Overlay) Match(s, p, o, g rdf.Term) []*rdf.Quad {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.match(s, p, o, g)
}

func (v *Overlay) Has(q *rdf.Quad) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.has(q.Key(), q)
}

func (v *Overlay) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.base.Size() - len(v.removed) + len(v.added)
}

func (v *Overlay) Graphs() []rdf.Term {
	v.mu.RLock()
	defer v.mu.RUnlock()
	candidates := make(map[string]rdf.Term)
	for _, g := range v.base.Graphs() {
		candidates[rdf.SerializeTermCanonical(g)] = g
	}
	for _, q := range v.added {
		candidates[rdf.SerializeTermCanonical(q.Graph)] = q.Graph
	}
	names := make([]string, 0, len(candidates))
	for name, g := range candidates {
		if len(v.match(nil, nil, nil, g)) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]rdf.Term, len(names))
	for i, name := range names {
		out[i] = candidates[name]
	}
	return out
}

func (v *Overlay) has(key string, q *rdf.Quad) bool {
	if _, ok := v.added[key]; ok {
		return true
	}
	if _, ok := v.removed[key]; ok {
		return false
	}
	return v.base.Has(q)
}

func (v *Overlay) add(q *rdf.Quad) bool {
	key := q.Key()
	if _, ok := v.removed[key]; ok {
		delete(v.removed, key)
		return true
	}
	if v.has(key, q) {
		return false
	}
	v.added[key] = q
	return true
}

func (v *Overlay) remove(q *rdf.Quad) bool {
	key := q.Key()
	if _, ok := v.added[key]; ok {
		delete(v.added, key)
		return true
	}
	if _, ok := v.removed[key]; ok {
		return false
	}
	if !v.base.Has(q) {
		return false
	}
	v.removed[key] = q
	return true
}

func (v *Overlay) match(s, p, o, g rdf.Term) []*rdf.Quad {
	var out []*rdf.Quad
	for _, q := range v.base.Match(s, p, o, g) {
		if _, gone := v.removed[q.Key()]; !gone {
			out = append(out, q)
		}
	}
	for _, q := range v.added {
		if Matches(q, s, p, o, g) {
			out = append(out, q)
		}
	}
	return out
}

// Matches reports whether q fits the pattern; nil positions match anything
func Matches(q *rdf.Quad, s, p, o, g rdf.Term) bool {
	if s != nil && !s.Equals(q.Subject) {
		return false
	}
	if p != nil && !p.Equals(q.Predicate) {
		return false
	}
	if o != nil && !o.Equals(q.Object) {
		return false
	}
	if g != nil {
		graph := q.Graph
		if graph == nil {
			graph = rdf.NewDefaultGraph()
		}
		if !g.Equals(graph) {
			return false
		}
	}
	return true
}
