package store

import (
	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// Interceptor decorates a QuadStore and records one Patch per mutating call.
// Reads pass through untouched.
type Interceptor struct {
	inner QuadStore
	queue *PatchQueue
}

// NewInterceptor wraps inner, pushing patches to queue
func NewInterceptor(inner QuadStore, queue *PatchQueue) *Interceptor {
	return &Interceptor{inner: inner, queue: queue}
}

// Queue returns the queue patches are pushed to
func (i *Interceptor) Queue() *PatchQueue {
	return i.queue
}

// Inner returns the wrapped store
func (i *Interceptor) Inner() QuadStore {
	return i.inner
}

func (i *Interceptor) Add(q *rdf.Quad) bool {
	added := i.inner.Add(q)
	var p Patch
	if added {
		p.Insertions = []*rdf.Quad{q}
	}
	i.queue.Push(p)
	return added
}

func (i *Interceptor) AddMany(qs []*rdf.Quad) int {
	var inserted []*rdf.Quad
	seen := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		key := q.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !i.inner.Has(q) {
			inserted = append(inserted, q)
		}
	}
	n := i.inner.AddMany(qs)
	i.queue.Push(Patch{Insertions: inserted})
	return n
}

func (i *Interceptor) Remove(q *rdf.Quad) bool {
	removed := i.inner.Remove(q)
	var p Patch
	if removed {
		p.Deletions = []*rdf.Quad{q}
	}
	i.queue.Push(p)
	return removed
}

func (i *Interceptor) RemoveMany(qs []*rdf.Quad) int {
	var deleted []*rdf.Quad
	seen := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		key := q.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if i.inner.Has(q) {
			deleted = append(deleted, q)
		}
	}
	n := i.inner.RemoveMany(qs)
	i.queue.Push(Patch{Deletions: deleted})
	return n
}

// RemoveMatching resolves the matches first so the patch lists concrete quads
func (i *Interceptor) RemoveMatching(s, p, o, g rdf.Term) int {
	matches := i.inner.Match(s, p, o, g)
	n := i.inner.RemoveMany(matches)
	i.queue.Push(Patch{Deletions: matches})
	return n
}

func (i *Interceptor) DeleteGraph(g rdf.Term) int {
	if g == nil {
		g = rdf.NewDefaultGraph()
	}
	matches := i.inner.Match(nil, nil, nil, g)
	n := i.inner.RemoveMany(matches)
	i.queue.Push(Patch{Deletions: matches})
	return n
}

func (i *Interceptor) Match(s, p, o, g rdf.Term) []*rdf.Quad {
	return i.inner.Match(s, p, o, g)
}

func (i *Interceptor) Has(q *rdf.Quad) bool {
	return i.inner.Has(q)
}

func (i *Interceptor) Size() int {
	return i.inner.Size()
}

func (i *Interceptor) Graphs() []rdf.Term {
	return i.inner.Graphs()
}
