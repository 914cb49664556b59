package store

import (
	"sync"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// Patch is the net effect of one mutating call
type Patch struct {
	Insertions []*rdf.Quad
	Deletions  []*rdf.Quad
}

// IsEmpty reports whether the patch changes nothing
func (p Patch) IsEmpty() bool {
	return len(p.Insertions) == 0 && len(p.Deletions) == 0
}

// PatchQueue collects patches in call order until flushed
type PatchQueue struct {
	mu      sync.Mutex
	patches []Patch
}

// NewPatchQueue creates an empty queue
func NewPatchQueue() *PatchQueue {
	return &PatchQueue{}
}

// Push appends a patch; it never blocks on consumers
func (q *PatchQueue) Push(p Patch) {
	q.mu.Lock()
	q.patches = append(q.patches, p)
	q.mu.Unlock()
}

// Flush returns all queued patches in push order and empties the queue
func (q *PatchQueue) Flush() []Patch {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.patches
	q.patches = nil
	if out == nil {
		out = []Patch{}
	}
	return out
}

// Len returns the number of queued patches
func (q *PatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.patches)
}
