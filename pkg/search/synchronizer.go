package search

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// SyncError wraps a failure of the index backend during a sync step
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("search index %s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Synchronizer applies flushed patches to one index. It never retries;
// failures are returned to the caller, which owns the commit decision.
type Synchronizer struct {
	index Index
}

// NewSynchronizer creates a synchronizer for index
func NewSynchronizer(index Index) *Synchronizer {
	return &Synchronizer{index: index}
}

// Sync applies the net effect of a batch: each quad ends up indexed when its
// last operation in the batch was an insertion and removed otherwise.
func (s *Synchronizer) Sync(ctx context.Context, patches []store.Patch) error {
	upserts, removals := netEffect(patches)

	if len(upserts) > 0 {
		if err := s.index.Upsert(ctx, upserts); err != nil {
			return &SyncError{Op: "upsert", Err: err}
		}
	}
	if len(removals) > 0 {
		if err := s.index.Remove(ctx, removals); err != nil {
			return &SyncError{Op: "remove", Err: err}
		}
	}

	log.WithFields(log.Fields{"upserted": len(upserts), "removed": len(removals)}).Debug("search index synced")
	return nil
}

// InsertAll loads every quad of src into the index. Running it twice leaves the same contents.
func (s *Synchronizer) InsertAll(ctx context.Context, src store.QuadStore) error {
	quads := src.Match(nil, nil, nil, nil)
	docs := make([]Document, 0, len(quads))
	for _, q := range quads {
		docs = append(docs, NewDocument(q))
	}
	if err := s.index.InsertAll(ctx, docs); err != nil {
		return &SyncError{Op: "insert all", Err: err}
	}
	return nil
}

// Revert undoes a batch previously passed to Sync. The first patch entry that
// mentions a document decides its prior state: a deletion means it was
// present, an insertion means it was absent.
func (s *Synchronizer) Revert(ctx context.Context, patches []store.Patch) error {
	wasPresent := make(map[string]*rdf.Quad)
	wasAbsent := make(map[string]struct{})
	seen := make(map[string]struct{})

	for _, p := range patches {
		for _, q := range p.Deletions {
			id := DocumentID(q)
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				wasPresent[id] = q
			}
		}
		for _, q := range p.Insertions {
			id := DocumentID(q)
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				wasAbsent[id] = struct{}{}
			}
		}
	}

	var restore []Document
	for _, q := range wasPresent {
		restore = append(restore, NewDocument(q))
	}
	var drop []string
	for id := range wasAbsent {
		drop = append(drop, id)
	}

	if len(drop) > 0 {
		if err := s.index.Remove(ctx, drop); err != nil {
			return &SyncError{Op: "revert remove", Err: err}
		}
	}
	if len(restore) > 0 {
		if err := s.index.Upsert(ctx, restore); err != nil {
			return &SyncError{Op: "revert upsert", Err: err}
		}
	}
	return nil
}

// netEffect reduces a batch to the documents to upsert and the IDs to remove.
// The last operation on an ID decides: a deletion followed by a re-insertion
// leaves the document, an insertion followed by a deletion removes it.
func netEffect(patches []store.Patch) ([]Document, []string) {
	type op struct {
		doc    Document
		insert bool
	}
	last := make(map[string]op)
	var order []string
	record := func(id string, o op) {
		if _, ok := last[id]; !ok {
			order = append(order, id)
		}
		last[id] = o
	}

	// deletions and insertions of one patch are disjoint
	for _, p := range patches {
		for _, q := range p.Deletions {
			record(DocumentID(q), op{})
		}
		for _, q := range p.Insertions {
			doc := NewDocument(q)
			record(doc.ID, op{doc: doc, insert: true})
		}
	}

	var upserts []Document
	var removals []string
	for _, id := range order {
		if o := last[id]; o.insert {
			upserts = append(upserts, o.doc)
		} else {
			removals = append(removals, id)
		}
	}
	return upserts, removals
}
