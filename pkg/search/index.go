package search

import (
	"context"
)

// Hit is one ranked search result
type Hit struct {
	Document Document
	Score    float64
}

// Index is the backend contract the synchronizer drives
type Index interface {
	// Upsert inserts documents, replacing any with the same ID
	Upsert(ctx context.Context, docs []Document) error
	// Remove deletes documents by ID; unknown IDs are ignored
	Remove(ctx context.Context, ids []string) error
	// InsertAll bulk loads documents; re-running with the same documents is a no-op
	InsertAll(ctx context.Context, docs []Document) error
	// Search returns up to limit documents ranked by relevance
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	// Has reports whether a document ID is indexed
	Has(id string) bool
	// Len returns the number of indexed documents
	Len() int
}
