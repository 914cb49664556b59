package search

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	k1 = 1.2
	b  = 0.75
)

type indexedDoc struct {
	doc    Document
	length int
	tf     map[string]int
}

// MemoryIndex is an in-memory BM25 index. Posting lists are roaring bitmaps of
// internal document numbers. Numbers of removed documents are reused, so the
// largest number stays below the peak document count.
type MemoryIndex struct {
	mu          sync.RWMutex
	postings    map[string]*roaring.Bitmap
	docs        map[uint32]*indexedDoc
	ids         map[string]uint32
	free        []uint32
	nextNum     uint32
	totalLength int64
}

// NewMemoryIndex creates an empty index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		postings: make(map[string]*roaring.Bitmap),
		docs:     make(map[uint32]*indexedDoc),
		ids:      make(map[string]uint32),
	}
}

var _ Index = (*MemoryIndex)(nil)

func (idx *MemoryIndex) Upsert(ctx context.Context, docs []Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx.upsertLocked(d)
	}
	return nil
}

// InsertAll is Upsert: an ID already present is replaced by the same content
func (idx *MemoryIndex) InsertAll(ctx context.Context, docs []Document) error {
	return idx.Upsert(ctx, docs)
}

func (idx *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx.removeLocked(id)
	}
	return nil
}

func (idx *MemoryIndex) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.ids[id]
	return ok
}

func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores every document containing at least one query token.
// Ties are broken by document ID so results are deterministic.
func (idx *MemoryIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docs) == 0 || limit <= 0 {
		return []Hit{}, nil
	}

	tokens := uniqueTokens(Tokenize(query))
	var lists []*roaring.Bitmap
	idf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		bm, ok := idx.postings[t]
		if !ok {
			continue
		}
		lists = append(lists, bm)
		idf[t] = idx.computeIDF(int(bm.GetCardinality()))
	}
	if len(lists) == 0 {
		return []Hit{}, nil
	}

	avgDL := float64(idx.totalLength) / float64(len(idx.docs))
	candidates := roaring.FastOr(lists...)

	hits := make([]Hit, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := idx.docs[it.Next()]
		docLen := float64(d.length)
		var score float64
		for t, w := range idf {
			tf := float64(d.tf[t])
			if tf == 0 {
				continue
			}
			score += w * (tf * (k1 + 1)) / (tf + k1*(1-b+b*(docLen/avgDL)))
		}
		hits = append(hits, Hit{Document: d.doc, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (idx *MemoryIndex) upsertLocked(d Document) {
	if _, ok := idx.ids[d.ID]; ok {
		idx.removeLocked(d.ID)
	}

	tokens := Tokenize(d.Text())
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	num := idx.allocLocked()
	idx.ids[d.ID] = num
	idx.docs[num] = &indexedDoc{doc: d, length: len(tokens), tf: tf}
	idx.totalLength += int64(len(tokens))

	for t := range tf {
		bm, ok := idx.postings[t]
		if !ok {
			bm = roaring.New()
			idx.postings[t] = bm
		}
		bm.Add(num)
	}
}

func (idx *MemoryIndex) removeLocked(id string) {
	num, ok := idx.ids[id]
	if !ok {
		return
	}
	d := idx.docs[num]
	for t := range d.tf {
		if bm, ok := idx.postings[t]; ok {
			bm.Remove(num)
			if bm.IsEmpty() {
				delete(idx.postings, t)
			}
		}
	}
	idx.totalLength -= int64(d.length)
	delete(idx.docs, num)
	delete(idx.ids, id)
	idx.free = append(idx.free, num)
}

func (idx *MemoryIndex) allocLocked() uint32 {
	if n := len(idx.free); n > 0 {
		num := idx.free[n-1]
		idx.free = idx.free[:n-1]
		return num
	}
	num := idx.nextNum
	idx.nextNum++
	return num
}

func (idx *MemoryIndex) computeIDF(df int) float64 {
	// IDF = log(1 + (N - n + 0.5) / (n + 0.5))
	N := float64(len(idx.docs))
	n := float64(df)
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
