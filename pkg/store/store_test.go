package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

func ex(local string) *rdf.NamedNode {
	return rdf.NewNamedNode("http://example.org/" + local)
}

func quad(s, p string, o rdf.Term, g rdf.Term) *rdf.Quad {
	return rdf.NewQuad(ex(s), ex(p), o, g)
}

func TestMemoryStore_AddMatchRemove(t *testing.T) {
	s := NewMemoryStore()

	assert.True(t, s.Add(quad("alice", "name", rdf.NewLiteral("Alice"), nil)))
	assert.False(t, s.Add(quad("alice", "name", rdf.NewLiteralWithDatatype("Alice", rdf.XSDString), nil)), "xsd:string literal is the same quad")
	assert.Equal(t, 2, s.AddMany([]*rdf.Quad{
		quad("alice", "knows", ex("bob"), ex("g")),
		quad("bob", "name", rdf.NewLiteral("Bob"), ex("g")),
		quad("bob", "name", rdf.NewLiteral("Bob"), ex("g")),
	}))
	assert.Equal(t, 3, s.Size())

	assert.Len(t, s.Match(ex("alice"), nil, nil, nil), 2)
	assert.Len(t, s.Match(nil, ex("name"), nil, nil), 2)
	assert.Len(t, s.Match(nil, ex("name"), nil, rdf.NewDefaultGraph()), 1)
	assert.Len(t, s.Match(nil, nil, ex("bob"), ex("g")), 1)
	assert.Empty(t, s.Match(ex("carol"), nil, nil, nil))

	graphs := s.Graphs()
	require.Len(t, graphs, 2)
	assert.Equal(t, rdf.TermTypeDefaultGraph, graphs[0].Type())
	assert.True(t, graphs[1].Equals(ex("g")))

	assert.Equal(t, 2, s.DeleteGraph(ex("g")))
	assert.Equal(t, 1, s.Size())
	assert.True(t, s.Remove(quad("alice", "name", rdf.NewLiteral("Alice"), nil)))
	assert.False(t, s.Remove(quad("alice", "name", rdf.NewLiteral("Alice"), nil)))
	assert.Empty(t, s.Graphs())
}

func TestInterceptor_EmitsOnePatchPerCall(t *testing.T) {
	queue := NewPatchQueue()
	s := NewInterceptor(NewMemoryStore(), queue)

	a := quad("alice", "name", rdf.NewLiteral("Alice"), nil)
	b := quad("bob", "name", rdf.NewLiteral("Bob"), nil)

	s.Add(a)
	s.Add(a)
	s.AddMany([]*rdf.Quad{a, b, b})
	s.Match(nil, nil, nil, nil)
	s.Has(a)
	s.Remove(b)
	s.RemoveMany([]*rdf.Quad{a, b})

	patches := queue.Flush()
	require.Len(t, patches, 5)

	assert.Equal(t, []*rdf.Quad{a}, patches[0].Insertions)
	assert.True(t, patches[1].IsEmpty(), "re-adding an existing quad is a no-op")
	assert.Equal(t, []*rdf.Quad{b}, patches[2].Insertions)
	assert.Equal(t, []*rdf.Quad{b}, patches[3].Deletions)
	assert.Equal(t, []*rdf.Quad{a}, patches[4].Deletions)

	assert.Empty(t, queue.Flush())
	assert.NotNil(t, queue.Flush())
}

func TestInterceptor_RemoveMatchingResolvesQuads(t *testing.T) {
	queue := NewPatchQueue()
	s := NewInterceptor(NewMemoryStore(
		quad("alice", "name", rdf.NewLiteral("Alice"), nil),
		quad("alice", "age", rdf.NewIntegerLiteral(30), nil),
		quad("bob", "name", rdf.NewLiteral("Bob"), ex("g")),
	), queue)

	assert.Equal(t, 2, s.RemoveMatching(ex("alice"), nil, nil, nil))
	assert.Equal(t, 1, s.DeleteGraph(ex("g")))
	assert.Equal(t, 0, s.DeleteGraph(ex("g")))

	patches := queue.Flush()
	require.Len(t, patches, 3)
	assert.Len(t, patches[0].Deletions, 2)
	for _, q := range patches[0].Deletions {
		assert.True(t, q.Subject.Equals(ex("alice")))
	}
	require.Len(t, patches[1].Deletions, 1)
	assert.True(t, patches[1].Deletions[0].Subject.Equals(ex("bob")))
	assert.True(t, patches[2].IsEmpty())
	assert.Equal(t, 0, s.Size())
}

func TestInterceptor_PatchesAreDisjoint(t *testing.T) {
	queue := NewPatchQueue()
	s := NewInterceptor(NewMemoryStore(), queue)

	q := quad("s", "p", rdf.NewLiteral("o"), nil)
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			s.AddMany([]*rdf.Quad{q, q})
		} else {
			s.RemoveMatching(nil, nil, nil, nil)
		}
	}
	for _, p := range queue.Flush() {
		keys := make(map[string]bool)
		for _, ins := range p.Insertions {
			keys[ins.Key()] = true
		}
		for _, del := range p.Deletions {
			assert.False(t, keys[del.Key()], "quad %s in both lists", del)
		}
	}
}

func TestPatchQueue_ConcurrentPush(t *testing.T) {
	queue := NewPatchQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				queue.Push(Patch{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, queue.Len())
	assert.Len(t, queue.Flush(), 800)
	assert.Equal(t, 0, queue.Len())
}

func TestOverlay_StagesUntilCommit(t *testing.T) {
	a := quad("alice", "name", rdf.NewLiteral("Alice"), nil)
	b := quad("bob", "name", rdf.NewLiteral("Bob"), ex("g"))
	c := quad("carol", "name", rdf.NewLiteral("Carol"), nil)

	queue := NewPatchQueue()
	base := NewInterceptor(NewMemoryStore(a, b), queue)
	view := NewOverlay(base)

	assert.True(t, view.Add(c))
	assert.False(t, view.Add(a))
	assert.Equal(t, 1, view.RemoveMatching(nil, nil, nil, ex("g")))
	assert.True(t, view.Remove(a))
	assert.True(t, view.Add(a))

	assert.Equal(t, 2, view.Size())
	assert.True(t, view.Has(c))
	assert.False(t, view.Has(b))
	assert.Len(t, view.Match(nil, ex("name"), nil, nil), 2)
	assert.Len(t, view.Graphs(), 1)

	// nothing reached the base yet
	assert.Equal(t, 0, queue.Len())
	assert.Equal(t, 2, base.Size())
	assert.False(t, base.Has(c))

	view.Commit()
	assert.Equal(t, 5, queue.Len())
	assert.Equal(t, 2, base.Size())
	assert.True(t, base.Has(a))
	assert.True(t, base.Has(c))
	assert.False(t, base.Has(b))
	assert.False(t, view.Pending())
}

func TestOverlay_Discard(t *testing.T) {
	queue := NewPatchQueue()
	base := NewInterceptor(NewMemoryStore(), queue)
	view := NewOverlay(base)

	view.AddMany([]*rdf.Quad{quad("s", "p", rdf.NewLiteral("o"), nil)})
	view.DeleteGraph(nil)
	assert.True(t, view.Pending())

	view.Discard()
	assert.False(t, view.Pending())
	assert.Equal(t, 0, queue.Len())
	assert.Equal(t, 0, base.Size())
}
