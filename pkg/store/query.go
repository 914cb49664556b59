package store

import (
	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// Pattern represents a quad pattern with optional variables
type Pattern struct {
	Subject   any // rdf.Term or *Variable
	Predicate any // rdf.Term or *Variable
	Object    any // rdf.Term or *Variable
	Graph     any // rdf.Term or *Variable (nil means the default graph)
}

// Variable represents a SPARQL variable
type Variable struct {
	Name string
}

// NewVariable creates a new variable
func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

func (v *Variable) String() string {
	return "?" + v.Name
}

// Binding maps variable names to terms
type Binding struct {
	Vars map[string]rdf.Term
}

// NewBinding creates a new empty binding
func NewBinding() *Binding {
	return &Binding{Vars: make(map[string]rdf.Term)}
}

// Clone creates a copy of the binding
func (b *Binding) Clone() *Binding {
	nb := &Binding{Vars: make(map[string]rdf.Term, len(b.Vars))}
	for k, v := range b.Vars {
		nb.Vars[k] = v
	}
	return nb
}

// Get returns the term bound to name, if any
func (b *Binding) Get(name string) (rdf.Term, bool) {
	t, ok := b.Vars[name]
	return t, ok
}

// Compatible reports whether the two bindings agree on every shared variable
func (b *Binding) Compatible(other *Binding) bool {
	for k, v := range b.Vars {
		if ov, ok := other.Vars[k]; ok && !v.Equals(ov) {
			return false
		}
	}
	return true
}

// Merge returns a new binding holding the variables of both
func (b *Binding) Merge(other *Binding) *Binding {
	nb := b.Clone()
	for k, v := range other.Vars {
		nb.Vars[k] = v
	}
	return nb
}

// QuadIterator iterates over quads matching a pattern
type QuadIterator interface {
	Next() bool
	Quad() *rdf.Quad
	Close() error
}

// BindingIterator iterates over variable bindings
type BindingIterator interface {
	Next() bool
	Binding() *Binding
	Close() error
}

// Query resolves the pattern against s. Positions already bound in binding
// are substituted before the lookup, so the caller can use it for index
// nested-loop joins.
func Query(s QuadStore, pattern *Pattern, binding *Binding) QuadIterator {
	subj := resolve(pattern.Subject, binding)
	pred := resolve(pattern.Predicate, binding)
	obj := resolve(pattern.Object, binding)

	var graph rdf.Term
	switch g := pattern.Graph.(type) {
	case nil:
		graph = rdf.NewDefaultGraph()
	case *Variable:
		graph = resolve(g, binding)
	case rdf.Term:
		graph = g
	}

	quads := s.Match(subj, pred, obj, graph)
	if _, ok := pattern.Graph.(*Variable); ok && graph == nil {
		// a graph variable never binds to the default graph
		named := quads[:0:0]
		for _, q := range quads {
			if !q.IsDefaultGraph() {
				named = append(named, q)
			}
		}
		quads = named
	}
	return &sliceQuadIterator{quads: quads, pos: -1}
}

// Bind extends binding with the variables of pattern matched against q. It
// returns false when a variable that occurs twice in the pattern would need
// two different values.
func Bind(pattern *Pattern, q *rdf.Quad, binding *Binding) (*Binding, bool) {
	out := binding.Clone()
	positions := [4]struct {
		slot any
		term rdf.Term
	}{
		{pattern.Subject, q.Subject},
		{pattern.Predicate, q.Predicate},
		{pattern.Object, q.Object},
		{pattern.Graph, q.Graph},
	}
	for _, p := range positions {
		v, ok := p.slot.(*Variable)
		if !ok {
			continue
		}
		if existing, bound := out.Vars[v.Name]; bound {
			if !existing.Equals(p.term) {
				return nil, false
			}
			continue
		}
		out.Vars[v.Name] = p.term
	}
	return out, true
}

func resolve(slot any, binding *Binding) rdf.Term {
	switch v := slot.(type) {
	case *Variable:
		if binding != nil {
			if t, ok := binding.Vars[v.Name]; ok {
				return t
			}
		}
		return nil
	case rdf.Term:
		return v
	}
	return nil
}

// sliceQuadIterator implements QuadIterator over a materialized match
type sliceQuadIterator struct {
	quads []*rdf.Quad
	pos   int
}

func (it *sliceQuadIterator) Next() bool {
	if it.pos+1 >= len(it.quads) {
		it.pos = len(it.quads)
		return false
	}
	it.pos++
	return true
}

func (it *sliceQuadIterator) Quad() *rdf.Quad {
	if it.pos < 0 || it.pos >= len(it.quads) {
		return nil
	}
	return it.quads[it.pos]
}

func (it *sliceQuadIterator) Close() error {
	it.quads = nil
	return nil
}
