package executor

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/worlds/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// dataset selects the graphs a query sees. A nil defaults slice means the
// store's default graph; a nil named slice means every named graph.
type dataset struct {
	defaults []rdf.Term
	named    []rdf.Term
}

func datasetFrom(d *parser.Dataset) dataset {
	if d == nil {
		return dataset{}
	}
	ds := dataset{defaults: []rdf.Term{}, named: []rdf.Term{}}
	for _, iri := range d.Default {
		ds.defaults = append(ds.defaults, iri)
	}
	for _, iri := range d.Named {
		ds.named = append(ds.named, iri)
	}
	return ds
}

// withDefault returns a dataset whose default graph is g (WITH <g>)
func withDefault(g rdf.Term) dataset {
	return dataset{defaults: []rdf.Term{g}}
}

func (d dataset) defaultGraphs() []rdf.Term {
	if d.defaults == nil {
		return []rdf.Term{rdf.NewDefaultGraph()}
	}
	return d.defaults
}

func (d dataset) namedGraphs(s store.QuadStore) []rdf.Term {
	if d.named != nil {
		return d.named
	}
	var graphs []rdf.Term
	for _, g := range s.Graphs() {
		if g.Type() != rdf.TermTypeDefaultGraph {
			graphs = append(graphs, g)
		}
	}
	return graphs
}

func (d dataset) isNamed(s store.QuadStore, g rdf.Term) bool {
	if g.Type() != rdf.TermTypeNamedNode && g.Type() != rdf.TermTypeBlankNode {
		return false
	}
	candidates := d.named
	if candidates == nil {
		candidates = s.Graphs()
	}
	for _, n := range candidates {
		if n.Equals(g) {
			return true
		}
	}
	return false
}

// execution is the state of one query or update evaluation
type execution struct {
	ctx       context.Context
	store     store.QuadStore
	optimizer *optimizer.Optimizer
	ds        dataset
	eval      *evaluator.Evaluator

	// activeGraph is the graph an EXISTS inside a filter runs against; it is
	// set by the iterator evaluating the expression
	activeGraph rdf.Term
	existsPlans map[*parser.GraphPattern]optimizer.QueryPlan
	cache       map[cacheKey][]*store.Binding

	err error
}

type cacheKey struct {
	plan  optimizer.QueryPlan
	graph string
}

func (e *Executor) newExecution(ctx context.Context, ds dataset) *execution {
	x := &execution{
		ctx:         ctx,
		store:       e.store,
		optimizer:   e.optimizer,
		ds:          ds,
		existsPlans: make(map[*parser.GraphPattern]optimizer.QueryPlan),
		cache:       make(map[cacheKey][]*store.Binding),
	}
	x.eval = x.evaluatorFor()
	return x
}

// fail records the first error of the execution; iterators stop afterwards
func (x *execution) fail(err error) {
	if x.err == nil {
		x.err = err
	}
}

// alive reports whether iteration may continue
func (x *execution) alive() bool {
	if x.err != nil {
		return false
	}
	if err := x.ctx.Err(); err != nil {
		x.fail(err)
		return false
	}
	return true
}

func freshBlankNode() *rdf.BlankNode {
	return rdf.NewBlankNode("b" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func graphKey(g rdf.Term) string {
	if g == nil {
		return ""
	}
	return g.String()
}
