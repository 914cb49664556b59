package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/worlds/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// Executor executes SPARQL queries using the Volcano iterator model
type Executor struct {
	store     store.QuadStore
	optimizer *optimizer.Optimizer
}

// NewExecutor creates a new query executor over s
func NewExecutor(s store.QuadStore) *Executor {
	return &Executor{
		store:     s,
		optimizer: optimizer.NewOptimizer(),
	}
}

// QueryResult represents the result of a query
type QueryResult interface {
	resultType()
}

// SelectResult represents the result of a SELECT query
type SelectResult struct {
	Variables []string
	Bindings  []*store.Binding
}

func (r *SelectResult) resultType() {}

// AskResult represents the result of an ASK query
type AskResult struct {
	Result bool
}

func (r *AskResult) resultType() {}

// ConstructResult holds the quads built by CONSTRUCT or DESCRIBE
type ConstructResult struct {
	Quads []*rdf.Quad
}

func (r *ConstructResult) resultType() {}

// Execute executes an optimized query
func (e *Executor) Execute(ctx context.Context, query *optimizer.OptimizedQuery) (QueryResult, error) {
	x := e.newExecution(ctx, datasetFrom(query.Original.Dataset))

	var (
		result QueryResult
		err    error
	)
	switch query.Original.QueryType {
	case parser.QueryTypeSelect:
		result, err = x.executeSelect(query)
	case parser.QueryTypeAsk:
		result, err = x.executeAsk(query)
	case parser.QueryTypeConstruct:
		result, err = x.executeConstruct(query)
	case parser.QueryTypeDescribe:
		result, err = x.executeDescribe(query)
	default:
		return nil, fmt.Errorf("unsupported query type %s", query.Original.QueryType)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// executeSelect executes a SELECT query
func (x *execution) executeSelect(query *optimizer.OptimizedQuery) (*SelectResult, error) {
	bindings, err := x.collect(query.Plan)
	if err != nil {
		return nil, err
	}

	var variables []string
	if query.Original.Select.Projections != nil {
		for _, p := range query.Original.Select.Projections {
			variables = append(variables, p.Variable.Name)
		}
	} else {
		// SELECT * lists the visible variables in order of appearance
		variables = visibleVariables(query.Original.Select.Where)
		for i, b := range bindings {
			bindings[i] = hideInternal(b)
		}
	}

	return &SelectResult{Variables: variables, Bindings: bindings}, nil
}

// executeAsk executes an ASK query
func (x *execution) executeAsk(query *optimizer.OptimizedQuery) (*AskResult, error) {
	iter := x.iterate(query.Plan, store.NewBinding(), nil)
	found := iter.Next()
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if x.err != nil {
		return nil, x.err
	}
	return &AskResult{Result: found}, nil
}

// executeConstruct executes a CONSTRUCT query
func (x *execution) executeConstruct(query *optimizer.OptimizedQuery) (*ConstructResult, error) {
	plan, ok := query.Plan.(*optimizer.ConstructPlan)
	if !ok {
		return nil, fmt.Errorf("expected ConstructPlan, got %T", query.Plan)
	}
	bindings, err := x.collect(plan.Input)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var quads []*rdf.Quad
	for _, binding := range bindings {
		for _, q := range instantiateTemplate(plan.Template, binding, nil, make(map[string]*rdf.BlankNode)) {
			key := q.Key()
			if !seen[key] {
				seen[key] = true
				quads = append(quads, q)
			}
		}
	}
	return &ConstructResult{Quads: quads}, nil
}

// executeDescribe executes a DESCRIBE query: the concise bounded description
// of every described resource, following blank node objects
func (x *execution) executeDescribe(query *optimizer.OptimizedQuery) (*ConstructResult, error) {
	describe := query.Original.Describe

	var resources []rdf.Term
	seenResource := make(map[string]bool)
	addResource := func(t rdf.Term) {
		if t == nil || t.Type() == rdf.TermTypeLiteral {
			return
		}
		if key := t.String(); !seenResource[key] {
			seenResource[key] = true
			resources = append(resources, t)
		}
	}

	for _, r := range describe.Resources {
		if !r.IsVariable() {
			addResource(r.Term)
		}
	}

	if describe.Where != nil {
		bindings, err := x.collect(query.Plan)
		if err != nil {
			return nil, err
		}
		for _, binding := range bindings {
			if len(describe.Resources) == 0 {
				for name, term := range binding.Vars {
					if !isInternalVariable(name) {
						addResource(term)
					}
				}
				continue
			}
			for _, r := range describe.Resources {
				if r.IsVariable() {
					if term, ok := binding.Get(r.Variable.Name); ok {
						addResource(term)
					}
				}
			}
		}
	}

	var quads []*rdf.Quad
	seenQuad := make(map[string]bool)
	queue := resources
	visited := make(map[string]bool)
	for len(queue) > 0 {
		if err := x.ctx.Err(); err != nil {
			return nil, err
		}
		resource := queue[0]
		queue = queue[1:]
		if visited[resource.String()] {
			continue
		}
		visited[resource.String()] = true

		for _, q := range x.store.Match(resource, nil, nil, nil) {
			if key := q.Key(); !seenQuad[key] {
				seenQuad[key] = true
				quads = append(quads, q)
			}
			if b, ok := q.Object.(*rdf.BlankNode); ok {
				queue = append(queue, b)
			}
		}
	}
	return &ConstructResult{Quads: quads}, nil
}

// collect drains the iterator of plan into a slice
func (x *execution) collect(plan optimizer.QueryPlan) ([]*store.Binding, error) {
	iter := x.iterate(plan, store.NewBinding(), nil)
	var bindings []*store.Binding
	for iter.Next() {
		bindings = append(bindings, iter.Binding())
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if x.err != nil {
		return nil, x.err
	}
	return bindings, nil
}

// instantiateTemplate builds the quads of a template for one solution.
// Template blank nodes get a fresh label per solution; quads with unbound
// variables or ill-placed terms are skipped.
func instantiateTemplate(template []*parser.QuadPattern, binding *store.Binding, defaultGraph rdf.Term, bnodes map[string]*rdf.BlankNode) []*rdf.Quad {
	var quads []*rdf.Quad
	for _, qp := range template {
		s := instantiateTerm(qp.Subject, binding, bnodes)
		p := instantiateTerm(qp.Predicate, binding, bnodes)
		o := instantiateTerm(qp.Object, binding, bnodes)
		if s == nil || p == nil || o == nil {
			continue
		}

		g := defaultGraph
		if qp.Graph != nil {
			if qp.Graph.Variable != nil {
				g, _ = binding.Get(qp.Graph.Variable.Name)
				if g == nil {
					continue
				}
			} else {
				g = qp.Graph.IRI
			}
		}

		q := rdf.NewQuad(s, p, o, g)
		if q.Validate() != nil {
			continue
		}
		quads = append(quads, q)
	}
	return quads
}

func instantiateTerm(tov parser.TermOrVariable, binding *store.Binding, bnodes map[string]*rdf.BlankNode) rdf.Term {
	if tov.Variable != nil {
		t, _ := binding.Get(tov.Variable.Name)
		return t
	}
	if b, ok := tov.Term.(*rdf.BlankNode); ok && bnodes != nil {
		fresh, ok := bnodes[b.ID]
		if !ok {
			fresh = freshBlankNode()
			bnodes[b.ID] = fresh
		}
		return fresh
	}
	return tov.Term
}

// isInternalVariable reports whether name is a variable the query text
// cannot name: blank nodes in patterns and aggregate slots
func isInternalVariable(name string) bool {
	return strings.HasPrefix(name, parser.BlankVariablePrefix) || strings.HasPrefix(name, ".")
}

func hideInternal(b *store.Binding) *store.Binding {
	for name := range b.Vars {
		if isInternalVariable(name) {
			out := store.NewBinding()
			for k, v := range b.Vars {
				if !isInternalVariable(k) {
					out.Vars[k] = v
				}
			}
			return out
		}
	}
	return b
}

// visibleVariables lists the variables of a pattern in order of appearance
func visibleVariables(pattern *parser.GraphPattern) []string {
	var vars []string
	seen := make(map[string]bool)
	add := func(v *parser.Variable) {
		if v != nil && !seen[v.Name] && !isInternalVariable(v.Name) {
			seen[v.Name] = true
			vars = append(vars, v.Name)
		}
	}

	var walk func(p *parser.GraphPattern)
	walk = func(p *parser.GraphPattern) {
		if p == nil {
			return
		}
		if p.Graph != nil {
			add(p.Graph.Variable)
		}
		for _, el := range p.Elements {
			switch {
			case el.Triple != nil:
				add(el.Triple.Subject.Variable)
				add(el.Triple.Predicate.Variable)
				add(el.Triple.Object.Variable)
			case el.Bind != nil:
				add(el.Bind.Variable)
			case el.Values != nil:
				for _, v := range el.Values.Variables {
					add(v)
				}
			case el.Pattern != nil && el.Pattern.Type != parser.GraphPatternTypeMinus:
				walk(el.Pattern)
			}
		}
		for _, child := range p.Children {
			walk(child)
		}
	}
	walk(pattern)
	return vars
}

// evaluatorFor builds the expression evaluator of one execution; EXISTS
// runs the pattern against the execution's dataset
func (x *execution) evaluatorFor() *evaluator.Evaluator {
	ev := evaluator.NewEvaluator()
	ev.Exists = func(pattern *parser.GraphPattern, binding *store.Binding) (bool, error) {
		plan, ok := x.existsPlans[pattern]
		if !ok {
			plan = x.optimizer.OptimizePattern(pattern)
			x.existsPlans[pattern] = plan
		}
		active := x.activeGraph
		defer func() { x.activeGraph = active }()

		iter := x.iterate(plan, binding, active)
		found := iter.Next()
		if err := iter.Close(); err != nil {
			return false, err
		}
		return found, x.err
	}
	return ev
}
