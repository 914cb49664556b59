package optimizer

import (
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
)

// Optimizer turns parsed queries into execution plans
type Optimizer struct{}

// NewOptimizer creates a new query optimizer
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// OptimizedQuery represents an optimized query with execution plan
type OptimizedQuery struct {
	Original *parser.Query
	Plan     QueryPlan
}

// QueryPlan represents an execution plan
type QueryPlan interface {
	planNode()
}

// EmptyPlan yields a single solution with no bindings
type EmptyPlan struct{}

// ScanPlan matches one triple pattern against the active graph
type ScanPlan struct {
	Pattern *parser.TriplePattern
}

// JoinPlan joins the solutions of two plans
type JoinPlan struct {
	Left  QueryPlan
	Right QueryPlan
}

// LeftJoinPlan is OPTIONAL: every left solution survives, extended by the
// compatible right solutions that satisfy the filters
type LeftJoinPlan struct {
	Left    QueryPlan
	Right   QueryPlan
	Filters []parser.Expression
}

// UnionPlan concatenates the solutions of both branches
type UnionPlan struct {
	Left  QueryPlan
	Right QueryPlan
}

// MinusPlan removes left solutions that are compatible with a right
// solution sharing at least one variable
type MinusPlan struct {
	Left  QueryPlan
	Right QueryPlan
}

// FilterPlan keeps the solutions for which the filter holds
type FilterPlan struct {
	Input  QueryPlan
	Filter *parser.Filter
}

// BindPlan represents a BIND operation (variable assignment)
type BindPlan struct {
	Input      QueryPlan
	Expression parser.Expression
	Variable   *parser.Variable
}

// ValuesPlan yields the rows of an inline data block
type ValuesPlan struct {
	Values *parser.Values
}

// GraphPlan evaluates its input with a named graph as the active graph
type GraphPlan struct {
	Input QueryPlan
	Graph *parser.GraphTerm
}

// GroupPlan partitions solutions by the group keys and computes aggregates
type GroupPlan struct {
	Input      QueryPlan
	GroupBy    []*parser.GroupCondition
	Aggregates []*parser.AggregateExpression
}

// ProjectionPlan represents a projection operation
type ProjectionPlan struct {
	Input     QueryPlan
	Variables []*parser.Variable
}

// OrderByPlan represents an ORDER BY operation
type OrderByPlan struct {
	Input   QueryPlan
	OrderBy []*parser.OrderCondition
}

// DistinctPlan represents a DISTINCT operation
type DistinctPlan struct {
	Input QueryPlan
}

// ReducedPlan may drop duplicates; it drops adjacent ones
type ReducedPlan struct {
	Input QueryPlan
}

// OffsetPlan represents an OFFSET operation
type OffsetPlan struct {
	Input  QueryPlan
	Offset int
}

// LimitPlan represents a LIMIT operation
type LimitPlan struct {
	Input QueryPlan
	Limit int
}

// ConstructPlan instantiates a template for every solution
type ConstructPlan struct {
	Input    QueryPlan
	Template []*parser.QuadPattern
}

func (p *EmptyPlan) planNode()      {}
func (p *ScanPlan) planNode()       {}
func (p *JoinPlan) planNode()       {}
func (p *LeftJoinPlan) planNode()   {}
func (p *UnionPlan) planNode()      {}
func (p *MinusPlan) planNode()      {}
func (p *FilterPlan) planNode()     {}
func (p *BindPlan) planNode()       {}
func (p *ValuesPlan) planNode()     {}
func (p *GraphPlan) planNode()      {}
func (p *GroupPlan) planNode()      {}
func (p *ProjectionPlan) planNode() {}
func (p *OrderByPlan) planNode()    {}
func (p *DistinctPlan) planNode()   {}
func (p *ReducedPlan) planNode()    {}
func (p *OffsetPlan) planNode()     {}
func (p *LimitPlan) planNode()      {}
func (p *ConstructPlan) planNode()  {}

// Optimize optimizes a parsed query
func (o *Optimizer) Optimize(query *parser.Query) (*OptimizedQuery, error) {
	optimized := &OptimizedQuery{Original: query}

	switch query.QueryType {
	case parser.QueryTypeSelect:
		optimized.Plan = o.optimizeSelect(query.Select)
	case parser.QueryTypeAsk:
		// existence only needs the first solution
		optimized.Plan = &LimitPlan{Input: o.OptimizePattern(query.Ask.Where), Limit: 1}
	case parser.QueryTypeConstruct:
		plan := o.applyModifiers(o.OptimizePattern(query.Construct.Where), &query.Construct.Modifiers, nil, false, false)
		optimized.Plan = &ConstructPlan{Input: plan, Template: query.Construct.Template}
	case parser.QueryTypeDescribe:
		if query.Describe.Where != nil {
			optimized.Plan = o.applyModifiers(o.OptimizePattern(query.Describe.Where), &query.Describe.Modifiers, nil, false, false)
		} else {
			optimized.Plan = &EmptyPlan{}
		}
	}

	return optimized, nil
}

// optimizeSelect applies the solution modifiers in their evaluation order:
// group, having, select expressions, order, projection, distinct, slice
func (o *Optimizer) optimizeSelect(query *parser.SelectQuery) QueryPlan {
	plan := o.OptimizePattern(query.Where)
	return o.applyModifiers(plan, &query.Modifiers, query.Projections, query.Distinct, query.Reduced)
}

func (o *Optimizer) applyModifiers(plan QueryPlan, m *parser.Modifiers, projections []*parser.Projection, distinct, reduced bool) QueryPlan {
	var aggs []*parser.AggregateExpression
	for _, p := range projections {
		aggs = collectAggregates(p.Expression, aggs)
	}
	for _, h := range m.Having {
		aggs = collectAggregates(h, aggs)
	}
	for _, c := range m.OrderBy {
		aggs = collectAggregates(c.Expression, aggs)
	}

	if len(m.GroupBy) > 0 || len(aggs) > 0 {
		plan = &GroupPlan{Input: plan, GroupBy: m.GroupBy, Aggregates: aggs}
	}
	for _, h := range m.Having {
		plan = &FilterPlan{Input: plan, Filter: &parser.Filter{Expression: h}}
	}

	for _, p := range projections {
		if p.Expression != nil {
			plan = &BindPlan{Input: plan, Expression: p.Expression, Variable: p.Variable}
		}
	}

	if len(m.OrderBy) > 0 {
		plan = &OrderByPlan{Input: plan, OrderBy: m.OrderBy}
	}

	if projections != nil {
		vars := make([]*parser.Variable, len(projections))
		for i, p := range projections {
			vars[i] = p.Variable
		}
		plan = &ProjectionPlan{Input: plan, Variables: vars}
	}

	if distinct {
		plan = &DistinctPlan{Input: plan}
	} else if reduced {
		plan = &ReducedPlan{Input: plan}
	}

	if m.Offset != nil && *m.Offset > 0 {
		plan = &OffsetPlan{Input: plan, Offset: *m.Offset}
	}
	if m.Limit != nil {
		plan = &LimitPlan{Input: plan, Limit: *m.Limit}
	}
	return plan
}

// OptimizePattern plans a group graph pattern. It is also used for the
// WHERE clause of updates and for EXISTS.
func (o *Optimizer) OptimizePattern(pattern *parser.GraphPattern) QueryPlan {
	if pattern == nil {
		return &EmptyPlan{}
	}
	plan, filters := o.optimizeGroup(pattern)
	for _, f := range filters {
		plan = &FilterPlan{Input: plan, Filter: &parser.Filter{Expression: f}}
	}
	return plan
}

// optimizeGroup translates the members of a group in order and returns the
// group's filters separately; they apply to the whole group
func (o *Optimizer) optimizeGroup(pattern *parser.GraphPattern) (QueryPlan, []parser.Expression) {
	switch pattern.Type {
	case parser.GraphPatternTypeUnion:
		var plan QueryPlan
		for _, child := range pattern.Children {
			childPlan := o.OptimizePattern(child)
			if plan == nil {
				plan = childPlan
			} else {
				plan = &UnionPlan{Left: plan, Right: childPlan}
			}
		}
		if plan == nil {
			plan = &EmptyPlan{}
		}
		return plan, nil
	case parser.GraphPatternTypeGraph:
		inner := &parser.GraphPattern{Type: parser.GraphPatternTypeGroup, Elements: pattern.Elements}
		return &GraphPlan{Input: o.OptimizePattern(inner), Graph: pattern.Graph}, nil
	}

	var (
		plan    QueryPlan
		filters []parser.Expression
		triples []*parser.TriplePattern
	)

	join := func(right QueryPlan) {
		if plan == nil {
			plan = right
			return
		}
		plan = &JoinPlan{Left: plan, Right: right}
	}
	flush := func() {
		if len(triples) == 0 {
			return
		}
		join(o.optimizeBasicGraphPattern(triples))
		triples = nil
	}
	current := func() QueryPlan {
		if plan == nil {
			return &EmptyPlan{}
		}
		return plan
	}

	for _, el := range pattern.Elements {
		switch {
		case el.Triple != nil:
			triples = append(triples, el.Triple)

		case el.Filter != nil:
			filters = append(filters, el.Filter.Expression)

		case el.Bind != nil:
			flush()
			plan = &BindPlan{Input: current(), Expression: el.Bind.Expression, Variable: el.Bind.Variable}

		case el.Values != nil:
			flush()
			join(&ValuesPlan{Values: el.Values})

		case el.Pattern != nil:
			flush()
			child := el.Pattern
			switch child.Type {
			case parser.GraphPatternTypeOptional:
				right, optFilters := o.optimizeGroup(child)
				plan = &LeftJoinPlan{Left: current(), Right: right, Filters: optFilters}
			case parser.GraphPatternTypeMinus:
				plan = &MinusPlan{Left: current(), Right: o.OptimizePattern(child)}
			default:
				join(o.OptimizePattern(child))
			}
		}
	}
	flush()

	return current(), filters
}

// optimizeBasicGraphPattern orders the triple patterns of a BGP and joins them
func (o *Optimizer) optimizeBasicGraphPattern(patterns []*parser.TriplePattern) QueryPlan {
	ordered := o.reorderBySelectivity(patterns)

	var plan QueryPlan = &ScanPlan{Pattern: ordered[0]}
	for _, p := range ordered[1:] {
		plan = &JoinPlan{Left: plan, Right: &ScanPlan{Pattern: p}}
	}
	return plan
}

// reorderBySelectivity orders triple patterns greedily: the most selective
// pattern first, then at each step the most selective pattern that shares a
// variable with those already chosen, so that joins stay connected
func (o *Optimizer) reorderBySelectivity(patterns []*parser.TriplePattern) []*parser.TriplePattern {
	remaining := make([]*parser.TriplePattern, len(patterns))
	copy(remaining, patterns)
	ordered := make([]*parser.TriplePattern, 0, len(patterns))
	bound := make(map[string]bool)

	for len(remaining) > 0 {
		best := -1
		bestScore := 0.0
		bestConnected := false
		for i, p := range remaining {
			connected := len(ordered) == 0 || sharesVariable(p, bound)
			score := o.estimateSelectivity(p, bound)
			if best < 0 || (connected && !bestConnected) || (connected == bestConnected && score < bestScore) {
				best, bestScore, bestConnected = i, score, connected
			}
		}

		chosen := remaining[best]
		ordered = append(ordered, chosen)
		remaining = append(remaining[:best], remaining[best+1:]...)
		for _, v := range patternVariables(chosen) {
			bound[v] = true
		}
	}
	return ordered
}

// estimateSelectivity estimates the selectivity of a triple pattern given
// the variables bound by earlier patterns. Lower values are more selective.
func (o *Optimizer) estimateSelectivity(pattern *parser.TriplePattern, bound map[string]bool) float64 {
	selectivity := 1.0
	if isFixed(pattern.Subject, bound) {
		selectivity *= 0.01
	}
	if isFixed(pattern.Predicate, bound) {
		selectivity *= 0.1
	}
	if isFixed(pattern.Object, bound) {
		selectivity *= 0.1
	}
	return selectivity
}

func isFixed(t parser.TermOrVariable, bound map[string]bool) bool {
	return !t.IsVariable() || bound[t.Variable.Name]
}

func sharesVariable(p *parser.TriplePattern, bound map[string]bool) bool {
	for _, v := range patternVariables(p) {
		if bound[v] {
			return true
		}
	}
	return false
}

func patternVariables(p *parser.TriplePattern) []string {
	var vars []string
	for _, t := range []parser.TermOrVariable{p.Subject, p.Predicate, p.Object} {
		if t.IsVariable() {
			vars = append(vars, t.Variable.Name)
		}
	}
	return vars
}

// collectAggregates appends the aggregate expressions found in expr
func collectAggregates(expr parser.Expression, into []*parser.AggregateExpression) []*parser.AggregateExpression {
	switch e := expr.(type) {
	case *parser.AggregateExpression:
		return append(into, e)
	case *parser.BinaryExpression:
		return collectAggregates(e.Right, collectAggregates(e.Left, into))
	case *parser.UnaryExpression:
		return collectAggregates(e.Operand, into)
	case *parser.FunctionCallExpression:
		for _, arg := range e.Arguments {
			into = collectAggregates(arg, into)
		}
	case *parser.InExpression:
		into = collectAggregates(e.Expression, into)
		for _, v := range e.Values {
			into = collectAggregates(v, into)
		}
	}
	return into
}
