package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/worlds/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// iterate returns the solutions of plan that are compatible with input,
// merged with it. active is the graph triple patterns match against; nil
// selects the dataset's default graph.
//
// Triple scans, joins, unions, VALUES and GRAPH take input by substitution,
// which turns joins into index nested-loop joins. Every other operator has
// its own variable scope: it is evaluated once per active graph and its
// solutions are joined with input.
func (x *execution) iterate(plan optimizer.QueryPlan, input *store.Binding, active rdf.Term) store.BindingIterator {
	switch p := plan.(type) {
	case *optimizer.EmptyPlan:
		return &sliceIterator{bindings: []*store.Binding{input}, pos: -1}
	case *optimizer.ScanPlan:
		return x.createScanIterator(p, input, active)
	case *optimizer.JoinPlan:
		return &nestedLoopJoinIterator{
			x:      x,
			left:   x.iterate(p.Left, input, active),
			right:  p.Right,
			active: active,
		}
	case *optimizer.UnionPlan:
		return &unionIterator{
			x:        x,
			branches: []optimizer.QueryPlan{p.Left, p.Right},
			input:    input,
			active:   active,
		}
	case *optimizer.ValuesPlan:
		return createValuesIterator(p.Values, input)
	case *optimizer.GraphPlan:
		return x.createGraphIterator(p, input)
	}

	if len(input.Vars) == 0 {
		return x.build(plan, active)
	}
	return &compatibleIterator{rows: x.materialize(plan, active), input: input, pos: -1}
}

// build creates the iterator of a scoped operator over empty input
func (x *execution) build(plan optimizer.QueryPlan, active rdf.Term) store.BindingIterator {
	empty := store.NewBinding()

	switch p := plan.(type) {
	case *optimizer.FilterPlan:
		return &filterIterator{x: x, input: x.iterate(p.Input, empty, active), filter: p.Filter, active: active}
	case *optimizer.BindPlan:
		return &bindIterator{x: x, input: x.iterate(p.Input, empty, active), plan: p, active: active}
	case *optimizer.LeftJoinPlan:
		return &leftJoinIterator{x: x, left: x.iterate(p.Left, empty, active), plan: p, active: active}
	case *optimizer.MinusPlan:
		return &minusIterator{x: x, left: x.iterate(p.Left, empty, active), right: x.materialize(p.Right, active)}
	case *optimizer.GroupPlan:
		return &groupIterator{x: x, input: x.iterate(p.Input, empty, active), plan: p, pos: -1}
	case *optimizer.OrderByPlan:
		return &orderIterator{x: x, input: x.iterate(p.Input, empty, active), orderBy: p.OrderBy, pos: -1}
	case *optimizer.ProjectionPlan:
		return &projectionIterator{input: x.iterate(p.Input, empty, active), variables: p.Variables}
	case *optimizer.DistinctPlan:
		return &distinctIterator{input: x.iterate(p.Input, empty, active), seen: make(map[string]bool)}
	case *optimizer.ReducedPlan:
		return &reducedIterator{input: x.iterate(p.Input, empty, active)}
	case *optimizer.OffsetPlan:
		return &offsetIterator{input: x.iterate(p.Input, empty, active), offset: p.Offset}
	case *optimizer.LimitPlan:
		return &limitIterator{input: x.iterate(p.Input, empty, active), limit: p.Limit}
	case *optimizer.ConstructPlan:
		return x.iterate(p.Input, empty, active)
	case *optimizer.EmptyPlan, *optimizer.ScanPlan, *optimizer.JoinPlan, *optimizer.UnionPlan,
		*optimizer.ValuesPlan, *optimizer.GraphPlan:
		return x.iterate(plan, empty, active)
	}

	x.fail(fmt.Errorf("unsupported plan node %T", plan))
	return &sliceIterator{pos: -1}
}

// materialize evaluates a scoped operator once per active graph
func (x *execution) materialize(plan optimizer.QueryPlan, active rdf.Term) []*store.Binding {
	key := cacheKey{plan: plan, graph: graphKey(active)}
	if rows, ok := x.cache[key]; ok {
		return rows
	}

	iter := x.build(plan, active)
	var rows []*store.Binding
	for iter.Next() {
		rows = append(rows, iter.Binding())
	}
	if err := iter.Close(); err != nil {
		x.fail(err)
	}
	x.cache[key] = rows
	return rows
}

// sliceIterator iterates over materialized bindings
type sliceIterator struct {
	bindings []*store.Binding
	pos      int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.bindings) {
		it.pos = len(it.bindings)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Binding() *store.Binding {
	return it.bindings[it.pos]
}

func (it *sliceIterator) Close() error {
	return nil
}

// compatibleIterator joins materialized rows with one input binding
type compatibleIterator struct {
	rows    []*store.Binding
	input   *store.Binding
	pos     int
	current *store.Binding
}

func (it *compatibleIterator) Next() bool {
	for it.pos+1 < len(it.rows) {
		it.pos++
		row := it.rows[it.pos]
		if it.input.Compatible(row) {
			it.current = it.input.Merge(row)
			return true
		}
	}
	return false
}

func (it *compatibleIterator) Binding() *store.Binding {
	return it.current
}

func (it *compatibleIterator) Close() error {
	return nil
}

// scanIterator matches one triple pattern in each graph of the active
// dataset, extending the input binding
type scanIterator struct {
	x        *execution
	patterns []*store.Pattern
	input    *store.Binding
	quadIter store.QuadIterator
	pattern  *store.Pattern
	binding  *store.Binding
	seen     map[string]bool // set when more than one graph is scanned
}

func (x *execution) createScanIterator(plan *optimizer.ScanPlan, input *store.Binding, active rdf.Term) store.BindingIterator {
	graphs := []rdf.Term{active}
	if active == nil {
		graphs = x.ds.defaultGraphs()
	}

	subject := convertTermOrVariable(plan.Pattern.Subject)
	predicate := convertTermOrVariable(plan.Pattern.Predicate)
	object := convertTermOrVariable(plan.Pattern.Object)

	it := &scanIterator{x: x, input: input}
	for _, g := range graphs {
		it.patterns = append(it.patterns, &store.Pattern{
			Subject:   subject,
			Predicate: predicate,
			Object:    object,
			Graph:     g,
		})
	}
	if len(graphs) > 1 {
		it.seen = make(map[string]bool)
	}
	return it
}

func (it *scanIterator) Next() bool {
	for {
		if !it.x.alive() {
			return false
		}
		if it.quadIter == nil {
			if len(it.patterns) == 0 {
				return false
			}
			it.pattern = it.patterns[0]
			it.patterns = it.patterns[1:]
			it.quadIter = store.Query(it.x.store, it.pattern, it.input)
		}

		if !it.quadIter.Next() {
			_ = it.quadIter.Close()
			it.quadIter = nil
			continue
		}

		quad := it.quadIter.Quad()
		binding, ok := store.Bind(it.pattern, quad, it.input)
		if !ok {
			continue
		}
		if it.seen != nil {
			// the default graph is the merge of several graphs
			key := quad.Subject.String() + " " + quad.Predicate.String() + " " + quad.Object.String()
			if it.seen[key] {
				continue
			}
			it.seen[key] = true
		}
		it.binding = binding
		return true
	}
}

func (it *scanIterator) Binding() *store.Binding {
	return it.binding
}

func (it *scanIterator) Close() error {
	if it.quadIter != nil {
		return it.quadIter.Close()
	}
	return nil
}

func convertTermOrVariable(tov parser.TermOrVariable) any {
	if tov.Variable != nil {
		return store.NewVariable(tov.Variable.Name)
	}
	return tov.Term
}

// nestedLoopJoinIterator implements nested loop join; the right plan is
// evaluated once per left solution with that solution substituted
type nestedLoopJoinIterator struct {
	x            *execution
	left         store.BindingIterator
	right        optimizer.QueryPlan
	active       rdf.Term
	currentRight store.BindingIterator
	result       *store.Binding
}

func (it *nestedLoopJoinIterator) Next() bool {
	for {
		if !it.x.alive() {
			return false
		}
		if it.currentRight != nil {
			if it.currentRight.Next() {
				it.result = it.currentRight.Binding()
				return true
			}
			_ = it.currentRight.Close()
			it.currentRight = nil
		}

		if !it.left.Next() {
			return false
		}
		it.currentRight = it.x.iterate(it.right, it.left.Binding(), it.active)
	}
}

func (it *nestedLoopJoinIterator) Binding() *store.Binding {
	return it.result
}

func (it *nestedLoopJoinIterator) Close() error {
	if it.currentRight != nil {
		_ = it.currentRight.Close()
	}
	return it.left.Close()
}

// unionIterator concatenates the branches, each evaluated with the input
type unionIterator struct {
	x        *execution
	branches []optimizer.QueryPlan
	input    *store.Binding
	active   rdf.Term
	current  store.BindingIterator
}

func (it *unionIterator) Next() bool {
	for {
		if it.current != nil {
			if it.current.Next() {
				return true
			}
			_ = it.current.Close()
			it.current = nil
		}
		if len(it.branches) == 0 || !it.x.alive() {
			return false
		}
		it.current = it.x.iterate(it.branches[0], it.input, it.active)
		it.branches = it.branches[1:]
	}
}

func (it *unionIterator) Binding() *store.Binding {
	return it.current.Binding()
}

func (it *unionIterator) Close() error {
	if it.current != nil {
		return it.current.Close()
	}
	return nil
}

// createValuesIterator yields the rows of a VALUES block compatible with input
func createValuesIterator(values *parser.Values, input *store.Binding) store.BindingIterator {
	var rows []*store.Binding
next:
	for _, row := range values.Rows {
		b := input.Clone()
		for i, v := range values.Variables {
			term := row[i]
			if term == nil {
				continue
			}
			if existing, ok := b.Vars[v.Name]; ok {
				if !existing.Equals(term) {
					continue next
				}
				continue
			}
			b.Vars[v.Name] = term
		}
		rows = append(rows, b)
	}
	return &sliceIterator{bindings: rows, pos: -1}
}

// graphIterator evaluates the inner plan once per named graph
type graphIterator struct {
	x       *execution
	plan    optimizer.QueryPlan
	graphs  []rdf.Term
	varName string
	input   *store.Binding
	current store.BindingIterator
}

func (x *execution) createGraphIterator(plan *optimizer.GraphPlan, input *store.Binding) store.BindingIterator {
	if plan.Graph.Variable == nil {
		if !x.ds.isNamed(x.store, plan.Graph.IRI) {
			return &sliceIterator{pos: -1}
		}
		return x.iterate(plan.Input, input, plan.Graph.IRI)
	}

	name := plan.Graph.Variable.Name
	var graphs []rdf.Term
	if bound, ok := input.Get(name); ok {
		if !x.ds.isNamed(x.store, bound) {
			return &sliceIterator{pos: -1}
		}
		graphs = []rdf.Term{bound}
	} else {
		graphs = x.ds.namedGraphs(x.store)
	}
	return &graphIterator{x: x, plan: plan.Input, graphs: graphs, varName: name, input: input}
}

func (it *graphIterator) Next() bool {
	for {
		if it.current != nil {
			if it.current.Next() {
				return true
			}
			_ = it.current.Close()
			it.current = nil
		}
		if len(it.graphs) == 0 || !it.x.alive() {
			return false
		}
		g := it.graphs[0]
		it.graphs = it.graphs[1:]

		b := it.input.Clone()
		b.Vars[it.varName] = g
		it.current = it.x.iterate(it.plan, b, g)
	}
}

func (it *graphIterator) Binding() *store.Binding {
	return it.current.Binding()
}

func (it *graphIterator) Close() error {
	if it.current != nil {
		return it.current.Close()
	}
	return nil
}

// filterIterator implements filter operations; a filter that errors rejects
// the solution
type filterIterator struct {
	x       *execution
	input   store.BindingIterator
	filter  *parser.Filter
	active  rdf.Term
	current *store.Binding
}

func (it *filterIterator) Next() bool {
	for it.input.Next() {
		if !it.x.alive() {
			return false
		}
		binding := it.input.Binding()
		it.x.activeGraph = it.active
		if it.x.eval.Test(it.filter.Expression, binding) {
			it.current = binding
			return true
		}
	}
	return false
}

func (it *filterIterator) Binding() *store.Binding {
	return it.current
}

func (it *filterIterator) Close() error {
	return it.input.Close()
}

// bindIterator extends each solution with BIND; an expression error leaves
// the variable unbound
type bindIterator struct {
	x       *execution
	input   store.BindingIterator
	plan    *optimizer.BindPlan
	active  rdf.Term
	current *store.Binding
}

func (it *bindIterator) Next() bool {
	if !it.input.Next() {
		return false
	}
	binding := it.input.Binding()
	name := it.plan.Variable.Name
	if _, bound := binding.Vars[name]; bound {
		it.x.fail(fmt.Errorf("BIND: variable ?%s is already bound", name))
		return false
	}

	it.x.activeGraph = it.active
	value, err := it.x.eval.Evaluate(it.plan.Expression, binding)
	if err != nil || value == nil {
		it.current = binding
		return true
	}
	extended := binding.Clone()
	extended.Vars[name] = value
	it.current = extended
	return true
}

func (it *bindIterator) Binding() *store.Binding {
	return it.current
}

func (it *bindIterator) Close() error {
	return it.input.Close()
}

// leftJoinIterator implements OPTIONAL
type leftJoinIterator struct {
	x       *execution
	left    store.BindingIterator
	plan    *optimizer.LeftJoinPlan
	active  rdf.Term
	pending []*store.Binding
	current *store.Binding
}

func (it *leftJoinIterator) Next() bool {
	for {
		if len(it.pending) > 0 {
			it.current = it.pending[0]
			it.pending = it.pending[1:]
			return true
		}
		if !it.x.alive() || !it.left.Next() {
			return false
		}

		l := it.left.Binding()
		right := it.x.iterate(it.plan.Right, l, it.active)
		for right.Next() {
			merged := right.Binding()
			if it.accept(merged) {
				it.pending = append(it.pending, merged)
			}
		}
		_ = right.Close()

		if len(it.pending) == 0 {
			it.pending = append(it.pending, l)
		}
	}
}

func (it *leftJoinIterator) accept(b *store.Binding) bool {
	it.x.activeGraph = it.active
	for _, f := range it.plan.Filters {
		if !it.x.eval.Test(f, b) {
			return false
		}
	}
	return true
}

func (it *leftJoinIterator) Binding() *store.Binding {
	return it.current
}

func (it *leftJoinIterator) Close() error {
	return it.left.Close()
}

// minusIterator removes left solutions compatible with a right solution
// that shares a variable with them
type minusIterator struct {
	x       *execution
	left    store.BindingIterator
	right   []*store.Binding
	current *store.Binding
}

func (it *minusIterator) Next() bool {
	for it.left.Next() {
		if !it.x.alive() {
			return false
		}
		l := it.left.Binding()
		if !it.excluded(l) {
			it.current = l
			return true
		}
	}
	return false
}

func (it *minusIterator) excluded(l *store.Binding) bool {
	for _, r := range it.right {
		shared := false
		for name := range r.Vars {
			if _, ok := l.Vars[name]; ok {
				shared = true
				break
			}
		}
		if shared && l.Compatible(r) {
			return true
		}
	}
	return false
}

func (it *minusIterator) Binding() *store.Binding {
	return it.current
}

func (it *minusIterator) Close() error {
	return it.left.Close()
}

// orderIterator sorts its input; unbound and erroring keys sort first
type orderIterator struct {
	x       *execution
	input   store.BindingIterator
	orderBy []*parser.OrderCondition
	sorted  []*store.Binding
	started bool
	pos     int
}

func (it *orderIterator) Next() bool {
	if !it.started {
		it.started = true
		type row struct {
			binding *store.Binding
			keys    []rdf.Term
		}
		var rows []row
		for it.input.Next() {
			b := it.input.Binding()
			keys := make([]rdf.Term, len(it.orderBy))
			for i, cond := range it.orderBy {
				if v, err := it.x.eval.Evaluate(cond.Expression, b); err == nil {
					keys[i] = v
				}
			}
			rows = append(rows, row{binding: b, keys: keys})
		}
		sort.SliceStable(rows, func(a, b int) bool {
			for i, cond := range it.orderBy {
				c := evaluator.OrderCompare(rows[a].keys[i], rows[b].keys[i])
				if !cond.Ascending {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
		for _, r := range rows {
			it.sorted = append(it.sorted, r.binding)
		}
	}

	if it.pos+1 >= len(it.sorted) || !it.x.alive() {
		return false
	}
	it.pos++
	return true
}

func (it *orderIterator) Binding() *store.Binding {
	return it.sorted[it.pos]
}

func (it *orderIterator) Close() error {
	return it.input.Close()
}

// projectionIterator implements projection
type projectionIterator struct {
	input     store.BindingIterator
	variables []*parser.Variable
}

func (it *projectionIterator) Next() bool {
	return it.input.Next()
}

func (it *projectionIterator) Binding() *store.Binding {
	binding := it.input.Binding()
	projected := store.NewBinding()
	for _, v := range it.variables {
		if value, ok := binding.Vars[v.Name]; ok {
			projected.Vars[v.Name] = value
		}
	}
	return projected
}

func (it *projectionIterator) Close() error {
	return it.input.Close()
}

// distinctIterator removes duplicate solutions
type distinctIterator struct {
	input store.BindingIterator
	seen  map[string]bool
}

func (it *distinctIterator) Next() bool {
	for it.input.Next() {
		key := bindingKey(it.input.Binding())
		if !it.seen[key] {
			it.seen[key] = true
			return true
		}
	}
	return false
}

func (it *distinctIterator) Binding() *store.Binding {
	return it.input.Binding()
}

func (it *distinctIterator) Close() error {
	return it.input.Close()
}

// reducedIterator drops a solution equal to the one before it
type reducedIterator struct {
	input   store.BindingIterator
	last    string
	started bool
}

func (it *reducedIterator) Next() bool {
	for it.input.Next() {
		key := bindingKey(it.input.Binding())
		if it.started && key == it.last {
			continue
		}
		it.started = true
		it.last = key
		return true
	}
	return false
}

func (it *reducedIterator) Binding() *store.Binding {
	return it.input.Binding()
}

func (it *reducedIterator) Close() error {
	return it.input.Close()
}

// offsetIterator implements OFFSET
type offsetIterator struct {
	input   store.BindingIterator
	offset  int
	skipped bool
}

func (it *offsetIterator) Next() bool {
	if !it.skipped {
		it.skipped = true
		for i := 0; i < it.offset; i++ {
			if !it.input.Next() {
				return false
			}
		}
	}
	return it.input.Next()
}

func (it *offsetIterator) Binding() *store.Binding {
	return it.input.Binding()
}

func (it *offsetIterator) Close() error {
	return it.input.Close()
}

// limitIterator implements LIMIT
type limitIterator struct {
	input store.BindingIterator
	limit int
	count int
}

func (it *limitIterator) Next() bool {
	if it.count >= it.limit {
		return false
	}
	if !it.input.Next() {
		return false
	}
	it.count++
	return true
}

func (it *limitIterator) Binding() *store.Binding {
	return it.input.Binding()
}

func (it *limitIterator) Close() error {
	return it.input.Close()
}

// bindingKey is a canonical string for a binding, independent of map order
func bindingKey(binding *store.Binding) string {
	names := make([]string, 0, len(binding.Vars))
	for name := range binding.Vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(binding.Vars[name].String())
		sb.WriteByte(';')
	}
	return sb.String()
}
