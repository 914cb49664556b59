package executor

import (
	"fmt"
	"strings"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/worlds/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// groupIterator partitions its input by the GROUP BY keys and yields one
// solution per group holding the keys and the aggregate values. Without
// GROUP BY all solutions form one group, even when there are none.
type groupIterator struct {
	x       *execution
	input   store.BindingIterator
	plan    *optimizer.GroupPlan
	groups  []*store.Binding
	started bool
	pos     int
}

type group struct {
	key  *store.Binding
	rows []*store.Binding
}

func (it *groupIterator) Next() bool {
	if !it.started {
		it.started = true
		it.groups = it.compute()
	}
	if it.pos+1 >= len(it.groups) || !it.x.alive() {
		return false
	}
	it.pos++
	return true
}

func (it *groupIterator) Binding() *store.Binding {
	return it.groups[it.pos]
}

func (it *groupIterator) Close() error {
	return it.input.Close()
}

func (it *groupIterator) compute() []*store.Binding {
	var order []string
	groups := make(map[string]*group)

	for it.input.Next() {
		row := it.input.Binding()
		key := store.NewBinding()
		var sig strings.Builder
		for i, cond := range it.plan.GroupBy {
			value, err := it.x.eval.Evaluate(cond.Expression, row)
			if err != nil {
				value = nil
			}
			fmt.Fprintf(&sig, "%d=", i)
			if value != nil {
				sig.WriteString(value.String())
				if name := groupVariable(cond); name != "" {
					key.Vars[name] = value
				}
			}
			sig.WriteByte(';')
		}

		g, ok := groups[sig.String()]
		if !ok {
			g = &group{key: key}
			groups[sig.String()] = g
			order = append(order, sig.String())
		}
		g.rows = append(g.rows, row)
	}

	if len(order) == 0 && len(it.plan.GroupBy) == 0 {
		order = append(order, "")
		groups[""] = &group{key: store.NewBinding()}
	}

	out := make([]*store.Binding, 0, len(order))
	for _, sig := range order {
		g := groups[sig]
		result := g.key.Clone()
		for _, agg := range it.plan.Aggregates {
			if value, err := it.aggregate(agg, g.rows); err == nil && value != nil {
				result.Vars[evaluator.AggregateVariable(agg)] = value
			}
		}
		out = append(out, result)
	}
	return out
}

// groupVariable is the variable a GROUP BY key binds in the group solution
func groupVariable(cond *parser.GroupCondition) string {
	if cond.Variable != nil {
		return cond.Variable.Name
	}
	if v, ok := cond.Expression.(*parser.VariableExpression); ok {
		return v.Variable.Name
	}
	return ""
}

// aggregate computes one aggregate over the rows of a group
func (it *groupIterator) aggregate(agg *parser.AggregateExpression, rows []*store.Binding) (rdf.Term, error) {
	if agg.Function == "COUNT" && agg.Argument == nil {
		if !agg.Distinct {
			return rdf.NewIntegerLiteral(int64(len(rows))), nil
		}
		seen := make(map[string]bool)
		for _, row := range rows {
			seen[bindingKey(row)] = true
		}
		return rdf.NewIntegerLiteral(int64(len(seen))), nil
	}

	// values of the argument; rows where it errors are skipped
	var values []rdf.Term
	seen := make(map[string]bool)
	for _, row := range rows {
		value, err := it.x.eval.Evaluate(agg.Argument, row)
		if err != nil || value == nil {
			continue
		}
		if agg.Distinct {
			if seen[value.String()] {
				continue
			}
			seen[value.String()] = true
		}
		values = append(values, value)
	}

	switch agg.Function {
	case "COUNT":
		return rdf.NewIntegerLiteral(int64(len(values))), nil

	case "SUM", "AVG":
		var sum rdf.Term = rdf.NewIntegerLiteral(0)
		for _, v := range values {
			next, err := evaluator.Add(sum, v)
			if err != nil {
				return nil, err
			}
			sum = next
		}
		if agg.Function == "SUM" || len(values) == 0 {
			return sum, nil
		}
		return evaluator.Divide(sum, rdf.NewIntegerLiteral(int64(len(values))))

	case "MIN", "MAX":
		if len(values) == 0 {
			return nil, nil
		}
		best := values[0]
		for _, v := range values[1:] {
			c := evaluator.OrderCompare(v, best)
			if (agg.Function == "MIN" && c < 0) || (agg.Function == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil

	case "SAMPLE":
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil

	case "GROUP_CONCAT":
		parts := make([]string, 0, len(values))
		for _, v := range values {
			lit, ok := v.(*rdf.Literal)
			if !ok {
				return nil, fmt.Errorf("GROUP_CONCAT over non-literal %s", v)
			}
			parts = append(parts, lit.Value)
		}
		return rdf.NewLiteral(strings.Join(parts, agg.Separator)), nil
	}

	return nil, fmt.Errorf("unsupported aggregate %s", agg.Function)
}
