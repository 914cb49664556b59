package evaluator

import (
	"errors"
	"fmt"
	"time"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// ErrUnbound is returned when an expression reads a variable with no value
var ErrUnbound = errors.New("unbound variable")

// ExistsFunc evaluates the pattern of an EXISTS expression with binding
// substituted and reports whether it has at least one solution
type ExistsFunc func(pattern *parser.GraphPattern, binding *store.Binding) (bool, error)

// Evaluator evaluates SPARQL expressions against bindings. One evaluator
// serves one query execution: NOW() and BNODE(label) are scoped to it.
type Evaluator struct {
	Exists ExistsFunc
	Now    time.Time

	bnodes map[*store.Binding]map[string]*rdf.BlankNode
}

// NewEvaluator creates a new expression evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		Now:    time.Now(),
		bnodes: make(map[*store.Binding]map[string]*rdf.BlankNode),
	}
}

// Evaluate evaluates an expression against a binding and returns the result term.
// Type errors and unbound variables are returned as errors; callers decide
// whether that rejects the solution (FILTER) or leaves a variable unbound (BIND).
func (e *Evaluator) Evaluate(expr parser.Expression, binding *store.Binding) (rdf.Term, error) {
	if expr == nil {
		return nil, fmt.Errorf("cannot evaluate nil expression")
	}

	switch ex := expr.(type) {
	case *parser.BinaryExpression:
		return e.evaluateBinaryExpression(ex, binding)
	case *parser.UnaryExpression:
		return e.evaluateUnaryExpression(ex, binding)
	case *parser.VariableExpression:
		return e.evaluateVariableExpression(ex, binding)
	case *parser.LiteralExpression:
		if ex.Literal == nil {
			return nil, fmt.Errorf("literal expression has nil literal")
		}
		return ex.Literal, nil
	case *parser.FunctionCallExpression:
		return e.evaluateFunctionCall(ex, binding)
	case *parser.AggregateExpression:
		return e.evaluateAggregateReference(ex, binding)
	case *parser.ExistsExpression:
		return e.evaluateExistsExpression(ex, binding)
	case *parser.InExpression:
		return e.evaluateInExpression(ex, binding)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", expr)
	}
}

// EffectiveBooleanValue computes the EBV of a term
func (e *Evaluator) EffectiveBooleanValue(term rdf.Term) (bool, error) {
	return effectiveBooleanValue(term)
}

// Test evaluates expr and returns its EBV; any error is false
func (e *Evaluator) Test(expr parser.Expression, binding *store.Binding) bool {
	term, err := e.Evaluate(expr, binding)
	if err != nil {
		return false
	}
	ok, err := effectiveBooleanValue(term)
	return err == nil && ok
}

func (e *Evaluator) evaluateVariableExpression(expr *parser.VariableExpression, binding *store.Binding) (rdf.Term, error) {
	if expr.Variable == nil {
		return nil, fmt.Errorf("variable expression has nil variable")
	}
	if binding == nil {
		return nil, fmt.Errorf("%w: ?%s", ErrUnbound, expr.Variable.Name)
	}
	value, exists := binding.Vars[expr.Variable.Name]
	if !exists {
		return nil, fmt.Errorf("%w: ?%s", ErrUnbound, expr.Variable.Name)
	}
	return value, nil
}

// AggregateVariable names the hidden variable under which the executor
// stores the value of an aggregate for a group
func AggregateVariable(agg *parser.AggregateExpression) string {
	return fmt.Sprintf(".agg%p", agg)
}

func (e *Evaluator) evaluateAggregateReference(expr *parser.AggregateExpression, binding *store.Binding) (rdf.Term, error) {
	if binding != nil {
		if value, ok := binding.Vars[AggregateVariable(expr)]; ok {
			return value, nil
		}
	}
	return nil, fmt.Errorf("aggregate %s has no value in this context", expr.Function)
}

func (e *Evaluator) evaluateExistsExpression(expr *parser.ExistsExpression, binding *store.Binding) (rdf.Term, error) {
	if e.Exists == nil {
		return nil, fmt.Errorf("EXISTS is not available in this context")
	}
	found, err := e.Exists(expr.Pattern, binding)
	if err != nil {
		return nil, err
	}
	if expr.Not {
		found = !found
	}
	return rdf.NewBooleanLiteral(found), nil
}

// evaluateInExpression evaluates IN / NOT IN. An error comparing against one
// member only matters when no member matched.
func (e *Evaluator) evaluateInExpression(expr *parser.InExpression, binding *store.Binding) (rdf.Term, error) {
	left, err := e.Evaluate(expr.Expression, binding)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, candidate := range expr.Values {
		right, err := e.Evaluate(candidate, binding)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		eq, err := valueEqual(left, right)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if eq {
			return rdf.NewBooleanLiteral(!expr.Not), nil
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return rdf.NewBooleanLiteral(expr.Not), nil
}

// blankNodeFor returns the blank node BNODE(label) yields within one solution
func (e *Evaluator) blankNodeFor(binding *store.Binding, label string) *rdf.BlankNode {
	if e.bnodes == nil {
		e.bnodes = make(map[*store.Binding]map[string]*rdf.BlankNode)
	}
	scope, ok := e.bnodes[binding]
	if !ok {
		scope = make(map[string]*rdf.BlankNode)
		e.bnodes[binding] = scope
	}
	if b, ok := scope[label]; ok {
		return b
	}
	b := freshBlankNode()
	scope[label] = b
	return b
}
