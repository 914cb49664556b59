package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// evaluateBinaryExpression evaluates binary operations
func (e *Evaluator) evaluateBinaryExpression(expr *parser.BinaryExpression, binding *store.Binding) (rdf.Term, error) {
	switch expr.Operator {
	case parser.OpAnd:
		return e.evaluateAnd(expr, binding)
	case parser.OpOr:
		return e.evaluateOr(expr, binding)
	}

	left, err := e.Evaluate(expr.Left, binding)
	if err != nil {
		return nil, err
	}
	right, err := e.Evaluate(expr.Right, binding)
	if err != nil {
		return nil, err
	}

	switch expr.Operator {
	case parser.OpEqual, parser.OpNotEqual:
		eq, err := valueEqual(left, right)
		if err != nil {
			return nil, err
		}
		if expr.Operator == parser.OpNotEqual {
			eq = !eq
		}
		return rdf.NewBooleanLiteral(eq), nil

	case parser.OpLessThan, parser.OpLessThanOrEqual, parser.OpGreaterThan, parser.OpGreaterThanOrEqual:
		cmp, err := compareValues(left, right)
		if err != nil {
			return nil, err
		}
		var result bool
		switch expr.Operator {
		case parser.OpLessThan:
			result = cmp < 0
		case parser.OpLessThanOrEqual:
			result = cmp <= 0
		case parser.OpGreaterThan:
			result = cmp > 0
		default:
			result = cmp >= 0
		}
		return rdf.NewBooleanLiteral(result), nil

	case parser.OpAdd, parser.OpSubtract, parser.OpMultiply, parser.OpDivide:
		return arithmetic(expr.Operator, left, right)

	default:
		return nil, fmt.Errorf("unsupported binary operator: %v", expr.Operator)
	}
}

// evaluateUnaryExpression evaluates unary operations
func (e *Evaluator) evaluateUnaryExpression(expr *parser.UnaryExpression, binding *store.Binding) (rdf.Term, error) {
	operand, err := e.Evaluate(expr.Operand, binding)
	if err != nil {
		return nil, err
	}

	switch expr.Operator {
	case parser.OpNot:
		ebv, err := effectiveBooleanValue(operand)
		if err != nil {
			return nil, err
		}
		return rdf.NewBooleanLiteral(!ebv), nil
	case parser.OpNegate:
		n, ok := numericValue(operand)
		if !ok {
			return nil, fmt.Errorf("cannot negate non-numeric term %s", operand)
		}
		n.i, n.f = -n.i, -n.f
		return n.literal(), nil
	default:
		return nil, fmt.Errorf("unsupported unary operator: %v", expr.Operator)
	}
}

// Logical operators follow the three-valued logic: an error on one side is
// masked when the other side decides the result.

func (e *Evaluator) evaluateAnd(expr *parser.BinaryExpression, binding *store.Binding) (rdf.Term, error) {
	left, leftErr := e.ebvOf(expr.Left, binding)
	if leftErr == nil && !left {
		return rdf.NewBooleanLiteral(false), nil
	}
	right, rightErr := e.ebvOf(expr.Right, binding)
	if rightErr == nil && !right {
		return rdf.NewBooleanLiteral(false), nil
	}
	if leftErr != nil {
		return nil, leftErr
	}
	if rightErr != nil {
		return nil, rightErr
	}
	return rdf.NewBooleanLiteral(true), nil
}

func (e *Evaluator) evaluateOr(expr *parser.BinaryExpression, binding *store.Binding) (rdf.Term, error) {
	left, leftErr := e.ebvOf(expr.Left, binding)
	if leftErr == nil && left {
		return rdf.NewBooleanLiteral(true), nil
	}
	right, rightErr := e.ebvOf(expr.Right, binding)
	if rightErr == nil && right {
		return rdf.NewBooleanLiteral(true), nil
	}
	if leftErr != nil {
		return nil, leftErr
	}
	if rightErr != nil {
		return nil, rightErr
	}
	return rdf.NewBooleanLiteral(false), nil
}

func (e *Evaluator) ebvOf(expr parser.Expression, binding *store.Binding) (bool, error) {
	term, err := e.Evaluate(expr, binding)
	if err != nil {
		return false, err
	}
	return effectiveBooleanValue(term)
}

// effectiveBooleanValue computes the EBV of a term
func effectiveBooleanValue(term rdf.Term) (bool, error) {
	if term == nil {
		return false, fmt.Errorf("cannot compute EBV of nil term")
	}

	lit, ok := term.(*rdf.Literal)
	if !ok {
		return false, fmt.Errorf("cannot compute EBV of %s", term.Type())
	}

	if lit.Language != "" || lit.Datatype == nil {
		return lit.Value != "", nil
	}
	if lit.Datatype.IRI == rdf.XSDBoolean.IRI {
		switch lit.Value {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, nil
	}
	if isNumericDatatype(lit.Datatype.IRI) {
		n, ok := numericValue(lit)
		if !ok {
			return false, nil
		}
		if n.kind == numInteger {
			return n.i != 0, nil
		}
		return n.f != 0 && !math.IsNaN(n.f), nil
	}
	return false, fmt.Errorf("cannot compute EBV of literal with datatype %s", lit.Datatype.IRI)
}

// Numeric values

type numericKind int

const (
	numInteger numericKind = iota
	numDecimal
	numFloat
	numDouble
)

type numeric struct {
	kind numericKind
	i    int64
	f    float64
}

func (n numeric) float() float64 {
	if n.kind == numInteger {
		return float64(n.i)
	}
	return n.f
}

func (n numeric) literal() *rdf.Literal {
	switch n.kind {
	case numInteger:
		return rdf.NewIntegerLiteral(n.i)
	case numDecimal:
		return rdf.NewDecimalLiteral(n.f)
	case numFloat:
		return rdf.NewLiteralWithDatatype(formatFloating(n.f), rdf.NewNamedNode(rdf.XSDNamespace+"float"))
	default:
		return rdf.NewLiteralWithDatatype(formatFloating(n.f), rdf.XSDDouble)
	}
}

func formatFloating(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	return strconv.FormatFloat(f, 'E', -1, 64)
}

var integerDatatypes = map[string]bool{
	"integer": true, "int": true, "long": true, "short": true, "byte": true,
	"nonNegativeInteger": true, "nonPositiveInteger": true, "negativeInteger": true,
	"positiveInteger": true, "unsignedLong": true, "unsignedInt": true,
	"unsignedShort": true, "unsignedByte": true,
}

func numericKindOf(datatypeIRI string) (numericKind, bool) {
	local, ok := strings.CutPrefix(datatypeIRI, rdf.XSDNamespace)
	if !ok {
		return 0, false
	}
	switch {
	case integerDatatypes[local]:
		return numInteger, true
	case local == "decimal":
		return numDecimal, true
	case local == "float":
		return numFloat, true
	case local == "double":
		return numDouble, true
	}
	return 0, false
}

func isNumericDatatype(datatypeIRI string) bool {
	_, ok := numericKindOf(datatypeIRI)
	return ok
}

// numericValue extracts a numeric value from a literal with a numeric
// datatype and a valid lexical form
func numericValue(term rdf.Term) (numeric, bool) {
	lit, ok := term.(*rdf.Literal)
	if !ok || lit.Datatype == nil {
		return numeric{}, false
	}
	kind, ok := numericKindOf(lit.Datatype.IRI)
	if !ok {
		return numeric{}, false
	}
	value := strings.TrimSpace(lit.Value)

	switch kind {
	case numInteger:
		i, err := strconv.ParseInt(strings.TrimPrefix(value, "+"), 10, 64)
		if err != nil {
			return numeric{}, false
		}
		return numeric{kind: kind, i: i}, true
	case numDecimal:
		if strings.ContainsAny(value, "eE") {
			return numeric{}, false
		}
	}

	var f float64
	switch value {
	case "INF", "+INF":
		f = math.Inf(1)
	case "-INF":
		f = math.Inf(-1)
	case "NaN":
		f = math.NaN()
	default:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return numeric{}, false
		}
		f = parsed
	}
	return numeric{kind: kind, f: f}, true
}

// arithmetic applies a numeric operator with type promotion
// integer < decimal < float < double
func arithmetic(op parser.Operator, left, right rdf.Term) (rdf.Term, error) {
	l, lok := numericValue(left)
	r, rok := numericValue(right)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic on non-numeric terms %s and %s", left, right)
	}

	kind := max(l.kind, r.kind)
	if kind == numInteger && op != parser.OpDivide {
		var v int64
		switch op {
		case parser.OpAdd:
			v = l.i + r.i
		case parser.OpSubtract:
			v = l.i - r.i
		case parser.OpMultiply:
			v = l.i * r.i
		}
		return rdf.NewIntegerLiteral(v), nil
	}
	if kind == numInteger {
		// integer division yields a decimal
		kind = numDecimal
	}

	a, b := l.float(), r.float()
	var v float64
	switch op {
	case parser.OpAdd:
		v = a + b
	case parser.OpSubtract:
		v = a - b
	case parser.OpMultiply:
		v = a * b
	case parser.OpDivide:
		if b == 0 && kind == numDecimal {
			return nil, fmt.Errorf("division by zero")
		}
		v = a / b
	default:
		return nil, fmt.Errorf("unsupported arithmetic operator: %v", op)
	}
	return numeric{kind: kind, f: v}.literal(), nil
}

// valueEqual implements the = operator: numeric, boolean, string and
// dateTime literals compare by value, everything else by term identity
func valueEqual(left, right rdf.Term) (bool, error) {
	if left.Equals(right) {
		return true, nil
	}
	ll, lok := left.(*rdf.Literal)
	rl, rok := right.(*rdf.Literal)
	if !lok || !rok {
		return false, nil
	}
	if cmp, comparable, err := compareLiterals(ll, rl); comparable {
		if err != nil {
			return false, err
		}
		return cmp == 0, nil
	}
	// two literals with unknown datatypes that are not the same term
	if ll.Datatype != nil && rl.Datatype != nil && !isKnownDatatype(ll.Datatype.IRI) && !isKnownDatatype(rl.Datatype.IRI) {
		return false, fmt.Errorf("cannot compare literals of datatypes %s and %s", ll.Datatype.IRI, rl.Datatype.IRI)
	}
	return false, nil
}

// compareValues implements < <= > >=
func compareValues(left, right rdf.Term) (int, error) {
	ll, lok := left.(*rdf.Literal)
	rl, rok := right.(*rdf.Literal)
	if !lok || !rok {
		return 0, fmt.Errorf("cannot order %s and %s", left.Type(), right.Type())
	}
	cmp, comparable, err := compareLiterals(ll, rl)
	if err != nil {
		return 0, err
	}
	if !comparable {
		return 0, fmt.Errorf("cannot order literals %s and %s", left, right)
	}
	return cmp, nil
}

// compareLiterals compares two literals in a shared value space. comparable
// is false when the literals have no common ordering.
func compareLiterals(l, r *rdf.Literal) (cmp int, comparable bool, err error) {
	if ln, ok := numericValue(l); ok {
		rn, ok := numericValue(r)
		if !ok {
			return 0, false, nil
		}
		if ln.kind == numInteger && rn.kind == numInteger {
			return compareOrdered(ln.i, rn.i), true, nil
		}
		a, b := ln.float(), rn.float()
		if math.IsNaN(a) || math.IsNaN(b) {
			return 0, true, fmt.Errorf("NaN is not comparable")
		}
		return compareOrdered(a, b), true, nil
	}

	ldt, rdt := l.EffectiveDatatype().IRI, r.EffectiveDatatype().IRI
	switch {
	case ldt == rdf.XSDString.IRI && rdt == rdf.XSDString.IRI:
		return strings.Compare(l.Value, r.Value), true, nil
	case ldt == rdf.RDFLangString.IRI && rdt == rdf.RDFLangString.IRI && strings.EqualFold(l.Language, r.Language):
		return strings.Compare(l.Value, r.Value), true, nil
	case ldt == rdf.XSDBoolean.IRI && rdt == rdf.XSDBoolean.IRI:
		lb, lerr := strconv.ParseBool(l.Value)
		rb, rerr := strconv.ParseBool(r.Value)
		if lerr != nil || rerr != nil {
			return 0, false, nil
		}
		return compareOrdered(boolRank(lb), boolRank(rb)), true, nil
	case ldt == rdf.XSDDateTime.IRI && rdt == rdf.XSDDateTime.IRI,
		ldt == rdf.XSDDate.IRI && rdt == rdf.XSDDate.IRI:
		lt, _, lerr := parseDateTime(l.Value)
		rt, _, rerr := parseDateTime(r.Value)
		if lerr != nil || rerr != nil {
			return 0, false, nil
		}
		return lt.Compare(rt), true, nil
	}
	return 0, false, nil
}

func isKnownDatatype(iri string) bool {
	switch iri {
	case rdf.XSDString.IRI, rdf.XSDBoolean.IRI, rdf.XSDDateTime.IRI, rdf.XSDDate.IRI, rdf.RDFLangString.IRI:
		return true
	}
	return isNumericDatatype(iri)
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func compareOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02Z07:00",
	"2006-01-02",
}

// parseDateTime parses an xsd:dateTime or xsd:date lexical form. hasZone
// reports whether the value carried a timezone.
func parseDateTime(value string) (t time.Time, hasZone bool, err error) {
	for i, layout := range dateTimeLayouts {
		t, err = time.Parse(layout, value)
		if err == nil {
			return t, i == 0 || i == 2, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid dateTime %q", value)
}

// OrderCompare is the total order ORDER BY uses: unbound, blank nodes,
// IRIs, then literals; comparable literals by value and the rest lexically
func OrderCompare(a, b rdf.Term) int {
	ra, rb := orderRank(a), orderRank(b)
	if ra != rb {
		return compareOrdered(ra, rb)
	}
	switch av := a.(type) {
	case nil:
		return 0
	case *rdf.BlankNode:
		return strings.Compare(av.ID, b.(*rdf.BlankNode).ID)
	case *rdf.NamedNode:
		return strings.Compare(av.IRI, b.(*rdf.NamedNode).IRI)
	case *rdf.Literal:
		bv := b.(*rdf.Literal)
		if cmp, ok, err := compareLiterals(av, bv); ok && err == nil && cmp != 0 {
			return cmp
		}
		if c := strings.Compare(av.Value, bv.Value); c != 0 {
			return c
		}
		return strings.Compare(av.String(), bv.String())
	}
	return strings.Compare(a.String(), b.String())
}

func orderRank(t rdf.Term) int {
	switch t.(type) {
	case nil:
		return 0
	case *rdf.BlankNode:
		return 1
	case *rdf.NamedNode:
		return 2
	case *rdf.Literal:
		return 3
	}
	return 4
}

// Add sums two numeric terms with type promotion; aggregates use it
func Add(left, right rdf.Term) (rdf.Term, error) {
	return arithmetic(parser.OpAdd, left, right)
}

// Divide divides two numeric terms with type promotion
func Divide(left, right rdf.Term) (rdf.Term, error) {
	return arithmetic(parser.OpDivide, left, right)
}
