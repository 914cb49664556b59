package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

func parseExpr(t *testing.T, src string) parser.Expression {
	t.Helper()
	q, err := parser.NewParser("PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>\nSELECT * WHERE { FILTER(" + src + ") }").Parse()
	require.NoError(t, err)
	require.Len(t, q.Select.Where.Elements, 1)
	require.NotNil(t, q.Select.Where.Elements[0].Filter)
	return q.Select.Where.Elements[0].Filter.Expression
}

func eval(t *testing.T, src string, binding *store.Binding) (rdf.Term, error) {
	t.Helper()
	if binding == nil {
		binding = store.NewBinding()
	}
	return NewEvaluator().Evaluate(parseExpr(t, src), binding)
}

func TestEvaluate_Values(t *testing.T) {
	tests := []struct {
		expr string
		want rdf.Term
	}{
		{`1 + 2`, rdf.NewIntegerLiteral(3)},
		{`7 - 10`, rdf.NewIntegerLiteral(-3)},
		{`3 * 4`, rdf.NewIntegerLiteral(12)},
		{`1 / 2`, rdf.NewDecimalLiteral(0.5)},
		{`1.5 + 1`, rdf.NewDecimalLiteral(2.5)},
		{`-(2)`, rdf.NewIntegerLiteral(-2)},
		{`1 < 2`, rdf.NewBooleanLiteral(true)},
		{`1 = 1.0`, rdf.NewBooleanLiteral(true)},
		{`"a" < "b"`, rdf.NewBooleanLiteral(true)},
		{`"a" != "a"`, rdf.NewBooleanLiteral(false)},
		{`<http://a> = <http://a>`, rdf.NewBooleanLiteral(true)},
		{`true && false`, rdf.NewBooleanLiteral(false)},
		{`!false`, rdf.NewBooleanLiteral(true)},
		{`STRLEN("héllo")`, rdf.NewIntegerLiteral(5)},
		{`UCASE("abc"@en)`, rdf.NewLiteralWithLanguage("ABC", "en")},
		{`CONCAT("a", "b", "c")`, rdf.NewLiteral("abc")},
		{`CONCAT("a"@en, "b"@en)`, rdf.NewLiteralWithLanguage("ab", "en")},
		{`CONCAT("a"@en, "b")`, rdf.NewLiteral("ab")},
		{`SUBSTR("foobar", 4)`, rdf.NewLiteral("bar")},
		{`SUBSTR("foobar", 2, 3)`, rdf.NewLiteral("oob")},
		{`STRBEFORE("abc", "b")`, rdf.NewLiteral("a")},
		{`STRAFTER("abc", "b")`, rdf.NewLiteral("c")},
		{`STRAFTER("abc", "z")`, rdf.NewLiteral("")},
		{`CONTAINS("alice", "lic")`, rdf.NewBooleanLiteral(true)},
		{`STRSTARTS("alice", "al")`, rdf.NewBooleanLiteral(true)},
		{`REGEX("Alice", "^al", "i")`, rdf.NewBooleanLiteral(true)},
		{`REPLACE("abcd", "b(c)", "[$1]")`, rdf.NewLiteral("a[c]d")},
		{`ENCODE_FOR_URI("a b/c")`, rdf.NewLiteral("a%20b%2Fc")},
		{`LANG("x"@EN)`, rdf.NewLiteral("en")},
		{`DATATYPE(1)`, rdf.XSDInteger},
		{`DATATYPE("x")`, rdf.XSDString},
		{`STR(<http://a>)`, rdf.NewLiteral("http://a")},
		{`IRI("http://a")`, rdf.NewNamedNode("http://a")},
		{`STRDT("5", xsd:integer)`, rdf.NewIntegerLiteral(5)},
		{`STRLANG("chat", "fr")`, rdf.NewLiteralWithLanguage("chat", "fr")},
		{`LANGMATCHES("de-DE", "de")`, rdf.NewBooleanLiteral(true)},
		{`LANGMATCHES("deu", "de")`, rdf.NewBooleanLiteral(false)},
		{`ABS(-3)`, rdf.NewIntegerLiteral(3)},
		{`ROUND(2.5)`, rdf.NewDecimalLiteral(3)},
		{`CEIL(1.2)`, rdf.NewDecimalLiteral(2)},
		{`IF(1 > 2, "yes", "no")`, rdf.NewLiteral("no")},
		{`COALESCE(?missing, "fallback")`, rdf.NewLiteral("fallback")},
		{`2 IN (1, 2, 3)`, rdf.NewBooleanLiteral(true)},
		{`2 NOT IN (1, 3)`, rdf.NewBooleanLiteral(true)},
		{`xsd:integer("42")`, rdf.NewIntegerLiteral(42)},
		{`xsd:string(42)`, rdf.NewLiteral("42")},
		{`xsd:boolean("1")`, rdf.NewBooleanLiteral(true)},
		{`YEAR("2024-03-01T10:00:00Z"^^xsd:dateTime)`, rdf.NewIntegerLiteral(2024)},
		{`TZ("2024-03-01T10:00:00Z"^^xsd:dateTime)`, rdf.NewLiteral("Z")},
		{`TIMEZONE("2024-03-01T10:00:00-05:00"^^xsd:dateTime)`,
			rdf.NewLiteralWithDatatype("-PT5H", rdf.NewNamedNode(rdf.XSDNamespace+"dayTimeDuration"))},
		{`MD5("abc")`, rdf.NewLiteral("900150983cd24fb0d6963f7d28e17f72")},
		{`SHA1("abc")`, rdf.NewLiteral("a9993e364706816aba3e25717850c26c9cd0d89d")},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eval(t, tt.expr, nil)
			require.NoError(t, err)
			assert.True(t, tt.want.Equals(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, src := range []string{
		`?unbound`,
		`"a" + 1`,
		`1 / 0`,
		`STRLEN(<http://a>)`,
		`LANG(<http://a>)`,
		`<http://a> < <http://b>`,
		`xsd:integer("abc")`,
		`STRBEFORE("abc"@en, "b"@fr)`,
	} {
		t.Run(src, func(t *testing.T) {
			_, err := eval(t, src, nil)
			assert.Error(t, err)
		})
	}
}

func TestEvaluate_UnboundIsErrUnbound(t *testing.T) {
	_, err := eval(t, `?x`, nil)
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestEvaluate_LogicMasksErrors(t *testing.T) {
	got, err := eval(t, `?missing || true`, nil)
	require.NoError(t, err)
	assert.True(t, rdf.NewBooleanLiteral(true).Equals(got))

	got, err = eval(t, `?missing && false`, nil)
	require.NoError(t, err)
	assert.True(t, rdf.NewBooleanLiteral(false).Equals(got))

	_, err = eval(t, `?missing && true`, nil)
	assert.Error(t, err)
}

func TestEvaluate_Bound(t *testing.T) {
	b := store.NewBinding()
	b.Vars["x"] = rdf.NewLiteral("v")

	got, err := eval(t, `BOUND(?x)`, b)
	require.NoError(t, err)
	assert.True(t, rdf.NewBooleanLiteral(true).Equals(got))

	got, err = eval(t, `BOUND(?y)`, b)
	require.NoError(t, err)
	assert.True(t, rdf.NewBooleanLiteral(false).Equals(got))
}

func TestEvaluate_BNodeScopedToSolution(t *testing.T) {
	e := NewEvaluator()
	expr := parseExpr(t, `BNODE("x")`)

	first := store.NewBinding()
	second := store.NewBinding()

	a1, err := e.Evaluate(expr, first)
	require.NoError(t, err)
	a2, err := e.Evaluate(expr, first)
	require.NoError(t, err)
	b1, err := e.Evaluate(expr, second)
	require.NoError(t, err)

	assert.True(t, a1.Equals(a2))
	assert.False(t, a1.Equals(b1))
}

func TestEvaluate_Exists(t *testing.T) {
	e := NewEvaluator()
	var seen *parser.GraphPattern
	e.Exists = func(pattern *parser.GraphPattern, binding *store.Binding) (bool, error) {
		seen = pattern
		return true, nil
	}

	got, err := e.Evaluate(parseExpr(t, `NOT EXISTS { ?s ?p ?o }`), store.NewBinding())
	require.NoError(t, err)
	assert.NotNil(t, seen)
	assert.True(t, rdf.NewBooleanLiteral(false).Equals(got))

	_, err = NewEvaluator().Evaluate(parseExpr(t, `EXISTS { ?s ?p ?o }`), store.NewBinding())
	assert.Error(t, err)
}

func TestEffectiveBooleanValue(t *testing.T) {
	tests := []struct {
		term    rdf.Term
		want    bool
		wantErr bool
	}{
		{rdf.NewLiteral(""), false, false},
		{rdf.NewLiteral("x"), true, false},
		{rdf.NewIntegerLiteral(0), false, false},
		{rdf.NewIntegerLiteral(7), true, false},
		{rdf.NewBooleanLiteral(true), true, false},
		{rdf.NewLiteralWithDatatype("abc", rdf.XSDInteger), false, false},
		{rdf.NewNamedNode("http://a"), false, true},
		{rdf.NewLiteralWithDatatype("x", rdf.NewNamedNode("http://example.org/dt")), false, true},
	}
	for _, tt := range tests {
		got, err := NewEvaluator().EffectiveBooleanValue(tt.term)
		if tt.wantErr {
			assert.Error(t, err, tt.term.String())
			continue
		}
		require.NoError(t, err, tt.term.String())
		assert.Equal(t, tt.want, got, tt.term.String())
	}
}

func TestOrderCompare(t *testing.T) {
	blank := rdf.NewBlankNode("b")
	iri := rdf.NewNamedNode("http://a")
	two := rdf.NewIntegerLiteral(2)
	ten := rdf.NewIntegerLiteral(10)

	assert.Negative(t, OrderCompare(nil, blank))
	assert.Negative(t, OrderCompare(blank, iri))
	assert.Negative(t, OrderCompare(iri, two))
	assert.Negative(t, OrderCompare(two, ten))
	assert.Positive(t, OrderCompare(ten, two))
	assert.Zero(t, OrderCompare(two, rdf.NewIntegerLiteral(2)))
}
