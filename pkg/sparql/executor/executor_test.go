package executor

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

const prologue = `
PREFIX ex: <http://example.org/>
PREFIX foaf: <http://xmlns.com/foaf/0.1/>
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
`

func ex(local string) *rdf.NamedNode {
	return rdf.NewNamedNode("http://example.org/" + local)
}

func foaf(local string) *rdf.NamedNode {
	return rdf.NewNamedNode("http://xmlns.com/foaf/0.1/" + local)
}

// people is a small social graph: three people in the default graph, two
// named graphs with extra facts
func people() *store.MemoryStore {
	return store.NewMemoryStore(
		rdf.NewQuad(ex("alice"), rdf.RDFType, foaf("Person"), nil),
		rdf.NewQuad(ex("alice"), foaf("name"), rdf.NewLiteral("Alice"), nil),
		rdf.NewQuad(ex("alice"), foaf("age"), rdf.NewIntegerLiteral(30), nil),
		rdf.NewQuad(ex("alice"), foaf("knows"), ex("bob"), nil),
		rdf.NewQuad(ex("alice"), foaf("knows"), ex("carol"), nil),

		rdf.NewQuad(ex("bob"), rdf.RDFType, foaf("Person"), nil),
		rdf.NewQuad(ex("bob"), foaf("name"), rdf.NewLiteral("Bob"), nil),
		rdf.NewQuad(ex("bob"), foaf("age"), rdf.NewIntegerLiteral(25), nil),
		rdf.NewQuad(ex("bob"), foaf("knows"), ex("carol"), nil),

		rdf.NewQuad(ex("carol"), rdf.RDFType, foaf("Person"), nil),
		rdf.NewQuad(ex("carol"), foaf("name"), rdf.NewLiteralWithLanguage("Carol", "en"), nil),

		rdf.NewQuad(ex("alice"), foaf("nick"), rdf.NewLiteral("Ali"), ex("g1")),
		rdf.NewQuad(ex("bob"), foaf("nick"), rdf.NewLiteral("Bobby"), ex("g2")),
	)
}

func query(t *testing.T, s store.QuadStore, q string) QueryResult {
	t.Helper()
	parsed, err := parser.NewParser(prologue + q).Parse()
	require.NoError(t, err)
	optimized, err := optimizer.NewOptimizer().Optimize(parsed)
	require.NoError(t, err)
	result, err := NewExecutor(s).Execute(context.Background(), optimized)
	require.NoError(t, err)
	return result
}

func update(t *testing.T, s store.QuadStore, u string) error {
	t.Helper()
	parsed, err := parser.NewParser(prologue + u).ParseUpdate()
	require.NoError(t, err)
	return NewExecutor(s).ExecuteUpdate(context.Background(), parsed)
}

func selectRows(t *testing.T, s store.QuadStore, q string) *SelectResult {
	t.Helper()
	result := query(t, s, q)
	sel, ok := result.(*SelectResult)
	require.True(t, ok, "expected SelectResult, got %T", result)
	return sel
}

// column returns the string form of one variable across all rows, sorted
func column(rows []*store.Binding, name string) []string {
	var out []string
	for _, row := range rows {
		if v, ok := row.Get(name); ok {
			switch t := v.(type) {
			case *rdf.NamedNode:
				out = append(out, t.IRI)
			case *rdf.Literal:
				out = append(out, t.Value)
			default:
				out = append(out, v.String())
			}
		} else {
			out = append(out, "")
		}
	}
	sort.Strings(out)
	return out
}

func TestSelect_BasicGraphPattern(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?name WHERE {
			?p a foaf:Person ; foaf:name ?name ; foaf:age ?age .
		}`)

	assert.Equal(t, []string{"name"}, sel.Variables)
	assert.Equal(t, []string{"Alice", "Bob"}, column(sel.Bindings, "name"))
	for _, row := range sel.Bindings {
		_, hasAge := row.Get("age")
		assert.False(t, hasAge, "projection drops ?age")
	}
}

func TestSelect_StarHidesBlankNodeVariables(t *testing.T) {
	sel := selectRows(t, people(), `SELECT * WHERE { ?p foaf:knows [ foaf:name ?n ] }`)

	assert.ElementsMatch(t, []string{"p", "n"}, sel.Variables)
	require.Len(t, sel.Bindings, 3)
	for _, row := range sel.Bindings {
		assert.Len(t, row.Vars, 2)
	}
}

func TestSelect_DefaultGraphExcludesNamedGraphs(t *testing.T) {
	sel := selectRows(t, people(), `SELECT ?n WHERE { ?p foaf:nick ?n }`)
	assert.Empty(t, sel.Bindings)

	sel = selectRows(t, people(), `SELECT ?g ?n WHERE { GRAPH ?g { ?p foaf:nick ?n } }`)
	assert.Equal(t, []string{"Ali", "Bobby"}, column(sel.Bindings, "n"))
	assert.Equal(t, []string{"http://example.org/g1", "http://example.org/g2"}, column(sel.Bindings, "g"))

	sel = selectRows(t, people(), `SELECT ?n WHERE { GRAPH ex:g2 { ?p foaf:nick ?n } }`)
	assert.Equal(t, []string{"Bobby"}, column(sel.Bindings, "n"))
}

func TestSelect_FromMergesGraphsIntoDefault(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?n FROM ex:g1 FROM ex:g2 WHERE { ?p foaf:nick ?n }`)
	assert.Equal(t, []string{"Ali", "Bobby"}, column(sel.Bindings, "n"))

	sel = selectRows(t, people(), `
		SELECT ?g FROM NAMED ex:g1 WHERE { GRAPH ?g { ?s ?p ?o } }`)
	assert.Equal(t, []string{"http://example.org/g1"}, column(sel.Bindings, "g"))
}

func TestSelect_Optional(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?name ?age WHERE {
			?p foaf:name ?name .
			OPTIONAL { ?p foaf:age ?age FILTER(?age > 26) }
		}`)

	require.Len(t, sel.Bindings, 3)
	ages := map[string]string{}
	for _, row := range sel.Bindings {
		name, _ := row.Get("name")
		if age, ok := row.Get("age"); ok {
			ages[name.(*rdf.Literal).Value] = age.(*rdf.Literal).Value
		} else {
			ages[name.(*rdf.Literal).Value] = ""
		}
	}
	assert.Equal(t, map[string]string{"Alice": "30", "Bob": "", "Carol": ""}, ages)
}

func TestSelect_UnionAndMinus(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?x WHERE {
			{ ex:alice foaf:knows ?x } UNION { ?x foaf:age 25 }
		}`)
	assert.Equal(t, []string{"http://example.org/bob", "http://example.org/bob", "http://example.org/carol"}, column(sel.Bindings, "x"))

	sel = selectRows(t, people(), `
		SELECT ?p WHERE {
			?p a foaf:Person .
			MINUS { ?p foaf:knows ex:carol }
		}`)
	assert.Equal(t, []string{"http://example.org/carol"}, column(sel.Bindings, "p"))
}

func TestSelect_MinusWithoutSharedVariablesRemovesNothing(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?p WHERE { ?p a foaf:Person MINUS { ?x foaf:nick ?n } }`)
	assert.Len(t, sel.Bindings, 3)
}

func TestSelect_FilterFunctions(t *testing.T) {
	tests := []struct {
		filter string
		want   []string
	}{
		{`regex(?name, "^a", "i")`, []string{"Alice"}},
		{`lang(?name) = "en"`, []string{"Carol"}},
		{`STRLEN(?name) = 3`, []string{"Bob"}},
		{`?name IN ("Bob", "Carol"@en)`, []string{"Bob", "Carol"}},
		{`!isLiteral(?name)`, nil},
		{`CONTAINS(LCASE(STR(?name)), "o")`, []string{"Bob", "Carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			sel := selectRows(t, people(), `SELECT ?name WHERE { ?p foaf:name ?name FILTER(`+tt.filter+`) }`)
			assert.Equal(t, tt.want, column(sel.Bindings, "name"))
		})
	}
}

func TestSelect_Exists(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?p WHERE {
			?p a foaf:Person
			FILTER NOT EXISTS { ?p foaf:knows ?someone }
		}`)
	assert.Equal(t, []string{"http://example.org/carol"}, column(sel.Bindings, "p"))

	sel = selectRows(t, people(), `
		SELECT ?p WHERE {
			?p a foaf:Person
			FILTER EXISTS { GRAPH ?g { ?p foaf:nick ?n } }
		}`)
	assert.Equal(t, []string{"http://example.org/alice", "http://example.org/bob"}, column(sel.Bindings, "p"))
}

func TestSelect_BindAndValues(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?p ?next WHERE {
			VALUES ?p { ex:alice ex:bob ex:nobody }
			?p foaf:age ?age .
			BIND(?age + 1 AS ?next)
		}`)
	assert.Equal(t, []string{"26", "31"}, column(sel.Bindings, "next"))

	sel = selectRows(t, people(), `
		SELECT ?x ?y WHERE { VALUES (?x ?y) { (1 UNDEF) (2 3) } }`)
	require.Len(t, sel.Bindings, 2)
	assert.Equal(t, []string{"", "3"}, column(sel.Bindings, "y"))
}

func TestSelect_BindErrorLeavesUnbound(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?name ?n WHERE { ?p foaf:name ?name BIND(?name + 1 AS ?n) }`)
	require.Len(t, sel.Bindings, 3)
	assert.Equal(t, []string{"", "", ""}, column(sel.Bindings, "n"))
}

func TestSelect_Aggregates(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?p (COUNT(?f) AS ?friends) WHERE { ?p foaf:knows ?f }
		GROUP BY ?p
		HAVING (COUNT(?f) > 1)`)
	require.Len(t, sel.Bindings, 1)
	p, _ := sel.Bindings[0].Get("p")
	n, _ := sel.Bindings[0].Get("friends")
	assert.True(t, p.Equals(ex("alice")))
	assert.True(t, n.Equals(rdf.NewIntegerLiteral(2)))

	sel = selectRows(t, people(), `
		SELECT (SUM(?a) AS ?sum) (AVG(?a) AS ?avg) (MIN(?a) AS ?min) (MAX(?a) AS ?max)
		       (GROUP_CONCAT(?n; SEPARATOR=",") AS ?names)
		WHERE { ?p foaf:age ?a ; foaf:name ?n }`)
	require.Len(t, sel.Bindings, 1)
	row := sel.Bindings[0]
	sum, _ := row.Get("sum")
	avg, _ := row.Get("avg")
	minimum, _ := row.Get("min")
	maximum, _ := row.Get("max")
	names, _ := row.Get("names")
	assert.True(t, sum.Equals(rdf.NewIntegerLiteral(55)))
	assert.Equal(t, "27.5", avg.(*rdf.Literal).Value)
	assert.True(t, minimum.Equals(rdf.NewIntegerLiteral(25)))
	assert.True(t, maximum.Equals(rdf.NewIntegerLiteral(30)))
	assert.Contains(t, []string{"Alice,Bob", "Bob,Alice"}, names.(*rdf.Literal).Value)
}

func TestSelect_CountOverNoRows(t *testing.T) {
	sel := selectRows(t, people(), `SELECT (COUNT(*) AS ?n) WHERE { ?s ex:missing ?o }`)
	require.Len(t, sel.Bindings, 1)
	n, _ := sel.Bindings[0].Get("n")
	assert.True(t, n.Equals(rdf.NewIntegerLiteral(0)))
}

func TestSelect_OrderLimitOffsetDistinct(t *testing.T) {
	sel := selectRows(t, people(), `
		SELECT ?name WHERE { ?p foaf:name ?name } ORDER BY DESC(STR(?name)) LIMIT 2`)
	require.Len(t, sel.Bindings, 2)
	first, _ := sel.Bindings[0].Get("name")
	second, _ := sel.Bindings[1].Get("name")
	assert.Equal(t, "Carol", first.(*rdf.Literal).Value)
	assert.Equal(t, "Bob", second.(*rdf.Literal).Value)

	sel = selectRows(t, people(), `
		SELECT ?name WHERE { ?p foaf:name ?name } ORDER BY ?name OFFSET 1`)
	assert.Len(t, sel.Bindings, 2)

	sel = selectRows(t, people(), `SELECT DISTINCT ?type WHERE { ?s a ?type }`)
	assert.Len(t, sel.Bindings, 1)
}

func TestAsk(t *testing.T) {
	assert.Equal(t, &AskResult{Result: true}, query(t, people(), `ASK { ex:alice foaf:knows ex:bob }`))
	assert.Equal(t, &AskResult{Result: false}, query(t, people(), `ASK { ex:bob foaf:knows ex:alice }`))
}

func TestConstruct_FreshBlankNodesPerSolution(t *testing.T) {
	result := query(t, people(), `
		CONSTRUCT { ?p ex:card _:c . _:c ex:label ?name }
		WHERE { ?p a foaf:Person ; foaf:name ?name }`)

	construct, ok := result.(*ConstructResult)
	require.True(t, ok)
	require.Len(t, construct.Quads, 6)

	cards := map[string]bool{}
	for _, q := range construct.Quads {
		if q.Predicate.Equals(ex("card")) {
			b, ok := q.Object.(*rdf.BlankNode)
			require.True(t, ok)
			cards[b.ID] = true
		}
	}
	assert.Len(t, cards, 3)
}

func TestDescribe_FollowsBlankNodes(t *testing.T) {
	s := people()
	addr := rdf.NewBlankNode("addr")
	s.Add(rdf.NewQuad(ex("carol"), ex("address"), addr, nil))
	s.Add(rdf.NewQuad(addr, ex("city"), rdf.NewLiteral("Belgrade"), nil))

	result := query(t, s, `DESCRIBE ex:carol`)
	construct, ok := result.(*ConstructResult)
	require.True(t, ok)
	assert.Len(t, construct.Quads, 4)
}

func TestExecute_CancelledContext(t *testing.T) {
	parsed, err := parser.NewParser(prologue + `SELECT * WHERE { ?s ?p ?o }`).Parse()
	require.NoError(t, err)
	optimized, err := optimizer.NewOptimizer().Optimize(parsed)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewExecutor(people()).Execute(ctx, optimized)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdate_InsertDeleteData(t *testing.T) {
	s := store.NewMemoryStore()

	require.NoError(t, update(t, s, `
		INSERT DATA {
			ex:alice foaf:name "Alice" .
			GRAPH ex:g { ex:alice foaf:nick "Ali" }
		}`))
	assert.Equal(t, 2, s.Size())
	assert.True(t, s.Has(rdf.NewQuad(ex("alice"), foaf("nick"), rdf.NewLiteral("Ali"), ex("g"))))

	require.NoError(t, update(t, s, `DELETE DATA { GRAPH ex:g { ex:alice foaf:nick "Ali" } }`))
	assert.Equal(t, 1, s.Size())
}

func TestUpdate_InsertDataBlankNodesAreFresh(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, update(t, s, `INSERT DATA { _:x ex:p 1 }`))
	require.NoError(t, update(t, s, `INSERT DATA { _:x ex:p 1 }`))
	assert.Equal(t, 2, s.Size())
}

func TestUpdate_Modify(t *testing.T) {
	s := people()
	require.NoError(t, update(t, s, `
		DELETE { ?p foaf:age ?age }
		INSERT { ?p foaf:age ?next }
		WHERE { ?p foaf:age ?age BIND(?age + 1 AS ?next) }`))

	assert.True(t, s.Has(rdf.NewQuad(ex("alice"), foaf("age"), rdf.NewIntegerLiteral(31), nil)))
	assert.True(t, s.Has(rdf.NewQuad(ex("bob"), foaf("age"), rdf.NewIntegerLiteral(26), nil)))
	assert.Len(t, s.Match(nil, foaf("age"), nil, nil), 2)
}

func TestUpdate_DeleteWhere(t *testing.T) {
	s := people()
	require.NoError(t, update(t, s, `DELETE WHERE { ?p foaf:knows ex:carol }`))
	assert.Empty(t, s.Match(nil, foaf("knows"), ex("carol"), nil))
	assert.Len(t, s.Match(nil, foaf("knows"), nil, nil), 1)
}

func TestUpdate_WithScopesTemplateAndPattern(t *testing.T) {
	s := people()
	require.NoError(t, update(t, s, `
		WITH ex:g1
		DELETE { ?p foaf:nick ?n }
		INSERT { ?p foaf:nick "Al" }
		WHERE { ?p foaf:nick ?n }`))

	assert.True(t, s.Has(rdf.NewQuad(ex("alice"), foaf("nick"), rdf.NewLiteral("Al"), ex("g1"))))
	assert.False(t, s.Has(rdf.NewQuad(ex("alice"), foaf("nick"), rdf.NewLiteral("Ali"), ex("g1"))))
	assert.True(t, s.Has(rdf.NewQuad(ex("bob"), foaf("nick"), rdf.NewLiteral("Bobby"), ex("g2"))))
}

func TestUpdate_GraphManagement(t *testing.T) {
	s := people()

	err := update(t, s, `CLEAR GRAPH ex:missing`)
	assert.Error(t, err)
	assert.NoError(t, update(t, s, `CLEAR SILENT GRAPH ex:missing`))

	assert.Error(t, update(t, s, `CREATE GRAPH ex:g1`))
	assert.NoError(t, update(t, s, `CREATE SILENT GRAPH ex:g1`))

	require.NoError(t, update(t, s, `COPY ex:g1 TO ex:g3`))
	assert.Len(t, s.Match(nil, nil, nil, ex("g3")), 1)
	assert.Len(t, s.Match(nil, nil, nil, ex("g1")), 1)

	require.NoError(t, update(t, s, `MOVE ex:g2 TO ex:g3`))
	assert.Empty(t, s.Match(nil, nil, nil, ex("g2")))
	assert.Len(t, s.Match(nil, nil, nil, ex("g3")), 1, "MOVE replaces the destination")

	require.NoError(t, update(t, s, `ADD ex:g1 TO ex:g3`))
	assert.Len(t, s.Match(nil, nil, nil, ex("g3")), 2)

	require.NoError(t, update(t, s, `DROP NAMED`))
	assert.Equal(t, 11, s.Size())

	require.NoError(t, update(t, s, `CLEAR ALL`))
	assert.Equal(t, 0, s.Size())
}

func TestUpdate_LoadIsUnsupported(t *testing.T) {
	s := people()
	err := update(t, s, `LOAD <http://example.org/data.ttl>`)
	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "LOAD", unsupported.Operation)

	assert.NoError(t, update(t, s, `LOAD SILENT <http://example.org/data.ttl>`))
}

func TestUpdate_SequenceStopsAtFirstFailure(t *testing.T) {
	s := store.NewMemoryStore()
	err := update(t, s, `
		INSERT DATA { ex:a ex:p 1 } ;
		CLEAR GRAPH ex:missing ;
		INSERT DATA { ex:b ex:p 2 }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation 2")
	assert.Equal(t, 1, s.Size(), "the executor applies operations in place; callers stage the store")
}
