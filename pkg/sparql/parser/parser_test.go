package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

func parseQuery(t *testing.T, input string) *Query {
	t.Helper()
	q, err := NewParser(input).Parse()
	require.NoError(t, err)
	return q
}

func TestParse_SelectWithPrefixes(t *testing.T) {
	q := parseQuery(t, `
		PREFIX foaf: <http://xmlns.com/foaf/0.1/>
		SELECT DISTINCT ?name (STRLEN(?name) AS ?len)
		WHERE {
			?p a foaf:Person ;
			   foaf:name ?name , ?alias .
			FILTER(?name != "Bob")
		}
		ORDER BY DESC(?len) ?name
		LIMIT 10 OFFSET 2`)

	require.Equal(t, QueryTypeSelect, q.QueryType)
	sel := q.Select
	assert.True(t, sel.Distinct)
	require.Len(t, sel.Projections, 2)
	assert.Equal(t, "name", sel.Projections[0].Variable.Name)
	assert.IsType(t, &FunctionCallExpression{}, sel.Projections[1].Expression)

	var triples []*TriplePattern
	var filters int
	for _, el := range sel.Where.Elements {
		if el.Triple != nil {
			triples = append(triples, el.Triple)
		}
		if el.Filter != nil {
			filters++
		}
	}
	require.Len(t, triples, 3)
	assert.Equal(t, rdf.RDFType, triples[0].Predicate.Term)
	assert.Equal(t, "http://xmlns.com/foaf/0.1/name", triples[1].Predicate.Term.(*rdf.NamedNode).IRI)
	assert.Equal(t, "alias", triples[2].Object.Variable.Name)
	assert.Equal(t, 1, filters)

	require.Len(t, sel.OrderBy, 2)
	assert.False(t, sel.OrderBy[0].Ascending)
	assert.True(t, sel.OrderBy[1].Ascending)
	assert.Equal(t, 10, *sel.Limit)
	assert.Equal(t, 2, *sel.Offset)
}

func TestParse_Literals(t *testing.T) {
	q := parseQuery(t, `PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
		SELECT * { ?s ?p "chat"@FR, 'x\ty', """multi
line""", "5"^^xsd:integer, 42, -1.5, 1e3, true }`)

	var objects []rdf.Term
	for _, el := range q.Select.Where.Elements {
		objects = append(objects, el.Triple.Object.Term)
	}
	require.Len(t, objects, 8)
	assert.True(t, objects[0].Equals(rdf.NewLiteralWithLanguage("chat", "fr")))
	assert.True(t, objects[1].Equals(rdf.NewLiteral("x\ty")))
	assert.True(t, objects[2].Equals(rdf.NewLiteral("multi\nline")))
	assert.True(t, objects[3].Equals(rdf.NewLiteralWithDatatype("5", rdf.XSDInteger)))
	assert.True(t, objects[4].Equals(rdf.NewLiteralWithDatatype("42", rdf.XSDInteger)))
	assert.True(t, objects[5].Equals(rdf.NewLiteralWithDatatype("-1.5", rdf.XSDDecimal)))
	assert.True(t, objects[6].Equals(rdf.NewLiteralWithDatatype("1e3", rdf.XSDDouble)))
	assert.True(t, objects[7].Equals(rdf.NewBooleanLiteral(true)))
}

func TestParse_BlankNodesInPatternsAreHiddenVariables(t *testing.T) {
	q := parseQuery(t, `SELECT * WHERE { _:a <http://ex/p> [ <http://ex/q> ?o ] }`)

	els := q.Select.Where.Elements
	require.Len(t, els, 2)
	// the nested list comes first, its subject links to the outer object
	assert.Equal(t, BlankVariablePrefix+".anon1", els[0].Triple.Subject.Variable.Name)
	assert.Equal(t, BlankVariablePrefix+"a", els[1].Triple.Subject.Variable.Name)
	assert.Equal(t, els[0].Triple.Subject.Variable.Name, els[1].Triple.Object.Variable.Name)
}

func TestParse_GroupPatterns(t *testing.T) {
	q := parseQuery(t, `SELECT ?s WHERE {
		{ ?s <http://ex/a> ?o } UNION { ?s <http://ex/b> ?o } UNION { ?s <http://ex/c> ?o }
		OPTIONAL { ?s <http://ex/name> ?n }
		MINUS { ?s <http://ex/hidden> true }
		GRAPH ?g { ?s ?p ?x }
		BIND(CONCAT(?n, "!") AS ?shout)
		VALUES ?s { <http://ex/s1> UNDEF }
		FILTER NOT EXISTS { ?s <http://ex/deleted> ?d }
	}`)

	els := q.Select.Where.Elements
	require.Len(t, els, 7)
	assert.Equal(t, GraphPatternTypeUnion, els[0].Pattern.Type)
	assert.Len(t, els[0].Pattern.Children, 3)
	assert.Equal(t, GraphPatternTypeOptional, els[1].Pattern.Type)
	assert.Equal(t, GraphPatternTypeMinus, els[2].Pattern.Type)
	assert.Equal(t, GraphPatternTypeGraph, els[3].Pattern.Type)
	assert.Equal(t, "g", els[3].Pattern.Graph.Variable.Name)
	assert.Equal(t, "shout", els[4].Bind.Variable.Name)
	require.Len(t, els[5].Values.Rows, 2)
	assert.Nil(t, els[5].Values.Rows[1][0])
	exists, ok := els[6].Filter.Expression.(*ExistsExpression)
	require.True(t, ok)
	assert.True(t, exists.Not)
}

func TestParse_Aggregates(t *testing.T) {
	q := parseQuery(t, `SELECT ?g (COUNT(DISTINCT ?s) AS ?n) (GROUP_CONCAT(?name; SEPARATOR=", ") AS ?names)
		WHERE { ?s <http://ex/group> ?g ; <http://ex/name> ?name }
		GROUP BY ?g HAVING (COUNT(*) > 1)`)

	sel := q.Select
	count := sel.Projections[1].Expression.(*AggregateExpression)
	assert.Equal(t, "COUNT", count.Function)
	assert.True(t, count.Distinct)
	concat := sel.Projections[2].Expression.(*AggregateExpression)
	assert.Equal(t, ", ", concat.Separator)
	require.Len(t, sel.GroupBy, 1)
	require.Len(t, sel.Having, 1)
	having := sel.Having[0].(*BinaryExpression)
	assert.Nil(t, having.Left.(*AggregateExpression).Argument)
}

func TestParse_ConstructDescribeAsk(t *testing.T) {
	q := parseQuery(t, `CONSTRUCT { ?s <http://ex/knows> _:x . GRAPH <http://ex/g> { ?s a <http://ex/T> } }
		FROM <http://ex/g1> FROM NAMED <http://ex/g2>
		WHERE { ?s ?p ?o }`)
	require.Len(t, q.Construct.Template, 2)
	assert.IsType(t, &rdf.BlankNode{}, q.Construct.Template[0].Object.Term)
	assert.Equal(t, "http://ex/g", q.Construct.Template[1].Graph.IRI.IRI)
	require.NotNil(t, q.Dataset)
	assert.Len(t, q.Dataset.Default, 1)
	assert.Len(t, q.Dataset.Named, 1)

	q = parseQuery(t, `CONSTRUCT WHERE { ?s ?p ?o }`)
	assert.Len(t, q.Construct.Template, 1)

	q = parseQuery(t, `PREFIX ex: <http://ex/> DESCRIBE ex:alice ?x WHERE { ?x ex:knows ex:alice }`)
	assert.Len(t, q.Describe.Resources, 2)

	q = parseQuery(t, `ASK { <http://ex/a> ?p ?o }`)
	assert.Equal(t, QueryTypeAsk, q.QueryType)
}

func TestParse_BaseResolution(t *testing.T) {
	q := parseQuery(t, `BASE <http://ex.org/data/> SELECT * { <alice> <#knows> </bob> }`)
	tp := q.Select.Where.Elements[0].Triple
	assert.Equal(t, "http://ex.org/data/alice", tp.Subject.Term.(*rdf.NamedNode).IRI)
	assert.Equal(t, "http://ex.org/data/#knows", tp.Predicate.Term.(*rdf.NamedNode).IRI)
	assert.Equal(t, "http://ex.org/bob", tp.Object.Term.(*rdf.NamedNode).IRI)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		pos   int
	}{
		{"missing brace", `SELECT * WHERE ?s ?p ?o`, 15},
		{"unknown prefix", `SELECT * { ex:a ?p ?o }`, 11},
		{"property path", `SELECT * { ?s <http://ex/p>/<http://ex/q> ?o }`, 27},
		{"inverse path", `SELECT * { ?s ^<http://ex/p> ?o }`, 14},
		{"subquery", `SELECT * { { SELECT ?s { ?s ?p ?o } } }`, 13},
		{"literal subject", `SELECT * { "x" ?p ?o }`, 14},
		{"trailing garbage", `ASK { ?s ?p ?o } nonsense`, 17},
		{"unterminated", `SELECT * { ?s ?p "open }`, 24},
		{"unknown function", `SELECT * { ?s ?p ?o FILTER(FOO(?o)) }`, 27},
		{"bad arity", `SELECT * { ?s ?p ?o FILTER(STRLEN(?o, ?s)) }`, 41},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(tt.input).Parse()
			require.Error(t, err)
			var perr *Error
			require.True(t, errors.As(err, &perr), "got %T: %v", err, err)
			assert.Equal(t, tt.pos, perr.Pos, perr.Msg)
		})
	}
}

func TestParseUpdate(t *testing.T) {
	u, err := NewParser(`
		PREFIX ex: <http://ex/>
		INSERT DATA { ex:a ex:p "1" . GRAPH ex:g { ex:a ex:p _:b } } ;
		DELETE DATA { ex:a ex:p "1" } ;
		DELETE WHERE { ?s ex:old ?o . GRAPH ex:g { ?s ?p ?x } } ;
		WITH ex:g DELETE { ?s ex:p ?o } INSERT { ?s ex:q [ ex:r ?o ] } USING ex:g WHERE { ?s ex:p ?o } ;
		CLEAR SILENT GRAPH ex:g ;
		DROP ALL ;
		CREATE GRAPH ex:new ;
		COPY DEFAULT TO ex:g ;
		MOVE GRAPH ex:g TO DEFAULT ;
		ADD ex:g TO ex:h ;
		LOAD <http://remote/doc> INTO GRAPH ex:g ;
	`).ParseUpdate()
	require.NoError(t, err)

	kinds := make([]UpdateKind, 0, len(u.Operations))
	for _, op := range u.Operations {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []UpdateKind{
		UpdateInsertData, UpdateDeleteData, UpdateDeleteWhere, UpdateModify,
		UpdateClear, UpdateDrop, UpdateCreate, UpdateCopy, UpdateMove, UpdateAdd, UpdateLoad,
	}, kinds)

	insert := u.Operations[0]
	require.Len(t, insert.Insert, 2)
	assert.Equal(t, "http://ex/g", insert.Insert[1].Graph.IRI.IRI)
	assert.IsType(t, &rdf.BlankNode{}, insert.Insert[1].Object.Term)

	deleteWhere := u.Operations[2]
	assert.Len(t, deleteWhere.Delete, 2)
	require.Len(t, deleteWhere.Where.Elements, 2)
	assert.Equal(t, GraphPatternTypeGraph, deleteWhere.Where.Elements[1].Pattern.Type)

	modify := u.Operations[3]
	assert.Equal(t, "http://ex/g", modify.With.IRI)
	assert.Len(t, modify.Delete, 1)
	assert.Len(t, modify.Insert, 2)
	assert.Len(t, modify.Using.Default, 1)

	assert.True(t, u.Operations[4].Silent)
	assert.Equal(t, GraphRefAll, u.Operations[5].Target.Kind)
	assert.Equal(t, GraphRefDefault, u.Operations[7].Target.Kind)
	assert.Equal(t, GraphRefDefault, u.Operations[8].Destination.Kind)
	assert.Equal(t, "http://remote/doc", u.Operations[10].Source.IRI)
}

func TestParseUpdate_Errors(t *testing.T) {
	for _, input := range []string{
		`INSERT DATA { ?s <http://ex/p> "x" }`,
		`DELETE DATA { _:b <http://ex/p> "x" }`,
		`DELETE { _:b <http://ex/p> ?o } WHERE { ?s ?p ?o }`,
		`INSERT { ?s ?p ?o }`,
		`CLEAR <http://ex/g>`,
		`INSERT DATA { <http://ex/a> <http://ex/p> "x" } garbage`,
		``,
	} {
		_, err := NewParser(input).ParseUpdate()
		var perr *Error
		assert.True(t, errors.As(err, &perr), "input %q: %v", input, err)
	}
}

func TestDetectForm(t *testing.T) {
	tests := []struct {
		input string
		form  Form
	}{
		{`SELECT * { ?s ?p ?o }`, FormQuery},
		{`PREFIX ex: <http://ex/> # comment
		  ask { ?s ?p ?o }`, FormQuery},
		{`BASE <http://ex/> INSERT DATA { <a> <b> <c> }`, FormUpdate},
		{`with <http://ex/g> delete { ?s ?p ?o } where { ?s ?p ?o }`, FormUpdate},
		{`DROP ALL`, FormUpdate},
	}
	for _, tt := range tests {
		form, err := DetectForm(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.form, form, tt.input)
	}

	_, err := DetectForm("SELEC *")
	assert.Error(t, err)
	_, err = DetectForm("   ")
	assert.Error(t, err)
}
