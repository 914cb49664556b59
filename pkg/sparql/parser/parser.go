package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// BlankVariablePrefix starts the names of the hidden variables that stand in
// for blank nodes in query patterns. User variables cannot start with it.
const BlankVariablePrefix = ":"

// Error is a syntax error at a byte offset of the input
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Parser parses SPARQL queries and updates
type Parser struct {
	input    string
	pos      int
	length   int
	prefixes map[string]string // Maps prefix to IRI
	baseURI  string            // Base URI for resolving relative IRIs

	// template is set while parsing CONSTRUCT and update templates, where
	// blank nodes stay blank nodes instead of becoming hidden variables
	template bool
	bnodeSeq int
}

// NewParser creates a new SPARQL parser
func NewParser(input string) *Parser {
	return &Parser{
		input:    input,
		length:   len(input),
		prefixes: make(map[string]string),
	}
}

// Form distinguishes read-only queries from updates
type Form int

const (
	FormQuery Form = iota
	FormUpdate
)

func (f Form) String() string {
	if f == FormUpdate {
		return "update"
	}
	return "query"
}

// DetectForm looks past the prologue at the first keyword of input
func DetectForm(input string) (Form, error) {
	p := NewParser(input)
	if err := p.parsePrologue(); err != nil {
		return 0, err
	}
	for _, kw := range []string{"SELECT", "CONSTRUCT", "ASK", "DESCRIBE"} {
		if p.lookingAtKeyword(kw) {
			return FormQuery, nil
		}
	}
	for _, kw := range []string{"INSERT", "DELETE", "WITH", "LOAD", "CLEAR", "DROP", "CREATE", "ADD", "MOVE", "COPY"} {
		if p.lookingAtKeyword(kw) {
			return FormUpdate, nil
		}
	}
	if p.pos >= p.length {
		return 0, p.errorf("empty request")
	}
	return 0, p.errorf("expected a query form (SELECT, CONSTRUCT, ASK, DESCRIBE) or an update operation")
}

// Parse parses a SPARQL query
func (p *Parser) Parse() (*Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}

	// Determine query type
	queryType, err := p.parseQueryType()
	if err != nil {
		return nil, err
	}

	query := &Query{QueryType: queryType}

	switch queryType {
	case QueryTypeSelect:
		query.Select, err = p.parseSelect(query)
	case QueryTypeAsk:
		query.Ask, err = p.parseAsk(query)
	case QueryTypeConstruct:
		query.Construct, err = p.parseConstruct(query)
	case QueryTypeDescribe:
		query.Describe, err = p.parseDescribe(query)
	}
	if err != nil {
		return nil, err
	}

	// Trailing VALUES joins with the whole WHERE clause
	if p.matchKeyword("VALUES") {
		values, err := p.parseValues()
		if err != nil {
			return nil, err
		}
		if where := query.where(); where != nil {
			where.Elements = append(where.Elements, &PatternElement{Values: values})
		}
	}

	p.skipWhitespace()
	if p.pos < p.length {
		return nil, p.errorf("unexpected input after query")
	}
	return query, nil
}

func (q *Query) where() *GraphPattern {
	switch q.QueryType {
	case QueryTypeSelect:
		return q.Select.Where
	case QueryTypeConstruct:
		return q.Construct.Where
	case QueryTypeAsk:
		return q.Ask.Where
	case QueryTypeDescribe:
		return q.Describe.Where
	}
	return nil
}

// parsePrologue consumes PREFIX and BASE declarations
func (p *Parser) parsePrologue() error {
	for {
		p.skipWhitespace()
		if p.matchKeyword("PREFIX") {
			if err := p.parsePrefixDecl(); err != nil {
				return err
			}
		} else if p.matchKeyword("BASE") {
			if err := p.parseBaseDecl(); err != nil {
				return err
			}
		} else {
			return nil
		}
	}
}

// parseQueryType determines the query type
func (p *Parser) parseQueryType() (QueryType, error) {
	p.skipWhitespace()

	if p.matchKeyword("SELECT") {
		return QueryTypeSelect, nil
	}
	if p.matchKeyword("CONSTRUCT") {
		return QueryTypeConstruct, nil
	}
	if p.matchKeyword("ASK") {
		return QueryTypeAsk, nil
	}
	if p.matchKeyword("DESCRIBE") {
		return QueryTypeDescribe, nil
	}

	return 0, p.errorf("expected query type (SELECT, CONSTRUCT, ASK, DESCRIBE)")
}

// parseSelect parses a SELECT query
func (p *Parser) parseSelect(q *Query) (*SelectQuery, error) {
	query := &SelectQuery{}

	// Parse DISTINCT or REDUCED (optional, mutually exclusive)
	if p.matchKeyword("DISTINCT") {
		query.Distinct = true
	} else if p.matchKeyword("REDUCED") {
		query.Reduced = true
	}

	projections, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	query.Projections = projections

	if err := p.parseDatasetClauses(q); err != nil {
		return nil, err
	}

	// WHERE keyword is optional
	p.matchKeyword("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	query.Where = where

	if err := p.parseModifiers(&query.Modifiers); err != nil {
		return nil, err
	}
	return query, nil
}

// parseAsk parses an ASK query
func (p *Parser) parseAsk(q *Query) (*AskQuery, error) {
	if err := p.parseDatasetClauses(q); err != nil {
		return nil, err
	}
	p.matchKeyword("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	return &AskQuery{Where: where}, nil
}

// parseConstruct parses a CONSTRUCT query
func (p *Parser) parseConstruct(q *Query) (*ConstructQuery, error) {
	query := &ConstructQuery{}

	p.skipWhitespace()

	// CONSTRUCT WHERE { triples } uses the pattern as its own template
	if p.peek() != '{' {
		if err := p.parseDatasetClauses(q); err != nil {
			return nil, err
		}
		if !p.matchKeyword("WHERE") {
			return nil, p.errorf("expected '{' to start CONSTRUCT template or WHERE keyword")
		}
		start := p.pos
		where, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		template, ok := templateFromPattern(where)
		if !ok {
			return nil, &Error{Pos: start, Msg: "CONSTRUCT WHERE may only contain triple patterns"}
		}
		query.Where = where
		query.Template = template
		if err := p.parseModifiers(&query.Modifiers); err != nil {
			return nil, err
		}
		return query, nil
	}

	template, err := p.parseQuadTemplate(true)
	if err != nil {
		return nil, err
	}
	query.Template = template

	if err := p.parseDatasetClauses(q); err != nil {
		return nil, err
	}
	if !p.matchKeyword("WHERE") {
		return nil, p.errorf("expected WHERE clause")
	}
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	query.Where = where

	if err := p.parseModifiers(&query.Modifiers); err != nil {
		return nil, err
	}
	return query, nil
}

// parseDescribe parses a DESCRIBE query
func (p *Parser) parseDescribe(q *Query) (*DescribeQuery, error) {
	query := &DescribeQuery{}

	p.skipWhitespace()
	if p.peek() == '*' {
		p.advance()
	} else {
		for {
			p.skipWhitespace()
			ch := p.peek()
			if ch != '?' && ch != '$' && ch != '<' && !p.lookingAtPrefixedName() {
				break
			}
			tov, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			query.Resources = append(query.Resources, *tov)
		}
		if len(query.Resources) == 0 {
			return nil, p.errorf("expected '*', a variable or an IRI after DESCRIBE")
		}
	}

	if err := p.parseDatasetClauses(q); err != nil {
		return nil, err
	}

	p.skipWhitespace()
	hasWhere := p.matchKeyword("WHERE")
	if hasWhere || p.peek() == '{' {
		where, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		query.Where = where
	}
	if query.Resources == nil && query.Where == nil {
		return nil, p.errorf("DESCRIBE * requires a WHERE clause")
	}

	if err := p.parseModifiers(&query.Modifiers); err != nil {
		return nil, err
	}
	return query, nil
}

// parseProjection parses the projection (variables, expressions or *)
func (p *Parser) parseProjection() ([]*Projection, error) {
	p.skipWhitespace()

	if p.peek() == '*' {
		p.advance()
		return nil, nil // nil means SELECT *
	}

	var projections []*Projection
	for {
		p.skipWhitespace()
		ch := p.peek()

		// (expr AS ?var)
		if ch == '(' {
			p.advance()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if !p.matchKeyword("AS") {
				return nil, p.errorf("expected AS in SELECT expression")
			}
			p.skipWhitespace()
			variable, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			if err := p.expect(')'); err != nil {
				return nil, err
			}
			projections = append(projections, &Projection{Variable: variable, Expression: expr})
			continue
		}

		if ch != '?' && ch != '$' {
			break
		}

		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		projections = append(projections, &Projection{Variable: variable})
	}

	if len(projections) == 0 {
		return nil, p.errorf("expected at least one variable or *")
	}

	seen := make(map[string]bool, len(projections))
	for _, pr := range projections {
		if seen[pr.Variable.Name] {
			return nil, p.errorf("variable ?%s projected twice", pr.Variable.Name)
		}
		seen[pr.Variable.Name] = true
	}
	return projections, nil
}

// parseDatasetClauses parses FROM <iri> and FROM NAMED <iri>
func (p *Parser) parseDatasetClauses(q *Query) error {
	for p.matchKeyword("FROM") {
		named := p.matchKeyword("NAMED")
		p.skipWhitespace()
		iri, err := p.parseIRIRef()
		if err != nil {
			return err
		}
		if q.Dataset == nil {
			q.Dataset = &Dataset{}
		}
		if named {
			q.Dataset.Named = append(q.Dataset.Named, iri)
		} else {
			q.Dataset.Default = append(q.Dataset.Default, iri)
		}
	}
	return nil
}

// parseModifiers parses GROUP BY, HAVING, ORDER BY, LIMIT and OFFSET
func (p *Parser) parseModifiers(m *Modifiers) error {
	if p.matchKeyword("GROUP") {
		if !p.matchKeyword("BY") {
			return p.errorf("expected BY after GROUP")
		}
		groupBy, err := p.parseGroupBy()
		if err != nil {
			return err
		}
		m.GroupBy = groupBy
	}

	if p.matchKeyword("HAVING") {
		having, err := p.parseHaving()
		if err != nil {
			return err
		}
		m.Having = having
	}

	if p.matchKeyword("ORDER") {
		if !p.matchKeyword("BY") {
			return p.errorf("expected BY after ORDER")
		}
		orderBy, err := p.parseOrderBy()
		if err != nil {
			return err
		}
		m.OrderBy = orderBy
	}

	// LIMIT and OFFSET may come in either order
	for i := 0; i < 2; i++ {
		if m.Limit == nil && p.matchKeyword("LIMIT") {
			limit, err := p.parseInteger()
			if err != nil {
				return err
			}
			m.Limit = &limit
		} else if m.Offset == nil && p.matchKeyword("OFFSET") {
			offset, err := p.parseInteger()
			if err != nil {
				return err
			}
			m.Offset = &offset
		}
	}
	return nil
}

// parseGroupBy parses GROUP BY conditions
func (p *Parser) parseGroupBy() ([]*GroupCondition, error) {
	var conditions []*GroupCondition

	for {
		p.skipWhitespace()
		ch := p.peek()

		switch {
		case ch == '?' || ch == '$':
			variable, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &GroupCondition{Expression: &VariableExpression{Variable: variable}})
		case ch == '(':
			p.advance()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			cond := &GroupCondition{Expression: expr}
			if p.matchKeyword("AS") {
				p.skipWhitespace()
				if cond.Variable, err = p.parseVariable(); err != nil {
					return nil, err
				}
			}
			if err := p.expect(')'); err != nil {
				return nil, err
			}
			conditions = append(conditions, cond)
		case isAlpha(ch) && !p.lookingAtModifier():
			expr, err := p.parsePrimaryExpression()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &GroupCondition{Expression: expr})
		default:
			if len(conditions) == 0 {
				return nil, p.errorf("expected at least one GROUP BY condition")
			}
			return conditions, nil
		}
	}
}

// parseHaving parses HAVING constraints
func (p *Parser) parseHaving() ([]Expression, error) {
	var constraints []Expression

	for {
		p.skipWhitespace()
		ch := p.peek()
		if ch != '(' && !(isAlpha(ch) && !p.lookingAtModifier()) {
			break
		}
		expr, err := p.parseConstraint()
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, expr)
	}

	if len(constraints) == 0 {
		return nil, p.errorf("expected at least one condition in HAVING")
	}
	return constraints, nil
}

// parseOrderBy parses ORDER BY conditions
func (p *Parser) parseOrderBy() ([]*OrderCondition, error) {
	var conditions []*OrderCondition

	for {
		p.skipWhitespace()
		ch := p.peek()

		switch {
		case p.lookingAtKeyword("ASC") || p.lookingAtKeyword("DESC"):
			ascending := p.matchKeyword("ASC")
			if !ascending {
				p.matchKeyword("DESC")
			}
			p.skipWhitespace()
			if p.peek() != '(' {
				return nil, p.errorf("expected '(' after ASC/DESC")
			}
			expr, err := p.parseBrackettedExpression()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &OrderCondition{Expression: expr, Ascending: ascending})
		case ch == '?' || ch == '$':
			variable, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &OrderCondition{
				Expression: &VariableExpression{Variable: variable},
				Ascending:  true,
			})
		case ch == '(' || (isAlpha(ch) && !p.lookingAtModifier()):
			expr, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &OrderCondition{Expression: expr, Ascending: true})
		default:
			if len(conditions) == 0 {
				return nil, p.errorf("expected at least one ORDER BY condition")
			}
			return conditions, nil
		}
	}
}

// lookingAtModifier reports whether a solution modifier keyword comes next
func (p *Parser) lookingAtModifier() bool {
	for _, kw := range []string{"HAVING", "ORDER", "LIMIT", "OFFSET", "VALUES"} {
		if p.lookingAtKeyword(kw) {
			return true
		}
	}
	return false
}

// parseInteger parses a non-negative integer
func (p *Parser) parseInteger() (int, error) {
	p.skipWhitespace()

	numStr := p.readWhile(isDigit)
	if numStr == "" {
		return 0, p.errorf("expected integer")
	}

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, p.errorf("invalid integer %q", numStr)
	}
	return n, nil
}

// parseGroupGraphPattern parses { ... }
func (p *Parser) parseGroupGraphPattern() (*GraphPattern, error) {
	p.skipWhitespace()

	if p.peek() != '{' {
		return nil, p.errorf("expected '{' to start graph pattern")
	}
	p.advance()

	for _, kw := range []string{"SELECT", "ASK", "CONSTRUCT", "DESCRIBE"} {
		if p.lookingAtKeyword(kw) {
			return nil, p.errorf("subqueries are not supported")
		}
	}

	pattern := &GraphPattern{Type: GraphPatternTypeGroup}

	for {
		p.skipWhitespace()

		if p.pos >= p.length {
			return nil, p.errorf("unterminated graph pattern, expected '}'")
		}

		if p.peek() == '}' {
			p.advance()
			return pattern, nil
		}

		if p.peek() == '.' {
			p.advance()
			continue
		}

		switch {
		case p.matchKeyword("GRAPH"):
			graphPattern, err := p.parseGraphGraphPattern()
			if err != nil {
				return nil, err
			}
			pattern.Elements = append(pattern.Elements, &PatternElement{Pattern: graphPattern})

		case p.matchKeyword("OPTIONAL"):
			optional, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			optional.Type = GraphPatternTypeOptional
			pattern.Elements = append(pattern.Elements, &PatternElement{Pattern: optional})

		case p.matchKeyword("MINUS"):
			minus, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			minus.Type = GraphPatternTypeMinus
			pattern.Elements = append(pattern.Elements, &PatternElement{Pattern: minus})

		case p.matchKeyword("FILTER"):
			expr, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			pattern.Elements = append(pattern.Elements, &PatternElement{Filter: &Filter{Expression: expr}})

		case p.matchKeyword("BIND"):
			bind, err := p.parseBind()
			if err != nil {
				return nil, err
			}
			pattern.Elements = append(pattern.Elements, &PatternElement{Bind: bind})

		case p.matchKeyword("VALUES"):
			values, err := p.parseValues()
			if err != nil {
				return nil, err
			}
			pattern.Elements = append(pattern.Elements, &PatternElement{Values: values})

		case p.lookingAtKeyword("SERVICE"):
			return nil, p.errorf("SERVICE is not supported")

		case p.peek() == '{':
			group, err := p.parseGroupOrUnion()
			if err != nil {
				return nil, err
			}
			pattern.Elements = append(pattern.Elements, &PatternElement{Pattern: group})

		default:
			triples, err := p.parseTriplesSameSubject()
			if err != nil {
				return nil, err
			}
			for _, triple := range triples {
				pattern.Elements = append(pattern.Elements, &PatternElement{Triple: triple})
			}
			p.skipWhitespace()
			if p.peek() != '.' && p.peek() != '}' && !p.lookingAtGroupKeyword() {
				return nil, p.errorf("expected '.' or '}' after triple pattern")
			}
		}
	}
}

func (p *Parser) lookingAtGroupKeyword() bool {
	if p.peek() == '{' {
		return true
	}
	for _, kw := range []string{"GRAPH", "OPTIONAL", "MINUS", "FILTER", "BIND", "VALUES", "SERVICE"} {
		if p.lookingAtKeyword(kw) {
			return true
		}
	}
	return false
}

// parseGroupOrUnion parses { ... } (UNION { ... })*
func (p *Parser) parseGroupOrUnion() (*GraphPattern, error) {
	first, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	if !p.lookingAtKeyword("UNION") {
		return first, nil
	}

	union := &GraphPattern{Type: GraphPatternTypeUnion, Children: []*GraphPattern{first}}
	for p.matchKeyword("UNION") {
		next, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		union.Children = append(union.Children, next)
	}
	return union, nil
}

// parseGraphGraphPattern parses GRAPH <iri> { ... } or GRAPH ?var { ... }
func (p *Parser) parseGraphGraphPattern() (*GraphPattern, error) {
	graphTerm, err := p.parseGraphTerm()
	if err != nil {
		return nil, err
	}

	nested, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	nested.Type = GraphPatternTypeGraph
	nested.Graph = graphTerm
	return nested, nil
}

func (p *Parser) parseGraphTerm() (*GraphTerm, error) {
	tov, err := p.parseVarOrIRI()
	if err != nil {
		return nil, p.errorf("expected IRI or variable after GRAPH")
	}
	if tov.Variable != nil {
		return &GraphTerm{Variable: tov.Variable}, nil
	}
	return &GraphTerm{IRI: tov.Term.(*rdf.NamedNode)}, nil
}

// parseTriplesSameSubject parses triple patterns with property list shorthand
// Syntax:
//
//	?s ?p1 ?o1 ; ?p2 ?o2 ; ?p3 ?o3 .  (semicolon repeats subject)
//	?s ?p ?o1 , ?o2 , ?o3 .           (comma repeats subject and predicate)
//	[ ?p ?o ] ?p2 ?o2 .               (blank node property list)
func (p *Parser) parseTriplesSameSubject() ([]*TriplePattern, error) {
	p.skipWhitespace()

	var triples []*TriplePattern

	var subject *TermOrVariable
	var err error
	if p.peek() == '[' {
		subject, triples, err = p.parseBlankNodePropertyList()
		if err != nil {
			return nil, err
		}
		// [ :p :o ] . is a complete statement on its own
		p.skipWhitespace()
		if len(triples) > 0 && (p.peek() == '.' || p.peek() == '}') {
			return triples, nil
		}
	} else {
		subject, err = p.parseTermOrVariable()
		if err != nil {
			return nil, fmt.Errorf("failed to parse subject: %w", err)
		}
		if lit, ok := subject.Term.(*rdf.Literal); ok {
			return nil, p.errorf("literal %s cannot be a subject", lit)
		}
	}

	more, err := p.parsePropertyList(*subject)
	if err != nil {
		return nil, err
	}
	return append(triples, more...), nil
}

// parsePropertyList parses verb objectList ( ';' verb objectList )*
func (p *Parser) parsePropertyList(subject TermOrVariable) ([]*TriplePattern, error) {
	var triples []*TriplePattern

	for {
		p.skipWhitespace()
		predicate, err := p.parseVerb()
		if err != nil {
			return nil, err
		}

		for {
			p.skipWhitespace()
			var object *TermOrVariable
			if p.peek() == '[' {
				var nested []*TriplePattern
				object, nested, err = p.parseBlankNodePropertyList()
				if err != nil {
					return nil, err
				}
				triples = append(triples, nested...)
			} else {
				object, err = p.parseTermOrVariable()
				if err != nil {
					return nil, fmt.Errorf("failed to parse object: %w", err)
				}
			}

			triples = append(triples, &TriplePattern{
				Subject:   subject,
				Predicate: *predicate,
				Object:    *object,
			})

			p.skipWhitespace()
			if p.peek() != ',' {
				break
			}
			p.advance()
		}

		p.skipWhitespace()
		if p.peek() != ';' {
			return triples, nil
		}
		for p.peek() == ';' {
			p.advance()
			p.skipWhitespace()
		}
		// Trailing semicolon
		if c := p.peek(); c == '.' || c == '}' || c == ']' {
			return triples, nil
		}
	}
}

// parseVerb parses a predicate: 'a', an IRI or a variable. Property paths
// are rejected.
func (p *Parser) parseVerb() (*TermOrVariable, error) {
	p.skipWhitespace()
	ch := p.peek()

	if ch == '^' || ch == '!' || ch == '(' {
		return nil, p.errorf("property paths are not supported")
	}

	var verb *TermOrVariable
	if ch == 'a' && !isNameChar(p.peekAt(1)) {
		p.advance()
		verb = &TermOrVariable{Term: rdf.RDFType}
	} else {
		var err error
		verb, err = p.parseVarOrIRI()
		if err != nil {
			return nil, fmt.Errorf("failed to parse predicate: %w", err)
		}
	}

	switch p.peek() {
	case '/', '|', '*', '+':
		return nil, p.errorf("property paths are not supported")
	case '?':
		if next := p.peekAt(1); next == ' ' || next == '\t' || next == '\n' || next == '\r' {
			return nil, p.errorf("property paths are not supported")
		}
	}
	return verb, nil
}

// parseBlankNodePropertyList parses [ verb objectList ; ... ]
func (p *Parser) parseBlankNodePropertyList() (*TermOrVariable, []*TriplePattern, error) {
	if err := p.expect('['); err != nil {
		return nil, nil, err
	}
	node := p.freshBlankNode()

	p.skipWhitespace()
	if p.peek() == ']' {
		p.advance()
		return node, nil, nil
	}

	triples, err := p.parsePropertyList(*node)
	if err != nil {
		return nil, nil, err
	}
	if err := p.expect(']'); err != nil {
		return nil, nil, err
	}
	return node, triples, nil
}

func (p *Parser) freshBlankNode() *TermOrVariable {
	p.bnodeSeq++
	return p.blankNodeTerm(fmt.Sprintf(".anon%d", p.bnodeSeq))
}

// blankNodeTerm is a blank node in templates and a hidden variable elsewhere
func (p *Parser) blankNodeTerm(label string) *TermOrVariable {
	if p.template {
		return &TermOrVariable{Term: rdf.NewBlankNode(label)}
	}
	return &TermOrVariable{Variable: &Variable{Name: BlankVariablePrefix + label}}
}

// parseBind parses BIND(<expression> AS ?variable)
func (p *Parser) parseBind() (*Bind, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}

	expr, err := p.parseExpression()
	if err != nil {
		return nil, fmt.Errorf("error parsing BIND expression: %w", err)
	}

	if !p.matchKeyword("AS") {
		return nil, p.errorf("expected AS keyword in BIND expression")
	}

	p.skipWhitespace()
	variable, err := p.parseVariable()
	if err != nil {
		return nil, err
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return &Bind{Expression: expr, Variable: variable}, nil
}

// parseValues parses ?x { v1 v2 } or ( ?x ?y ) { ( v1 v2 ) ... }
func (p *Parser) parseValues() (*Values, error) {
	p.skipWhitespace()
	values := &Values{}

	single := p.peek() != '('
	if single {
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		values.Variables = []*Variable{variable}
	} else {
		p.advance()
		for {
			p.skipWhitespace()
			if p.peek() == ')' {
				p.advance()
				break
			}
			variable, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			values.Variables = append(values.Variables, variable)
		}
	}

	if err := p.expect('{'); err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if p.peek() == '}' {
			p.advance()
			return values, nil
		}

		if single {
			term, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			values.Rows = append(values.Rows, []rdf.Term{term})
			continue
		}

		if err := p.expect('('); err != nil {
			return nil, err
		}
		row := make([]rdf.Term, 0, len(values.Variables))
		for {
			p.skipWhitespace()
			if p.peek() == ')' {
				p.advance()
				break
			}
			term, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			row = append(row, term)
		}
		if len(row) != len(values.Variables) {
			return nil, p.errorf("VALUES row has %d terms, expected %d", len(row), len(values.Variables))
		}
		values.Rows = append(values.Rows, row)
	}
}

// parseDataValue parses an IRI, literal or UNDEF (returned as nil)
func (p *Parser) parseDataValue() (rdf.Term, error) {
	if p.matchKeyword("UNDEF") {
		return nil, nil
	}
	tov, err := p.parseTermOrVariable()
	if err != nil {
		return nil, err
	}
	if tov.Variable != nil {
		return nil, p.errorf("variables are not allowed in VALUES data")
	}
	if _, ok := tov.Term.(*rdf.BlankNode); ok {
		return nil, p.errorf("blank nodes are not allowed in VALUES data")
	}
	return tov.Term, nil
}

// parseTermOrVariable parses either an RDF term or a variable
func (p *Parser) parseTermOrVariable() (*TermOrVariable, error) {
	p.skipWhitespace()

	ch := p.peek()

	switch {
	case ch == '?' || ch == '$':
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Variable: variable}, nil

	case ch == '<':
		iri, err := p.parseIRIRef()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Term: iri}, nil

	case ch == '"' || ch == '\'':
		literal, err := p.parseRDFLiteral()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Term: literal}, nil

	case ch == '_' && p.peekAt(1) == ':':
		label, err := p.parseBlankNodeLabel()
		if err != nil {
			return nil, err
		}
		return p.blankNodeTerm(label), nil

	case ch == '[':
		saved := p.pos
		p.advance()
		p.skipWhitespace()
		if p.peek() == ']' {
			p.advance()
			return p.freshBlankNode(), nil
		}
		p.pos = saved
		return nil, p.errorf("blank node property lists are not allowed here")

	case ch == '(':
		return nil, p.errorf("RDF collections are not supported")

	case isDigit(ch) || ch == '-' || ch == '+' || (ch == '.' && isDigit(p.peekAt(1))):
		literal, err := p.parseNumericLiteral()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Term: literal}, nil
	}

	if p.lookingAtKeyword("true") || p.lookingAtKeyword("false") {
		value := p.matchKeyword("true")
		if !value {
			p.matchKeyword("false")
		}
		return &TermOrVariable{Term: rdf.NewBooleanLiteral(value)}, nil
	}

	if ch == ':' || isAlpha(ch) {
		iri, err := p.parsePrefixedName()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Term: iri}, nil
	}

	if ch == 0 {
		return nil, p.errorf("unexpected end of input")
	}
	return nil, p.errorf("unexpected character %q", ch)
}

// parseVarOrIRI parses a variable, an IRI reference or a prefixed name
func (p *Parser) parseVarOrIRI() (*TermOrVariable, error) {
	p.skipWhitespace()
	switch ch := p.peek(); {
	case ch == '?' || ch == '$':
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Variable: variable}, nil
	case ch == '<':
		iri, err := p.parseIRIRef()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Term: iri}, nil
	case ch == ':' || isAlpha(ch):
		iri, err := p.parsePrefixedName()
		if err != nil {
			return nil, err
		}
		return &TermOrVariable{Term: iri}, nil
	}
	return nil, p.errorf("expected IRI or variable")
}

// parseVariable parses a SPARQL variable
func (p *Parser) parseVariable() (*Variable, error) {
	if p.peek() != '?' && p.peek() != '$' {
		return nil, p.errorf("expected variable starting with ? or $")
	}
	p.advance()

	name := p.readWhile(isVarChar)
	if name == "" {
		return nil, p.errorf("invalid variable name")
	}
	return &Variable{Name: name}, nil
}

// parseIRIRef parses an IRI enclosed in < > and resolves it against BASE
func (p *Parser) parseIRIRef() (*rdf.NamedNode, error) {
	if p.peek() != '<' {
		return nil, p.errorf("expected '<' to start IRI")
	}
	p.advance()

	iri := p.readWhile(func(ch byte) bool {
		return ch != '>' && ch != ' ' && ch != '\n' && ch != '\t' && ch != '"' && ch != '{' && ch != '}'
	})

	if p.peek() != '>' {
		return nil, p.errorf("expected '>' to end IRI")
	}
	p.advance()

	return rdf.NewNamedNode(p.resolveIRI(iri)), nil
}

// parseRDFLiteral parses a string with an optional language tag or datatype
func (p *Parser) parseRDFLiteral() (*rdf.Literal, error) {
	value, err := p.parseString()
	if err != nil {
		return nil, err
	}

	if p.peek() == '@' {
		p.advance()
		lang := p.readWhile(func(ch byte) bool {
			return isAlpha(ch) || isDigit(ch) || ch == '-'
		})
		if lang == "" {
			return nil, p.errorf("expected language tag after '@'")
		}
		return rdf.NewLiteralWithLanguage(value, lang), nil
	}

	if p.match("^^") {
		var datatype *rdf.NamedNode
		if p.peek() == '<' {
			datatype, err = p.parseIRIRef()
		} else {
			datatype, err = p.parsePrefixedName()
		}
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(value, datatype), nil
	}

	return rdf.NewLiteral(value), nil
}

// parseString parses a string literal (single, double and triple quoted)
func (p *Parser) parseString() (string, error) {
	quote := p.peek()
	if quote != '"' && quote != '\'' {
		return "", p.errorf("expected quote to start string literal")
	}

	long := p.peekAt(1) == quote && p.peekAt(2) == quote
	if long {
		p.pos += 3
	} else {
		p.advance()
	}

	var value strings.Builder
	for {
		if p.pos >= p.length {
			return "", p.errorf("unterminated string literal")
		}
		ch := p.input[p.pos]

		if long {
			if ch == quote && p.peekAt(1) == quote && p.peekAt(2) == quote {
				p.pos += 3
				return value.String(), nil
			}
		} else {
			if ch == quote {
				p.advance()
				return value.String(), nil
			}
			if ch == '\n' || ch == '\r' {
				return "", p.errorf("line break in string literal")
			}
		}

		if ch == '\\' {
			r, err := p.parseEscape()
			if err != nil {
				return "", err
			}
			value.WriteRune(r)
			continue
		}

		value.WriteByte(ch)
		p.advance()
	}
}

func (p *Parser) parseEscape() (rune, error) {
	p.advance() // backslash
	ch := p.peek()
	p.advance()
	switch ch {
	case 't':
		return '\t', nil
	case 'b':
		return '\b', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 'f':
		return '\f', nil
	case '"', '\'', '\\':
		return rune(ch), nil
	case 'u', 'U':
		size := 4
		if ch == 'U' {
			size = 8
		}
		if p.pos+size > p.length {
			return 0, p.errorf("truncated unicode escape")
		}
		code, err := strconv.ParseUint(p.input[p.pos:p.pos+size], 16, 32)
		if err != nil || !utf8.ValidRune(rune(code)) {
			return 0, p.errorf("invalid unicode escape")
		}
		p.pos += size
		return rune(code), nil
	}
	return 0, p.errorf("invalid escape sequence \\%c", ch)
}

// parseBlankNodeLabel parses _:label and returns the label
func (p *Parser) parseBlankNodeLabel() (string, error) {
	p.pos += 2 // _:
	label := p.readWhile(func(ch byte) bool {
		return isVarChar(ch) || ch == '-' || ch == '.'
	})
	for strings.HasSuffix(label, ".") {
		label = label[:len(label)-1]
		p.pos--
	}
	if label == "" {
		return "", p.errorf("expected blank node label after '_:'")
	}
	return label, nil
}

// parseNumericLiteral parses an integer, decimal or double
func (p *Parser) parseNumericLiteral() (*rdf.Literal, error) {
	start := p.pos
	if p.peek() == '+' || p.peek() == '-' {
		p.advance()
	}
	p.readWhile(isDigit)

	datatype := rdf.XSDInteger
	if p.peek() == '.' && isDigit(p.peekAt(1)) {
		p.advance()
		p.readWhile(isDigit)
		datatype = rdf.XSDDecimal
	}
	if c := p.peek(); c == 'e' || c == 'E' {
		p.advance()
		if c := p.peek(); c == '+' || c == '-' {
			p.advance()
		}
		if p.readWhile(isDigit) == "" {
			return nil, p.errorf("expected exponent digits")
		}
		datatype = rdf.XSDDouble
	}

	numStr := p.input[start:p.pos]
	if numStr == "" || numStr == "+" || numStr == "-" {
		return nil, p.errorf("expected number")
	}
	return rdf.NewLiteralWithDatatype(numStr, datatype), nil
}

// Helper methods

func (p *Parser) peek() byte {
	if p.pos >= p.length {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) peekAt(offset int) byte {
	if p.pos+offset >= p.length {
		return 0
	}
	return p.input[p.pos+offset]
}

func (p *Parser) advance() {
	if p.pos < p.length {
		p.pos++
	}
}

func (p *Parser) expect(ch byte) error {
	p.skipWhitespace()
	if p.peek() != ch {
		if p.pos >= p.length {
			return p.errorf("expected '%c', found end of input", ch)
		}
		return p.errorf("expected '%c', found '%c'", ch, p.peek())
	}
	p.advance()
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return &Error{Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) skipWhitespace() {
	for p.pos < p.length {
		ch := p.input[p.pos]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			p.pos++
			continue
		}

		// Comments run from # to end of line
		if ch == '#' {
			for p.pos < p.length && p.input[p.pos] != '\n' && p.input[p.pos] != '\r' {
				p.pos++
			}
			continue
		}

		break
	}
}

func (p *Parser) readWhile(predicate func(byte) bool) string {
	start := p.pos
	for p.pos < p.length && predicate(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

// lookingAtKeyword reports whether keyword (case-insensitive) comes next
// without consuming it
func (p *Parser) lookingAtKeyword(keyword string) bool {
	p.skipWhitespace()
	end := p.pos + len(keyword)
	if end > p.length || !strings.EqualFold(p.input[p.pos:end], keyword) {
		return false
	}
	return end == p.length || !isNameChar(p.input[end])
}

func (p *Parser) matchKeyword(keyword string) bool {
	if p.lookingAtKeyword(keyword) {
		p.pos += len(keyword)
		return true
	}
	return false
}

// match checks if the next characters match s and advances if they do
func (p *Parser) match(s string) bool {
	if strings.HasPrefix(p.input[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

// parsePrefixDecl parses and stores a PREFIX declaration (prefix: <iri>)
func (p *Parser) parsePrefixDecl() error {
	p.skipWhitespace()

	prefix := p.readWhile(func(ch byte) bool {
		return isVarChar(ch) || ch == '-' || ch == '.'
	})
	if p.peek() != ':' {
		return p.errorf("expected ':' in PREFIX declaration")
	}
	p.advance()

	p.skipWhitespace()
	iri, err := p.parseIRIRef()
	if err != nil {
		return err
	}

	p.prefixes[prefix] = iri.IRI
	return nil
}

// parseBaseDecl parses and stores a BASE declaration (<iri>)
func (p *Parser) parseBaseDecl() error {
	p.skipWhitespace()
	iri, err := p.parseIRIRef()
	if err != nil {
		return err
	}
	p.baseURI = iri.IRI
	return nil
}

// lookingAtPrefixedName reports whether a prefixed name with a known prefix comes next
func (p *Parser) lookingAtPrefixedName() bool {
	i := p.pos
	for i < p.length && (isVarChar(p.input[i]) || p.input[i] == '-' || p.input[i] == '.') {
		i++
	}
	if i >= p.length || p.input[i] != ':' {
		return false
	}
	_, ok := p.prefixes[p.input[p.pos:i]]
	return ok
}

// parsePrefixedName parses a prefixed name (like :foo or prefix:foo) and expands it to a full IRI
func (p *Parser) parsePrefixedName() (*rdf.NamedNode, error) {
	start := p.pos
	prefix := p.readWhile(func(ch byte) bool {
		return isVarChar(ch) || ch == '-' || ch == '.'
	})

	if p.peek() != ':' {
		p.pos = start
		word := p.readWhile(isVarChar)
		p.pos = start
		if word != "" {
			return nil, p.errorf("unexpected keyword %q", word)
		}
		return nil, p.errorf("expected ':' in prefixed name")
	}
	p.advance()

	var local strings.Builder
loop:
	for p.pos < p.length {
		ch := p.input[p.pos]
		switch {
		case isNameChar(ch):
			local.WriteByte(ch)
			p.advance()
		case ch == '.':
			// a dot ends the name unless more name characters follow
			if !isNameChar(p.peekAt(1)) {
				break loop
			}
			local.WriteByte(ch)
			p.advance()
		case ch == '%':
			if p.pos+2 >= p.length {
				return nil, p.errorf("truncated percent escape")
			}
			local.WriteString(p.input[p.pos : p.pos+3])
			p.pos += 3
		case ch == '\\':
			p.advance()
			local.WriteByte(p.peek())
			p.advance()
		default:
			break loop
		}
	}

	baseIRI, ok := p.prefixes[prefix]
	if !ok {
		p.pos = start
		return nil, p.errorf("undefined prefix: '%s'", prefix)
	}
	return rdf.NewNamedNode(baseIRI + local.String()), nil
}

// resolveIRI resolves a potentially relative IRI against the BASE URI
func (p *Parser) resolveIRI(iri string) string {
	if p.baseURI == "" || isAbsoluteIRI(iri) {
		return iri
	}
	if iri == "" {
		return p.baseURI
	}
	if strings.HasPrefix(iri, "#") {
		if i := strings.Index(p.baseURI, "#"); i >= 0 {
			return p.baseURI[:i] + iri
		}
		return p.baseURI + iri
	}
	if strings.HasPrefix(iri, "/") {
		if i := strings.Index(p.baseURI, "://"); i >= 0 {
			if j := strings.Index(p.baseURI[i+3:], "/"); j >= 0 {
				return p.baseURI[:i+3+j] + iri
			}
			return p.baseURI + iri
		}
	}
	if i := strings.LastIndex(p.baseURI, "/"); i >= 0 {
		return p.baseURI[:i+1] + iri
	}
	return p.baseURI + iri
}

// isAbsoluteIRI checks if an IRI has a scheme
func isAbsoluteIRI(iri string) bool {
	colonIdx := strings.Index(iri, ":")
	if colonIdx <= 0 {
		return false
	}
	for i := 0; i < colonIdx; i++ {
		c := iri[i]
		if !(isAlpha(c) || (isDigit(c) && i > 0) || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

// templateFromPattern turns a group of plain triple and GRAPH blocks into a
// template; it fails when the group holds anything else
func templateFromPattern(pattern *GraphPattern) ([]*QuadPattern, bool) {
	var out []*QuadPattern
	for _, el := range pattern.Elements {
		switch {
		case el.Triple != nil:
			out = append(out, &QuadPattern{TriplePattern: *el.Triple})
		case el.Pattern != nil && el.Pattern.Type == GraphPatternTypeGraph:
			for _, inner := range el.Pattern.Elements {
				if inner.Triple == nil {
					return nil, false
				}
				out = append(out, &QuadPattern{TriplePattern: *inner.Triple, Graph: el.Pattern.Graph})
			}
		default:
			return nil, false
		}
	}
	return out, true
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isVarChar(ch byte) bool {
	return isAlpha(ch) || isDigit(ch) || ch == '_' || ch >= 0x80
}

func isNameChar(ch byte) bool {
	return isVarChar(ch) || ch == '-' || ch == ':'
}
