package rdf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SyntaxError reports malformed input together with its position
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// TriGParser parses TriG (Turtle plus named graph blocks)
type TriGParser struct {
	input    string
	pos      int
	length   int
	prefixes map[string]string
	base     string
	bnodeSeq int
	quads    []*Quad
}

// NewTriGParser creates a new TriG parser
func NewTriGParser(input string) *TriGParser {
	return &TriGParser{
		input:    input,
		length:   len(input),
		prefixes: make(map[string]string),
	}
}

// SetBaseURI sets the IRI relative references are resolved against
func (p *TriGParser) SetBaseURI(base string) {
	p.base = base
}

// Parse parses the TriG document and returns quads
func (p *TriGParser) Parse() ([]*Quad, error) {
	for {
		p.skipWhitespaceAndComments()
		if p.pos >= p.length {
			break
		}
		if err := p.parseStatement(); err != nil {
			return nil, err
		}
	}
	return p.quads, nil
}

func (p *TriGParser) parseStatement() error {
	switch {
	case p.matchKeyword("@prefix"):
		return p.parsePrefix(true)
	case p.matchKeyword("PREFIX"):
		return p.parsePrefix(false)
	case p.matchKeyword("@base"):
		return p.parseBase(true)
	case p.matchKeyword("BASE"):
		return p.parseBase(false)
	case p.matchKeyword("GRAPH"):
		p.skipWhitespaceAndComments()
		graph, err := p.parseGraphName()
		if err != nil {
			return err
		}
		return p.parseGraphBlock(graph)
	}

	if p.peek() == '{' {
		return p.parseGraphBlock(NewDefaultGraph())
	}

	// Either "<name> { ... }" or a triples statement in the default graph
	if p.peek() == '<' || p.peek() == '_' || p.isPrefixedNameStart() {
		saved := p.pos
		graph, err := p.parseGraphName()
		if err == nil {
			p.skipWhitespaceAndComments()
			if p.peek() == '{' {
				return p.parseGraphBlock(graph)
			}
		}
		p.pos = saved
	}

	if err := p.parseTriples(NewDefaultGraph()); err != nil {
		return err
	}
	return p.expect('.')
}

// parseGraphName parses a graph label. Blank node labels are accepted by TriG
// but the quad model only allows IRIs, so they are rejected here.
func (p *TriGParser) parseGraphName() (Term, error) {
	switch {
	case p.peek() == '<':
		return p.parseIRI()
	case p.peek() == '_':
		return nil, p.errorf("blank node graph names are not supported")
	case p.isPrefixedNameStart():
		return p.parsePrefixedName()
	}
	return nil, p.errorf("expected graph name")
}

// parseGraphBlock parses "{ triples }" assigning every triple to graph
func (p *TriGParser) parseGraphBlock(graph Term) error {
	if err := p.expect('{'); err != nil {
		return err
	}
	for {
		p.skipWhitespaceAndComments()
		if p.pos >= p.length {
			return p.errorf("unexpected end of input, expected '}'")
		}
		if p.peek() == '}' {
			p.pos++
			return nil
		}
		if err := p.parseTriples(graph); err != nil {
			return err
		}
		p.skipWhitespaceAndComments()
		if p.peek() == '.' {
			p.pos++
			continue
		}
		if p.peek() != '}' {
			return p.errorf("expected '.' or '}'")
		}
	}
}

// parseTriples parses "subject predicateObjectList" or a bare blank node property list
func (p *TriGParser) parseTriples(graph Term) error {
	p.skipWhitespaceAndComments()
	if p.peek() == '[' {
		subject, err := p.parseBlankNodePropertyList(graph)
		if err != nil {
			return err
		}
		p.skipWhitespaceAndComments()
		if p.peek() == '.' || p.peek() == '}' {
			return nil
		}
		return p.parsePredicateObjectList(subject, graph)
	}

	subject, err := p.parseSubject(graph)
	if err != nil {
		return err
	}
	return p.parsePredicateObjectList(subject, graph)
}

func (p *TriGParser) parseSubject(graph Term) (Term, error) {
	switch {
	case p.peek() == '<':
		return p.parseIRI()
	case p.peek() == '_':
		return p.parseBlankNode()
	case p.peek() == '(':
		return p.parseCollection(graph)
	case p.isPrefixedNameStart():
		return p.parsePrefixedName()
	}
	return nil, p.errorf("expected subject")
}

func (p *TriGParser) parsePredicateObjectList(subject Term, graph Term) error {
	for {
		p.skipWhitespaceAndComments()
		predicate, err := p.parsePredicate()
		if err != nil {
			return err
		}
		for {
			p.skipWhitespaceAndComments()
			object, err := p.parseObject(graph)
			if err != nil {
				return err
			}
			p.emit(subject, predicate, object, graph)
			p.skipWhitespaceAndComments()
			if p.peek() != ',' {
				break
			}
			p.pos++
		}
		if p.peek() != ';' {
			return nil
		}
		// one or more ';' may be followed by the end of the list
		for p.peek() == ';' {
			p.pos++
			p.skipWhitespaceAndComments()
		}
		if c := p.peek(); c == '.' || c == '}' || c == ']' || c == 0 {
			return nil
		}
	}
}

func (p *TriGParser) parsePredicate() (Term, error) {
	if p.peek() == 'a' && p.pos+1 < p.length && isDelimiter(p.input[p.pos+1]) {
		p.pos++
		return RDFType, nil
	}
	if p.peek() == '<' {
		return p.parseIRI()
	}
	if p.isPrefixedNameStart() {
		return p.parsePrefixedName()
	}
	return nil, p.errorf("expected predicate")
}

func (p *TriGParser) parseObject(graph Term) (Term, error) {
	ch := p.peek()
	switch {
	case ch == '<':
		return p.parseIRI()
	case ch == '_':
		return p.parseBlankNode()
	case ch == '[':
		return p.parseBlankNodePropertyList(graph)
	case ch == '(':
		return p.parseCollection(graph)
	case ch == '"' || ch == '\'':
		return p.parseLiteral()
	case (ch >= '0' && ch <= '9') || ch == '-' || ch == '+' || ch == '.':
		return p.parseNumber()
	case p.matchKeyword("true"):
		return NewBooleanLiteral(true), nil
	case p.matchKeyword("false"):
		return NewBooleanLiteral(false), nil
	case p.isPrefixedNameStart():
		return p.parsePrefixedName()
	}
	return nil, p.errorf("expected object")
}

// parseBlankNodePropertyList parses "[ predicateObjectList ]"
func (p *TriGParser) parseBlankNodePropertyList(graph Term) (Term, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	node := p.newBlankNode()
	p.skipWhitespaceAndComments()
	if p.peek() == ']' {
		p.pos++
		return node, nil
	}
	if err := p.parsePredicateObjectList(node, graph); err != nil {
		return nil, err
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	return node, nil
}

// parseCollection parses "( objects )" into an rdf:List
func (p *TriGParser) parseCollection(graph Term) (Term, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var items []Term
	for {
		p.skipWhitespaceAndComments()
		if p.pos >= p.length {
			return nil, p.errorf("unterminated collection")
		}
		if p.peek() == ')' {
			p.pos++
			break
		}
		item, err := p.parseObject(graph)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return RDFNil, nil
	}
	head := p.newBlankNode()
	current := head
	for i, item := range items {
		p.emit(current, RDFFirst, item, graph)
		if i == len(items)-1 {
			p.emit(current, RDFRest, RDFNil, graph)
			break
		}
		next := p.newBlankNode()
		p.emit(current, RDFRest, next, graph)
		current = next
	}
	return head, nil
}

// parseIRI parses an IRI: <http://example.org/resource>
func (p *TriGParser) parseIRI() (*NamedNode, error) {
	if err := p.expect('<'); err != nil {
		return nil, err
	}
	var b strings.Builder
	for {
		if p.pos >= p.length {
			return nil, p.errorf("unterminated IRI")
		}
		ch := p.input[p.pos]
		if ch == '>' {
			p.pos++
			break
		}
		if ch == ' ' || ch == '\n' || ch == '<' || ch == '"' {
			return nil, p.errorf("invalid character %q in IRI", ch)
		}
		if ch == '\\' {
			r, err := p.parseUnicodeEscape()
			if err != nil {
				return nil, err
			}
			b.WriteRune(r)
			continue
		}
		b.WriteByte(ch)
		p.pos++
	}
	return NewNamedNode(p.resolve(b.String())), nil
}

func (p *TriGParser) resolve(iri string) string {
	if p.base == "" || strings.Contains(iri, ":") {
		return iri
	}
	base, err := url.Parse(p.base)
	if err != nil {
		return p.base + iri
	}
	ref, err := url.Parse(iri)
	if err != nil {
		return p.base + iri
	}
	return base.ResolveReference(ref).String()
}

// parseBlankNode parses a blank node: _:b1
func (p *TriGParser) parseBlankNode() (*BlankNode, error) {
	if !strings.HasPrefix(p.input[p.pos:], "_:") {
		return nil, p.errorf("expected '_:'")
	}
	p.pos += 2
	start := p.pos
	for p.pos < p.length && isNameChar(p.input[p.pos]) {
		p.pos++
	}
	// a trailing '.' ends the statement
	for p.pos > start && p.input[p.pos-1] == '.' {
		p.pos--
	}
	if p.pos == start {
		return nil, p.errorf("blank node label required after '_:'")
	}
	return NewBlankNode(p.input[start:p.pos]), nil
}

func (p *TriGParser) newBlankNode() *BlankNode {
	p.bnodeSeq++
	return NewBlankNode(fmt.Sprintf("trig%d", p.bnodeSeq))
}

// parseLiteral parses "value", 'value', """long""" or '''long''' with an optional tag or datatype
func (p *TriGParser) parseLiteral() (Term, error) {
	quote := p.input[p.pos]
	long := strings.HasPrefix(p.input[p.pos:], strings.Repeat(string(quote), 3))
	if long {
		p.pos += 3
	} else {
		p.pos++
	}

	var value strings.Builder
	for {
		if p.pos >= p.length {
			return nil, p.errorf("unterminated string literal")
		}
		ch := p.input[p.pos]
		if long && strings.HasPrefix(p.input[p.pos:], strings.Repeat(string(quote), 3)) {
			p.pos += 3
			// up to two extra quotes belong to the value
			for p.pos < p.length && p.input[p.pos] == quote {
				value.WriteByte(quote)
				p.pos++
			}
			break
		}
		if !long && ch == quote {
			p.pos++
			break
		}
		if !long && (ch == '\n' || ch == '\r') {
			return nil, p.errorf("line break in short string literal")
		}
		if ch == '\\' {
			if err := p.parseStringEscape(&value); err != nil {
				return nil, err
			}
			continue
		}
		value.WriteByte(ch)
		p.pos++
	}

	if p.peek() == '@' {
		p.pos++
		start := p.pos
		for p.pos < p.length && (isAlpha(p.input[p.pos]) || p.input[p.pos] == '-' || (p.pos > start && isDigit(p.input[p.pos]))) {
			p.pos++
		}
		if p.pos == start {
			return nil, p.errorf("empty language tag")
		}
		return NewLiteralWithLanguage(value.String(), p.input[start:p.pos]), nil
	}
	if strings.HasPrefix(p.input[p.pos:], "^^") {
		p.pos += 2
		var datatype *NamedNode
		var err error
		if p.peek() == '<' {
			datatype, err = p.parseIRI()
		} else {
			datatype, err = p.parsePrefixedName()
		}
		if err != nil {
			return nil, err
		}
		return NewLiteralWithDatatype(value.String(), datatype), nil
	}
	return NewLiteral(value.String()), nil
}

func (p *TriGParser) parseStringEscape(value *strings.Builder) error {
	if p.pos+1 >= p.length {
		return p.errorf("unterminated escape sequence")
	}
	switch p.input[p.pos+1] {
	case 't':
		value.WriteByte('\t')
	case 'b':
		value.WriteByte('\b')
	case 'n':
		value.WriteByte('\n')
	case 'r':
		value.WriteByte('\r')
	case 'f':
		value.WriteByte('\f')
	case '"':
		value.WriteByte('"')
	case '\'':
		value.WriteByte('\'')
	case '\\':
		value.WriteByte('\\')
	case 'u', 'U':
		r, err := p.parseUnicodeEscape()
		if err != nil {
			return err
		}
		value.WriteRune(r)
		return nil
	default:
		return p.errorf("invalid escape sequence \\%c", p.input[p.pos+1])
	}
	p.pos += 2
	return nil
}

// parseUnicodeEscape parses \uXXXX or \UXXXXXXXX at the current position
func (p *TriGParser) parseUnicodeEscape() (rune, error) {
	if p.pos+1 >= p.length {
		return 0, p.errorf("unterminated escape sequence")
	}
	size := 0
	switch p.input[p.pos+1] {
	case 'u':
		size = 4
	case 'U':
		size = 8
	default:
		return 0, p.errorf("invalid escape sequence")
	}
	start := p.pos + 2
	if start+size > p.length {
		return 0, p.errorf("truncated unicode escape")
	}
	code, err := strconv.ParseUint(p.input[start:start+size], 16, 32)
	if err != nil {
		return 0, p.errorf("invalid unicode escape")
	}
	r := rune(code)
	if !utf8.ValidRune(r) {
		return 0, p.errorf("invalid code point U+%X", code)
	}
	p.pos = start + size
	return r, nil
}

// parseNumber parses integer, decimal and double literals
func (p *TriGParser) parseNumber() (Term, error) {
	start := p.pos
	if p.peek() == '+' || p.peek() == '-' {
		p.pos++
	}
	digits := 0
	for p.pos < p.length && isDigit(p.input[p.pos]) {
		p.pos++
		digits++
	}
	datatype := XSDInteger
	if p.peek() == '.' && p.pos+1 < p.length && isDigit(p.input[p.pos+1]) {
		p.pos++
		for p.pos < p.length && isDigit(p.input[p.pos]) {
			p.pos++
			digits++
		}
		datatype = XSDDecimal
	}
	if p.peek() == 'e' || p.peek() == 'E' {
		p.pos++
		if p.peek() == '+' || p.peek() == '-' {
			p.pos++
		}
		exp := 0
		for p.pos < p.length && isDigit(p.input[p.pos]) {
			p.pos++
			exp++
		}
		if exp == 0 {
			return nil, p.errorf("invalid exponent")
		}
		datatype = XSDDouble
	}
	if digits == 0 {
		p.pos = start
		return nil, p.errorf("expected number")
	}
	return NewLiteralWithDatatype(p.input[start:p.pos], datatype), nil
}

// parsePrefixedName parses prefix:localName or :localName
func (p *TriGParser) parsePrefixedName() (*NamedNode, error) {
	start := p.pos
	for p.pos < p.length && p.input[p.pos] != ':' && isNameChar(p.input[p.pos]) {
		p.pos++
	}
	if p.peek() != ':' {
		return nil, p.errorf("expected ':' in prefixed name")
	}
	prefix := p.input[start:p.pos]
	p.pos++

	var local strings.Builder
	for p.pos < p.length {
		ch := p.input[p.pos]
		if ch == '\\' && p.pos+1 < p.length {
			local.WriteByte(p.input[p.pos+1])
			p.pos += 2
			continue
		}
		if ch == '%' && p.pos+2 < p.length {
			local.WriteString(p.input[p.pos : p.pos+3])
			p.pos += 3
			continue
		}
		if !isNameChar(ch) && ch != ':' {
			break
		}
		local.WriteByte(ch)
		p.pos++
	}
	// a trailing '.' ends the statement
	localName := local.String()
	for strings.HasSuffix(localName, ".") {
		localName = localName[:len(localName)-1]
		p.pos--
	}

	namespace, ok := p.prefixes[prefix]
	if !ok {
		p.pos = start
		return nil, p.errorf("undefined prefix %q", prefix)
	}
	return NewNamedNode(namespace + localName), nil
}

// parsePrefix parses "@prefix p: <iri> ." or "PREFIX p: <iri>"
func (p *TriGParser) parsePrefix(turtleStyle bool) error {
	p.skipWhitespaceAndComments()
	start := p.pos
	for p.pos < p.length && p.input[p.pos] != ':' && isNameChar(p.input[p.pos]) {
		p.pos++
	}
	if p.peek() != ':' {
		return p.errorf("expected ':' in prefix declaration")
	}
	prefix := p.input[start:p.pos]
	p.pos++
	p.skipWhitespaceAndComments()
	iri, err := p.parseIRI()
	if err != nil {
		return err
	}
	p.prefixes[prefix] = iri.IRI
	if turtleStyle {
		return p.expect('.')
	}
	return nil
}

// parseBase parses "@base <iri> ." or "BASE <iri>"
func (p *TriGParser) parseBase(turtleStyle bool) error {
	p.skipWhitespaceAndComments()
	iri, err := p.parseIRI()
	if err != nil {
		return err
	}
	p.base = iri.IRI
	if turtleStyle {
		return p.expect('.')
	}
	return nil
}

func (p *TriGParser) emit(subject, predicate, object, graph Term) {
	p.quads = append(p.quads, NewQuad(subject, predicate, object, graph))
}

func (p *TriGParser) expect(ch byte) error {
	p.skipWhitespaceAndComments()
	if p.peek() != ch {
		return p.errorf("expected '%c'", ch)
	}
	p.pos++
	return nil
}

func (p *TriGParser) peek() byte {
	if p.pos >= p.length {
		return 0
	}
	return p.input[p.pos]
}

func (p *TriGParser) isPrefixedNameStart() bool {
	ch := p.peek()
	return ch == ':' || isAlpha(ch) || ch >= 0x80
}

// skipWhitespaceAndComments skips whitespace and comments
func (p *TriGParser) skipWhitespaceAndComments() {
	for p.pos < p.length {
		ch := p.input[p.pos]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			p.pos++
			continue
		}
		if ch == '#' {
			for p.pos < p.length && p.input[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		break
	}
}

// matchKeyword consumes keyword (case-insensitive) when followed by a delimiter
func (p *TriGParser) matchKeyword(keyword string) bool {
	end := p.pos + len(keyword)
	if end > p.length || !strings.EqualFold(p.input[p.pos:end], keyword) {
		return false
	}
	if end < p.length && !isDelimiter(p.input[end]) {
		return false
	}
	p.pos = end
	return true
}

// errorf builds a SyntaxError at the current position
func (p *TriGParser) errorf(format string, args ...any) error {
	line, col := 1, 1
	for i := 0; i < p.pos && i < p.length; i++ {
		if p.input[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isNameChar(ch byte) bool {
	return isAlpha(ch) || isDigit(ch) || ch == '_' || ch == '-' || ch == '.' || ch >= 0x80
}

func isDelimiter(ch byte) bool {
	return !(isAlpha(ch) || isDigit(ch) || ch == '_' || ch == '-' || ch == ':')
}
