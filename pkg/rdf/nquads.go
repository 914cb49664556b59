package rdf

// NQuadsParser parses N-Quads: one "<s> <p> <o> [<g>] ." statement per line.
// Lines with three terms belong to the default graph, so N-Triples input is accepted too.
type NQuadsParser struct {
	t *TriGParser
}

// NewNQuadsParser creates a new N-Quads parser
func NewNQuadsParser(input string) *NQuadsParser {
	return &NQuadsParser{t: NewTriGParser(input)}
}

// Parse parses the N-Quads document and returns quads
func (p *NQuadsParser) Parse() ([]*Quad, error) {
	var quads []*Quad
	t := p.t

	for {
		t.skipWhitespaceAndComments()
		if t.pos >= t.length {
			break
		}

		quad, err := p.parseQuad()
		if err != nil {
			return nil, err
		}
		quads = append(quads, quad)

		if err := p.expectEndOfLine(); err != nil {
			return nil, err
		}
	}

	return quads, nil
}

// parseQuad parses a single statement up to and including the final '.'
func (p *NQuadsParser) parseQuad() (*Quad, error) {
	t := p.t

	var subject Term
	var err error
	switch t.peek() {
	case '<':
		subject, err = t.parseIRI()
	case '_':
		subject, err = t.parseBlankNode()
	default:
		return nil, t.errorf("expected IRI or blank node as subject")
	}
	if err != nil {
		return nil, err
	}

	p.skipSpaces()
	if t.peek() != '<' {
		return nil, t.errorf("expected IRI as predicate")
	}
	predicate, err := t.parseIRI()
	if err != nil {
		return nil, err
	}

	p.skipSpaces()
	var object Term
	switch t.peek() {
	case '<':
		object, err = t.parseIRI()
	case '_':
		object, err = t.parseBlankNode()
	case '"':
		object, err = t.parseLiteral()
	default:
		return nil, t.errorf("expected IRI, blank node or literal as object")
	}
	if err != nil {
		return nil, err
	}

	p.skipSpaces()
	var graph Term = NewDefaultGraph()
	switch t.peek() {
	case '<':
		graph, err = t.parseIRI()
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
	case '_':
		return nil, t.errorf("blank node graph names are not supported")
	}

	if t.peek() != '.' {
		return nil, t.errorf("expected '.' at end of statement")
	}
	t.pos++

	return NewQuad(subject, predicate, object, graph), nil
}

// skipSpaces skips blanks inside a statement; statements never span lines
func (p *NQuadsParser) skipSpaces() {
	t := p.t
	for t.pos < t.length && (t.input[t.pos] == ' ' || t.input[t.pos] == '\t') {
		t.pos++
	}
}

func (p *NQuadsParser) expectEndOfLine() error {
	t := p.t
	p.skipSpaces()
	if t.pos >= t.length {
		return nil
	}
	switch t.input[t.pos] {
	case '\n', '\r', '#':
		return nil
	}
	return t.errorf("expected end of line after statement")
}
