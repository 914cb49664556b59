package parser

import (
	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// ParseUpdate parses a SPARQL update request: operations separated by ';',
// each optionally preceded by PREFIX and BASE declarations
func (p *Parser) ParseUpdate() (*Update, error) {
	update := &Update{}

	for {
		if err := p.parsePrologue(); err != nil {
			return nil, err
		}
		if p.pos >= p.length {
			break
		}

		op, err := p.parseUpdateOperation()
		if err != nil {
			return nil, err
		}
		update.Operations = append(update.Operations, op)

		p.skipWhitespace()
		if p.peek() == ';' {
			p.advance()
			continue
		}
		if p.pos < p.length {
			return nil, p.errorf("expected ';' between update operations")
		}
		break
	}

	if len(update.Operations) == 0 {
		return nil, p.errorf("empty update request")
	}
	return update, nil
}

func (p *Parser) parseUpdateOperation() (*UpdateOperation, error) {
	p.skipWhitespace()

	switch {
	case p.matchKeyword("LOAD"):
		op := &UpdateOperation{Kind: UpdateLoad, Silent: p.matchKeyword("SILENT")}
		p.skipWhitespace()
		src, err := p.parseIRIRef()
		if err != nil {
			return nil, err
		}
		op.Source = src
		if p.matchKeyword("INTO") {
			if !p.matchKeyword("GRAPH") {
				return nil, p.errorf("expected GRAPH after INTO")
			}
			iri, err := p.parseIRI()
			if err != nil {
				return nil, err
			}
			op.Destination = &GraphRef{Kind: GraphRefIRI, IRI: iri}
		}
		return op, nil

	case p.matchKeyword("CLEAR"):
		return p.parseGraphManagement(UpdateClear)
	case p.matchKeyword("DROP"):
		return p.parseGraphManagement(UpdateDrop)

	case p.matchKeyword("CREATE"):
		op := &UpdateOperation{Kind: UpdateCreate, Silent: p.matchKeyword("SILENT")}
		if !p.matchKeyword("GRAPH") {
			return nil, p.errorf("expected GRAPH after CREATE")
		}
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		op.Target = &GraphRef{Kind: GraphRefIRI, IRI: iri}
		return op, nil

	case p.matchKeyword("ADD"):
		return p.parseGraphTransfer(UpdateAdd)
	case p.matchKeyword("MOVE"):
		return p.parseGraphTransfer(UpdateMove)
	case p.matchKeyword("COPY"):
		return p.parseGraphTransfer(UpdateCopy)

	case p.matchKeyword("INSERT"):
		if p.matchKeyword("DATA") {
			quads, err := p.parseQuadData(true)
			if err != nil {
				return nil, err
			}
			return &UpdateOperation{Kind: UpdateInsertData, Insert: quads}, nil
		}
		return p.parseModify(nil, false)

	case p.matchKeyword("DELETE"):
		if p.matchKeyword("DATA") {
			quads, err := p.parseQuadData(false)
			if err != nil {
				return nil, err
			}
			return &UpdateOperation{Kind: UpdateDeleteData, Delete: quads}, nil
		}
		if p.matchKeyword("WHERE") {
			return p.parseDeleteWhere()
		}
		return p.parseModify(nil, true)

	case p.matchKeyword("WITH"):
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		switch {
		case p.matchKeyword("DELETE"):
			return p.parseModify(iri, true)
		case p.matchKeyword("INSERT"):
			return p.parseModify(iri, false)
		}
		return nil, p.errorf("expected DELETE or INSERT after WITH")
	}

	return nil, p.errorf("expected an update operation")
}

// parseIRI parses an IRI reference or a prefixed name
func (p *Parser) parseIRI() (*rdf.NamedNode, error) {
	p.skipWhitespace()
	if p.peek() == '<' {
		return p.parseIRIRef()
	}
	return p.parsePrefixedName()
}

// parseGraphManagement parses CLEAR / DROP [SILENT] (GRAPH <g> | DEFAULT | NAMED | ALL)
func (p *Parser) parseGraphManagement(kind UpdateKind) (*UpdateOperation, error) {
	op := &UpdateOperation{Kind: kind, Silent: p.matchKeyword("SILENT")}
	switch {
	case p.matchKeyword("GRAPH"):
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		op.Target = &GraphRef{Kind: GraphRefIRI, IRI: iri}
	case p.matchKeyword("DEFAULT"):
		op.Target = &GraphRef{Kind: GraphRefDefault}
	case p.matchKeyword("NAMED"):
		op.Target = &GraphRef{Kind: GraphRefNamed}
	case p.matchKeyword("ALL"):
		op.Target = &GraphRef{Kind: GraphRefAll}
	default:
		return nil, p.errorf("expected GRAPH, DEFAULT, NAMED or ALL after %s", kind)
	}
	return op, nil
}

// parseGraphTransfer parses ADD / MOVE / COPY [SILENT] from TO to
func (p *Parser) parseGraphTransfer(kind UpdateKind) (*UpdateOperation, error) {
	op := &UpdateOperation{Kind: kind, Silent: p.matchKeyword("SILENT")}

	src, err := p.parseGraphOrDefault()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("TO") {
		return nil, p.errorf("expected TO in %s", kind)
	}
	dst, err := p.parseGraphOrDefault()
	if err != nil {
		return nil, err
	}

	op.Target = src
	op.Destination = dst
	return op, nil
}

func (p *Parser) parseGraphOrDefault() (*GraphRef, error) {
	if p.matchKeyword("DEFAULT") {
		return &GraphRef{Kind: GraphRefDefault}, nil
	}
	p.matchKeyword("GRAPH")
	iri, err := p.parseIRI()
	if err != nil {
		return nil, err
	}
	return &GraphRef{Kind: GraphRefIRI, IRI: iri}, nil
}

// parseModify parses the rest of [WITH <g>] DELETE {..} INSERT {..} USING .. WHERE {..}
// after its first DELETE or INSERT keyword
func (p *Parser) parseModify(with *rdf.NamedNode, deleteFirst bool) (*UpdateOperation, error) {
	op := &UpdateOperation{Kind: UpdateModify, With: with}

	if deleteFirst {
		del, err := p.parseQuadTemplate(false)
		if err != nil {
			return nil, err
		}
		op.Delete = del
		if p.matchKeyword("INSERT") {
			ins, err := p.parseQuadTemplate(true)
			if err != nil {
				return nil, err
			}
			op.Insert = ins
		}
	} else {
		ins, err := p.parseQuadTemplate(true)
		if err != nil {
			return nil, err
		}
		op.Insert = ins
	}

	for p.matchKeyword("USING") {
		named := p.matchKeyword("NAMED")
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		if op.Using == nil {
			op.Using = &Dataset{}
		}
		if named {
			op.Using.Named = append(op.Using.Named, iri)
		} else {
			op.Using.Default = append(op.Using.Default, iri)
		}
	}

	if !p.matchKeyword("WHERE") {
		return nil, p.errorf("expected WHERE clause")
	}
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	op.Where = where
	return op, nil
}

// parseDeleteWhere parses DELETE WHERE { quad pattern }; the pattern is both
// the template and the WHERE clause
func (p *Parser) parseDeleteWhere() (*UpdateOperation, error) {
	start := p.pos
	quads, err := p.parseQuadBlock()
	if err != nil {
		return nil, err
	}
	for _, q := range quads {
		if hasBlankNode(q) {
			return nil, &Error{Pos: start, Msg: "blank nodes are not allowed in DELETE WHERE"}
		}
	}

	where := &GraphPattern{Type: GraphPatternTypeGroup}
	graphs := make(map[string]*GraphPattern)
	for _, q := range quads {
		triple := q.TriplePattern
		if q.Graph == nil {
			where.Elements = append(where.Elements, &PatternElement{Triple: &triple})
			continue
		}
		key := graphKey(q.Graph)
		gp, ok := graphs[key]
		if !ok {
			gp = &GraphPattern{Type: GraphPatternTypeGraph, Graph: q.Graph}
			graphs[key] = gp
			where.Elements = append(where.Elements, &PatternElement{Pattern: gp})
		}
		gp.Elements = append(gp.Elements, &PatternElement{Triple: &triple})
	}

	return &UpdateOperation{Kind: UpdateDeleteWhere, Delete: quads, Where: where}, nil
}

// parseQuadData parses the ground quads of INSERT DATA / DELETE DATA
func (p *Parser) parseQuadData(allowBlank bool) ([]*QuadPattern, error) {
	start := p.pos
	quads, err := p.parseQuadTemplate(allowBlank)
	if err != nil {
		return nil, err
	}
	for _, q := range quads {
		if q.Subject.Variable != nil || q.Predicate.Variable != nil || q.Object.Variable != nil ||
			(q.Graph != nil && q.Graph.Variable != nil) {
			return nil, &Error{Pos: start, Msg: "variables are not allowed in DATA blocks"}
		}
	}
	return quads, nil
}

// parseQuadTemplate parses a template block. Blank nodes stay blank nodes;
// allowBlank=false rejects them (DELETE templates).
func (p *Parser) parseQuadTemplate(allowBlank bool) ([]*QuadPattern, error) {
	saved := p.template
	p.template = true
	defer func() { p.template = saved }()

	start := p.pos
	quads, err := p.parseQuadBlock()
	if err != nil {
		return nil, err
	}
	if !allowBlank {
		for _, q := range quads {
			if hasBlankNode(q) {
				return nil, &Error{Pos: start, Msg: "blank nodes are not allowed in DELETE templates"}
			}
		}
	}
	return quads, nil
}

// parseQuadBlock parses { triples ( GRAPH g { triples } )* }
func (p *Parser) parseQuadBlock() ([]*QuadPattern, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}

	var quads []*QuadPattern
	for {
		p.skipWhitespace()
		switch {
		case p.pos >= p.length:
			return nil, p.errorf("unterminated quad block, expected '}'")
		case p.peek() == '}':
			p.advance()
			return quads, nil
		case p.peek() == '.':
			p.advance()
		case p.matchKeyword("GRAPH"):
			graph, err := p.parseGraphTerm()
			if err != nil {
				return nil, err
			}
			if err := p.expect('{'); err != nil {
				return nil, err
			}
			for {
				p.skipWhitespace()
				if p.peek() == '}' {
					p.advance()
					break
				}
				if p.peek() == '.' {
					p.advance()
					continue
				}
				if p.pos >= p.length {
					return nil, p.errorf("unterminated GRAPH block, expected '}'")
				}
				triples, err := p.parseTriplesSameSubject()
				if err != nil {
					return nil, err
				}
				for _, t := range triples {
					quads = append(quads, &QuadPattern{TriplePattern: *t, Graph: graph})
				}
			}
		default:
			triples, err := p.parseTriplesSameSubject()
			if err != nil {
				return nil, err
			}
			for _, t := range triples {
				quads = append(quads, &QuadPattern{TriplePattern: *t})
			}
		}
	}
}

func hasBlankNode(q *QuadPattern) bool {
	for _, t := range []TermOrVariable{q.Subject, q.Predicate, q.Object} {
		if _, ok := t.Term.(*rdf.BlankNode); ok {
			return true
		}
		if t.Variable != nil && len(t.Variable.Name) > 0 && t.Variable.Name[:1] == BlankVariablePrefix {
			return true
		}
	}
	return false
}

func graphKey(g *GraphTerm) string {
	if g.Variable != nil {
		return "?" + g.Variable.Name
	}
	return g.IRI.IRI
}
