package rdf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TermType represents the type of an RDF term
type TermType byte

const (
	TermTypeNamedNode TermType = iota + 1
	TermTypeBlankNode
	TermTypeLiteral
	TermTypeDefaultGraph
)

func (t TermType) String() string {
	switch t {
	case TermTypeNamedNode:
		return "NamedNode"
	case TermTypeBlankNode:
		return "BlankNode"
	case TermTypeLiteral:
		return "Literal"
	case TermTypeDefaultGraph:
		return "DefaultGraph"
	default:
		return "Unknown"
	}
}

// Term represents an RDF term (IRI, blank node, literal or the default graph)
type Term interface {
	Type() TermType
	String() string
	Equals(other Term) bool
}

// NamedNode represents an IRI
type NamedNode struct {
	IRI string
}

func NewNamedNode(iri string) *NamedNode {
	return &NamedNode{IRI: iri}
}

func (n *NamedNode) Type() TermType {
	return TermTypeNamedNode
}

func (n *NamedNode) String() string {
	return fmt.Sprintf("<%s>", n.IRI)
}

func (n *NamedNode) Equals(other Term) bool {
	if on, ok := other.(*NamedNode); ok {
		return n.IRI == on.IRI
	}
	return false
}

// BlankNode represents a blank node
type BlankNode struct {
	ID string
}

func NewBlankNode(id string) *BlankNode {
	return &BlankNode{ID: id}
}

func (b *BlankNode) Type() TermType {
	return TermTypeBlankNode
}

func (b *BlankNode) String() string {
	return fmt.Sprintf("_:%s", b.ID)
}

func (b *BlankNode) Equals(other Term) bool {
	if ob, ok := other.(*BlankNode); ok {
		return b.ID == ob.ID
	}
	return false
}

// Literal represents an RDF literal.
//
// At most one of Language and Datatype is set. A literal with neither is an
// xsd:string; a literal with a language tag is an rdf:langString. The
// constructors keep this normalized: an explicit xsd:string datatype is
// dropped and language tags are stored lower-case.
type Literal struct {
	Value    string
	Language string     // for language-tagged strings
	Datatype *NamedNode // for typed literals other than xsd:string
}

func NewLiteral(value string) *Literal {
	return &Literal{Value: value}
}

func NewLiteralWithLanguage(value, language string) *Literal {
	if language == "" {
		return NewLiteral(value)
	}
	return &Literal{Value: value, Language: strings.ToLower(language)}
}

func NewLiteralWithDatatype(value string, datatype *NamedNode) *Literal {
	if datatype == nil || datatype.IRI == XSDString.IRI || datatype.IRI == "" {
		return NewLiteral(value)
	}
	if datatype.IRI == RDFLangString.IRI {
		// a langString without a tag is not well-formed; keep the lexical value
		return NewLiteral(value)
	}
	return &Literal{Value: value, Datatype: datatype}
}

func (l *Literal) Type() TermType {
	return TermTypeLiteral
}

func (l *Literal) String() string {
	result := strconv.Quote(l.Value)
	if l.Language != "" {
		result += "@" + l.Language
	} else if l.Datatype != nil {
		result += "^^" + l.Datatype.String()
	}
	return result
}

// EffectiveDatatype returns the datatype IRI the literal carries, including
// the implicit xsd:string and rdf:langString types.
func (l *Literal) EffectiveDatatype() *NamedNode {
	if l.Language != "" {
		return RDFLangString
	}
	if l.Datatype == nil {
		return XSDString
	}
	return l.Datatype
}

func (l *Literal) Equals(other Term) bool {
	ol, ok := other.(*Literal)
	if !ok {
		return false
	}
	if l.Value != ol.Value {
		return false
	}
	if !strings.EqualFold(l.Language, ol.Language) {
		return false
	}
	return l.EffectiveDatatype().IRI == ol.EffectiveDatatype().IRI
}

// DefaultGraph represents the default graph
type DefaultGraph struct{}

func NewDefaultGraph() *DefaultGraph {
	return &DefaultGraph{}
}

func (d *DefaultGraph) Type() TermType {
	return TermTypeDefaultGraph
}

func (d *DefaultGraph) String() string {
	return "DEFAULT"
}

func (d *DefaultGraph) Equals(other Term) bool {
	_, ok := other.(*DefaultGraph)
	return ok
}

// Quad represents an RDF quad (subject, predicate, object, graph).
// Quads are treated as immutable values once constructed.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// NewQuad creates a quad; a nil graph means the default graph.
func NewQuad(subject, predicate, object, graph Term) *Quad {
	if graph == nil {
		graph = NewDefaultGraph()
	}
	return &Quad{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Graph:     graph,
	}
}

func (q *Quad) String() string {
	return fmt.Sprintf("%s %s %s %s .", q.Subject, q.Predicate, q.Object, q.Graph)
}

// Equals reports structural equality of all four positions.
func (q *Quad) Equals(other *Quad) bool {
	if other == nil {
		return false
	}
	return termEquals(q.Subject, other.Subject) &&
		termEquals(q.Predicate, other.Predicate) &&
		termEquals(q.Object, other.Object) &&
		termEquals(q.graphOrDefault(), other.graphOrDefault())
}

// Key returns a string that is equal for two quads iff they are structurally equal.
func (q *Quad) Key() string {
	return SerializeQuadCanonical(q)
}

// IsDefaultGraph reports whether the quad lives in the default graph.
func (q *Quad) IsDefaultGraph() bool {
	_, ok := q.graphOrDefault().(*DefaultGraph)
	return ok
}

func (q *Quad) graphOrDefault() Term {
	if q.Graph == nil {
		return NewDefaultGraph()
	}
	return q.Graph
}

var (
	ErrInvalidSubject   = errors.New("subject must be an IRI or blank node")
	ErrInvalidPredicate = errors.New("predicate must be an IRI")
	ErrInvalidObject    = errors.New("object must be an IRI, blank node or literal")
	ErrInvalidGraph     = errors.New("graph must be an IRI or the default graph")
)

// Validate checks that every term is allowed in its position.
func (q *Quad) Validate() error {
	switch q.Subject.(type) {
	case *NamedNode, *BlankNode:
	default:
		return ErrInvalidSubject
	}
	if _, ok := q.Predicate.(*NamedNode); !ok {
		return ErrInvalidPredicate
	}
	switch q.Object.(type) {
	case *NamedNode, *BlankNode, *Literal:
	default:
		return ErrInvalidObject
	}
	switch q.graphOrDefault().(type) {
	case *NamedNode, *DefaultGraph:
	default:
		return ErrInvalidGraph
	}
	return nil
}

func termEquals(a, b Term) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
}

// Helper functions for common XSD datatypes
var (
	XSDString   = NewNamedNode("http://www.w3.org/2001/XMLSchema#string")
	XSDInteger  = NewNamedNode("http://www.w3.org/2001/XMLSchema#integer")
	XSDDecimal  = NewNamedNode("http://www.w3.org/2001/XMLSchema#decimal")
	XSDDouble   = NewNamedNode("http://www.w3.org/2001/XMLSchema#double")
	XSDBoolean  = NewNamedNode("http://www.w3.org/2001/XMLSchema#boolean")
	XSDDateTime = NewNamedNode("http://www.w3.org/2001/XMLSchema#dateTime")
	XSDDate     = NewNamedNode("http://www.w3.org/2001/XMLSchema#date")

	RDFType       = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")
	RDFLangString = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#langString")
	RDFFirst      = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#first")
	RDFRest       = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#rest")
	RDFNil        = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#nil")
)

const (
	XSDNamespace = "http://www.w3.org/2001/XMLSchema#"
	RDFNamespace = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
)

func NewIntegerLiteral(value int64) *Literal {
	return NewLiteralWithDatatype(strconv.FormatInt(value, 10), XSDInteger)
}

func NewDecimalLiteral(value float64) *Literal {
	s := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return NewLiteralWithDatatype(s, XSDDecimal)
}

func NewDoubleLiteral(value float64) *Literal {
	return NewLiteralWithDatatype(strconv.FormatFloat(value, 'E', -1, 64), XSDDouble)
}

func NewBooleanLiteral(value bool) *Literal {
	return NewLiteralWithDatatype(strconv.FormatBool(value), XSDBoolean)
}

func NewDateTimeLiteral(value time.Time) *Literal {
	return NewLiteralWithDatatype(value.Format(time.RFC3339Nano), XSDDateTime)
}
