package parser

import (
	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// Query represents a SPARQL query
type Query struct {
	QueryType QueryType
	Select    *SelectQuery
	Construct *ConstructQuery
	Ask       *AskQuery
	Describe  *DescribeQuery
	Dataset   *Dataset // FROM / FROM NAMED, nil when absent
}

// QueryType represents the type of SPARQL query
type QueryType int

const (
	QueryTypeSelect QueryType = iota
	QueryTypeConstruct
	QueryTypeAsk
	QueryTypeDescribe
)

func (t QueryType) String() string {
	switch t {
	case QueryTypeSelect:
		return "SELECT"
	case QueryTypeConstruct:
		return "CONSTRUCT"
	case QueryTypeAsk:
		return "ASK"
	case QueryTypeDescribe:
		return "DESCRIBE"
	}
	return "UNKNOWN"
}

// Dataset holds the graphs named by FROM and FROM NAMED (or USING)
type Dataset struct {
	Default []*rdf.NamedNode
	Named   []*rdf.NamedNode
}

// Modifiers are the solution modifiers shared by SELECT and DESCRIBE
type Modifiers struct {
	GroupBy []*GroupCondition
	Having  []Expression
	OrderBy []*OrderCondition
	Limit   *int
	Offset  *int
}

// SelectQuery represents a SELECT query
type SelectQuery struct {
	Projections []*Projection // nil for SELECT *
	Distinct    bool
	Reduced     bool
	Where       *GraphPattern
	Modifiers
}

// Projection is one SELECT item: a variable, or (expression AS ?variable)
type Projection struct {
	Variable   *Variable
	Expression Expression
}

// ConstructQuery represents a CONSTRUCT query
type ConstructQuery struct {
	Template []*QuadPattern
	Where    *GraphPattern
	Modifiers
}

// AskQuery represents an ASK query
type AskQuery struct {
	Where *GraphPattern
}

// DescribeQuery represents a DESCRIBE query
type DescribeQuery struct {
	Resources []TermOrVariable // IRIs or variables; empty for DESCRIBE *
	Where     *GraphPattern    // optional
	Modifiers
}

// GraphPattern represents a group graph pattern
type GraphPattern struct {
	Type     GraphPatternType
	Elements []*PatternElement // in source order; filters apply to the whole group
	Children []*GraphPattern   // UNION alternatives
	Graph    *GraphTerm        // for GRAPH patterns
}

// GraphPatternType represents the type of graph pattern
type GraphPatternType int

const (
	GraphPatternTypeGroup GraphPatternType = iota
	GraphPatternTypeUnion
	GraphPatternTypeOptional
	GraphPatternTypeGraph
	GraphPatternTypeMinus
)

// PatternElement is one member of a group; exactly one field is set
type PatternElement struct {
	Triple  *TriplePattern
	Filter  *Filter
	Bind    *Bind
	Values  *Values
	Pattern *GraphPattern
}

// TriplePattern represents a triple pattern with possible variables
type TriplePattern struct {
	Subject   TermOrVariable
	Predicate TermOrVariable
	Object    TermOrVariable
}

// QuadPattern is a triple pattern inside an optional GRAPH block, used by
// CONSTRUCT and update templates
type QuadPattern struct {
	TriplePattern
	Graph *GraphTerm // nil for the default graph
}

// TermOrVariable can be either an RDF term or a variable
type TermOrVariable struct {
	Term     rdf.Term
	Variable *Variable
}

// IsVariable returns true if this is a variable
func (t *TermOrVariable) IsVariable() bool {
	return t.Variable != nil
}

// Variable represents a SPARQL variable
type Variable struct {
	Name string
}

// GraphTerm represents a graph name (can be IRI or variable)
type GraphTerm struct {
	IRI      *rdf.NamedNode
	Variable *Variable
}

// Filter represents a FILTER expression
type Filter struct {
	Expression Expression
}

// Bind represents a BIND expression (assigns an expression to a variable)
type Bind struct {
	Expression Expression
	Variable   *Variable
}

// Values is an inline data block; a nil entry in a row is UNDEF
type Values struct {
	Variables []*Variable
	Rows      [][]rdf.Term
}

// Expression represents a SPARQL expression
type Expression interface {
	expressionNode()
}

// BinaryExpression represents a binary operation
type BinaryExpression struct {
	Left     Expression
	Operator Operator
	Right    Expression
}

func (e *BinaryExpression) expressionNode() {}

// UnaryExpression represents a unary operation
type UnaryExpression struct {
	Operator Operator
	Operand  Expression
}

func (e *UnaryExpression) expressionNode() {}

// VariableExpression represents a variable in an expression
type VariableExpression struct {
	Variable *Variable
}

func (e *VariableExpression) expressionNode() {}

// LiteralExpression represents a constant term in an expression
type LiteralExpression struct {
	Literal rdf.Term
}

func (e *LiteralExpression) expressionNode() {}

// FunctionCallExpression represents a builtin call (upper-cased name) or an
// IRI function such as an XSD cast
type FunctionCallExpression struct {
	Function  string
	Arguments []Expression
}

func (e *FunctionCallExpression) expressionNode() {}

// AggregateExpression represents COUNT, SUM, MIN, MAX, AVG, SAMPLE or GROUP_CONCAT
type AggregateExpression struct {
	Function  string
	Distinct  bool
	Argument  Expression // nil for COUNT(*)
	Separator string
}

func (e *AggregateExpression) expressionNode() {}

// ExistsExpression represents EXISTS or NOT EXISTS
type ExistsExpression struct {
	Not     bool
	Pattern *GraphPattern
}

func (e *ExistsExpression) expressionNode() {}

// InExpression represents IN or NOT IN
type InExpression struct {
	Not        bool
	Expression Expression
	Values     []Expression
}

func (e *InExpression) expressionNode() {}

// Operator represents an operator in expressions
type Operator int

const (
	// Logical operators
	OpAnd Operator = iota
	OpOr
	OpNot

	// Comparison operators
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual

	// Arithmetic operators
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNegate
)

// OrderCondition represents an ORDER BY condition
type OrderCondition struct {
	Expression Expression
	Ascending  bool
}

// GroupCondition represents a GROUP BY key, optionally bound to a variable
type GroupCondition struct {
	Expression Expression
	Variable   *Variable
}

// Update is a sequence of update operations separated by ';'
type Update struct {
	Operations []*UpdateOperation
}

// UpdateKind identifies an update operation
type UpdateKind int

const (
	UpdateInsertData UpdateKind = iota
	UpdateDeleteData
	UpdateDeleteWhere
	UpdateModify
	UpdateLoad
	UpdateClear
	UpdateDrop
	UpdateCreate
	UpdateAdd
	UpdateMove
	UpdateCopy
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateInsertData:
		return "INSERT DATA"
	case UpdateDeleteData:
		return "DELETE DATA"
	case UpdateDeleteWhere:
		return "DELETE WHERE"
	case UpdateModify:
		return "MODIFY"
	case UpdateLoad:
		return "LOAD"
	case UpdateClear:
		return "CLEAR"
	case UpdateDrop:
		return "DROP"
	case UpdateCreate:
		return "CREATE"
	case UpdateAdd:
		return "ADD"
	case UpdateMove:
		return "MOVE"
	case UpdateCopy:
		return "COPY"
	}
	return "UNKNOWN"
}

// UpdateOperation is one operation of an update request
type UpdateOperation struct {
	Kind   UpdateKind
	Silent bool

	Delete []*QuadPattern
	Insert []*QuadPattern
	Where  *GraphPattern
	With   *rdf.NamedNode
	Using  *Dataset

	// CLEAR, DROP, CREATE target; ADD, MOVE, COPY source
	Target *GraphRef
	// ADD, MOVE, COPY destination; LOAD INTO
	Destination *GraphRef
	// LOAD source document
	Source *rdf.NamedNode
}

// GraphRefKind selects the graphs a management operation applies to
type GraphRefKind int

const (
	GraphRefIRI GraphRefKind = iota
	GraphRefDefault
	GraphRefNamed
	GraphRefAll
)

// GraphRef is GRAPH <iri>, DEFAULT, NAMED or ALL
type GraphRef struct {
	Kind GraphRefKind
	IRI  *rdf.NamedNode
}
