package parser

import (
	"fmt"
	"strings"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// builtins lists the function-like keywords accepted in expressions
var builtins = map[string]bool{
	"BOUND": true, "IF": true, "COALESCE": true, "SAMETERM": true,
	"ISIRI": true, "ISURI": true, "ISBLANK": true, "ISLITERAL": true, "ISNUMERIC": true,
	"STR": true, "LANG": true, "DATATYPE": true, "LANGMATCHES": true,
	"IRI": true, "URI": true, "BNODE": true, "STRDT": true, "STRLANG": true,
	"STRLEN": true, "UCASE": true, "LCASE": true, "CONTAINS": true,
	"STRSTARTS": true, "STRENDS": true, "STRBEFORE": true, "STRAFTER": true,
	"CONCAT": true, "SUBSTR": true, "REPLACE": true, "REGEX": true, "ENCODE_FOR_URI": true,
	"ABS": true, "CEIL": true, "FLOOR": true, "ROUND": true, "RAND": true,
	"NOW": true, "YEAR": true, "MONTH": true, "DAY": true, "HOURS": true,
	"MINUTES": true, "SECONDS": true, "TIMEZONE": true, "TZ": true,
	"MD5": true, "SHA1": true, "SHA256": true, "SHA384": true, "SHA512": true,
	"UUID": true, "STRUUID": true,
}

// aggregates lists the aggregate function names
var aggregates = map[string]bool{
	"COUNT": true, "SUM": true, "MIN": true, "MAX": true,
	"AVG": true, "SAMPLE": true, "GROUP_CONCAT": true,
}

// Expression parsing with operator precedence
// Grammar:
// Expression → LogicalOrExpression
// LogicalOrExpression → LogicalAndExpression ( '||' LogicalAndExpression )*
// LogicalAndExpression → ComparisonExpression ( '&&' ComparisonExpression )*
// ComparisonExpression → AdditiveExpression ( ('=' | '!=' | '<' | '<=' | '>' | '>=') AdditiveExpression | [NOT] IN list )?
// AdditiveExpression → MultiplicativeExpression ( ('+' | '-') MultiplicativeExpression )*
// MultiplicativeExpression → UnaryExpression ( ('*' | '/') UnaryExpression )*
// UnaryExpression → ('!' | '-' | '+')? PrimaryExpression
// PrimaryExpression → Variable | Term | FunctionCall | Aggregate | '(' Expression ')'

// parseExpression parses a SPARQL expression (entry point)
func (p *Parser) parseExpression() (Expression, error) {
	return p.parseLogicalOrExpression()
}

// parseConstraint parses a FILTER / HAVING / ORDER BY constraint:
// a bracketted expression or a function call
func (p *Parser) parseConstraint() (Expression, error) {
	p.skipWhitespace()
	if p.peek() == '(' {
		return p.parseBrackettedExpression()
	}
	if p.lookingAtKeyword("NOT") || p.lookingAtKeyword("EXISTS") {
		return p.parsePrimaryExpression()
	}
	expr, err := p.parsePrimaryExpression()
	if err != nil {
		return nil, err
	}
	switch expr.(type) {
	case *FunctionCallExpression, *AggregateExpression, *ExistsExpression:
		return expr, nil
	}
	return nil, p.errorf("expected '(' or a function call in constraint")
}

func (p *Parser) parseBrackettedExpression() (Expression, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseLogicalOrExpression parses logical OR (lowest precedence)
func (p *Parser) parseLogicalOrExpression() (Expression, error) {
	left, err := p.parseLogicalAndExpression()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if !p.match("||") {
			return left, nil
		}
		right, err := p.parseLogicalAndExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Left: left, Operator: OpOr, Right: right}
	}
}

// parseLogicalAndExpression parses logical AND
func (p *Parser) parseLogicalAndExpression() (Expression, error) {
	left, err := p.parseComparisonExpression()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if !p.match("&&") {
			return left, nil
		}
		right, err := p.parseComparisonExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Left: left, Operator: OpAnd, Right: right}
	}
}

// parseComparisonExpression parses comparison operators and IN/NOT IN
func (p *Parser) parseComparisonExpression() (Expression, error) {
	left, err := p.parseAdditiveExpression()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()

	savedPos := p.pos
	notIn := false
	switch {
	case p.matchKeyword("NOT"):
		if !p.matchKeyword("IN") {
			p.pos = savedPos
			return left, nil
		}
		notIn = true
	case p.matchKeyword("IN"):
	default:
		var op Operator
		switch {
		case p.match("<="):
			op = OpLessThanOrEqual
		case p.match(">="):
			op = OpGreaterThanOrEqual
		case p.match("!="):
			op = OpNotEqual
		case p.match("="):
			op = OpEqual
		case p.match("<"):
			op = OpLessThan
		case p.match(">"):
			op = OpGreaterThan
		default:
			return left, nil
		}

		right, err := p.parseAdditiveExpression()
		if err != nil {
			return nil, err
		}
		return &BinaryExpression{Left: left, Operator: op, Right: right}, nil
	}

	values, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	return &InExpression{Not: notIn, Expression: left, Values: values}, nil
}

// parseExpressionList parses ( expr, expr, ... ), possibly empty
func (p *Parser) parseExpressionList() ([]Expression, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}

	var values []Expression
	p.skipWhitespace()
	if p.peek() == ')' {
		p.advance()
		return values, nil
	}

	for {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		values = append(values, expr)

		p.skipWhitespace()
		if p.peek() != ',' {
			break
		}
		p.advance()
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return values, nil
}

// parseAdditiveExpression parses addition and subtraction
func (p *Parser) parseAdditiveExpression() (Expression, error) {
	left, err := p.parseMultiplicativeExpression()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		var op Operator
		if p.match("+") {
			op = OpAdd
		} else if p.match("-") {
			op = OpSubtract
		} else {
			return left, nil
		}

		right, err := p.parseMultiplicativeExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Left: left, Operator: op, Right: right}
	}
}

// parseMultiplicativeExpression parses multiplication and division
func (p *Parser) parseMultiplicativeExpression() (Expression, error) {
	left, err := p.parseUnaryExpression()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		var op Operator
		if p.match("*") {
			op = OpMultiply
		} else if p.match("/") {
			op = OpDivide
		} else {
			return left, nil
		}

		right, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Left: left, Operator: op, Right: right}
	}
}

// parseUnaryExpression parses unary operators
func (p *Parser) parseUnaryExpression() (Expression, error) {
	p.skipWhitespace()

	if p.peek() == '!' && p.peekAt(1) != '=' {
		p.advance()
		operand, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		return &UnaryExpression{Operator: OpNot, Operand: operand}, nil
	}

	if (p.peek() == '-' || p.peek() == '+') && !isDigit(p.peekAt(1)) {
		negate := p.peek() == '-'
		p.advance()
		operand, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		if !negate {
			return operand, nil
		}
		return &UnaryExpression{Operator: OpNegate, Operand: operand}, nil
	}

	return p.parsePrimaryExpression()
}

// parsePrimaryExpression parses variables, terms, function calls, aggregates
// and parenthesized expressions
func (p *Parser) parsePrimaryExpression() (Expression, error) {
	p.skipWhitespace()

	if p.matchKeyword("NOT") {
		if !p.matchKeyword("EXISTS") {
			return nil, p.errorf("expected EXISTS after NOT")
		}
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &ExistsExpression{Not: true, Pattern: pattern}, nil
	}
	if p.matchKeyword("EXISTS") {
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &ExistsExpression{Pattern: pattern}, nil
	}

	ch := p.peek()

	if ch == '(' {
		return p.parseBrackettedExpression()
	}

	if ch == '?' || ch == '$' {
		variable, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		return &VariableExpression{Variable: variable}, nil
	}

	// Keyword function or aggregate: a bare word followed by '('
	if isAlpha(ch) {
		savedPos := p.pos
		word := p.readWhile(func(c byte) bool { return isAlpha(c) || isDigit(c) || c == '_' })
		if p.peek() != ':' {
			name := strings.ToUpper(word)
			p.skipWhitespace()
			if p.peek() == '(' {
				if aggregates[name] {
					return p.parseAggregate(name)
				}
				if builtins[name] {
					return p.parseFunctionArgs(name)
				}
				p.pos = savedPos
				return nil, p.errorf("unknown function %s", word)
			}
			if name != "TRUE" && name != "FALSE" {
				p.pos = savedPos
				return nil, p.errorf("unexpected keyword %q in expression", word)
			}
		}
		p.pos = savedPos
	}

	termOrVar, err := p.parseTermOrVariable()
	if err != nil {
		return nil, fmt.Errorf("expected expression: %w", err)
	}
	if termOrVar.Variable != nil {
		return &VariableExpression{Variable: termOrVar.Variable}, nil
	}

	// An IRI followed by '(' is a function call, e.g. xsd:integer(?x)
	if iri, ok := termOrVar.Term.(*rdf.NamedNode); ok {
		p.skipWhitespace()
		if p.peek() == '(' {
			return p.parseFunctionArgs(iri.IRI)
		}
	}
	return &LiteralExpression{Literal: termOrVar.Term}, nil
}

// parseFunctionArgs parses the argument list of a function call
func (p *Parser) parseFunctionArgs(name string) (Expression, error) {
	p.skipWhitespace()
	// BNODE() and the like take an empty list; NIL is written ()
	args, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	if err := checkArity(name, len(args)); err != nil {
		return nil, p.errorf("%v", err)
	}
	return &FunctionCallExpression{Function: name, Arguments: args}, nil
}

// parseAggregate parses COUNT([DISTINCT] *|expr), GROUP_CONCAT(... ; SEPARATOR=",") and friends
func (p *Parser) parseAggregate(name string) (Expression, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	agg := &AggregateExpression{Function: name, Separator: " "}
	agg.Distinct = p.matchKeyword("DISTINCT")

	p.skipWhitespace()
	if p.peek() == '*' {
		if name != "COUNT" {
			return nil, p.errorf("%s(*) is not allowed", name)
		}
		p.advance()
	} else {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		agg.Argument = arg
	}

	p.skipWhitespace()
	if name == "GROUP_CONCAT" && p.peek() == ';' {
		p.advance()
		if !p.matchKeyword("SEPARATOR") {
			return nil, p.errorf("expected SEPARATOR")
		}
		if err := p.expect('='); err != nil {
			return nil, err
		}
		p.skipWhitespace()
		sep, err := p.parseString()
		if err != nil {
			return nil, err
		}
		agg.Separator = sep
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return agg, nil
}

// checkArity validates argument counts of builtins with fixed signatures
func checkArity(name string, n int) error {
	var min, max int
	switch name {
	case "RAND", "NOW", "UUID", "STRUUID":
		min, max = 0, 0
	case "BNODE":
		min, max = 0, 1
	case "BOUND", "ISIRI", "ISURI", "ISBLANK", "ISLITERAL", "ISNUMERIC", "STR", "LANG",
		"DATATYPE", "IRI", "URI", "STRLEN", "UCASE", "LCASE", "ENCODE_FOR_URI", "ABS",
		"CEIL", "FLOOR", "ROUND", "YEAR", "MONTH", "DAY", "HOURS", "MINUTES", "SECONDS",
		"TIMEZONE", "TZ", "MD5", "SHA1", "SHA256", "SHA384", "SHA512":
		min, max = 1, 1
	case "LANGMATCHES", "CONTAINS", "STRSTARTS", "STRENDS", "STRBEFORE", "STRAFTER",
		"SAMETERM", "STRDT", "STRLANG":
		min, max = 2, 2
	case "SUBSTR", "REGEX":
		min, max = 2, 3
	case "REPLACE":
		min, max = 3, 4
	case "IF":
		min, max = 3, 3
	case "CONCAT", "COALESCE":
		return nil
	default:
		// IRI functions (casts) take one argument
		if strings.Contains(name, ":") {
			min, max = 1, 1
		} else {
			return nil
		}
	}
	if n < min || n > max {
		if min == max {
			return fmt.Errorf("%s expects %d argument(s), got %d", name, min, n)
		}
		return fmt.Errorf("%s expects %d to %d arguments, got %d", name, min, max, n)
	}
	return nil
}
