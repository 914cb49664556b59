// Package sparql evaluates SPARQL 1.1 queries and updates against a quad
// store.
package sparql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/executor"
	"github.com/aleksaelezovic/worlds/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// ResultKind is the shape of a Result
type ResultKind string

const (
	KindBindings ResultKind = "bindings"
	KindBoolean  ResultKind = "boolean"
	KindQuads    ResultKind = "quads"
	KindVoid     ResultKind = "void"
)

// QuadVariables are the variables quad results are reported under when
// written as bindings
var QuadVariables = []string{"subject", "predicate", "object", "graph"}

// Result is the outcome of one Execute call
type Result struct {
	Kind ResultKind

	// bindings
	Variables []string
	Rows      []*store.Binding

	// boolean
	Value bool

	// quads
	Quads []*rdf.Quad
}

// ParseError reports malformed or unsupported SPARQL text
type ParseError struct {
	Msg      string
	Pos      int
	Fragment string
}

func (e *ParseError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("parse error at offset %d near %q: %s", e.Pos, e.Fragment, e.Msg)
}

// ExecutionError reports a failure while evaluating a parsed request
type ExecutionError struct {
	Msg string
	Err error
}

func (e *ExecutionError) Error() string {
	return "execution error: " + e.Msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Engine parses, plans and executes SPARQL requests
type Engine struct {
	optimizer *optimizer.Optimizer
}

// NewEngine creates a SPARQL engine
func NewEngine() *Engine {
	return &Engine{optimizer: optimizer.NewOptimizer()}
}

// Execute runs query against s. Updates are staged and applied to s only
// when every operation succeeded, so a failed request leaves s untouched and
// every mutation s observes happens before Execute returns.
func (e *Engine) Execute(ctx context.Context, s store.QuadStore, query string) (*Result, error) {
	start := time.Now()

	form, err := parser.DetectForm(query)
	if err != nil {
		return nil, newParseError(query, err)
	}

	var result *Result
	if form == parser.FormUpdate {
		result, err = e.executeUpdate(ctx, s, query)
	} else {
		result, err = e.executeQuery(ctx, s, query)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"form":     form.String(),
		"kind":     result.Kind,
		"duration": time.Since(start),
	}).Debug("sparql executed")
	return result, nil
}

// IsUpdate reports whether query is an update request. It only looks at the
// prologue and the first keyword, so a malformed body is reported later by
// Execute.
func IsUpdate(query string) (bool, error) {
	form, err := parser.DetectForm(query)
	if err != nil {
		return false, newParseError(query, err)
	}
	return form == parser.FormUpdate, nil
}

func (e *Engine) executeQuery(ctx context.Context, s store.QuadStore, query string) (*Result, error) {
	parsed, err := parser.NewParser(query).Parse()
	if err != nil {
		return nil, newParseError(query, err)
	}

	optimized, err := e.optimizer.Optimize(parsed)
	if err != nil {
		return nil, newExecutionError(err)
	}

	qr, err := executor.NewExecutor(s).Execute(ctx, optimized)
	if err != nil {
		return nil, newExecutionError(err)
	}

	switch r := qr.(type) {
	case *executor.SelectResult:
		return &Result{Kind: KindBindings, Variables: r.Variables, Rows: r.Bindings}, nil
	case *executor.AskResult:
		return &Result{Kind: KindBoolean, Value: r.Result}, nil
	case *executor.ConstructResult:
		return &Result{Kind: KindQuads, Variables: QuadVariables, Quads: r.Quads}, nil
	}
	return nil, &ExecutionError{Msg: fmt.Sprintf("unexpected result type %T", qr)}
}

func (e *Engine) executeUpdate(ctx context.Context, s store.QuadStore, query string) (*Result, error) {
	update, err := parser.NewParser(query).ParseUpdate()
	if err != nil {
		return nil, newParseError(query, err)
	}

	overlay := store.NewOverlay(s)
	if err := executor.NewExecutor(overlay).ExecuteUpdate(ctx, update); err != nil {
		overlay.Discard()
		return nil, newExecutionError(err)
	}
	overlay.Commit()
	return &Result{Kind: KindVoid}, nil
}

func newParseError(query string, err error) *ParseError {
	pe := &ParseError{Msg: err.Error()}
	var perr *parser.Error
	if errors.As(err, &perr) {
		pe.Msg = perr.Msg
		pe.Pos = perr.Pos
		pe.Fragment = fragmentAt(query, perr.Pos)
	}
	return pe
}

func newExecutionError(err error) *ExecutionError {
	return &ExecutionError{Msg: err.Error(), Err: err}
}

// fragmentAt returns a short excerpt of query starting at pos
func fragmentAt(query string, pos int) string {
	const width = 24
	if pos < 0 || pos >= len(query) {
		return ""
	}
	end := min(pos+width, len(query))
	fragment := query[pos:end]
	if i := strings.IndexByte(fragment, '\n'); i >= 0 {
		fragment = fragment[:i]
	}
	return strings.ToValidUTF8(fragment, "")
}
