package executor

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql/parser"
	"github.com/aleksaelezovic/worlds/pkg/store"
)

// UnsupportedError marks an operation the executor refuses to run, such as
// LOAD of a remote document
type UnsupportedError struct {
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported", e.Operation)
}

// ExecuteUpdate applies the operations of an update request to the
// executor's store in order. It stops at the first failing operation; the
// caller stages the store so that a failure can be discarded.
func (e *Executor) ExecuteUpdate(ctx context.Context, update *parser.Update) error {
	for i, op := range update.Operations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.executeOperation(ctx, op); err != nil {
			if len(update.Operations) > 1 {
				return fmt.Errorf("operation %d (%s): %w", i+1, op.Kind, err)
			}
			return err
		}
	}
	return nil
}

func (e *Executor) executeOperation(ctx context.Context, op *parser.UpdateOperation) error {
	switch op.Kind {
	case parser.UpdateInsertData:
		quads := instantiateTemplate(op.Insert, store.NewBinding(), nil, make(map[string]*rdf.BlankNode))
		e.store.AddMany(quads)
		return nil

	case parser.UpdateDeleteData:
		quads := instantiateTemplate(op.Delete, store.NewBinding(), nil, nil)
		e.store.RemoveMany(quads)
		return nil

	case parser.UpdateDeleteWhere, parser.UpdateModify:
		return e.executeModify(ctx, op)

	case parser.UpdateLoad:
		if op.Silent {
			return nil
		}
		return &UnsupportedError{Operation: "LOAD"}

	case parser.UpdateClear, parser.UpdateDrop:
		return e.executeClear(op)

	case parser.UpdateCreate:
		// graphs exist implicitly while they hold quads
		if !op.Silent && e.graphExists(op.Target.IRI) {
			return fmt.Errorf("graph %s already exists", op.Target.IRI)
		}
		return nil

	case parser.UpdateAdd, parser.UpdateMove, parser.UpdateCopy:
		return e.executeTransfer(op)
	}
	return fmt.Errorf("unsupported update operation %s", op.Kind)
}

// executeModify evaluates WHERE once, then removes every instantiated
// DELETE quad and adds every instantiated INSERT quad
func (e *Executor) executeModify(ctx context.Context, op *parser.UpdateOperation) error {
	ds := dataset{}
	var templateGraph rdf.Term
	if op.With != nil {
		ds = withDefault(op.With)
		templateGraph = op.With
	}
	if op.Using != nil {
		ds = datasetFrom(op.Using)
	}

	x := e.newExecution(ctx, ds)
	bindings, err := x.collect(x.optimizer.OptimizePattern(op.Where))
	if err != nil {
		return err
	}

	var deletes, inserts []*rdf.Quad
	for _, binding := range bindings {
		deletes = append(deletes, instantiateTemplate(op.Delete, binding, templateGraph, nil)...)
		inserts = append(inserts, instantiateTemplate(op.Insert, binding, templateGraph, make(map[string]*rdf.BlankNode))...)
	}

	e.store.RemoveMany(deletes)
	e.store.AddMany(inserts)
	return nil
}

func (e *Executor) executeClear(op *parser.UpdateOperation) error {
	switch op.Target.Kind {
	case parser.GraphRefIRI:
		if !e.graphExists(op.Target.IRI) {
			if op.Silent {
				return nil
			}
			return fmt.Errorf("graph %s does not exist", op.Target.IRI)
		}
		e.store.DeleteGraph(op.Target.IRI)
	case parser.GraphRefDefault:
		e.store.DeleteGraph(rdf.NewDefaultGraph())
	case parser.GraphRefNamed:
		for _, g := range e.store.Graphs() {
			if g.Type() != rdf.TermTypeDefaultGraph {
				e.store.DeleteGraph(g)
			}
		}
	case parser.GraphRefAll:
		e.store.RemoveMatching(nil, nil, nil, nil)
	}
	return nil
}

// executeTransfer implements ADD, MOVE and COPY
func (e *Executor) executeTransfer(op *parser.UpdateOperation) error {
	src := graphRefTerm(op.Target)
	dst := graphRefTerm(op.Destination)

	if src.Equals(dst) {
		return nil
	}
	if src.Type() != rdf.TermTypeDefaultGraph && !e.graphExists(src) {
		if op.Silent {
			return nil
		}
		return fmt.Errorf("graph %s does not exist", src)
	}

	quads := e.store.Match(nil, nil, nil, src)
	moved := make([]*rdf.Quad, len(quads))
	for i, q := range quads {
		moved[i] = rdf.NewQuad(q.Subject, q.Predicate, q.Object, dst)
	}

	if op.Kind != parser.UpdateAdd {
		e.store.DeleteGraph(dst)
	}
	e.store.AddMany(moved)
	if op.Kind == parser.UpdateMove {
		e.store.DeleteGraph(src)
	}
	return nil
}

func graphRefTerm(ref *parser.GraphRef) rdf.Term {
	if ref.Kind == parser.GraphRefDefault {
		return rdf.NewDefaultGraph()
	}
	return ref.IRI
}

func (e *Executor) graphExists(g rdf.Term) bool {
	for _, existing := range e.store.Graphs() {
		if existing.Equals(g) {
			return true
		}
	}
	return false
}
