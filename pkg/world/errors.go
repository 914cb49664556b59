package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/search"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/sparql/executor"
)

const genericFailure = "internal error, please retry later"

// ParseError is malformed SPARQL or RDF input
type ParseError struct {
	Msg      string
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("parse error near %q: %s", e.Fragment, e.Msg)
	}
	return "parse error: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExecutionError is a well formed request that failed while being
// evaluated, such as clearing a graph that does not exist
type ExecutionError struct {
	Msg string
	Err error
}

func (e *ExecutionError) Error() string { return "execution error: " + e.Msg }

func (e *ExecutionError) Unwrap() error { return e.Err }

// NotFoundError is a missing world. Worlds of other tenants are reported
// as missing too.
type NotFoundError struct {
	WorldID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("world %q not found", e.WorldID) }

func (e *NotFoundError) Unwrap() error { return blob.ErrNotFound }

// Quota reasons
const (
	ReasonRateLimit = "rate_limit"
	ReasonPlan      = "plan"
)

// QuotaExceededError is a denied rate limit consumption or a plan limit
type QuotaExceededError struct {
	Reason         string
	Remaining      int
	ResetAtEpochMs int64
	Limit          int
	RetryAfter     time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded (%s): limit %d, remaining %d, resets at %d", e.Reason, e.Limit, e.Remaining, e.ResetAtEpochMs)
}

// RateLimit returns the consumption result the error was built from
func (e *QuotaExceededError) RateLimit() ratelimit.Result {
	return ratelimit.Result{
		Remaining:      e.Remaining,
		ResetAtEpochMs: e.ResetAtEpochMs,
		Limit:          e.Limit,
		RetryAfter:     e.RetryAfter,
	}
}

// ConflictError is a rate limit bucket that kept changing under every retry
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string { return "conflict: " + e.Err.Error() }

func (e *ConflictError) Unwrap() error { return e.Err }

// SyncError is a search index failure; the commit it belonged to was aborted
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string { return "search index sync failed: " + e.Err.Error() }

func (e *SyncError) Unwrap() error { return e.Err }

// PublicMessage hides backend details
func (e *SyncError) PublicMessage() string { return genericFailure }

// StorageError is a blob read or write failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("blob storage %s failed: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// PublicMessage hides backend details
func (e *StorageError) PublicMessage() string { return genericFailure }

// TimeoutError is a request that outlived its deadline. A write that had
// not started committing when the deadline passed was not applied.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("request timed out after %s", e.After) }

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// UnsupportedError is a format or operation this service does not handle
type UnsupportedError struct {
	Msg string
	Err error
}

func (e *UnsupportedError) Error() string { return "unsupported: " + e.Msg }

func (e *UnsupportedError) Unwrap() error { return e.Err }

// PublicMessage returns the message safe to show to a client
func PublicMessage(err error) string {
	var p interface{ PublicMessage() string }
	if errors.As(err, &p) {
		return p.PublicMessage()
	}
	if isTaxonomy(err) {
		return err.Error()
	}
	return genericFailure
}

func isTaxonomy(err error) bool {
	var (
		parse   *ParseError
		exec    *ExecutionError
		missing *NotFoundError
		quota   *QuotaExceededError
		cas     *ConflictError
		syncErr *SyncError
		stor    *StorageError
		timeout *TimeoutError
		unsupp  *UnsupportedError
	)
	return errors.As(err, &parse) || errors.As(err, &exec) || errors.As(err, &missing) ||
		errors.As(err, &quota) || errors.As(err, &cas) || errors.As(err, &syncErr) ||
		errors.As(err, &stor) || errors.As(err, &timeout) || errors.As(err, &unsupp)
}

// Classify maps an error of a lower layer into the error taxonomy. Errors
// already in the taxonomy and unknown errors are returned unchanged.
func Classify(err error) error {
	if err == nil || isTaxonomy(err) {
		return err
	}

	var (
		sparqlParse *sparql.ParseError
		unsupported *executor.UnsupportedError
		sparqlExec  *sparql.ExecutionError
		syntax      *codec.SyntaxError
		format      *codec.UnsupportedFormatError
		compression *codec.CompressionError
		syncErr     *search.SyncError
		bucketRace  *ratelimit.ConflictError
	)
	switch {
	case errors.As(err, &sparqlParse):
		return &ParseError{Msg: sparqlParse.Msg, Fragment: sparqlParse.Fragment, Err: err}
	case errors.As(err, &unsupported):
		return &UnsupportedError{Msg: unsupported.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{}
	case errors.As(err, &sparqlExec):
		return &ExecutionError{Msg: sparqlExec.Msg, Err: err}
	case errors.As(err, &syntax):
		return &ParseError{Msg: syntax.Error(), Err: err}
	case errors.As(err, &format):
		return &UnsupportedError{Msg: format.Error(), Err: err}
	case errors.As(err, &compression):
		return &ParseError{Msg: compression.Error(), Err: err}
	case errors.As(err, &syncErr):
		return &SyncError{Err: err}
	case errors.As(err, &bucketRace):
		return &ConflictError{Err: err}
	case errors.Is(err, blob.ErrNotFound):
		return &NotFoundError{}
	}
	return err
}
