// Package client consumes the query service: it opens queries, reads their
// solutions one at a time or all at once, and closes them.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/rpc"
	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// ServiceClient is the logical query service. *rpc.Transport implements it.
type ServiceClient interface {
	OpenQuery(ctx context.Context, req rpc.OpenQueryRequest) (rpc.OpenQueryResponse, error)
	HasSolution(ctx context.Context, id string) (rpc.HasSolutionResponse, error)
	GetNextSolution(ctx context.Context, id string, closeAfter bool) (rpc.GetNextSolutionResponse, error)
	GetAllSolutions(ctx context.Context, id string) (rpc.GetAllSolutionsResponse, error)
	CloseQuery(ctx context.Context, id string) (rpc.CloseQueryResponse, error)
	Exists(ctx context.Context) bool
}

// Query is a query as seen by the caller of the service. It is not safe
// for concurrent use.
type Query struct {
	text   string
	format server.Format

	client ServiceClient
	id     string
}

// NewGoal returns a query for Prolog goal text such as "member(X, [1,2])"
func NewGoal(goal string) *Query {
	return &Query{text: goal, format: server.FormatProlog}
}

// NewQuery returns a query sent in the JSON form of q
func NewQuery(q program.Query) (*Query, error) {
	text, err := serialization.ToString(serialization.JSONSerializer{}, q)
	if err != nil {
		return nil, err
	}
	return &Query{text: text, format: server.FormatJSON}, nil
}

// Text returns the query as sent to the service
func (q *Query) Text() string { return q.text }

// Format returns the encoding of Text
func (q *Query) Format() server.Format { return q.format }

// ID returns the identifier of the open session, or ""
func (q *Query) ID() string { return q.id }

// IsOpen reports whether the query has a session on the service
func (q *Query) IsOpen() bool { return q.id != "" }

// IsEmpty reports whether the query has no text
func (q *Query) IsEmpty() bool { return strings.TrimSpace(q.text) == "" }

// And returns the conjunction of two goal queries
func (q *Query) And(o *Query) (*Query, error) {
	return q.combine(o, ",", "and")
}

// Or returns the disjunction of two goal queries
func (q *Query) Or(o *Query) (*Query, error) {
	return q.combine(o, ";", "or")
}

func (q *Query) combine(o *Query, op, name string) (*Query, error) {
	if q.IsEmpty() || o.IsEmpty() {
		return nil, fmt.Errorf("empty operand to query operator %s: %w", name, ErrInvalidOperation)
	}
	if q.format != server.FormatProlog || o.format != server.FormatProlog {
		return nil, fmt.Errorf("query operator %s needs goal text: %w", name, ErrInvalidOperation)
	}
	return NewGoal("(" + q.text + ")" + op + "(" + o.text + ")"), nil
}

// Open starts the query on the service. The query must not be open.
func (q *Query) Open(ctx context.Context, sc ServiceClient, mode server.Mode) error {
	if q.IsOpen() {
		return fmt.Errorf("query %s is already open: %w", q.id, ErrInvalidOperation)
	}
	if q.IsEmpty() {
		return fmt.Errorf("cannot open an empty query: %w", ErrInvalidOperation)
	}
	resp, err := sc.OpenQuery(ctx, rpc.OpenQueryRequest{Query: q.text, Format: q.format, Mode: mode})
	if err != nil {
		return &ServiceCallError{Service: "open_query", Err: err}
	}
	if !resp.OK {
		return &QueryFailedError{Description: resp.Error}
	}
	q.client = sc
	q.id = resp.ID
	return nil
}

func (q *Query) requireOpen(op string) error {
	if !q.IsOpen() {
		return fmt.Errorf("%s on a query that is not open: %w", op, ErrInvalidOperation)
	}
	return nil
}

// HasSolution waits until the query has a solution or has ended
func (q *Query) HasSolution(ctx context.Context) (bool, error) {
	if err := q.requireOpen("has solution"); err != nil {
		return false, err
	}
	resp, err := q.client.HasSolution(ctx, q.id)
	if err != nil {
		return false, &ServiceCallError{Service: "has_solution", Err: err}
	}
	if err := checkStatus(resp.Status, q.id, resp.Error); err != nil {
		q.forget(resp.Status)
		return false, err
	}
	return resp.Result, nil
}

// NextSolution returns the next solution, or an invalid Solution once the
// query is exhausted. With closeAfter set the session ends after this read.
func (q *Query) NextSolution(ctx context.Context, closeAfter bool) (term.Solution, error) {
	if err := q.requireOpen("next solution"); err != nil {
		return term.Solution{}, err
	}
	id := q.id
	resp, err := q.client.GetNextSolution(ctx, id, closeAfter)
	if err != nil {
		return term.Solution{}, &ServiceCallError{Service: "get_next_solution", Err: err}
	}
	if closeAfter {
		q.id = ""
	}
	if resp.Status == rpc.NoSolutions {
		return term.Solution{}, nil
	}
	if err := checkStatus(resp.Status, id, resp.Error); err != nil {
		q.forget(resp.Status)
		return term.Solution{}, err
	}
	b, err := rpc.DecodeBindings(resp.Solution)
	if err != nil {
		return term.Solution{}, &DeserializationError{Description: err.Error()}
	}
	return term.NewSolution(b), nil
}

// AllSolutions drains the query. The service closes the session
// afterwards. Reads the service times out are repeated until the query
// ends or ctx is done; on error the solutions read so far are returned.
func (q *Query) AllSolutions(ctx context.Context) ([]term.Solution, error) {
	if err := q.requireOpen("all solutions"); err != nil {
		return nil, err
	}
	id := q.id
	solutions := []term.Solution{}
	for {
		resp, err := q.client.GetAllSolutions(ctx, id)
		if err != nil {
			return solutions, &ServiceCallError{Service: "get_all_solutions", Err: err}
		}
		if resp.Status != rpc.Timeout {
			q.id = ""
		}
		for _, raw := range resp.Solutions {
			b, err := rpc.DecodeBindings(raw)
			if err != nil {
				return solutions, &DeserializationError{Description: err.Error()}
			}
			solutions = append(solutions, term.NewSolution(b))
		}
		if resp.Status == rpc.Timeout && ctx.Err() == nil {
			continue
		}
		if err := checkStatus(resp.Status, id, resp.Error); err != nil {
			return solutions, err
		}
		return solutions, nil
	}
}

// Close ends the session. Closing a query that is not open does nothing.
func (q *Query) Close(ctx context.Context) error {
	if !q.IsOpen() {
		return nil
	}
	id := q.id
	q.id = ""
	resp, err := q.client.CloseQuery(ctx, id)
	if err != nil {
		return &ServiceCallError{Service: "close_query", Err: err}
	}
	return checkStatus(resp.Status, id, "")
}

// forget drops the identifier of a session the service no longer knows
func (q *Query) forget(status rpc.Status) {
	if status == rpc.InvalidID {
		q.id = ""
	}
}

// Once returns the first solution, or an invalid Solution when there is
// none. The session is closed afterwards.
func (q *Query) Once(ctx context.Context, sc ServiceClient) (term.Solution, error) {
	if err := q.Open(ctx, sc, server.Incremental); err != nil {
		return term.Solution{}, err
	}
	return q.NextSolution(ctx, true)
}

// All returns every solution of the query
func (q *Query) All(ctx context.Context, sc ServiceClient) ([]term.Solution, error) {
	if err := q.Open(ctx, sc, server.Batch); err != nil {
		return nil, err
	}
	return q.AllSolutions(ctx)
}

// Incremental opens the query in incremental mode and returns an iterator
// over its solutions
func (q *Query) Incremental(ctx context.Context, sc ServiceClient) (*Proxy, error) {
	if err := q.Open(ctx, sc, server.Incremental); err != nil {
		return nil, err
	}
	return &Proxy{ctx: ctx, query: q}, nil
}
