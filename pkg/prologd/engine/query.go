package engine

import (
	"context"
	"sync/atomic"

	"github.com/ichiban/prolog"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// State is the lifecycle state of a Query
type State int

const (
	Unopened State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var lastQueryID atomic.Int64

// Query runs a portable query on a held engine.
//
// A query whose only argument is an atom passed to call/1 is treated as
// Prolog source text: the variable names written in the text name the
// bindings of each solution. The module of a query is not used; all
// predicates live in one database.
type Query struct {
	query program.Query
	state State

	acq    *Acquisition
	sess   *session
	id     int64
	names  []string
	sols   *prolog.Solutions
	cancel context.CancelFunc

	// spent is set once the interpreter reported the end of the solutions;
	// failed keeps the error that ended them
	spent  bool
	failed error
}

// NewQuery wraps q; it is opened with Open
func NewQuery(q program.Query) *Query {
	return &Query{query: q}
}

// State returns the lifecycle state
func (q *Query) State() State { return q.state }

// Query returns the portable query being run
func (q *Query) Query() program.Query { return q.query }

// Open renders the query as a goal and starts it on acq. The query keeps
// running after ctx ends; NextSolution takes its own context.
func (q *Query) Open(ctx context.Context, acq *Acquisition) error {
	if q.state != Unopened {
		return &InvalidOperationError{Op: "open query", Reason: "query is " + q.state.String()}
	}
	if !q.query.IsValid() {
		return &InvalidOperationError{Op: "open query", Reason: "query has no predicate"}
	}
	if err := acq.usable("open query"); err != nil {
		return err
	}
	goal, err := goalText(q.query)
	if err != nil {
		return err
	}
	names := variableNames(goal)
	id := lastQueryID.Add(1)

	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sols, err := acq.sess.interp.QueryContext(qctx, wrapGoal(goal, id, names))
	if err != nil {
		cancel()
		return parseError(err)
	}
	if err := acq.track(q); err != nil {
		cancel()
		_ = sols.Close()
		return err
	}
	q.acq, q.sess, q.id, q.names = acq, acq.sess, id, names
	q.sols, q.cancel = sols, cancel
	q.state = Open
	return nil
}

// NextSolution advances the query. It returns false once the query has no
// more solutions, or when the query is not open. A Prolog exception is
// returned as *Exception; when ctx ends first its error is returned and
// the query cannot be resumed.
func (q *Query) NextSolution(ctx context.Context) (term.Bindings, bool, error) {
	if q.state != Open {
		return nil, false, nil
	}
	if q.failed != nil {
		return nil, false, q.failed
	}
	if q.spent {
		return nil, false, nil
	}

	stop := context.AfterFunc(ctx, q.cancel)
	more := q.sols.Next()
	interrupted := !stop()

	if !more {
		q.spent = true
		if err := ctx.Err(); err != nil {
			q.failed = err
		} else if err := q.sols.Err(); err != nil {
			q.failed = solveError(err)
		}
		return nil, false, q.failed
	}
	if interrupted {
		q.failed = ctx.Err()
	}

	raw, ok := q.sess.take(q.id)
	if !ok {
		return nil, false, &ConversionError{Description: "solution reported no bindings"}
	}
	b, err := bindingsOf(raw, q.names)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Cut closes the query keeping the bindings already read. It is safe to
// call in any state.
func (q *Query) Cut() error { return q.finish() }

// Close closes the query discarding its remaining solutions. It is safe to
// call in any state.
func (q *Query) Close() error { return q.finish() }

// finish stops the interpreter goroutine before closing so Close never
// waits on a running goal
func (q *Query) finish() error {
	if q.state != Open {
		q.state = Closed
		return nil
	}
	q.state = Closed
	q.cancel()
	// the goal was cancelled above, so its error carries no news
	_ = q.sols.Close()
	q.sess.take(q.id)
	q.acq.untrack(q)
	return nil
}
