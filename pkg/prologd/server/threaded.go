package server

import (
	"context"
	"errors"
	"sync"

	"github.com/cognicore/prologd/pkg/prologd/engine"
	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Mode selects how eagerly a worker produces solutions
type Mode int

const (
	// Batch computes every solution without waiting for readers
	Batch Mode = iota
	// Incremental computes one solution and waits until it is read
	Incremental
)

func (m Mode) String() string {
	switch m {
	case Batch:
		return "batch"
	case Incremental:
		return "incremental"
	}
	return "unknown"
}

// ThreadedQuery runs a query on a dedicated worker and buffers its
// solutions for readers on other goroutines.
//
// All fields below mu are guarded by it. The worker holds mu only to push a
// solution or to record the end of the query, never while solving.
type ThreadedQuery struct {
	engine *engine.Engine
	query  program.Query
	mode   Mode

	mu        sync.Mutex
	cond      *sync.Cond
	solutions []term.Bindings
	err       error
	closed    bool
	canceled  bool
	produced  int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewThreadedQuery prepares q to run on e. The worker starts with Start.
func NewThreadedQuery(e *engine.Engine, q program.Query, mode Mode) *ThreadedQuery {
	tq := &ThreadedQuery{
		engine: e,
		query:  q,
		mode:   mode,
		done:   make(chan struct{}),
	}
	tq.cond = sync.NewCond(&tq.mu)
	return tq
}

// Start launches the worker. The worker stops on exhaustion, on error or
// when Cancel is called.
func (tq *ThreadedQuery) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	tq.cancel = cancel
	stop := context.AfterFunc(ctx, tq.wake)
	go func() {
		defer stop()
		tq.run(ctx)
	}()
}

// Engine returns the engine the query is bound to
func (tq *ThreadedQuery) Engine() *engine.Engine { return tq.engine }

// Mode returns the production mode
func (tq *ThreadedQuery) Mode() Mode { return tq.mode }

func (tq *ThreadedQuery) wake() {
	tq.mu.Lock()
	tq.canceled = true
	tq.cond.Broadcast()
	tq.mu.Unlock()
}

func (tq *ThreadedQuery) run(ctx context.Context) {
	defer close(tq.done)
	err := engine.With(tq.engine, func(acq *engine.Acquisition) error {
		frame, err := acq.OpenFrame()
		if err != nil {
			return err
		}
		defer frame.Discard()

		q := engine.NewQuery(tq.query)
		if err := q.Open(ctx, acq); err != nil {
			return err
		}
		defer q.Close()

		for ctx.Err() == nil {
			b, ok, err := q.NextSolution(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if !tq.push(b) {
				return nil
			}
		}
		return nil
	})
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	tq.mu.Lock()
	tq.err = err
	tq.closed = true
	tq.cond.Broadcast()
	tq.mu.Unlock()
}

// push buffers b and, in incremental mode, waits for readers to drain the
// buffer. It returns false once the query is canceled.
func (tq *ThreadedQuery) push(b term.Bindings) bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.canceled {
		return false
	}
	tq.solutions = append(tq.solutions, b)
	tq.produced++
	tq.cond.Broadcast()
	if tq.mode == Incremental {
		for len(tq.solutions) > 0 && !tq.canceled {
			tq.cond.Wait()
		}
	}
	return !tq.canceled
}

// await blocks until a solution is buffered, the query closes or ctx is
// done. The caller holds mu.
func (tq *ThreadedQuery) await(ctx context.Context) error {
	if len(tq.solutions) > 0 || tq.closed {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		tq.mu.Lock()
		tq.cond.Broadcast()
		tq.mu.Unlock()
	})
	defer stop()
	for len(tq.solutions) == 0 && !tq.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		tq.cond.Wait()
	}
	return nil
}

// HasSolution reports whether a solution is buffered. With block set it
// waits until one is, or until the query closes. On a closed query with an
// empty buffer it returns false and the error that ended the query, nil
// after a clean exhaustion.
func (tq *ThreadedQuery) HasSolution(ctx context.Context, block bool) (bool, error) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if block {
		if err := tq.await(ctx); err != nil {
			return false, err
		}
	}
	if len(tq.solutions) > 0 {
		return true, nil
	}
	if tq.closed {
		return false, tq.err
	}
	return false, nil
}

// NextSolution pops the oldest buffered solution. It follows the blocking
// rules of HasSolution.
func (tq *ThreadedQuery) NextSolution(ctx context.Context, block bool) (term.Bindings, bool, error) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if block {
		if err := tq.await(ctx); err != nil {
			return nil, false, err
		}
	}
	if len(tq.solutions) == 0 {
		if tq.closed {
			return nil, false, tq.err
		}
		return nil, false, nil
	}
	b := tq.solutions[0]
	tq.solutions[0] = nil
	tq.solutions = tq.solutions[1:]
	tq.cond.Broadcast()
	return b, true, nil
}

// Result reports whether the query ran to its end by itself, and the error
// that ended it. A canceled query did not end by itself.
func (tq *ThreadedQuery) Result() (bool, error) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.closed && !tq.canceled, tq.err
}

// Produced returns the number of solutions the worker has buffered so far
func (tq *ThreadedQuery) Produced() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.produced
}

// Cancel asks the worker to stop and waits until it has released the
// engine
func (tq *ThreadedQuery) Cancel() {
	if tq.cancel != nil {
		tq.cancel()
	}
	tq.Wait()
}

// Wait blocks until the worker has finished
func (tq *ThreadedQuery) Wait() {
	if tq.cancel == nil {
		return
	}
	<-tq.done
}
