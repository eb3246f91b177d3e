package client

import (
	"context"
	"errors"

	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Proxy iterates over the solutions of an incremental query:
//
//	p, err := client.NewGoal("member(X, [1,2,3])").Incremental(ctx, sc)
//	...
//	defer p.Close()
//	for p.Next() {
//		use(p.Solution())
//	}
//	if err := p.Err(); err != nil { ... }
//
// The session is closed once the iteration ends.
type Proxy struct {
	ctx   context.Context
	query *Query
	cur   term.Solution
	err   error
	done  bool
}

// Next fetches the next solution. It returns false on exhaustion or error.
func (p *Proxy) Next() bool {
	if p.done {
		return false
	}
	sol, err := p.query.NextSolution(p.ctx, false)
	if err != nil || !sol.IsValid() {
		p.err = err
		p.finish()
		return false
	}
	p.cur = sol
	return true
}

// Solution returns the solution fetched by the last successful Next
func (p *Proxy) Solution() term.Solution { return p.cur }

// Err returns the error that ended the iteration, if any
func (p *Proxy) Err() error { return p.err }

// Close stops the iteration and closes the session
func (p *Proxy) Close() error {
	if p.done {
		return nil
	}
	p.finish()
	return p.err
}

func (p *Proxy) finish() {
	p.done = true
	p.cur = term.Solution{}
	err := p.query.Close(context.WithoutCancel(p.ctx))
	var invalid *InvalidIdentifierError
	if p.err == nil && err != nil && !errors.As(err, &invalid) {
		p.err = err
	}
}
