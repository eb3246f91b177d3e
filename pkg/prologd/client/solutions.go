package client

import (
	"context"

	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Solutions is a lazily filled, replayable list of the bindings of an
// open query
type Solutions struct {
	ctx      context.Context
	query    *Query
	bindings []term.Bindings
	err      error
}

// Solutions returns a lazy view of the query's solutions. Solutions are
// fetched from the service as iteration reaches them and cached, so
// iterating twice does not fetch twice.
func (q *Query) Solutions(ctx context.Context) *Solutions {
	return &Solutions{ctx: ctx, query: q}
}

// All yields the cached bindings, then fetches more until the query is
// exhausted or fails
func (s *Solutions) All() func(yield func(int, term.Bindings) bool) {
	return func(yield func(int, term.Bindings) bool) {
		for i := 0; ; i++ {
			if i == len(s.bindings) && !s.fetch() {
				return
			}
			if !yield(i, s.bindings[i]) {
				return
			}
		}
	}
}

func (s *Solutions) fetch() bool {
	if s.err != nil || !s.query.IsOpen() {
		return false
	}
	sol, err := s.query.NextSolution(s.ctx, false)
	if err != nil {
		s.err = err
		return false
	}
	if !sol.IsValid() {
		s.err = s.query.Close(s.ctx)
		return false
	}
	s.bindings = append(s.bindings, sol.Bindings())
	return true
}

// IsEmpty reports whether no solution has been fetched yet
func (s *Solutions) IsEmpty() bool { return len(s.bindings) == 0 }

// Clear drops the cached bindings
func (s *Solutions) Clear() { s.bindings = nil }

// Err returns the error that stopped fetching, if any
func (s *Solutions) Err() error { return s.err }
