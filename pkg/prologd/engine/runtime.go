package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/ichiban/prolog"
	pl "github.com/ichiban/prolog/engine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const interpreterModule = "github.com/ichiban/prolog"

// source is one consulted unit of Prolog text
type source struct {
	name string
	text string
}

// runtimeState is the configuration and knowledge shared by every Context.
// Lock order: an Engine's mu may be held while taking runtimeState.mu, never
// the reverse.
type runtimeState struct {
	mu          sync.Mutex
	initialised bool
	executable  string
	stacks      Stacks
	version     string

	// sources are replayed in order into every interpreter; generation
	// changes whenever they do
	sources    []source
	generation uint64
	engines    map[*Engine]struct{}

	consultMu sync.Mutex
}

var global = runtimeState{engines: make(map[*Engine]struct{})}

// knowledge returns the current sources and their generation
func (rs *runtimeState) knowledge() ([]source, uint64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.sources, rs.generation
}

func (rs *runtimeState) register(e *Engine) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.initialised {
		return false
	}
	rs.engines[e] = struct{}{}
	return true
}

func (rs *runtimeState) forget(e *Engine) {
	rs.mu.Lock()
	delete(rs.engines, e)
	rs.mu.Unlock()
}

// withSource returns sources with src replacing the unit of the same name,
// or appended when there is none
func withSource(sources []source, src source) []source {
	out := make([]source, 0, len(sources)+1)
	replaced := false
	for _, s := range sources {
		if s.name == src.name {
			out = append(out, src)
			replaced = true
			continue
		}
		out = append(out, s)
	}
	if !replaced {
		out = append(out, src)
	}
	return out
}

// libraryVersion reports the interpreter module version linked into the
// binary, without the leading "v"
func libraryVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path != interpreterModule {
			continue
		}
		if dep.Replace != nil {
			dep = dep.Replace
		}
		return strings.TrimPrefix(dep.Version, "v")
	}
	return "unknown"
}

// solutionPredicate reports the bindings of each solution back to Go
const solutionPredicate = "$prologd_solution"

var errHalt = errors.New("halt is not available to service queries")

// session is one interpreter plus the solutions its open queries reported
// and nobody has read yet
type session struct {
	interp *prolog.Interpreter

	mu      sync.Mutex
	pending map[int64]pl.Term
}

// newSession boots an interpreter and consults sources into it in order.
// Output written by Prolog code goes to logger at debug level.
func newSession(ctx context.Context, sources []source, logger *zap.Logger) (*session, error) {
	s := &session{
		interp:  prolog.New(nil, outputWriter(logger)),
		pending: make(map[int64]pl.Term),
	}
	s.interp.Register2(pl.NewAtom(solutionPredicate), s.report)
	s.interp.Register0(pl.NewAtom("halt"), func(*pl.VM, pl.Cont, *pl.Env) *pl.Promise {
		return pl.Error(errHalt)
	})
	s.interp.Register1(pl.NewAtom("halt"), func(*pl.VM, pl.Term, pl.Cont, *pl.Env) *pl.Promise {
		return pl.Error(errHalt)
	})
	for _, src := range sources {
		if err := s.interp.ExecContext(ctx, src.text); err != nil {
			return nil, &loadError{source: src.name, err: err}
		}
	}
	return s, nil
}

// report is '$prologd_solution'(QueryID, Bindings). It keeps a resolved
// copy of Bindings for the query and succeeds once.
func (s *session) report(_ *pl.VM, id, bindings pl.Term, k pl.Cont, env *pl.Env) *pl.Promise {
	n, ok := env.Resolve(id).(pl.Integer)
	if !ok {
		return pl.Bool(false)
	}
	s.mu.Lock()
	s.pending[int64(n)] = env.Simplify(bindings)
	s.mu.Unlock()
	return k(env)
}

// take removes and returns the bindings reported for query id
func (s *session) take(id int64) (pl.Term, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[id]
	delete(s.pending, id)
	return t, ok
}

// loadError reports a source the interpreter refused
type loadError struct {
	source string
	err    error
}

func (e *loadError) Error() string { return fmt.Sprintf("load %s: %v", e.source, e.err) }
func (e *loadError) Unwrap() error { return e.err }

func outputWriter(logger *zap.Logger) io.Writer {
	std, err := zap.NewStdLogAt(logger.Named("output"), zapcore.DebugLevel)
	if err != nil {
		return io.Discard
	}
	return std.Writer()
}
