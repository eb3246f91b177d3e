// Package server runs queries on a fixed pool of engines. Each open query
// owns one engine and one worker until it is closed.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd/engine"
	"github.com/cognicore/prologd/pkg/prologd/internalerr"
	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/store"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Format is the encoding of query text passed to OpenQuery
type Format int

const (
	// FormatProlog is Prolog source text such as "member(X, [1,2])"
	FormatProlog Format = iota
	// FormatJSON is a query serialized with the JSON codec
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatProlog:
		return "prolog"
	case FormatJSON:
		return "json"
	}
	return "unknown"
}

// Journal records the lifecycle of every query session
type Journal interface {
	RecordOpen(ctx context.Context, rec store.QueryRecord) error
	RecordClose(ctx context.Context, id, status, errText string, solutions int) error
}

// Config configures a Server
type Config struct {
	// Engines is the pool size
	Engines int
	// Stacks are the stack sizes of pooled engines; zero fields take the
	// runtime defaults
	Stacks engine.Stacks
	// Overrides replaces Stacks for the named engines
	Overrides map[string]engine.Stacks
	Logger    *zap.Logger
	Journal   Journal
}

// EngineName returns the name of the i-th pooled engine
func EngineName(i int) string {
	return fmt.Sprintf("pooled_engine_%d", i)
}

type session struct {
	id      string
	tq      *ThreadedQuery
	text    string
	opened  time.Time
	readers sync.WaitGroup
	// closing is set under Server.mu once a close has claimed the session
	closing bool
}

// Stats is a snapshot of the pool
type Stats struct {
	Engines  int
	Free     int
	Sessions int
}

// Server owns the engine pool and the open query sessions
type Server struct {
	logger  *zap.Logger
	journal Journal

	mu       sync.Mutex
	engines  []*engine.Engine
	free     []*engine.Engine
	sessions map[string]*session
	entropy  *ulid.MonotonicEntropy
	closed   bool
}

// New creates the engine pool on an initialised runtime
func New(ectx *engine.Context, cfg Config) (*Server, error) {
	if !ectx.IsInitialized() {
		return nil, fmt.Errorf("create server: %w", &engine.InvalidOperationError{Op: "create server", Reason: "runtime not initialised"})
	}
	if cfg.Engines <= 0 {
		return nil, fmt.Errorf("pool size %d: %w", cfg.Engines, internalerr.ErrInvalidConfig)
	}
	s := &Server{
		logger:   logging.OrNop(cfg.Logger),
		journal:  cfg.Journal,
		sessions: make(map[string]*session),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	for i := 0; i < cfg.Engines; i++ {
		name := EngineName(i)
		stacks := cfg.Stacks
		if o, ok := cfg.Overrides[name]; ok {
			stacks = o
		}
		e := ectx.CreateEngine(name, stacks)
		if !e.IsValid() {
			s.shutdownEngines()
			return nil, fmt.Errorf("create engine %s: %w", name, internalerr.ErrInvalidConfig)
		}
		s.engines = append(s.engines, e)
		s.free = append(s.free, e)
	}
	s.logger.Info("engine pool ready", zap.Int("engines", len(s.engines)))
	return s, nil
}

// ParseQuery builds a portable query from text in the given format
func ParseQuery(text string, format Format) (program.Query, error) {
	switch format {
	case FormatProlog:
		goal := strings.TrimSpace(text)
		goal = strings.TrimSuffix(goal, ".")
		if goal == "" {
			return program.Query{}, fmt.Errorf("empty goal: %w", internalerr.ErrInvalidInput)
		}
		return program.NewGoal(goal), nil
	case FormatJSON:
		q, err := serialization.JSONDeserializer{}.DeserializeQuery(strings.NewReader(text))
		if err != nil {
			return program.Query{}, fmt.Errorf("%w: %w", internalerr.ErrInvalidInput, err)
		}
		return q, nil
	}
	return program.Query{}, fmt.Errorf("unknown query format %d: %w", format, internalerr.ErrInvalidInput)
}

// OpenQuery starts a query on a free engine and returns its identifier. It
// does not wait for the first solution.
func (s *Server) OpenQuery(ctx context.Context, text string, format Format, mode Mode) (string, error) {
	q, err := ParseQuery(text, format)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("open query: server %w", internalerr.ErrClosed)
	}
	if len(s.free) == 0 {
		s.mu.Unlock()
		s.logger.Warn("engine pool exhausted", zap.Int("engines", len(s.engines)))
		return "", internalerr.ErrPoolExhausted
	}
	e := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	id := ulid.MustNew(ulid.Now(), s.entropy).String()
	sess := &session{
		id:     id,
		tq:     NewThreadedQuery(e, q, mode),
		text:   text,
		opened: time.Now(),
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	sess.tq.Start()
	s.logger.Debug("query opened",
		zap.String("id", id),
		zap.String("engine", e.Name()),
		zap.String("mode", mode.String()),
		zap.String("query", text))

	if s.journal != nil {
		rec := store.QueryRecord{
			ID:       id,
			Query:    text,
			Format:   format.String(),
			Mode:     mode.String(),
			Engine:   e.Name(),
			Status:   store.StatusOpen,
			OpenedAt: sess.opened,
		}
		if err := s.journal.RecordOpen(ctx, rec); err != nil {
			s.logger.Warn("journal open failed", zap.String("id", id), zap.Error(err))
		}
	}
	return id, nil
}

// lookup returns the session and registers the caller as a reader, so
// that closing waits for it
func (s *Server) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.closing {
		return nil, fmt.Errorf("query %q: %w", id, internalerr.ErrInvalidID)
	}
	sess.readers.Add(1)
	return sess, nil
}

// HasSolution waits until the query has a solution or has ended. An error
// that ended the query is returned once the buffer is empty.
func (s *Server) HasSolution(ctx context.Context, id string) (bool, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	defer sess.readers.Done()
	return sess.tq.HasSolution(ctx, true)
}

// NextSolution waits for and returns the next solution. ok is false once
// the query is exhausted. With closeAfter set the session is closed after
// this read, whatever its outcome.
func (s *Server) NextSolution(ctx context.Context, id string, closeAfter bool) (term.Bindings, bool, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, false, err
	}
	b, ok, err := sess.tq.NextSolution(ctx, true)
	sess.readers.Done()
	if closeAfter {
		s.closeSession(sess.id)
	}
	return b, ok, err
}

// AllSolutions drains the query and closes the session. On failure the
// solutions read before the error are returned with it. When ctx ends
// first the session stays open and the solutions read so far are returned
// with ctx's error.
func (s *Server) AllSolutions(ctx context.Context, id string) ([]term.Bindings, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	var all []term.Bindings
	for {
		b, ok, err := sess.tq.NextSolution(ctx, true)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// the query is still running; the rest can be read later
			sess.readers.Done()
			return all, err
		}
		if err != nil || !ok {
			sess.readers.Done()
			s.closeSession(sess.id)
			return all, err
		}
		all = append(all, b)
	}
}

// Close cancels the query and returns its engine to the pool
func (s *Server) Close(id string) error {
	if !s.closeSession(id) {
		return fmt.Errorf("query %q: %w", id, internalerr.ErrInvalidID)
	}
	return nil
}

// closeSession removes the session, stops its worker and frees the engine.
// It reports false when id is not open.
func (s *Server) closeSession(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.closing {
		s.mu.Unlock()
		return false
	}
	sess.closing = true
	s.mu.Unlock()

	sess.tq.Cancel()
	sess.readers.Wait()

	// the session leaves the table together with the engine's return
	s.mu.Lock()
	delete(s.sessions, id)
	s.free = append(s.free, sess.tq.Engine())
	s.mu.Unlock()

	status, errText := store.StatusClosed, ""
	if done, err := sess.tq.Result(); done {
		status = store.StatusExhausted
		if err != nil {
			status, errText = store.StatusFailed, err.Error()
		}
	}
	s.logger.Debug("query closed",
		zap.String("id", id),
		zap.String("status", status),
		zap.Duration("elapsed", time.Since(sess.opened)))
	if s.journal != nil {
		if err := s.journal.RecordClose(context.Background(), id, status, errText, sess.tq.Produced()); err != nil {
			s.logger.Warn("journal close failed", zap.String("id", id), zap.Error(err))
		}
	}
	return true
}

// Stats returns the pool occupancy. A session is counted until its engine
// is back on the free list, so Engines-Free equals Sessions in every
// snapshot.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Engines: len(s.engines), Free: len(s.free), Sessions: len(s.sessions)}
}

// Shutdown closes every session, waits for the workers and destroys the
// engines. Later OpenQuery calls fail.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.closeSession(id)
	}
	err := s.shutdownEngines()
	s.logger.Info("engine pool shut down", zap.Int("sessions_closed", len(ids)))
	return err
}

func (s *Server) shutdownEngines() error {
	var errs []error
	for _, e := range s.engines {
		if err := e.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
