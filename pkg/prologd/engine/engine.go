package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Stacks holds engine stack sizes in megabytes. Zero fields take the
// runtime defaults. The interpreter grows its stacks on demand, so the
// sizes are recorded and reported but not enforced.
type Stacks struct {
	Global uint64
	Local  uint64
	Trail  uint64
}

// Owner identifies the logical caller holding an engine. Goroutines have no
// identity of their own, so each worker takes an Owner with NewOwner.
type Owner uint64

var lastOwner atomic.Uint64

// NewOwner returns an owner token distinct from every other token
func NewOwner() Owner {
	return Owner(lastOwner.Add(1))
}

// maxOpenQueries bounds the queries one acquisition keeps open at a time
const maxOpenQueries = 64

// Engine owns one interpreter instance. The interpreter is rebuilt from the
// consulted sources whenever they changed since it was last acquired.
type Engine struct {
	name   string
	stacks Stacks
	logger *zap.Logger

	mu         sync.Mutex
	valid      bool
	owner      Owner
	sess       *session
	generation uint64
}

// Name returns the name the engine was created with
func (e *Engine) Name() string { return e.name }

// Stacks returns the stack sizes the engine was created with
func (e *Engine) Stacks() Stacks { return e.stacks }

// IsValid reports whether the engine can still be acquired
func (e *Engine) IsValid() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid
}

// Acquire binds the engine to owner. Acquiring again with the same owner
// succeeds. Prefer AcquireScoped, which pairs the release with the
// acquisition.
func (e *Engine) Acquire(owner Owner) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case !e.valid:
		return &AcquisitionError{Engine: e.name, Reason: "engine is not valid"}
	case e.owner == owner:
		return nil
	case e.owner != 0:
		return &AcquisitionError{Engine: e.name, Reason: "engine is in use by another owner"}
	}
	if err := e.refresh(); err != nil {
		return &AcquisitionError{Engine: e.name, Reason: err.Error()}
	}
	e.owner = owner
	return nil
}

// refresh rebuilds the interpreter when the consulted knowledge moved on.
// e.mu is held.
func (e *Engine) refresh() error {
	sources, gen := global.knowledge()
	if e.sess != nil && gen == e.generation {
		return nil
	}
	sess, err := newSession(context.Background(), sources, e.logger)
	if err != nil {
		return err
	}
	e.sess, e.generation = sess, gen
	e.logger.Debug("engine knowledge loaded",
		zap.String("engine", e.name),
		zap.Int("sources", len(sources)),
		zap.Uint64("generation", gen))
	return nil
}

// Release unbinds the engine from owner
func (e *Engine) Release(owner Owner) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case !e.valid:
		return &ReleaseError{Engine: e.name, Reason: "engine is not valid"}
	case e.owner == 0:
		return &ReleaseError{Engine: e.name, Reason: "engine is not acquired"}
	case e.owner != owner:
		return &ReleaseError{Engine: e.name, Reason: "engine is held by another owner"}
	}
	e.owner = 0
	return nil
}

// Shutdown drops the interpreter. It is a no-op on an engine that is
// already shut down and fails while the engine is acquired.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid {
		return nil
	}
	if e.owner != 0 {
		return &InvalidOperationError{Op: "shutdown", Reason: "engine " + e.name + " is acquired"}
	}
	e.valid = false
	e.sess = nil
	global.forget(e)
	e.logger.Debug("engine destroyed", zap.String("engine", e.name))
	return nil
}

// invalidate is Shutdown on behalf of runtime cleanup, regardless of owner
func (e *Engine) invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.valid = false
	e.owner = 0
	e.sess = nil
}

func (e *Engine) session() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

func (e *Engine) logCreated() {
	size := func(mb uint64) string {
		if mb == 0 {
			return "default"
		}
		return humanize.IBytes(mb << 20)
	}
	e.logger.Debug("engine created",
		zap.String("engine", e.name),
		zap.String("global", size(e.stacks.Global)),
		zap.String("local", size(e.stacks.Local)),
		zap.String("trail", size(e.stacks.Trail)))
}

// Acquisition is a held engine. Release must be called exactly once,
// normally with defer right after AcquireScoped returns.
//
// The acquisition keeps the table of queries opened through it; frames
// mark positions in that table.
type Acquisition struct {
	engine   *Engine
	sess     *session
	owner    Owner
	released bool
	open     []*Query
}

// AcquireScoped binds e to a fresh owner
func AcquireScoped(e *Engine) (*Acquisition, error) {
	owner := NewOwner()
	if err := e.Acquire(owner); err != nil {
		return nil, err
	}
	return &Acquisition{engine: e, sess: e.session(), owner: owner}, nil
}

// With runs fn while holding e, releasing it on every exit path
func With(e *Engine, fn func(*Acquisition) error) (err error) {
	acq, err := AcquireScoped(e)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := acq.Release(); err == nil {
			err = rerr
		}
	}()
	return fn(acq)
}

// Engine returns the held engine
func (a *Acquisition) Engine() *Engine { return a.engine }

// Release closes the queries still open and gives the engine back.
// Further calls are no-ops.
func (a *Acquisition) Release() error {
	if a.released {
		return nil
	}
	a.closeFrom(0, (*Query).Close)
	a.released = true
	return a.engine.Release(a.owner)
}

func (a *Acquisition) usable(op string) error {
	if a.released || a.sess == nil {
		return &InvalidOperationError{Op: op, Reason: "engine is not acquired"}
	}
	return nil
}

func (a *Acquisition) track(q *Query) error {
	if len(a.open) >= maxOpenQueries {
		return &ResourceError{Op: "open query"}
	}
	a.open = append(a.open, q)
	return nil
}

func (a *Acquisition) untrack(q *Query) {
	if i := slices.Index(a.open, q); i >= 0 {
		a.open = slices.Delete(a.open, i, i+1)
	}
}

// closeFrom finishes the queries opened at or after mark, newest first
func (a *Acquisition) closeFrom(mark int, finish func(*Query) error) error {
	var first error
	for len(a.open) > mark {
		q := a.open[len(a.open)-1]
		if err := finish(q); err != nil && first == nil {
			first = err
		}
		a.untrack(q)
	}
	return first
}

// Frame scopes the queries opened on a held engine. Closing the frame cuts
// the queries opened inside it; discarding or rewinding closes them.
type Frame struct {
	acq    *Acquisition
	mark   int
	closed bool
}

// OpenFrame opens a frame at the current end of the query table
func (a *Acquisition) OpenFrame() (*Frame, error) {
	if err := a.usable("open frame"); err != nil {
		return nil, err
	}
	return &Frame{acq: a, mark: len(a.open)}, nil
}

// Close cuts the queries opened inside the frame, keeping the bindings
// already read. Closing twice is a no-op.
func (f *Frame) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.acq.closeFrom(f.mark, (*Query).Cut)
}

// Discard closes the queries opened inside the frame
func (f *Frame) Discard() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.acq.closeFrom(f.mark, (*Query).Close)
}

// Rewind closes the queries opened inside the frame and keeps it open
func (f *Frame) Rewind() error {
	if f.closed {
		return &InvalidOperationError{Op: "rewind frame", Reason: "frame is closed"}
	}
	return f.acq.closeFrom(f.mark, (*Query).Close)
}
