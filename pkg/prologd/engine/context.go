// Package engine binds the portable term model to the embedded Prolog
// interpreter (github.com/ichiban/prolog).
//
// The runtime is process global: every Context value observes the same
// initialisation state and the same consulted knowledge. Each Engine runs
// its own interpreter instance and must be held through an Acquisition
// before any frame or query call.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/serialization"
)

// goalVars caches the variable-name table of goal texts across queries
var goalVars = mustLRU(512)

func mustLRU(size int) *lru.Cache[string, []string] {
	c, err := lru.New[string, []string](size)
	if err != nil {
		panic(err)
	}
	return c
}

// Context is a handle on the process-global Prolog runtime
type Context struct {
	logger *zap.Logger
}

// NewContext returns a Context logging to logger (nil discards logs)
func NewContext(logger *zap.Logger) *Context {
	return &Context{logger: logging.OrNop(logger)}
}

// IsInitialized reports whether the runtime is running
func (c *Context) IsInitialized() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.initialised
}

// SetExecutable sets the executable path recorded for the runtime. It fails
// once the runtime is initialised.
func (c *Context) SetExecutable(path string) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.initialised {
		return &InvalidOperationError{Op: "set executable", Reason: "runtime already initialised"}
	}
	global.executable = path
	return nil
}

// Executable returns the configured executable path
func (c *Context) Executable() string {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.executable
}

// SetStacks sets the default engine stack sizes. It fails once the runtime
// is initialised.
func (c *Context) SetStacks(s Stacks) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.initialised {
		return &InvalidOperationError{Op: "set stacks", Reason: "runtime already initialised"}
	}
	global.stacks = s
	return nil
}

// Stacks returns the default engine stack sizes
func (c *Context) Stacks() Stacks {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.stacks
}

// Version returns the interpreter version recorded by Init, e.g. "1.2.2"
func (c *Context) Version() string {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.version
}

// Init starts the runtime. It returns true when the runtime is running,
// including when it already was, and false when startup failed.
func (c *Context) Init() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.initialised {
		return true
	}
	if global.executable == "" {
		if path, err := os.Executable(); err == nil {
			global.executable = path
		}
	}
	// boot one interpreter so a broken bootstrap fails here and not on
	// the first acquisition
	if _, err := newSession(context.Background(), nil, c.logger); err != nil {
		c.logger.Error("runtime initialisation failed", zap.Error(err))
		return false
	}
	global.initialised = true
	global.version = libraryVersion()
	c.logger.Info("runtime initialised",
		zap.String("version", global.version),
		zap.String("executable", global.executable))
	return true
}

// Cleanup stops the runtime, invalidates every engine and forgets the
// consulted knowledge. It returns false when the runtime was not running.
func (c *Context) Cleanup() bool {
	global.mu.Lock()
	if !global.initialised {
		global.mu.Unlock()
		return false
	}
	engines := make([]*Engine, 0, len(global.engines))
	for e := range global.engines {
		engines = append(engines, e)
	}
	global.engines = make(map[*Engine]struct{})
	global.sources = nil
	global.generation++
	global.version = ""
	global.initialised = false
	global.mu.Unlock()

	for _, e := range engines {
		e.invalidate()
	}
	goalVars.Purge()
	c.logger.Info("runtime cleaned up", zap.Int("engines", len(engines)))
	return true
}

// CreateEngine creates an engine with the given stacks. Without a running
// runtime the returned engine is not valid.
func (c *Context) CreateEngine(name string, stacks Stacks) *Engine {
	e := &Engine{name: name, stacks: stacks, logger: c.logger}
	if !global.register(e) {
		c.logger.Warn("engine creation failed", zap.String("engine", name), zap.String("reason", "runtime not initialised"))
		return e
	}
	e.valid = true
	e.logCreated()
	return e
}

// Consult loads Prolog source text into the shared knowledge. Consulting
// the same source name again replaces the clauses it loaded before.
//
// The text is first loaded into a private interpreter together with the
// sources consulted earlier; only when that succeeds is it published.
// Engines pick the new knowledge up on their next acquisition, so queries
// already running keep the view they started with.
func (c *Context) Consult(ctx context.Context, name, text string) error {
	if !c.IsInitialized() {
		return &InvalidOperationError{Op: "consult", Reason: "runtime not initialised"}
	}
	global.consultMu.Lock()
	defer global.consultMu.Unlock()

	current, _ := global.knowledge()
	next := withSource(current, source{name: name, text: text})
	if _, err := newSession(ctx, next, c.logger); err != nil {
		return fmt.Errorf("consult %s: %w", name, loadFailure(err))
	}

	global.mu.Lock()
	if !global.initialised {
		global.mu.Unlock()
		return &InvalidOperationError{Op: "consult", Reason: "runtime cleaned up during consult"}
	}
	global.sources = next
	global.generation++
	global.mu.Unlock()

	c.logger.Debug("source consulted", zap.String("source", name), zap.Int("bytes", len(text)))
	return nil
}

// LoadProgram consults the clauses of p under the source name name
func (c *Context) LoadProgram(ctx context.Context, name string, p *program.Program) error {
	var sb strings.Builder
	if err := (serialization.PrologSerializer{}).SerializeProgram(&sb, p); err != nil {
		return fmt.Errorf("render program %s: %w", name, err)
	}
	return c.Consult(ctx, name, sb.String())
}
