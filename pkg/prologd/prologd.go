// Package prologd assembles the query service: the Prolog runtime, the
// engine pool, persistence, knowledge loading and the HTTP endpoint.
package prologd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd/config"
	"github.com/cognicore/prologd/pkg/prologd/engine"
	"github.com/cognicore/prologd/pkg/prologd/knowledge"
	"github.com/cognicore/prologd/pkg/prologd/rpc"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/store"
	"github.com/cognicore/prologd/pkg/prologd/store/memstore"
	"github.com/cognicore/prologd/pkg/prologd/store/sqlite"
)

// Version is reported by the health endpoint
const Version = "0.3.0"

// Service is the assembled query service
type Service struct {
	cfg     config.Config
	logger  *zap.Logger
	runtime *engine.Context
	store   store.Store
	loader  *knowledge.Loader
	server  *server.Server
	handler *rpc.Handler
	// ownsRuntime is set when New started the runtime
	ownsRuntime bool
}

// Options configures a Service
type Options struct {
	Config config.Config
	Logger *zap.Logger
	// Store replaces the store named by the configuration. The service
	// closes it.
	Store store.Store
}

// New starts the runtime, consults the configured knowledge and creates the
// engine pool. The caller must Close the service.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)
	s := &Service{cfg: cfg, logger: logger, runtime: engine.NewContext(logger)}

	if err := s.startRuntime(); err != nil {
		return nil, err
	}

	st := opts.Store
	if st == nil {
		var err error
		st, err = openStore(ctx, cfg.Store)
		if err != nil {
			s.closeAll()
			return nil, err
		}
	}
	s.store = st
	s.loader = knowledge.NewLoader(s.runtime, st, logger.Named("knowledge"))

	if err := s.loadKnowledge(ctx); err != nil {
		s.closeAll()
		return nil, err
	}

	srv, err := server.New(s.runtime, server.Config{
		Engines:   cfg.Prolog.NumEngines,
		Overrides: overrides(cfg.Prolog.Engines),
		Logger:    logger.Named("server"),
		Journal:   st,
	})
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.server = srv
	s.handler = rpc.NewHandler(srv, rpc.HandlerOptions{
		Logger:  logger.Named("rpc"),
		Timeout: cfg.Server.RequestTimeout,
		Version: Version,
	})
	return s, nil
}

func (s *Service) startRuntime() error {
	if s.runtime.IsInitialized() {
		s.logger.Warn("runtime already running; executable and stack settings ignored")
		return nil
	}
	if s.cfg.Prolog.Executable != "" {
		if err := s.runtime.SetExecutable(s.cfg.Prolog.Executable); err != nil {
			return err
		}
	}
	if err := s.runtime.SetStacks(stacks(s.cfg.Prolog.Stacks)); err != nil {
		return err
	}
	if !s.runtime.Init() {
		return errors.New("prolog runtime failed to start")
	}
	s.ownsRuntime = true
	return nil
}

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	if cfg.Path == "" {
		return memstore.New(), nil
	}
	return sqlite.OpenSQLite(ctx, cfg.Path)
}

// loadKnowledge consults stored sources first, then the configured files,
// which take precedence over stored copies of themselves
func (s *Service) loadKnowledge(ctx context.Context) error {
	files := make([]string, 0, len(s.cfg.Knowledge.Files))
	for _, f := range s.cfg.Knowledge.Files {
		src, err := knowledge.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read knowledge file: %w", err)
		}
		files = append(files, src.Name)
	}
	if _, err := s.loader.LoadStored(ctx, files...); err != nil {
		return err
	}
	return s.loader.LoadFiles(ctx, files)
}

func stacks(s config.Stacks) engine.Stacks {
	return engine.Stacks{Global: s.Global, Local: s.Local, Trail: s.Trail}
}

func overrides(m map[string]config.Stacks) map[string]engine.Stacks {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]engine.Stacks, len(m))
	for name, st := range m {
		out[name] = stacks(st)
	}
	return out
}

// Handler returns the HTTP handler of the service
func (s *Service) Handler() http.Handler { return s.handler }

// Server returns the engine pool
func (s *Service) Server() *server.Server { return s.server }

// Store returns the store holding knowledge sources and the journal
func (s *Service) Store() store.Store { return s.store }

// Loader returns the knowledge loader
func (s *Service) Loader() *knowledge.Loader { return s.loader }

// Run serves HTTP on the configured address until ctx is done
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
	}
	return s.RunListener(ctx, ln)
}

// RunListener serves HTTP on ln until ctx is done. With knowledge.watch set
// it also reconsults changed knowledge files.
func (s *Service) RunListener(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.Knowledge.Watch && len(s.cfg.Knowledge.Files) > 0 {
		w, err := knowledge.NewWatcher(s.loader, s.cfg.Knowledge.Files)
		if err != nil {
			ln.Close()
			return fmt.Errorf("watch knowledge: %w", err)
		}
		if err := w.Start(gctx); err != nil {
			ln.Close()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	s.logger.Info("serving",
		zap.String("addr", ln.Addr().String()),
		zap.Int("engines", s.cfg.Prolog.NumEngines),
		zap.String("runtime", s.runtime.Version()))
	g.Go(func() error {
		return rpc.ServeListener(gctx, ln, s.handler, s.cfg.Server.MaxConnections)
	})
	return g.Wait()
}

// Close shuts the pool down, closes the store and stops the runtime
func (s *Service) Close() error {
	return s.closeAll()
}

func (s *Service) closeAll() error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.ownsRuntime {
		s.runtime.Cleanup()
		s.ownsRuntime = false
	}
	return errors.Join(errs...)
}
