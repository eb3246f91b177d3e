// Package knowledge consults program files and stored sources into the
// shared Prolog database.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd/engine"
	"github.com/cognicore/prologd/pkg/prologd/internalerr"
	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/store"
)

// Consulter loads Prolog text into the database. *engine.Context
// implements it.
type Consulter interface {
	Consult(ctx context.Context, source, text string) error
}

var _ Consulter = (*engine.Context)(nil)

// Loader consults knowledge sources and records them in a store
type Loader struct {
	consulter Consulter
	store     store.Store
	logger    *zap.Logger
}

// NewLoader returns a loader. A nil store skips recording.
func NewLoader(c Consulter, st store.Store, logger *zap.Logger) *Loader {
	return &Loader{consulter: c, store: st, logger: logging.OrNop(logger)}
}

// FormatOf picks the source format from a file name
func FormatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return store.FormatJSON
	}
	return store.FormatProlog
}

// ReadFile reads a program file as a source named by its absolute path, so
// that reloading the file replaces the clauses it loaded before
func ReadFile(path string) (store.Source, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return store.Source{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Source{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return store.Source{}, err
	}
	return store.Source{
		Name:      path,
		Format:    FormatOf(path),
		Text:      string(data),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Render returns the Prolog text of src. JSON sources hold a serialized
// program and are written out clause by clause.
func Render(src store.Source) (string, error) {
	switch src.Format {
	case store.FormatProlog:
		return src.Text, nil
	case store.FormatJSON:
		p, err := serialization.JSONDeserializer{}.DeserializeProgram(strings.NewReader(src.Text))
		if err != nil {
			return "", fmt.Errorf("source %s: %w", src.Name, err)
		}
		var sb strings.Builder
		if err := (serialization.PrologSerializer{}).SerializeProgram(&sb, p); err != nil {
			return "", fmt.Errorf("source %s: %w", src.Name, err)
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("source %s: unknown format %q: %w", src.Name, src.Format, internalerr.ErrInvalidInput)
}

// LoadSource consults src and records it in the store
func (l *Loader) LoadSource(ctx context.Context, src store.Source) error {
	text, err := Render(src)
	if err != nil {
		return err
	}
	return l.consult(ctx, src, text)
}

func (l *Loader) consult(ctx context.Context, src store.Source, text string) error {
	start := time.Now()
	if err := l.consulter.Consult(ctx, src.Name, text); err != nil {
		return err
	}
	if l.store != nil {
		if err := l.store.UpsertSource(ctx, src); err != nil {
			return fmt.Errorf("record source %s: %w", src.Name, err)
		}
	}
	l.logger.Info("knowledge loaded",
		zap.String("source", src.Name),
		zap.String("format", src.Format),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// LoadFiles reads and renders the files concurrently, then consults them
// in the given order. Nothing is consulted when any file cannot be read or
// rendered.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) error {
	sources := make([]store.Source, len(paths))
	texts := make([]string, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range paths {
		g.Go(func() error {
			src, err := ReadFile(path)
			if err != nil {
				return fmt.Errorf("read knowledge file: %w", err)
			}
			text, err := Render(src)
			if err != nil {
				return err
			}
			sources[i], texts[i] = src, text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, src := range sources {
		if err := l.consult(ctx, src, texts[i]); err != nil {
			return err
		}
	}
	return nil
}

// LoadStored consults every source held in the store. Sources named in
// skip are left out.
func (l *Loader) LoadStored(ctx context.Context, skip ...string) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	sources, err := l.store.Sources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}
	n := 0
	for _, src := range sources {
		if contains(skip, src.Name) {
			continue
		}
		text, err := Render(src)
		if err != nil {
			return n, err
		}
		if err := l.consulter.Consult(ctx, src.Name, text); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		l.logger.Info("stored knowledge loaded", zap.Int("sources", n))
	}
	return n, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
