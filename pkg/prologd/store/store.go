package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/prologd/pkg/prologd/internalerr"
)

// Store persists knowledge sources and the query journal
type Store interface {
	Close() error

	// Knowledge sources
	UpsertSource(ctx context.Context, s Source) error
	GetSource(ctx context.Context, name string) (Source, bool, error)
	Sources(ctx context.Context) ([]Source, error)
	DeleteSource(ctx context.Context, name string) error

	// Query journal
	RecordOpen(ctx context.Context, rec QueryRecord) error
	RecordClose(ctx context.Context, id, status, errText string, solutions int) error
	GetQuery(ctx context.Context, id string) (QueryRecord, bool, error)
	RecentQueries(ctx context.Context, limit int) ([]QueryRecord, error)
}

// Source formats
const (
	FormatProlog = "prolog"
	FormatJSON   = "json"
)

// Source is a named unit of knowledge consulted into the runtime. A JSON
// source holds a serialized program.
type Source struct {
	Name      string
	Format    string
	Text      string
	UpdatedAt time.Time
}

// Query statuses recorded in the journal
const (
	StatusOpen      = "open"
	StatusExhausted = "exhausted"
	StatusFailed    = "failed"
	StatusClosed    = "closed"
)

// QueryRecord is one journal entry
type QueryRecord struct {
	ID        string
	Query     string
	Format    string
	Mode      string
	Engine    string
	Status    string
	Error     string
	Solutions int
	OpenedAt  time.Time
	ClosedAt  time.Time
}

// IsClosed reports whether the session has ended
func (r QueryRecord) IsClosed() bool {
	return r.Status != StatusOpen
}

// Validate checks that s can be stored
func (s Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source without name: %w", internalerr.ErrInvalidInput)
	}
	if s.Format != FormatProlog && s.Format != FormatJSON {
		return fmt.Errorf("source %s: unknown format %q: %w", s.Name, s.Format, internalerr.ErrInvalidInput)
	}
	return nil
}
