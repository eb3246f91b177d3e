package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd/internalerr"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Backend is the query service behind the handler. *server.Server
// implements it.
type Backend interface {
	OpenQuery(ctx context.Context, text string, format server.Format, mode server.Mode) (string, error)
	HasSolution(ctx context.Context, id string) (bool, error)
	NextSolution(ctx context.Context, id string, closeAfter bool) (term.Bindings, bool, error)
	AllSolutions(ctx context.Context, id string) ([]term.Bindings, error)
	Close(id string) error
	Stats() server.Stats
}

// HandlerOptions configures a Handler
type HandlerOptions struct {
	Logger *zap.Logger
	// Timeout bounds blocking reads; zero means no limit beyond the
	// client's own connection
	Timeout time.Duration
	// Version is reported by the health endpoint
	Version string
}

// Handler serves the query service endpoints
type Handler struct {
	backend Backend
	logger  *zap.Logger
	timeout time.Duration
	version string
	mux     *http.ServeMux
}

// NewHandler returns a handler serving backend
func NewHandler(backend Backend, opts HandlerOptions) *Handler {
	h := &Handler{
		backend: backend,
		logger:  logging.OrNop(opts.Logger),
		timeout: opts.Timeout,
		version: opts.Version,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("POST "+PathOpenQuery, h.openQuery)
	h.mux.HandleFunc("POST "+PathHasSolution, h.hasSolution)
	h.mux.HandleFunc("POST "+PathGetNextSolution, h.getNextSolution)
	h.mux.HandleFunc("POST "+PathGetAllSolutions, h.getAllSolutions)
	h.mux.HandleFunc("POST "+PathCloseQuery, h.closeQuery)
	h.mux.HandleFunc("GET "+PathHealth, h.health)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, reqID)
	start := time.Now()
	h.mux.ServeHTTP(w, r)
	h.logger.Debug("request handled",
		zap.String("request_id", reqID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("elapsed", time.Since(start)))
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(r.Context(), h.timeout)
	}
	return context.WithCancel(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "malformed request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed",
			zap.String("request_id", w.Header().Get(HeaderRequestID)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
}

// status maps a backend error onto the protocol status
func status(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, internalerr.ErrInvalidID):
		return InvalidID
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Timeout
	}
	return Failed
}

func (h *Handler) openQuery(w http.ResponseWriter, r *http.Request) {
	var req OpenQueryRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.backend.OpenQuery(r.Context(), req.Query, req.Format, req.Mode)
	if err != nil {
		h.logger.Info("open query refused", zap.String("query", req.Query), zap.Error(err))
		h.reply(w, r, OpenQueryResponse{Error: err.Error()})
		return
	}
	h.reply(w, r, OpenQueryResponse{OK: true, ID: id})
}

func (h *Handler) hasSolution(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	ok, err := h.backend.HasSolution(ctx, req.ID)
	resp := HasSolutionResponse{Status: status(err), Result: ok}
	if err != nil {
		resp.Error = err.Error()
	}
	h.reply(w, r, resp)
}

func (h *Handler) getNextSolution(w http.ResponseWriter, r *http.Request) {
	var req GetNextSolutionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	b, ok, err := h.backend.NextSolution(ctx, req.ID, req.Close)
	var resp GetNextSolutionResponse
	switch {
	case err != nil:
		resp = GetNextSolutionResponse{Status: status(err), Error: err.Error()}
	case !ok:
		resp = GetNextSolutionResponse{Status: NoSolutions}
	default:
		raw, err := EncodeBindings(b)
		if err != nil {
			resp = GetNextSolutionResponse{Status: Failed, Error: err.Error()}
			break
		}
		resp = GetNextSolutionResponse{Status: OK, Solution: raw}
	}
	h.reply(w, r, resp)
}

func (h *Handler) getAllSolutions(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	all, err := h.backend.AllSolutions(ctx, req.ID)
	resp := GetAllSolutionsResponse{Status: status(err)}
	if err != nil {
		resp.Error = err.Error()
	}
	for _, b := range all {
		raw, eerr := EncodeBindings(b)
		if eerr != nil {
			resp = GetAllSolutionsResponse{Status: Failed, Error: eerr.Error()}
			break
		}
		resp.Solutions = append(resp.Solutions, raw)
	}
	h.reply(w, r, resp)
}

func (h *Handler) closeQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, r, CloseQueryResponse{Status: status(h.backend.Close(req.ID))})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.backend.Stats()
	h.reply(w, r, HealthResponse{
		OK:       true,
		Version:  h.version,
		Engines:  st.Engines,
		Free:     st.Free,
		Sessions: st.Sessions,
	})
}
