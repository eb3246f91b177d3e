package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transport is the client side of the HTTP binding
type Transport struct {
	base   string
	client *http.Client
}

// NewTransport returns a transport for the service at baseURL, e.g.
// "http://127.0.0.1:8642". A nil client uses http.DefaultClient.
func NewTransport(baseURL string, client *http.Client) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Transport{base: strings.TrimRight(baseURL, "/"), client: client}
}

// CallError reports a request that did not produce a protocol response
type CallError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("call %s: http status %d", e.Path, e.StatusCode)
}

func (e *CallError) Unwrap() error { return e.Err }

func (t *Transport) call(ctx context.Context, method, path string, req, resp any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return &CallError{Path: path, Err: err}
		}
		body = bytes.NewReader(data)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return &CallError{Path: path, Err: err}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set(HeaderRequestID, uuid.NewString())

	hresp, err := t.client.Do(hreq)
	if err != nil {
		return &CallError{Path: path, Err: err}
	}
	defer hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, hresp.Body)
		return &CallError{Path: path, StatusCode: hresp.StatusCode}
	}
	if err := json.NewDecoder(hresp.Body).Decode(resp); err != nil {
		return &CallError{Path: path, StatusCode: hresp.StatusCode, Err: err}
	}
	return nil
}

func (t *Transport) OpenQuery(ctx context.Context, req OpenQueryRequest) (OpenQueryResponse, error) {
	var resp OpenQueryResponse
	err := t.call(ctx, http.MethodPost, PathOpenQuery, req, &resp)
	return resp, err
}

func (t *Transport) HasSolution(ctx context.Context, id string) (HasSolutionResponse, error) {
	var resp HasSolutionResponse
	err := t.call(ctx, http.MethodPost, PathHasSolution, QueryRequest{ID: id}, &resp)
	return resp, err
}

func (t *Transport) GetNextSolution(ctx context.Context, id string, closeAfter bool) (GetNextSolutionResponse, error) {
	var resp GetNextSolutionResponse
	err := t.call(ctx, http.MethodPost, PathGetNextSolution, GetNextSolutionRequest{ID: id, Close: closeAfter}, &resp)
	return resp, err
}

func (t *Transport) GetAllSolutions(ctx context.Context, id string) (GetAllSolutionsResponse, error) {
	var resp GetAllSolutionsResponse
	err := t.call(ctx, http.MethodPost, PathGetAllSolutions, QueryRequest{ID: id}, &resp)
	return resp, err
}

func (t *Transport) CloseQuery(ctx context.Context, id string) (CloseQueryResponse, error) {
	var resp CloseQueryResponse
	err := t.call(ctx, http.MethodPost, PathCloseQuery, QueryRequest{ID: id}, &resp)
	return resp, err
}

// Health fetches the service status
func (t *Transport) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := t.call(ctx, http.MethodGet, PathHealth, nil, &resp)
	return resp, err
}

// Exists reports whether the service answers its health check
func (t *Transport) Exists(ctx context.Context) bool {
	resp, err := t.Health(ctx)
	return err == nil && resp.OK
}

// WaitForExistence polls the health check every interval until the
// service answers or ctx is done
func (t *Transport) WaitForExistence(ctx context.Context, interval time.Duration) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if t.Exists(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
