package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cognicore/prologd/pkg/prologd/engine"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

var testRuntime = engine.NewContext(nil)

func TestMain(m *testing.M) {
	if !testRuntime.Init() {
		fmt.Fprintln(os.Stderr, "runtime initialisation failed")
		os.Exit(1)
	}
	goleak.VerifyTestMain(m, goleak.Cleanup(func(int) { testRuntime.Cleanup() }))
}

func newTestService(t *testing.T, engines int) (*Transport, *server.Server) {
	t.Helper()
	return newTimedService(t, engines, 5*time.Second)
}

func newTimedService(t *testing.T, engines int, timeout time.Duration) (*Transport, *server.Server) {
	t.Helper()
	srv, err := server.New(testRuntime, server.Config{Engines: engines})
	require.NoError(t, err)
	ts := httptest.NewServer(NewHandler(srv, HandlerOptions{Timeout: timeout, Version: "test"}))
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Shutdown())
	})
	return NewTransport(ts.URL, ts.Client()), srv
}

func open(t *testing.T, tr *Transport, query string, format server.Format, mode server.Mode) string {
	t.Helper()
	resp, err := tr.OpenQuery(context.Background(), OpenQueryRequest{Query: query, Format: format, Mode: mode})
	require.NoError(t, err)
	require.True(t, resp.OK, resp.Error)
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestBatchRoundTrip(t *testing.T) {
	tr, srv := newTestService(t, 1)
	ctx := context.Background()

	id := open(t, tr, "sort([b,a], List)", server.FormatProlog, server.Batch)
	has, err := tr.HasSolution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OK, has.Status)
	assert.True(t, has.Result)

	all, err := tr.GetAllSolutions(ctx, id)
	require.NoError(t, err)
	require.Equal(t, OK, all.Status, all.Error)
	require.Len(t, all.Solutions, 1)
	assert.JSONEq(t, `{"List":["a","b"]}`, string(all.Solutions[0]))

	b, err := DecodeBindings(all.Solutions[0])
	require.NoError(t, err)
	list, _ := b.Get("List")
	assert.True(t, term.NewList(term.NewAtom("a"), term.NewAtom("b")).Equal(list))

	assert.Equal(t, 0, srv.Stats().Sessions, "get_all_solutions closes the session")
}

func TestNextSolutionStatuses(t *testing.T) {
	tr, _ := newTestService(t, 1)
	ctx := context.Background()

	id := open(t, tr, "member(X, [1, f(a)])", server.FormatProlog, server.Incremental)

	next, err := tr.GetNextSolution(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, OK, next.Status)
	assert.JSONEq(t, `{"X":1}`, string(next.Solution))

	next, err = tr.GetNextSolution(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, OK, next.Status)
	assert.JSONEq(t, `{"X":{"functor":"f","arguments":["a"]}}`, string(next.Solution))

	next, err = tr.GetNextSolution(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, NoSolutions, next.Status)
	assert.Empty(t, next.Solution)

	closed, err := tr.CloseQuery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OK, closed.Status)
	closed, err = tr.CloseQuery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, InvalidID, closed.Status)
}

func TestCloseAfterReadInvalidatesID(t *testing.T) {
	tr, _ := newTestService(t, 1)
	ctx := context.Background()

	id := open(t, tr, "true", server.FormatProlog, server.Incremental)
	next, err := tr.GetNextSolution(ctx, id, true)
	require.NoError(t, err)
	require.Equal(t, OK, next.Status)
	assert.JSONEq(t, `{}`, string(next.Solution))

	has, err := tr.HasSolution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, InvalidID, has.Status)
	assert.False(t, has.Result)

	next, err = tr.GetNextSolution(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, InvalidID, next.Status)
}

func TestFailedQuery(t *testing.T) {
	tr, _ := newTestService(t, 1)
	ctx := context.Background()

	id := open(t, tr, "X is foo + 1", server.FormatProlog, server.Batch)
	has, err := tr.HasSolution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Failed, has.Status)
	assert.NotEmpty(t, has.Error)

	all, err := tr.GetAllSolutions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Failed, all.Status)
	assert.Contains(t, all.Error, "foo")
}

func TestSlowQueryTimesOutWithoutFailing(t *testing.T) {
	tr, srv := newTimedService(t, 1, 100*time.Millisecond)
	ctx := context.Background()

	id := open(t, tr, "member(X, [a, slow]), (X == slow -> repeat, fail ; true)", server.FormatProlog, server.Batch)
	all, err := tr.GetAllSolutions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Timeout, all.Status, all.Error)
	require.Len(t, all.Solutions, 1)
	assert.JSONEq(t, `{"X":"a"}`, string(all.Solutions[0]))
	assert.Equal(t, 1, srv.Stats().Sessions, "the session outlives the timed out read")

	next, err := tr.GetNextSolution(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, Timeout, next.Status)

	closed, err := tr.CloseQuery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OK, closed.Status)
	assert.Equal(t, 0, srv.Stats().Sessions)
}

func TestOpenQueryRefusals(t *testing.T) {
	tr, _ := newTestService(t, 1)
	ctx := context.Background()

	resp, err := tr.OpenQuery(ctx, OpenQueryRequest{Query: `{"functor":"x"}`, Format: server.FormatJSON})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "invalid input")

	id := open(t, tr, "repeat", server.FormatProlog, server.Incremental)
	resp, err = tr.OpenQuery(ctx, OpenQueryRequest{Query: "true"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "no free engine")

	_, err = tr.CloseQuery(ctx, id)
	require.NoError(t, err)
}

func TestJSONQueryFormat(t *testing.T) {
	tr, _ := newTestService(t, 1)
	ctx := context.Background()

	id := open(t, tr, `{"predicate":"length","arguments":[["a","b","c"],"N"]}`, server.FormatJSON, server.Batch)
	all, err := tr.GetAllSolutions(ctx, id)
	require.NoError(t, err)
	require.Equal(t, OK, all.Status, all.Error)
	require.Len(t, all.Solutions, 1)
	assert.JSONEq(t, `{"N":3}`, string(all.Solutions[0]))
}

func TestHealthAndExists(t *testing.T) {
	tr, _ := newTestService(t, 3)
	ctx := context.Background()

	h, err := tr.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthResponse{OK: true, Version: "test", Engines: 3, Free: 3}, h)
	assert.True(t, tr.Exists(ctx))

	dead := NewTransport("127.0.0.1:1", nil)
	assert.False(t, dead.Exists(ctx))
}

func TestMalformedRequests(t *testing.T) {
	tr, _ := newTestService(t, 1)

	resp, err := tr.client.Post(tr.base+PathHasSolution, "application/json", strings.NewReader(`{"id":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = tr.client.Post(tr.base+PathCloseQuery, "application/json", strings.NewReader(`{"id":"x","extra":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = tr.client.Get(tr.base + PathOpenQuery)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, err = tr.Health(context.Background())
	require.NoError(t, err)
	var callErr *CallError
	_, err = NewTransport(tr.base+"/nope", tr.client).Health(context.Background())
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusNotFound, callErr.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	tr, _ := newTestService(t, 1)

	req, err := http.NewRequest(http.MethodGet, tr.base+PathHealth, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderRequestID, "abc-123")
	resp, err := tr.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(HeaderRequestID))

	resp, err = tr.client.Get(tr.base + PathHealth)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get(HeaderRequestID), 36)
}

func TestServeShutsDownWithContext(t *testing.T) {
	srv, err := server.New(testRuntime, server.Config{Engines: 1})
	require.NoError(t, err)
	defer srv.Shutdown()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ServeListener(ctx, ln, NewHandler(srv, HandlerOptions{}), 4) }()

	client := &http.Client{Transport: &http.Transport{}}
	tr := NewTransport(ln.Addr().String(), client)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.True(t, tr.WaitForExistence(waitCtx, 10*time.Millisecond))
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
