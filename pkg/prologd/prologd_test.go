package prologd

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cognicore/prologd/pkg/prologd/client"
	"github.com/cognicore/prologd/pkg/prologd/config"
	"github.com/cognicore/prologd/pkg/prologd/internalerr"
	"github.com/cognicore/prologd/pkg/prologd/rpc"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/store"
	"github.com/cognicore/prologd/pkg/prologd/store/memstore"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(files ...string) config.Config {
	cfg := config.Default()
	cfg.Prolog.NumEngines = 2
	cfg.Prolog.Stacks = config.Stacks{Global: 16, Local: 16, Trail: 16}
	cfg.Knowledge.Files = files
	cfg.Server.RequestTimeout = 5 * time.Second
	return cfg
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

func firstAtom(t *testing.T, sol term.Solution, name string) string {
	t.Helper()
	require.True(t, sol.IsValid(), "no solution")
	v, err := term.Value[string](sol, name)
	require.NoError(t, err)
	return v
}

func TestServiceAnswersFromKnowledgeFiles(t *testing.T) {
	dir := t.TempDir()
	family := filepath.Join(dir, "family.pl")
	facts := filepath.Join(dir, "facts.json")
	writeFile(t, family, "grandparent(X, Z) :- parent(X, Y), parent(Y, Z).\n")
	writeFile(t, facts, `[{"predicate":"parent","arguments":["tom","bob"]},{"predicate":"parent","arguments":["bob","ann"]}]`)

	st := memstore.New()
	svc, err := New(context.Background(), Options{Config: testConfig(family, facts), Store: st})
	require.NoError(t, err)
	defer func() { require.NoError(t, svc.Close()) }()

	ts := httptest.NewServer(svc.Handler())
	defer ts.Close()
	sc := rpc.NewTransport(ts.URL, ts.Client())
	ctx := context.Background()

	sol, err := client.NewGoal("grandparent(tom, Who)").Once(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, "ann", firstAtom(t, sol, "Who"))

	sources, err := st.Sources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	h, err := sc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, 2, h.Free)

	recent, err := st.RecentQueries(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].IsClosed())
	assert.Equal(t, "grandparent(tom, Who)", recent[0].Query)
}

func TestServiceReloadsStoredSources(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.UpsertSource(ctx, store.Source{
		Name: "colours", Format: store.FormatProlog, Text: "colour(red).\ncolour(green).",
	}))

	svc, err := New(ctx, Options{Config: testConfig(), Store: st})
	require.NoError(t, err)
	defer svc.Close()

	srv := svc.Server()
	id, err := srv.OpenQuery(ctx, "findall(C, colour(C), Cs)", server.FormatProlog, server.Batch)
	require.NoError(t, err)
	all, err := srv.AllSolutions(ctx, id)
	require.NoError(t, err)
	require.Len(t, all, 1)
	cs, err := term.Value[[]string](term.NewSolution(all[0]), "Cs")
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "green"}, cs)
}

func TestServiceRejectsBadKnowledge(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"not":"a program"}`)

	_, err := New(context.Background(), Options{Config: testConfig(bad)})
	require.Error(t, err)

	_, err = New(context.Background(), Options{Config: testConfig(filepath.Join(dir, "missing.pl"))})
	require.Error(t, err)

	cfg := testConfig()
	cfg.Prolog.NumEngines = 0
	_, err = New(context.Background(), Options{Config: cfg})
	require.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestServiceSQLiteStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "prologd.db")

	svc, err := New(ctx, Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, svc.Loader().LoadSource(ctx, store.Source{
		Name: "answer", Format: store.FormatProlog, Text: "answer(42).",
	}))
	require.NoError(t, svc.Close())

	svc, err = New(ctx, Options{Config: cfg})
	require.NoError(t, err)
	defer svc.Close()
	id, err := svc.Server().OpenQuery(ctx, "answer(X)", server.FormatProlog, server.Batch)
	require.NoError(t, err)
	all, err := svc.Server().AllSolutions(ctx, id)
	require.NoError(t, err)
	require.Len(t, all, 1)
	x, err := term.Value[int](term.NewSolution(all[0]), "X")
	require.NoError(t, err)
	assert.Equal(t, 42, x)
}

func TestRunListenerWatchesKnowledge(t *testing.T) {
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb.pl")
	writeFile(t, kb, "version(1).")

	cfg := testConfig(kb)
	cfg.Knowledge.Watch = true
	svc, err := New(context.Background(), Options{Config: cfg})
	require.NoError(t, err)
	defer svc.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.RunListener(ctx, ln) }()

	hc := &http.Client{Transport: &http.Transport{}}
	defer hc.CloseIdleConnections()
	sc := rpc.NewTransport(ln.Addr().String(), hc)
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.True(t, sc.WaitForExistence(waitCtx, 10*time.Millisecond))

	version := func() int {
		sol, err := client.NewGoal("version(V)").Once(ctx, sc)
		if err != nil {
			return -1
		}
		v, err := term.Value[int](sol, "V")
		if err != nil {
			return -1
		}
		return v
	}
	assert.Equal(t, 1, version())

	writeFile(t, kb, "version(2).")
	assert.Eventually(t, func() bool { return version() == 2 }, 5*time.Second, 50*time.Millisecond)

	hc.CloseIdleConnections()
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("RunListener did not return after cancel")
	}
}
