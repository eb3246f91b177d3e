package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

var testContext = NewContext(nil)

func TestMain(m *testing.M) {
	if !testContext.Init() {
		fmt.Fprintln(os.Stderr, "runtime initialisation failed")
		os.Exit(1)
	}
	code := m.Run()
	testContext.Cleanup()
	os.Exit(code)
}

func newEngine(t *testing.T, name string) *Engine {
	t.Helper()
	e := testContext.CreateEngine(name, Stacks{})
	if !e.IsValid() {
		t.Fatalf("engine %s is not valid", name)
	}
	t.Cleanup(func() {
		if err := e.Shutdown(); err != nil {
			t.Errorf("shutdown %s: %v", name, err)
		}
	})
	return e
}

// solutions runs q to exhaustion on a fresh engine
func solutions(t *testing.T, q program.Query) ([]term.Bindings, error) {
	t.Helper()
	var out []term.Bindings
	err := With(newEngine(t, "solutions"), func(acq *Acquisition) error {
		frame, err := acq.OpenFrame()
		if err != nil {
			return err
		}
		defer frame.Discard()
		query := NewQuery(q)
		if err := query.Open(context.Background(), acq); err != nil {
			return err
		}
		defer query.Close()
		for {
			b, ok, err := query.NextSolution(context.Background())
			if err != nil || !ok {
				return err
			}
			out = append(out, b)
		}
	})
	return out, err
}

func TestContextSingleton(t *testing.T) {
	other := NewContext(nil)
	if !other.IsInitialized() {
		t.Fatal("second context does not see the running runtime")
	}
	if !other.Init() {
		t.Fatal("Init on a running runtime returned false")
	}
	if v := other.Version(); v == "" || strings.HasPrefix(v, "v") {
		t.Errorf("version = %q", v)
	}
	var invalid *InvalidOperationError
	if err := other.SetExecutable("/bin/prolog"); !errors.As(err, &invalid) {
		t.Errorf("SetExecutable after init: %v", err)
	}
	if err := other.SetStacks(Stacks{Global: 1}); !errors.As(err, &invalid) {
		t.Errorf("SetStacks after init: %v", err)
	}
}

func TestAcquireRelease(t *testing.T) {
	e := newEngine(t, "acquire")
	a, b := NewOwner(), NewOwner()

	var relErr *ReleaseError
	if err := e.Release(a); !errors.As(err, &relErr) {
		t.Fatalf("release without acquire: %v", err)
	}
	if err := e.Acquire(a); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	var acqErr *AcquisitionError
	if err := e.Acquire(b); !errors.As(err, &acqErr) {
		t.Fatalf("second owner acquired: %v", err)
	}
	if err := e.Release(b); !errors.As(err, &relErr) {
		t.Fatalf("release by non-owner: %v", err)
	}
	if err := e.Shutdown(); err == nil {
		t.Fatal("shutdown succeeded while acquired")
	}
	if err := e.Release(a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := e.Acquire(b); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := e.Release(b); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestShutdownInvalidates(t *testing.T) {
	e := testContext.CreateEngine("short-lived", Stacks{Global: 16})
	if err := e.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if e.IsValid() {
		t.Fatal("engine still valid after shutdown")
	}
	var acqErr *AcquisitionError
	if err := e.Acquire(NewOwner()); !errors.As(err, &acqErr) {
		t.Fatalf("acquire after shutdown: %v", err)
	}
}

func TestWithReleasesOnPanic(t *testing.T) {
	e := newEngine(t, "panicky")
	func() {
		defer func() { _ = recover() }()
		_ = With(e, func(*Acquisition) error { panic("boom") })
	}()
	if err := With(e, func(*Acquisition) error { return nil }); err != nil {
		t.Fatalf("engine not released after panic: %v", err)
	}
}

func TestQueryScenarios(t *testing.T) {
	list := func(items ...term.Term) term.Term { return term.NewList(items...) }
	a, b := term.NewAtom("a"), term.NewAtom("b")

	tests := []struct {
		name  string
		query program.Query
		want  []term.Bindings
	}{
		{
			name:  "boolean true",
			query: program.NewQuery("atom", term.NewAtom("true")),
			want:  []term.Bindings{{}},
		},
		{
			name:  "boolean false",
			query: program.NewQuery("atom", term.NewInteger(1)),
		},
		{
			name:  "sort",
			query: program.NewQuery("sort", list(b, a, b), term.FromString("List")),
			want:  []term.Bindings{{"List": list(a, b)}},
		},
		{
			name:  "shared variable",
			query: program.NewQuery("=", term.NewCompound("f", term.FromString("X"), term.FromString("X")), term.NewCompound("f", a, term.FromString("Y"))),
			want:  []term.Bindings{{"X": a, "Y": a}},
		},
		{
			name:  "anonymous variable",
			query: program.NewQuery("append", term.FromString("_"), term.FromString("Rest"), list(a, b)),
			want: []term.Bindings{
				{"Rest": list(a, b)},
				{"Rest": list(b)},
				{"Rest": list()},
			},
		},
		{
			name:  "goal text",
			query: program.NewGoal("member(X, [1, 2.5, f(y)])"),
			want: []term.Bindings{
				{"X": term.NewInteger(1)},
				{"X": term.NewFloat(2.5)},
				{"X": term.NewCompound("f", term.NewAtom("y"))},
			},
		},
		{
			name:  "goal text with conjunction",
			query: program.NewGoal("X = 'Hello', atom_length(X, N)"),
			want:  []term.Bindings{{"X": term.NewAtom("Hello"), "N": term.NewInteger(5)}},
		},
		{
			name:  "module qualified",
			query: program.NewModuleQuery("system", "length", list(a, b, a), term.FromString("N")),
			want:  []term.Bindings{{"N": term.NewInteger(3)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := solutions(t, tt.query)
			if err != nil {
				t.Fatalf("solve: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("solutions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueryUnboundVariable(t *testing.T) {
	got, err := solutions(t, program.NewGoal("length(L, 1)"))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d solutions", len(got))
	}
	l, ok := got[0].Get("L")
	if !ok || !l.IsList() {
		t.Fatalf("L = %v", l)
	}
	elems, _ := l.AsList()
	if elems.Len() != 1 || !elems.At(0).IsVariable() {
		t.Errorf("L does not hold one fresh variable: %v", l)
	}
}

func TestQueryException(t *testing.T) {
	_, err := solutions(t, program.NewGoal("undefined_engine_test_pred"))
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("got %v, want *Exception", err)
	}
	if want := "Unknown procedure: undefined_engine_test_pred/0"; exc.Message != want {
		t.Errorf("message = %q, want %q", exc.Message, want)
	}

	_, err = solutions(t, program.NewGoal("atom_length(X, Y)"))
	if !errors.As(err, &exc) {
		t.Fatalf("got %v, want *Exception", err)
	}
	if !strings.Contains(exc.Message, "not sufficiently instantiated") {
		t.Errorf("message = %q", exc.Message)
	}

	_, err = solutions(t, program.NewGoal("foo("))
	if !errors.As(err, &exc) {
		t.Fatalf("syntax error: got %v, want *Exception", err)
	}
	if !strings.Contains(exc.Message, "Syntax error") {
		t.Errorf("message = %q", exc.Message)
	}
}

func TestQueryStateMachine(t *testing.T) {
	e := newEngine(t, "states")
	err := With(e, func(acq *Acquisition) error {
		q := NewQuery(program.NewQuery("atom", term.NewAtom("a")))
		if _, ok, err := q.NextSolution(context.Background()); ok || err != nil {
			t.Errorf("unopened NextSolution = %v, %v", ok, err)
		}
		if err := q.Cut(); err != nil {
			t.Errorf("cut unopened: %v", err)
		}
		if q.State() != Closed {
			t.Errorf("state after cut = %v", q.State())
		}
		var invalid *InvalidOperationError
		if err := q.Open(context.Background(), acq); !errors.As(err, &invalid) {
			t.Errorf("open after cut: %v", err)
		}

		q = NewQuery(program.NewQuery("atom", term.NewAtom("a")))
		if err := q.Open(context.Background(), acq); err != nil {
			return err
		}
		if err := q.Open(context.Background(), acq); !errors.As(err, &invalid) {
			t.Errorf("second open: %v", err)
		}
		if _, ok, err := q.NextSolution(context.Background()); !ok || err != nil {
			t.Errorf("first solution = %v, %v", ok, err)
		}
		for range 2 {
			if err := q.Close(); err != nil {
				t.Errorf("close: %v", err)
			}
		}
		if _, ok, err := q.NextSolution(context.Background()); ok || err != nil {
			t.Errorf("closed NextSolution = %v, %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestQueryCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := With(newEngine(t, "cancel"), func(acq *Acquisition) error {
		q := NewQuery(program.NewGoal("repeat, fail"))
		if err := q.Open(ctx, acq); err != nil {
			return err
		}
		defer q.Close()
		_, _, err := q.NextSolution(ctx)
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestConsultAndLoadProgram(t *testing.T) {
	ctx := context.Background()
	if err := testContext.Consult(ctx, "colors.pl", "engine_color(red).\nengine_color(green).\n"); err != nil {
		t.Fatalf("consult: %v", err)
	}
	got, err := solutions(t, program.NewGoal("findall(C, engine_color(C), Cs)"))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	want := []term.Bindings{{"Cs": term.NewList(term.NewAtom("red"), term.NewAtom("green"))}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("colors (-want +got):\n%s", diff)
	}

	edge := func(a, b string) program.Clause {
		c, err := program.NewFact("engine_edge", term.NewAtom(a), term.NewAtom(b))
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	path, err := program.NewRule("engine_path",
		[]term.Term{term.FromString("X"), term.FromString("Y")},
		term.NewCompound("engine_edge", term.FromString("X"), term.FromString("Z")),
		term.NewCompound("engine_edge", term.FromString("Z"), term.FromString("Y")))
	if err != nil {
		t.Fatal(err)
	}
	p := program.New(edge("a", "b"), edge("b", "c"), path)
	if err := testContext.LoadProgram(ctx, "graph", p); err != nil {
		t.Fatalf("load program: %v", err)
	}
	got, err = solutions(t, program.NewQuery("engine_path", term.NewAtom("a"), term.FromString("To")))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	want = []term.Bindings{{"To": term.NewAtom("c")}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}

	err = testContext.Consult(ctx, "bad.pl", ":- engine_missing_directive.\n")
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("failing directive: got %v, want *Exception", err)
	}
}

func TestReconsultReplacesSource(t *testing.T) {
	ctx := context.Background()
	if err := testContext.Consult(ctx, "level.pl", "engine_level(1).\nengine_level(2).\n"); err != nil {
		t.Fatalf("consult: %v", err)
	}
	if err := testContext.Consult(ctx, "level.pl", "engine_level(3).\n"); err != nil {
		t.Fatalf("reconsult: %v", err)
	}
	got, err := solutions(t, program.NewGoal("findall(L, engine_level(L), Ls)"))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	want := []term.Bindings{{"Ls": term.NewList(term.NewInteger(3))}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("levels (-want +got):\n%s", diff)
	}

	// a refused source leaves the knowledge as it was
	if err := testContext.Consult(ctx, "level.pl", "engine_level(4"); err == nil {
		t.Fatal("consult of broken text succeeded")
	}
	got, err = solutions(t, program.NewGoal("engine_level(L)"))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	want = []term.Bindings{{"L": term.NewInteger(3)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("after refused consult (-want +got):\n%s", diff)
	}
}

func TestAcquireSeesLaterConsult(t *testing.T) {
	e := newEngine(t, "stale")
	if err := With(e, func(*Acquisition) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := testContext.Consult(context.Background(), "late.pl", "engine_late(yes).\n"); err != nil {
		t.Fatalf("consult: %v", err)
	}
	err := With(e, func(acq *Acquisition) error {
		q := NewQuery(program.NewGoal("engine_late(X)"))
		if err := q.Open(context.Background(), acq); err != nil {
			return err
		}
		defer q.Close()
		b, ok, err := q.NextSolution(context.Background())
		if err != nil || !ok {
			return fmt.Errorf("solution = %v, %v", ok, err)
		}
		if x, _ := b.Get("X"); !x.Equal(term.NewAtom("yes")) {
			t.Errorf("X = %v", x)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAssertIsEngineLocal(t *testing.T) {
	ctx := context.Background()
	run := func(e *Engine, goal string) error {
		return With(e, func(acq *Acquisition) error {
			q := NewQuery(program.NewGoal(goal))
			if err := q.Open(ctx, acq); err != nil {
				return err
			}
			defer q.Close()
			_, ok, err := q.NextSolution(ctx)
			if err == nil && !ok {
				return errors.New("no solution")
			}
			return err
		})
	}
	a, b := newEngine(t, "assert-a"), newEngine(t, "assert-b")
	if err := run(a, "assertz(engine_local(1))"); err != nil {
		t.Fatalf("assertz: %v", err)
	}
	if err := run(a, "engine_local(1)"); err != nil {
		t.Fatalf("same engine: %v", err)
	}
	var exc *Exception
	if err := run(b, "engine_local(1)"); !errors.As(err, &exc) {
		t.Fatalf("other engine: got %v, want unknown procedure", err)
	}
}

func TestHaltRefused(t *testing.T) {
	for _, goal := range []string{"halt", "halt(0)"} {
		_, err := solutions(t, program.NewGoal(goal))
		var exc *Exception
		if !errors.As(err, &exc) {
			t.Fatalf("%s: got %v, want *Exception", goal, err)
		}
	}
}

func TestFrames(t *testing.T) {
	ctx := context.Background()
	err := With(newEngine(t, "frames"), func(acq *Acquisition) error {
		outer := NewQuery(program.NewGoal("member(X, [a, b])"))
		if err := outer.Open(ctx, acq); err != nil {
			return err
		}
		frame, err := acq.OpenFrame()
		if err != nil {
			return err
		}
		inner := NewQuery(program.NewGoal("between(1, 3, N)"))
		if err := inner.Open(ctx, acq); err != nil {
			return err
		}
		if err := frame.Rewind(); err != nil {
			t.Errorf("rewind: %v", err)
		}
		if inner.State() != Closed {
			t.Errorf("inner query after rewind is %v", inner.State())
		}
		again := NewQuery(program.NewGoal("true"))
		if err := again.Open(ctx, acq); err != nil {
			return err
		}
		if err := frame.Close(); err != nil {
			t.Errorf("close frame: %v", err)
		}
		if again.State() != Closed {
			t.Errorf("query opened in frame is %v after close", again.State())
		}
		if outer.State() != Open {
			t.Errorf("query opened before the frame is %v", outer.State())
		}
		var invalid *InvalidOperationError
		if err := frame.Rewind(); !errors.As(err, &invalid) {
			t.Errorf("rewind closed frame: %v", err)
		}
		if _, ok, err := outer.NextSolution(ctx); !ok || err != nil {
			t.Errorf("outer solution = %v, %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReleaseClosesQueries(t *testing.T) {
	e := newEngine(t, "leftover")
	acq, err := AcquireScoped(e)
	if err != nil {
		t.Fatal(err)
	}
	q := NewQuery(program.NewGoal("repeat"))
	if err := q.Open(context.Background(), acq); err != nil {
		t.Fatal(err)
	}
	if err := acq.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if q.State() != Closed {
		t.Errorf("query left %v after release", q.State())
	}
	var invalid *InvalidOperationError
	if _, err := acq.OpenFrame(); !errors.As(err, &invalid) {
		t.Errorf("frame on released acquisition: %v", err)
	}
}

func TestOpenQueryLimit(t *testing.T) {
	err := With(newEngine(t, "limit"), func(acq *Acquisition) error {
		for i := range maxOpenQueries {
			if err := NewQuery(program.NewGoal("true")).Open(context.Background(), acq); err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
		}
		var res *ResourceError
		if err := NewQuery(program.NewGoal("true")).Open(context.Background(), acq); !errors.As(err, &res) {
			t.Errorf("query past the limit: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVariableNames(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"true", []string{}},
		{"member(X, [Y, X, _])", []string{"X", "Y"}},
		{`X = 'Quoted Atom', Y = "Str"`, []string{"X", "Y"}},
		{"atom_codes(A, [0'B, 0'''])", []string{"A"}},
		{"foo(_Acc, Result) % Trailing comment\n", []string{"_Acc", "Result"}},
		{"/* Skip Me */ bar(Z1)", []string{"Z1"}},
		{`X = 'it''s', Y = 'a\'b'`, []string{"X", "Y"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, variableNames(tt.text)); diff != "" {
			t.Errorf("variableNames(%q) (-want +got):\n%s", tt.text, diff)
		}
	}
}

func TestGoalTextAndWrap(t *testing.T) {
	text, err := goalText(program.NewGoal("  member(X, [a]) . "))
	if err != nil || text != "member(X, [a])" {
		t.Fatalf("goal text = %q, %v", text, err)
	}
	text, err = goalText(program.NewQuery("=", term.FromString("X"), term.NewAtom("Foo")))
	if err != nil || text != "'='(X, 'Foo')" {
		t.Fatalf("portable query text = %q, %v", text, err)
	}
	want := "('='(X, 'Foo')\n), '$prologd_solution'(7, ['X'=X])."
	if got := wrapGoal(text, 7, []string{"X"}); got != want {
		t.Errorf("wrapGoal = %q, want %q", got, want)
	}
}

func TestMessageText(t *testing.T) {
	pi := term.NewCompound("/", term.NewAtom("foo"), term.NewInteger(2))
	errTerm := func(formal, context term.Term) term.Term {
		return term.NewCompound("error", formal, context)
	}
	anon := term.MustVariable("_")
	tests := []struct {
		exc  term.Term
		want string
	}{
		{errTerm(term.NewCompound("existence_error", term.NewAtom("procedure"), pi), pi), "Unknown procedure: foo/2"},
		{errTerm(term.NewAtom("instantiation_error"), anon), "Arguments are not sufficiently instantiated"},
		{
			errTerm(term.NewCompound("type_error", term.NewAtom("evaluable"), pi),
				term.NewCompound("context", term.NewCompound("/", term.NewAtom("is"), term.NewInteger(2)), anon)),
			"is/2: Type error: `evaluable' expected, found `foo/2' (a compound)",
		},
		{errTerm(term.NewCompound("evaluation_error", term.NewAtom("zero_divisor")), anon), "Arithmetic: evaluation error: zero_divisor"},
		{errTerm(term.NewCompound("type_error", term.NewAtom("integer"), term.NewList()), anon), "Type error: `integer' expected, found `[]' (an empty_list)"},
		{term.NewAtom("my_ball"), "Unknown message: my_ball"},
		{term.NewCompound("oops", term.NewAtom("Big")), "Unknown message: oops('Big')"},
	}
	for _, tt := range tests {
		if got := messageText(tt.exc); got != tt.want {
			t.Errorf("messageText = %q, want %q", got, tt.want)
		}
	}
}
