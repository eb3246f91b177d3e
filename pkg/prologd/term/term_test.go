package term

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromStringClassification(t *testing.T) {
	cases := map[string]Kind{
		"X":      KindVariable,
		"Foo":    KindVariable,
		"_":      KindVariable,
		"_tmp":   KindVariable,
		"Ärger":  KindVariable,
		"foo":    KindAtom,
		"fooBar": KindAtom,
		"":       KindAtom,
		"[]":     KindAtom,
		"1abc":   KindAtom,
		"ärger":  KindAtom,
	}

	for name, want := range cases {
		if got := FromString(name).Kind(); got != want {
			t.Errorf("FromString(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestVariableNames(t *testing.T) {
	if _, err := NewVariable("foo"); err == nil {
		t.Fatal("expected error for lowercase variable name")
	}
	if _, err := NewVariable(""); err == nil {
		t.Fatal("expected error for empty variable name")
	}

	anon, err := MustVariable("_").AsVariable()
	if err != nil {
		t.Fatalf("AsVariable: %v", err)
	}
	if !anon.IsAnonymous() {
		t.Error("expected _ to be anonymous")
	}

	named, _ := MustVariable("_X").AsVariable()
	if named.IsAnonymous() {
		t.Error("expected _X not to be anonymous")
	}
}

func TestKindPredicatesExclusive(t *testing.T) {
	terms := []Term{
		NewAtom("a"),
		MustVariable("X"),
		NewInteger(1),
		NewFloat(1.5),
		NewList(NewAtom("a")),
		NewCompound("f", NewAtom("a")),
	}

	for _, tm := range terms {
		count := 0
		for _, is := range []bool{tm.IsAtom(), tm.IsVariable(), tm.IsNumber(), tm.IsList(), tm.IsCompound()} {
			if is {
				count++
			}
		}
		if count != 1 {
			t.Errorf("%s: %d type tests hold, want exactly 1", tm.Kind(), count)
		}
		if !tm.IsValid() {
			t.Errorf("%s: expected valid", tm.Kind())
		}
	}

	var zero Term
	if zero.IsValid() {
		t.Error("zero Term must be invalid")
	}
}

func TestCompoundWithoutArgumentsIsAtom(t *testing.T) {
	tm := NewCompound("foo")
	if !tm.IsAtom() {
		t.Fatalf("expected atom, got %s", tm.Kind())
	}
	a, _ := tm.AsAtom()
	if a.Name != "foo" {
		t.Errorf("name = %q, want foo", a.Name)
	}
}

func TestWrongViewFails(t *testing.T) {
	_, err := NewAtom("a").AsCompound()
	var kerr *KindError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected KindError, got %v", err)
	}
	if kerr.Want != KindCompound || kerr.Got != KindAtom {
		t.Errorf("unexpected kind error %+v", kerr)
	}

	if _, err := NewInteger(1).AsFloat(); err == nil {
		t.Error("integer viewed as float must fail")
	}
	if _, err := NewAtom("a").AsNumber(); err == nil {
		t.Error("atom viewed as number must fail")
	}
}

func TestListAppendIsPersistent(t *testing.T) {
	orig, _ := NewList(NewAtom("a")).AsList()

	extended := orig.Append(NewAtom("b"))
	joined := orig.Concat(extended)

	if orig.Len() != 1 {
		t.Errorf("original mutated: len=%d", orig.Len())
	}
	if extended.Len() != 2 || joined.Len() != 3 {
		t.Errorf("lengths = %d, %d", extended.Len(), joined.Len())
	}

	want := NewList(NewAtom("a"), NewAtom("a"), NewAtom("b"))
	if diff := cmp.Diff(want, joined.Term()); diff != "" {
		t.Errorf("concat mismatch (-want +got):\n%s", diff)
	}

	var names []string
	for _, e := range joined.All() {
		a, _ := e.AsAtom()
		names = append(names, a.Name)
	}
	if diff := cmp.Diff([]string{"a", "a", "b"}, names); diff != "" {
		t.Errorf("iteration mismatch (-want +got):\n%s", diff)
	}
}

func TestConstructorsCopyInput(t *testing.T) {
	args := []Term{NewAtom("a"), NewAtom("b")}
	c := NewCompound("f", args...)
	args[0] = NewAtom("z")

	view, _ := c.AsCompound()
	if a, _ := view.Arg(0).AsAtom(); a.Name != "a" {
		t.Errorf("compound shares caller slice: arg0 = %q", a.Name)
	}

	got := view.Args()
	got[1] = NewAtom("z")
	if a, _ := view.Arg(1).AsAtom(); a.Name != "b" {
		t.Errorf("Args exposes internal slice: arg1 = %q", a.Name)
	}
}

func TestAndOr(t *testing.T) {
	a, b := NewAtom("a"), NewAtom("b")

	and, _ := And(a, b).AsCompound()
	if and.Functor() != "," || and.Arity() != 2 {
		t.Errorf("And = %s/%d", and.Functor(), and.Arity())
	}
	or, _ := Or(a, b).AsCompound()
	if or.Functor() != ";" || or.Arity() != 2 {
		t.Errorf("Or = %s/%d", or.Functor(), or.Arity())
	}
}

func TestIsGround(t *testing.T) {
	if !NewCompound("f", NewList(NewInteger(1))).IsGround() {
		t.Error("expected ground")
	}
	if NewCompound("f", NewList(MustVariable("X"))).IsGround() {
		t.Error("expected non-ground")
	}
}
