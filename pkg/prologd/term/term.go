// Package term defines the portable Prolog term model shared by clients,
// servers and engines.
//
// A Term is an immutable tagged union. Exactly one Kind is active per valid
// value; the zero Term is invalid. Typed views (Atom, Variable, Integer,
// Float, Number, Compound, List) are obtained through checked accessors that
// return a *KindError when the term holds a different variant.
package term

import (
	"fmt"
	"slices"
	"unicode"
	"unicode/utf8"
)

// Kind identifies the active variant of a Term
type Kind uint8

const (
	KindInvalid Kind = iota
	KindAtom
	KindInteger
	KindFloat
	KindVariable
	KindCompound
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindAtom:
		return "atom"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindVariable:
		return "variable"
	case KindCompound:
		return "compound"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Term is an immutable Prolog term.
// Sub-term slices are never mutated after construction, so copies share them freely.
type Term struct {
	kind  Kind
	name  string
	ival  int64
	fval  float64
	items []Term
}

// KindError reports a checked view of a term with the wrong variant
type KindError struct {
	Want Kind
	Got  Kind
}

func (e *KindError) Error() string {
	return fmt.Sprintf("term: %s viewed as %s", e.Got, e.Want)
}

// IsVariableName reports whether name follows the variable naming rule:
// an uppercase initial, the anonymous "_", or "_" followed by at least one
// more character.
func IsVariableName(name string) bool {
	if name == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r) || r == '_'
}

// FromString classifies a bare string: variable names become Variables,
// everything else (including the empty string) becomes an Atom.
func FromString(s string) Term {
	if IsVariableName(s) {
		return Term{kind: KindVariable, name: s}
	}
	return Term{kind: KindAtom, name: s}
}

// NewAtom builds an atom. Names that would classify as variables are still
// accepted, since engines report quoted atoms such as 'Hello'. The Prolog
// text form quotes them; the JSON form cannot, so such atoms read back from
// JSON as variables.
func NewAtom(name string) Term {
	return Term{kind: KindAtom, name: name}
}

// NewVariable builds a variable, rejecting names outside the variable naming rule
func NewVariable(name string) (Term, error) {
	if !IsVariableName(name) {
		return Term{}, fmt.Errorf("term: invalid variable name %q", name)
	}
	return Term{kind: KindVariable, name: name}, nil
}

// MustVariable is like NewVariable but panics on an invalid name
func MustVariable(name string) Term {
	t, err := NewVariable(name)
	if err != nil {
		panic(err)
	}
	return t
}

// NewInteger builds an integer term
func NewInteger(v int64) Term {
	return Term{kind: KindInteger, ival: v}
}

// NewFloat builds a float term
func NewFloat(v float64) Term {
	return Term{kind: KindFloat, fval: v}
}

// NewList builds a list from the given elements
func NewList(elements ...Term) Term {
	return Term{kind: KindList, items: slices.Clone(elements)}
}

// NewCompound builds functor(args...). Without arguments the result is the
// atom named functor. An empty functor panics.
func NewCompound(functor string, args ...Term) Term {
	if functor == "" {
		panic("term: compound functor must not be empty")
	}
	if len(args) == 0 {
		return NewAtom(functor)
	}
	return Term{kind: KindCompound, name: functor, items: slices.Clone(args)}
}

// And builds the conjunction ','(a, b)
func And(a, b Term) Term {
	return NewCompound(",", a, b)
}

// Or builds the disjunction ';'(a, b)
func Or(a, b Term) Term {
	return NewCompound(";", a, b)
}

func (t Term) Kind() Kind       { return t.kind }
func (t Term) IsValid() bool    { return t.kind != KindInvalid }
func (t Term) IsAtom() bool     { return t.kind == KindAtom }
func (t Term) IsInteger() bool  { return t.kind == KindInteger }
func (t Term) IsFloat() bool    { return t.kind == KindFloat }
func (t Term) IsNumber() bool   { return t.kind == KindInteger || t.kind == KindFloat }
func (t Term) IsVariable() bool { return t.kind == KindVariable }
func (t Term) IsCompound() bool { return t.kind == KindCompound }
func (t Term) IsList() bool     { return t.kind == KindList }

// IsGround reports whether no Variable occurs anywhere in t
func (t Term) IsGround() bool {
	switch t.kind {
	case KindVariable:
		return false
	case KindCompound, KindList:
		for _, item := range t.items {
			if !item.IsGround() {
				return false
			}
		}
	}
	return true
}

// Equal reports structural equality, including the variant tag
func (t Term) Equal(o Term) bool {
	if t.kind != o.kind {
		return false
	}
	switch t.kind {
	case KindInvalid:
		return true
	case KindAtom, KindVariable:
		return t.name == o.name
	case KindInteger:
		return t.ival == o.ival
	case KindFloat:
		return t.fval == o.fval
	case KindCompound:
		if t.name != o.name {
			return false
		}
	}
	return slices.EqualFunc(t.items, o.items, Term.Equal)
}

func (t Term) check(want Kind) error {
	if t.kind != want {
		return &KindError{Want: want, Got: t.kind}
	}
	return nil
}

// AsAtom returns the atom view of t
func (t Term) AsAtom() (Atom, error) {
	if err := t.check(KindAtom); err != nil {
		return Atom{}, err
	}
	return Atom{Name: t.name}, nil
}

// AsVariable returns the variable view of t
func (t Term) AsVariable() (Variable, error) {
	if err := t.check(KindVariable); err != nil {
		return Variable{}, err
	}
	return Variable{Name: t.name}, nil
}

// AsInteger returns the integer view of t
func (t Term) AsInteger() (Integer, error) {
	if err := t.check(KindInteger); err != nil {
		return Integer{}, err
	}
	return Integer{Value: t.ival}, nil
}

// AsFloat returns the float view of t
func (t Term) AsFloat() (Float, error) {
	if err := t.check(KindFloat); err != nil {
		return Float{}, err
	}
	return Float{Value: t.fval}, nil
}

// AsNumber returns the number view of an integer or float term
func (t Term) AsNumber() (Number, error) {
	if !t.IsNumber() {
		return Number{}, &KindError{Want: KindInteger, Got: t.kind}
	}
	return Number{t: t}, nil
}

// AsCompound returns the compound view of t
func (t Term) AsCompound() (Compound, error) {
	if err := t.check(KindCompound); err != nil {
		return Compound{}, err
	}
	return Compound{functor: t.name, args: t.items}, nil
}

// AsList returns the list view of t
func (t Term) AsList() (List, error) {
	if err := t.check(KindList); err != nil {
		return List{}, err
	}
	return List{elements: t.items}, nil
}

// Atom is the view of an atom term
type Atom struct {
	Name string
}

func (a Atom) Term() Term { return NewAtom(a.Name) }

// Variable is the view of a variable term
type Variable struct {
	Name string
}

// IsAnonymous reports whether v is the anonymous variable "_"
func (v Variable) IsAnonymous() bool { return v.Name == "_" }

func (v Variable) Term() Term { return Term{kind: KindVariable, name: v.Name} }

// Integer is the view of an integer term
type Integer struct {
	Value int64
}

func (i Integer) Term() Term { return NewInteger(i.Value) }

// Float is the view of a float term
type Float struct {
	Value float64
}

func (f Float) Term() Term { return NewFloat(f.Value) }

// Number is the shared view of integer and float terms
type Number struct {
	t Term
}

func (n Number) IsInteger() bool { return n.t.kind == KindInteger }
func (n Number) IsFloat() bool   { return n.t.kind == KindFloat }
func (n Number) Term() Term      { return n.t }

// Float64 returns the numeric value widened to float64
func (n Number) Float64() float64 {
	if n.IsInteger() {
		return float64(n.t.ival)
	}
	return n.t.fval
}

// Compound is the view of a compound term
type Compound struct {
	functor string
	args    []Term
}

func (c Compound) Functor() string { return c.functor }
func (c Compound) Arity() int      { return len(c.args) }

// Arg returns the i-th argument, zero based
func (c Compound) Arg(i int) Term { return c.args[i] }

// Args returns a copy of the arguments
func (c Compound) Args() []Term { return slices.Clone(c.args) }

func (c Compound) Term() Term { return Term{kind: KindCompound, name: c.functor, items: c.args} }

// List is the view of a list term
type List struct {
	elements []Term
}

func (l List) Len() int         { return len(l.elements) }
func (l List) IsEmpty() bool    { return len(l.elements) == 0 }
func (l List) At(i int) Term    { return l.elements[i] }
func (l List) Elements() []Term { return slices.Clone(l.elements) }
func (l List) Term() Term       { return Term{kind: KindList, items: l.elements} }

// All iterates over the elements in order
func (l List) All() func(yield func(int, Term) bool) {
	return func(yield func(int, Term) bool) {
		for i, e := range l.elements {
			if !yield(i, e) {
				return
			}
		}
	}
}

// Append returns a new list with element added at the end
func (l List) Append(element Term) List {
	out := make([]Term, len(l.elements), len(l.elements)+1)
	copy(out, l.elements)
	return List{elements: append(out, element)}
}

// Concat returns a new list holding the elements of l followed by those of other
func (l List) Concat(other List) List {
	out := make([]Term, 0, len(l.elements)+len(other.elements))
	out = append(out, l.elements...)
	return List{elements: append(out, other.elements...)}
}
