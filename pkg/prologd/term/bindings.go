package term

import (
	"maps"
	"slices"
)

// Bindings maps variable names to the terms they were bound to in one solution
type Bindings map[string]Term

// NewBindings creates an empty binding set
func NewBindings() Bindings {
	return make(Bindings)
}

// Add inserts or overwrites the binding for name
func (b Bindings) Add(name string, t Term) {
	b[name] = t
}

// Get returns the term bound to name. A miss yields the invalid Term and false.
func (b Bindings) Get(name string) (Term, bool) {
	t, ok := b[name]
	return t, ok
}

// Contains reports whether name is bound
func (b Bindings) Contains(name string) bool {
	_, ok := b[name]
	return ok
}

// IsEmpty reports whether no variable is bound
func (b Bindings) IsEmpty() bool {
	return len(b) == 0
}

// Names returns the bound variable names in sorted order
func (b Bindings) Names() []string {
	return slices.Sorted(maps.Keys(b))
}

// Clone returns an independent copy of b
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	maps.Copy(out, b)
	return out
}

// Equal reports whether both binding sets hold structurally equal terms
func (b Bindings) Equal(o Bindings) bool {
	return maps.EqualFunc(b, o, Term.Equal)
}
