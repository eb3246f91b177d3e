package term

import (
	"fmt"
	"reflect"
)

// Solution is one answer of a query. A valid solution with no bindings is
// a plain "true"; the zero Solution stands for "no solution".
type Solution struct {
	bindings Bindings
	valid    bool
}

// NewSolution wraps b as a valid solution
func NewSolution(b Bindings) Solution {
	if b == nil {
		b = NewBindings()
	}
	return Solution{bindings: b, valid: true}
}

func (s Solution) IsValid() bool      { return s.valid }
func (s Solution) IsEmpty() bool      { return len(s.bindings) == 0 }
func (s Solution) Bindings() Bindings { return s.bindings }

// Term returns the term bound to name
func (s Solution) Term(name string) (Term, error) {
	t, ok := s.bindings.Get(name)
	if !ok {
		return Term{}, &NoSuchTermError{Name: name}
	}
	return t, nil
}

// NoSuchTermError reports a lookup of an unbound variable name
type NoSuchTermError struct {
	Name string
}

func (e *NoSuchTermError) Error() string {
	return fmt.Sprintf("Solution contains no binding for [%s].", e.Name)
}

// ConversionError reports a bound term that cannot be converted to the
// requested Go type
type ConversionError struct {
	Name string
	Kind Kind
	Type reflect.Type
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("Failure to convert solution term bound to [%s].", e.Name)
}

var termType = reflect.TypeOf(Term{})

// Value converts the term bound to name into T.
//
// string accepts atoms only. Integer kinds and bool accept integers only
// (bool is true for non-zero). Float kinds accept floats only. Slices accept
// lists and convert each element by the same rules. Term returns the raw term.
func Value[T any](s Solution, name string) (T, error) {
	var zero T
	t, err := s.Term(name)
	if err != nil {
		return zero, err
	}
	target := reflect.TypeOf((*T)(nil)).Elem()
	v, ok := convert(t, target)
	if !ok {
		return zero, &ConversionError{Name: name, Kind: t.Kind(), Type: target}
	}
	return v.Interface().(T), nil
}

func convert(t Term, target reflect.Type) (reflect.Value, bool) {
	if target == termType {
		return reflect.ValueOf(t), true
	}
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		if !t.IsAtom() {
			return out, false
		}
		out.SetString(t.name)
	case reflect.Bool:
		if !t.IsInteger() {
			return out, false
		}
		out.SetBool(t.ival != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !t.IsInteger() {
			return out, false
		}
		out.SetInt(t.ival)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if !t.IsInteger() {
			return out, false
		}
		out.SetUint(uint64(t.ival))
	case reflect.Float32, reflect.Float64:
		if !t.IsFloat() {
			return out, false
		}
		out.SetFloat(t.fval)
	case reflect.Slice:
		if !t.IsList() {
			return out, false
		}
		elems := reflect.MakeSlice(target, len(t.items), len(t.items))
		for i, item := range t.items {
			v, ok := convert(item, target.Elem())
			if !ok {
				return out, false
			}
			elems.Index(i).Set(v)
		}
		out.Set(elems)
	default:
		return out, false
	}
	return out, true
}
