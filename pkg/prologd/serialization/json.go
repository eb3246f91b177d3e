package serialization

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// JSONSerializer writes the JSON interchange form.
//
// Atoms and variables become strings, integers and floats become numbers
// (floats always carry a fraction or exponent), lists become arrays and
// compounds become {"functor": ..., "arguments": [...]} objects. The form
// does not tell atoms from variables, so an atom named like a variable
// ('Hello', '_x') comes back from JSONDeserializer as a variable.
type JSONSerializer struct {
	// Indent enables styled multi-line output when non-empty
	Indent string
}

type compoundValue struct {
	Functor   string `json:"functor"`
	Arguments []any  `json:"arguments"`
}

type queryValue struct {
	Module    string `json:"module,omitempty"`
	Predicate string `json:"predicate"`
	Arguments []any  `json:"arguments,omitempty"`
}

type clauseValue struct {
	Predicate string `json:"predicate"`
	Arguments []any  `json:"arguments,omitempty"`
	Goals     []any  `json:"goals,omitempty"`
}

func (s JSONSerializer) write(w io.Writer, v any) error {
	var data []byte
	var err error
	if s.Indent != "" {
		data, err = json.MarshalIndent(v, "", s.Indent)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func (s JSONSerializer) SerializeTerm(w io.Writer, t term.Term) error {
	v, err := termToValue(t)
	if err != nil {
		return err
	}
	return s.write(w, v)
}

func (s JSONSerializer) SerializeBindings(w io.Writer, b term.Bindings) error {
	v, err := bindingsToValue(b)
	if err != nil {
		return err
	}
	return s.write(w, v)
}

func (s JSONSerializer) SerializeQuery(w io.Writer, q program.Query) error {
	args, err := termsToValues(q.Arguments())
	if err != nil {
		return err
	}
	return s.write(w, queryValue{Module: q.Module(), Predicate: q.Predicate(), Arguments: args})
}

func (s JSONSerializer) SerializeClause(w io.Writer, c program.Clause) error {
	v, err := clauseToValue(c)
	if err != nil {
		return err
	}
	return s.write(w, v)
}

func (s JSONSerializer) SerializeProgram(w io.Writer, p *program.Program) error {
	values := []clauseValue{}
	if p != nil {
		for _, c := range p.Clauses() {
			v, err := clauseToValue(c)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
	}
	return s.write(w, values)
}

func bindingsToValue(b term.Bindings) (map[string]any, error) {
	out := make(map[string]any, len(b))
	for name, t := range b {
		v, err := termToValue(t)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func clauseToValue(c program.Clause) (clauseValue, error) {
	if !c.IsValid() {
		return clauseValue{}, errors.New("serialize clause: invalid clause")
	}
	args, err := termsToValues(c.Arguments())
	if err != nil {
		return clauseValue{}, err
	}
	goals, err := termsToValues(c.Goals())
	if err != nil {
		return clauseValue{}, err
	}
	return clauseValue{Predicate: c.Predicate(), Arguments: args, Goals: goals}, nil
}

func termsToValues(terms []term.Term) ([]any, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	out := make([]any, 0, len(terms))
	for _, t := range terms {
		v, err := termToValue(t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// termToValue maps t onto its JSON value. Atoms and variables both become
// plain strings, so an atom whose name starts with an uppercase letter or
// "_" (such as 'Hello') reads back as a variable.
func termToValue(t term.Term) (any, error) {
	switch t.Kind() {
	case term.KindAtom:
		a, _ := t.AsAtom()
		return a.Name, nil
	case term.KindVariable:
		v, _ := t.AsVariable()
		return v.Name, nil
	case term.KindInteger:
		i, _ := t.AsInteger()
		return i.Value, nil
	case term.KindFloat:
		f, _ := t.AsFloat()
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return nil, fmt.Errorf("serialize term: %v has no JSON representation", f.Value)
		}
		return json.Number(formatFloat(f.Value)), nil
	case term.KindList:
		l, _ := t.AsList()
		elems := make([]any, 0, l.Len())
		for _, e := range l.All() {
			v, err := termToValue(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return elems, nil
	case term.KindCompound:
		c, _ := t.AsCompound()
		args, err := termsToValues(c.Args())
		if err != nil {
			return nil, err
		}
		return compoundValue{Functor: c.Functor(), Arguments: args}, nil
	default:
		return nil, errors.New("serialize term: invalid term")
	}
}

// formatFloat renders v so that it reads back as a float
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// JSONDeserializer reads the JSON interchange form
type JSONDeserializer struct{}

func (d JSONDeserializer) DeserializeTerm(r io.Reader) (term.Term, error) {
	v, err := decodeValue(r)
	if err != nil {
		return term.Term{}, err
	}
	return valueToTerm(v)
}

func (d JSONDeserializer) DeserializeBindings(r io.Reader) (term.Bindings, error) {
	v, err := decodeValue(r)
	if err != nil {
		return nil, err
	}
	return valueToBindings(v)
}

func (d JSONDeserializer) DeserializeQuery(r io.Reader) (program.Query, error) {
	v, err := decodeValue(r)
	if err != nil {
		return program.Query{}, err
	}
	return valueToQuery(v)
}

func (d JSONDeserializer) DeserializeClause(r io.Reader) (program.Clause, error) {
	v, err := decodeValue(r)
	if err != nil {
		return program.Clause{}, err
	}
	return valueToClause(v)
}

func (d JSONDeserializer) DeserializeProgram(r io.Reader) (*program.Program, error) {
	v, err := decodeValue(r)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &ConversionError{Description: "Invalid value type."}
	}
	p := program.New()
	for _, item := range arr {
		c, err := valueToClause(item)
		if err != nil {
			return nil, err
		}
		p.Append(c)
	}
	return p, nil
}

func decodeValue(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Description: "No root value found."}
		}
		return nil, &ParseError{Description: err.Error()}
	}
	if v == nil {
		return nil, &ParseError{Description: "No root value found."}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Description: "Unexpected data after root value."}
	}
	return v, nil
}

func valueToBindings(v any) (term.Bindings, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ConversionError{Description: "Invalid value type."}
	}
	b := term.NewBindings()
	for name, item := range obj {
		t, err := valueToTerm(item)
		if err != nil {
			return nil, err
		}
		b.Add(name, t)
	}
	return b, nil
}

func checkMembers(obj map[string]any, min, max int, allowed ...string) error {
	if len(obj) < min || len(obj) > max {
		return &ParseError{Description: "Invalid number of object members."}
	}
	for name := range obj {
		known := false
		for _, a := range allowed {
			if name == a {
				known = true
				break
			}
		}
		if !known {
			return &ParseError{Description: fmt.Sprintf("Unknown object member named [%s].", name)}
		}
	}
	return nil
}

func stringMember(obj map[string]any, name string, required bool) (string, bool, error) {
	raw, ok := obj[name]
	if !ok {
		if required {
			return "", false, &ParseError{Description: fmt.Sprintf("Missing object member named [%s].", name)}
		}
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, &ParseError{Description: fmt.Sprintf("Member [%s] has invalid value type.", name)}
	}
	return s, true, nil
}

func termsMember(obj map[string]any, name string, required bool) ([]term.Term, error) {
	raw, ok := obj[name]
	if !ok {
		if required {
			return nil, &ParseError{Description: fmt.Sprintf("Missing object member named [%s].", name)}
		}
		return nil, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, &ParseError{Description: fmt.Sprintf("Member [%s] has invalid value type.", name)}
	}
	out := make([]term.Term, 0, len(arr))
	for _, item := range arr {
		t, err := valueToTerm(item)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func valueToQuery(v any) (program.Query, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return program.Query{}, &ConversionError{Description: "Invalid value type."}
	}
	if err := checkMembers(obj, 2, 3, "module", "predicate", "arguments"); err != nil {
		return program.Query{}, err
	}
	module, _, err := stringMember(obj, "module", false)
	if err != nil {
		return program.Query{}, err
	}
	predicate, _, err := stringMember(obj, "predicate", true)
	if err != nil {
		return program.Query{}, err
	}
	if predicate == "" {
		return program.Query{}, &ConversionError{Description: "Empty predicate."}
	}
	args, err := termsMember(obj, "arguments", false)
	if err != nil {
		return program.Query{}, err
	}
	return program.NewModuleQuery(module, predicate, args...), nil
}

func valueToClause(v any) (program.Clause, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return program.Clause{}, &ConversionError{Description: "Invalid value type."}
	}
	if err := checkMembers(obj, 1, 3, "predicate", "arguments", "goals"); err != nil {
		return program.Clause{}, err
	}
	predicate, _, err := stringMember(obj, "predicate", true)
	if err != nil {
		return program.Clause{}, err
	}
	args, err := termsMember(obj, "arguments", false)
	if err != nil {
		return program.Clause{}, err
	}
	goals, err := termsMember(obj, "goals", false)
	if err != nil {
		return program.Clause{}, err
	}
	c, err := program.NewClause(predicate, args, goals)
	if err != nil {
		return program.Clause{}, &ConversionError{Description: err.Error()}
	}
	return c, nil
}

func valueToTerm(v any) (term.Term, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) != 2 {
			return term.Term{}, &ParseError{Description: "Invalid number of object members."}
		}
		functor, _, err := stringMember(x, "functor", true)
		if err != nil {
			return term.Term{}, err
		}
		args, err := termsMember(x, "arguments", true)
		if err != nil {
			return term.Term{}, err
		}
		if functor == "" {
			return term.Term{}, &ConversionError{Description: "Empty functor."}
		}
		return term.NewCompound(functor, args...), nil
	case []any:
		elems := make([]term.Term, 0, len(x))
		for _, item := range x {
			t, err := valueToTerm(item)
			if err != nil {
				return term.Term{}, err
			}
			elems = append(elems, t)
		}
		return term.NewList(elems...), nil
	case string:
		return term.FromString(x), nil
	case json.Number:
		return numberToTerm(x)
	default:
		return term.Term{}, &ConversionError{Description: "Invalid value type."}
	}
}

func numberToTerm(n json.Number) (term.Term, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		f, err := n.Float64()
		if err != nil {
			return term.Term{}, &ConversionError{Description: err.Error()}
		}
		return term.NewFloat(f), nil
	}
	i, err := n.Int64()
	if err != nil {
		return term.Term{}, &ConversionError{Description: err.Error()}
	}
	return term.NewInteger(i), nil
}
