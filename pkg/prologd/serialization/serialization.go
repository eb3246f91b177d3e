// Package serialization converts terms, bindings, queries, clauses and
// programs to and from textual interchange forms.
//
// Two codecs are provided: JSON (both directions) and Prolog source text
// (serialization only; Prolog text is parsed by the engine itself).
package serialization

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Serializer writes model values in a textual form
type Serializer interface {
	SerializeTerm(w io.Writer, t term.Term) error
	SerializeBindings(w io.Writer, b term.Bindings) error
	SerializeQuery(w io.Writer, q program.Query) error
	SerializeClause(w io.Writer, c program.Clause) error
	SerializeProgram(w io.Writer, p *program.Program) error
}

// Deserializer reads model values from a textual form
type Deserializer interface {
	DeserializeTerm(r io.Reader) (term.Term, error)
	DeserializeBindings(r io.Reader) (term.Bindings, error)
	DeserializeQuery(r io.Reader) (program.Query, error)
	DeserializeClause(r io.Reader) (program.Clause, error)
	DeserializeProgram(r io.Reader) (*program.Program, error)
}

// ParseError reports malformed input text or structure
type ParseError struct {
	Description string
}

func (e *ParseError) Error() string {
	return "Failure to parse JSON expression: " + e.Description
}

// ConversionError reports well-formed input that does not map onto the model
type ConversionError struct {
	Description string
}

func (e *ConversionError) Error() string {
	return "Failure to convert JSON value to Prolog term: " + e.Description
}

// ToString serializes v, which must be a term.Term, term.Bindings,
// program.Query, program.Clause or *program.Program.
func ToString(s Serializer, v any) (string, error) {
	var buf bytes.Buffer
	var err error
	switch x := v.(type) {
	case term.Term:
		err = s.SerializeTerm(&buf, x)
	case term.Bindings:
		err = s.SerializeBindings(&buf, x)
	case program.Query:
		err = s.SerializeQuery(&buf, x)
	case program.Clause:
		err = s.SerializeClause(&buf, x)
	case *program.Program:
		err = s.SerializeProgram(&buf, x)
	default:
		return "", fmt.Errorf("serialization: unsupported value %T", v)
	}
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
