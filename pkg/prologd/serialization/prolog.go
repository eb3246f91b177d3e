package serialization

import (
	"bufio"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// PrologSerializer writes Prolog source text that the engine reader accepts.
// Compounds are always written in canonical functor(args) form.
type PrologSerializer struct{}

func (s PrologSerializer) SerializeTerm(w io.Writer, t term.Term) error {
	bw := bufio.NewWriter(w)
	if err := writeTerm(bw, t); err != nil {
		return err
	}
	return bw.Flush()
}

// SerializeBindings writes one "Name = term" line per binding, sorted by name
func (s PrologSerializer) SerializeBindings(w io.Writer, b term.Bindings) error {
	bw := bufio.NewWriter(w)
	for i, name := range b.Names() {
		if i > 0 {
			bw.WriteString(",\n")
		}
		bw.WriteString(name)
		bw.WriteString(" = ")
		if err := writeTerm(bw, b[name]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (s PrologSerializer) SerializeQuery(w io.Writer, q program.Query) error {
	bw := bufio.NewWriter(w)
	if q.Module() != "" {
		writeAtom(bw, q.Module())
		bw.WriteByte(':')
	}
	if err := writeHead(bw, q.Predicate(), q.Arguments()); err != nil {
		return err
	}
	bw.WriteByte('.')
	return bw.Flush()
}

func (s PrologSerializer) SerializeClause(w io.Writer, c program.Clause) error {
	bw := bufio.NewWriter(w)
	if err := writeClause(bw, c); err != nil {
		return err
	}
	return bw.Flush()
}

// SerializeProgram writes one clause per line
func (s PrologSerializer) SerializeProgram(w io.Writer, p *program.Program) error {
	bw := bufio.NewWriter(w)
	if p != nil {
		for i, c := range p.Clauses() {
			if i > 0 {
				bw.WriteByte('\n')
			}
			if err := writeClause(bw, c); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func writeClause(w *bufio.Writer, c program.Clause) error {
	if !c.IsValid() {
		return errors.New("serialize clause: invalid clause")
	}
	if err := writeHead(w, c.Predicate(), c.Arguments()); err != nil {
		return err
	}
	if c.IsRule() {
		w.WriteString(" :- ")
		for i, g := range c.Goals() {
			if i > 0 {
				w.WriteString(", ")
			}
			if err := writeTerm(w, g); err != nil {
				return err
			}
		}
	}
	w.WriteByte('.')
	return nil
}

func writeHead(w *bufio.Writer, name string, args []term.Term) error {
	writeAtom(w, name)
	if len(args) == 0 {
		return nil
	}
	return writeArgs(w, args, "(", ")")
}

func writeArgs(w *bufio.Writer, args []term.Term, open, close string) error {
	w.WriteString(open)
	for i, a := range args {
		if i > 0 {
			w.WriteString(", ")
		}
		if err := writeTerm(w, a); err != nil {
			return err
		}
	}
	w.WriteString(close)
	return nil
}

func writeTerm(w *bufio.Writer, t term.Term) error {
	switch t.Kind() {
	case term.KindAtom:
		a, _ := t.AsAtom()
		writeAtom(w, a.Name)
	case term.KindVariable:
		v, _ := t.AsVariable()
		w.WriteString(v.Name)
	case term.KindInteger:
		i, _ := t.AsInteger()
		w.WriteString(strconv.FormatInt(i.Value, 10))
	case term.KindFloat:
		f, _ := t.AsFloat()
		w.WriteString(formatPrologFloat(f.Value))
	case term.KindList:
		l, _ := t.AsList()
		return writeArgs(w, l.Elements(), "[", "]")
	case term.KindCompound:
		c, _ := t.AsCompound()
		writeAtom(w, c.Functor())
		return writeArgs(w, c.Args(), "(", ")")
	default:
		return errors.New("serialize term: invalid term")
	}
	return nil
}

func formatPrologFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	s := formatFloat(v)
	// Prolog needs a fraction before the exponent: 1.0e+21, not 1e+21
	if i := strings.IndexAny(s, "eE"); i >= 0 && !strings.Contains(s[:i], ".") {
		s = s[:i] + ".0" + s[i:]
	}
	return s
}

// writeAtom quotes names that would not read back as the same atom
func writeAtom(w *bufio.Writer, name string) {
	if !needsQuotes(name) {
		w.WriteString(name)
		return
	}
	w.WriteByte('\'')
	for _, r := range name {
		switch r {
		case '\'':
			w.WriteString("\\'")
		case '\\':
			w.WriteString("\\\\")
		case '\n':
			w.WriteString("\\n")
		case '\t':
			w.WriteString("\\t")
		default:
			w.WriteRune(r)
		}
	}
	w.WriteByte('\'')
}

func needsQuotes(name string) bool {
	if name == "" {
		return true
	}
	if name == "[]" || name == "{}" || name == "!" || name == ";" {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !unicode.IsLower(r) {
				return true
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return true
		}
	}
	return false
}
