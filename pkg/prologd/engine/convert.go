package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	pl "github.com/ichiban/prolog/engine"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// goalText returns the Prolog text of q's goal. Goal-text queries pass
// their text through, others are written in canonical form.
func goalText(q program.Query) (string, error) {
	args := q.Arguments()
	if q.Predicate() == "call" && len(args) == 1 && args[0].IsAtom() {
		a, _ := args[0].AsAtom()
		text := strings.TrimSpace(a.Name)
		return strings.TrimSpace(strings.TrimSuffix(text, ".")), nil
	}
	text, err := serialization.ToString(serialization.PrologSerializer{}, term.NewCompound(q.Predicate(), args...))
	if err != nil {
		return "", &ConversionError{Description: err.Error()}
	}
	return text, nil
}

// wrapGoal appends the call that reports each solution of goal, as a list
// of 'Name'=Value pairs, to query id
func wrapGoal(goal string, id int64, names []string) string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(goal)
	// the newline ends a trailing line comment in goal
	sb.WriteString("\n), '")
	sb.WriteString(solutionPredicate)
	sb.WriteString("'(")
	sb.WriteString(strconv.FormatInt(id, 10))
	sb.WriteString(", [")
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "'%s'=%s", name, name)
	}
	sb.WriteString("]).")
	return sb.String()
}

// variableNames lists the named variables of Prolog text in order of first
// appearance. The anonymous variable is left out. Results are cached per
// text in goalVars and must not be modified.
func variableNames(text string) []string {
	if names, ok := goalVars.Get(text); ok {
		return names
	}
	rs := []rune(text)
	names := []string{}
	seen := make(map[string]bool)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			i = skipQuoted(rs, i)
		case r == '%':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i < len(rs) && !(rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '/') {
				i++
			}
			i += 2
		case r == '0' && i+1 < len(rs) && rs[i+1] == '\'':
			// character code such as 0'a, 0'\n or 0'''
			i += 2
			switch {
			case i+1 < len(rs) && (rs[i] == '\\' || (rs[i] == '\'' && rs[i+1] == '\'')):
				i += 2
			default:
				i++
			}
		case isWordRune(r):
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			if (unicode.IsUpper(r) || r == '_') && word != "_" && !seen[word] {
				seen[word] = true
				names = append(names, word)
			}
			i = j
		default:
			i++
		}
	}
	goalVars.Add(text, names)
	return names
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// skipQuoted returns the index just past the quoted item starting at i
func skipQuoted(rs []rune, i int) int {
	quote := rs[i]
	for j := i + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			j++
		case quote:
			if j+1 < len(rs) && rs[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(rs)
}

// bindingsOf reads the 'Name'=Value list reported for a solution
func bindingsOf(raw pl.Term, names []string) (term.Bindings, error) {
	b := term.NewBindings()
	pairs, err := fromNative(raw)
	if err != nil {
		return nil, err
	}
	list, err := pairs.AsList()
	if err != nil || list.Len() != len(names) {
		return nil, &ConversionError{Description: "malformed solution bindings"}
	}
	for i, pair := range list.All() {
		c, err := pair.AsCompound()
		if err != nil || c.Functor() != "=" || c.Arity() != 2 {
			return nil, &ConversionError{Description: "malformed solution binding"}
		}
		b.Add(names[i], c.Arg(1))
	}
	return b, nil
}

// fromNative reads an interpreter term in portable form. Proper lists
// become lists; partial lists stay nested '.'/2 compounds.
func fromNative(t pl.Term) (term.Term, error) {
	switch x := t.(type) {
	case pl.Variable:
		name := fmt.Sprint(x)
		if !term.IsVariableName(name) || name == "_" {
			name = "_G" + name
		}
		return term.MustVariable(name), nil
	case pl.Atom:
		if x.String() == "[]" {
			return term.NewList(), nil
		}
		return term.NewAtom(x.String()), nil
	case pl.Integer:
		return term.NewInteger(int64(x)), nil
	case pl.Float:
		f, err := strconv.ParseFloat(fmt.Sprint(x), 64)
		if err != nil {
			return term.Term{}, &ConversionError{Description: "float " + fmt.Sprint(x)}
		}
		return term.NewFloat(f), nil
	case pl.Compound:
		if items, ok, err := listOf(x); err != nil || ok {
			return term.NewList(items...), err
		}
		args := make([]term.Term, x.Arity())
		for i := range args {
			a, err := fromNative(x.Arg(i))
			if err != nil {
				return term.Term{}, err
			}
			args[i] = a
		}
		return term.NewCompound(x.Functor().String(), args...), nil
	case nil:
		return term.Term{}, &ConversionError{Description: "missing term"}
	}
	return term.Term{}, &ConversionError{Description: fmt.Sprintf("unsupported interpreter term %T", t)}
}

// listOf collects the elements of a proper list; ok is false otherwise
func listOf(c pl.Compound) (items []term.Term, ok bool, err error) {
	var cur pl.Term = c
	for {
		switch x := cur.(type) {
		case pl.Atom:
			return items, x.String() == "[]", nil
		case pl.Compound:
			if x.Functor().String() != "." || x.Arity() != 2 {
				return nil, false, nil
			}
			head, err := fromNative(x.Arg(0))
			if err != nil {
				return nil, false, err
			}
			items = append(items, head)
			cur = x.Arg(1)
		default:
			return nil, false, nil
		}
	}
}
