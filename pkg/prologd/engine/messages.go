package engine

import (
	"fmt"
	"strings"

	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// messageText renders an exception term as a one-line description
func messageText(t term.Term) string {
	c, err := t.AsCompound()
	if err != nil || c.Functor() != "error" || c.Arity() != 2 {
		return "Unknown message: " + writeq(t)
	}
	var prefix, suffix string
	if ctx, err := c.Arg(1).AsCompound(); err == nil && ctx.Functor() == "context" && ctx.Arity() == 2 {
		if !ctx.Arg(0).IsVariable() {
			prefix = writeq(ctx.Arg(0)) + ": "
		}
		switch extra := ctx.Arg(1); {
		case extra.IsVariable():
		case extra.IsAtom():
			a, _ := extra.AsAtom()
			suffix = " (" + a.Name + ")"
		default:
			suffix = " (" + writeq(extra) + ")"
		}
	}
	return prefix + formalText(c.Arg(0)) + suffix
}

func formalText(f term.Term) string {
	if a, err := f.AsAtom(); err == nil && a.Name == "instantiation_error" {
		return "Arguments are not sufficiently instantiated"
	}
	c, err := f.AsCompound()
	if err != nil {
		return "Unknown error term: " + writeq(f)
	}
	arg := func(i int) string { return writeq(c.Arg(i)) }
	switch name, n := c.Functor(), c.Arity(); {
	case name == "existence_error" && n == 2:
		if c.Arg(0).Equal(term.NewAtom("procedure")) {
			return "Unknown procedure: " + arg(1)
		}
		return fmt.Sprintf("%s `%s' does not exist", arg(0), arg(1))
	case name == "type_error" && n == 2:
		return fmt.Sprintf("Type error: `%s' expected, found `%s' (%s)", arg(0), arg(1), kindOf(c.Arg(1)))
	case name == "domain_error" && n == 2:
		return fmt.Sprintf("Domain error: `%s' expected, found `%s'", arg(0), arg(1))
	case name == "permission_error" && n == 3:
		return fmt.Sprintf("No permission to %s %s `%s'", arg(0), arg(1), arg(2))
	case name == "representation_error" && n == 1:
		return fmt.Sprintf("Cannot represent due to `%s'", arg(0))
	case name == "evaluation_error" && n == 1:
		return "Arithmetic: evaluation error: " + arg(0)
	case name == "resource_error" && n == 1:
		return "Not enough resources: " + arg(0)
	case name == "syntax_error" && n == 1:
		return "Syntax error: " + strings.ReplaceAll(write(c.Arg(0)), "_", " ")
	case name == "format" && n == 1:
		return "Format error: " + write(c.Arg(0))
	}
	return "Unknown error term: " + writeq(f)
}

// kindOf names the type of a culprit the way type errors describe it
func kindOf(t term.Term) string {
	switch t.Kind() {
	case term.KindVariable:
		return "a var"
	case term.KindInteger:
		return "an integer"
	case term.KindFloat:
		return "a float"
	case term.KindAtom:
		return "an atom"
	case term.KindList:
		if l, _ := t.AsList(); l.IsEmpty() {
			return "an empty_list"
		}
		return "a list"
	case term.KindCompound:
		return "a compound"
	}
	return "a term"
}

// infixOps are written between their arguments in messages
var infixOps = map[string]string{
	"/": "/", "//": "//", ":": ":", "-": "-", "+": "+", "*": "*", "=": "=",
	",": ",", "->": "->", ";": ";", "==": "==", "<": "<", ">": ">", "=<": "=<", ">=": ">=",
	"is": " is ", "rem": " rem ", "mod": " mod ",
}

// writeq writes t the way messages quote culprits
func writeq(t term.Term) string {
	var sb strings.Builder
	writeMessageTerm(&sb, t, true)
	return sb.String()
}

// write is writeq without atom quotes
func write(t term.Term) string {
	var sb strings.Builder
	writeMessageTerm(&sb, t, false)
	return sb.String()
}

func writeMessageTerm(sb *strings.Builder, t term.Term, quoted bool) {
	switch t.Kind() {
	case term.KindAtom:
		a, _ := t.AsAtom()
		sb.WriteString(atomText(a.Name, quoted))
	case term.KindList:
		l, _ := t.AsList()
		sb.WriteByte('[')
		for i, e := range l.All() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeMessageTerm(sb, e, quoted)
		}
		sb.WriteByte(']')
	case term.KindCompound:
		c, _ := t.AsCompound()
		if op, ok := infixOps[c.Functor()]; ok && c.Arity() == 2 {
			writeMessageTerm(sb, c.Arg(0), quoted)
			sb.WriteString(op)
			writeMessageTerm(sb, c.Arg(1), quoted)
			return
		}
		sb.WriteString(atomText(c.Functor(), quoted))
		sb.WriteByte('(')
		for i, a := range c.Args() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeMessageTerm(sb, a, quoted)
		}
		sb.WriteByte(')')
	default:
		s, _ := serialization.ToString(serialization.PrologSerializer{}, t)
		sb.WriteString(s)
	}
}

// atomText leaves symbol-character atoms bare and otherwise quotes the way
// the Prolog serializer does
func atomText(name string, quoted bool) string {
	if !quoted || isSymbolAtom(name) {
		return name
	}
	s, err := serialization.ToString(serialization.PrologSerializer{}, term.NewAtom(name))
	if err != nil {
		return name
	}
	return s
}

func isSymbolAtom(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !strings.ContainsRune(`+-*/\^<>=~:.?@#&$`, r) {
			return false
		}
	}
	return true
}
