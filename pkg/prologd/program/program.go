// Package program models loadable knowledge (facts, rules and programs) and
// portable queries on top of the term model.
package program

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cognicore/prologd/pkg/prologd/term"
)

// DefaultModule is the module queries run in when none is given
const DefaultModule = "user"

var (
	ErrEmptyPredicate   = errors.New("predicate must not be empty")
	ErrCompoundArgument = errors.New("clause arguments must not be compound")
	ErrEmptyBody        = errors.New("rule requires at least one goal")
)

// Clause is either a Fact (no goals) or a Rule (one or more goals)
type Clause struct {
	predicate string
	arguments []term.Term
	goals     []term.Term
}

// NewFact builds predicate(arguments...).
func NewFact(predicate string, arguments ...term.Term) (Clause, error) {
	if err := checkHead(predicate, arguments); err != nil {
		return Clause{}, err
	}
	return Clause{predicate: predicate, arguments: slices.Clone(arguments)}, nil
}

// NewRule builds predicate(arguments...) :- goals.
func NewRule(predicate string, arguments []term.Term, goals ...term.Term) (Clause, error) {
	if err := checkHead(predicate, arguments); err != nil {
		return Clause{}, err
	}
	if len(goals) == 0 {
		return Clause{}, fmt.Errorf("rule %s/%d: %w", predicate, len(arguments), ErrEmptyBody)
	}
	return Clause{
		predicate: predicate,
		arguments: slices.Clone(arguments),
		goals:     slices.Clone(goals),
	}, nil
}

// NewClause builds a Fact when goals is empty and a Rule otherwise
func NewClause(predicate string, arguments []term.Term, goals []term.Term) (Clause, error) {
	if len(goals) == 0 {
		return NewFact(predicate, arguments...)
	}
	return NewRule(predicate, arguments, goals...)
}

func checkHead(predicate string, arguments []term.Term) error {
	if predicate == "" {
		return ErrEmptyPredicate
	}
	for i, arg := range arguments {
		if arg.IsCompound() {
			return fmt.Errorf("%s/%d argument %d: %w", predicate, len(arguments), i+1, ErrCompoundArgument)
		}
	}
	return nil
}

func (c Clause) IsValid() bool          { return c.predicate != "" }
func (c Clause) IsFact() bool           { return c.IsValid() && len(c.goals) == 0 }
func (c Clause) IsRule() bool           { return c.IsValid() && len(c.goals) > 0 }
func (c Clause) Predicate() string      { return c.predicate }
func (c Clause) Arity() int             { return len(c.arguments) }
func (c Clause) Arguments() []term.Term { return slices.Clone(c.arguments) }
func (c Clause) Goals() []term.Term     { return slices.Clone(c.goals) }
func (c Clause) NumGoals() int          { return len(c.goals) }

// WithGoal returns a rule with goal appended to the body
func (c Clause) WithGoal(goal term.Term) Clause {
	out := c
	out.goals = append(slices.Clone(c.goals), goal)
	return out
}

// Program is an ordered collection of clauses
type Program struct {
	clauses []Clause
}

// New creates a program holding clauses in order
func New(clauses ...Clause) *Program {
	return &Program{clauses: slices.Clone(clauses)}
}

func (p *Program) Len() int          { return len(p.clauses) }
func (p *Program) IsEmpty() bool     { return len(p.clauses) == 0 }
func (p *Program) Clauses() []Clause { return slices.Clone(p.clauses) }

// Append adds clauses at the end
func (p *Program) Append(clauses ...Clause) {
	p.clauses = append(p.clauses, clauses...)
}

// AppendProgram adds all clauses of other at the end
func (p *Program) AppendProgram(other *Program) {
	if other == nil {
		return
	}
	p.clauses = append(p.clauses, other.clauses...)
}

// Clear removes all clauses
func (p *Program) Clear() {
	p.clauses = nil
}

// Concat returns a new program with the clauses of p followed by those of other
func (p *Program) Concat(other *Program) *Program {
	out := New(p.clauses...)
	out.AppendProgram(other)
	return out
}

// Query is a goal in portable form: module:predicate(arguments...)
type Query struct {
	module    string
	predicate string
	arguments []term.Term
}

// NewQuery builds a query in the default module
func NewQuery(predicate string, arguments ...term.Term) Query {
	return NewModuleQuery(DefaultModule, predicate, arguments...)
}

// NewModuleQuery builds a query in module. An empty module means the default module.
func NewModuleQuery(module, predicate string, arguments ...term.Term) Query {
	if module == "" {
		module = DefaultModule
	}
	return Query{module: module, predicate: predicate, arguments: slices.Clone(arguments)}
}

// NewGoal wraps Prolog source text as call('text')
func NewGoal(text string) Query {
	return NewQuery("call", term.NewAtom(text))
}

func (q Query) Module() string         { return q.module }
func (q Query) Predicate() string      { return q.predicate }
func (q Query) Arguments() []term.Term { return slices.Clone(q.arguments) }
func (q Query) Arity() int             { return len(q.arguments) }
func (q Query) IsValid() bool          { return q.predicate != "" }

// IsGoal reports whether no argument is a variable
func (q Query) IsGoal() bool {
	for _, arg := range q.arguments {
		if arg.IsVariable() {
			return false
		}
	}
	return true
}
