package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cognicore/prologd/pkg/prologd/client"
	"github.com/cognicore/prologd/pkg/prologd/server"
)

var (
	queryFormat string
	queryMode   string
	queryOnce   bool
)

var queryCmd = &cobra.Command{
	Use:   "query GOAL",
	Short: "Run one query against the service",
	Long: `Runs GOAL on the service and prints every solution, or only the first
with --once. With --format json, GOAL is a serialized query such as
{"predicate":"member","arguments":["X",[1,2]]}.`,
	Example: `  prologd query 'member(X, [a,b,c])'
  prologd query --once 'between(1, inf, X)'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(queryFormat)
		if err != nil {
			return err
		}
		mode, err := parseMode(queryMode)
		if err != nil {
			return err
		}
		q, err := buildQuery(strings.Join(args, " "), format)
		if err != nil {
			return err
		}
		return runQuery(cmd.Context(), transport(), q, mode, queryOnce, cmd.OutOrStdout())
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryFormat, "format", "prolog", "Query format: prolog or json")
	queryCmd.Flags().StringVar(&queryMode, "mode", "batch", "Solution mode: batch or incremental")
	queryCmd.Flags().BoolVar(&queryOnce, "once", false, "Print only the first solution")
}

func buildQuery(text string, format server.Format) (*client.Query, error) {
	if format == server.FormatJSON {
		pq, err := parseJSONQuery(text)
		if err != nil {
			return nil, err
		}
		return client.NewQuery(pq)
	}
	return client.NewGoal(strings.TrimSuffix(strings.TrimSpace(text), ".")), nil
}

// runQuery prints the solutions of q, ending with "false." when it has
// none
func runQuery(ctx context.Context, sc client.ServiceClient, q *client.Query, mode server.Mode, once bool, out io.Writer) error {
	st := newStyles(out)

	if once {
		sol, err := q.Once(ctx, sc)
		if err != nil {
			return err
		}
		if !sol.IsValid() {
			fmt.Fprintln(out, st.truth.Render("false."))
			return nil
		}
		fmt.Fprintln(out, st.answer.Render(formatSolution(sol.Bindings())+"."))
		return nil
	}

	n := 0
	switch mode {
	case server.Incremental:
		p, err := q.Incremental(ctx, sc)
		if err != nil {
			return err
		}
		defer p.Close()
		for p.Next() {
			fmt.Fprintln(out, st.answer.Render(formatSolution(p.Solution().Bindings())+";"))
			n++
		}
		if err := p.Err(); err != nil {
			return err
		}
	default:
		all, err := q.All(ctx, sc)
		if err != nil {
			return err
		}
		for _, sol := range all {
			fmt.Fprintln(out, st.answer.Render(formatSolution(sol.Bindings())+";"))
			n++
		}
	}
	if n == 0 {
		fmt.Fprintln(out, st.truth.Render("false."))
	}
	return nil
}
