package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/prologd/pkg/prologd/client"
)

const (
	promptQuery    = "?- "
	promptContinue = "|    "
)

var consoleWait time.Duration

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive Prolog top level against the service",
	Long: `Reads goals terminated by "." and prints their solutions. After each
solution type ";" for the next one, or press enter to stop. Type "halt."
to leave.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr := transport()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Welcome to the interactive Prolog client")
		fmt.Fprintln(out)

		ctx := cmd.Context()
		if !tr.Exists(ctx) {
			fmt.Fprintln(out, "Establishing connection to the Prolog service...")
			wctx, cancel := context.WithTimeout(ctx, consoleWait)
			ok := tr.WaitForExistence(wctx, 250*time.Millisecond)
			cancel()
			if !ok {
				return fmt.Errorf("no Prolog service at %s; has it been started?", addr)
			}
		}
		fmt.Fprintln(out, "Please enter your query after the prompt,")
		fmt.Fprintln(out, "or type 'halt.' to exit the client.")
		fmt.Fprintln(out)
		return runConsole(ctx, tr, cmd.InOrStdin(), out)
	},
}

func init() {
	consoleCmd.Flags().DurationVar(&consoleWait, "wait", 30*time.Second, "How long to wait for the service to come up")
}

// console is one interactive session
type console struct {
	sc    client.ServiceClient
	in    *bufio.Scanner
	out   io.Writer
	style styles
}

// runConsole reads goals from in until "halt." or end of input
func runConsole(ctx context.Context, sc client.ServiceClient, in io.Reader, out io.Writer) error {
	c := &console{sc: sc, in: bufio.NewScanner(in), out: out, style: newStyles(out)}
	for {
		goal, ok := c.readGoal()
		if !ok {
			fmt.Fprintln(out)
			return c.in.Err()
		}
		if goal == "halt" {
			return nil
		}
		c.run(ctx, goal)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// readGoal collects lines until one ends with "." and returns the goal
// without it
func (c *console) readGoal() (string, bool) {
	var parts []string
	fmt.Fprint(c.out, promptQuery)
	for c.in.Scan() {
		line := strings.TrimSpace(c.in.Text())
		if line != "" {
			parts = append(parts, line)
		}
		goal := strings.Join(parts, " ")
		if strings.HasSuffix(goal, ".") {
			return strings.TrimSpace(strings.TrimSuffix(goal, ".")), true
		}
		if len(parts) == 0 {
			fmt.Fprint(c.out, promptQuery)
		} else {
			fmt.Fprint(c.out, promptContinue)
		}
	}
	return "", false
}

func (c *console) run(ctx context.Context, goal string) {
	if goal == "" {
		return
	}
	p, err := client.NewGoal(goal).Incremental(ctx, c.sc)
	if err != nil {
		c.fail(err)
		return
	}
	defer p.Close()

	for p.Next() {
		fmt.Fprint(c.out, c.style.answer.Render(formatSolution(p.Solution().Bindings())), " ")
		if !c.wantMore() {
			fmt.Fprintln(c.out, c.style.truth.Render("."))
			return
		}
		fmt.Fprintln(c.out, ";")
	}
	if err := p.Err(); err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintln(c.out, c.style.truth.Render("false."))
}

// wantMore asks whether the next solution should be fetched
func (c *console) wantMore() bool {
	for c.in.Scan() {
		switch strings.TrimSpace(c.in.Text()) {
		case ";":
			return true
		case "", "stop":
			return false
		default:
			fmt.Fprint(c.out, c.style.muted.Render("(; next, enter stops)"), " ")
		}
	}
	return false
}

func (c *console) fail(err error) {
	fmt.Fprintln(c.out, c.style.err.Render("Query failed: "+err.Error()))
}
