package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cognicore/prologd/pkg/prologd/program"
	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// styles renders console output. Colours are dropped when the writer is
// not a terminal.
type styles struct {
	answer lipgloss.Style
	truth  lipgloss.Style
	err    lipgloss.Style
	muted  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		answer: r.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		truth:  r.NewStyle().Bold(true),
		err:    r.NewStyle().Foreground(lipgloss.Color("#e53935")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#6c757d")),
	}
}

// formatSolution renders bindings as "X = a,\nY = b", or "true" when the
// solution binds nothing
func formatSolution(b term.Bindings) string {
	if b.IsEmpty() {
		return "true"
	}
	text, err := serialization.ToString(serialization.PrologSerializer{}, b)
	if err != nil {
		return fmt.Sprintf("<unprintable: %v>", err)
	}
	return text
}

func parseFormat(s string) (server.Format, error) {
	switch strings.ToLower(s) {
	case "prolog", "":
		return server.FormatProlog, nil
	case "json":
		return server.FormatJSON, nil
	}
	return 0, fmt.Errorf("unknown format %q (want prolog or json)", s)
}

func parseMode(s string) (server.Mode, error) {
	switch strings.ToLower(s) {
	case "batch", "":
		return server.Batch, nil
	case "incremental":
		return server.Incremental, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want batch or incremental)", s)
}

// parseJSONQuery checks JSON query text locally before it is sent
func parseJSONQuery(text string) (program.Query, error) {
	return serialization.JSONDeserializer{}.DeserializeQuery(strings.NewReader(text))
}
