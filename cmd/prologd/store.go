package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/prologd/pkg/prologd/knowledge"
	"github.com/cognicore/prologd/pkg/prologd/store"
	"github.com/cognicore/prologd/pkg/prologd/store/sqlite"
)

var (
	dbPath       string
	loadName     string
	journalLimit int
	journalID    string
)

var loadCmd = &cobra.Command{
	Use:   "load FILE...",
	Short: "Store knowledge files in the service database",
	Long: `Checks each Prolog (.pl) or JSON (.json) program file and stores it as a
knowledge source. The service consults stored sources when it starts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadName != "" && len(args) > 1 {
			return fmt.Errorf("--name needs exactly one file")
		}
		ctx := cmd.Context()
		st, err := sqlite.OpenSQLite(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		logger.Debug("store opened", zap.String("path", dbPath))
		for _, path := range args {
			if err := storeFile(ctx, st, path, loadName, cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recent queries recorded by the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := sqlite.OpenSQLite(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		logger.Debug("store opened", zap.String("path", dbPath))
		return printJournal(ctx, st, journalID, journalLimit, time.Now(), cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{loadCmd, journalCmd} {
		c.Flags().StringVar(&dbPath, "db", "prologd.db", "SQLite database path")
	}
	loadCmd.Flags().StringVar(&loadName, "name", "", "Source name (default: the file path)")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Number of queries to list")
	journalCmd.Flags().StringVar(&journalID, "id", "", "Show one query")
}

// storeFile validates a program file and upserts it as a source
func storeFile(ctx context.Context, st store.Store, path, name string, out io.Writer) error {
	src, err := knowledge.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := knowledge.Render(src); err != nil {
		return err
	}
	if name != "" {
		src.Name = name
	}
	if err := st.UpsertSource(ctx, src); err != nil {
		return fmt.Errorf("store %s: %w", src.Name, err)
	}
	fmt.Fprintf(out, "stored %s (%s, %s)\n", src.Name, src.Format, humanize.Bytes(uint64(len(src.Text))))
	return nil
}

func printJournal(ctx context.Context, st store.Store, id string, limit int, now time.Time, out io.Writer) error {
	var recs []store.QueryRecord
	if id != "" {
		rec, ok, err := st.GetQuery(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no query %s in journal", id)
		}
		recs = []store.QueryRecord{rec}
	} else {
		var err error
		recs, err = st.RecentQueries(ctx, limit)
		if err != nil {
			return err
		}
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "no queries recorded")
		return nil
	}

	sty := newStyles(out)
	fmt.Fprintf(out, "%-26s  %-9s  %-11s  %9s  %-16s  %s\n", "ID", "STATUS", "MODE", "SOLUTIONS", "OPENED", "QUERY")
	for _, r := range recs {
		status := fmt.Sprintf("%-9s", r.Status)
		if r.Status == store.StatusFailed {
			status = sty.err.Render(status)
		}
		fmt.Fprintf(out, "%-26s  %s  %-11s  %9d  %-16s  %s\n",
			r.ID, status, r.Mode, r.Solutions, humanize.RelTime(r.OpenedAt, now, "ago", "from now"), oneLine(r.Query))
		if r.Error != "" {
			fmt.Fprintln(out, sty.muted.Render("    "+oneLine(r.Error)))
		}
	}
	return nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
