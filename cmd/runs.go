package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/etrends/internal/model"
)

var (
	runsKind  string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the acquisition audit log",
	Long:  "Lists recent acquisition runs, newest first, optionally filtered by source kind.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter := model.LogFilter{Limit: runsLimit}
		if runsKind != "" {
			kind, err := model.ParseSourceKind(runsKind)
			if err != nil {
				return err
			}
			filter.Kind = kind
		}

		env, err := initEnv(ctx, "read", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListLog(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRuns(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsKind, "kind", "", "filter by source kind (local or federal)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

// formatRuns writes a tabular representation of audit entries to out.
func formatRuns(out io.Writer, entries []model.AcquisitionLogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tTRIGGER\tTIME\tDURATION\tVENDORS\tNEW\tUPDATED\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t----\t--------\t-------\t---\t-------\t-------")

	for _, e := range entries {
		status := "success"
		if !e.Success {
			status = "failed"
		}
		trigger := "manual"
		if e.Scheduled {
			trigger = "scheduled"
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.ID,
			e.Kind,
			status,
			trigger,
			e.Timestamp.Format("2006-01-02 15:04"),
			e.Duration.Round(time.Millisecond),
			e.CreatedVendors,
			e.NewPrices,
			e.UpdatedPrices,
			truncate(e.Message, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
