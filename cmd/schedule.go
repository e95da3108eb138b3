package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/etrends/internal/model"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect recurring acquisition jobs",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured jobs and their cron specs",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cfg.Schedule, nil, nil)
		if err != nil {
			return err
		}
		formatJobs(cmd.OutOrStdout(), sched.Jobs())
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func formatJobs(out io.Writer, jobs []model.ScheduledJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tKIND\tSPEC\tENABLED\tNEXT RUN")
	_, _ = fmt.Fprintln(w, "---\t----\t----\t-------\t--------")
	for _, j := range jobs {
		next := "-"
		if j.NextRun != nil {
			next = j.NextRun.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", j.Name, j.Kind, j.Spec, j.Enabled, next)
	}
	_ = w.Flush()
}
