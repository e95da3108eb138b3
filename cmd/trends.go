package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/etrends/internal/model"
	"github.com/sells-group/etrends/internal/trend"
)

var (
	trendsWindow int
	trendsFormat string
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Report price trends from stored data",
}

var trendsLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Latest price per vendor within the window, cheapest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		window := trendsWindow
		if window == 0 {
			window = cfg.Trends.ComparisonWindowDays
		}
		prices, err := env.Trends.LatestPrices(ctx, window)
		if err != nil {
			return eris.Wrap(err, "latest prices")
		}

		out := cmd.OutOrStdout()
		return writeFormatted(out, trendsFormat, prices, func(w io.Writer) {
			formatLatest(w, prices)
		})
	},
}

var trendsSeriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Per-vendor and federal price series within the window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		window := trendsWindow
		if window == 0 {
			window = cfg.Trends.ChartWindowDays
		}
		series, err := env.Trends.Series(ctx, window)
		if err != nil {
			return eris.Wrap(err, "price series")
		}

		out := cmd.OutOrStdout()
		return writeFormatted(out, trendsFormat, series, func(w io.Writer) {
			formatSeries(w, series)
		})
	},
}

func init() {
	trendsCmd.PersistentFlags().IntVar(&trendsWindow, "window", 0, "window in days (default from config)")
	trendsCmd.PersistentFlags().StringVar(&trendsFormat, "format", formatTable, "output format: table, json or yaml")
	trendsCmd.AddCommand(trendsLatestCmd, trendsSeriesCmd)
	rootCmd.AddCommand(trendsCmd)
}

func formatLatest(out io.Writer, prices []trend.VendorPrice) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VENDOR\tTOWN\tPRICE\tDATE")
	_, _ = fmt.Fprintln(w, "------\t----\t-----\t----")
	for _, p := range prices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.VendorName, p.Town, p.Price.StringFixed(3), p.Date.Format(model.DateLayout))
	}
	_ = w.Flush()
}

// formatSeries prints one row per point, vendors in name order and the
// federal series last.
func formatSeries(out io.Writer, s *trend.Series) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERIES\tDATE\tPRICE")
	_, _ = fmt.Fprintln(w, "------\t----\t-----")

	names := make([]string, 0, len(s.Vendors))
	for name := range s.Vendors {
		names = append(names, name)
	}
	sort.Strings(names)

	row := func(label string, p *trend.Points) {
		for i := range p.Dates {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
				label, p.Dates[i].Format(model.DateLayout), p.Prices[i].StringFixed(3))
		}
	}
	for _, name := range names {
		row(name, s.Vendors[name])
	}
	row("(federal)", &s.Federal)
	_ = w.Flush()
}
