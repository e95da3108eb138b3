package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/etrends/internal/model"
)

var acquireCmd = &cobra.Command{
	Use:       "acquire local|federal",
	Short:     "Run one acquisition from a source",
	Long:      "Fetches from the local vendor page or the federal API, reconciles into the store and records an audit entry. Exits non-zero when the run fails.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(model.SourceLocal), string(model.SourceFederal)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := model.ParseSourceKind(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "acquire", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Orchestrator.Run(ctx, kind, false)
		if out != nil {
			printOutcome(cmd.OutOrStdout(), out)
		}
		if err != nil {
			return err
		}
		if !out.Success {
			return eris.Errorf("%s acquisition failed", kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(acquireCmd)
}

func printOutcome(w io.Writer, out *model.Outcome) {
	status := "ok"
	if !out.Success {
		status = "FAILED"
	}
	fmt.Fprintf(w, "[%s] %s run %s: %s\n", status, out.Kind, out.RunID, out.Message)
}
