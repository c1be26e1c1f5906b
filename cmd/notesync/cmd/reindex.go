package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every record",
		Long: `Walks all records in creation order and re-runs the embedding pass for
each, a page at a time. One record's failure never aborts the run;
retryable failures are queued for the sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := engine.ReindexAll(cmd.Context())
			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"processed %d: %d succeeded, %d failed, %d skipped\n",
					report.Processed, report.Succeeded, report.Failed, report.Skipped)
			}
			return err
		},
	}
}
