package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Process due retry-queue items",
		Long: `Claims due retry items and replays their embedding operations. With
--interval the sweep loops until interrupted; otherwise it runs once.
Safe to run while another sweep is in flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			runOnce := func() error {
				report, err := engine.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"claimed %d: %d succeeded, %d rescheduled, %d dead-lettered, %d dropped\n",
					report.Claimed, report.Succeeded, report.Rescheduled,
					report.DeadLettered, report.Dropped)
				return nil
			}

			if interval <= 0 {
				return runOnce()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := runOnce(); err != nil {
					return err
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Run continuously, sweeping every interval")
	return cmd
}
