package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and resurrect dead-lettered retry items",
	}
	cmd.AddCommand(newDeadLetterListCmd())
	cmd.AddCommand(newDeadLetterRetryCmd())
	return cmd
}

func newDeadLetterListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered items",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := engine.DeadLetterItems(cmd.Context())
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}

			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no dead-lettered items")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s/%s  attempts=%d  %s\n",
					item.ID, item.WorkID, item.Operation, item.AttemptCount, item.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func newDeadLetterRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Resurrect a dead-lettered item",
		Long: `Resets the item's attempt count and makes it immediately due for the
next sweep.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.RetryDeadLetter(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "item %s rescheduled\n", args[0])
			return nil
		},
	}
}
