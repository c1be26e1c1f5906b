package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed <work-id>...",
		Short: "Run the embedding pass for specific records",
		Long: `Re-derives chunks, embeddings, and lexical documents for the given
records. Records with no embeddable text are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var failed int
			for _, workID := range args {
				if err := engine.Embed(cmd.Context(), workID); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "embed %s: %v\n", workID, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "embedded %s\n", workID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, len(args))
			}
			return nil
		},
	}
}
