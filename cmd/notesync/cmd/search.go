package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kadragon/notesync/internal/search"
	"github.com/kadragon/notesync/internal/store"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var format string
	var entityTypes []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search",
		Long: `Runs the query through both the full-text index and, for work notes,
the vector index, and fuses the scores into one ranking per entity
type.

Examples:
  notesync search "quarterly budget review"
  notesync search "onboarding" --type person --limit 5
  notesync search "migration plan" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			opts := search.Options{Limit: limit}
			for _, t := range entityTypes {
				opts.EntityTypes = append(opts.EntityTypes, store.EntityType(t))
			}

			result, err := engine.Search(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			printed := false
			for _, t := range store.SearchableEntityTypes {
				group := result.Groups[t]
				if len(group) == 0 {
					continue
				}
				printed = true
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", t)
				for i, r := range group {
					fmt.Fprintf(cmd.OutOrStdout(), "  %2d. %-30s %.4f  [%s]\n",
						i+1, r.EntityID, r.Score, r.Source)
				}
			}
			if !printed {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
			}
			for _, t := range result.Degraded {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s results are degraded\n", t)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results per entity type")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&entityTypes, "type", "t", nil, "Restrict to entity types (work_note, person, department)")
	return cmd
}
