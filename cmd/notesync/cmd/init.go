package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kadragon/notesync/configs"
	"github.com/kadragon/notesync/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter notesync.yaml",
		Long: `Write an annotated notesync.yaml into the current directory.

The generated file documents every setting with its default value.
Settings loaded from it can still be overridden per-invocation with
NOTESYNC_* environment variables.`,
		Example: `  # Create notesync.yaml in the current directory
  notesync init

  # Overwrite an existing config
  notesync init --force

  # Write to a custom path
  notesync init -c configs/notesync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = "notesync.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}

			// Catch template drift before the user trips over it at runtime.
			if _, err := config.Load(path); err != nil {
				return fmt.Errorf("generated config failed validation: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	return cmd
}
