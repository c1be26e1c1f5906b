// Package cmd provides the CLI commands for notesync.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kadragon/notesync/internal/config"
	"github.com/kadragon/notesync/internal/logging"
	"github.com/kadragon/notesync/pkg/notesync"
	"github.com/kadragon/notesync/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the notesync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notesync",
		Short: "Embedding sync engine for work notes",
		Long: `notesync keeps a derived vector index and full-text index in sync with
a relational store of work notes, and answers hybrid lexical+semantic
queries over them.

Failed embedding operations land in a durable retry queue with
exponential backoff; exhausted items park in a dead-letter state for
operator review.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("notesync version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: notesync.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newDeadLetterCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// openEngine loads configuration, sets up logging, and opens the engine.
// The returned cleanup closes both.
func openEngine(ctx context.Context) (*notesync.Engine, func(), error) {
	path := configPath
	if path == "" {
		path = "notesync.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig(cfg.Paths.DataDir)
	logCfg.Level = cfg.Logging.Level
	if cfg.Paths.DataDir == "" {
		logCfg.FilePath = ""
	} else {
		logCfg.FilePath = filepath.Join(cfg.Paths.DataDir, "notesync.log")
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	engine, err := notesync.Open(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	cleanup := func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close engine: %v\n", err)
		}
		logCleanup()
	}
	return engine, cleanup, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
