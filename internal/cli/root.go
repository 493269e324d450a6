// Package cli は draftmark コマンドラインツールを提供します。
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yourusername/draftmark/internal/batch"
	"github.com/yourusername/draftmark/internal/config"
	"github.com/yourusername/draftmark/internal/jobs"
	"github.com/yourusername/draftmark/internal/watermark"
)

var (
	// Version はビルド時に埋め込まれます。
	Version = "0.1.0"

	verbose bool

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "draftmark",
	Short: "Stamp DRAFT watermarks onto PDF, image and DOCX files",
	Long: `draftmark stamps a visible watermark onto documents.

Files can be processed locally (render, batch) or submitted to the
asynchronous job queue shared with the API server (submit, status, worker).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := config.ParseLogLevel(cfg.LogLevel)
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute はルートコマンドを実行します。
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func newOrchestrator() (*batch.Orchestrator, error) {
	style, err := cfg.LoadStyle()
	if err != nil {
		return nil, err
	}
	return batch.NewOrchestrator(watermark.NewRegistry(style), batch.Options{
		OutputRoot:  cfg.OutputDir,
		Suffix:      cfg.OutputSuffix,
		Text:        style.Text,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	})
}

func newManager() (*jobs.Manager, error) {
	orch, err := newOrchestrator()
	if err != nil {
		return nil, err
	}
	store, err := jobs.NewRedisStore(cfg.QueueRedisURL, cfg.JobTTL())
	if err != nil {
		return nil, err
	}
	return jobs.NewManager(cfg, orch, store, logger)
}
