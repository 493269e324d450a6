package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/draftmark/internal/batch"
	"github.com/yourusername/draftmark/internal/jobs"
)

var (
	submitEnv  string
	submitWait bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Queue a batch for the worker pool",
	Long: `Submit a batch to the asynchronous queue and print its task id.

Examples:
  draftmark submit /shared/a.pdf /shared/b.png
  draftmark submit --wait /shared/report.docx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the state of a queued batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run batch workers until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	submitCmd.Flags().StringVar(&submitEnv, "env", string(batch.EnvPreprod), "requesting environment (PROD or PREPROD)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "poll until the batch finishes")
	rootCmd.AddCommand(submitCmd, statusCmd, workerCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	env, err := batch.ParseEnvironment(submitEnv)
	if err != nil {
		return err
	}
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.Shutdown(context.Background())

	handle, err := manager.Submit(cmd.Context(), batch.Request{FilePaths: args, Environment: env})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task: %s\n", handle.JobID)
	if !submitWait {
		return nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		record, err := handle.Status(cmd.Context())
		if err != nil {
			return err
		}
		if record.Status.Terminal() {
			printRecord(cmd.OutOrStdout(), record)
			if record.Status == jobs.StatusFailure {
				return errors.New("batch failed")
			}
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.Shutdown(context.Background())

	record, err := manager.Poll(cmd.Context(), args[0])
	if errors.Is(err, jobs.ErrJobNotFound) {
		return fmt.Errorf("task not found: %s", args[0])
	}
	if err != nil {
		return err
	}
	printRecord(cmd.OutOrStdout(), record)
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	manager, err := newManager()
	if err != nil {
		return err
	}
	defer manager.Shutdown(context.Background())

	logger.Info("starting workers", "concurrency", cfg.WorkerConcurrency, "output_dir", cfg.OutputDir)
	return manager.RunWorkers()
}

func printRecord(w io.Writer, record *jobs.Record) {
	fmt.Fprintf(w, "Task: %s\n", record.JobID)
	fmt.Fprintf(w, "  Status: %s\n", record.Status)
	fmt.Fprintf(w, "  Progress: %d%% (%s)\n", record.Progress.Percent, record.Progress.Stage)
	fmt.Fprintf(w, "  Created: %s\n", record.CreatedAt.Format(time.RFC3339))
	if record.Result != "" {
		fmt.Fprintf(w, "  Archive: %s\n", record.Result)
	}
	if record.Error != nil {
		fmt.Fprintf(w, "  Error: %s: %s\n", record.Error.Code, record.Error.Message)
	}
}
