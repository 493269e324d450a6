package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/draftmark/internal/batch"
)

var batchEnv string

var batchCmd = &cobra.Command{
	Use:   "batch <file>...",
	Short: "Watermark files in-process and zip them",
	Long: `Run a batch locally without the job queue. All files are stamped in
order and packed into <OUTPUT_DIR>/<job-id>.zip. The batch stops at the
first file that cannot be processed.

Examples:
  draftmark batch a.pdf b.png
  draftmark batch --env PREPROD *.docx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchEnv, "env", string(batch.EnvPreprod), "requesting environment (PROD or PREPROD)")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	env, err := batch.ParseEnvironment(batchEnv)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	archive, err := orch.Run(cmd.Context(), batch.Request{FilePaths: args, Environment: env}, func(stage string, percent int) {
		fmt.Fprintf(stderr, "\r%-10s %3d%%", stage, percent)
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, f := range archive.Files {
		fmt.Fprintf(out, "  %s -> %s\n", f.Source, f.Name)
	}
	fmt.Fprintf(out, "Archive: %s (%d bytes)\n", archive.Path, archive.Size)
	return nil
}
