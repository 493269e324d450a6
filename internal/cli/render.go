package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var renderOutDir string

var renderCmd = &cobra.Command{
	Use:   "render <file>...",
	Short: "Watermark files one by one and write them next to the inputs",
	Long: `Watermark each file synchronously. The result is written as
<name><suffix><ext> into --out (default: the input's directory).

Examples:
  draftmark render report.pdf
  draftmark render -o ./out scan.png notes.docx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutDir, "out", "o", "", "output directory")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator()
	if err != nil {
		return err
	}

	for _, path := range args {
		file, cleanup, err := orch.RenderFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		dir := renderOutDir
		if dir == "" {
			dir = filepath.Dir(path)
		}
		dest := filepath.Join(dir, file.Name)
		err = copyFile(file.Output, dest)
		if cerr := cleanup(); cerr != nil {
			logger.Warn("failed to remove working directory", "error", cerr)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", path, dest)
	}
	return nil
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
