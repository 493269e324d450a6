package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// workspace はジョブ専用の作業ディレクトリです。
type workspace struct {
	jobID string
	dir   string
}

func (w workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

// createWorkspace は <outputRoot>/<jobID> を排他的に作成します。既に存在する場合はエラーです。
func (o *Orchestrator) createWorkspace(jobID string) (workspace, error) {
	if err := validateJobID(jobID); err != nil {
		return workspace{}, err
	}
	dir := filepath.Join(o.outputRoot, jobID)
	if err := os.Mkdir(dir, 0o750); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return workspace{}, fmt.Errorf("作業ディレクトリが既に存在します: %s", dir)
		}
		return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return workspace{jobID: jobID, dir: dir}, nil
}

func validateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." ||
		strings.ContainsAny(jobID, `/\`) || filepath.Base(jobID) != jobID {
		return newError(CodeInvalidInput, fmt.Sprintf("invalid job id %q", jobID), nil)
	}
	return nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
