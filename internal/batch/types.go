// Package batch は複数ファイルへの透かし付与とzip化を行います。
package batch

import (
	"fmt"
	"strings"

	"github.com/yourusername/draftmark/internal/watermark"
)

// Environment はバッチ実行を依頼した環境を表します。
type Environment string

const (
	EnvProd    Environment = "PROD"
	EnvPreprod Environment = "PREPROD"
)

// ParseEnvironment は "PROD" / "PREPROD"（大文字小文字は区別しない）を解釈します。
func ParseEnvironment(raw string) (Environment, error) {
	switch Environment(strings.ToUpper(strings.TrimSpace(raw))) {
	case EnvProd:
		return EnvProd, nil
	case EnvPreprod:
		return EnvPreprod, nil
	default:
		return "", newError(CodeInvalidInput, fmt.Sprintf("env must be PROD or PREPROD (received: %q)", raw), nil)
	}
}

// Request はバッチ処理の依頼内容です。
type Request struct {
	JobID       string      `json:"jobId"`
	FilePaths   []string    `json:"filePaths"`
	Environment Environment `json:"env"`
}

// Validate は実行前に検出できる入力エラーを返します。maxFiles が 0 以下の場合は件数を制限しません。
func (r Request) Validate(maxFiles int) error {
	if r.Environment != EnvPreprod {
		return newError(CodeEnvironmentNotAllowed,
			fmt.Sprintf("Batch watermarking is only allowed in %s (received: %q).", EnvPreprod, r.Environment), nil)
	}
	if len(r.FilePaths) == 0 {
		return newError(CodeInvalidInput, "No file paths provided.", nil)
	}
	if maxFiles > 0 && len(r.FilePaths) > maxFiles {
		return newError(CodeLimitExceeded, fmt.Sprintf("At most %d files can be processed in one batch.", maxFiles), nil)
	}
	for i, p := range r.FilePaths {
		if strings.TrimSpace(p) == "" {
			return newError(CodeInvalidInput, fmt.Sprintf("file_paths[%d] is empty.", i), nil)
		}
	}
	return nil
}

// RenderedFile は作業ディレクトリ内に生成された透かし入りファイルです。
type RenderedFile struct {
	Source string           `json:"source"`
	Output string           `json:"output"`
	Name   string           `json:"name"`
	Format watermark.Format `json:"format"`
	Pages  int              `json:"pages,omitempty"`
}

// Archive はバッチの成果物となるzipファイルです。
type Archive struct {
	JobID string         `json:"jobId"`
	Path  string         `json:"path"`
	Size  int64          `json:"size"`
	Files []RenderedFile `json:"files"`
}
