package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/draftmark/internal/watermark"
)

// DefaultSuffix は出力ファイル名の拡張子の前に付ける既定の接尾辞です。
const DefaultSuffix = "-DRAFT"

// Renderer は1ファイル分の透かし描画を行います。watermark.Registry が実装します。
type Renderer interface {
	Render(ctx context.Context, inputPath, outputPath, text string) (watermark.Format, error)
}

// ProgressReporter は進捗更新用コールバックです。percent は 0〜100 に丸めて渡されます。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	cb(stage, max(0, min(100, percent)))
}

// Options は Orchestrator の設定です。
type Options struct {
	OutputRoot  string
	Suffix      string
	Text        string
	MaxFileSize int64
	Logger      *slog.Logger
}

// Orchestrator はバッチの作業ディレクトリ確保・描画・zip化・後片付けを行います。
type Orchestrator struct {
	renderer    Renderer
	outputRoot  string
	suffix      string
	text        string
	maxFileSize int64
	logger      *slog.Logger
	newID       func() string
}

// NewOrchestrator は Orchestrator を初期化し、出力ルートを作成します。
func NewOrchestrator(renderer Renderer, opts Options) (*Orchestrator, error) {
	if renderer == nil {
		return nil, errors.New("renderer is nil")
	}
	if strings.TrimSpace(opts.OutputRoot) == "" {
		return nil, errors.New("output root is required")
	}
	root, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("出力ディレクトリの解決に失敗しました: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}
	suffix := opts.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		renderer:    renderer,
		outputRoot:  root,
		suffix:      suffix,
		text:        opts.Text,
		maxFileSize: opts.MaxFileSize,
		logger:      logger,
		newID:       uuid.NewString,
	}, nil
}

// OutputRoot は作業ディレクトリとアーカイブを置くディレクトリを返します。
func (o *Orchestrator) OutputRoot() string {
	return o.outputRoot
}

// ArchivePath はジョブのアーカイブの保存先を返します。
func (o *Orchestrator) ArchivePath(jobID string) string {
	return filepath.Join(o.outputRoot, jobID+".zip")
}

// Run は入力順にファイルへ透かしを入れ、<outputRoot>/<jobID>.zip にまとめます。
// 1ファイルでも失敗した時点で中断し、作業ディレクトリを削除して最初のエラーを返します。
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressReporter) (*Archive, error) {
	if err := req.Validate(0); err != nil {
		return nil, err
	}
	if req.JobID == "" {
		req.JobID = o.newID()
	}

	ws, err := o.createWorkspace(req.JobID)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("job_id", req.JobID)
	logger.Info("batch started", "files", len(req.FilePaths))
	reportProgress(progress, "render", 0)

	names := newNameAllocator(o.suffix)
	rendered := make([]RenderedFile, 0, len(req.FilePaths))
	for i, src := range req.FilePaths {
		if err := ctx.Err(); err != nil {
			return nil, o.abort(ws, err)
		}
		file, err := o.renderInto(ctx, ws, src, names)
		if err != nil {
			logger.Warn("batch aborted", "file", src, "index", i, "error", err)
			return nil, o.abort(ws, err)
		}
		rendered = append(rendered, *file)
		reportProgress(progress, "render", 90*(i+1)/len(req.FilePaths))
	}

	if len(rendered) == 0 {
		return nil, o.abort(ws, newError(CodeNoFilesProcessed, "No files were processed.", nil))
	}

	reportProgress(progress, "archive", 95)
	archivePath := o.ArchivePath(req.JobID)
	outputs := make([]string, len(rendered))
	for i, f := range rendered {
		outputs[i] = f.Output
	}
	if err := createZip(archivePath, outputs); err != nil {
		if !errors.Is(err, os.ErrExist) {
			_ = os.Remove(archivePath)
		}
		return nil, o.abort(ws, err)
	}
	if err := removeDir(ws.dir); err != nil {
		logger.Warn("failed to remove working directory", "dir", ws.dir, "error", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("zipファイルの確認に失敗しました: %w", err)
	}
	for i := range rendered {
		rendered[i].Output = rendered[i].Name
	}

	reportProgress(progress, "completed", 100)
	logger.Info("batch completed", "archive", archivePath, "size", info.Size())
	return &Archive{
		JobID: req.JobID,
		Path:  archivePath,
		Size:  info.Size(),
		Files: rendered,
	}, nil
}

// RenderFile は1ファイルを同期的に処理します。戻り値の cleanup で作業ディレクトリを削除してください。
func (o *Orchestrator) RenderFile(ctx context.Context, path string) (*RenderedFile, func() error, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, newError(CodeInvalidInput, "file_path is required.", nil)
	}
	ws, err := o.createWorkspace("single-" + o.newID())
	if err != nil {
		return nil, nil, err
	}
	file, err := o.renderInto(ctx, ws, path, newNameAllocator(o.suffix))
	if err != nil {
		return nil, nil, o.abort(ws, err)
	}
	return file, func() error { return removeDir(ws.dir) }, nil
}

func (o *Orchestrator) renderInto(ctx context.Context, ws workspace, src string, names *nameAllocator) (*RenderedFile, error) {
	if o.maxFileSize > 0 {
		if info, err := os.Stat(src); err == nil && info.Size() > o.maxFileSize {
			return nil, newError(CodeLimitExceeded,
				fmt.Sprintf("%s exceeds the maximum file size of %d bytes", filepath.Base(src), o.maxFileSize), nil)
		}
	}

	name := names.next(src)
	out := ws.path(name)
	format, err := o.renderer.Render(ctx, src, out, o.text)
	if err != nil {
		return nil, classifyRenderError(src, err)
	}

	file := &RenderedFile{Source: src, Output: out, Name: name, Format: format}
	if format == watermark.FormatPDF {
		if pages, err := watermark.PageCount(out); err == nil {
			file.Pages = pages
		}
	}
	return file, nil
}

// abort は作業ディレクトリを削除し、cause をそのまま返します。
func (o *Orchestrator) abort(ws workspace, cause error) error {
	if err := removeDir(ws.dir); err != nil {
		return fmt.Errorf("%w (作業ディレクトリの削除にも失敗しました: %v)", cause, err)
	}
	return cause
}

// nameAllocator は "<base><suffix><ext>" 形式の出力名を払い出します。同名が続く場合は -2, -3 を付けます。
type nameAllocator struct {
	suffix string
	used   map[string]bool
}

func newNameAllocator(suffix string) *nameAllocator {
	return &nameAllocator{suffix: suffix, used: make(map[string]bool)}
}

func (a *nameAllocator) next(src string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	name := stem + a.suffix + ext
	for n := 2; a.used[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s%s-%d%s", stem, a.suffix, n, ext)
	}
	a.used[strings.ToLower(name)] = true
	return name
}
