package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// JobScheduler はバッチを非同期キューに投入し、ジョブIDを返します。
type JobScheduler interface {
	Schedule(ctx context.Context, req Request) (string, error)
}

// FileRenderer は単一ファイルを同期的に処理します。Orchestrator が実装します。
type FileRenderer interface {
	RenderFile(ctx context.Context, path string) (*RenderedFile, func() error, error)
}

// HandlerOptions はバッチ投入時の制限です。
type HandlerOptions struct {
	MaxBatchFiles int
}

type batchRequest struct {
	FilePaths []string `json:"file_paths"`
	Env       string   `json:"env"`
}

type singleRequest struct {
	FilePath string `json:"file_path"`
}

// BatchHandler は POST /watermark/batch/ のハンドラーを返します。
func BatchHandler(scheduler JobScheduler, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body batchRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": "Request body must be JSON: {\"file_paths\": [...], \"env\": \"PROD\"|\"PREPROD\"}.",
			})
			return
		}
		if len(body.FilePaths) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "No file paths provided."})
			return
		}

		env, err := ParseEnvironment(body.Env)
		if err != nil {
			respondWithError(c, err)
			return
		}
		req := Request{FilePaths: body.FilePaths, Environment: env}
		if err := req.Validate(opts.MaxBatchFiles); err != nil {
			respondWithError(c, err)
			return
		}

		jobID, err := scheduler.Schedule(c.Request.Context(), req)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message": "Batch watermarking and zipping initiated.",
			"task_id": jobID,
		})
	}
}

// SingleFileHandler は POST /watermark/ のハンドラーを返します。どの形式も同期的に処理し、結果をそのまま返します。
func SingleFileHandler(svc FileRenderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body singleRequest
		if err := c.ShouldBindJSON(&body); err != nil || body.FilePath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "file_path is required."})
			return
		}

		file, cleanup, err := svc.RenderFile(c.Request.Context(), body.FilePath)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer func() {
			_ = cleanup()
		}()

		if err := streamFile(c, file); err != nil {
			respondWithError(c, err)
		}
	}
}

func streamFile(c *gin.Context, file *RenderedFile) error {
	f, err := os.Open(file.Output)
	if err != nil {
		return fmt.Errorf("出力ファイルの読み込みに失敗しました: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("出力ファイルの情報取得に失敗しました: %w", err)
	}

	contentType := "application/octet-stream"
	if detected, err := mimetype.DetectFile(file.Output); err == nil {
		contentType = detected.String()
	}

	encodedName := url.PathEscape(file.Name)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", file.Name, encodedName))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, f, nil)
	return nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":   apiErr.Code,
			"detail": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":   "REQUEST_CANCELED",
			"detail": "The request was canceled.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":   "INTERNAL_ERROR",
			"detail": "An internal server error occurred.",
		})
	}
}
