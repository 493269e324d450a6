package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/draftmark/internal/batch"
	"github.com/yourusername/draftmark/internal/config"
	"github.com/yourusername/draftmark/internal/jobs"
)

const archiveDownloadName = "draft_files.zip"

// jobTracker は HTTP 層から見たジョブ管理です。jobs.Manager が実装します。
type jobTracker interface {
	Submit(ctx context.Context, req batch.Request) (*jobs.Handle, error)
	Poll(ctx context.Context, jobID string) (*jobs.Record, error)
	FetchArtifact(ctx context.Context, jobID string) (*jobs.Artifact, error)
	DiscardArtifact(artifact *jobs.Artifact) error
}

type batchJobScheduler struct {
	tracker jobTracker
}

func (s *batchJobScheduler) Schedule(ctx context.Context, req batch.Request) (string, error) {
	handle, err := s.tracker.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return handle.JobID, nil
}

func setupJobs(cfg *config.Config, runner jobs.Runner, logger *slog.Logger) (*jobs.Manager, error) {
	store, err := jobs.NewRedisStore(cfg.QueueRedisURL, cfg.JobTTL())
	if err != nil {
		return nil, err
	}
	return jobs.NewManager(cfg, runner, store, logger)
}

func taskIDParam(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Query("task_id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "task_id is required."})
		return "", false
	}
	return jobID, true
}

func statusHandler(tracker jobTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := taskIDParam(c)
		if !ok {
			return
		}

		record, err := tracker.Poll(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found."})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read task status."})
			return
		}

		payload := gin.H{
			"task_id": record.JobID,
			"status":  record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
			},
			"updated_at": record.UpdatedAt,
		}
		switch record.Status {
		case jobs.StatusSuccess:
			payload["result"] = record.Result
			payload["download_url"] = record.DownloadURL
		case jobs.StatusFailure:
			if record.Error != nil {
				payload["result"] = record.Error.Message
				payload["error"] = record.Error
			}
		}
		c.JSON(http.StatusOK, payload)
	}
}

// downloadHandler はzipを返し、レスポンスを書き切った後でアーカイブを削除します。
func downloadHandler(tracker jobTracker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := taskIDParam(c)
		if !ok {
			return
		}

		artifact, err := tracker.FetchArtifact(c.Request.Context(), jobID)
		if err != nil {
			respondArtifactError(c, err)
			return
		}

		if !streamArchive(c, artifact) {
			return
		}
		c.Writer.Flush()
		if err := tracker.DiscardArtifact(artifact); err != nil {
			logger.Warn("failed to remove downloaded archive", "job_id", jobID, "error", err)
		}
	}
}

func respondArtifactError(c *gin.Context, err error) {
	var failed *jobs.FailedError
	switch {
	case errors.As(err, &failed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"detail": "Batch processing failed: " + failed.Info.Message,
			"code":   failed.Info.Code,
		})
	case errors.Is(err, jobs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found."})
	case errors.Is(err, jobs.ErrNotReady):
		c.JSON(http.StatusNotFound, gin.H{"detail": "File not ready or task not found."})
	case errors.Is(err, jobs.ErrArtifactMissing):
		c.JSON(http.StatusNotFound, gin.H{"detail": "File no longer available."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read archive."})
	}
}

func streamArchive(c *gin.Context, artifact *jobs.Artifact) bool {
	file, err := os.Open(artifact.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "File no longer available."})
			return false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read archive."})
		return false
	}
	defer file.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", archiveDownloadName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", artifact.JobID)
	c.DataFromReader(http.StatusOK, artifact.Size, "application/zip", file, nil)
	return true
}
