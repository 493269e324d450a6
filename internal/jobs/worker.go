package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/draftmark/internal/batch"
)

func (m *Manager) newServer() (*asynq.Server, error) {
	if m.redisOpt == nil {
		return nil, errors.New("redis connection is not configured")
	}
	return asynq.NewServer(
		m.redisOpt,
		asynq.Config{
			Concurrency: m.cfg.WorkerConcurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger:          newAsynqLogger(m.logger),
			LogLevel:        asynqLogLevel(m.cfg.LogLevel),
			ShutdownTimeout: 30 * time.Second,
		},
	), nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	server, err := m.newServer()
	if err != nil {
		return err
	}
	m.sweepExpired()
	if err := server.Start(m.mux); err != nil {
		return fmt.Errorf("ワーカーの起動に失敗しました: %w", err)
	}
	m.server = server
	return nil
}

// RunWorkers はシグナルを受け取るまでワーカーを実行します。CLI の worker コマンド用です。
func (m *Manager) RunWorkers() error {
	server, err := m.newServer()
	if err != nil {
		return err
	}
	m.sweepExpired()
	if err := server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	m.timersMu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.timersMu.Unlock()
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func (m *Manager) handleBatchTask(ctx context.Context, task *asynq.Task) error {
	var req batch.Request
	if err := json.Unmarshal(task.Payload(), &req); err != nil || req.JobID == "" {
		jobID := taskID(task)
		if jobID == "" {
			return fmt.Errorf("malformed batch payload: %w", asynq.SkipRetry)
		}
		m.failJob(ctx, jobID, ErrorInfo{Code: batch.CodeInvalidInput, Message: "malformed task payload"})
		return fmt.Errorf("malformed batch payload for job %s: %w", jobID, asynq.SkipRetry)
	}

	logger := m.logger.With("job_id", req.JobID)
	_, err := m.store.Update(ctx, req.JobID, moveTo(StatusRunning, func(r *Record) {
		r.Progress = ProgressInfo{Percent: 0, Stage: "render"}
	}))
	switch {
	case errors.Is(err, ErrInvalidTransition):
		logger.Warn("job already finished, skipping")
		return nil
	case errors.Is(err, ErrJobNotFound):
		logger.Warn("job record not found, skipping")
		return nil
	case err != nil:
		return err
	}

	archive, err := m.runner.Run(ctx, req, func(stage string, percent int) {
		m.updateProgress(ctx, req.JobID, stage, percent)
	})
	if err != nil {
		return m.failJobWithError(ctx, req.JobID, err)
	}
	return m.finishJob(ctx, req.JobID, archive)
}

func (m *Manager) updateProgress(ctx context.Context, jobID, stage string, percent int) {
	_, err := m.store.Update(ctx, jobID, func(r *Record) error {
		if r.Status != StatusRunning {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, r.Status)
		}
		r.Progress = ProgressInfo{Percent: max(percent, r.Progress.Percent), Stage: stage}
		return nil
	})
	if err != nil {
		m.logger.Debug("failed to update progress", "job_id", jobID, "error", err)
	}
}

func (m *Manager) finishJob(ctx context.Context, jobID string, archive *batch.Archive) error {
	if archive == nil {
		return m.failJobWithError(ctx, jobID, errors.New("runner returned no archive"))
	}
	record, err := m.store.Update(context.WithoutCancel(ctx), jobID, moveTo(StatusSuccess, func(r *Record) {
		r.Progress = ProgressInfo{Percent: 100, Stage: "completed"}
		r.Result = archive.Path
		r.DownloadURL = m.buildDownloadURL(jobID)
		r.Error = nil
	}))
	if err != nil {
		return fmt.Errorf("job %s: ジョブ完了の記録に失敗しました: %w", jobID, err)
	}
	m.scheduleExpiry(jobID, archive.Path, record.ExpiresAt)
	m.logger.Info("job succeeded", "job_id", jobID, "archive", archive.Path, "files", len(archive.Files))
	return nil
}

func (m *Manager) failJob(ctx context.Context, jobID string, info ErrorInfo) {
	_, err := m.store.Update(context.WithoutCancel(ctx), jobID, moveTo(StatusFailure, func(r *Record) {
		r.Progress.Stage = "failed"
		r.Error = &info
	}))
	if err != nil {
		m.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
		return
	}
	m.logger.Warn("job failed", "job_id", jobID, "code", info.Code, "message", info.Message)
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	m.failJob(ctx, jobID, errorInfo(err))
	return nil
}

func errorInfo(err error) ErrorInfo {
	var apiErr *batch.Error
	switch {
	case errors.As(err, &apiErr):
		// 原因 (pdfcpu やデコーダーのエラー) も含めてそのまま記録する
		return ErrorInfo{Code: apiErr.Code, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorInfo{Code: "CANCELED", Message: err.Error()}
	default:
		return ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}

// moveTo は状態遷移を検証してから apply を適用する更新関数を返します。
func moveTo(to Status, apply func(*Record)) func(*Record) error {
	return func(r *Record) error {
		if err := transition(r.Status, to); err != nil {
			return err
		}
		r.Status = to
		if apply != nil {
			apply(r)
		}
		return nil
	}
}

// scheduleExpiry はダウンロードされなかったアーカイブを記録の有効期限で削除します。
func (m *Manager) scheduleExpiry(jobID, path string, expiresAt time.Time) {
	delay := expiresAt.Sub(m.now())
	if expiresAt.IsZero() {
		delay = m.cfg.JobTTL()
	}
	remove := func() {
		m.timersMu.Lock()
		delete(m.timers, jobID)
		m.timersMu.Unlock()
		if err := os.Remove(path); err == nil {
			m.logger.Info("expired archive removed", "job_id", jobID, "archive", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to remove expired archive", "job_id", jobID, "error", err)
		}
	}
	if delay <= 0 {
		remove()
		return
	}

	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if old, ok := m.timers[jobID]; ok {
		old.Stop()
	}
	m.timers[jobID] = m.afterFunc(delay, remove)
}

func (m *Manager) stopExpiry(jobID string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.timers[jobID]; ok {
		t.Stop()
		delete(m.timers, jobID)
	}
}

// sweepExpired は前回のプロセスが残したアーカイブと作業ディレクトリのうち、保持期間を過ぎたものを削除します。
func (m *Manager) sweepExpired() {
	root := m.runner.OutputRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		m.logger.Warn("failed to scan output directory", "dir", root, "error", err)
		return
	}
	cutoff := m.now().Add(-m.cfg.JobTTL())
	for _, entry := range entries {
		name := strings.TrimPrefix(strings.TrimSuffix(entry.Name(), ".zip"), "single-")
		if _, err := uuid.Parse(name); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove stale output", "path", path, "error", err)
			continue
		}
		m.logger.Info("stale output removed", "path", path)
	}
}

func taskID(task *asynq.Task) string {
	if rw := task.ResultWriter(); rw != nil {
		return rw.TaskID()
	}
	return ""
}
