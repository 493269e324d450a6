// Package jobs は非同期ジョブ管理機能を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/draftmark/internal/batch"
	"github.com/yourusername/draftmark/internal/config"
)

const (
	// TaskTypeBatch はバッチ透かし処理のタスク種別です。
	TaskTypeBatch = "watermark:batch"

	queueName = "watermark"
)

// Runner はバッチを実行します。batch.Orchestrator が実装します。
type Runner interface {
	Run(ctx context.Context, req batch.Request, progress batch.ProgressReporter) (*batch.Archive, error)
	OutputRoot() string
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg      *config.Config
	redisOpt asynq.RedisConnOpt
	client   enqueuer
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    RecordStore
	runner   Runner
	logger   *slog.Logger

	newID     func() string
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// Handle は投入済みジョブへの参照です。
type Handle struct {
	JobID   string
	manager *Manager
}

// Status はジョブの現在状態を返します。
func (h *Handle) Status(ctx context.Context) (*Record, error) {
	return h.manager.Poll(ctx, h.JobID)
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store RecordStore, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	m, err := newManager(cfg, runner, store, asynq.NewClient(opt), logger)
	if err != nil {
		return nil, err
	}
	m.redisOpt = opt
	return m, nil
}

func newManager(cfg *config.Config, runner Runner, store RecordStore, client enqueuer, logger *slog.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:       cfg,
		client:    client,
		mux:       asynq.NewServeMux(),
		store:     store,
		runner:    runner,
		logger:    logger,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		afterFunc: time.AfterFunc,
		timers:    make(map[string]*time.Timer),
	}
	m.mux.HandleFunc(TaskTypeBatch, m.handleBatchTask)
	return m, nil
}

// Submit はバッチを検証し、PENDING の記録を作成してキューに投入します。処理の完了は待ちません。
func (m *Manager) Submit(ctx context.Context, req batch.Request) (*Handle, error) {
	if err := req.Validate(m.cfg.MaxBatchFiles); err != nil {
		return nil, err
	}
	req.JobID = m.newID()

	now := m.now()
	record := &Record{
		JobID:     req.JobID,
		Status:    StatusPending,
		Progress:  ProgressInfo{Percent: 0, Stage: "queued"},
		FileCount: len(req.FilePaths),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.cfg.JobTTL()),
	}
	if err := m.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("ジョブ記録の作成に失敗しました: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		_ = m.store.Delete(ctx, req.JobID)
		return nil, err
	}
	task := asynq.NewTask(TaskTypeBatch, body)
	if _, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(req.JobID),
		asynq.MaxRetry(0),
	); err != nil {
		if delErr := m.store.Delete(ctx, req.JobID); delErr != nil {
			m.logger.Warn("failed to delete orphaned job record", "job_id", req.JobID, "error", delErr)
		}
		return nil, fmt.Errorf("ジョブの投入に失敗しました: %w", err)
	}

	m.logger.Info("job submitted", "job_id", req.JobID, "files", len(req.FilePaths))
	return &Handle{JobID: req.JobID, manager: m}, nil
}

// Poll はジョブ情報を取得します。状態は変更しません。
func (m *Manager) Poll(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// FetchArtifact は SUCCESS で終了したジョブのアーカイブを返します。
func (m *Manager) FetchArtifact(ctx context.Context, jobID string) (*Artifact, error) {
	record, err := m.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch record.Status {
	case StatusSuccess:
	case StatusFailure:
		info := ErrorInfo{Code: "INTERNAL_ERROR", Message: "job failed"}
		if record.Error != nil {
			info = *record.Error
		}
		return nil, &FailedError{JobID: jobID, Info: info}
	default:
		return nil, ErrNotReady
	}

	stat, err := os.Stat(record.Result)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrArtifactMissing
		}
		return nil, fmt.Errorf("アーカイブの確認に失敗しました: %w", err)
	}
	return &Artifact{JobID: jobID, Path: record.Result, Size: stat.Size()}, nil
}

// DiscardArtifact はダウンロード済みのアーカイブを削除します。既に無い場合は何もしません。
func (m *Manager) DiscardArtifact(artifact *Artifact) error {
	if artifact == nil {
		return nil
	}
	m.stopExpiry(artifact.JobID)
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (m *Manager) buildDownloadURL(jobID string) string {
	path := "/download/?task_id=" + url.QueryEscape(jobID)
	base := strings.TrimRight(m.cfg.JobResultBaseURL, "/")
	return base + path
}
