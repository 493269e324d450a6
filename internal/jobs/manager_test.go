package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/draftmark/internal/batch"
	"github.com/yourusername/draftmark/internal/config"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Create(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.JobID]; ok {
		return fmt.Errorf("job already exists: %s", record.JobID)
	}
	s.records[record.JobID] = *record
	return nil
}

func (s *memStore) Get(_ context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &record, nil
}

func (s *memStore) Update(_ context.Context, jobID string, mutate func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := mutate(&record); err != nil {
		return nil, err
	}
	s.records[jobID] = record
	return &record, nil
}

func (s *memStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (e *fakeEnqueuer) Close() error { return nil }

type fakeRunner struct {
	root  string
	err   error
	calls int
}

func (r *fakeRunner) OutputRoot() string { return r.root }

func (r *fakeRunner) Run(_ context.Context, req batch.Request, progress batch.ProgressReporter) (*batch.Archive, error) {
	r.calls++
	progress("render", 50)
	if r.err != nil {
		return nil, r.err
	}
	path := filepath.Join(r.root, req.JobID+".zip")
	if err := os.WriteFile(path, []byte("PK"), 0o640); err != nil {
		return nil, err
	}
	return &batch.Archive{JobID: req.JobID, Path: path, Size: 2}, nil
}

type testHarness struct {
	manager *Manager
	store   *memStore
	queue   *fakeEnqueuer
	runner  *fakeRunner
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := &config.Config{JobExpireMinutes: 10, MaxBatchFiles: 3, WorkerConcurrency: 1}
	h := &testHarness{
		store:  newMemStore(),
		queue:  &fakeEnqueuer{},
		runner: &fakeRunner{root: t.TempDir()},
	}
	m, err := newManager(cfg, h.runner, h.store, h.queue, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ids := 0
	m.newID = func() string {
		ids++
		return fmt.Sprintf("job-%d", ids)
	}
	h.manager = m
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return h
}

func (h *testHarness) runQueued(t *testing.T) {
	t.Helper()
	for _, task := range h.queue.tasks {
		require.NoError(t, h.manager.handleBatchTask(context.Background(), task))
	}
	h.queue.tasks = nil
}

func preprod(paths ...string) batch.Request {
	return batch.Request{FilePaths: paths, Environment: batch.EnvPreprod}
}

func TestSubmitCreatesPendingRecordAndEnqueues(t *testing.T) {
	h := newHarness(t)

	handle, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf", "/in/b.png"))
	require.NoError(t, err)
	require.Equal(t, "job-1", handle.JobID)

	record, err := handle.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
	require.Equal(t, 2, record.FileCount)
	require.Equal(t, record.CreatedAt.Add(10*time.Minute), record.ExpiresAt)

	require.Len(t, h.queue.tasks, 1)
	require.Equal(t, TaskTypeBatch, h.queue.tasks[0].Type())
	var payload batch.Request
	require.NoError(t, json.Unmarshal(h.queue.tasks[0].Payload(), &payload))
	require.Equal(t, "job-1", payload.JobID)
	require.Equal(t, []string{"/in/a.pdf", "/in/b.png"}, payload.FilePaths)
	require.Zero(t, h.runner.calls)
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Submit(context.Background(), batch.Request{FilePaths: []string{"/in/a.pdf"}, Environment: batch.EnvProd})
	require.True(t, batch.IsValidation(err))

	_, err = h.manager.Submit(context.Background(), preprod())
	require.True(t, batch.IsValidation(err))

	_, err = h.manager.Submit(context.Background(), preprod("a", "b", "c", "d"))
	require.True(t, batch.IsValidation(err))

	require.Empty(t, h.queue.tasks)
	require.Empty(t, h.store.records)
}

func TestSubmitRemovesRecordWhenEnqueueFails(t *testing.T) {
	h := newHarness(t)
	h.queue.err = errors.New("redis unavailable")

	_, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.Error(t, err)
	require.Empty(t, h.store.records)
}

func TestWorkerMarksSuccess(t *testing.T) {
	h := newHarness(t)
	h.manager.cfg.JobResultBaseURL = "https://draft.example.com/"

	handle, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.NoError(t, err)
	h.runQueued(t)

	record, err := h.manager.Poll(context.Background(), handle.JobID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, record.Status)
	require.Equal(t, 100, record.Progress.Percent)
	require.Equal(t, filepath.Join(h.runner.root, "job-1.zip"), record.Result)
	require.Equal(t, "https://draft.example.com/download/?task_id=job-1", record.DownloadURL)
	require.Nil(t, record.Error)
}

func TestWorkerMarksFailureWithCode(t *testing.T) {
	h := newHarness(t)
	h.runner.err = &batch.Error{Code: batch.CodeUnsupportedFormat, Message: "bad.rtf is not a supported format"}

	handle, err := h.manager.Submit(context.Background(), preprod("/in/bad.rtf"))
	require.NoError(t, err)
	h.runQueued(t)

	record, err := handle.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusFailure, record.Status)
	require.Equal(t, &ErrorInfo{Code: batch.CodeUnsupportedFormat, Message: "bad.rtf is not a supported format"}, record.Error)

	_, err = h.manager.FetchArtifact(context.Background(), handle.JobID)
	var failed *FailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, batch.CodeUnsupportedFormat, failed.Info.Code)
}

func TestWorkerRecordsErrorCause(t *testing.T) {
	h := newHarness(t)
	h.runner.err = &batch.Error{
		Code:    batch.CodeUnreadable,
		Message: "a.pdf could not be read",
		Err:     errors.New("pdfcpu: xref table corrupt at offset 1234"),
	}

	handle, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.NoError(t, err)
	h.runQueued(t)

	record, err := handle.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusFailure, record.Status)
	require.Equal(t, batch.CodeUnreadable, record.Error.Code)
	require.Equal(t, "a.pdf could not be read: pdfcpu: xref table corrupt at offset 1234", record.Error.Message)
}

func TestWorkerSkipsTerminalJob(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.NoError(t, err)
	task := h.queue.tasks[0]
	h.runQueued(t)
	require.Equal(t, 1, h.runner.calls)

	require.NoError(t, h.manager.handleBatchTask(context.Background(), task))
	require.Equal(t, 1, h.runner.calls)
}

func TestWorkerRejectsMalformedPayload(t *testing.T) {
	h := newHarness(t)
	err := h.manager.handleBatchTask(context.Background(), asynq.NewTask(TaskTypeBatch, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, h.runner.calls)
}

func TestPollIsIdempotent(t *testing.T) {
	h := newHarness(t)
	handle, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.NoError(t, err)

	first, err := h.manager.Poll(context.Background(), handle.JobID)
	require.NoError(t, err)
	second, err := h.manager.Poll(context.Background(), handle.JobID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPollUnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Poll(context.Background(), "nope")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = h.manager.FetchArtifact(context.Background(), "nope")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestFetchArtifactLifecycle(t *testing.T) {
	h := newHarness(t)
	handle, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.NoError(t, err)

	_, err = h.manager.FetchArtifact(context.Background(), handle.JobID)
	require.ErrorIs(t, err, ErrNotReady)

	h.runQueued(t)
	artifact, err := h.manager.FetchArtifact(context.Background(), handle.JobID)
	require.NoError(t, err)
	require.Equal(t, int64(2), artifact.Size)

	require.NoError(t, h.manager.DiscardArtifact(artifact))
	require.NoFileExists(t, artifact.Path)

	_, err = h.manager.FetchArtifact(context.Background(), handle.JobID)
	require.ErrorIs(t, err, ErrArtifactMissing)
}

func TestExpiredArchiveIsRemoved(t *testing.T) {
	h := newHarness(t)
	var scheduled func()
	var delay time.Duration
	h.manager.afterFunc = func(d time.Duration, f func()) *time.Timer {
		delay, scheduled = d, f
		return time.NewTimer(time.Hour)
	}

	handle, err := h.manager.Submit(context.Background(), preprod("/in/a.pdf"))
	require.NoError(t, err)
	h.runQueued(t)
	require.NotNil(t, scheduled)
	require.Greater(t, delay, time.Duration(0))
	require.LessOrEqual(t, delay, 10*time.Minute)

	scheduled()
	_, err = h.manager.FetchArtifact(context.Background(), handle.JobID)
	require.ErrorIs(t, err, ErrArtifactMissing)
}

func TestSweepExpiredRemovesOnlyStaleJobOutput(t *testing.T) {
	h := newHarness(t)
	root := h.runner.root
	stale := filepath.Join(root, "3f1c1a52-8f8e-4c59-9a43-2a6fbb2c6f10.zip")
	fresh := filepath.Join(root, "0b6f3f9e-4f5a-4d52-8c2e-7f0a2e2f5d11.zip")
	staleDir := filepath.Join(root, "single-6d2c7a80-1b7e-4a0f-9c5d-5e3f7a9b1c22")
	unrelated := filepath.Join(root, "keep.zip")
	for _, p := range []string{stale, fresh, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("PK"), 0o640))
	}
	require.NoError(t, os.Mkdir(staleDir, 0o750))
	old := time.Now().Add(-time.Hour)
	for _, p := range []string{stale, staleDir, unrelated} {
		require.NoError(t, os.Chtimes(p, old, old))
	}

	h.manager.sweepExpired()

	require.NoFileExists(t, stale)
	require.NoDirExists(t, staleDir)
	require.FileExists(t, fresh)
	require.FileExists(t, unrelated)
}

func TestTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusRunning},
		{StatusPending, StatusFailure},
		{StatusRunning, StatusSuccess},
		{StatusRunning, StatusFailure},
		{StatusRunning, StatusRunning},
	}
	for _, tr := range allowed {
		require.NoError(t, transition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]Status{
		{StatusPending, StatusSuccess},
		{StatusSuccess, StatusRunning},
		{StatusSuccess, StatusFailure},
		{StatusFailure, StatusSuccess},
		{StatusFailure, StatusFailure},
		{StatusRunning, StatusPending},
	}
	for _, tr := range denied {
		require.ErrorIs(t, transition(tr[0], tr[1]), ErrInvalidTransition, "%s -> %s", tr[0], tr[1])
	}
}
