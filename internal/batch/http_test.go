package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type stubScheduler struct {
	jobID string
	err   error
	got   *Request
}

func (s *stubScheduler) Schedule(ctx context.Context, req Request) (string, error) {
	s.got = &req
	return s.jobID, s.err
}

type stubFileRenderer struct {
	file    *RenderedFile
	err     error
	cleaned bool
}

func (s *stubFileRenderer) RenderFile(ctx context.Context, path string) (*RenderedFile, func() error, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.file, func() error {
		s.cleaned = true
		return nil
	}, nil
}

func performJSON(t *testing.T, handler gin.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/", handler)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestBatchHandlerAccepted(t *testing.T) {
	scheduler := &stubScheduler{jobID: "job-123"}
	rec := performJSON(t, BatchHandler(scheduler, HandlerOptions{}), `{"file_paths":["/in/a.pdf","/in/b.png"],"env":"PREPROD"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] != "Batch watermarking and zipping initiated." {
		t.Fatalf("unexpected message: %q", body["message"])
	}
	if body["task_id"] != "job-123" {
		t.Fatalf("unexpected task_id: %q", body["task_id"])
	}
	if scheduler.got == nil || len(scheduler.got.FilePaths) != 2 || scheduler.got.Environment != EnvPreprod {
		t.Fatalf("unexpected scheduled request: %#v", scheduler.got)
	}
}

func TestBatchHandlerEmptyFileList(t *testing.T) {
	scheduler := &stubScheduler{jobID: "unused"}
	rec := performJSON(t, BatchHandler(scheduler, HandlerOptions{}), `{"file_paths":[],"env":"PREPROD"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if detail := decodeBody(t, rec)["detail"]; detail != "No file paths provided." {
		t.Fatalf("unexpected detail: %q", detail)
	}
	if scheduler.got != nil {
		t.Fatal("scheduler must not be called")
	}
}

func TestBatchHandlerRejectsProd(t *testing.T) {
	scheduler := &stubScheduler{jobID: "unused"}
	rec := performJSON(t, BatchHandler(scheduler, HandlerOptions{}), `{"file_paths":["/in/a.pdf"],"env":"PROD"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeBody(t, rec)["code"]; code != CodeEnvironmentNotAllowed {
		t.Fatalf("unexpected code: %q", code)
	}
	if scheduler.got != nil {
		t.Fatal("scheduler must not be called")
	}
}

func TestBatchHandlerRejectsUnknownEnv(t *testing.T) {
	rec := performJSON(t, BatchHandler(&stubScheduler{}, HandlerOptions{}), `{"file_paths":["/in/a.pdf"],"env":"DEV"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestBatchHandlerTooManyFiles(t *testing.T) {
	rec := performJSON(t, BatchHandler(&stubScheduler{}, HandlerOptions{MaxBatchFiles: 1}), `{"file_paths":["/a.pdf","/b.pdf"],"env":"PREPROD"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != CodeLimitExceeded || body["detail"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBatchHandlerMalformedJSON(t *testing.T) {
	rec := performJSON(t, BatchHandler(&stubScheduler{}, HandlerOptions{}), `{"file_paths":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestBatchHandlerSchedulerFailure(t *testing.T) {
	scheduler := &stubScheduler{err: errors.New("redis down")}
	rec := performJSON(t, BatchHandler(scheduler, HandlerOptions{}), `{"file_paths":["/in/a.pdf"],"env":"PREPROD"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "redis") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestSingleFileHandlerStreamsResult(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "photo-DRAFT.png")
	content := []byte("\x89PNG\r\n\x1a\nrest")
	if err := os.WriteFile(out, content, 0o640); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}
	svc := &stubFileRenderer{file: &RenderedFile{Source: "/in/photo.png", Output: out, Name: "photo-DRAFT.png"}}

	rec := performJSON(t, SingleFileHandler(svc), `{"file_path":"/in/photo.png"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="photo-DRAFT.png"`) {
		t.Fatalf("unexpected content disposition: %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatal("response body does not match rendered file")
	}
	if !svc.cleaned {
		t.Fatal("cleanup was not called")
	}
}

func TestSingleFileHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "unsupported", err: newError(CodeUnsupportedFormat, "x.rtf is not a supported format", nil), status: http.StatusBadRequest},
		{name: "unreadable", err: newError(CodeUnreadable, "x.pdf could not be read", nil), status: http.StatusBadRequest},
		{name: "too large", err: newError(CodeLimitExceeded, "too large", nil), status: http.StatusBadRequest},
		{name: "internal", err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := performJSON(t, SingleFileHandler(&stubFileRenderer{err: tt.err}), `{"file_path":"/in/x"}`)
			if rec.Code != tt.status {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestSingleFileHandlerMissingPath(t *testing.T) {
	rec := performJSON(t, SingleFileHandler(&stubFileRenderer{}), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
