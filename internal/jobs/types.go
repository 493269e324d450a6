package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Terminal は SUCCESS / FAILURE のどちらかであれば true を返します。
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

var (
	// ErrJobNotFound は指定IDのジョブが存在しない（または期限切れ）ことを表します。
	ErrJobNotFound = errors.New("job not found")
	// ErrNotReady はジョブがまだ終了していないことを表します。
	ErrNotReady = errors.New("job is not finished yet")
	// ErrArtifactMissing は成果物のzipが既に存在しないことを表します。
	ErrArtifactMissing = errors.New("archive no longer exists")
	// ErrInvalidTransition は終了済みジョブの状態を書き換えようとしたことを表します。
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID       string       `json:"jobId"`
	Status      Status       `json:"status"`
	Progress    ProgressInfo `json:"progress"`
	FileCount   int          `json:"fileCount"`
	Result      string       `json:"result,omitempty"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// FailedError は FAILURE で終了したジョブの成果物を要求したときのエラーです。
type FailedError struct {
	JobID string
	Info  ErrorInfo
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s: %s", e.JobID, e.Info.Code, e.Info.Message)
}

// Artifact はダウンロード可能な成果物です。
type Artifact struct {
	JobID string
	Path  string
	Size  int64
}

// transition は from から to への遷移が許されるかを検証します。
// PENDING → RUNNING → SUCCESS|FAILURE と PENDING → FAILURE のみを許可し、同じ状態への更新は進捗更新として扱います。
func transition(from, to Status) error {
	if from == to && !from.Terminal() {
		return nil
	}
	switch {
	case from == StatusPending && (to == StatusRunning || to == StatusFailure):
		return nil
	case from == StatusRunning && to.Terminal():
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
