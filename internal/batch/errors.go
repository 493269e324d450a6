package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yourusername/draftmark/internal/watermark"
)

const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeEnvironmentNotAllowed = "ENVIRONMENT_NOT_ALLOWED"
	CodeUnsupportedFormat     = "UNSUPPORTED_FORMAT"
	CodeUnreadable            = "UNREADABLE_FILE"
	CodeLimitExceeded         = "LIMIT_EXCEEDED"
	CodeNoFilesProcessed      = "NO_FILES_PROCESSED"
)

// Error は利用者に返すエラーコードとメッセージを持つエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsValidation は投入時点で弾くべき入力エラーかどうかを返します。
func IsValidation(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case CodeInvalidInput, CodeEnvironmentNotAllowed, CodeLimitExceeded:
		return true
	}
	return false
}

// classifyRenderError は描画エラーをエラーコード付きの Error に変換します。
func classifyRenderError(path string, err error) error {
	name := filepath.Base(path)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, watermark.ErrUnsupportedFormat):
		return newError(CodeUnsupportedFormat, fmt.Sprintf("%s is not a supported format", name), err)
	case errors.Is(err, watermark.ErrUnreadable):
		return newError(CodeUnreadable, fmt.Sprintf("%s could not be read", name), err)
	default:
		return fmt.Errorf("%s の透かし処理に失敗しました: %w", name, err)
	}
}
