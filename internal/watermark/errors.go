package watermark

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadable は入力ファイルが存在しない、または壊れていることを表します。
	ErrUnreadable = errors.New("unreadable input")
	// ErrUnsupportedFormat は拡張子に対応する描画処理が無いことを表します。
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// RenderError は1ファイル分の描画失敗を表します。Kind は ErrUnreadable か ErrUnsupportedFormat です。
type RenderError struct {
	Path string
	Kind error
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Kind)
}

func (e *RenderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unreadable(path string, err error) error {
	return &RenderError{Path: path, Kind: ErrUnreadable, Err: err}
}

func unsupported(path string, err error) error {
	return &RenderError{Path: path, Kind: ErrUnsupportedFormat, Err: err}
}
