package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/draftmark/internal/watermark"
)

// LoadStyle は透かしスタイルを組み立てます。
// WATERMARK_STYLE_FILE が指定されていればYAMLを読み込み、未指定の項目は既定値で補います。
// WATERMARK_TEXT はYAMLに text が無い場合にのみ使われます。
func (c *Config) LoadStyle() (watermark.Style, error) {
	var style watermark.Style
	if c.WatermarkStyleFile != "" {
		data, err := os.ReadFile(c.WatermarkStyleFile)
		if err != nil {
			return watermark.Style{}, fmt.Errorf("透かしスタイルファイルの読み込みに失敗しました: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&style); err != nil && !errors.Is(err, io.EOF) {
			return watermark.Style{}, fmt.Errorf("透かしスタイルファイルの解析に失敗しました (%s): %w", c.WatermarkStyleFile, err)
		}
	}
	if style.Text == "" {
		style.Text = c.WatermarkText
	}

	style = style.WithDefaults()
	if err := style.Validate(); err != nil {
		return watermark.Style{}, err
	}
	return style, nil
}
