// Package watermark は形式ごとの透かし描画を提供します。
package watermark

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Format は透かし描画の対象となるファイル形式を表します。
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatImage Format = "image"
	FormatDOCX  Format = "docx"
	FormatRTF   Format = "rtf"
)

// DefaultText は透かし文字列の既定値です。
const DefaultText = "DRAFT"

const (
	defaultPDFRotation   = 45
	defaultImageRotation = 45
	defaultDOCXRotation  = 315
)

// Style は形式ごとの透かしの見た目を保持します。
type Style struct {
	Text  string     `yaml:"text"`
	PDF   PDFStyle   `yaml:"pdf"`
	Image ImageStyle `yaml:"image"`
	DOCX  DOCXStyle  `yaml:"docx"`
}

// PDFStyle はPDFのスタンプ設定です。Scale はページサイズに対する相対倍率です。
type PDFStyle struct {
	FontName string  `yaml:"fontName"`
	FontSize int     `yaml:"fontSize"`
	Opacity  float64  `yaml:"opacity"`
	Rotation *float64 `yaml:"rotation"`
	Color    string   `yaml:"color"`
	Scale    float64  `yaml:"scale"`
}

// ImageStyle は画像の透かし設定です。FontRatio は画像の高さに対する文字サイズの比率です。
// MaxPixels はデコードを許可する画素数の上限です。
type ImageStyle struct {
	FontRatio float64  `yaml:"fontRatio"`
	Rotation  *float64 `yaml:"rotation"`
	Color     string   `yaml:"color"`
	MaxPixels int64    `yaml:"maxPixels"`
}

// DOCXStyle はWordヘッダーに埋め込むVML図形の設定です。
type DOCXStyle struct {
	FontFamily string   `yaml:"fontFamily"`
	Color      string   `yaml:"color"`
	Opacity    float64  `yaml:"opacity"`
	Rotation   *float64 `yaml:"rotation"`
}

// Degrees は回転角を指定するためのヘルパーです。nil の回転角は既定値で補われ、0 は回転なしを意味します。
func Degrees(v float64) *float64 {
	return &v
}

func angle(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// DefaultStyle は既定の透かしスタイルを返します。
func DefaultStyle() Style {
	return Style{
		Text: DefaultText,
		PDF: PDFStyle{
			FontName: "Helvetica-Bold",
			FontSize: 50,
			Opacity:  0.3,
			Rotation: Degrees(defaultPDFRotation),
			Color:    "#000000",
			Scale:    0.5,
		},
		Image: ImageStyle{
			FontRatio: 0.1,
			Rotation:  Degrees(defaultImageRotation),
			Color:     "#96969664",
			MaxPixels: 100_000_000,
		},
		DOCX: DOCXStyle{
			FontFamily: "Calibri",
			Color:      "#C0C0C0",
			Opacity:    0.5,
			Rotation:   Degrees(defaultDOCXRotation),
		},
	}
}

// WithDefaults は未設定の項目を既定値で埋めたコピーを返します。
func (s Style) WithDefaults() Style {
	def := DefaultStyle()
	if strings.TrimSpace(s.Text) == "" {
		s.Text = def.Text
	}

	if s.PDF.FontName == "" {
		s.PDF.FontName = def.PDF.FontName
	}
	if s.PDF.FontSize <= 0 {
		s.PDF.FontSize = def.PDF.FontSize
	}
	if s.PDF.Opacity <= 0 || s.PDF.Opacity > 1 {
		s.PDF.Opacity = def.PDF.Opacity
	}
	if s.PDF.Rotation == nil {
		s.PDF.Rotation = def.PDF.Rotation
	}
	if s.PDF.Color == "" {
		s.PDF.Color = def.PDF.Color
	}
	if s.PDF.Scale <= 0 || s.PDF.Scale > 1 {
		s.PDF.Scale = def.PDF.Scale
	}

	if s.Image.FontRatio <= 0 || s.Image.FontRatio > 1 {
		s.Image.FontRatio = def.Image.FontRatio
	}
	if s.Image.Rotation == nil {
		s.Image.Rotation = def.Image.Rotation
	}
	if s.Image.Color == "" {
		s.Image.Color = def.Image.Color
	}
	if s.Image.MaxPixels <= 0 {
		s.Image.MaxPixels = def.Image.MaxPixels
	}

	if s.DOCX.FontFamily == "" {
		s.DOCX.FontFamily = def.DOCX.FontFamily
	}
	if s.DOCX.Color == "" {
		s.DOCX.Color = def.DOCX.Color
	}
	if s.DOCX.Opacity <= 0 || s.DOCX.Opacity > 1 {
		s.DOCX.Opacity = def.DOCX.Opacity
	}
	if s.DOCX.Rotation == nil {
		s.DOCX.Rotation = def.DOCX.Rotation
	}
	return s
}

// Validate は色指定やフォント名など、描画前に検出できる設定ミスを返します。
// PDF のスタンプはここで一度組み立て、pdfcpu が受け付けない設定を起動時に検出します。
func (s Style) Validate() error {
	if _, err := parseHexColor(s.PDF.Color); err != nil {
		return fmt.Errorf("pdf.color: %w", err)
	}
	// pdfcpu の fillcolor はアルファを受け付けない。透過は opacity で指定する
	if len(strings.TrimPrefix(strings.TrimSpace(s.PDF.Color), "#")) != 6 {
		return fmt.Errorf("pdf.color: invalid color %q: use #RRGGBB and set pdf.opacity for transparency", s.PDF.Color)
	}
	if _, err := pdfStamp(s.PDF, DefaultText); err != nil {
		return fmt.Errorf("pdf: %w", err)
	}
	if _, err := parseHexColor(s.Image.Color); err != nil {
		return fmt.Errorf("image.color: %w", err)
	}
	if _, err := parseHexColor(s.DOCX.Color); err != nil {
		return fmt.Errorf("docx.color: %w", err)
	}
	return nil
}

// parseHexColor は #RRGGBB または #RRGGBBAA 形式の色を解釈します。
func parseHexColor(raw string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: use #RRGGBB or #RRGGBBAA", raw)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", raw, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
