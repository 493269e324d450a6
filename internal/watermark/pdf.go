package watermark

import (
	"context"
	"fmt"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disablePDFConfigDir sync.Once

type pdfRenderer struct {
	style PDFStyle
}

func newPDFRenderer(style PDFStyle) *pdfRenderer {
	// pdfcpu がユーザー設定ディレクトリを作らないようにする
	disablePDFConfigDir.Do(pdfapi.DisableConfigDir)
	return &pdfRenderer{style: style}
}

// pdfStamp は style から pdfcpu の文字スタンプを組み立てます。
func pdfStamp(style PDFStyle, text string) (*model.Watermark, error) {
	return newPDFRenderer(style).stamp(text)
}

func (r *pdfRenderer) stamp(text string) (*model.Watermark, error) {
	return pdfapi.TextWatermark(text, r.description(), true, false, types.POINTS)
}

func (r *pdfRenderer) Format() Format { return FormatPDF }

// description は pdfcpu のスタンプ記述子を組み立てます。scalefactor を rel にすることで
// ページごとのサイズに合わせて透かしが拡縮されます。
func (r *pdfRenderer) description() string {
	return fmt.Sprintf(
		"fontname:%s, points:%d, rotation:%g, opacity:%.2f, fillcolor:%s, scalefactor:%g rel",
		r.style.FontName,
		r.style.FontSize,
		angle(r.style.Rotation, defaultPDFRotation),
		r.style.Opacity,
		r.style.Color,
		r.style.Scale,
	)
}

// Render は全ページの前面に中央揃え・回転・半透明の文字スタンプを重ねます。
func (r *pdfRenderer) Render(ctx context.Context, inputPath, outputPath, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conf := model.NewDefaultConfiguration()
	if err := pdfapi.ValidateFile(inputPath, conf); err != nil {
		return unreadable(inputPath, err)
	}

	wm, err := r.stamp(text)
	if err != nil {
		return fmt.Errorf("透かし定義の生成に失敗しました: %w", err)
	}

	if err := pdfapi.AddWatermarksFile(inputPath, outputPath, nil, wm, conf); err != nil {
		return unreadable(inputPath, err)
	}
	return nil
}

// PageCount はPDFのページ数を返します。
func PageCount(path string) (int, error) {
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, unreadable(path, err)
	}
	return n, nil
}
