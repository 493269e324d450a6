package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Renderer は1形式分の透かし描画を行います。
type Renderer interface {
	Format() Format
	Render(ctx context.Context, inputPath, outputPath, text string) error
}

type registration struct {
	renderer Renderer
	mimes    []string
}

// Registry は拡張子から Renderer を選択します。
type Registry struct {
	style Style
	byExt map[string]registration
}

// NewRegistry は PDF / 画像 / DOCX / RTF の Renderer を登録済みの Registry を返します。
func NewRegistry(style Style) *Registry {
	style = style.WithDefaults()
	r := &Registry{
		style: style,
		byExt: make(map[string]registration),
	}

	r.Register(".pdf", newPDFRenderer(style.PDF), "application/pdf")

	img := newImageRenderer(style.Image)
	r.Register(".png", img, "image/png")
	r.Register(".jpg", img, "image/jpeg")
	r.Register(".jpeg", img, "image/jpeg")
	r.Register(".gif", img, "image/gif")
	r.Register(".bmp", img, "image/bmp")
	r.Register(".tif", img, "image/tiff")
	r.Register(".tiff", img, "image/tiff")

	// docx は zip コンテナなので zip 系列であれば受け付ける
	r.Register(".docx", newDOCXRenderer(style.DOCX), "application/zip")

	r.Register(".rtf", rtfRenderer{})
	return r
}

// Register は拡張子に Renderer を割り当てます。mimes を指定した場合は描画前に内容のシグネチャを照合します。
func (r *Registry) Register(ext string, renderer Renderer, mimes ...string) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.byExt[ext] = registration{renderer: renderer, mimes: mimes}
}

// Extensions は登録済みの拡張子を昇順で返します。
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Text は既定の透かし文字列を返します。
func (r *Registry) Text() string {
	return r.style.Text
}

// Lookup はパスの拡張子に対応する Renderer を返します。
func (r *Registry) Lookup(path string) (Renderer, error) {
	reg, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, unsupported(path, fmt.Errorf("extension %q is not registered", filepath.Ext(path)))
	}
	return reg.renderer, nil
}

// Render は inputPath を拡張子で振り分けて outputPath に透かし入りファイルを書き出します。
// text が空の場合はスタイルの既定文字列を使います。失敗時は途中まで書かれた出力を削除します。
func (r *Registry) Render(ctx context.Context, inputPath, outputPath, text string) (Format, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	reg, ok := r.byExt[strings.ToLower(filepath.Ext(inputPath))]
	if !ok {
		return "", unsupported(inputPath, fmt.Errorf("extension %q is not registered", filepath.Ext(inputPath)))
	}
	format := reg.renderer.Format()

	if format != FormatRTF {
		if err := checkContent(inputPath, reg.mimes); err != nil {
			return format, err
		}
	}

	if strings.TrimSpace(text) == "" {
		text = r.style.Text
	}
	if err := reg.renderer.Render(ctx, inputPath, outputPath, text); err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("%w (failed to remove partial output: %v)", err, rmErr)
		}
		return format, err
	}
	return format, nil
}

func checkContent(path string, mimes []string) error {
	info, err := os.Stat(path)
	if err != nil {
		return unreadable(path, err)
	}
	if info.IsDir() {
		return unreadable(path, errors.New("path is a directory"))
	}
	if len(mimes) == 0 {
		return nil
	}
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return unreadable(path, err)
	}
	if !mimeMatches(detected, mimes) {
		return unreadable(path, fmt.Errorf("content looks like %s", detected.String()))
	}
	return nil
}

func mimeMatches(m *mimetype.MIME, allowed []string) bool {
	for cur := m; cur != nil; cur = cur.Parent() {
		for _, a := range allowed {
			if cur.Is(a) {
				return true
			}
		}
	}
	return false
}

type rtfRenderer struct{}

func (rtfRenderer) Format() Format { return FormatRTF }

// Render は常に ErrUnsupportedFormat を返します。
func (rtfRenderer) Render(_ context.Context, inputPath, _, _ string) error {
	return unsupported(inputPath, errors.New("RTF watermarking is not implemented"))
}
