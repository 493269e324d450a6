package watermark

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"
)

var loadBoldFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gobold.TTF)
})

type imageRenderer struct {
	style ImageStyle
}

func newImageRenderer(style ImageStyle) *imageRenderer {
	return &imageRenderer{style: style}
}

func (r *imageRenderer) Format() Format { return FormatImage }

// Render は透明レイヤーに文字を描き、画像中心で回転させて元画像に合成します。
func (r *imageRenderer) Render(ctx context.Context, inputPath, outputPath, text string) error {
	src, err := decodeImage(inputPath, r.style.MaxPixels)
	if err != nil {
		return unreadable(inputPath, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	layer, err := r.textLayer(text, canvas.Bounds().Size())
	if err != nil {
		return err
	}
	compositeRotated(canvas, layer, angle(r.style.Rotation, defaultImageRotation))

	return encodeImage(outputPath, canvas)
}

func (r *imageRenderer) textLayer(text string, size image.Point) (*image.RGBA, error) {
	fill, err := parseHexColor(r.style.Color)
	if err != nil {
		return nil, err
	}
	fnt, err := loadBoldFont()
	if err != nil {
		return nil, fmt.Errorf("フォントの読み込みに失敗しました: %w", err)
	}

	points := math.Max(1, math.Floor(float64(size.Y)*r.style.FontRatio))
	face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    points,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("フォントフェイスの生成に失敗しました: %w", err)
	}
	defer face.Close()

	layer := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	textBounds, _ := font.BoundString(face, text)
	textWidth := textBounds.Max.X - textBounds.Min.X
	textHeight := textBounds.Max.Y - textBounds.Min.Y

	drawer := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(fill),
		Face: face,
		Dot: fixed.Point26_6{
			X: (fixed.I(size.X)-textWidth)/2 - textBounds.Min.X,
			Y: (fixed.I(size.Y)-textHeight)/2 - textBounds.Min.Y,
		},
	}
	drawer.DrawString(text)
	return layer, nil
}

// compositeRotated は layer を中心まわりに反時計回りに degrees 度回転させ、dst に重ねます。
func compositeRotated(dst *image.RGBA, layer *image.RGBA, degrees float64) {
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	cx := float64(dst.Bounds().Dx()) / 2
	cy := float64(dst.Bounds().Dy()) / 2
	m := f64.Aff3{
		cos, sin, cx - cx*cos - cy*sin,
		-sin, cos, cy + cx*sin - cy*cos,
	}
	xdraw.BiLinear.Transform(dst, m, layer, layer.Bounds(), xdraw.Over, nil)
}

// decodeImage はヘッダーの寸法を確認してから全体をデコードします。maxPixels が 0 以下なら制限しません。
func decodeImage(path string, maxPixels int64) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, fmt.Errorf("image is %dx%d, exceeds the %d pixel limit", cfg.Width, cfg.Height, maxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func encodeImage(path string, img *image.RGBA) (err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("出力画像の作成に失敗しました: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		err = png.Encode(out, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(out, flatten(img), &jpeg.Options{Quality: 95})
	case ".gif":
		err = gif.Encode(out, img, nil)
	case ".bmp":
		err = bmp.Encode(out, flatten(img))
	case ".tif", ".tiff":
		err = tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return unsupported(path, fmt.Errorf("no image encoder for %q", ext))
	}
	if err != nil {
		return fmt.Errorf("画像のエンコードに失敗しました: %w", err)
	}
	return nil
}

// flatten はアルファを持たない形式向けに白背景へ合成します。
func flatten(img *image.RGBA) *image.RGBA {
	opaque := image.NewRGBA(img.Bounds())
	draw.Draw(opaque, opaque.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(opaque, opaque.Bounds(), img, img.Bounds().Min, draw.Over)
	return opaque
}
