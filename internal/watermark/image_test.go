package watermark

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/draftmark/internal/testutil"
)

func TestImageRendererPNG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "scan.png")
	out := filepath.Join(dir, "scan-DRAFT.png")
	testutil.WritePNG(t, in, 400, 300)

	reg := NewRegistry(DefaultStyle())
	format, err := reg.Render(context.Background(), in, out, "DRAFT")
	require.NoError(t, err)
	require.Equal(t, FormatImage, format)

	img, kind := decodeForTest(t, out)
	require.Equal(t, "png", kind)
	require.Equal(t, 400, img.Bounds().Dx())
	require.Equal(t, 300, img.Bounds().Dy())
	require.Positive(t, countNonWhite(img), "expected watermark pixels in output")
}

func TestImageRendererJPEGIsOpaque(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.jpg")
	out := filepath.Join(dir, "photo-DRAFT.jpg")
	testutil.WriteJPEG(t, in, 320, 240)

	reg := NewRegistry(DefaultStyle())
	_, err := reg.Render(context.Background(), in, out, "DRAFT")
	require.NoError(t, err)

	img, kind := decodeForTest(t, out)
	require.Equal(t, "jpeg", kind)
	require.Positive(t, countNonWhite(img))

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 17 {
		for x := b.Min.X; x < b.Max.X; x += 17 {
			_, _, _, a := img.At(x, y).RGBA()
			require.Equal(t, uint32(0xffff), a)
		}
	}
}

func TestImageRendererCorruptInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(in, []byte("\x89PNG\r\n\x1a\nnot really a png"), 0o640))

	reg := NewRegistry(DefaultStyle())
	_, err := reg.Render(context.Background(), in, filepath.Join(dir, "broken-DRAFT.png"), "")
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestImageRendererRejectsOversizedImage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "huge.png")
	out := filepath.Join(dir, "huge-DRAFT.png")
	testutil.WritePNG(t, in, 200, 100)

	style := DefaultStyle()
	style.Image.MaxPixels = 200*100 - 1
	reg := NewRegistry(style)
	_, err := reg.Render(context.Background(), in, out, "")
	require.ErrorIs(t, err, ErrUnreadable)
	require.ErrorContains(t, err, "pixel limit")
	require.NoFileExists(t, out)

	style.Image.MaxPixels = 200 * 100
	_, err = NewRegistry(style).Render(context.Background(), in, out, "")
	require.NoError(t, err)
}

func TestImageRendererWithoutRotation(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "flat.png")
	out := filepath.Join(dir, "flat-DRAFT.png")
	testutil.WritePNG(t, in, 300, 200)

	style := DefaultStyle()
	style.Image.Rotation = Degrees(0)
	_, err := NewRegistry(style).Render(context.Background(), in, out, "")
	require.NoError(t, err)
	require.FileExists(t, out)
}

func TestCompositeRotatedKeepsCenter(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 101, 101))
	layer := image.NewRGBA(dst.Bounds())
	for x := 45; x <= 55; x++ {
		layer.Pix[layer.PixOffset(x, 50)+3] = 0xff
	}

	compositeRotated(dst, layer, 45)

	_, _, _, a := dst.At(50, 50).RGBA()
	require.NotZero(t, a, "pixel at the rotation centre must survive")
}

func decodeForTest(t *testing.T, path string) (image.Image, string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, kind, err := image.Decode(f)
	require.NoError(t, err)
	return img, kind
}

func countNonWhite(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r < 0xf000 || g < 0xf000 || bl < 0xf000 {
				n++
			}
		}
	}
	return n
}
