package watermark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/draftmark/internal/testutil"
)

func TestRegistryRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(in, []byte("hello"), 0o640))

	reg := NewRegistry(DefaultStyle())
	_, err := reg.Render(context.Background(), in, filepath.Join(dir, "notes-DRAFT.txt"), "")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	var renderErr *RenderError
	require.True(t, errors.As(err, &renderErr))
	require.Equal(t, in, renderErr.Path)
}

func TestRegistryRTFIsUnsupported(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad.rtf")
	out := filepath.Join(dir, "bad-DRAFT.rtf")
	require.NoError(t, os.WriteFile(in, []byte(`{\rtf1\ansi hello}`), 0o640))

	reg := NewRegistry(DefaultStyle())
	format, err := reg.Render(context.Background(), in, out, "")
	require.Equal(t, FormatRTF, format)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.NoFileExists(t, out)
}

func TestRegistryMissingFileIsUnreadable(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(DefaultStyle())

	_, err := reg.Render(context.Background(), filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "out.pdf"), "")
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestRegistryContentMismatchIsUnreadable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "fake.pdf")
	testutil.WritePNG(t, in, 10, 10)

	reg := NewRegistry(DefaultStyle())
	_, err := reg.Render(context.Background(), in, filepath.Join(dir, "fake-DRAFT.pdf"), "")
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry(DefaultStyle())

	r, err := reg.Lookup("/tmp/SCAN.JPEG")
	require.NoError(t, err)
	require.Equal(t, FormatImage, r.Format())

	r, err = reg.Lookup("report.Docx")
	require.NoError(t, err)
	require.Equal(t, FormatDOCX, r.Format())

	_, err = reg.Lookup("legacy.doc")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegistryUsesDefaultText(t *testing.T) {
	reg := NewRegistry(Style{Text: "CONFIDENTIAL"})
	require.Equal(t, "CONFIDENTIAL", reg.Text())
	require.Contains(t, reg.Extensions(), ".pdf")
	require.Contains(t, reg.Extensions(), ".rtf")
}

func TestRegistryHonoursCanceledContext(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	testutil.WritePNG(t, in, 10, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := NewRegistry(DefaultStyle())
	_, err := reg.Render(ctx, in, filepath.Join(dir, "a-DRAFT.png"), "")
	require.ErrorIs(t, err, context.Canceled)
}
