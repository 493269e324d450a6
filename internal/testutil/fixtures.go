// Package testutil はテスト用の入力ファイルを生成します。
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// PageSize はPDFページの幅と高さ（pt）です。
type PageSize struct {
	Width  float64
	Height float64
}

// WritePDF は指定サイズのページを持つ最小構成のPDFを書き出します。
func WritePDF(t testing.TB, path string, pages ...PageSize) {
	t.Helper()
	if len(pages) == 0 {
		pages = []PageSize{{Width: 612, Height: 792}}
	}

	var buf bytes.Buffer
	offsets := []int{0}
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)))

	for i, p := range pages {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Contents %d 0 R /Resources << >> >>",
			p.Width, p.Height, 4+2*i))
		content := "0 0 m 100 100 l S"
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)

	writeFile(t, path, buf.Bytes())
}

// WritePNG は単色のPNG画像を書き出します。
func WritePNG(t testing.TB, path string, width, height int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(width, height)); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	writeFile(t, path, buf.Bytes())
}

// WriteJPEG は単色のJPEG画像を書き出します。
func WriteJPEG(t testing.TB, path string, width, height int) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(width, height), nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	writeFile(t, path, buf.Bytes())
}

// ZipEntry はzipに格納するファイルです。
type ZipEntry struct {
	Name string
	Body string
}

// DOCXEntries は本文 body（w:body の中身）を持つ最小構成のDOCXエントリを返します。
// extraRels は word/_rels/document.xml.rels に追加する Relationship 要素です。
func DOCXEntries(body, extraRels string, extra ...ZipEntry) []ZipEntry {
	entries := []ZipEntry{
		{
			Name: "[Content_Types].xml",
			Body: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
				`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
				`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
				`<Default Extension="xml" ContentType="application/xml"/>` +
				`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
				`</Types>`,
		},
		{
			Name: "_rels/.rels",
			Body: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
				`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
				`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
				`</Relationships>`,
		},
		{
			Name: "word/document.xml",
			Body: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
				`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
				`<w:body>` + body + `</w:body></w:document>`,
		},
		{
			Name: "word/_rels/document.xml.rels",
			Body: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
				`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
				extraRels +
				`</Relationships>`,
		},
	}
	return append(entries, extra...)
}

// WriteDOCX は最小構成のDOCXを書き出します。
func WriteDOCX(t testing.TB, path, body string) {
	t.Helper()
	WriteZip(t, path, DOCXEntries(body, ""))
}

// WriteZip はエントリ順を保ってzipを書き出します。
func WriteZip(t testing.TB, path string, entries []ZipEntry) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	writeFile(t, path, buf.Bytes())
}

// ReadZip はzip内の各エントリ名と内容を返します。
func ReadZip(t testing.TB, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open zip %s: %v", path, err)
	}
	defer zr.Close()

	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open zip entry %s: %v", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			rc.Close()
			t.Fatalf("failed to read zip entry %s: %v", f.Name, err)
		}
		rc.Close()
		out[f.Name] = buf.String()
	}
	return out
}

func solid(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
