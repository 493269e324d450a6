package watermark

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
)

const (
	docxDocumentPart     = "word/document.xml"
	docxDocumentRelsPart = "word/_rels/document.xml.rels"
	docxContentTypesPart = "[Content_Types].xml"

	relTypeHeader     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/header"
	contentTypeHeader = "application/vnd.openxmlformats-officedocument.wordprocessingml.header+xml"

	nsW   = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsR   = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsV   = "urn:schemas-microsoft-com:vml"
	nsO   = "urn:schemas-microsoft-com:office:office"
	nsW10 = "urn:schemas-microsoft-com:office:word"

	emptyRelationships = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`
)

var (
	sectPrPattern     = regexp.MustCompile(`(?s)<w:sectPr\b[^>]*?/>|<w:sectPr\b[^>]*>.*?</w:sectPr>`)
	headerRefPattern  = regexp.MustCompile(`<w:headerReference\b[^>]*>`)
	relationshipTag   = regexp.MustCompile(`<Relationship\b[^>]*>`)
	documentOpenTag   = regexp.MustCompile(`<w:document\b[^>]*>`)
	headerOpenTag     = regexp.MustCompile(`<w:hdr\b[^>]*>`)
	errMissingDocPart = errors.New("word/document.xml not found")
)

type docxRenderer struct {
	style DOCXStyle
}

func newDOCXRenderer(style DOCXStyle) *docxRenderer {
	return &docxRenderer{style: style}
}

func (r *docxRenderer) Format() Format { return FormatDOCX }

// Render は全セクションの既定ヘッダーに回転・半透明のVMLテキスト透かしを挿入します。
// 既定ヘッダーを持たないセクションには新しいヘッダーパートを追加します。
func (r *docxRenderer) Render(ctx context.Context, inputPath, outputPath, text string) error {
	zr, err := zip.OpenReader(inputPath)
	if err != nil {
		return unreadable(inputPath, err)
	}
	defer zr.Close()

	pkg := newDOCXPackage(zr.File)
	doc, err := pkg.read(docxDocumentPart)
	if err != nil {
		return unreadable(inputPath, err)
	}
	contentTypes, err := pkg.read(docxContentTypesPart)
	if err != nil {
		return unreadable(inputPath, err)
	}
	rels, err := pkg.read(docxDocumentRelsPart)
	if err != nil {
		rels = []byte(emptyRelationships)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	inj := &headerInjector{
		pkg:          pkg,
		rels:         string(rels),
		contentTypes: string(contentTypes),
		style:        r.style,
		text:         text,
		done:         make(map[string]bool),
	}
	newDoc, err := inj.injectSections(string(doc))
	if err != nil {
		return unreadable(inputPath, err)
	}

	pkg.put(docxDocumentPart, []byte(newDoc))
	pkg.put(docxDocumentRelsPart, []byte(inj.rels))
	pkg.put(docxContentTypesPart, []byte(inj.contentTypes))
	return pkg.write(outputPath)
}

// docxPackage は元のzipエントリ順を保ったまま、変更・追加したパートだけを差し替えます。
type docxPackage struct {
	files   []*zip.File
	byName  map[string]*zip.File
	changed map[string][]byte
	added   []string
}

func newDOCXPackage(files []*zip.File) *docxPackage {
	byName := make(map[string]*zip.File, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}
	return &docxPackage{
		files:   files,
		byName:  byName,
		changed: make(map[string][]byte),
	}
}

func (p *docxPackage) has(name string) bool {
	_, inZip := p.byName[name]
	_, inChanged := p.changed[name]
	return inZip || inChanged
}

func (p *docxPackage) read(name string) ([]byte, error) {
	if data, ok := p.changed[name]; ok {
		return data, nil
	}
	f, ok := p.byName[name]
	if !ok {
		if name == docxDocumentPart {
			return nil, errMissingDocPart
		}
		return nil, fmt.Errorf("%s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *docxPackage) put(name string, data []byte) {
	if !p.has(name) {
		p.added = append(p.added, name)
	}
	p.changed[name] = data
}

func (p *docxPackage) write(outputPath string) (err error) {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("出力ファイルの作成に失敗しました: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, f := range p.files {
		data, ok := p.changed[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("%s のコピーに失敗しました: %w", f.Name, err)
			}
			continue
		}
		if err := writeZipEntry(zw, f.Name, data); err != nil {
			return err
		}
	}
	for _, name := range p.added {
		if err := writeZipEntry(zw, name, p.changed[name]); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("%s のヘッダー書き込みに失敗しました: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%s の書き込みに失敗しました: %w", name, err)
	}
	return nil
}

type headerInjector struct {
	pkg          *docxPackage
	rels         string
	contentTypes string
	style        DOCXStyle
	text         string
	done         map[string]bool
	shapes       int
}

func (h *headerInjector) injectSections(doc string) (string, error) {
	if !sectPrPattern.MatchString(doc) {
		idx := strings.LastIndex(doc, "</w:body>")
		if idx < 0 {
			return "", errors.New("w:body not found in document.xml")
		}
		doc = doc[:idx] + "<w:sectPr></w:sectPr>" + doc[idx:]
	}

	var injectErr error
	doc = sectPrPattern.ReplaceAllStringFunc(doc, func(sect string) string {
		if injectErr != nil {
			return sect
		}
		updated, err := h.injectSection(sect)
		if err != nil {
			injectErr = err
			return sect
		}
		return updated
	})
	if injectErr != nil {
		return "", injectErr
	}
	return ensureNamespaces(doc, documentOpenTag, map[string]string{"r": nsR}), nil
}

func (h *headerInjector) injectSection(sect string) (string, error) {
	for _, ref := range headerRefPattern.FindAllString(sect, -1) {
		if attrValue(ref, "w:type") != "default" {
			continue
		}
		if part := h.relTarget(attrValue(ref, "r:id")); part != "" && h.pkg.has(part) {
			return sect, h.watermarkHeader(part)
		}
		// 参照先が無い既定ヘッダーは差し替える
		sect = strings.Replace(sect, ref, "", 1)
		break
	}

	id, err := h.newHeaderPart()
	if err != nil {
		return "", err
	}
	ref := fmt.Sprintf(`<w:headerReference w:type="default" r:id="%s"/>`, id)
	if !strings.Contains(sect, "</w:sectPr>") {
		return strings.TrimSuffix(sect, "/>") + ">" + ref + "</w:sectPr>", nil
	}
	open := strings.Index(sect, ">")
	return sect[:open+1] + ref + sect[open+1:], nil
}

func (h *headerInjector) relTarget(id string) string {
	if id == "" {
		return ""
	}
	for _, tag := range relationshipTag.FindAllString(h.rels, -1) {
		if attrValue(tag, "Id") != id {
			continue
		}
		target := attrValue(tag, "Target")
		if strings.HasPrefix(target, "/") {
			return strings.TrimPrefix(path.Clean(target), "/")
		}
		return path.Join("word", target)
	}
	return ""
}

func (h *headerInjector) watermarkHeader(part string) error {
	if h.done[part] {
		return nil
	}
	data, err := h.pkg.read(part)
	if err != nil {
		return err
	}
	hdr := string(data)
	end := strings.LastIndex(hdr, "</w:hdr>")
	if end < 0 {
		return fmt.Errorf("%s is not a header part", part)
	}
	hdr = hdr[:end] + h.paragraph() + hdr[end:]
	hdr = ensureNamespaces(hdr, headerOpenTag, map[string]string{"v": nsV, "o": nsO, "w10": nsW10})

	h.pkg.put(part, []byte(hdr))
	h.done[part] = true
	return nil
}

func (h *headerInjector) newHeaderPart() (string, error) {
	n := 1
	for h.pkg.has(fmt.Sprintf("word/header%d.xml", n)) {
		n++
	}
	part := fmt.Sprintf("word/header%d.xml", n)

	id := fmt.Sprintf("rIdDraft%d", n)
	for strings.Contains(h.rels, `Id="`+id+`"`) {
		n++
		id = fmt.Sprintf("rIdDraft%d", n)
	}

	relsEnd := strings.LastIndex(h.rels, "</Relationships>")
	if relsEnd < 0 {
		return "", errors.New("document relationships are malformed")
	}
	rel := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"/>`, id, relTypeHeader, path.Base(part))
	h.rels = h.rels[:relsEnd] + rel + h.rels[relsEnd:]

	typesEnd := strings.LastIndex(h.contentTypes, "</Types>")
	if typesEnd < 0 {
		return "", errors.New("[Content_Types].xml is malformed")
	}
	override := fmt.Sprintf(`<Override PartName="/%s" ContentType="%s"/>`, part, contentTypeHeader)
	h.contentTypes = h.contentTypes[:typesEnd] + override + h.contentTypes[typesEnd:]

	header := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		fmt.Sprintf(`<w:hdr xmlns:w="%s" xmlns:r="%s" xmlns:v="%s" xmlns:o="%s" xmlns:w10="%s">`, nsW, nsR, nsV, nsO, nsW10) +
		h.paragraph() +
		`</w:hdr>`
	h.pkg.put(part, []byte(header))
	h.done[part] = true
	return id, nil
}

// paragraph は Word の「透かし」機能と同じ VML テキストパス図形を持つ段落を返します。
func (h *headerInjector) paragraph() string {
	h.shapes++
	return fmt.Sprintf(`<w:p><w:pPr><w:pStyle w:val="Header"/></w:pPr><w:r><w:rPr><w:noProof/></w:rPr><w:pict>`+
		`<v:shapetype id="_x0000_t136" coordsize="21600,21600" o:spt="136" adj="10800" path="m@7,l@8,m@5,21600l@6,21600e">`+
		`<v:formulas><v:f eqn="sum #0 0 10800"/><v:f eqn="prod #0 2 1"/><v:f eqn="sum 21600 0 @1"/><v:f eqn="sum 0 0 @2"/>`+
		`<v:f eqn="sum 21600 0 @3"/><v:f eqn="if @0 @3 0"/><v:f eqn="if @0 21600 @1"/><v:f eqn="if @0 0 @2"/>`+
		`<v:f eqn="if @0 @4 21600"/><v:f eqn="mid @5 @6"/><v:f eqn="mid @8 @5"/><v:f eqn="mid @7 @8"/>`+
		`<v:f eqn="mid @6 @7"/><v:f eqn="sum @6 0 @5"/></v:formulas>`+
		`<v:path textpathok="t" o:connecttype="custom" o:connectlocs="@9,0;@10,10800;@11,21600;@12,10800" o:connectangles="270,180,90,0"/>`+
		`<v:textpath on="t" fitshape="t"/><v:handles><v:h position="#0,bottomRight" xrange="6629,14971"/></v:handles>`+
		`<o:lock v:ext="edit" text="t" shapetype="t"/></v:shapetype>`+
		`<v:shape id="DraftWaterMarkObject%d" o:spid="_x0000_s%d" type="#_x0000_t136" `+
		`style="position:absolute;margin-left:0;margin-top:0;width:468pt;height:117pt;rotation:%g;z-index:-251654144;`+
		`mso-position-horizontal:center;mso-position-horizontal-relative:margin;`+
		`mso-position-vertical:center;mso-position-vertical-relative:margin" o:allowincell="f" fillcolor="%s" stroked="f">`+
		`<v:fill opacity="%.2f"/><v:textpath style="font-family:&quot;%s&quot;;font-size:1pt" string="%s"/>`+
		`<w10:wrap anchorx="margin" anchory="margin"/></v:shape></w:pict></w:r></w:p>`,
		h.shapes,
		2048+h.shapes,
		angle(h.style.Rotation, defaultDOCXRotation),
		escapeXML(h.style.Color),
		h.style.Opacity,
		escapeXML(h.style.FontFamily),
		escapeXML(h.text),
	)
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func attrValue(tag, name string) string {
	re := regexp.MustCompile(`(?:^|\s)` + regexp.QuoteMeta(name) + `\s*=\s*"([^"]*)"`)
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	return m[1]
}

// ensureNamespaces はルート要素に不足している名前空間宣言を追加します。
func ensureNamespaces(doc string, rootTag *regexp.Regexp, namespaces map[string]string) string {
	loc := rootTag.FindStringIndex(doc)
	if loc == nil {
		return doc
	}
	open := doc[loc[0]:loc[1]]
	updated := open
	for _, prefix := range []string{"r", "v", "o", "w10"} {
		uri, ok := namespaces[prefix]
		if !ok || strings.Contains(open, "xmlns:"+prefix+"=") {
			continue
		}
		insertAt := len(updated) - 1
		if strings.HasSuffix(updated, "/>") {
			insertAt = len(updated) - 2
		}
		updated = updated[:insertAt] + fmt.Sprintf(` xmlns:%s="%s"`, prefix, uri) + updated[insertAt:]
	}
	return doc[:loc[0]] + updated + doc[loc[1]:]
}
