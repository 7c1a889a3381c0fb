package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// Writer builds a .docx document from headings, paragraphs, tables and
// bodies merged from other documents.
type Writer struct {
	body bytes.Buffer
}

// NewWriter returns an empty document.
func NewWriter() *Writer {
	return &Writer{}
}

// Title adds a paragraph in the Title style.
func (w *Writer) Title(text string) {
	w.styledParagraph("Title", text)
}

// Heading adds a heading paragraph; level is clamped to 1..6.
func (w *Writer) Heading(text string, level int) {
	level = max(1, min(level, 6))
	w.styledParagraph(fmt.Sprintf("Heading%d", level), text)
}

// Paragraph adds a body paragraph. Newlines become line breaks.
func (w *Writer) Paragraph(text string) {
	w.styledParagraph("", text)
}

// PageBreak starts a new page.
func (w *Writer) PageBreak() {
	w.body.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
}

// Table adds a bordered table. The first row is rendered bold when header is set.
func (w *Writer) Table(rows [][]string, header bool) {
	if len(rows) == 0 {
		return
	}
	w.body.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr>`)
	for i, row := range rows {
		w.body.WriteString(`<w:tr>`)
		for _, cell := range row {
			w.body.WriteString(`<w:tc><w:tcPr><w:tcW w:w="0" w:type="auto"/></w:tcPr>`)
			w.writeParagraph("", cell, header && i == 0)
			w.body.WriteString(`</w:tc>`)
		}
		w.body.WriteString(`</w:tr>`)
	}
	w.body.WriteString(`</w:tbl>`)
	// Word requires a paragraph between consecutive tables.
	w.body.WriteString(`<w:p/>`)
}

// AppendBody merges a body fragment obtained from ExtractBody.
func (w *Writer) AppendBody(fragment []byte) {
	w.body.Write(fragment)
}

// Empty reports whether nothing has been added.
func (w *Writer) Empty() bool {
	return w.body.Len() == 0
}

func (w *Writer) styledParagraph(style, text string) {
	w.writeParagraph(style, text, false)
}

func (w *Writer) writeParagraph(style, text string, bold bool) {
	w.body.WriteString(`<w:p>`)
	if style != "" {
		fmt.Fprintf(&w.body, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, style)
	}
	w.body.WriteString(`<w:r>`)
	if bold {
		w.body.WriteString(`<w:rPr><w:b/></w:rPr>`)
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			w.body.WriteString(`<w:br/>`)
		}
		w.body.WriteString(`<w:t xml:space="preserve">`)
		_ = xml.EscapeText(&w.body, []byte(line))
		w.body.WriteString(`</w:t>`)
	}
	w.body.WriteString(`</w:r></w:p>`)
}

// WriteTo writes the complete .docx package.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	cw := &countingWriter{w: out}
	zw := zip.NewWriter(cw)

	document := xml.Header +
		`<w:document xmlns:w="` + wordNS + `" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><w:body>` +
		w.body.String() +
		`<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1800" w:bottom="1440" w:left="1800" w:header="851" w:footer="992" w:gutter="0"/></w:sectPr>` +
		`</w:body></w:document>`

	parts := []struct {
		name string
		data string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", rootRelsXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{documentPart, document},
		{stylesPart, stylesXML},
	}
	for _, p := range parts {
		fw, err := zw.Create(p.name)
		if err != nil {
			return cw.n, fmt.Errorf("failed to create %s: %w", p.name, err)
		}
		if _, err := io.WriteString(fw, p.data); err != nil {
			return cw.n, fmt.Errorf("failed to write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to finalize docx: %w", err)
	}
	return cw.n, nil
}

// Bytes returns the complete .docx package.
func (w *Writer) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

const contentTypesXML = xml.Header + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`</Types>`

const rootRelsXML = xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const documentRelsXML = xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`</Relationships>`

var stylesXML = buildStyles()

func buildStyles() string {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(`<w:styles xmlns:w="` + wordNS + `">`)
	sb.WriteString(`<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:eastAsia="SimSun"/><w:sz w:val="21"/></w:rPr></w:rPrDefault></w:docDefaults>`)
	sb.WriteString(`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>`)
	sb.WriteString(`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/><w:pPr><w:jc w:val="center"/></w:pPr><w:rPr><w:b/><w:sz w:val="36"/></w:rPr></w:style>`)
	sizes := []int{32, 28, 26, 24, 22, 21}
	for i, size := range sizes {
		level := i + 1
		fmt.Fprintf(&sb, `<w:style w:type="paragraph" w:styleId="Heading%d"><w:name w:val="heading %d"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:pPr><w:keepNext/><w:outlineLvl w:val="%d"/></w:pPr><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr></w:style>`, level, level, i, size)
	}
	sb.WriteString(`<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr><w:tblBorders>`)
	for _, edge := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
		fmt.Fprintf(&sb, `<w:%s w:val="single" w:sz="4" w:space="0" w:color="auto"/>`, edge)
	}
	sb.WriteString(`</w:tblBorders></w:tblPr></w:style>`)
	sb.WriteString(`</w:styles>`)
	return sb.String()
}
