package docx

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func writeDocx(t *testing.T, w *Writer) string {
	t.Helper()
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "doc.docx")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// writeRawDocx packs an arbitrary document.xml into a zip.
func writeRawDocx(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	zw := zip.NewWriter(f)
	fw, err := zw.Create(documentPart)
	if err != nil {
		t.Fatalf("zip Create failed: %v", err)
	}
	if _, err := fw.Write([]byte(documentXML)); err != nil {
		t.Fatalf("zip Write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestReadStructured_StylesAndTablesExcluded(t *testing.T) {
	w := NewWriter()
	w.Heading("第一章 总则", 1)
	w.Paragraph("正文 <第一段> & more")
	w.Table([][]string{{"评分大类", "评分小类"}, {"技术", "方案"}}, true)
	w.Heading("1.1 术语", 2)
	path := writeDocx(t, w)

	paras, err := ReadStructured(path)
	if err != nil {
		t.Fatalf("ReadStructured failed: %v", err)
	}

	var texts []string
	for _, p := range paras {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	want := []string{"第一章 总则", "正文 <第一段> & more", "1.1 术语"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Fatalf("Got %q, want %q", texts, want)
	}
	if paras[0].Style != "heading 1" {
		t.Errorf("Expected style name resolved from styles.xml, got %q", paras[0].Style)
	}
}

func TestLoadParagraphs_FallsBackToRawXML(t *testing.T) {
	// Unclosed element makes the document invalid XML.
	path := writeRawDocx(t, `<w:document><w:body><w:p><w:r><w:t>Alpha &amp; Beta</w:t></w:r></w:p><w:p><w:t xml:space="preserve">Gamma</w:t></w:p><w:broken></w:body></w:document>`)

	if _, err := ReadStructured(path); err == nil {
		t.Fatal("Expected structured reader to reject malformed XML")
	}

	src, err := LoadParagraphs(path)
	if err != nil {
		t.Fatalf("LoadParagraphs failed: %v", err)
	}
	if src.Tier != TierRawXML {
		t.Errorf("Expected raw-xml tier, got %s", src.Tier)
	}
	if len(src.Paragraphs) != 2 || src.Paragraphs[0].Text != "Alpha & Beta" || src.Paragraphs[1].Text != "Gamma" {
		t.Errorf("Unexpected paragraphs: %+v", src.Paragraphs)
	}
}

func TestLoadParagraphs_UnsupportedAndUnreadable(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadParagraphs(pdf); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat for pdf, got %v", err)
	}

	notZip := filepath.Join(dir, "b.docx")
	if err := os.WriteFile(notZip, []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadParagraphs(notZip); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat for corrupt docx, got %v", err)
	}
}

func TestReadParts_SizeLimit(t *testing.T) {
	body := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		strings.Repeat("0", 4096) + `</w:t></w:r></w:p></w:body></w:document>`
	path := writeRawDocx(t, body)

	SetMaxPartSize(1024)
	t.Cleanup(func() { SetMaxPartSize(0) })

	if _, err := ReadStructured(path); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat for oversized part, got %v", err)
	}
	if _, err := LoadParagraphs(path); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("Expected LoadParagraphs to reject oversized part, got %v", err)
	}

	SetMaxPartSize(0)
	paras, err := ReadStructured(path)
	if err != nil {
		t.Fatalf("ReadStructured failed with default limit: %v", err)
	}
	if len(paras) != 1 || len(paras[0].Text) != 4096 {
		t.Errorf("Unexpected paragraphs: %d", len(paras))
	}
}

func TestReadPlainText_GB18030(t *testing.T) {
	encoded, err := simplifiedchinese.GB18030.NewEncoder().String("项目名称：测试\r\n项目编号：ZZB-1")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "gbk.txt")
	if err := os.WriteFile(path, []byte(encoded), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := LoadParagraphs(path)
	if err != nil {
		t.Fatalf("LoadParagraphs failed: %v", err)
	}
	if src.Tier != TierPlainText {
		t.Errorf("Expected plain-text tier, got %s", src.Tier)
	}
	if src.Text() != "项目名称：测试\n项目编号：ZZB-1" {
		t.Errorf("Unexpected text %q", src.Text())
	}
}

func TestDecodeText_UTF8BOM(t *testing.T) {
	got, err := DecodeText([]byte("\xef\xbb\xbfhello"))
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("Expected BOM to be stripped, got %q", got)
	}
}

func TestReadTables(t *testing.T) {
	w := NewWriter()
	w.Paragraph("intro")
	w.Table([][]string{{"评分大类", "有效证明材料"}, {"资质（10分）", "1、ISO9001\n2、CMMI3"}}, true)
	w.Table([][]string{{"x"}}, false)
	path := writeDocx(t, w)

	tables, err := ReadTables(path)
	if err != nil {
		t.Fatalf("ReadTables failed: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("Expected 2 tables, got %d", len(tables))
	}
	first := tables[0]
	if len(first) != 2 || first[0][0] != "评分大类" || first[1][0] != "资质（10分）" || first[1][1] != "1、ISO9001\n2、CMMI3" {
		t.Errorf("Unexpected table: %q", first)
	}
}

func TestExtractBody_MergesIntoWriter(t *testing.T) {
	sub := NewWriter()
	sub.Heading("资质", 1)
	sub.Paragraph("ISO9001 证书")
	subPath := writeDocx(t, sub)

	body, err := ExtractBody(subPath)
	if err != nil {
		t.Fatalf("ExtractBody failed: %v", err)
	}
	if strings.Contains(string(body), "sectPr") {
		t.Error("Expected section properties to be stripped")
	}

	out := NewWriter()
	out.Heading("报告", 1)
	out.AppendBody(body)
	outPath := writeDocx(t, out)

	paras, err := ReadStructured(outPath)
	if err != nil {
		t.Fatalf("ReadStructured on merged output failed: %v", err)
	}
	if len(paras) != 3 || paras[1].Text != "资质" || paras[1].Style != "heading 1" || paras[2].Text != "ISO9001 证书" {
		t.Errorf("Unexpected merged paragraphs: %+v", paras)
	}
}

func TestExtractBody_Malformed(t *testing.T) {
	path := writeRawDocx(t, `<w:document><w:body><w:p><w:r></w:p></w:body></w:document>`)
	if _, err := ExtractBody(path); err == nil {
		t.Error("Expected malformed body to be rejected")
	}
	if _, err := ExtractBody(filepath.Join(t.TempDir(), "missing.docx")); err == nil {
		t.Error("Expected missing file to fail")
	}
}
