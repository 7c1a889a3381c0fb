// Package docx reads and writes the subset of WordprocessingML the knowledge
// base needs: paragraphs with styles, simple tables and merged bodies.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const (
	documentPart = "word/document.xml"
	stylesPart   = "word/styles.xml"
)

// Tier names reported by LoadParagraphs.
const (
	TierStructured = "structured"
	TierRawXML     = "raw-xml"
	TierPlainText  = "plain-text"
)

// Source is the paragraph stream of a document and the tier that produced it.
type Source struct {
	Paragraphs []domain.Paragraph
	Tier       string
}

// LoadParagraphs reads a .docx or .txt file. For .docx it tries the structured
// reader first and falls back to raw XML text extraction.
func LoadParagraphs(path string) (Source, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "docx":
		paras, err := ReadStructured(path)
		if err == nil {
			return Source{Paragraphs: paras, Tier: TierStructured}, nil
		}
		paras, rawErr := ReadRawText(path)
		if rawErr != nil {
			return Source{}, domain.Errorf(domain.ErrUnsupportedFormat, "unreadable docx: %v; %v", err, rawErr)
		}
		return Source{Paragraphs: paras, Tier: TierRawXML}, nil
	case "txt":
		paras, err := ReadPlainText(path)
		if err != nil {
			return Source{}, err
		}
		return Source{Paragraphs: paras, Tier: TierPlainText}, nil
	default:
		return Source{}, domain.Errorf(domain.ErrUnsupportedFormat, "extension %q", ext)
	}
}

// ReadStructured parses body paragraphs with their style names. Paragraphs
// inside tables are not part of the body stream.
func ReadStructured(path string) ([]domain.Paragraph, error) {
	parts, err := readParts(path, documentPart, stylesPart)
	if err != nil {
		return nil, err
	}
	doc, ok := parts[documentPart]
	if !ok {
		return nil, fmt.Errorf("missing %s", documentPart)
	}

	styleNames := map[string]string{}
	if styles, ok := parts[stylesPart]; ok {
		if styleNames, err = parseStyleNames(styles); err != nil {
			return nil, fmt.Errorf("failed to parse styles: %w", err)
		}
	}

	dec := xml.NewDecoder(bytes.NewReader(doc))
	var (
		out        []domain.Paragraph
		text       strings.Builder
		style      string
		inPara     bool
		tableDepth int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "p":
				if tableDepth == 0 {
					inPara = true
					text.Reset()
					style = ""
				}
			case "pStyle":
				if inPara {
					id := attr(t, "val")
					style = id
					if name, ok := styleNames[id]; ok {
						style = name
					}
				}
			case "t":
				if inPara {
					var s string
					if err := dec.DecodeElement(&s, &t); err != nil {
						return nil, fmt.Errorf("failed to parse text run: %w", err)
					}
					text.WriteString(s)
				}
			case "tab":
				if inPara {
					text.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					text.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "p":
				if inPara && tableDepth == 0 {
					out = append(out, domain.Paragraph{Text: text.String(), Style: style})
					inPara = false
				}
			}
		}
	}
	return out, nil
}

var (
	rawParagraphEnd = regexp.MustCompile(`</w:p>`)
	rawText         = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	xmlUnescaper    = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
)

// ReadRawText extracts paragraph text from document.xml without parsing it as
// XML, so it tolerates documents the structured reader rejects. Styles are lost.
func ReadRawText(path string) ([]domain.Paragraph, error) {
	parts, err := readParts(path, documentPart)
	if err != nil {
		return nil, err
	}
	doc, ok := parts[documentPart]
	if !ok {
		return nil, fmt.Errorf("missing %s", documentPart)
	}

	var out []domain.Paragraph
	for _, chunk := range rawParagraphEnd.Split(string(doc), -1) {
		matches := rawText.FindAllStringSubmatch(chunk, -1)
		if len(matches) == 0 {
			continue
		}
		var sb strings.Builder
		for _, m := range matches {
			sb.WriteString(xmlUnescaper.Replace(m[1]))
		}
		out = append(out, domain.Paragraph{Text: sb.String()})
	}
	return out, nil
}

// ReadPlainText reads a text file as UTF-8, falling back to GB18030 when the
// bytes are not valid UTF-8.
func ReadPlainText(path string) ([]domain.Paragraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}
	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]domain.Paragraph, len(lines))
	for i, ln := range lines {
		out[i] = domain.Paragraph{Text: ln}
	}
	return out, nil
}

// DecodeText returns data as a string, transcoding from GB18030 if it is not UTF-8.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data)
	if err != nil {
		return "", domain.Errorf(domain.ErrUnsupportedFormat, "text is neither UTF-8 nor GB18030")
	}
	return string(decoded), nil
}

// Text joins the paragraphs of a source with newlines.
func (s Source) Text() string {
	lines := make([]string, len(s.Paragraphs))
	for i, p := range s.Paragraphs {
		lines[i] = p.Text
	}
	return strings.Join(lines, "\n")
}

// DefaultMaxPartSize is the default cap on the uncompressed size of one part.
const DefaultMaxPartSize int64 = 64 << 20

var maxPartSize atomic.Int64

// SetMaxPartSize sets the largest uncompressed part the readers accept.
// Non-positive values restore DefaultMaxPartSize.
func SetMaxPartSize(n int64) {
	maxPartSize.Store(n)
}

func readParts(path string, names ...string) (map[string][]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer func() { _ = zr.Close() }()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	limit := maxPartSize.Load()
	if limit <= 0 {
		limit = DefaultMaxPartSize
	}
	parts := make(map[string][]byte, len(names))
	for _, f := range zr.File {
		if !want[f.Name] {
			continue
		}
		if f.UncompressedSize64 > uint64(limit) {
			return nil, domain.Errorf(domain.ErrUnsupportedFormat, "%s exceeds %d bytes", f.Name, limit)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, limit+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		if int64(len(data)) > limit {
			return nil, domain.Errorf(domain.ErrUnsupportedFormat, "%s exceeds %d bytes", f.Name, limit)
		}
		parts[f.Name] = data
	}
	return parts, nil
}

func parseStyleNames(data []byte) (map[string]string, error) {
	var styles struct {
		Styles []struct {
			ID   string `xml:"styleId,attr"`
			Name struct {
				Val string `xml:"val,attr"`
			} `xml:"name"`
		} `xml:"style"`
	}
	if err := xml.Unmarshal(data, &styles); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(styles.Styles))
	for _, s := range styles.Styles {
		if s.Name.Val != "" {
			names[s.ID] = s.Name.Val
		}
	}
	return names, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
