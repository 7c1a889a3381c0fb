package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
)

var (
	bodyOpen     = regexp.MustCompile(`<w:body(?:\s[^>]*)?>`)
	sectionProps = regexp.MustCompile(`(?s)<w:sectPr(?:\s[^>]*)?(?:/>|>.*?</w:sectPr>)\s*$`)
)

// ExtractBody returns the inner XML of the document body with the trailing
// section properties removed, ready for Writer.AppendBody. The fragment is
// checked for well-formedness so a broken sub-document fails here rather than
// corrupting the merged output.
func ExtractBody(path string) ([]byte, error) {
	parts, err := readParts(path, documentPart)
	if err != nil {
		return nil, err
	}
	doc, ok := parts[documentPart]
	if !ok {
		return nil, fmt.Errorf("missing %s", documentPart)
	}

	loc := bodyOpen.FindIndex(doc)
	if loc == nil {
		return nil, fmt.Errorf("document has no body")
	}
	end := bytes.LastIndex(doc, []byte("</w:body>"))
	if end < loc[1] {
		return nil, fmt.Errorf("document body is not closed")
	}
	inner := bytes.TrimSpace(doc[loc[1]:end])
	inner = sectionProps.ReplaceAll(inner, nil)

	if err := checkWellFormed(inner); err != nil {
		return nil, fmt.Errorf("malformed body: %w", err)
	}
	return inner, nil
}

func checkWellFormed(fragment []byte) error {
	wrapped := make([]byte, 0, len(fragment)+128)
	wrapped = append(wrapped, `<w:body xmlns:w="`+wordNS+`" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">`...)
	wrapped = append(wrapped, fragment...)
	wrapped = append(wrapped, `</w:body>`...)

	dec := xml.NewDecoder(bytes.NewReader(wrapped))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
