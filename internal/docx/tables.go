package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Table is a grid of cell texts. Cells holding several paragraphs are joined
// with newlines.
type Table [][]string

// ReadTables returns the top-level tables of a document in order. Nested
// tables are flattened into the text of their enclosing cell.
func ReadTables(path string) ([]Table, error) {
	parts, err := readParts(path, documentPart)
	if err != nil {
		return nil, err
	}
	doc, ok := parts[documentPart]
	if !ok {
		return nil, fmt.Errorf("missing %s", documentPart)
	}
	return parseTables(doc)
}

func parseTables(doc []byte) ([]Table, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))

	var (
		tables []Table
		table  Table
		row    []string
		cell   []string
		para   strings.Builder
		depth  int
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
				depth++
				if depth == 1 {
					table = nil
				}
			case "tr":
				if depth == 1 {
					row = nil
				}
			case "tc":
				if depth == 1 {
					cell = nil
				}
			case "p":
				if depth >= 1 {
					para.Reset()
				}
			case "t":
				if depth >= 1 {
					var s string
					if err := dec.DecodeElement(&s, &t); err != nil {
						return nil, fmt.Errorf("failed to parse text run: %w", err)
					}
					para.WriteString(s)
				}
			case "br", "cr":
				if depth >= 1 {
					para.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if depth >= 1 {
					if s := strings.TrimSpace(para.String()); s != "" {
						cell = append(cell, s)
					}
				}
			case "tc":
				if depth == 1 {
					row = append(row, strings.Join(cell, "\n"))
				}
			case "tr":
				if depth == 1 {
					table = append(table, row)
				}
			case "tbl":
				if depth == 1 {
					tables = append(tables, table)
				}
				depth--
			}
		}
	}
	return tables, nil
}
