package extract

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet and table name of the result.
const SheetName = "Result"

// Table is the tabular form of a result, shared by the JSON and Excel exports.
type Table struct {
	SheetName string     `json:"sheet_name"`
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
}

// Document is the JSON artifact written for an extraction job.
type Document struct {
	JobID  string  `json:"job_id,omitempty"`
	Tables []Table `json:"tables"`
}

// Table renders the result rows under the fixed column header.
func (r Result) Table() Table {
	rows := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = []string{row.Category, row.Item, row.Value, row.Source}
	}
	return Table{SheetName: SheetName, Columns: Columns, Rows: rows}
}

// WriteJSON writes the result as an indented JSON document.
func WriteJSON(w io.Writer, jobID string, r Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Document{JobID: jobID, Tables: []Table{r.Table()}}); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteXLSX writes the result table into a workbook with a single sheet.
func WriteXLSX(w io.Writer, r Result) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	t := r.Table()
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ReadXLSX loads requirement rows from a workbook written by WriteXLSX. The
// Result sheet is preferred; a workbook with another single sheet is accepted.
// Columns are located by header name and at least three must be present.
func ReadXLSX(path string) ([]domain.RequirementRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.Errorf(domain.ErrUnsupportedFormat, "cannot open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheet := SheetName
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return []domain.RequirementRow{}, nil
	}

	col := map[string]int{}
	for i, h := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		for _, c := range Columns {
			if name == c {
				col[c] = i
			}
		}
	}
	if len(col) < 3 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "requirements header mismatch: %v", rows[0])
	}

	cell := func(row []string, name string, fallback int) string {
		i, ok := col[name]
		if !ok {
			i = fallback
		}
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	out := make([]domain.RequirementRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		out = append(out, domain.RequirementRow{
			Category: cell(row, "category", 0),
			Item:     cell(row, "item", 1),
			Value:    cell(row, "value", 2),
			Source:   cell(row, "source", 3),
		})
	}
	return out, nil
}
