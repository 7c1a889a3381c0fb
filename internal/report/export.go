package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
)

// DefaultExportTopK is the export size when none is given.
const DefaultExportTopK = 50

// ExportParams selects the blocks of a search export.
type ExportParams struct {
	Query         string
	Tag           *string
	TitleKeywords []string
	TopK          int
}

// CollectExport pages through search results until top_k items are gathered
// or the results are exhausted.
func CollectExport(ctx context.Context, s Searcher, p ExportParams) ([]domain.SearchItem, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "query is required")
	}
	topK := p.TopK
	if topK <= 0 {
		topK = DefaultExportTopK
	}

	var items []domain.SearchItem
	for page := 1; len(items) < topK; page++ {
		res, err := s.Search(ctx, retrieval.SearchParams{
			Query:         &query,
			Tag:           p.Tag,
			TitleKeywords: p.TitleKeywords,
			Page:          page,
			PageSize:      min(topK, retrieval.MaxPageSize),
			TopK:          &topK,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
		if len(res.Items) == 0 || len(items) >= res.Total {
			break
		}
	}
	return items[:min(topK, len(items))], nil
}

// RenderExport lays out exported search results.
func RenderExport(p ExportParams, items []domain.SearchItem) *docx.Writer {
	w := docx.NewWriter()
	w.Heading("KB Export: "+strings.TrimSpace(p.Query), 1)
	tag := "-"
	if p.Tag != nil {
		tag = *p.Tag
	}
	w.Paragraph(fmt.Sprintf("tag=%s  top_k=%d  items=%d", tag, p.TopK, len(items)))

	for i, it := range items {
		w.Heading(fmt.Sprintf("%d. %s", i+1, it.SectionTitle), 2)
		w.Paragraph(fmt.Sprintf("doc_id=%s  block_id=%s  score=%d", it.DocID, it.BlockID, it.Score))
		for _, line := range strings.Split(it.ContentText, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				w.Paragraph(line)
			}
		}
	}
	return w
}
