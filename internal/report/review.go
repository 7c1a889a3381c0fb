package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
)

const excerptPreviewRunes = 100

// headerCandidates maps logical score-template columns to accepted header
// labels, most specific first.
var headerCandidates = []struct {
	column string
	labels []string
}{
	{"score_major", []string{"评分大类", "评分大类(分)", "大类"}},
	{"score_minor", []string{"评分小类", "小类"}},
	{"score_rule", []string{"评分类别", "评分规则", "评分标准", "类别"}},
	{"evidence", []string{"有效证明材料", "证明材料", "材料要求"}},
	{"pages", []string{"证明材料页码", "页码", "材料页码"}},
}

// ParseScoreTemplate reads the scoring rows from the first table of a
// template document. The header must at least identify the 评分大类 column.
func ParseScoreTemplate(path string) ([]domain.TemplateRow, error) {
	tables, err := docx.ReadTables(path)
	if err != nil {
		return nil, domain.Errorf(domain.ErrUnsupportedFormat, "cannot read score template: %v", err)
	}
	if len(tables) == 0 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "score template has no table")
	}
	return ScoreRowsFromTable(tables[0])
}

// ScoreRowsFromTable maps a table with a header row onto template rows.
// Rows with every mapped cell empty are dropped.
func ScoreRowsFromTable(table docx.Table) ([]domain.TemplateRow, error) {
	if len(table) < 2 {
		return []domain.TemplateRow{}, nil
	}
	cols := mapHeader(table[0])
	if _, ok := cols["score_major"]; !ok {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "score template header mismatch, cannot find 评分大类: %v", table[0])
	}

	cell := func(row []string, column string) string {
		i, ok := cols[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]domain.TemplateRow, 0, len(table)-1)
	for _, row := range table[1:] {
		r := domain.TemplateRow{
			ScoreMajor:        cell(row, "score_major"),
			ScoreMinor:        cell(row, "score_minor"),
			ScoreRule:         cell(row, "score_rule"),
			EvidenceMaterials: cell(row, "evidence"),
			Pages:             cell(row, "pages"),
		}
		if r == (domain.TemplateRow{}) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// mapHeader prefers exact label matches and falls back to containment, so a
// header like 评分大类（10分） still maps.
func mapHeader(header []string) map[string]int {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = normalizeHeader(h)
	}

	find := func(labels []string) (int, bool) {
		for _, l := range labels {
			for i, h := range norm {
				if h == normalizeHeader(l) {
					return i, true
				}
			}
		}
		for _, l := range labels {
			for i, h := range norm {
				if strings.Contains(h, normalizeHeader(l)) {
					return i, true
				}
			}
		}
		return 0, false
	}

	cols := map[string]int{}
	for _, c := range headerCandidates {
		if i, ok := find(c.labels); ok {
			cols[c.column] = i
		}
	}
	return cols
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("（", "(", "）", ")", " ", "", "\n", "").Replace(s)
}

// EvidenceRetriever finds evidence blocks for a template row.
type EvidenceRetriever interface {
	RetrieveEvidence(ctx context.Context, row domain.TemplateRow, opts retrieval.EvidenceOptions) ([]domain.EvidenceHit, error)
}

// ReviewInput holds everything a review index is built from.
type ReviewInput struct {
	Requirements []domain.RequirementRow
	ScoreRows    []domain.TemplateRow
	Evidence     retrieval.EvidenceOptions
	GeneratedAt  time.Time
}

// BuildReviewIndex renders the review index: a summary of the aggregated
// requirements, the score table annotated with evidence, and an appendix with
// the full excerpts.
func BuildReviewIndex(ctx context.Context, ev EvidenceRetriever, in ReviewInput) (*docx.Writer, error) {
	w := docx.NewWriter()
	w.Heading("评审办法索引目录", 1)

	for _, r := range in.Requirements {
		if strings.Contains(r.Item, "项目名称") && r.Value != "" {
			w.Paragraph("项目名称：" + r.Value)
			break
		}
	}
	w.Paragraph("生成时间：" + in.GeneratedAt.Format("2006-01-02 15:04:05"))
	tag := "ALL"
	if in.Evidence.Tag != nil {
		tag = *in.Evidence.Tag
	}
	w.Paragraph("KB tag：" + tag)

	w.Heading("一、招标文件重点要求摘要", 2)
	aggregated := extract.Aggregate(in.Requirements)
	if len(aggregated) == 0 {
		w.Paragraph("（未提取到有效要求）")
	}
	for _, req := range aggregated {
		w.Heading(req.Category, 3)
		if req.Summary != "" {
			w.Paragraph(req.Summary)
		} else {
			w.Paragraph("（无具体内容）")
		}
		if len(req.References) > 0 {
			w.Paragraph("来源定位：" + strings.Join(req.References, "  "))
		}
	}
	w.PageBreak()

	w.Heading("二、评审办法索引目录（评分模板 + KB证据摘录）", 2)
	table := [][]string{{"评分大类", "评分小类", "评分类别", "有效证明材料\n(模板要求 + KB内容)", "定位\n(页码/段落)"}}
	type appendix struct {
		major string
		hits  []domain.EvidenceHit
	}
	var details []appendix

	for _, row := range in.ScoreRows {
		hits, err := ev.RetrieveEvidence(ctx, row, in.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve evidence for %q: %w", row.ScoreMajor, err)
		}
		major := row.ScoreMajor
		if major == "" {
			major = "（无标题评分大类）"
		}
		details = append(details, appendix{major: major, hits: hits})

		evidence := []string{"【模板要求】", templateRequirement(row), "", "【KB命中】"}
		pages := []string{"TPL: " + orDash(row.Pages)}
		if len(hits) == 0 {
			evidence = append(evidence, "（未命中）")
			pages = append(pages, "-")
		}
		for i, h := range hits {
			evidence = append(evidence, fmt.Sprintf("[%d] %s", i+1, h.SectionTitle))
			if ex := strings.TrimSpace(h.Excerpt); ex != "" {
				evidence = append(evidence, "   "+preview(ex, excerptPreviewRunes))
			}
			pages = append(pages, fmt.Sprintf("KB[%d] %s", i+1, h.SectionPath))
		}
		table = append(table, []string{row.ScoreMajor, row.ScoreMinor, row.ScoreRule, strings.Join(evidence, "\n"), strings.Join(pages, "\n")})
	}
	w.Table(table, true)

	w.PageBreak()
	w.Heading("附录：知识库证据详单", 2)
	for _, d := range details {
		if len(d.hits) == 0 {
			continue
		}
		w.Heading(d.major, 3)
		for i, h := range d.hits {
			w.Heading(fmt.Sprintf("%d) %s", i+1, h.SectionTitle), 4)
			if ex := strings.TrimSpace(h.Excerpt); ex != "" {
				w.Paragraph(ex)
			} else {
				w.Paragraph("（空摘录）")
			}
		}
	}
	return w, nil
}

// templateRequirement picks the most specific requirement text of a row.
func templateRequirement(row domain.TemplateRow) string {
	for _, s := range []string{row.EvidenceMaterials, row.ScoreRule, row.ScoreMinor} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "-"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
