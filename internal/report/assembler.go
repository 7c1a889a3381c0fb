package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
)

// Searcher runs a block search.
type Searcher interface {
	Search(ctx context.Context, p retrieval.SearchParams) (domain.SearchPage, error)
}

// SectionResult is the evidence selected for one template section.
type SectionResult struct {
	Title string
	Items []domain.SearchItem
}

// ReportArtifact is the artifact name of assembled reports.
const ReportArtifact = "report"

// StageFunc is called before each assembly stage. The returned context is
// used for the work of that stage.
type StageFunc func(ctx context.Context, stage domain.JobStage) (context.Context, error)

// Assembler builds report documents from templates.
type Assembler struct {
	templates *Registry
	search    Searcher
	root      *storage.Root
}

// NewAssembler creates an assembler. templates may be nil when reports are
// only assembled from in-memory templates.
func NewAssembler(templates *Registry, search Searcher, root *storage.Root) *Assembler {
	return &Assembler{templates: templates, search: search, root: root}
}

// Template resolves a template from the registry.
func (a *Assembler) Template(id, version string) (Template, error) {
	if a.templates == nil {
		return Template{}, domain.Errorf(domain.ErrInvalidArgument, "report templates are not configured")
	}
	return a.templates.Get(id, version)
}

// AssembleReport resolves templateID@version and writes the report to
// {root}/artifacts/{owner}/report.docx. onStage may be nil.
func (a *Assembler) AssembleReport(ctx context.Context, templateID, version, owner string, onStage StageFunc) (string, error) {
	tpl, err := a.Template(templateID, version)
	if err != nil {
		return "", err
	}
	return a.assemble(ctx, tpl, owner, ReportArtifact, onStage)
}

// Select resolves every section of the template. It fails with
// ErrNoEvidenceForSection on the first section without evidence, before any
// output is produced.
func (a *Assembler) Select(ctx context.Context, tpl Template) ([]SectionResult, error) {
	results := make([]SectionResult, 0, len(tpl.Sections))
	for i, section := range tpl.Sections {
		title := strings.TrimSpace(section.Title)
		if title == "" {
			title = fmt.Sprintf("Section %d", i+1)
		}

		items, err := a.selectSection(ctx, section.Pick)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", title, err)
		}
		if len(items) == 0 {
			return nil, domain.Errorf(domain.ErrNoEvidenceForSection, "no evidence for section %q", title)
		}
		results = append(results, SectionResult{Title: title, Items: items})
	}
	return results, nil
}

// selectSection runs one search per tag (or one untagged search), keeps the
// maximum score per block and truncates to the section limit.
func (a *Assembler) selectSection(ctx context.Context, pick *Pick) ([]domain.SearchItem, error) {
	limit := pick.Limit()
	keywords := pick.Keywords()

	var tags []*string
	for _, t := range pick.Tags() {
		tags = append(tags, &t)
	}
	if len(tags) == 0 {
		tags = []*string{nil}
	}

	pageSize := min(limit, retrieval.MaxPageSize)
	merged := map[string]domain.SearchItem{}
	for _, tag := range tags {
		for n := 1; ; n++ {
			page, err := a.search.Search(ctx, retrieval.SearchParams{
				Tag:           tag,
				TitleKeywords: keywords,
				Page:          n,
				PageSize:      pageSize,
				TopK:          &limit,
			})
			if err != nil {
				return nil, err
			}
			for _, it := range page.Items {
				if prev, ok := merged[it.BlockID]; !ok || it.Score > prev.Score {
					merged[it.BlockID] = it
				}
			}
			if len(page.Items) < pageSize || n*pageSize >= min(page.Total, limit) {
				break
			}
		}
	}

	items := make([]domain.SearchItem, 0, len(merged))
	for _, it := range merged {
		items = append(items, it)
	}
	retrieval.SortItems(items)
	return items[:min(limit, len(items))], nil
}

// Render lays out the sections. Each block contributes its pre-rendered
// sub-document body; when that is missing or unreadable the block's plain
// text is used instead.
func (a *Assembler) Render(title string, sections []SectionResult) *docx.Writer {
	w := docx.NewWriter()
	if title != "" {
		w.Title(title)
	}
	for _, s := range sections {
		w.Heading(s.Title, 1)
		for _, it := range s.Items {
			if a.appendRendered(w, it) {
				continue
			}
			w.Heading(it.SectionTitle, 2)
			for _, line := range strings.Split(it.ContentText, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					w.Paragraph(line)
				}
			}
		}
	}
	return w
}

func (a *Assembler) appendRendered(w *docx.Writer, it domain.SearchItem) bool {
	if it.RenderedPath == "" || a.root == nil {
		return false
	}
	path, err := a.root.Contain(it.RenderedPath)
	if err != nil {
		slog.Warn("Rendered block outside storage root", "block_id", it.BlockID, "error", err)
		return false
	}
	body, err := docx.ExtractBody(path)
	if err != nil {
		slog.Warn("Falling back to plain text for block", "block_id", it.BlockID, "error", err)
		return false
	}
	w.AppendBody(body)
	return true
}

// Assemble selects, renders and writes the report to
// {root}/artifacts/{owner}/{artifact}.docx. Nothing is written on failure.
func (a *Assembler) Assemble(ctx context.Context, tpl Template, owner, artifact string) (string, error) {
	return a.assemble(ctx, tpl, owner, artifact, nil)
}

func (a *Assembler) assemble(ctx context.Context, tpl Template, owner, artifact string, onStage StageFunc) (string, error) {
	enter := func(stage domain.JobStage) (context.Context, error) {
		if onStage == nil {
			return ctx, nil
		}
		return onStage(ctx, stage)
	}

	sctx, err := enter(domain.StageRetrieve)
	if err != nil {
		return "", err
	}
	sections, err := a.Select(sctx, tpl)
	if err != nil {
		return "", err
	}

	if _, err := enter(domain.StageRender); err != nil {
		return "", err
	}
	title := tpl.Title
	if title == "" {
		title = tpl.ID
	}
	doc := a.Render(title, sections)

	if _, err := enter(domain.StageExport); err != nil {
		return "", err
	}
	return SaveDocx(a.root, storage.KindArtifacts, owner, artifact, doc)
}

// SaveDocx atomically writes a document under the storage root and returns
// its absolute path.
func SaveDocx(root *storage.Root, kind, owner, artifact string, w *docx.Writer) (string, error) {
	path, err := root.Path(kind, owner, artifact, "docx")
	if err != nil {
		return "", err
	}
	err = storage.WriteAtomic(path, func(out io.Writer) error {
		_, err := w.WriteTo(out)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
