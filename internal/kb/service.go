// Package kb is the knowledge-base façade: it turns uploaded files into
// stored blocks and exposes search, evidence and export operations over them.
package kb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/mcp-tender-kb/internal/chunker"
	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/metrics"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
	"github.com/sha1n/mcp-tender-kb/internal/store"
)

// Indexer keeps the full-text index in step with the block store.
type Indexer interface {
	Add(blocks []domain.Block) error
	Delete(blockIDs []string) error
}

// Service coordinates the block store, the storage root and the full-text index.
type Service struct {
	store     *store.Store
	root      *storage.Root
	index     Indexer
	chunker   *chunker.Chunker
	retriever *retrieval.Retriever
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIndex enables full-text index maintenance.
func WithIndex(idx Indexer) Option {
	return func(s *Service) { s.index = idx }
}

// WithMetrics enables metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a knowledge-base service.
func NewService(st *store.Store, root *storage.Root, retriever *retrieval.Retriever, opts ...Option) (*Service, error) {
	if st == nil || root == nil || retriever == nil {
		return nil, fmt.Errorf("store, storage root and retriever are required")
	}
	s := &Service{
		store:     st,
		root:      root,
		chunker:   chunker.New(),
		retriever: retriever,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the storage root.
func (s *Service) Root() *storage.Root {
	return s.root
}

// Store returns the block store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Upload stores a source file under uploads/{file_id}/original.{ext}.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (domain.StoredFile, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if name == "" || name == "." || !domain.SupportedExtensions[ext] {
		return domain.StoredFile{}, domain.Errorf(domain.ErrUnsupportedFormat, "only txt/docx are supported, got %q", filename)
	}

	id := uuid.NewString()
	path, err := s.root.Path(storage.KindUploads, id, "original", ext)
	if err != nil {
		return domain.StoredFile{}, err
	}

	var size int64
	err = storage.WriteAtomic(path, func(w io.Writer) error {
		n, err := io.Copy(w, r)
		size = n
		return err
	})
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("failed to store upload: %w", err)
	}

	f := domain.StoredFile{
		ID:          id,
		Filename:    name,
		Ext:         ext,
		Size:        size,
		StoragePath: s.relative(path),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		_ = s.root.RemoveOwner(storage.KindUploads, id)
		return domain.StoredFile{}, err
	}
	slog.Info("Stored upload", "file_id", id, "filename", name, "size", size)
	return f, nil
}

// FilePath returns the absolute path of an uploaded file.
func (s *Service) FilePath(ctx context.Context, fileID string) (domain.StoredFile, string, error) {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return domain.StoredFile{}, "", err
	}
	path, err := s.root.Contain(f.StoragePath)
	if err != nil {
		return domain.StoredFile{}, "", err
	}
	return f, path, nil
}

// IngestRequest describes one document to chunk and store.
type IngestRequest struct {
	FileID     string
	Title      string
	Tag        *string
	Paragraphs []domain.Paragraph
}

// IngestResult summarizes a stored document.
type IngestResult struct {
	Document domain.Document `json:"document"`
	Blocks   []domain.Block  `json:"blocks"`
	Tier     string          `json:"tier,omitempty"`
}

// IngestFile reads an uploaded file and stores it as a document.
func (s *Service) IngestFile(ctx context.Context, fileID, title string, tag *string) (IngestResult, error) {
	f, path, err := s.FilePath(ctx, fileID)
	if err != nil {
		return IngestResult{}, err
	}
	if strings.TrimSpace(title) == "" {
		title = f.Filename
	}
	return s.ingestPath(ctx, fileID, path, title, tag)
}

// IngestPath reads a local file and stores it as a document without keeping
// a copy of the source.
func (s *Service) IngestPath(ctx context.Context, path, title string, tag *string) (IngestResult, error) {
	if strings.TrimSpace(title) == "" {
		title = filepath.Base(path)
	}
	return s.ingestPath(ctx, "", path, title, tag)
}

func (s *Service) ingestPath(ctx context.Context, fileID, path, title string, tag *string) (IngestResult, error) {
	src, err := docx.LoadParagraphs(path)
	if err != nil {
		s.metrics.RecordIngest(0, err)
		return IngestResult{}, err
	}
	res, err := s.ChunkAndStore(ctx, IngestRequest{FileID: fileID, Title: title, Tag: tag, Paragraphs: src.Paragraphs})
	res.Tier = src.Tier
	return res, err
}

// ChunkAndStore splits paragraphs into blocks, renders one sub-document per
// block and persists everything. Either all of it is kept or none of it.
func (s *Service) ChunkAndStore(ctx context.Context, req IngestRequest) (res IngestResult, err error) {
	defer func() { s.metrics.RecordIngest(len(res.Blocks), err) }()

	drafts, err := s.chunker.Chunk(req.Paragraphs)
	if err != nil {
		return IngestResult{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled"
	}
	var tag *string
	if req.Tag != nil && strings.TrimSpace(*req.Tag) != "" {
		t := strings.TrimSpace(*req.Tag)
		tag = &t
	}

	now := s.now().UTC()
	doc := domain.Document{ID: uuid.NewString(), FileID: req.FileID, Title: title, CreatedAt: now}

	cleanup := func() {
		if err := s.root.RemoveOwner(storage.KindBlocks, doc.ID); err != nil {
			slog.Error("Failed to remove rendered blocks", "doc_id", doc.ID, "error", err)
		}
	}

	blocks := make([]domain.Block, 0, len(drafts))
	for _, d := range drafts {
		b := domain.Block{
			ID:           uuid.NewString(),
			DocID:        doc.ID,
			Tag:          tag,
			SectionTitle: d.SectionTitle,
			SectionPath:  d.SectionPath,
			ContentText:  d.Content(),
			StartIndex:   d.StartIndex,
			EndIndex:     d.EndIndex,
			CreatedAt:    now,
			DocTitle:     title,
		}
		path, err := report.SaveDocx(s.root, storage.KindBlocks, doc.ID, b.ID, renderBlock(d))
		if err != nil {
			cleanup()
			return IngestResult{}, fmt.Errorf("failed to render block: %w", err)
		}
		b.RenderedPath = s.relative(path)
		blocks = append(blocks, b)
	}

	indexed := false
	err = s.store.CreateDocument(ctx, doc, blocks, func() error {
		if s.index == nil {
			return nil
		}
		if err := s.index.Add(blocks); err != nil {
			return fmt.Errorf("failed to index blocks: %w", err)
		}
		indexed = true
		return nil
	})
	if err != nil {
		cleanup()
		if indexed {
			if derr := s.index.Delete(blockIDs(blocks)); derr != nil {
				slog.Error("Failed to remove blocks from index", "doc_id", doc.ID, "error", derr)
			}
		}
		return IngestResult{}, err
	}

	doc.BlockCount = len(blocks)
	slog.Info("Stored document", "doc_id", doc.ID, "title", title, "blocks", len(blocks))
	return IngestResult{Document: doc, Blocks: blocks}, nil
}

// renderBlock builds the sub-document of one block: its heading followed by
// the content paragraphs.
func renderBlock(d domain.BlockDraft) *docx.Writer {
	w := docx.NewWriter()
	heading := d.Heading
	if heading == "" {
		heading = d.SectionTitle
	}
	w.Heading(heading, 1)
	for _, line := range d.Lines {
		w.Paragraph(line)
	}
	return w
}

// DeleteDocument removes a document, its blocks, their rendered files and
// their index entries.
func (s *Service) DeleteDocument(ctx context.Context, docID string) (int, error) {
	blocks, err := s.store.DeleteDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if s.index != nil {
		if err := s.index.Delete(blockIDs(blocks)); err != nil {
			slog.Error("Failed to remove blocks from index", "doc_id", docID, "error", err)
		}
	}
	if err := s.root.RemoveOwner(storage.KindBlocks, docID); err != nil {
		slog.Error("Failed to remove rendered blocks", "doc_id", docID, "error", err)
	}
	s.metrics.RecordDelete()
	slog.Info("Deleted document", "doc_id", docID, "blocks", len(blocks))
	return len(blocks), nil
}

// DocumentPage is one page of the document listing.
type DocumentPage struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int64             `json:"total"`
	Items    []domain.Document `json:"items"`
}

// ListDocuments returns documents newest first.
func (s *Service) ListDocuments(ctx context.Context, page, pageSize int) (DocumentPage, error) {
	page = max(page, 1)
	if pageSize <= 0 {
		pageSize = retrieval.DefaultPageSize
	}
	pageSize = min(pageSize, retrieval.MaxPageSize)

	docs, total, err := s.store.ListDocuments(ctx, page, pageSize)
	if err != nil {
		return DocumentPage{}, err
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return DocumentPage{Page: page, PageSize: pageSize, Total: total, Items: docs}, nil
}

// TagBlocks sets or clears the tag of blocks and refreshes their index entries.
func (s *Service) TagBlocks(ctx context.Context, ids []string, tag *string) (int64, error) {
	ids = nonEmpty(ids)
	if len(ids) == 0 {
		return 0, domain.Errorf(domain.ErrInvalidArgument, "block_ids is required")
	}
	if tag != nil {
		t := strings.TrimSpace(*tag)
		if t == "" {
			tag = nil
		} else {
			tag = &t
		}
	}

	n, err := s.store.SetTag(ctx, ids, tag)
	if err != nil {
		return 0, err
	}
	if s.index != nil && n > 0 {
		blocks, err := s.store.FindBlocks(ctx, store.BlockQuery{IDs: ids})
		if err != nil {
			return n, err
		}
		if err := s.index.Add(blocks); err != nil {
			slog.Error("Failed to reindex tagged blocks", "error", err)
		}
	}
	return n, nil
}

// Search runs a paginated block search.
func (s *Service) Search(ctx context.Context, p retrieval.SearchParams) (domain.SearchPage, error) {
	page, err := s.retriever.Search(ctx, p)
	if err != nil {
		return domain.SearchPage{}, err
	}
	s.metrics.RecordSearch(len(page.Items))
	return page, nil
}

// RetrieveEvidence returns evidence hits for a template row.
func (s *Service) RetrieveEvidence(ctx context.Context, row domain.TemplateRow, opts retrieval.EvidenceOptions) ([]domain.EvidenceHit, error) {
	return s.retriever.RetrieveEvidence(ctx, row, opts)
}

// ExportSearch writes search results to exports/{export_id}/kb_export.docx.
func (s *Service) ExportSearch(ctx context.Context, p report.ExportParams) (string, int, error) {
	if p.TopK <= 0 {
		p.TopK = report.DefaultExportTopK
	}
	items, err := report.CollectExport(ctx, s, p)
	if err != nil {
		return "", 0, err
	}
	path, err := report.SaveDocx(s.root, storage.KindExports, uuid.NewString(), "kb_export", report.RenderExport(p, items))
	if err != nil {
		return "", 0, err
	}
	return path, len(items), nil
}

// ReviewRequest selects the inputs of a review index.
type ReviewRequest struct {
	RequirementsPath  string
	ScoreTemplatePath string
	Evidence          retrieval.EvidenceOptions
}

// GenerateReviewIndex combines extracted requirements, a score template and
// knowledge-base evidence into exports/{export_id}/review_index.docx. Both
// input paths must lie inside the storage root.
func (s *Service) GenerateReviewIndex(ctx context.Context, req ReviewRequest, readRequirements func(string) ([]domain.RequirementRow, error)) (string, error) {
	reqPath, err := s.root.Contain(req.RequirementsPath)
	if err != nil {
		return "", err
	}
	tplPath, err := s.root.Contain(req.ScoreTemplatePath)
	if err != nil {
		return "", err
	}
	for _, p := range []string{reqPath, tplPath} {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return "", domain.Errorf(domain.ErrNotFound, "file not found: %s", s.relative(p))
		}
	}

	requirements, err := readRequirements(reqPath)
	if err != nil {
		return "", err
	}
	rows, err := report.ParseScoreTemplate(tplPath)
	if err != nil {
		return "", err
	}

	w, err := report.BuildReviewIndex(ctx, s, report.ReviewInput{
		Requirements: requirements,
		ScoreRows:    rows,
		Evidence:     req.Evidence,
		GeneratedAt:  s.now(),
	})
	if err != nil {
		return "", err
	}
	return report.SaveDocx(s.root, storage.KindExports, uuid.NewString(), "review_index", w)
}

// relative returns path relative to the storage root, using forward slashes.
func (s *Service) relative(path string) string {
	rel, err := filepath.Rel(s.root.Dir(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func blockIDs(blocks []domain.Block) []string {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
