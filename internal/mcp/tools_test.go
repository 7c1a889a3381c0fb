package mcp

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
)

func upload(t *testing.T, cfg ServerConfig, name, content string) string {
	t.Helper()
	h := NewUploadHandler(cfg.KB, false)
	res, _, err := h.Handle(context.Background(), &mcp.CallToolRequest{}, UploadArgument{Filename: name, ContentBase64: encode(content)})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	var f domain.StoredFile
	decodeResult(t, res, &f)
	return f.ID
}

func TestUploadHandler_Invalid(t *testing.T) {
	cfg := newTestConfig(t)
	h := NewUploadHandler(cfg.KB, false)

	tests := []struct {
		name    string
		args    UploadArgument
		wantMsg string
	}{
		{"empty filename", UploadArgument{Filename: " ", ContentBase64: encode("x")}, "Filename cannot be empty"},
		{"bad base64", UploadArgument{Filename: "a.txt", ContentBase64: "%%%"}, "Invalid base64"},
		{"unsupported extension", UploadArgument{Filename: "a.pdf", ContentBase64: encode("x")}, "unsupported format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := h.Handle(context.Background(), &mcp.CallToolRequest{}, tt.args)
			if err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			if !res.IsError {
				t.Fatal("Expected error result")
			}
			if !strings.Contains(extractTextContent(res), tt.wantMsg) {
				t.Errorf("Expected %q in %q", tt.wantMsg, extractTextContent(res))
			}
		})
	}
}

func TestIngestHandler(t *testing.T) {
	cfg := newTestConfig(t)
	fileID := upload(t, cfg, "招标文件.txt", tenderText)

	h := NewIngestHandler(cfg.KB, false)
	res, _, err := h.Handle(context.Background(), &mcp.CallToolRequest{}, IngestArgument{FileID: fileID, Tag: " tender "})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	var summary ingestSummary
	decodeResult(t, res, &summary)

	if summary.Title != "招标文件.txt" {
		t.Errorf("Expected title from file name, got %q", summary.Title)
	}
	if len(summary.Blocks) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(summary.Blocks))
	}
	if summary.Blocks[1].SectionPath != "总则 / 术语" {
		t.Errorf("Unexpected section path %q", summary.Blocks[1].SectionPath)
	}

	res, _, _ = NewIngestHandler(cfg.KB, false).Handle(context.Background(), &mcp.CallToolRequest{}, IngestArgument{FileID: "missing"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "not found") {
		t.Errorf("Expected not found error, got %q", extractTextContent(res))
	}
}

func TestChunkHandler_EmptyDocument(t *testing.T) {
	cfg := newTestConfig(t)
	h := NewChunkHandler(cfg.KB, false)

	res, _, err := h.Handle(context.Background(), &mcp.CallToolRequest{}, ChunkArgument{Title: "空", Text: "\n \n"})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !res.IsError || !strings.Contains(extractTextContent(res), "empty document") {
		t.Errorf("Expected empty document error, got %q", extractTextContent(res))
	}
}

func TestSearchHandler(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()
	chunk := NewChunkHandler(cfg.KB, false)
	if res, _, _ := chunk.Handle(ctx, &mcp.CallToolRequest{}, ChunkArgument{Title: "招标文件", Text: tenderText}); res.IsError {
		t.Fatalf("Chunk failed: %s", extractTextContent(res))
	}

	h := NewSearchHandler(cfg.KB, false)

	res, _, _ := h.Handle(ctx, &mcp.CallToolRequest{}, retrieval.RawSearchParams{Page: "abc"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "invalid argument") {
		t.Errorf("Expected invalid argument error, got %q", extractTextContent(res))
	}

	res, _, _ = h.Handle(ctx, &mcp.CallToolRequest{}, retrieval.RawSearchParams{Query: "术语", TitleKeywords: []any{"术语"}})
	var page domain.SearchPage
	decodeResult(t, res, &page)
	if page.Total != 1 || page.Items[0].SectionTitle != "术语" {
		t.Errorf("Unexpected search page: %+v", page)
	}

	if got := testutil.ToFloat64(cfg.Metrics.SearchResultsTotal); got != 1 {
		t.Errorf("Expected 1 search result recorded, got %v", got)
	}
}

func TestKBManagementHandlers(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()

	res, _, _ := NewChunkHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, ChunkArgument{Title: "招标文件", Text: tenderText})
	var summary ingestSummary
	decodeResult(t, res, &summary)

	res, _, _ = NewTagBlocksHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, TagBlocksArgument{
		BlockIDs: []string{summary.Blocks[2].ID},
		Tag:      "svc",
	})
	if res.IsError || extractTextContent(res) != "Updated 1 blocks" {
		t.Errorf("Unexpected tag result %q", extractTextContent(res))
	}

	res, _, _ = NewTagBlocksHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, TagBlocksArgument{})
	if !res.IsError {
		t.Error("Expected error when tagging without block ids")
	}

	res, _, _ = NewListDocsHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, ListDocsArgument{})
	var docs struct {
		Total int64             `json:"total"`
		Items []domain.Document `json:"items"`
	}
	decodeResult(t, res, &docs)
	if docs.Total != 1 || docs.Items[0].BlockCount != 3 {
		t.Errorf("Unexpected listing: %+v", docs)
	}

	res, _, _ = NewDeleteDocHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, DeleteDocArgument{DocID: summary.DocID})
	if res.IsError || !strings.Contains(extractTextContent(res), "3 blocks") {
		t.Errorf("Unexpected delete result %q", extractTextContent(res))
	}

	res, _, _ = NewDeleteDocHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, DeleteDocArgument{DocID: summary.DocID})
	if !res.IsError || !strings.Contains(extractTextContent(res), "not found") {
		t.Errorf("Expected not found on second delete, got %q", extractTextContent(res))
	}
}

func TestBulkIngestHandler(t *testing.T) {
	cfg := newTestConfig(t)
	dir, err := cfg.KB.Root().Contain("imports")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/a.txt", []byte(tenderText), 0644); err != nil {
		t.Fatal(err)
	}

	h := NewBulkIngestHandler(cfg.KB, 0, false)
	res, _, _ := h.Handle(context.Background(), &mcp.CallToolRequest{}, BulkIngestArgument{Dir: "imports"})
	var items []struct {
		DocID string `json:"doc_id"`
		Error string `json:"error"`
	}
	decodeResult(t, res, &items)
	if len(items) != 1 || items[0].DocID == "" || items[0].Error != "" {
		t.Errorf("Unexpected bulk result: %+v", items)
	}

	res, _, _ = h.Handle(context.Background(), &mcp.CallToolRequest{}, BulkIngestArgument{Dir: "../outside"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "forbidden") {
		t.Errorf("Expected forbidden error, got %q", extractTextContent(res))
	}
}

func TestEvidenceHandler(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()
	NewChunkHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, ChunkArgument{Title: "投标文件", Text: tenderText})

	h := NewEvidenceHandler(cfg.KB, false)
	res, _, _ := h.Handle(ctx, &mcp.CallToolRequest{}, EvidenceArgument{})
	if !res.IsError {
		t.Error("Expected error for empty score_major")
	}

	res, _, _ = h.Handle(ctx, &mcp.CallToolRequest{}, EvidenceArgument{ScoreMajor: "售后服务（10分）", TopN: 1})
	var hits []domain.EvidenceHit
	decodeResult(t, res, &hits)
	if len(hits) != 1 || hits[0].SectionTitle != "售后服务" {
		t.Errorf("Unexpected hits: %+v", hits)
	}
}

func TestExportHandler(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()
	NewChunkHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, ChunkArgument{Title: "招标文件", Text: tenderText})

	h := NewExportHandler(cfg.KB, false)
	res, _, _ := h.Handle(ctx, &mcp.CallToolRequest{}, ExportArgument{})
	if !res.IsError {
		t.Error("Expected error for empty query")
	}

	res, _, _ = h.Handle(ctx, &mcp.CallToolRequest{}, ExportArgument{Query: "项目"})
	var out exportResult
	decodeResult(t, res, &out)
	if out.Count != 1 {
		t.Errorf("Expected 1 exported block, got %d", out.Count)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("Export file missing: %v", err)
	}
}

func TestExtractHandler(t *testing.T) {
	cfg := newTestConfig(t)
	fileID := upload(t, cfg, "招标文件.txt", tenderText)

	h := NewExtractHandler(cfg.KB, cfg.Extractor, false)
	res, _, _ := h.Handle(context.Background(), &mcp.CallToolRequest{}, ExtractArgument{FileID: fileID})
	var out extractResult
	decodeResult(t, res, &out)

	found := false
	for _, row := range out.Rows {
		if row.Item == "基本信息汇总" {
			found = true
			if !strings.Contains(row.Value, "【项目名称】 智慧客服平台  -- Page:1 (line:2)") {
				t.Errorf("Unexpected basic info %q", row.Value)
			}
		}
	}
	if !found {
		t.Errorf("Expected basic info row, got %+v", out.Rows)
	}
	if out.Tier != "plain-text" {
		t.Errorf("Expected plain-text tier, got %q", out.Tier)
	}
	if len(out.Aggregated) == 0 {
		t.Error("Expected aggregated requirements")
	}
}

func TestAssembleHandler(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()
	h := NewAssembleHandler(cfg.Assembler, false)

	res, _, _ := h.Handle(ctx, &mcp.CallToolRequest{}, AssembleArgument{TemplateID: "svc", Version: "v1"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "no evidence for section") {
		t.Errorf("Expected missing evidence error, got %q", extractTextContent(res))
	}

	res, _, _ = h.Handle(ctx, &mcp.CallToolRequest{}, AssembleArgument{TemplateID: "unknown", Version: "v1"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "template not found") {
		t.Errorf("Expected template not found, got %q", extractTextContent(res))
	}

	NewChunkHandler(cfg.KB, false).Handle(ctx, &mcp.CallToolRequest{}, ChunkArgument{Title: "方案", Text: tenderText, Tag: "svc"})
	res, _, _ = h.Handle(ctx, &mcp.CallToolRequest{}, AssembleArgument{TemplateID: "svc", Version: "v1"})
	var out assembleResult
	decodeResult(t, res, &out)
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("Report file missing: %v", err)
	}
}

func TestJobHandlers(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()
	fileID := upload(t, cfg, "招标文件.txt", tenderText)

	res, _, _ := NewJobCreateHandler(cfg.Jobs, false).Handle(ctx, &mcp.CallToolRequest{}, JobCreateArgument{Kind: "extract"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "file_id") {
		t.Errorf("Expected validation error, got %q", extractTextContent(res))
	}

	res, _, _ = NewJobCreateHandler(cfg.Jobs, false).Handle(ctx, &mcp.CallToolRequest{}, JobCreateArgument{Kind: "Extract", FileID: fileID})
	var job domain.Job
	decodeResult(t, res, &job)
	cfg.Jobs.Wait()

	res, _, _ = NewJobStatusHandler(cfg.Jobs, false).Handle(ctx, &mcp.CallToolRequest{}, JobStatusArgument{JobID: job.ID})
	var status domain.Job
	decodeResult(t, res, &status)
	if status.Status != domain.JobSucceeded || status.Progress != 100 {
		t.Fatalf("Unexpected job state: %+v", status)
	}

	artifact := NewJobArtifactHandler(cfg.Jobs, false)
	res, _, _ = artifact.Handle(ctx, &mcp.CallToolRequest{}, JobArtifactArgument{JobID: job.ID, Kind: "XLSX"})
	if res.IsError {
		t.Fatalf("Unexpected error: %s", extractTextContent(res))
	}
	if _, err := os.Stat(extractTextContent(res)); err != nil {
		t.Errorf("Artifact missing: %v", err)
	}

	res, _, _ = artifact.Handle(ctx, &mcp.CallToolRequest{}, JobArtifactArgument{JobID: job.ID, Kind: "pdf"})
	if !res.IsError {
		t.Error("Expected error for unknown artifact kind")
	}
}

func TestJobArtifactHandler_NotFinished(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()
	fileID := upload(t, cfg, "招标文件.txt", tenderText)

	job, err := cfg.Jobs.Create(ctx, domain.JobPayload{Kind: domain.JobKindExtract, Extract: &domain.ExtractPayload{FileID: fileID}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	res, _, _ := NewJobArtifactHandler(cfg.Jobs, false).Handle(ctx, &mcp.CallToolRequest{}, JobArtifactArgument{JobID: job.ID, Kind: "json"})
	if !res.IsError || !strings.Contains(extractTextContent(res), "conflict") {
		t.Errorf("Expected conflict, got %q", extractTextContent(res))
	}
}

func TestCompareHandler(t *testing.T) {
	cfg := newTestConfig(t)
	text := strings.Repeat("投标人应当具备独立承担民事责任的能力并提供有效的营业执照副本。", 4)
	a := upload(t, cfg, "a.txt", text)
	b := upload(t, cfg, "b.txt", text)

	h := NewCompareHandler(cfg.KB, cfg.Similarity, false)
	res, _, _ := h.Handle(context.Background(), &mcp.CallToolRequest{}, CompareArgument{FileA: a, FileB: b})
	var out struct {
		OverallSimilarity float64 `json:"overall_similarity"`
		DuplicateCount    int     `json:"duplicate_count"`
		Embedder          string  `json:"embedder"`
	}
	decodeResult(t, res, &out)
	if out.OverallSimilarity != 1 || out.DuplicateCount != 1 || out.Embedder != "tfidf" {
		t.Errorf("Unexpected comparison: %+v", out)
	}

	res, _, _ = h.Handle(context.Background(), &mcp.CallToolRequest{}, CompareArgument{FileA: a})
	if !res.IsError {
		t.Error("Expected error when file_b is missing")
	}
}

func TestResponder_ProductionHidesInternalErrors(t *testing.T) {
	ctx := context.Background()
	internal := errors.New("disk I/O error at /var/lib/kb.db")

	res := responder{production: true}.failure(ctx, "kb_search", "Search failed", internal)
	if got := extractTextContent(res); got != "Search failed: internal error" {
		t.Errorf("Unexpected production message %q", got)
	}

	res = responder{production: false}.failure(ctx, "kb_search", "Search failed", internal)
	if !strings.Contains(extractTextContent(res), "/var/lib/kb.db") {
		t.Error("Expected full message outside production")
	}

	public := domain.Errorf(domain.ErrNotFound, "document d1")
	res = responder{production: true}.failure(ctx, "kb_delete_doc", "Delete failed", public)
	if !strings.Contains(extractTextContent(res), "document d1") {
		t.Error("Expected classified errors to be shown in production")
	}
}

func TestInstrument_RecordsOutcome(t *testing.T) {
	cfg := newTestConfig(t)
	h := NewUploadHandler(cfg.KB, false)
	handler := instrument(cfg.Metrics, "upload_file", h.Handle)

	_, _, _ = handler(context.Background(), &mcp.CallToolRequest{}, UploadArgument{Filename: "a.txt", ContentBase64: encode("内容")})
	_, _, _ = handler(context.Background(), &mcp.CallToolRequest{}, UploadArgument{Filename: ""})

	if got := testutil.ToFloat64(cfg.Metrics.ToolCallsTotal.WithLabelValues("upload_file", "success")); got != 1 {
		t.Errorf("Expected 1 successful call, got %v", got)
	}
	if got := testutil.ToFloat64(cfg.Metrics.ToolCallsTotal.WithLabelValues("upload_file", "error")); got != 1 {
		t.Errorf("Expected 1 failed call, got %v", got)
	}
}
