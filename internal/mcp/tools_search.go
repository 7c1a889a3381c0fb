package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
)

// SearchHandler handles the kb_search tool.
type SearchHandler struct {
	service *kb.Service
	responder
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *kb.Service, production bool) *SearchHandler {
	return &SearchHandler{service: service, responder: responder{production: production}}
}

// Handle validates the raw parameters and returns one page of scored blocks.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args retrieval.RawSearchParams) (*mcp.CallToolResult, any, error) {
	params, err := retrieval.ParseSearchParams(args)
	if err != nil {
		return h.failure(ctx, "kb_search", "Invalid search parameters", err), nil, nil
	}
	page, err := h.service.Search(ctx, params)
	if err != nil {
		return h.failure(ctx, "kb_search", "Search failed", err), nil, nil
	}
	return h.jsonResult(ctx, "kb_search", page), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_search",
		Description: "Search knowledge-base blocks by content substring and tag, ranked by title keyword and content relevance",
	}
}

// EvidenceArgument defines evidence retrieval parameters.
type EvidenceArgument struct {
	ScoreMajor        string `json:"score_major" jsonschema:"Major scoring category, e.g. 企业资质（10分）"`
	ScoreMinor        string `json:"score_minor,omitempty" jsonschema:"Minor scoring category"`
	ScoreRule         string `json:"score_rule,omitempty" jsonschema:"Scoring rule text"`
	EvidenceMaterials string `json:"evidence,omitempty" jsonschema:"Required evidence materials, one per line"`
	Tag               string `json:"tag,omitempty" jsonschema:"Restrict evidence to blocks with this tag"`
	TopN              int    `json:"top_n,omitempty" jsonschema:"Number of hits (1-10, default 3)"`
	ExcerptLen        int    `json:"excerpt_len,omitempty" jsonschema:"Excerpt length in characters (200-5000, default 800)"`
}

// EvidenceHandler handles the evidence_retrieve tool.
type EvidenceHandler struct {
	service *kb.Service
	responder
}

// NewEvidenceHandler creates a new evidence handler.
func NewEvidenceHandler(service *kb.Service, production bool) *EvidenceHandler {
	return &EvidenceHandler{service: service, responder: responder{production: production}}
}

// Handle returns the blocks that best support a scoring row.
func (h *EvidenceHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args EvidenceArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.ScoreMajor) == "" {
		return errorResult("score_major cannot be empty"), nil, nil
	}
	row := domain.TemplateRow{
		ScoreMajor:        args.ScoreMajor,
		ScoreMinor:        args.ScoreMinor,
		ScoreRule:         args.ScoreRule,
		EvidenceMaterials: args.EvidenceMaterials,
	}
	hits, err := h.service.RetrieveEvidence(ctx, row, retrieval.EvidenceOptions{
		Tag:        optional(args.Tag),
		TopN:       args.TopN,
		ExcerptLen: args.ExcerptLen,
	})
	if err != nil {
		return h.failure(ctx, "evidence_retrieve", "Evidence retrieval failed", err), nil, nil
	}
	return h.jsonResult(ctx, "evidence_retrieve", hits), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *EvidenceHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "evidence_retrieve",
		Description: "Find knowledge-base blocks that support a scoring rubric row",
	}
}

// ExportArgument defines search export parameters.
type ExportArgument struct {
	Query         string   `json:"query" jsonschema:"Substring that block content must contain"`
	Tag           string   `json:"tag,omitempty" jsonschema:"Exact block tag filter"`
	TitleKeywords []string `json:"title_keywords,omitempty" jsonschema:"Keywords that boost matching section titles"`
	TopK          int      `json:"top_k,omitempty" jsonschema:"Maximum number of exported blocks (default 50)"`
}

type exportResult struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// ExportHandler handles the kb_export tool.
type ExportHandler struct {
	service *kb.Service
	responder
}

// NewExportHandler creates a new export handler.
func NewExportHandler(service *kb.Service, production bool) *ExportHandler {
	return &ExportHandler{service: service, responder: responder{production: production}}
}

// Handle writes the matching blocks to a docx export.
func (h *ExportHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ExportArgument) (*mcp.CallToolResult, any, error) {
	if args.TopK < 0 {
		return errorResult("top_k cannot be negative"), nil, nil
	}
	path, n, err := h.service.ExportSearch(ctx, report.ExportParams{
		Query:         args.Query,
		Tag:           optional(args.Tag),
		TitleKeywords: args.TitleKeywords,
		TopK:          args.TopK,
	})
	if err != nil {
		return h.failure(ctx, "kb_export", "Export failed", err), nil, nil
	}
	return h.jsonResult(ctx, "kb_export", exportResult{Path: path, Count: n}), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ExportHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_export",
		Description: "Export the top search results to a Word document",
	}
}

// RegisterSearchTools registers the search, evidence and export tools.
func RegisterSearchTools(server *mcp.Server, cfg ServerConfig) {
	search := NewSearchHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, search.GetToolDefinition(), instrument(cfg.Metrics, "kb_search", search.Handle))

	evidence := NewEvidenceHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, evidence.GetToolDefinition(), instrument(cfg.Metrics, "evidence_retrieve", evidence.Handle))

	export := NewExportHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, export.GetToolDefinition(), instrument(cfg.Metrics, "kb_export", export.Handle))
}
