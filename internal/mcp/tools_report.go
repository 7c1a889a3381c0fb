package mcp

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
)

// ExtractArgument defines requirement extraction parameters.
type ExtractArgument struct {
	FileID string `json:"file_id" jsonschema:"Id of an uploaded tender document"`
}

type extractResult struct {
	FileID     string                         `json:"file_id"`
	Tier       string                         `json:"tier"`
	Rows       []domain.RequirementRow        `json:"rows"`
	Aggregated []domain.AggregatedRequirement `json:"aggregated"`
}

// ExtractHandler handles the extract_requirements tool.
type ExtractHandler struct {
	service   *kb.Service
	extractor *extract.Extractor
	responder
}

// NewExtractHandler creates a new extraction handler.
func NewExtractHandler(service *kb.Service, extractor *extract.Extractor, production bool) *ExtractHandler {
	if extractor == nil {
		extractor = extract.New(extract.DefaultLinesPerPage)
	}
	return &ExtractHandler{service: service, extractor: extractor, responder: responder{production: production}}
}

// Handle runs the rule extractor over an uploaded file.
func (h *ExtractHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ExtractArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.FileID) == "" {
		return errorResult("File id cannot be empty"), nil, nil
	}
	_, path, err := h.service.FilePath(ctx, strings.TrimSpace(args.FileID))
	if err != nil {
		return h.failure(ctx, "extract_requirements", "Extraction failed", err), nil, nil
	}
	src, err := docx.LoadParagraphs(path)
	if err != nil {
		return h.failure(ctx, "extract_requirements", "Extraction failed", err), nil, nil
	}

	result := h.extractor.Extract(src.Text())
	return h.jsonResult(ctx, "extract_requirements", extractResult{
		FileID:     args.FileID,
		Tier:       src.Tier,
		Rows:       result.Rows,
		Aggregated: extract.Aggregate(result.Rows),
	}), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ExtractHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "extract_requirements",
		Description: "Extract basic project facts and qualification requirements from an uploaded tender document",
	}
}

// AssembleArgument defines report assembly parameters.
type AssembleArgument struct {
	TemplateID string `json:"template_id" jsonschema:"Report template id"`
	Version    string `json:"version" jsonschema:"Report template version"`
}

type assembleResult struct {
	ReportID string `json:"report_id"`
	Path     string `json:"path"`
}

// AssembleHandler handles the report_assemble tool.
type AssembleHandler struct {
	assembler *report.Assembler
	responder
}

// NewAssembleHandler creates a new assembly handler.
func NewAssembleHandler(assembler *report.Assembler, production bool) *AssembleHandler {
	return &AssembleHandler{assembler: assembler, responder: responder{production: production}}
}

// Handle assembles a report synchronously. Sections without evidence fail the
// whole report and nothing is written.
func (h *AssembleHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args AssembleArgument) (*mcp.CallToolResult, any, error) {
	id := uuid.NewString()
	path, err := h.assembler.AssembleReport(ctx, args.TemplateID, args.Version, id, nil)
	if err != nil {
		return h.failure(ctx, "report_assemble", "Report assembly failed", err), nil, nil
	}
	return h.jsonResult(ctx, "report_assemble", assembleResult{ReportID: id, Path: path}), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *AssembleHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "report_assemble",
		Description: "Assemble a Word report from knowledge-base blocks following a section template",
	}
}

// ReviewArgument defines review index parameters.
type ReviewArgument struct {
	RequirementsPath  string `json:"requirements_path" jsonschema:"Extraction result.xlsx, relative to the storage root"`
	ScoreTemplatePath string `json:"score_template_path" jsonschema:"Score template .docx, relative to the storage root"`
	Tag               string `json:"tag,omitempty" jsonschema:"Restrict evidence to blocks with this tag"`
	TopN              int    `json:"top_n,omitempty" jsonschema:"Evidence hits per scoring row (1-10, default 3)"`
	ExcerptLen        int    `json:"excerpt_len,omitempty" jsonschema:"Excerpt length in characters (200-5000, default 800)"`
}

// ReviewHandler handles the review_index tool.
type ReviewHandler struct {
	service *kb.Service
	responder
}

// NewReviewHandler creates a new review index handler.
func NewReviewHandler(service *kb.Service, production bool) *ReviewHandler {
	return &ReviewHandler{service: service, responder: responder{production: production}}
}

// Handle builds a review index document.
func (h *ReviewHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReviewArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.RequirementsPath) == "" || strings.TrimSpace(args.ScoreTemplatePath) == "" {
		return errorResult("requirements_path and score_template_path are required"), nil, nil
	}
	path, err := h.service.GenerateReviewIndex(ctx, kb.ReviewRequest{
		RequirementsPath:  strings.TrimSpace(args.RequirementsPath),
		ScoreTemplatePath: strings.TrimSpace(args.ScoreTemplatePath),
		Evidence: retrieval.EvidenceOptions{
			Tag:        optional(args.Tag),
			TopN:       args.TopN,
			ExcerptLen: args.ExcerptLen,
		},
	}, extract.ReadXLSX)
	if err != nil {
		return h.failure(ctx, "review_index", "Review index failed", err), nil, nil
	}
	return textResult(path), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReviewHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "review_index",
		Description: "Build a review index that maps extracted requirements and scoring rows to knowledge-base evidence",
	}
}

// RegisterReportTools registers the extraction, report and review tools.
// Report assembly is only registered when an assembler is configured.
func RegisterReportTools(server *mcp.Server, cfg ServerConfig) {
	ext := NewExtractHandler(cfg.KB, cfg.Extractor, cfg.Production)
	mcp.AddTool(server, ext.GetToolDefinition(), instrument(cfg.Metrics, "extract_requirements", ext.Handle))

	review := NewReviewHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, review.GetToolDefinition(), instrument(cfg.Metrics, "review_index", review.Handle))

	if cfg.Assembler != nil {
		assemble := NewAssembleHandler(cfg.Assembler, cfg.Production)
		mcp.AddTool(server, assemble.GetToolDefinition(), instrument(cfg.Metrics, "report_assemble", assemble.Handle))
	}
}
