package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
	"github.com/sha1n/mcp-tender-kb/internal/similarity"
)

// CompareArgument defines document comparison parameters.
type CompareArgument struct {
	FileA string `json:"file_a" jsonschema:"Id of the uploaded document checked for duplicated content"`
	FileB string `json:"file_b" jsonschema:"Id of the uploaded reference document"`
}

// CompareHandler handles the compare_documents tool.
type CompareHandler struct {
	service *kb.Service
	engine  *similarity.Lazy
	responder
}

// NewCompareHandler creates a new comparison handler.
func NewCompareHandler(service *kb.Service, engine *similarity.Lazy, production bool) *CompareHandler {
	return &CompareHandler{service: service, engine: engine, responder: responder{production: production}}
}

// Handle reports the windows of document A that are near-duplicates of
// windows of document B.
func (h *CompareHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args CompareArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.FileA) == "" || strings.TrimSpace(args.FileB) == "" {
		return errorResult("file_a and file_b are required"), nil, nil
	}
	a, err := h.text(ctx, args.FileA)
	if err != nil {
		return h.failure(ctx, "compare_documents", "Failed to read file_a", err), nil, nil
	}
	b, err := h.text(ctx, args.FileB)
	if err != nil {
		return h.failure(ctx, "compare_documents", "Failed to read file_b", err), nil, nil
	}

	result, err := h.engine.Engine().Compare(ctx, a, b)
	if err != nil {
		return h.failure(ctx, "compare_documents", "Comparison failed", err), nil, nil
	}
	return h.jsonResult(ctx, "compare_documents", result), nil, nil
}

func (h *CompareHandler) text(ctx context.Context, fileID string) (string, error) {
	_, path, err := h.service.FilePath(ctx, strings.TrimSpace(fileID))
	if err != nil {
		return "", err
	}
	src, err := docx.LoadParagraphs(path)
	if err != nil {
		return "", err
	}
	return src.Text(), nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *CompareHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "compare_documents",
		Description: "Detect content of one uploaded document duplicated in another",
	}
}

// RegisterSimilarityTool registers the document comparison tool.
func RegisterSimilarityTool(server *mcp.Server, cfg ServerConfig) {
	handler := NewCompareHandler(cfg.KB, cfg.Similarity, cfg.Production)
	mcp.AddTool(server, handler.GetToolDefinition(), instrument(cfg.Metrics, "compare_documents", handler.Handle))
}
