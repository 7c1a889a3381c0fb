package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/metrics"
)

// responder formats tool outcomes. In production, unclassified errors are
// reported without their internal details.
type responder struct {
	production bool
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// failure logs err and returns it as a tool error prefixed with action.
func (r responder) failure(ctx context.Context, tool, action string, err error) *mcp.CallToolResult {
	if domain.Kind(err) == domain.ErrInternal {
		slog.ErrorContext(ctx, "Tool failed", "tool", tool, "error", err)
	} else {
		slog.DebugContext(ctx, "Tool rejected request", "tool", tool, "error", err)
	}
	return errorResult(action + ": " + domain.PublicMessage(err, r.production))
}

// jsonResult renders v as indented JSON text content.
func (r responder) jsonResult(ctx context.Context, tool string, v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return r.failure(ctx, tool, "Failed to encode result", err)
	}
	return textResult(string(data))
}

// optional returns a pointer to the trimmed value, or nil when it is blank.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// instrument records the duration and outcome of every call of a tool.
func instrument[In any](m *metrics.Metrics, tool string, h mcp.ToolHandlerFor[In, any]) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		res, out, err := h(ctx, req, args)
		m.RecordToolCall(tool, err != nil || (res != nil && res.IsError), time.Since(start))
		return res, out, err
	}
}
