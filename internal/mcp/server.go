package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/jobs"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
	"github.com/sha1n/mcp-tender-kb/internal/metrics"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/similarity"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	KB         *kb.Service
	Jobs       *jobs.Runner
	Assembler  *report.Assembler
	Extractor  *extract.Extractor
	Similarity *similarity.Lazy
	Metrics    *metrics.Metrics

	// Production hides internal error details from tool results.
	Production        bool
	IngestConcurrency int
}

// CreateServer creates and configures the MCP server. Tool groups whose
// services are not configured are left out.
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.KB != nil {
		RegisterKBTools(s, cfg)
		RegisterSearchTools(s, cfg)
		RegisterReportTools(s, cfg)
		if cfg.Similarity != nil {
			RegisterSimilarityTool(s, cfg)
		}
	}
	if cfg.Jobs != nil {
		RegisterJobTools(s, cfg)
	}

	return s
}
