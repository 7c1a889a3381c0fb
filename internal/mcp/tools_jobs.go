package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/jobs"
)

// JobCreateArgument defines job creation parameters. The fields used depend
// on the kind: extract jobs need file_id, report jobs template_id and version.
type JobCreateArgument struct {
	Kind       string `json:"kind" jsonschema:"Job kind: extract or report"`
	FileID     string `json:"file_id,omitempty" jsonschema:"Uploaded file to extract from (extract jobs)"`
	TemplateID string `json:"template_id,omitempty" jsonschema:"Report template id (report jobs)"`
	Version    string `json:"version,omitempty" jsonschema:"Report template version (report jobs)"`
}

// Payload converts the argument into a job payload.
func (a JobCreateArgument) Payload() domain.JobPayload {
	p := domain.JobPayload{Kind: domain.JobKind(strings.ToLower(strings.TrimSpace(a.Kind)))}
	switch p.Kind {
	case domain.JobKindExtract:
		p.Extract = &domain.ExtractPayload{FileID: strings.TrimSpace(a.FileID)}
	case domain.JobKindReport:
		p.Report = &domain.ReportPayload{
			TemplateID: strings.TrimSpace(a.TemplateID),
			Version:    strings.TrimSpace(a.Version),
		}
	}
	return p
}

// JobCreateHandler handles the job_create tool.
type JobCreateHandler struct {
	runner *jobs.Runner
	responder
}

// NewJobCreateHandler creates a new job creation handler.
func NewJobCreateHandler(runner *jobs.Runner, production bool) *JobCreateHandler {
	return &JobCreateHandler{runner: runner, responder: responder{production: production}}
}

// Handle persists and dispatches a job. The returned job may still be queued.
func (h *JobCreateHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args JobCreateArgument) (*mcp.CallToolResult, any, error) {
	job, err := h.runner.Submit(ctx, args.Payload())
	if err != nil {
		if job.ID != "" {
			return h.failure(ctx, "job_create", "Job "+job.ID+" was created but not dispatched", err), nil, nil
		}
		return h.failure(ctx, "job_create", "Job creation failed", err), nil, nil
	}
	return h.jsonResult(ctx, "job_create", job), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *JobCreateHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "job_create",
		Description: "Start a background extraction or report job and return its id",
	}
}

// JobStatusArgument defines job status parameters.
type JobStatusArgument struct {
	JobID string `json:"job_id" jsonschema:"Job id"`
}

// JobStatusHandler handles the job_status tool.
type JobStatusHandler struct {
	runner *jobs.Runner
	responder
}

// NewJobStatusHandler creates a new job status handler.
func NewJobStatusHandler(runner *jobs.Runner, production bool) *JobStatusHandler {
	return &JobStatusHandler{runner: runner, responder: responder{production: production}}
}

// Handle returns the status, stage and progress of a job.
func (h *JobStatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args JobStatusArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.JobID) == "" {
		return errorResult("Job id cannot be empty"), nil, nil
	}
	job, err := h.runner.Status(ctx, strings.TrimSpace(args.JobID))
	if err != nil {
		return h.failure(ctx, "job_status", "Status lookup failed", err), nil, nil
	}
	return h.jsonResult(ctx, "job_status", job), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *JobStatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "job_status",
		Description: "Get the status, stage and progress of a background job",
	}
}

// JobArtifactArgument defines artifact lookup parameters.
type JobArtifactArgument struct {
	JobID string `json:"job_id" jsonschema:"Job id"`
	Kind  string `json:"kind" jsonschema:"Artifact kind: json, xlsx or docx"`
}

// JobArtifactHandler handles the job_artifact tool.
type JobArtifactHandler struct {
	runner *jobs.Runner
	responder
}

// NewJobArtifactHandler creates a new artifact handler.
func NewJobArtifactHandler(runner *jobs.Runner, production bool) *JobArtifactHandler {
	return &JobArtifactHandler{runner: runner, responder: responder{production: production}}
}

// Handle returns the path of a finished job's artifact.
func (h *JobArtifactHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args JobArtifactArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.JobID) == "" {
		return errorResult("Job id cannot be empty"), nil, nil
	}
	path, err := h.runner.Artifact(ctx, strings.TrimSpace(args.JobID), strings.ToLower(strings.TrimSpace(args.Kind)))
	if err != nil {
		return h.failure(ctx, "job_artifact", "Artifact lookup failed", err), nil, nil
	}
	return textResult(path), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *JobArtifactHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "job_artifact",
		Description: "Get the file path of an artifact produced by a succeeded job",
	}
}

// RegisterJobTools registers the background job tools.
func RegisterJobTools(server *mcp.Server, cfg ServerConfig) {
	create := NewJobCreateHandler(cfg.Jobs, cfg.Production)
	mcp.AddTool(server, create.GetToolDefinition(), instrument(cfg.Metrics, "job_create", create.Handle))

	status := NewJobStatusHandler(cfg.Jobs, cfg.Production)
	mcp.AddTool(server, status.GetToolDefinition(), instrument(cfg.Metrics, "job_status", status.Handle))

	artifact := NewJobArtifactHandler(cfg.Jobs, cfg.Production)
	mcp.AddTool(server, artifact.GetToolDefinition(), instrument(cfg.Metrics, "job_artifact", artifact.Handle))
}
