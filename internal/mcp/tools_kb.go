package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/chunker"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
)

// UploadArgument defines upload parameters.
type UploadArgument struct {
	Filename      string `json:"filename" jsonschema:"Original file name; the extension must be txt or docx"`
	ContentBase64 string `json:"content_base64" jsonschema:"File content, base64 encoded"`
}

// UploadHandler handles the upload_file tool.
type UploadHandler struct {
	service *kb.Service
	responder
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(service *kb.Service, production bool) *UploadHandler {
	return &UploadHandler{service: service, responder: responder{production: production}}
}

// Handle stores the decoded file and returns its record.
func (h *UploadHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args UploadArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Filename) == "" {
		return errorResult("Filename cannot be empty"), nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(args.ContentBase64)
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid base64 content: %s", err)), nil, nil
	}

	f, err := h.service.Upload(ctx, args.Filename, bytes.NewReader(data))
	if err != nil {
		return h.failure(ctx, "upload_file", "Upload failed", err), nil, nil
	}
	return h.jsonResult(ctx, "upload_file", f), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *UploadHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "upload_file",
		Description: "Upload a tender document (.txt or .docx) and return its file id",
	}
}

// IngestArgument defines ingest parameters.
type IngestArgument struct {
	FileID string `json:"file_id" jsonschema:"Id of an uploaded file"`
	Title  string `json:"title,omitempty" jsonschema:"Document title; defaults to the file name"`
	Tag    string `json:"tag,omitempty" jsonschema:"Tag applied to every block of the document"`
}

// ingestSummary is the tool view of an ingestion.
type ingestSummary struct {
	DocID  string         `json:"doc_id"`
	Title  string         `json:"title"`
	Tier   string         `json:"tier,omitempty"`
	Blocks []blockSummary `json:"blocks"`
}

type blockSummary struct {
	ID          string `json:"id"`
	SectionPath string `json:"section_path"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
}

func summarizeIngest(res kb.IngestResult) ingestSummary {
	out := ingestSummary{
		DocID:  res.Document.ID,
		Title:  res.Document.Title,
		Tier:   res.Tier,
		Blocks: make([]blockSummary, len(res.Blocks)),
	}
	for i, b := range res.Blocks {
		out.Blocks[i] = blockSummary{ID: b.ID, SectionPath: b.SectionPath, StartIndex: b.StartIndex, EndIndex: b.EndIndex}
	}
	return out
}

// IngestHandler handles the kb_ingest tool.
type IngestHandler struct {
	service *kb.Service
	responder
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(service *kb.Service, production bool) *IngestHandler {
	return &IngestHandler{service: service, responder: responder{production: production}}
}

// Handle chunks an uploaded file into the knowledge base.
func (h *IngestHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args IngestArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.FileID) == "" {
		return errorResult("File id cannot be empty"), nil, nil
	}
	res, err := h.service.IngestFile(ctx, strings.TrimSpace(args.FileID), args.Title, optional(args.Tag))
	if err != nil {
		return h.failure(ctx, "kb_ingest", "Ingestion failed", err), nil, nil
	}
	return h.jsonResult(ctx, "kb_ingest", summarizeIngest(res)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *IngestHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_ingest",
		Description: "Split an uploaded document into heading-delimited blocks and store them in the knowledge base",
	}
}

// ChunkArgument defines chunk_and_store parameters.
type ChunkArgument struct {
	Title string `json:"title" jsonschema:"Document title"`
	Text  string `json:"text" jsonschema:"Document text; one paragraph per line"`
	Tag   string `json:"tag,omitempty" jsonschema:"Tag applied to every block of the document"`
}

// ChunkHandler handles the chunk_and_store tool.
type ChunkHandler struct {
	service *kb.Service
	responder
}

// NewChunkHandler creates a new chunk handler.
func NewChunkHandler(service *kb.Service, production bool) *ChunkHandler {
	return &ChunkHandler{service: service, responder: responder{production: production}}
}

// Handle chunks raw text into the knowledge base.
func (h *ChunkHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ChunkArgument) (*mcp.CallToolResult, any, error) {
	res, err := h.service.ChunkAndStore(ctx, kb.IngestRequest{
		Title:      args.Title,
		Tag:        optional(args.Tag),
		Paragraphs: chunker.FromText(args.Text),
	})
	if err != nil {
		return h.failure(ctx, "chunk_and_store", "Chunking failed", err), nil, nil
	}
	return h.jsonResult(ctx, "chunk_and_store", summarizeIngest(res)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ChunkHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "chunk_and_store",
		Description: "Split plain text into heading-delimited blocks and store them as a new document",
	}
}

// ListDocsArgument defines document listing parameters.
type ListDocsArgument struct {
	Page     int `json:"page,omitempty" jsonschema:"1-based page number"`
	PageSize int `json:"page_size,omitempty" jsonschema:"Items per page (1-100)"`
}

// ListDocsHandler handles the kb_list_docs tool.
type ListDocsHandler struct {
	service *kb.Service
	responder
}

// NewListDocsHandler creates a new listing handler.
func NewListDocsHandler(service *kb.Service, production bool) *ListDocsHandler {
	return &ListDocsHandler{service: service, responder: responder{production: production}}
}

// Handle returns one page of documents, newest first.
func (h *ListDocsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ListDocsArgument) (*mcp.CallToolResult, any, error) {
	page, err := h.service.ListDocuments(ctx, args.Page, args.PageSize)
	if err != nil {
		return h.failure(ctx, "kb_list_docs", "Listing failed", err), nil, nil
	}
	return h.jsonResult(ctx, "kb_list_docs", page), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ListDocsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_list_docs",
		Description: "List knowledge-base documents with their block counts",
	}
}

// DeleteDocArgument defines document deletion parameters.
type DeleteDocArgument struct {
	DocID string `json:"doc_id" jsonschema:"Document id"`
}

// DeleteDocHandler handles the kb_delete_doc tool.
type DeleteDocHandler struct {
	service *kb.Service
	responder
}

// NewDeleteDocHandler creates a new deletion handler.
func NewDeleteDocHandler(service *kb.Service, production bool) *DeleteDocHandler {
	return &DeleteDocHandler{service: service, responder: responder{production: production}}
}

// Handle removes a document with its blocks and rendered files.
func (h *DeleteDocHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args DeleteDocArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.DocID) == "" {
		return errorResult("Document id cannot be empty"), nil, nil
	}
	n, err := h.service.DeleteDocument(ctx, strings.TrimSpace(args.DocID))
	if err != nil {
		return h.failure(ctx, "kb_delete_doc", "Delete failed", err), nil, nil
	}
	return textResult(fmt.Sprintf("Deleted document %s with %d blocks", args.DocID, n)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *DeleteDocHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_delete_doc",
		Description: "Delete a knowledge-base document, its blocks and their rendered files",
	}
}

// TagBlocksArgument defines tagging parameters.
type TagBlocksArgument struct {
	BlockIDs []string `json:"block_ids" jsonschema:"Ids of the blocks to tag"`
	Tag      string   `json:"tag,omitempty" jsonschema:"New tag; empty clears the tag"`
}

// TagBlocksHandler handles the kb_tag_blocks tool.
type TagBlocksHandler struct {
	service *kb.Service
	responder
}

// NewTagBlocksHandler creates a new tagging handler.
func NewTagBlocksHandler(service *kb.Service, production bool) *TagBlocksHandler {
	return &TagBlocksHandler{service: service, responder: responder{production: production}}
}

// Handle sets or clears the tag of the given blocks.
func (h *TagBlocksHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args TagBlocksArgument) (*mcp.CallToolResult, any, error) {
	n, err := h.service.TagBlocks(ctx, args.BlockIDs, optional(args.Tag))
	if err != nil {
		return h.failure(ctx, "kb_tag_blocks", "Tagging failed", err), nil, nil
	}
	return textResult(fmt.Sprintf("Updated %d blocks", n)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *TagBlocksHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_tag_blocks",
		Description: "Set or clear the tag of knowledge-base blocks",
	}
}

// BulkIngestArgument defines bulk ingestion parameters.
type BulkIngestArgument struct {
	Dir         string `json:"dir" jsonschema:"Directory inside the storage root, relative to it"`
	Tag         string `json:"tag,omitempty" jsonschema:"Tag applied to every block"`
	Concurrency int    `json:"concurrency,omitempty" jsonschema:"Files ingested in parallel"`
}

// BulkIngestHandler handles the kb_bulk_ingest tool.
type BulkIngestHandler struct {
	service     *kb.Service
	concurrency int
	responder
}

// NewBulkIngestHandler creates a new bulk ingestion handler.
func NewBulkIngestHandler(service *kb.Service, concurrency int, production bool) *BulkIngestHandler {
	if concurrency <= 0 {
		concurrency = kb.DefaultBulkConcurrency
	}
	return &BulkIngestHandler{service: service, concurrency: concurrency, responder: responder{production: production}}
}

// Handle ingests every supported file of a directory under the storage root.
func (h *BulkIngestHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args BulkIngestArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Dir) == "" {
		return errorResult("Directory cannot be empty"), nil, nil
	}
	dir, err := h.service.Root().Contain(strings.TrimSpace(args.Dir))
	if err != nil {
		return h.failure(ctx, "kb_bulk_ingest", "Invalid directory", err), nil, nil
	}
	concurrency := args.Concurrency
	if concurrency <= 0 {
		concurrency = h.concurrency
	}

	items, err := h.service.BulkIngest(ctx, dir, optional(args.Tag), concurrency)
	if err != nil {
		return h.failure(ctx, "kb_bulk_ingest", "Bulk ingestion failed", err), nil, nil
	}
	return h.jsonResult(ctx, "kb_bulk_ingest", items), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *BulkIngestHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kb_bulk_ingest",
		Description: "Ingest every .txt and .docx file of a directory under the storage root",
	}
}

// RegisterKBTools registers the knowledge-base management tools.
func RegisterKBTools(server *mcp.Server, cfg ServerConfig) {
	upload := NewUploadHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, upload.GetToolDefinition(), instrument(cfg.Metrics, "upload_file", upload.Handle))

	ingest := NewIngestHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, ingest.GetToolDefinition(), instrument(cfg.Metrics, "kb_ingest", ingest.Handle))

	chunk := NewChunkHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, chunk.GetToolDefinition(), instrument(cfg.Metrics, "chunk_and_store", chunk.Handle))

	list := NewListDocsHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, list.GetToolDefinition(), instrument(cfg.Metrics, "kb_list_docs", list.Handle))

	del := NewDeleteDocHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, del.GetToolDefinition(), instrument(cfg.Metrics, "kb_delete_doc", del.Handle))

	tag := NewTagBlocksHandler(cfg.KB, cfg.Production)
	mcp.AddTool(server, tag.GetToolDefinition(), instrument(cfg.Metrics, "kb_tag_blocks", tag.Handle))

	bulk := NewBulkIngestHandler(cfg.KB, cfg.IngestConcurrency, cfg.Production)
	mcp.AddTool(server, bulk.GetToolDefinition(), instrument(cfg.Metrics, "kb_bulk_ingest", bulk.Handle))
}
