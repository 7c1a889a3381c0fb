package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/jobs"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
	"github.com/sha1n/mcp-tender-kb/internal/metrics"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
	"github.com/sha1n/mcp-tender-kb/internal/similarity"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
	"github.com/sha1n/mcp-tender-kb/internal/store"
)

const tenderText = "第一章 总则\n项目名称：智慧客服平台\n项目编号：ZB-2024-001\n1.1 术语\n术语说明\n第二章 售后服务\n提供7x24小时热线支持。\n"

// newTestConfig wires every service on a temporary storage root.
func newTestConfig(t *testing.T) ServerConfig {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "kb.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	root, err := storage.NewRoot(filepath.Join(dir, "storage"))
	if err != nil {
		t.Fatalf("NewRoot failed: %v", err)
	}
	retriever, err := retrieval.NewRetriever(st, nil, retrieval.DefaultConfig())
	if err != nil {
		t.Fatalf("NewRetriever failed: %v", err)
	}
	m := metrics.New()
	svc, err := kb.NewService(st, root, retriever, kb.WithMetrics(m))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	tplDir := filepath.Join(dir, "templates")
	if err := os.MkdirAll(tplDir, 0755); err != nil {
		t.Fatal(err)
	}
	tpl := "title: 服务方案\nsections:\n  - title: 售后\n    pick:\n      by_tag: [svc]\n"
	if err := os.WriteFile(filepath.Join(tplDir, "svc_v1.yaml"), []byte(tpl), 0644); err != nil {
		t.Fatal(err)
	}

	assembler := report.NewAssembler(report.NewRegistry(tplDir), svc, root)
	extractor := extract.New(extract.DefaultLinesPerPage)
	runner, err := jobs.NewRunner(jobs.Config{
		Store:     st,
		Root:      root,
		Files:     svc,
		Extractor: extractor,
		Assembler: assembler,
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	t.Cleanup(runner.Wait)

	return ServerConfig{
		Name:       "test-server",
		Version:    "1.0.0",
		KB:         svc,
		Jobs:       runner,
		Assembler:  assembler,
		Extractor:  extractor,
		Similarity: similarity.NewLazy(func() *similarity.Engine { return similarity.NewEngine(nil, similarity.Options{}) }),
		Metrics:    m,
	}
}

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", extractTextContent(result))
	}
	if err := json.Unmarshal([]byte(extractTextContent(result)), v); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
}

func TestCreateServer(t *testing.T) {
	server := CreateServer(ServerConfig{Name: "test-server", Version: "1.0.0"})
	if server == nil {
		t.Fatal("Expected server to be created")
	}
}

func TestCreateServer_EmptyConfig(t *testing.T) {
	server := CreateServer(ServerConfig{})
	if server == nil {
		t.Fatal("Expected server to be created even with empty config")
	}
}

func TestCreateServer_WithoutServicesHasNoTools(t *testing.T) {
	cs := connect(t, CreateServer(ServerConfig{Name: "test-server", Version: "1.0.0"}))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(res.Tools) != 0 {
		t.Errorf("Expected no tools, got %d", len(res.Tools))
	}
}

func TestCreateServer_ToolsRegistered(t *testing.T) {
	cs := connect(t, CreateServer(newTestConfig(t)))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	want := []string{
		"chunk_and_store", "compare_documents", "evidence_retrieve", "extract_requirements",
		"job_artifact", "job_create", "job_status", "kb_bulk_ingest", "kb_delete_doc",
		"kb_export", "kb_ingest", "kb_list_docs", "kb_search", "kb_tag_blocks",
		"report_assemble", "review_index", "upload_file",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Registered tools = %v, want %v", names, want)
	}
}

func TestCreateServer_CallToolOverProtocol(t *testing.T) {
	cfg := newTestConfig(t)
	cs := connect(t, CreateServer(cfg))
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "chunk_and_store",
		Arguments: map[string]any{"title": "招标文件", "text": tenderText},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("Unexpected error: %s", extractTextContent(res))
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "kb_search",
		Arguments: map[string]any{"query": "热线", "page_size": "5"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	var page struct {
		Total    int `json:"total"`
		PageSize int `json:"page_size"`
	}
	decodeResult(t, res, &page)
	if page.Total != 1 || page.PageSize != 5 {
		t.Errorf("Unexpected page: %+v", page)
	}
}
