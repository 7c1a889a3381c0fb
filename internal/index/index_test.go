package index

import (
	"context"
	"testing"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

func openTestIndex(t *testing.T) *BlockIndex {
	t.Helper()
	idx, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := idx.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return idx
}

func testBlocks() []domain.Block {
	return []domain.Block{
		{ID: "b1", DocID: "d1", SectionTitle: "售后服务", SectionPath: "售后服务", ContentText: "提供7x24小时售后服务热线"},
		{ID: "b2", DocID: "d1", SectionTitle: "资质证书", SectionPath: "资质证书", ContentText: "ISO9001 quality management certificate"},
		{ID: "b3", DocID: "d2", SectionTitle: "项目团队", SectionPath: "项目团队", ContentText: "项目经理具有高级职称"},
	}
}

func TestBlockIndex_AddAndRelevance(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Add(testBlocks()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 docs, got %d", count)
	}

	scores, err := idx.Relevance(context.Background(), "售后服务", nil, []string{"b1", "b2", "b3"})
	if err != nil {
		t.Fatalf("Relevance failed: %v", err)
	}
	if scores["b1"] <= 0 {
		t.Errorf("Expected b1 to be relevant, got %v", scores)
	}
	if _, ok := scores["b3"]; ok {
		t.Errorf("Did not expect b3 to match: %v", scores)
	}
}

func TestBlockIndex_RelevanceRestrictedToCandidates(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Add(testBlocks()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	scores, err := idx.Relevance(context.Background(), "certificate", []string{"资质"}, []string{"b1"})
	if err != nil {
		t.Fatalf("Relevance failed: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("Expected no scores outside the candidate set, got %v", scores)
	}

	scores, err = idx.Relevance(context.Background(), "", nil, []string{"b1"})
	if err != nil {
		t.Fatalf("Relevance failed: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("Expected empty query to score nothing, got %v", scores)
	}
}

func TestBlockIndex_Delete(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Add(testBlocks()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := idx.Delete([]string{"b1", "b2"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 doc after delete, got %d", count)
	}
}

func TestBlockIndex_Reopen(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := idx.Add(testBlocks()[:1]); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	count, err := reopened.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected persisted doc, got %d", count)
	}
}
