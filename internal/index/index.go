package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

const (
	// IndexDirName is the index directory under the index base directory.
	IndexDirName = "blocks.bleve"

	// MaxBatchSize is the maximum number of blocks per batch
	MaxBatchSize = 100

	// MaxBatchBytes is the maximum content bytes per batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024
)

// BlockIndex is a full-text index over block titles and content. It is an
// auxiliary relevance signal; the relational store stays the source of truth.
type BlockIndex struct {
	index bleve.Index
	mu    sync.RWMutex
}

type blockDocument struct {
	DocID        string `json:"doc_id"`
	Tag          string `json:"tag"`
	SectionTitle string `json:"section_title"`
	SectionPath  string `json:"section_path"`
	Content      string `json:"content"`
}

// CreateIndexMapping creates the Bleve index mapping for blocks.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content and titles are analyzed with CJK bigrams so Chinese text is searchable.
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = cjk.AnalyzerName
	contentField.Store = false
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(domain.BlockFieldContent, contentField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = cjk.AnalyzerName
	titleField.Store = true
	docMapping.AddFieldMappingsAt(domain.BlockFieldSectionTitle, titleField)

	for _, name := range []string{domain.BlockFieldDocID, domain.BlockFieldTag, domain.BlockFieldSectionPath} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = cjk.AnalyzerName
	return indexMapping
}

// Open opens the index under baseDir, creating it if it does not exist.
func Open(baseDir string) (*BlockIndex, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	path := filepath.Join(baseDir, IndexDirName)

	idx, err := bleve.Open(path)
	if err == nil {
		return &BlockIndex{index: idx}, nil
	}

	idx, err = bleve.New(path, CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &BlockIndex{index: idx}, nil
}

// Close releases the index.
func (b *BlockIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}

// Add indexes blocks in size-bounded batches.
func (b *BlockIndex) Add(blocks []domain.Block) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	batchBytes := 0
	for _, blk := range blocks {
		doc := blockDocument{
			DocID:        blk.DocID,
			Tag:          blk.TagValue(),
			SectionTitle: blk.SectionTitle,
			SectionPath:  blk.SectionPath,
			Content:      blk.ContentText,
		}
		if err := batch.Index(blk.ID, doc); err != nil {
			return fmt.Errorf("failed to index block %s: %w", blk.ID, err)
		}
		batchBytes += len(blk.ContentText)

		if batch.Size() >= MaxBatchSize || batchBytes >= MaxBatchBytes {
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("batch index failed: %w", err)
			}
			batch = b.index.NewBatch()
			batchBytes = 0
		}
	}

	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("final batch index failed: %w", err)
		}
	}
	return nil
}

// Delete removes blocks from the index.
func (b *BlockIndex) Delete(blockIDs []string) error {
	if len(blockIDs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	for _, id := range blockIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("batch delete failed: %w", err)
	}
	return nil
}

// Relevance returns the full-text relevance of each candidate block for the
// query and title keywords. Blocks with no match are absent from the result.
func (b *BlockIndex) Relevance(ctx context.Context, text string, titleKeywords []string, candidateIDs []string) (map[string]float64, error) {
	if len(candidateIDs) == 0 {
		return map[string]float64{}, nil
	}
	q := buildQuery(text, titleKeywords, candidateIDs)
	if q == nil {
		return map[string]float64{}, nil
	}

	req := bleve.NewSearchRequest(q)
	req.Size = len(candidateIDs)

	b.mu.RLock()
	res, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}

	out := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		out[hit.ID] = hit.Score
	}
	return out, nil
}

// DocCount returns the number of indexed blocks.
func (b *BlockIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// buildQuery restricts a disjunction of content and title matches to the
// candidate ids.
func buildQuery(text string, titleKeywords []string, candidateIDs []string) query.Query {
	var should []query.Query
	if strings.TrimSpace(text) != "" {
		contentQuery := bleve.NewMatchQuery(text)
		contentQuery.SetField(domain.BlockFieldContent)
		should = append(should, contentQuery)
	}
	for _, kw := range titleKeywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		titleQuery := bleve.NewMatchQuery(kw)
		titleQuery.SetField(domain.BlockFieldSectionTitle)
		titleQuery.SetBoost(2.0)
		should = append(should, titleQuery)
	}
	if len(should) == 0 {
		return nil
	}

	return bleve.NewConjunctionQuery(
		bleve.NewDocIDQuery(candidateIDs),
		bleve.NewDisjunctionQuery(should...),
	)
}
