package retrieval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/store"
)

// BlockSource returns candidate blocks for a query.
type BlockSource interface {
	FindBlocks(ctx context.Context, q store.BlockQuery) ([]domain.Block, error)
}

// RelevanceScorer gives an optional full-text relevance per candidate block.
type RelevanceScorer interface {
	Relevance(ctx context.Context, text string, titleKeywords []string, candidateIDs []string) (map[string]float64, error)
}

// Config holds scoring weights and evidence settings.
type Config struct {
	TitleWeight           int
	ContentWeight         int
	FullTextWeight        float64
	EvidenceTitleWeight   int
	EvidenceContentWeight int
	AcronymPatterns       []string
}

// DefaultConfig returns the documented weights.
func DefaultConfig() Config {
	return Config{
		TitleWeight:           10,
		ContentWeight:         1,
		EvidenceTitleWeight:   5,
		EvidenceContentWeight: 1,
		AcronymPatterns:       DefaultAcronymPatterns,
	}
}

// Retriever scores and pages blocks. It is read-only and safe for concurrent use.
type Retriever struct {
	blocks    BlockSource
	relevance RelevanceScorer
	cfg       Config
	acronyms  *regexp.Regexp
}

// NewRetriever creates a retriever. relevance may be nil, in which case only
// substring scoring is used.
func NewRetriever(blocks BlockSource, relevance RelevanceScorer, cfg Config) (*Retriever, error) {
	acronyms, err := compileAcronyms(cfg.AcronymPatterns)
	if err != nil {
		return nil, err
	}
	return &Retriever{blocks: blocks, relevance: relevance, cfg: cfg, acronyms: acronyms}, nil
}

// Search returns one page of blocks. The tag and the query both filter; title
// keywords only add score.
func (r *Retriever) Search(ctx context.Context, p SearchParams) (domain.SearchPage, error) {
	pageSize := p.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	page, pageSize := clampPaging(p.Page, pageSize)

	q := store.BlockQuery{Tag: p.Tag}
	query := ""
	if p.Query != nil {
		query = strings.TrimSpace(*p.Query)
		q.Contains = query
	}

	blocks, err := r.blocks.FindBlocks(ctx, q)
	if err != nil {
		return domain.SearchPage{}, fmt.Errorf("failed to load candidate blocks: %w", err)
	}

	items := make([]domain.SearchItem, 0, len(blocks))
	for _, b := range blocks {
		score := 0
		if query != "" {
			if !containsFold(b.ContentText, query) {
				continue
			}
			score += r.cfg.ContentWeight
		}
		for _, kw := range p.TitleKeywords {
			if kw == "" {
				continue
			}
			if containsFold(b.SectionTitle, kw) || containsFold(b.DocTitle, kw) {
				score += r.cfg.TitleWeight
			}
		}
		items = append(items, toItem(b, score))
	}

	if err := r.addRelevance(ctx, items, query, p.TitleKeywords); err != nil {
		return domain.SearchPage{}, err
	}

	SortItems(items)

	total := len(items)
	if p.TopK != nil {
		total = min(total, max(*p.TopK, 0))
	}

	result := domain.SearchPage{Page: page, PageSize: pageSize, Total: total, Items: []domain.SearchItem{}}
	offset := (page - 1) * pageSize
	if offset >= total {
		return result, nil
	}
	result.Items = items[offset:min(offset+pageSize, total)]
	return result, nil
}

// addRelevance blends the full-text signal into scores. The bonus is a
// non-negative integer, so the substring score is never reduced.
func (r *Retriever) addRelevance(ctx context.Context, items []domain.SearchItem, query string, keywords []string) error {
	if r.relevance == nil || r.cfg.FullTextWeight <= 0 || len(items) == 0 {
		return nil
	}
	if query == "" && len(keywords) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.BlockID
	}
	rel, err := r.relevance.Relevance(ctx, query, keywords, ids)
	if err != nil {
		return err
	}
	for i := range items {
		if s, ok := rel[items[i].BlockID]; ok {
			items[i].Score += max(0, int(math.Round(s*r.cfg.FullTextWeight)))
		}
	}
	return nil
}

// SortItems orders items by score descending, then newest first. Remaining
// ties fall back to document id and position so the order is total.
func SortItems(items []domain.SearchItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		if a.StartIndex != b.StartIndex {
			return a.StartIndex < b.StartIndex
		}
		return a.BlockID < b.BlockID
	})
}

func toItem(b domain.Block, score int) domain.SearchItem {
	return domain.SearchItem{
		BlockID:      b.ID,
		DocID:        b.DocID,
		DocTitle:     b.DocTitle,
		Tag:          b.TagValue(),
		Score:        score,
		SectionTitle: b.SectionTitle,
		SectionPath:  b.SectionPath,
		ContentText:  b.ContentText,
		StartIndex:   b.StartIndex,
		EndIndex:     b.EndIndex,
		RenderedPath: b.RenderedPath,
		CreatedAt:    b.CreatedAt,
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
