package store

import (
	"context"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

// BlockQuery narrows the candidate set for retrieval. The LIKE prefilters are
// case-insensitive for ASCII only; callers re-check matches in Go.
type BlockQuery struct {
	// Tag is an exact-match filter when non-nil.
	Tag *string
	// Contains requires the block content to contain the text.
	Contains string
	// AnyTerm requires at least one term in the section title or content.
	AnyTerm []string
	// IDs restricts the result to the given block ids when non-empty.
	IDs []string
}

// FindBlocks returns the blocks matching q with their owner document titles.
func (s *Store) FindBlocks(ctx context.Context, q BlockQuery) ([]domain.Block, error) {
	db := s.db.WithContext(ctx).
		Table("kb_blocks").
		Select("kb_blocks.*, kb_documents.title AS doc_title").
		Joins("JOIN kb_documents ON kb_documents.id = kb_blocks.doc_id")

	if len(q.IDs) > 0 {
		db = db.Where("kb_blocks.id IN ?", q.IDs)
	}
	if q.Tag != nil {
		db = db.Where("kb_blocks.tag = ?", *q.Tag)
	}
	if q.Contains != "" {
		db = db.Where(`kb_blocks.content_text LIKE ? ESCAPE '\'`, escapeLike(q.Contains))
	}

	var clauses []string
	var args []any
	for _, term := range q.AnyTerm {
		if term == "" {
			continue
		}
		pattern := escapeLike(term)
		clauses = append(clauses, `kb_blocks.section_title LIKE ? ESCAPE '\'`, `kb_blocks.content_text LIKE ? ESCAPE '\'`)
		args = append(args, pattern, pattern)
	}
	if len(clauses) > 0 {
		db = db.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}

	var rows []blockRow
	if err := db.Scan(&rows).Error; err != nil {
		return nil, err
	}

	blocks := make([]domain.Block, len(rows))
	for i, r := range rows {
		blocks[i] = r.Block.toDomain()
		blocks[i].DocTitle = r.DocTitle
	}
	return blocks, nil
}

// BlocksByDocument returns the blocks of one document in reading order.
func (s *Store) BlocksByDocument(ctx context.Context, docID string) ([]domain.Block, error) {
	var records []blockRecord
	if err := s.db.WithContext(ctx).Where("doc_id = ?", docID).Order("start_index").Find(&records).Error; err != nil {
		return nil, err
	}
	blocks := make([]domain.Block, len(records))
	for i, r := range records {
		blocks[i] = r.toDomain()
	}
	return blocks, nil
}

// SetTag assigns tag to the given blocks. A nil tag clears it.
func (s *Store) SetTag(ctx context.Context, blockIDs []string, tag *string) (int64, error) {
	if len(blockIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&blockRecord{}).Where("id IN ?", blockIDs).Update("tag", tag)
	return res.RowsAffected, res.Error
}
