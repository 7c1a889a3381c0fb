package store

import (
	"context"
	"fmt"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"gorm.io/gorm"
)

const maxListPageSize = 100

// CreateDocument inserts a document and all of its blocks in one transaction.
// hook, when set, runs inside the transaction after the rows are written; if it
// fails nothing is committed.
func (s *Store) CreateDocument(ctx context.Context, doc domain.Document, blocks []domain.Block, hook func() error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := documentRecord{ID: doc.ID, FileID: doc.FileID, Title: doc.Title, CreatedAt: doc.CreatedAt}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}

		if len(blocks) > 0 {
			records := make([]blockRecord, len(blocks))
			for i, b := range blocks {
				records[i] = blockFromDomain(b)
			}
			if err := tx.CreateInBatches(records, 200).Error; err != nil {
				return fmt.Errorf("failed to insert blocks: %w", err)
			}
		}

		if hook != nil {
			if err := hook(); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDocument returns one document.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var rec documentRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.Document{}, notFound(err, "document %s", id)
	}
	return rec.toDomain(), nil
}

// DeleteDocument removes a document and its blocks, returning the deleted
// blocks so the caller can remove their rendered files.
func (s *Store) DeleteDocument(ctx context.Context, id string) ([]domain.Block, error) {
	var deleted []domain.Block
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec documentRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err, "document %s", id)
		}

		var blocks []blockRecord
		if err := tx.Where("doc_id = ?", id).Order("start_index").Find(&blocks).Error; err != nil {
			return err
		}
		if err := tx.Where("doc_id = ?", id).Delete(&blockRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete blocks: %w", err)
		}
		if err := tx.Delete(&rec).Error; err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}

		deleted = make([]domain.Block, len(blocks))
		for i, b := range blocks {
			deleted[i] = b.toDomain()
		}
		return nil
	})
	return deleted, err
}

// ListDocuments pages through documents, newest first, with block counts.
func (s *Store) ListDocuments(ctx context.Context, page, pageSize int) ([]domain.Document, int64, error) {
	page = max(page, 1)
	pageSize = min(max(pageSize, 1), maxListPageSize)

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&documentRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	type docRow struct {
		Document   documentRecord `gorm:"embedded"`
		BlockCount int
	}
	var rows []docRow
	err := db.Model(&documentRecord{}).
		Select("kb_documents.*, (SELECT COUNT(*) FROM kb_blocks WHERE kb_blocks.doc_id = kb_documents.id) AS block_count").
		Order("created_at DESC").Order("id").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	docs := make([]domain.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.Document.toDomain()
		docs[i].BlockCount = r.BlockCount
	}
	return docs, total, nil
}
