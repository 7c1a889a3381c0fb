package kb

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultBulkConcurrency bounds parallel ingestion when none is given.
const DefaultBulkConcurrency = 4

// BulkItem is the outcome of ingesting one file.
type BulkItem struct {
	Path   string `json:"path"`
	DocID  string `json:"doc_id,omitempty"`
	Blocks int    `json:"blocks,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BulkIngest ingests every supported file under dir. Failures of single files
// are reported per item and do not stop the others; only a walk or context
// error fails the whole call. Items are ordered by path.
func (s *Service) BulkIngest(ctx context.Context, dir string, tag *string, concurrency int) ([]BulkItem, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if domain.SupportedExtensions[ext] && !strings.HasPrefix(d.Name(), "~$") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}

	items := make([]BulkItem, len(paths))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := BulkItem{Path: path}
			res, err := s.IngestPath(gctx, path, "", tag)
			if err != nil {
				slog.Warn("Bulk ingestion failed for file", "path", path, "error", err)
				item.Error = err.Error()
			} else {
				item.DocID = res.Document.ID
				item.Blocks = len(res.Blocks)
			}
			mu.Lock()
			items[i] = item
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Bulk ingestion complete", "dir", dir, "files", len(paths))
	return items, nil
}
