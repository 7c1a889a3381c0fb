package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/sha1n/mcp-tender-kb/internal/config"
	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/index"
	"github.com/sha1n/mcp-tender-kb/internal/jobs"
	"github.com/sha1n/mcp-tender-kb/internal/kb"
	mcputil "github.com/sha1n/mcp-tender-kb/internal/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/metrics"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
	"github.com/sha1n/mcp-tender-kb/internal/similarity"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
	"github.com/sha1n/mcp-tender-kb/internal/store"
)

// ServerName is the MCP implementation name.
const ServerName = "tender-kb"

// indexDir is the full-text index directory under the storage root.
const indexDir = "index"

// Stack holds the long-lived services behind the server and the CLI commands.
type Stack struct {
	Root       *storage.Root
	Store      *store.Store
	Index      *index.BlockIndex // nil when full-text scoring is disabled
	KB         *kb.Service
	Jobs       *jobs.Runner
	Assembler  *report.Assembler
	Extractor  *extract.Extractor
	Similarity *similarity.Lazy
	Metrics    *metrics.Metrics

	nc      *nats.Conn
	closers []func() error
}

// NewStack opens storage and wires every service from settings. Jobs are
// dispatched in-process until ConnectDispatcher is called.
func NewStack(settings *config.Settings) (_ *Stack, err error) {
	s := &Stack{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	docx.SetMaxPartSize(int64(settings.Ingest.MaxPartMB) << 20)

	if s.Root, err = storage.NewRoot(settings.Storage.Root); err != nil {
		return nil, err
	}
	if s.Store, err = store.Open(settings.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.closers = append(s.closers, s.Store.Close)

	var scorer retrieval.RelevanceScorer
	opts := []kb.Option{kb.WithMetrics(s.Metrics)}
	if settings.Retrieval.FullText {
		if s.Index, err = index.Open(filepath.Join(s.Root.Dir(), indexDir)); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.Index.Close)
		if err = rebuildIndex(context.Background(), s.Store, s.Index); err != nil {
			return nil, err
		}
		scorer = s.Index
		opts = append(opts, kb.WithIndex(s.Index))
	}

	retriever, err := retrieval.NewRetriever(s.Store, scorer, retrievalConfig(settings.Retrieval))
	if err != nil {
		return nil, fmt.Errorf("invalid retrieval settings: %w", err)
	}
	if s.KB, err = kb.NewService(s.Store, s.Root, retriever, opts...); err != nil {
		return nil, err
	}

	s.Assembler = report.NewAssembler(report.NewRegistry(settings.Reports.TemplatesDir), s.KB, s.Root)
	s.Extractor = extract.New(settings.Extract.LinesPerPage)

	simOpts := similarity.Options{
		Window:    settings.Similarity.Window,
		Overlap:   settings.Similarity.Overlap,
		Threshold: settings.Similarity.Threshold,
	}
	s.Similarity = similarity.NewLazy(func() *similarity.Engine {
		return similarity.NewEngine(nil, simOpts)
	})

	if s.Jobs, err = jobs.NewRunner(jobs.Config{
		Store:     s.Store,
		Root:      s.Root,
		Files:     s.KB,
		Extractor: s.Extractor,
		Assembler: s.Assembler,
		Metrics:   s.Metrics,
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// ConnectDispatcher switches job dispatch to NATS when configured. The
// process both publishes and consumes job messages on the subject.
func (s *Stack) ConnectDispatcher(settings config.JobSettings) error {
	if settings.Dispatcher != config.DispatcherNATS {
		return nil
	}
	nc, err := nats.Connect(settings.NATSURL, nats.Name(ServerName))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	if _, err := s.Jobs.Subscribe(nc, settings.Subject); err != nil {
		nc.Close()
		return fmt.Errorf("nats subscribe: %w", err)
	}
	s.Jobs.SetDispatcher(jobs.NewNATSDispatcher(nc, settings.Subject))
	s.nc = nc
	slog.Info("Dispatching jobs over NATS", "url", config.MaskURL(settings.NATSURL), "subject", settings.Subject)
	return nil
}

// ServerConfig returns the MCP server configuration for this stack.
func (s *Stack) ServerConfig(version string, settings *config.Settings) mcputil.ServerConfig {
	return mcputil.ServerConfig{
		Name:              ServerName,
		Version:           version,
		KB:                s.KB,
		Jobs:              s.Jobs,
		Assembler:         s.Assembler,
		Extractor:         s.Extractor,
		Similarity:        s.Similarity,
		Metrics:           s.Metrics,
		Production:        settings.Production,
		IngestConcurrency: settings.Ingest.Concurrency,
	}
}

// Close drains the NATS connection, waits for running jobs and closes storage.
func (s *Stack) Close() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			slog.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	if s.Jobs != nil {
		s.Jobs.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Error("Failed to close resource", "error", err)
		}
	}
	s.closers = nil
}

func retrievalConfig(r config.RetrievalSettings) retrieval.Config {
	cfg := retrieval.Config{
		TitleWeight:           r.TitleWeight,
		ContentWeight:         r.ContentWeight,
		EvidenceTitleWeight:   r.EvidenceTitleWeight,
		EvidenceContentWeight: r.EvidenceContentWeight,
		AcronymPatterns:       r.AcronymPatterns,
	}
	if r.FullText {
		cfg.FullTextWeight = r.FullTextWeight
	}
	if len(cfg.AcronymPatterns) == 0 {
		cfg.AcronymPatterns = retrieval.DefaultAcronymPatterns
	}
	return cfg
}

// rebuildIndex repopulates an empty index from the block store, e.g. after
// the index directory was removed.
func rebuildIndex(ctx context.Context, st *store.Store, idx *index.BlockIndex) error {
	count, err := idx.DocCount()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	if count > 0 {
		return nil
	}
	blocks, err := st.FindBlocks(ctx, store.BlockQuery{})
	if err != nil {
		return fmt.Errorf("failed to load blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil
	}
	slog.Info("Rebuilding full-text index", "blocks", len(blocks))
	return idx.Add(blocks)
}
