// Package jobs runs background extraction and report jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/metrics"
	"github.com/sha1n/mcp-tender-kb/internal/report"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
	"github.com/sha1n/mcp-tender-kb/internal/store"
)

// Artifact kinds accepted by Runner.Artifact.
const (
	ArtifactJSON = "json"
	ArtifactXLSX = "xlsx"
	ArtifactDOCX = "docx"
)

// FileResolver locates uploaded files.
type FileResolver interface {
	FilePath(ctx context.Context, fileID string) (domain.StoredFile, string, error)
}

// Dispatcher hands a created job to a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Runner executes jobs. At most one run per job id is active at a time,
// guarded by an in-process liveness map and a per-job file lock.
type Runner struct {
	store      *store.Store
	root       *storage.Root
	files      FileResolver
	extractor  *extract.Extractor
	assembler  *report.Assembler
	metrics    *metrics.Metrics
	dispatcher Dispatcher

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// Config holds the collaborators of a Runner.
type Config struct {
	Store     *store.Store
	Root      *storage.Root
	Files     FileResolver
	Extractor *extract.Extractor
	Assembler *report.Assembler
	Metrics   *metrics.Metrics
}

// NewRunner creates a runner that dispatches in process until another
// dispatcher is set.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Store == nil || cfg.Root == nil || cfg.Files == nil {
		return nil, fmt.Errorf("store, storage root and file resolver are required")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New(extract.DefaultLinesPerPage)
	}
	r := &Runner{
		store:     cfg.Store,
		root:      cfg.Root,
		files:     cfg.Files,
		extractor: cfg.Extractor,
		assembler: cfg.Assembler,
		metrics:   cfg.Metrics,
		running:   make(map[string]struct{}),
	}
	r.dispatcher = LocalDispatcher{runner: r}
	return r, nil
}

// SetDispatcher replaces the dispatcher used by Submit.
func (r *Runner) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// Create validates the payload and persists a PENDING job.
func (r *Runner) Create(ctx context.Context, payload domain.JobPayload) (domain.Job, error) {
	if err := payload.Validate(); err != nil {
		return domain.Job{}, err
	}
	switch payload.Kind {
	case domain.JobKindExtract:
		if _, _, err := r.files.FilePath(ctx, payload.Extract.FileID); err != nil {
			return domain.Job{}, err
		}
	case domain.JobKindReport:
		if r.assembler == nil {
			return domain.Job{}, domain.Errorf(domain.ErrInvalidArgument, "report jobs are not configured")
		}
		if _, err := r.assembler.Template(payload.Report.TemplateID, payload.Report.Version); err != nil {
			return domain.Job{}, err
		}
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:        uuid.NewString(),
		Kind:      payload.Kind,
		Status:    domain.JobPending,
		Stage:     domain.StageQueued,
		Progress:  domain.StageProgress[domain.StageQueued],
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}
	slog.Info("Created job", "job_id", job.ID, "kind", job.Kind)
	return job, nil
}

// Submit creates a job and hands it to the dispatcher.
func (r *Runner) Submit(ctx context.Context, payload domain.JobPayload) (domain.Job, error) {
	job, err := r.Create(ctx, payload)
	if err != nil {
		return domain.Job{}, err
	}
	if err := r.dispatcher.Dispatch(ctx, job.ID); err != nil {
		return job, fmt.Errorf("failed to dispatch job %s: %w", job.ID, err)
	}
	return job, nil
}

// Start launches a job in the background. It fails with ErrConflict when the
// job is already running here or in another process, or has already succeeded.
func (r *Runner) Start(ctx context.Context, jobID string) error {
	lock, err := r.acquire(ctx, jobID)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(context.WithoutCancel(ctx), jobID, lock)
	}()
	return nil
}

// Run executes a job synchronously and returns its final state.
func (r *Runner) Run(ctx context.Context, jobID string) (domain.Job, error) {
	lock, err := r.acquire(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	r.execute(ctx, jobID, lock)
	return r.store.GetJob(ctx, jobID)
}

// Wait blocks until every job started with Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Running reports whether the job is active in this process.
func (r *Runner) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

func (r *Runner) acquire(ctx context.Context, jobID string) (*storage.Lock, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobSucceeded {
		return nil, domain.Errorf(domain.ErrConflict, "job %s already succeeded", jobID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[jobID]; ok {
		return nil, domain.Errorf(domain.ErrConflict, "job %s is already running", jobID)
	}

	path, err := r.root.LockPath(jobID)
	if err != nil {
		return nil, err
	}
	lock := storage.NewLock(path)
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return nil, domain.Errorf(domain.ErrConflict, "job %s is running in another process", jobID)
		}
		return nil, err
	}
	r.running[jobID] = struct{}{}
	return lock, nil
}

func (r *Runner) release(jobID string, lock *storage.Lock) {
	if err := lock.Unlock(); err != nil {
		slog.Error("Failed to release job lock", "job_id", jobID, "error", err)
	}
	r.mu.Lock()
	delete(r.running, jobID)
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, jobID string, lock *storage.Lock) {
	defer r.release(jobID, lock)

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("Failed to load job", "job_id", jobID, "error", err)
		return
	}

	r.metrics.JobStarted()
	t := newTracker(r, job)
	slog.Info("Running job", "job_id", jobID, "kind", job.Kind)

	var artifacts domain.JobArtifacts
	switch job.Kind {
	case domain.JobKindExtract:
		artifacts, err = r.runExtract(ctx, t, job)
	case domain.JobKindReport:
		artifacts, err = r.runReport(ctx, t, job)
	default:
		err = domain.Errorf(domain.ErrInvalidArgument, "unknown job kind %q", job.Kind)
	}

	if err != nil {
		t.fail(ctx, err)
		r.metrics.JobFinished(string(job.Kind), string(domain.JobFailed))
		slog.Error("Job failed", "job_id", jobID, "stage", t.stage, "error", err)
		return
	}
	if err := t.succeed(ctx, artifacts); err != nil {
		slog.Error("Failed to record job success", "job_id", jobID, "error", err)
	}
	r.metrics.JobFinished(string(job.Kind), string(domain.JobSucceeded))
	slog.Info("Job succeeded", "job_id", jobID)
}

// Status returns the current state of a job.
func (r *Runner) Status(ctx context.Context, jobID string) (domain.Job, error) {
	return r.store.GetJob(ctx, jobID)
}

// Artifact returns the absolute path of a job artifact. Asking before the
// job has succeeded is a conflict.
func (r *Runner) Artifact(ctx context.Context, jobID, kind string) (string, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != domain.JobSucceeded {
		return "", domain.Errorf(domain.ErrConflict, "job %s is %s", jobID, job.Status)
	}

	var rel string
	switch kind {
	case ArtifactJSON:
		rel = job.Artifacts.JSON
	case ArtifactXLSX:
		rel = job.Artifacts.XLSX
	case ArtifactDOCX:
		rel = job.Artifacts.DOCX
	default:
		return "", domain.Errorf(domain.ErrInvalidArgument, "unknown artifact kind %q", kind)
	}
	if rel == "" {
		return "", domain.Errorf(domain.ErrNotFound, "job %s has no %s artifact", jobID, kind)
	}
	return r.root.Contain(rel)
}
