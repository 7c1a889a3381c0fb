package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
	"github.com/sha1n/mcp-tender-kb/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tender-kb/jobs"

// tracker persists stage transitions of one run and keeps the last stage
// reached so a failure can be reported against it.
type tracker struct {
	r          *Runner
	job        domain.Job
	stage      domain.JobStage
	progress   int
	stageStart time.Time
	span       trace.Span
}

func newTracker(r *Runner, job domain.Job) *tracker {
	return &tracker{r: r, job: job, stage: job.Stage, progress: job.Progress}
}

// advance closes the current stage and moves the job to the next one.
func (t *tracker) advance(ctx context.Context, stage domain.JobStage) (context.Context, error) {
	t.endStage(nil)

	ctx, t.span = otel.Tracer(tracerName).Start(ctx, "job."+strings.ToLower(string(stage)),
		trace.WithAttributes(
			attribute.String("job.id", t.job.ID),
			attribute.String("job.kind", string(t.job.Kind)),
		))
	t.stage = stage
	t.progress = domain.StageProgress[stage]
	t.stageStart = time.Now()

	status := domain.JobRunning
	err := t.r.store.UpdateJob(ctx, t.job.ID, store.JobUpdate{Status: &status, Stage: &stage, Progress: &t.progress})
	if err != nil {
		return ctx, fmt.Errorf("failed to update job stage: %w", err)
	}
	slog.Debug("Job stage", "job_id", t.job.ID, "stage", stage, "progress", t.progress)
	return ctx, nil
}

func (t *tracker) endStage(err error) {
	if t.span == nil {
		return
	}
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
	t.span = nil
	t.r.metrics.RecordStage(string(t.job.Kind), string(t.stage), time.Since(t.stageStart))
}

// fail records the error against the last stage reached.
func (t *tracker) fail(ctx context.Context, cause error) {
	t.endStage(cause)
	status := domain.JobFailed
	msg := cause.Error()
	err := t.r.store.UpdateJob(ctx, t.job.ID, store.JobUpdate{Status: &status, Stage: &t.stage, Progress: &t.progress, Error: &msg})
	if err != nil {
		slog.Error("Failed to record job failure", "job_id", t.job.ID, "error", err)
	}
}

func (t *tracker) succeed(ctx context.Context, artifacts domain.JobArtifacts) error {
	t.endStage(nil)
	status := domain.JobSucceeded
	stage := domain.StageDone
	progress := domain.StageProgress[stage]
	empty := ""
	return t.r.store.UpdateJob(ctx, t.job.ID, store.JobUpdate{
		Status:    &status,
		Stage:     &stage,
		Progress:  &progress,
		Error:     &empty,
		Artifacts: &artifacts,
	})
}

// runExtract parses the uploaded file, extracts requirement rows and writes
// result.json and result.xlsx under artifacts/{job_id}.
func (r *Runner) runExtract(ctx context.Context, t *tracker, job domain.Job) (domain.JobArtifacts, error) {
	sctx, err := t.advance(ctx, domain.StageValidate)
	if err != nil {
		return domain.JobArtifacts{}, err
	}
	f, path, err := r.files.FilePath(sctx, job.Payload.Extract.FileID)
	if err != nil {
		return domain.JobArtifacts{}, err
	}
	if !domain.SupportedExtensions[strings.ToLower(f.Ext)] {
		return domain.JobArtifacts{}, domain.Errorf(domain.ErrUnsupportedFormat, "only txt/docx are supported")
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return domain.JobArtifacts{}, domain.Errorf(domain.ErrNotFound, "source file missing on disk")
	}

	if _, err = t.advance(ctx, domain.StageParse); err != nil {
		return domain.JobArtifacts{}, err
	}
	src, err := docx.LoadParagraphs(path)
	if err != nil {
		return domain.JobArtifacts{}, err
	}

	if _, err = t.advance(ctx, domain.StageExtract); err != nil {
		return domain.JobArtifacts{}, err
	}
	result := r.extractor.Extract(src.Text())
	if len(result.Rows) == 0 {
		return domain.JobArtifacts{}, domain.Errorf(domain.ErrInternal, "extraction produced no rows")
	}

	if _, err = t.advance(ctx, domain.StageExport); err != nil {
		return domain.JobArtifacts{}, err
	}
	jsonPath, err := r.writeArtifact(job.ID, "result", "json", func(w io.Writer) error {
		return extract.WriteJSON(w, job.ID, result)
	})
	if err != nil {
		return domain.JobArtifacts{}, err
	}
	xlsxPath, err := r.writeArtifact(job.ID, "result", "xlsx", func(w io.Writer) error {
		return extract.WriteXLSX(w, result)
	})
	if err != nil {
		return domain.JobArtifacts{}, err
	}
	return domain.JobArtifacts{JSON: jsonPath, XLSX: xlsxPath}, nil
}

// runReport resolves the template, selects evidence for every section and
// writes report.docx under artifacts/{job_id}.
func (r *Runner) runReport(ctx context.Context, t *tracker, job domain.Job) (domain.JobArtifacts, error) {
	if _, err := t.advance(ctx, domain.StageValidate); err != nil {
		return domain.JobArtifacts{}, err
	}
	if r.assembler == nil {
		return domain.JobArtifacts{}, domain.Errorf(domain.ErrInvalidArgument, "report jobs are not configured")
	}
	p := job.Payload.Report
	path, err := r.assembler.AssembleReport(ctx, p.TemplateID, p.Version, job.ID, t.advance)
	if err != nil {
		return domain.JobArtifacts{}, err
	}
	return domain.JobArtifacts{DOCX: r.relative(path)}, nil
}

func (r *Runner) writeArtifact(jobID, name, ext string, write func(io.Writer) error) (string, error) {
	path, err := r.root.Path(storage.KindArtifacts, jobID, name, ext)
	if err != nil {
		return "", err
	}
	if err := storage.WriteAtomic(path, write); err != nil {
		return "", fmt.Errorf("failed to write %s.%s: %w", name, ext, err)
	}
	return r.relative(path), nil
}

func (r *Runner) relative(path string) string {
	rel, err := filepath.Rel(r.root.Dir(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
