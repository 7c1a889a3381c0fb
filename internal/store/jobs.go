package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"gorm.io/datatypes"
)

// CreateFile records an uploaded file.
func (s *Store) CreateFile(ctx context.Context, f domain.StoredFile) error {
	rec := fileRecord{
		ID:          f.ID,
		Filename:    f.Filename,
		Ext:         f.Ext,
		Size:        f.Size,
		StoragePath: f.StoragePath,
		CreatedAt:   f.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// GetFile returns one uploaded file record.
func (s *Store) GetFile(ctx context.Context, id string) (domain.StoredFile, error) {
	var rec fileRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.StoredFile{}, notFound(err, "file %s", id)
	}
	return rec.toDomain(), nil
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode job artifacts: %w", err)
	}
	rec := jobRecord{
		ID:        job.ID,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Stage:     string(job.Stage),
		Progress:  job.Progress,
		Payload:   datatypes.JSON(payload),
		Artifacts: datatypes.JSON(artifacts),
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var rec jobRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.Job{}, notFound(err, "job %s", id)
	}
	return rec.toDomain()
}

// JobUpdate lists the job fields to change; nil fields are left untouched.
type JobUpdate struct {
	Status    *domain.JobStatus
	Stage     *domain.JobStage
	Progress  *int
	Error     *string
	Artifacts *domain.JobArtifacts
}

// UpdateJob applies u to the job with the given id.
func (s *Store) UpdateJob(ctx context.Context, id string, u JobUpdate) error {
	values := map[string]any{"updated_at": time.Now().UTC()}
	if u.Status != nil {
		values["status"] = string(*u.Status)
	}
	if u.Stage != nil {
		values["stage"] = string(*u.Stage)
	}
	if u.Progress != nil {
		values["progress"] = *u.Progress
	}
	if u.Error != nil {
		values["error"] = *u.Error
	}
	if u.Artifacts != nil {
		data, err := json.Marshal(u.Artifacts)
		if err != nil {
			return fmt.Errorf("failed to encode job artifacts: %w", err)
		}
		values["artifacts"] = datatypes.JSON(data)
	}

	res := s.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.ErrNotFound, "job %s", id)
	}
	return nil
}
