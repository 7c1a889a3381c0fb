package store

import (
	"encoding/json"
	"time"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"gorm.io/datatypes"
)

type documentRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	FileID    string    `gorm:"size:36;index"`
	Title     string    `gorm:"not null;default:''"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (documentRecord) TableName() string {
	return "kb_documents"
}

type blockRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	DocID        string    `gorm:"size:36;not null;index"`
	Tag          *string   `gorm:"size:128;index"`
	SectionTitle string    `gorm:"not null;default:''"`
	SectionPath  string    `gorm:"not null"`
	ContentText  string    `gorm:"type:text;not null;default:''"`
	StartIndex   int       `gorm:"not null"`
	EndIndex     int       `gorm:"not null"`
	RenderedPath string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (blockRecord) TableName() string {
	return "kb_blocks"
}

type fileRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Filename    string    `gorm:"not null"`
	Ext         string    `gorm:"size:16;not null"`
	Size        int64     `gorm:"not null"`
	StoragePath string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (fileRecord) TableName() string {
	return "files"
}

type jobRecord struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Kind      string         `gorm:"size:32;not null;index"`
	Status    string         `gorm:"size:16;not null;index"`
	Stage     string         `gorm:"size:32;not null"`
	Progress  int            `gorm:"not null;default:0"`
	Payload   datatypes.JSON `gorm:"not null"`
	Artifacts datatypes.JSON
	Error     string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (jobRecord) TableName() string {
	return "jobs"
}

// blockRow is a block joined with its document title. gorm only maps the
// record's columns through an exported field.
type blockRow struct {
	Block    blockRecord `gorm:"embedded"`
	DocTitle string
}

func (r documentRecord) toDomain() domain.Document {
	return domain.Document{ID: r.ID, FileID: r.FileID, Title: r.Title, CreatedAt: r.CreatedAt}
}

func (r blockRecord) toDomain() domain.Block {
	return domain.Block{
		ID:           r.ID,
		DocID:        r.DocID,
		Tag:          r.Tag,
		SectionTitle: r.SectionTitle,
		SectionPath:  r.SectionPath,
		ContentText:  r.ContentText,
		StartIndex:   r.StartIndex,
		EndIndex:     r.EndIndex,
		RenderedPath: r.RenderedPath,
		CreatedAt:    r.CreatedAt,
	}
}

func blockFromDomain(b domain.Block) blockRecord {
	return blockRecord{
		ID:           b.ID,
		DocID:        b.DocID,
		Tag:          b.Tag,
		SectionTitle: b.SectionTitle,
		SectionPath:  b.SectionPath,
		ContentText:  b.ContentText,
		StartIndex:   b.StartIndex,
		EndIndex:     b.EndIndex,
		RenderedPath: b.RenderedPath,
		CreatedAt:    b.CreatedAt,
	}
}

func (r fileRecord) toDomain() domain.StoredFile {
	return domain.StoredFile{
		ID:          r.ID,
		Filename:    r.Filename,
		Ext:         r.Ext,
		Size:        r.Size,
		StoragePath: r.StoragePath,
		CreatedAt:   r.CreatedAt,
	}
}

func (r jobRecord) toDomain() (domain.Job, error) {
	job := domain.Job{
		ID:        r.ID,
		Kind:      domain.JobKind(r.Kind),
		Status:    domain.JobStatus(r.Status),
		Stage:     domain.JobStage(r.Stage),
		Progress:  r.Progress,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &job.Payload); err != nil {
			return domain.Job{}, err
		}
	}
	if len(r.Artifacts) > 0 {
		if err := json.Unmarshal(r.Artifacts, &job.Artifacts); err != nil {
			return domain.Job{}, err
		}
	}
	return job, nil
}
