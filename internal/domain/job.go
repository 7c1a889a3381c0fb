package domain

import "time"

// JobKind discriminates the payload variant of a job.
type JobKind string

const (
	JobKindExtract JobKind = "extract"
	JobKindReport  JobKind = "report"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// JobStage is a named pipeline checkpoint with a fixed progress value.
type JobStage string

const (
	StageQueued   JobStage = "QUEUED"
	StageValidate JobStage = "VALIDATE"
	StageParse    JobStage = "PARSE"
	StageExtract  JobStage = "EXTRACT"
	StageRetrieve JobStage = "RETRIEVE"
	StageRender   JobStage = "RENDER"
	StageExport   JobStage = "EXPORT"
	StageDone     JobStage = "DONE"
)

// StageProgress maps each stage to the progress reported when it is reached.
var StageProgress = map[JobStage]int{
	StageQueued:   0,
	StageValidate: 5,
	StageParse:    20,
	StageExtract:  50,
	StageRetrieve: 50,
	StageRender:   80,
	StageExport:   95,
	StageDone:     100,
}

// ExtractPayload parameterizes an extraction job.
type ExtractPayload struct {
	FileID string `json:"file_id"`
}

// ReportPayload parameterizes a template-driven report job.
type ReportPayload struct {
	TemplateID string `json:"template_id"`
	Version    string `json:"version"`
}

// JobPayload is a tagged union: exactly the variant matching Kind is set.
type JobPayload struct {
	Kind    JobKind         `json:"kind"`
	Extract *ExtractPayload `json:"extract,omitempty"`
	Report  *ReportPayload  `json:"report,omitempty"`
}

// Validate checks that the payload carries exactly the variant named by Kind.
func (p JobPayload) Validate() error {
	switch p.Kind {
	case JobKindExtract:
		if p.Extract == nil || p.Report != nil {
			return Errorf(ErrInvalidArgument, "extract job requires only an extract payload")
		}
		if p.Extract.FileID == "" {
			return Errorf(ErrInvalidArgument, "extract job requires file_id")
		}
	case JobKindReport:
		if p.Report == nil || p.Extract != nil {
			return Errorf(ErrInvalidArgument, "report job requires only a report payload")
		}
		if p.Report.TemplateID == "" || p.Report.Version == "" {
			return Errorf(ErrInvalidArgument, "report job requires template_id and version")
		}
	default:
		return Errorf(ErrInvalidArgument, "unknown job kind %q", p.Kind)
	}
	return nil
}

// JobArtifacts holds the paths of files produced by a job.
type JobArtifacts struct {
	JSON string `json:"json,omitempty"`
	XLSX string `json:"xlsx,omitempty"`
	DOCX string `json:"docx,omitempty"`
}

// Job is a background extraction or report run.
type Job struct {
	ID        string       `json:"id"`
	Kind      JobKind      `json:"kind"`
	Status    JobStatus    `json:"status"`
	Stage     JobStage     `json:"stage"`
	Progress  int          `json:"progress"`
	Payload   JobPayload   `json:"payload"`
	Artifacts JobArtifacts `json:"artifacts"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Terminal reports whether the job reached a final status.
func (j Job) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
