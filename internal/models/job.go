package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an inference job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further status or billing mutation may occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobType represents a supported computation kind.
type JobType string

const (
	JobTypeBindcraft JobType = "bindcraft"
	JobTypeBoltzgen  JobType = "boltzgen"
	JobTypePredict   JobType = "predict"
	JobTypeScore     JobType = "score"
	JobTypeMSA       JobType = "msa"
)

// ValidJobType reports whether t names a supported computation kind.
func ValidJobType(t JobType) bool {
	switch t {
	case JobTypeBindcraft, JobTypeBoltzgen, JobTypePredict, JobTypeScore, JobTypeMSA:
		return true
	}
	return false
}

// Job represents a metered inference job. The billing target (owner or
// team) is frozen at creation time and does not follow later changes to
// the submitter's active team.
type Job struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OwnerUserID uuid.UUID  `json:"owner_user_id" db:"owner_user_id"`
	TeamID      *uuid.UUID `json:"team_id,omitempty" db:"team_id"`
	JobType     JobType    `json:"job_type" db:"job_type"`
	Status      JobStatus  `json:"status" db:"status"`

	// Opaque provider payloads.
	Input  json.RawMessage `json:"input" db:"input"`
	Output json.RawMessage `json:"output,omitempty" db:"output"`

	// Provider call handle, recorded once submission succeeds.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	// Usage and billing state. BilledSeconds is the watermark: it only
	// increases, and never exceeds ExecutionSeconds.
	HardwareClass    string  `json:"hardware_class,omitempty" db:"hardware_class"`
	ExecutionSeconds float64 `json:"execution_seconds" db:"execution_seconds"`
	BilledSeconds    float64 `json:"billed_seconds" db:"billed_seconds"`
	CostSoFar        int64   `json:"cost_so_far" db:"cost_so_far"`

	Progress []ProgressEntry `json:"progress,omitempty" db:"progress"`

	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// ProgressEntry is one line of the provider's progress log. Progress
// reports do not affect billing.
type ProgressEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageReport is the provider's cumulative usage figure for a job.
type UsageReport struct {
	HardwareClass    string  `json:"gpu_type"`
	ExecutionSeconds float64 `json:"execution_seconds"`
}

// JobSubmitRequest is the request body for job submission.
type JobSubmitRequest struct {
	TeamID  *uuid.UUID      `json:"team_id,omitempty"`
	JobType JobType         `json:"job_type"`
	Input   json.RawMessage `json:"input"`
}

// JobSubmitResponse is returned on successful submission.
type JobSubmitResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

// ProgressCallbackRequest is the provider's inbound progress report.
type ProgressCallbackRequest struct {
	Stage     string     `json:"stage"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// CompletionCallbackRequest is the provider's inbound terminal report.
type CompletionCallbackRequest struct {
	Status JobStatus       `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Usage  *UsageReport    `json:"usage,omitempty"`
}

// JobResponse is the job read payload. Output holds the artifact tree
// with signed URLs already attached.
type JobResponse struct {
	Job    Job             `json:"job"`
	Output json.RawMessage `json:"output,omitempty"`
}
