// Package inference is the boundary to the external compute provider
// that actually runs protein-structure jobs. Only the submit / status /
// health contract is known here; execution itself is the provider's
// business.
package inference

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/foldworks/inference-service/internal/models"
)

// SubmitRequest asks the provider to start a job.
type SubmitRequest struct {
	JobID   uuid.UUID       `json:"job_id"`
	JobType models.JobType  `json:"job_type"`
	Input   json.RawMessage `json:"input"`
}

// SubmitResponse carries the provider's opaque call handle.
type SubmitResponse struct {
	CallID string `json:"call_id"`
}

// StatusResponse is the provider's view of a running or finished call.
// Usage, when present, is the cumulative figure for the whole call so
// far, not a delta.
type StatusResponse struct {
	Status models.JobStatus    `json:"status"`
	Output json.RawMessage     `json:"output,omitempty"`
	Error  string              `json:"error,omitempty"`
	Usage  *models.UsageReport `json:"usage,omitempty"`
}

// Client is the abstract boundary to the external inference provider.
// Implementations are constructed explicitly and injected; there is no
// package-level instance.
type Client interface {
	// Submit starts a job on the provider. A returned error is terminal
	// for the job: no charge has occurred yet and none will.
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)

	// Status polls the provider for the current state of a call. Errors
	// are transient: the job keeps its current state and the caller
	// re-polls later.
	Status(ctx context.Context, callID string) (*StatusResponse, error)

	// Health checks provider reachability.
	Health(ctx context.Context) error
}
