// Package events publishes job lifecycle notifications over NATS.
// Publishing is best-effort: the billing and job paths never fail
// because a notification could not be delivered.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
)

// Subjects for job lifecycle events.
const (
	SubjectJobSubmitted = "jobs.lifecycle.submitted"
	SubjectJobRunning   = "jobs.lifecycle.running"
	SubjectJobCompleted = "jobs.lifecycle.completed"
	SubjectJobFailed    = "jobs.lifecycle.failed"

	// SubjectChargeApplied carries billing reconciliation outcomes that
	// actually moved money.
	SubjectChargeApplied = "jobs.billing.charged"
)

// JobEvent is the wire form of a lifecycle notification.
type JobEvent struct {
	JobID         uuid.UUID        `json:"job_id"`
	OwnerUserID   uuid.UUID        `json:"owner_user_id"`
	TeamID        *uuid.UUID       `json:"team_id,omitempty"`
	JobType       models.JobType   `json:"job_type"`
	Status        models.JobStatus `json:"status"`
	CostSoFar     int64            `json:"cost_so_far_minor"`
	BilledSeconds float64          `json:"billed_seconds"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Connect establishes a NATS connection with reconnect handling.
func Connect(natsAddress string, logger *zap.Logger) (*nats.Conn, error) {
	logger.Info("Connecting to NATS", zap.String("address", natsAddress))

	nc, err := nats.Connect(
		natsAddress,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(50),
		nats.ReconnectWait(time.Second*5),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			} else {
				logger.Warn("NATS disconnected (no specific error)")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed permanently")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsAddress, err)
	}

	logger.Info("Successfully connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher emits lifecycle events. A Publisher with a nil connection
// is valid and drops all events, so callers never need to branch on
// whether messaging is configured.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wraps a NATS connection. nc may be nil.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	return &Publisher{nc: nc, logger: logger}
}

// JobLifecycle publishes the job's current state to the subject matching
// its status. Errors are logged, never returned.
func (p *Publisher) JobLifecycle(job *models.Job) {
	if p == nil || p.nc == nil {
		return
	}

	subject := subjectForStatus(job.Status)
	event := JobEvent{
		JobID:         job.ID,
		OwnerUserID:   job.OwnerUserID,
		TeamID:        job.TeamID,
		JobType:       job.JobType,
		Status:        job.Status,
		CostSoFar:     job.CostSoFar,
		BilledSeconds: job.BilledSeconds,
		Timestamp:     time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event", zap.Error(err))
		return
	}

	if err := p.nc.Publish(subject, payload); err != nil {
		p.logger.Warn("Failed to publish job event",
			zap.String("subject", subject),
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("Published job event",
		zap.String("subject", subject),
		zap.String("job_id", job.ID.String()),
	)
}

// ChargeEvent is the wire form of an applied usage charge.
type ChargeEvent struct {
	JobID         uuid.UUID  `json:"job_id"`
	OwnerUserID   uuid.UUID  `json:"owner_user_id"`
	TeamID        *uuid.UUID `json:"team_id,omitempty"`
	AmountMinor   int64      `json:"amount_minor"`
	BilledSeconds float64    `json:"billed_seconds"`
	CostSoFar     int64      `json:"cost_so_far_minor"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ChargeApplied publishes a usage charge that was applied to the job's
// billing target. Errors are logged, never returned.
func (p *Publisher) ChargeApplied(job *models.Job, amountMinor int64) {
	if p == nil || p.nc == nil {
		return
	}

	event := ChargeEvent{
		JobID:         job.ID,
		OwnerUserID:   job.OwnerUserID,
		TeamID:        job.TeamID,
		AmountMinor:   amountMinor,
		BilledSeconds: job.BilledSeconds,
		CostSoFar:     job.CostSoFar,
		Timestamp:     time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal charge event", zap.Error(err))
		return
	}

	if err := p.nc.Publish(SubjectChargeApplied, payload); err != nil {
		p.logger.Warn("Failed to publish charge event",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}

func subjectForStatus(status models.JobStatus) string {
	switch status {
	case models.JobStatusPending:
		return SubjectJobSubmitted
	case models.JobStatusRunning:
		return SubjectJobRunning
	case models.JobStatusCompleted:
		return SubjectJobCompleted
	case models.JobStatusFailed:
		return SubjectJobFailed
	default:
		return SubjectJobSubmitted
	}
}
