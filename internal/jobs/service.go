// Package jobs drives the job lifecycle: submission against a prepaid
// balance, observation of provider status, partial billing while the
// job runs, and the reconcile-then-finalize completion path.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/billing"
	"github.com/foldworks/inference-service/internal/events"
	"github.com/foldworks/inference-service/internal/inference"
	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/store"
)

// submitFailureMessage is recorded on jobs whose provider submission
// failed. The transport detail goes to the log, not the job record.
const submitFailureMessage = "submission to compute provider failed"

// Service implements the job state machine.
type Service struct {
	store     store.Store
	resolver  *billing.Resolver
	reconcile *billing.Reconciler
	provider  inference.Client
	publisher *events.Publisher
	logger    *zap.Logger

	// Accounts below this balance may not start new work. Independent
	// of any job's eventual cost.
	minBalanceMinor int64
}

// NewService creates the job lifecycle service.
func NewService(
	st store.Store,
	resolver *billing.Resolver,
	reconciler *billing.Reconciler,
	provider inference.Client,
	publisher *events.Publisher,
	minBalanceMinor int64,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:           st,
		resolver:        resolver,
		reconcile:       reconciler,
		provider:        provider,
		publisher:       publisher,
		minBalanceMinor: minBalanceMinor,
		logger:          logger,
	}
}

// Submit validates the request, checks the resolved balance against the
// minimum floor, persists the job with its frozen billing target, and
// hands it to the provider. A provider-side submission failure is
// terminal: the job is recorded as failed and no charge has occurred.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req *models.JobSubmitRequest) (*models.Job, error) {
	if !models.ValidJobType(req.JobType) {
		return nil, models.NewValidationError("job_type", fmt.Sprintf("unsupported job type %q", req.JobType))
	}
	if len(req.Input) == 0 {
		return nil, models.NewValidationError("input", "input parameters are required")
	}

	bctx, err := s.resolver.Resolve(ctx, userID, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("resolving billing context: %w", err)
	}

	// The balance gate runs before any job record exists, so an
	// insufficient-balance rejection leaves no trace.
	if bctx.BalanceMinor < s.minBalanceMinor {
		s.logger.Info("Job submission rejected: balance below minimum",
			zap.String("user_id", userID.String()),
			zap.String("account_kind", string(bctx.Kind)),
			zap.Int64("balance_minor", bctx.BalanceMinor),
			zap.Int64("min_balance_minor", s.minBalanceMinor),
		)
		return nil, models.NewInsufficientBalanceError(bctx.Kind, s.minBalanceMinor, bctx.BalanceMinor)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		OwnerUserID: userID,
		JobType:     req.JobType,
		Status:      models.JobStatusPending,
		Input:       req.Input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Freeze the billing target now. The job bills this entity for its
	// whole life even if the user later switches or leaves the team.
	if bctx.Kind == models.AccountKindTeam {
		teamID := bctx.EntityID
		job.TeamID = &teamID
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}
	s.publisher.JobLifecycle(job)

	submitResp, err := s.provider.Submit(ctx, &inference.SubmitRequest{
		JobID:   job.ID,
		JobType: job.JobType,
		Input:   job.Input,
	})
	if err != nil {
		s.logger.Error("Provider submission failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		job.Status = models.JobStatusFailed
		job.ErrorMessage = submitFailureMessage
		job.UpdatedAt = time.Now().UTC()
		if saveErr := s.store.SaveJob(ctx, job); saveErr != nil {
			s.logger.Error("Failed to record submission failure",
				zap.String("job_id", job.ID.String()),
				zap.Error(saveErr),
			)
		}
		s.publisher.JobLifecycle(job)
		return nil, models.NewProviderSubmissionError(err)
	}

	job.Status = models.JobStatusRunning
	job.ProviderCallID = submitResp.CallID
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("recording provider call handle for job %s: %w", job.ID, err)
	}
	s.publisher.JobLifecycle(job)

	s.logger.Info("Job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.JobType)),
		zap.String("call_id", submitResp.CallID),
		zap.String("account_kind", string(bctx.Kind)),
	)
	return job, nil
}

// Get returns a job, verifying the caller owns it.
func (s *Service) Get(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerUserID != userID {
		// Ownership is not disclosed; an unowned job reads as absent.
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

// GetAny returns a job without an ownership check. For provider
// callbacks, which authenticate with the shared secret rather than a
// user identity.
func (s *Service) GetAny(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// List returns the caller's jobs, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Job, error) {
	return s.store.ListJobsByOwner(ctx, userID, limit, offset)
}

// Observe polls the provider for a non-terminal job and applies
// whatever it learns: partial billing for running jobs that report
// usage, or the completion path for terminal reports. Poll failures
// are transient: the job keeps its current state and the error is
// swallowed after logging. Terminal jobs are returned untouched.
func (s *Service) Observe(ctx context.Context, job *models.Job) (*models.Job, error) {
	if job.Status.IsTerminal() || job.ProviderCallID == "" {
		return job, nil
	}

	status, err := s.provider.Status(ctx, job.ProviderCallID)
	if err != nil {
		s.logger.Warn("Provider status poll failed, leaving job state untouched",
			zap.String("job_id", job.ID.String()),
			zap.String("call_id", job.ProviderCallID),
			zap.Error(err),
		)
		return job, nil
	}

	switch status.Status {
	case models.JobStatusCompleted, models.JobStatusFailed:
		if err := s.Complete(ctx, job, &models.CompletionCallbackRequest{
			Status: status.Status,
			Output: status.Output,
			Error:  status.Error,
			Usage:  status.Usage,
		}); err != nil {
			return nil, err
		}

	case models.JobStatusRunning:
		if status.Usage != nil {
			res, err := s.reconcile.Reconcile(ctx, job, status.Usage.HardwareClass, status.Usage.ExecutionSeconds)
			if err != nil {
				return nil, fmt.Errorf("partial billing for job %s: %w", job.ID, err)
			}
			if res.Applied {
				s.publisher.ChargeApplied(job, res.ChargeMinor)
			}
		}
	}

	return job, nil
}

// RecordProgress appends one provider progress entry. Progress reports
// never affect billing or status.
func (s *Service) RecordProgress(ctx context.Context, jobID uuid.UUID, req *models.ProgressCallbackRequest) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return models.ErrJobTerminal
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	job.Progress = append(job.Progress, models.ProgressEntry{
		Stage:     req.Stage,
		Message:   req.Message,
		Timestamp: ts,
	})
	job.UpdatedAt = time.Now().UTC()

	return s.store.SaveJob(ctx, job)
}

// Complete applies a terminal provider report. For a completed job the
// final reconciliation runs before the status flips, so any remaining
// unbilled seconds are collected rather than stranded behind a terminal
// state. Already-terminal jobs are a no-op.
func (s *Service) Complete(ctx context.Context, job *models.Job, req *models.CompletionCallbackRequest) error {
	if job.Status.IsTerminal() {
		return nil
	}
	if req.Status != models.JobStatusCompleted && req.Status != models.JobStatusFailed {
		return models.NewValidationError("status", fmt.Sprintf("completion status must be terminal, got %q", req.Status))
	}

	if req.Status == models.JobStatusCompleted && req.Usage != nil {
		// Reconcile first, finalize after.
		res, err := s.reconcile.Reconcile(ctx, job, req.Usage.HardwareClass, req.Usage.ExecutionSeconds)
		if err != nil {
			return fmt.Errorf("final reconciliation for job %s: %w", job.ID, err)
		}
		if res.Applied {
			s.publisher.ChargeApplied(job, res.ChargeMinor)
		}
	}

	now := time.Now().UTC()
	job.Status = req.Status
	job.UpdatedAt = now
	if req.Status == models.JobStatusCompleted {
		job.Output = req.Output
		job.CompletedAt = &now
	} else {
		job.ErrorMessage = req.Error
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("finalizing job %s: %w", job.ID, err)
	}
	s.publisher.JobLifecycle(job)

	s.logger.Info("Job finalized",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Float64("billed_seconds", job.BilledSeconds),
		zap.Int64("cost_so_far_minor", job.CostSoFar),
	)
	return nil
}
