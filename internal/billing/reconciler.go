package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/pricing"
	"github.com/foldworks/inference-service/internal/store"
)

// SkipReason explains why a reconciliation pass applied no charge.
// Skips are expected outcomes, not failures, but observability needs to
// tell them apart from errors.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNoNewUsage     SkipReason = "no_new_usage"
	SkipBelowThreshold SkipReason = "below_threshold"
	SkipZeroCost       SkipReason = "zero_cost"
)

// ReconcileResult is the outcome of one reconciliation pass.
type ReconcileResult struct {
	Applied      bool
	Skip         SkipReason
	ChargeMinor  int64
	NewWatermark float64
	UsedFallback bool
}

// Reconciler charges only newly reported usage for a job, tracked via
// the billed-seconds watermark. Safe to call repeatedly with the same
// cumulative figure: a repeat or smaller value computes a non-positive
// delta and is a no-op, which is what makes polling from multiple code
// paths tolerable.
type Reconciler struct {
	jobs     store.JobStore
	engine   *pricing.Engine
	resolver *Resolver
	ledger   *Ledger
	logger   *zap.Logger

	// Below this many unbilled seconds a pass does nothing, to avoid
	// micro-transaction noise.
	minBillableSeconds float64

	// Per-job serialization. Observation runs from both the poll path
	// and the provider callback path; without this, two passes reading
	// the same watermark could each charge the same delta.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewReconciler creates a partial-billing reconciler.
func NewReconciler(jobs store.JobStore, engine *pricing.Engine, resolver *Resolver, ledger *Ledger, minBillableSeconds float64, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		jobs:               jobs,
		engine:             engine,
		resolver:           resolver,
		ledger:             ledger,
		minBillableSeconds: minBillableSeconds,
		logger:             logger,
		locks:              make(map[uuid.UUID]*sync.Mutex),
	}
}

// Reconcile bills the delta between reportedCumulativeSeconds and the
// job's watermark. The billing target is the job's frozen owner/team
// assignment, never the caller's session context. The job passed in is
// mutated and persisted when a charge applies.
func (r *Reconciler) Reconcile(ctx context.Context, job *models.Job, hardwareClass string, reportedCumulativeSeconds float64) (ReconcileResult, error) {
	if reportedCumulativeSeconds < 0 {
		return ReconcileResult{}, fmt.Errorf("reported cumulative seconds must be non-negative, got %v", reportedCumulativeSeconds)
	}

	lock := r.jobLock(job.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read inside the lock so a concurrent pass that already advanced
	// the watermark is observed.
	fresh, err := r.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reloading job %s for reconciliation: %w", job.ID, err)
	}
	job.BilledSeconds = fresh.BilledSeconds
	job.ExecutionSeconds = fresh.ExecutionSeconds
	job.CostSoFar = fresh.CostSoFar

	unbilled := reportedCumulativeSeconds - job.BilledSeconds
	if unbilled <= 0 {
		r.logger.Debug("Reconciliation skipped: no new usage",
			zap.String("job_id", job.ID.String()),
			zap.Float64("reported_seconds", reportedCumulativeSeconds),
			zap.Float64("billed_seconds", job.BilledSeconds),
		)
		return ReconcileResult{Skip: SkipNoNewUsage, NewWatermark: job.BilledSeconds}, nil
	}
	if unbilled < r.minBillableSeconds {
		r.logger.Debug("Reconciliation skipped: below billable threshold",
			zap.String("job_id", job.ID.String()),
			zap.Float64("unbilled_seconds", unbilled),
			zap.Float64("threshold_seconds", r.minBillableSeconds),
		)
		return ReconcileResult{Skip: SkipBelowThreshold, NewWatermark: job.BilledSeconds}, nil
	}

	cost, err := r.engine.Cost(hardwareClass, unbilled)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("computing cost for job %s: %w", job.ID, err)
	}
	if cost.UsedFallback {
		r.logger.Warn("Charging fallback hardware-class rate",
			zap.String("job_id", job.ID.String()),
			zap.String("reported_class", hardwareClass),
		)
	}
	if cost.AmountMinor == 0 {
		// Sub-minor-unit seconds stay unbilled until their cost crosses
		// one minor unit. The watermark does not advance.
		r.logger.Debug("Reconciliation skipped: cost rounds to zero",
			zap.String("job_id", job.ID.String()),
			zap.Float64("unbilled_seconds", unbilled),
		)
		return ReconcileResult{Skip: SkipZeroCost, NewWatermark: job.BilledSeconds, UsedFallback: cost.UsedFallback}, nil
	}

	bctx, err := r.resolver.Resolve(ctx, job.OwnerUserID, job.TeamID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("resolving billing context for job %s: %w", job.ID, err)
	}

	description := fmt.Sprintf("GPU usage: %.1fs on %s (job %s)", unbilled, hardwareClass, job.ID)
	if _, err := r.ledger.Charge(ctx, bctx, cost.AmountMinor, models.LedgerEntryJobUsage, &job.ID, description); err != nil {
		return ReconcileResult{}, fmt.Errorf("charging usage for job %s: %w", job.ID, err)
	}

	job.BilledSeconds = reportedCumulativeSeconds
	if reportedCumulativeSeconds > job.ExecutionSeconds {
		job.ExecutionSeconds = reportedCumulativeSeconds
	}
	job.CostSoFar += cost.AmountMinor
	if hardwareClass != "" {
		job.HardwareClass = hardwareClass
	}

	if job.BilledSeconds > job.ExecutionSeconds {
		// Never clamp this silently: it means the watermark ran ahead of
		// reported usage, which breaks the whole accounting model.
		r.logger.Error("Billing invariant violated",
			zap.String("job_id", job.ID.String()),
			zap.Float64("billed_seconds", job.BilledSeconds),
			zap.Float64("execution_seconds", job.ExecutionSeconds),
			zap.Error(models.ErrBilledSecondsRegression),
		)
		return ReconcileResult{}, models.ErrBilledSecondsRegression
	}

	if err := r.jobs.SaveJob(ctx, job); err != nil {
		return ReconcileResult{}, fmt.Errorf("persisting watermark for job %s: %w", job.ID, err)
	}

	r.logger.Info("Partial billing applied",
		zap.String("job_id", job.ID.String()),
		zap.Float64("unbilled_seconds", unbilled),
		zap.Int64("charge_minor", cost.AmountMinor),
		zap.Float64("new_watermark", job.BilledSeconds),
		zap.String("account_kind", string(bctx.Kind)),
	)

	return ReconcileResult{
		Applied:      true,
		ChargeMinor:  cost.AmountMinor,
		NewWatermark: job.BilledSeconds,
		UsedFallback: cost.UsedFallback,
	}, nil
}

func (r *Reconciler) jobLock(jobID uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[jobID] = lock
	}
	return lock
}
