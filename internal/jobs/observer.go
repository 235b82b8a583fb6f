package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/store"
)

// Observer periodically sweeps running jobs and polls the provider for
// each, so partial billing advances and completions land even when no
// client is polling the read endpoint. Each poll is bounded by a
// per-poll timeout; a slow provider delays one job, not the sweep.
type Observer struct {
	jobs        store.JobStore
	service     *Service
	logger      *zap.Logger
	interval    time.Duration
	pollTimeout time.Duration
	batchSize   int

	// Bounds concurrent provider polls within one sweep.
	sem *semaphore.Weighted
}

// NewObserver creates a background job observer. Non-positive settings
// fall back to conservative defaults.
func NewObserver(jobs store.JobStore, service *Service, interval, pollTimeout time.Duration, maxConcurrent int64, logger *zap.Logger) *Observer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 15 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Observer{
		jobs:        jobs,
		service:     service,
		logger:      logger.Named("job_observer"),
		interval:    interval,
		pollTimeout: pollTimeout,
		batchSize:   100,
		sem:         semaphore.NewWeighted(maxConcurrent),
	}
}

// Run sweeps until ctx is cancelled. Blocking; callers start it in its
// own goroutine.
func (o *Observer) Run(ctx context.Context) {
	o.logger.Info("Job observer started",
		zap.Duration("interval", o.interval),
		zap.Duration("poll_timeout", o.pollTimeout),
	)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Job observer stopping")
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Observer) sweep(ctx context.Context) {
	running, err := o.jobs.ListJobsByStatus(ctx, models.JobStatusRunning, o.batchSize)
	if err != nil {
		o.logger.Error("Failed to list running jobs for sweep", zap.Error(err))
		return
	}
	if len(running) == 0 {
		return
	}

	o.logger.Debug("Sweeping running jobs", zap.Int("count", len(running)))

	for _, job := range running {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(job *models.Job) {
			defer o.sem.Release(1)
			defer func() {
				if rec := recover(); rec != nil {
					o.logger.Error("Panic during job observation",
						zap.String("job_id", job.ID.String()),
						zap.Any("panic", rec),
					)
				}
			}()

			pollCtx, cancel := context.WithTimeout(ctx, o.pollTimeout)
			defer cancel()

			if _, err := o.service.Observe(pollCtx, job); err != nil {
				o.logger.Error("Observation failed during sweep",
					zap.String("job_id", job.ID.String()),
					zap.Error(err),
				)
			}
		}(job)
	}
}
