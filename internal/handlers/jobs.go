package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/artifacts"
	"github.com/foldworks/inference-service/internal/jobs"
	"github.com/foldworks/inference-service/internal/models"
)

// SubmitJob handles job submission requests.
func SubmitJob(jobService *jobs.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
			return
		}

		var req models.JobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode job submit request", zap.Error(err))
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		job, err := jobService.Submit(r.Context(), userID, &req)
		if err != nil {
			logger.Warn("Job submission rejected", zap.String("user_id", userID.String()), zap.Error(err))
			writeDomainError(w, err)
			return
		}

		writeJSONResponse(w, http.StatusCreated, models.JobSubmitResponse{
			JobID:  job.ID,
			Status: job.Status,
		})
	}
}

// GetJob handles job read requests. Reading a non-terminal job triggers
// an observation pass, so partial billing advances even for clients that
// only ever poll this endpoint. Output artifacts are enriched with
// signed download URLs.
func GetJob(jobService *jobs.Service, enricher *artifacts.Enricher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid job ID", err)
			return
		}

		job, err := jobService.Get(r.Context(), userID, jobID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		job, err = jobService.Observe(r.Context(), job)
		if err != nil {
			logger.Error("Observation failed during job read",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			writeDomainError(w, err)
			return
		}

		enriched, err := enricher.Enrich(r.Context(), job.Output)
		if err != nil {
			logger.Warn("Artifact enrichment failed, serving raw output",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			enriched = job.Output
		}
		job.Output = enriched

		writeJSONResponse(w, http.StatusOK, job)
	}
}

// ListJobs handles job listing for the authenticated user.
func ListJobs(jobService *jobs.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
			return
		}

		limit := parseQueryInt(r, "limit", 50)
		offset := parseQueryInt(r, "offset", 0)

		jobList, err := jobService.List(r.Context(), userID, limit, offset)
		if err != nil {
			logger.Error("Failed to list jobs", zap.String("user_id", userID.String()), zap.Error(err))
			writeDomainError(w, err)
			return
		}
		if jobList == nil {
			jobList = []*models.Job{}
		}

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"jobs":   jobList,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// JobProgressCallback handles inbound progress reports from the compute
// provider. Progress never affects billing.
func JobProgressCallback(jobService *jobs.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid job ID", err)
			return
		}

		var req models.ProgressCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode progress callback", zap.Error(err))
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		if err := jobService.RecordProgress(r.Context(), jobID, &req); err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

// JobCompletionCallback handles the provider's terminal report for a
// job. Completion runs the final reconciliation before the status
// flips.
func JobCompletionCallback(jobService *jobs.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid job ID", err)
			return
		}

		var req models.CompletionCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode completion callback", zap.Error(err))
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		job, err := jobService.GetAny(r.Context(), jobID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if err := jobService.Complete(r.Context(), job, &req); err != nil {
			logger.Error("Completion callback failed",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			writeDomainError(w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, map[string]string{
			"status": string(job.Status),
		})
	}
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
