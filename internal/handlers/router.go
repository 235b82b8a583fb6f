package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/artifacts"
	"github.com/foldworks/inference-service/internal/billing"
	"github.com/foldworks/inference-service/internal/inference"
	"github.com/foldworks/inference-service/internal/jobs"
	"github.com/foldworks/inference-service/internal/pricing"
	"github.com/foldworks/inference-service/internal/store"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	JobService *jobs.Service
	Resolver   *billing.Resolver
	Ledger     *billing.Ledger
	Engine     *pricing.Engine
	Enricher   *artifacts.Enricher
	Provider   inference.Client
	Store      store.Store

	// CallbackSecret protects the provider callback surface; empty
	// disables the check. PaymentWebhookSecret does the same for the
	// payment gateway webhook.
	CallbackSecret       string
	PaymentWebhookSecret string

	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter assembles the service's HTTP routes.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		providerStatus := "unconfigured"
		if deps.Provider != nil {
			providerStatus = "healthy"
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := deps.Provider.Health(ctx); err != nil {
				providerStatus = "unreachable"
				logger.Warn("Provider health check failed", zap.Error(err))
			}
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{
			"status":   "healthy",
			"service":  "inference-service",
			"provider": providerStatus,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// User-facing surface, authenticated by the gateway-set
		// identity header.
		r.Group(func(r chi.Router) {
			r.Use(RequireUser(logger))

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", SubmitJob(deps.JobService, logger))
				r.Get("/", ListJobs(deps.JobService, logger))
				r.Get("/{jobID}", GetJob(deps.JobService, deps.Enricher, logger))
			})

			r.Route("/billing", func(r chi.Router) {
				r.Get("/balance", GetBalance(deps.Resolver, logger))
				r.Get("/ledger", GetLedgerHistory(deps.Resolver, deps.Store, logger))
			})
		})

		// Read-only rate table, no authentication.
		r.Get("/pricing/rates", GetPricingRates(deps.Engine, logger))

		// Provider callback surface.
		r.Group(func(r chi.Router) {
			r.Use(RequireSecret(deps.CallbackSecret, logger))

			r.Post("/jobs/{jobID}/progress", JobProgressCallback(deps.JobService, logger))
			r.Post("/jobs/{jobID}/complete", JobCompletionCallback(deps.JobService, logger))
		})

		// Payment gateway webhook.
		r.Group(func(r chi.Router) {
			r.Use(RequireSecret(deps.PaymentWebhookSecret, logger))

			r.Post("/webhooks/payments", PaymentWebhook(deps.Ledger, deps.Store, logger))
		})
	})

	return r
}
