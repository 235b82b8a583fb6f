package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/pricing"
)

// GetPricingRates returns the read-only rate table for all active
// hardware classes.
func GetPricingRates(engine *pricing.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"rates": engine.Listings(),
		})
	}
}
