// Package handlers exposes the HTTP surface: job lifecycle, billing
// reads, the rate table, provider callbacks, and the payment webhook.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
)

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; log and move on.
		zap.L().Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	var apiErr *models.ApiError
	if errors.As(err, &apiErr) {
		errorResponse["code"] = apiErr.Code
		if len(apiErr.Details) > 0 {
			errorResponse["details"] = apiErr.Details
		}
	}

	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		zap.L().Error("Failed to encode error response", zap.Error(encodeErr))
	}
}

// writeDomainError maps a service error onto an HTTP response.
func writeDomainError(w http.ResponseWriter, err error) {
	var apiErr *models.ApiError
	if errors.As(err, &apiErr) {
		writeErrorResponse(w, httpStatusForCode(apiErr.Code), apiErr.Message, apiErr)
		return
	}

	switch {
	case errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrTeamNotFound):
		writeErrorResponse(w, http.StatusNotFound, "Resource not found", err)
	case errors.Is(err, models.ErrJobTerminal):
		writeErrorResponse(w, http.StatusConflict, "Job is already finished", err)
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func httpStatusForCode(code string) int {
	switch code {
	case models.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case models.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case models.ErrCodeProviderSubmission:
		return http.StatusBadGateway
	case models.ErrCodeProviderPoll:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
