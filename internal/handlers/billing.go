package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/billing"
	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/store"
)

// GetBalance reports the caller's resolved billing context. An optional
// team_id query parameter requests the team ledger; the usual personal
// fallback applies.
func GetBalance(resolver *billing.Resolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
			return
		}

		var teamID *uuid.UUID
		if raw := r.URL.Query().Get("team_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "Invalid team ID", err)
				return
			}
			teamID = &parsed
		}

		bctx, err := resolver.Resolve(r.Context(), userID, teamID)
		if err != nil {
			logger.Error("Failed to resolve billing context", zap.String("user_id", userID.String()), zap.Error(err))
			writeDomainError(w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, models.BalanceResponse{
			Kind:         bctx.Kind,
			EntityID:     bctx.EntityID,
			BalanceMinor: bctx.BalanceMinor,
		})
	}
}

// GetLedgerHistory returns a page of the caller's ledger entries. With
// team_id it returns the team ledger instead, subject to the same
// membership-based resolution as charging.
func GetLedgerHistory(resolver *billing.Resolver, entries store.LedgerStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
			return
		}

		var teamID *uuid.UUID
		if raw := r.URL.Query().Get("team_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "Invalid team ID", err)
				return
			}
			teamID = &parsed
		}

		bctx, err := resolver.Resolve(r.Context(), userID, teamID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		limit := parseQueryInt(r, "limit", 50)
		offset := parseQueryInt(r, "offset", 0)

		page, err := entries.ListLedgerEntries(r.Context(), bctx.Kind, bctx.EntityID, limit, offset)
		if err != nil {
			logger.Error("Failed to list ledger entries",
				zap.String("account_id", bctx.EntityID.String()),
				zap.Error(err),
			)
			writeDomainError(w, err)
			return
		}
		if page == nil {
			page = []models.LedgerEntry{}
		}

		writeJSONResponse(w, http.StatusOK, models.LedgerHistoryResponse{
			Entries: page,
			Limit:   limit,
			Offset:  offset,
		})
	}
}

// PaymentWebhook handles checkout-success events from the external
// payment gateway: the named entity's balance is credited and a deposit
// ledger entry recorded.
func PaymentWebhook(ledger *billing.Ledger, accounts store.AccountStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PaymentWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode payment webhook", zap.Error(err))
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if req.AmountMinor <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Deposit amount must be positive", models.ErrValidationFailed)
			return
		}
		if req.TargetKind != models.AccountKindPersonal && req.TargetKind != models.AccountKindTeam {
			writeErrorResponse(w, http.StatusBadRequest, "Unknown deposit target kind", models.ErrValidationFailed)
			return
		}

		bctx := &models.BillingContext{Kind: req.TargetKind, EntityID: req.EntityID}

		description := "Balance deposit"
		if req.Reference != "" {
			description = fmt.Sprintf("Balance deposit (ref %s)", req.Reference)
		}

		newBalance, err := ledger.Credit(r.Context(), bctx, req.AmountMinor, models.LedgerEntryDeposit, nil, description)
		if err != nil {
			logger.Error("Failed to credit deposit",
				zap.String("entity_id", req.EntityID.String()),
				zap.String("target_kind", string(req.TargetKind)),
				zap.Error(err),
			)
			writeDomainError(w, err)
			return
		}

		logger.Info("Deposit credited",
			zap.String("entity_id", req.EntityID.String()),
			zap.String("target_kind", string(req.TargetKind)),
			zap.Int64("amount_minor", req.AmountMinor),
			zap.Int64("new_balance_minor", newBalance),
		)

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"status":            "credited",
			"new_balance_minor": newBalance,
		})
	}
}
