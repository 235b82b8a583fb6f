package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/store"
)

// Resolver decides which ledger entity (user or team) a charge or
// credit applies to. Contexts are computed fresh on every call so the
// balance always reflects the latest ledger state.
type Resolver struct {
	store  store.AccountStore
	logger *zap.Logger
}

// NewResolver creates a new billing context resolver.
func NewResolver(accountStore store.AccountStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  accountStore,
		logger: logger,
	}
}

// Resolve returns the billing context for userID, preferring the
// requested team when the user holds a membership for it. A missing
// membership or a missing team row falls back silently to the personal
// context: stale client-side "active team" state must never block
// billing. Storage failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, teamID *uuid.UUID) (*models.BillingContext, error) {
	if teamID != nil {
		bctx, err := r.resolveTeam(ctx, userID, *teamID)
		if err != nil {
			return nil, err
		}
		if bctx != nil {
			return bctx, nil
		}
		// Fall through to the personal context.
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving personal billing context for user %s: %w", userID, err)
	}

	return &models.BillingContext{
		Kind:            models.AccountKindPersonal,
		EntityID:        user.ID,
		BalanceMinor:    user.BalanceMinor,
		PaymentCustomer: user.PaymentCustomer,
	}, nil
}

// resolveTeam returns the team context, or nil when the personal
// fallback should apply.
func (r *Resolver) resolveTeam(ctx context.Context, userID, teamID uuid.UUID) (*models.BillingContext, error) {
	isMember, err := r.store.HasTeamMember(ctx, userID, teamID)
	if err != nil {
		return nil, fmt.Errorf("checking membership for user %s in team %s: %w", userID, teamID, err)
	}
	if !isMember {
		r.logger.Debug("User has no membership for requested team, using personal context",
			zap.String("user_id", userID.String()),
			zap.String("team_id", teamID.String()),
		)
		return nil, nil
	}

	team, err := r.store.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, models.ErrTeamNotFound) {
			r.logger.Warn("Membership exists but team record is missing, using personal context",
				zap.String("user_id", userID.String()),
				zap.String("team_id", teamID.String()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("loading team %s: %w", teamID, err)
	}

	return &models.BillingContext{
		Kind:            models.AccountKindTeam,
		EntityID:        team.ID,
		BalanceMinor:    team.BalanceMinor,
		PaymentCustomer: team.PaymentCustomer,
	}, nil
}
