package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/store"
)

// Ledger applies balance mutations and appends the immutable audit
// trail. Every balance change in the system goes through here; direct
// balance writes anywhere else are a design defect.
//
// The read-modify-write on the account balance is deliberately not
// wrapped in a transaction or row lock: concurrent charges to the same
// account can lose an update. An accepted risk for the low-concurrency
// prepaid-balance use case this serves.
type Ledger struct {
	accounts store.AccountStore
	entries  store.LedgerStore
	logger   *zap.Logger
}

// NewLedger creates a new usage ledger.
func NewLedger(accounts store.AccountStore, entries store.LedgerStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		accounts: accounts,
		entries:  entries,
		logger:   logger,
	}
}

// Charge deducts amountMinor from the context's account, flooring the
// balance at zero, and appends a ledger entry. The entry records the
// nominal requested amount even when the floor absorbs part of it; the
// clamp is reconstructible from the entry's balance snapshot. Returns
// the new balance.
func (l *Ledger) Charge(ctx context.Context, bctx *models.BillingContext, amountMinor int64, kind models.LedgerEntryKind, jobID *uuid.UUID, description string) (int64, error) {
	if amountMinor <= 0 {
		return 0, fmt.Errorf("charge amount must be positive, got %d", amountMinor)
	}

	current, err := l.currentBalance(ctx, bctx)
	if err != nil {
		return 0, err
	}

	newBalance := current - amountMinor
	if newBalance < 0 {
		l.logger.Warn("Charge exceeds balance, flooring at zero",
			zap.String("account_kind", string(bctx.Kind)),
			zap.String("account_id", bctx.EntityID.String()),
			zap.Int64("requested_minor", amountMinor),
			zap.Int64("balance_minor", current),
		)
		newBalance = 0
	}

	if err := l.writeBalance(ctx, bctx, newBalance); err != nil {
		return 0, err
	}

	entry := &models.LedgerEntry{
		ID:                uuid.New(),
		AccountKind:       bctx.Kind,
		AccountID:         bctx.EntityID,
		AmountMinor:       -amountMinor,
		Kind:              kind,
		JobID:             jobID,
		Description:       description,
		BalanceAfterMinor: newBalance,
	}
	if err := l.entries.AppendLedgerEntry(ctx, entry); err != nil {
		return 0, fmt.Errorf("appending charge ledger entry: %w", err)
	}

	return newBalance, nil
}

// Credit adds amountMinor to the context's account and appends a ledger
// entry. Returns the new balance.
func (l *Ledger) Credit(ctx context.Context, bctx *models.BillingContext, amountMinor int64, kind models.LedgerEntryKind, jobID *uuid.UUID, description string) (int64, error) {
	if amountMinor <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amountMinor)
	}

	current, err := l.currentBalance(ctx, bctx)
	if err != nil {
		return 0, err
	}

	newBalance := current + amountMinor
	if err := l.writeBalance(ctx, bctx, newBalance); err != nil {
		return 0, err
	}

	entry := &models.LedgerEntry{
		ID:                uuid.New(),
		AccountKind:       bctx.Kind,
		AccountID:         bctx.EntityID,
		AmountMinor:       amountMinor,
		Kind:              kind,
		JobID:             jobID,
		Description:       description,
		BalanceAfterMinor: newBalance,
	}
	if err := l.entries.AppendLedgerEntry(ctx, entry); err != nil {
		return 0, fmt.Errorf("appending credit ledger entry: %w", err)
	}

	return newBalance, nil
}

// currentBalance reads the balance fresh from storage rather than
// trusting the snapshot on the context, which may be stale by the time
// the mutation happens.
func (l *Ledger) currentBalance(ctx context.Context, bctx *models.BillingContext) (int64, error) {
	switch bctx.Kind {
	case models.AccountKindTeam:
		team, err := l.accounts.GetTeam(ctx, bctx.EntityID)
		if err != nil {
			return 0, fmt.Errorf("reading team balance: %w", err)
		}
		return team.BalanceMinor, nil
	default:
		user, err := l.accounts.GetUser(ctx, bctx.EntityID)
		if err != nil {
			return 0, fmt.Errorf("reading user balance: %w", err)
		}
		return user.BalanceMinor, nil
	}
}

func (l *Ledger) writeBalance(ctx context.Context, bctx *models.BillingContext, balanceMinor int64) error {
	switch bctx.Kind {
	case models.AccountKindTeam:
		if err := l.accounts.UpdateTeamBalance(ctx, bctx.EntityID, balanceMinor); err != nil {
			return fmt.Errorf("writing team balance: %w", err)
		}
	default:
		if err := l.accounts.UpdateUserBalance(ctx, bctx.EntityID, balanceMinor); err != nil {
			return fmt.Errorf("writing user balance: %w", err)
		}
	}
	return nil
}
