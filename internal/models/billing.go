package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind distinguishes the two ledger entities a charge can target.
type AccountKind string

const (
	AccountKindPersonal AccountKind = "personal"
	AccountKindTeam     AccountKind = "team"
)

// BillingContext is the resolved decision of which account a charge or
// credit applies to. It is computed fresh at each decision point and
// never persisted: the balance must reflect the latest ledger state.
type BillingContext struct {
	Kind            AccountKind `json:"kind"`
	EntityID        uuid.UUID   `json:"entity_id"`
	BalanceMinor    int64       `json:"balance_minor"`
	PaymentCustomer string      `json:"payment_customer,omitempty"`
}

// LedgerEntryKind represents the kind of a ledger entry.
type LedgerEntryKind string

const (
	LedgerEntryDeposit  LedgerEntryKind = "deposit"
	LedgerEntryJobUsage LedgerEntryKind = "job_usage"
	LedgerEntryRefund   LedgerEntryKind = "refund"
)

// LedgerEntry is an immutable, append-only record of a balance change.
// AmountMinor is signed: negative for charges, positive for credits.
// For charges it records the nominal requested amount; the zero floor
// on the account balance can absorb part of it, which is reconstructible
// from BalanceAfterMinor.
type LedgerEntry struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	AccountKind       AccountKind     `json:"account_kind" db:"account_kind"`
	AccountID         uuid.UUID       `json:"account_id" db:"account_id"`
	AmountMinor       int64           `json:"amount_minor" db:"amount_minor"`
	Kind              LedgerEntryKind `json:"kind" db:"kind"`
	JobID             *uuid.UUID      `json:"job_id,omitempty" db:"job_id"`
	Description       string          `json:"description" db:"description"`
	BalanceAfterMinor int64           `json:"balance_after_minor" db:"balance_after_minor"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// GpuPricing is one row of the hardware-class rate table. RatePerSecond
// is the provider's raw metered rate per second in major currency
// units; the effective rate applies the markup on top.
type GpuPricing struct {
	Code          string          `json:"code" db:"code"`
	DisplayName   string          `json:"display_name" db:"display_name"`
	RatePerSecond decimal.Decimal `json:"rate_per_second" db:"rate_per_second"`
	MarkupPercent decimal.Decimal `json:"markup_percent" db:"markup_percent"`
	Active        bool            `json:"active" db:"active"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// EffectiveRatePerSecond returns the raw rate with markup applied.
func (p GpuPricing) EffectiveRatePerSecond() decimal.Decimal {
	markup := decimal.NewFromInt(1).Add(p.MarkupPercent.Div(decimal.NewFromInt(100)))
	return p.RatePerSecond.Mul(markup)
}

// RateListing is the read-only rate table payload.
type RateListing struct {
	Code                   string          `json:"code"`
	DisplayName            string          `json:"display_name"`
	RatePerSecond          decimal.Decimal `json:"rate_per_second"`
	MarkupPercent          decimal.Decimal `json:"markup_percent"`
	EffectiveRatePerSecond decimal.Decimal `json:"effective_rate_per_second"`
	EffectiveRatePerMinute decimal.Decimal `json:"effective_rate_per_minute"`
}

// User is the ledger-relevant slice of a user account. Identity and
// sessions live in an external subsystem; only the balance and payment
// customer reference matter here. The balance is mutated exclusively
// through the ledger.
type User struct {
	ID              uuid.UUID `json:"id" db:"id"`
	BalanceMinor    int64     `json:"balance_minor" db:"balance_minor"`
	PaymentCustomer string    `json:"payment_customer,omitempty" db:"payment_customer"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Team is a shared ledger entity with its own prepaid balance.
type Team struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	BalanceMinor    int64     `json:"balance_minor" db:"balance_minor"`
	PaymentCustomer string    `json:"payment_customer,omitempty" db:"payment_customer"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// TeamMembership links a user to a team. Its presence is what allows a
// user to bill against the team balance.
type TeamMembership struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	TeamID    uuid.UUID `json:"team_id" db:"team_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PaymentWebhookRequest is the checkout-success event payload from the
// external payment gateway. Only balance crediting is consumed here.
type PaymentWebhookRequest struct {
	EntityID    uuid.UUID   `json:"entity_id"`
	AmountMinor int64       `json:"amount_minor"`
	TargetKind  AccountKind `json:"target_kind"`
	Reference   string      `json:"reference,omitempty"`
}

// BalanceResponse reports the resolved billing context for a caller.
type BalanceResponse struct {
	Kind         AccountKind `json:"kind"`
	EntityID     uuid.UUID   `json:"entity_id"`
	BalanceMinor int64       `json:"balance_minor"`
}

// LedgerHistoryResponse is a page of ledger entries.
type LedgerHistoryResponse struct {
	Entries []LedgerEntry `json:"entries"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}
