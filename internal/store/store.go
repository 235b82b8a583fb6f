package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/foldworks/inference-service/internal/models"
)

// Store defines persistence for accounts, jobs, the ledger, and the
// rate table. This allows for different backend implementations
// (in-memory for tests, PostgreSQL in production).
type Store interface {
	AccountStore
	JobStore
	LedgerStore
	PricingStore

	// Initialize sets up the store, e.g. creates tables if they don't exist.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the store, like DB connections.
	Close() error
}

// AccountStore covers the two ledger entities and team membership.
// Balances are mutated only through the ledger; handlers never write
// them directly.
type AccountStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUserBalance(ctx context.Context, id uuid.UUID, balanceMinor int64) error

	CreateTeam(ctx context.Context, team *models.Team) error
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	UpdateTeamBalance(ctx context.Context, id uuid.UUID, balanceMinor int64) error

	AddTeamMember(ctx context.Context, membership *models.TeamMembership) error
	RemoveTeamMember(ctx context.Context, userID, teamID uuid.UUID) error
	HasTeamMember(ctx context.Context, userID, teamID uuid.UUID) (bool, error)
}

// JobStore persists job records and their billing watermarks.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, ownerUserID uuid.UUID, limit, offset int) ([]*models.Job, error)

	// ListJobsByStatus returns up to limit jobs in the given state,
	// oldest first. Used by the background observer to sweep running
	// jobs.
	ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)

	// SaveJob writes the complete state of an existing job.
	SaveJob(ctx context.Context, job *models.Job) error
}

// LedgerStore appends and reads the immutable audit trail.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, kind models.AccountKind, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error)
}

// PricingStore reads and seeds the hardware-class rate table.
type PricingStore interface {
	ListGpuPricing(ctx context.Context, activeOnly bool) ([]models.GpuPricing, error)
	UpsertGpuPricing(ctx context.Context, row *models.GpuPricing) error
}
