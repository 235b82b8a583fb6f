package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foldworks/inference-service/internal/models"
)

// MemoryStore is an in-memory Store implementation used in tests and
// local development. It mirrors the PostgresStore semantics, including
// the non-transactional balance writes.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[uuid.UUID]*models.User
	teams       map[uuid.UUID]*models.Team
	memberships map[[2]uuid.UUID]*models.TeamMembership
	jobs        map[uuid.UUID]*models.Job
	ledger      []models.LedgerEntry
	pricing     map[string]models.GpuPricing
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]*models.User),
		teams:       make(map[uuid.UUID]*models.Team),
		memberships: make(map[[2]uuid.UUID]*models.TeamMembership),
		jobs:        make(map[uuid.UUID]*models.Job),
		pricing:     make(map[string]models.GpuPricing),
	}
}

// Initialize is a no-op for the in-memory store.
func (s *MemoryStore) Initialize(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) UpdateUserBalance(ctx context.Context, id uuid.UUID, balanceMinor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	user.BalanceMinor = balanceMinor
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateTeam(ctx context.Context, team *models.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	team.CreatedAt = now
	team.UpdatedAt = now
	copied := *team
	s.teams[team.ID] = &copied
	return nil
}

func (s *MemoryStore) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[id]
	if !ok {
		return nil, models.ErrTeamNotFound
	}
	copied := *team
	return &copied, nil
}

func (s *MemoryStore) UpdateTeamBalance(ctx context.Context, id uuid.UUID, balanceMinor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[id]
	if !ok {
		return models.ErrTeamNotFound
	}
	team.BalanceMinor = balanceMinor
	team.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AddTeamMember(ctx context.Context, membership *models.TeamMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if membership.Role == "" {
		membership.Role = "member"
	}
	membership.CreatedAt = time.Now().UTC()
	copied := *membership
	s.memberships[[2]uuid.UUID{membership.UserID, membership.TeamID}] = &copied
	return nil
}

func (s *MemoryStore) RemoveTeamMember(ctx context.Context, userID, teamID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, [2]uuid.UUID{userID, teamID})
	return nil
}

func (s *MemoryStore) HasTeamMember(ctx context.Context, userID, teamID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memberships[[2]uuid.UUID{userID, teamID}]
	return ok, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	copied := cloneJob(job)
	s.jobs[job.ID] = copied
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListJobsByOwner(ctx context.Context, ownerUserID uuid.UUID, limit, offset int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.OwnerUserID == ownerUserID {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return models.ErrJobNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ListLedgerEntries(ctx context.Context, kind models.AccountKind, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []models.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		e := s.ledger[i]
		if e.AccountKind == kind && e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) ListGpuPricing(ctx context.Context, activeOnly bool) ([]models.GpuPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pricing []models.GpuPricing
	for _, row := range s.pricing {
		if activeOnly && !row.Active {
			continue
		}
		pricing = append(pricing, row)
	}
	sort.Slice(pricing, func(i, j int) bool { return pricing[i].Code < pricing[j].Code })
	return pricing, nil
}

func (s *MemoryStore) UpsertGpuPricing(ctx context.Context, row *models.GpuPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = time.Now().UTC()
	s.pricing[row.Code] = *row
	return nil
}

func cloneJob(job *models.Job) *models.Job {
	copied := *job
	if job.Input != nil {
		copied.Input = append([]byte(nil), job.Input...)
	}
	if job.Output != nil {
		copied.Output = append([]byte(nil), job.Output...)
	}
	if job.Progress != nil {
		copied.Progress = append([]models.ProgressEntry(nil), job.Progress...)
	}
	if job.TeamID != nil {
		teamID := *job.TeamID
		copied.TeamID = &teamID
	}
	if job.CompletedAt != nil {
		completedAt := *job.CompletedAt
		copied.CompletedAt = &completedAt
	}
	return &copied
}
