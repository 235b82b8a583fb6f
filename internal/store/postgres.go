package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store. It expects a
// connected pgxpool.Pool.
func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Initialize creates the necessary database tables and seeds baseline
// rate rows.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	queries := []string{
		createUsersTable,
		createTeamsTable,
		createTeamMembersTable,
		createJobsTable,
		createLedgerEntriesTable,
		createGpuPricingTable,
		createIndexes,
		seedGpuPricing,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	s.logger.Info("Database tables initialized successfully")
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Account operations

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, balance_minor, payment_customer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(ctx, query,
		user.ID, user.BalanceMinor,
		sql.NullString{String: user.PaymentCustomer, Valid: user.PaymentCustomer != ""},
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var paymentCustomer sql.NullString

	query := `
		SELECT id, balance_minor, payment_customer, created_at, updated_at
		FROM users WHERE id = $1
	`
	err := s.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.BalanceMinor, &paymentCustomer, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if paymentCustomer.Valid {
		user.PaymentCustomer = paymentCustomer.String
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserBalance(ctx context.Context, id uuid.UUID, balanceMinor int64) error {
	query := `UPDATE users SET balance_minor = $2, updated_at = $3 WHERE id = $1`
	result, err := s.db.Exec(ctx, query, id, balanceMinor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update user balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, team *models.Team) error {
	now := time.Now().UTC()
	team.CreatedAt = now
	team.UpdatedAt = now

	query := `
		INSERT INTO teams (id, name, balance_minor, payment_customer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query,
		team.ID, team.Name, team.BalanceMinor,
		sql.NullString{String: team.PaymentCustomer, Valid: team.PaymentCustomer != ""},
		team.CreatedAt, team.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team := &models.Team{}
	var paymentCustomer sql.NullString

	query := `
		SELECT id, name, balance_minor, payment_customer, created_at, updated_at
		FROM teams WHERE id = $1
	`
	err := s.db.QueryRow(ctx, query, id).Scan(
		&team.ID, &team.Name, &team.BalanceMinor, &paymentCustomer, &team.CreatedAt, &team.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	if paymentCustomer.Valid {
		team.PaymentCustomer = paymentCustomer.String
	}
	return team, nil
}

func (s *PostgresStore) UpdateTeamBalance(ctx context.Context, id uuid.UUID, balanceMinor int64) error {
	query := `UPDATE teams SET balance_minor = $2, updated_at = $3 WHERE id = $1`
	result, err := s.db.Exec(ctx, query, id, balanceMinor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update team balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTeamNotFound
	}
	return nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, membership *models.TeamMembership) error {
	if membership.Role == "" {
		membership.Role = "member"
	}
	membership.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO team_members (user_id, team_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, team_id) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query, membership.UserID, membership.TeamID, membership.Role, membership.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, userID, teamID uuid.UUID) error {
	query := `DELETE FROM team_members WHERE user_id = $1 AND team_id = $2`
	if _, err := s.db.Exec(ctx, query, userID, teamID); err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasTeamMember(ctx context.Context, userID, teamID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM team_members WHERE user_id = $1 AND team_id = $2)`
	if err := s.db.QueryRow(ctx, query, userID, teamID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return exists, nil
}

// Job operations

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}

	query := `
		INSERT INTO jobs (
			id, owner_user_id, team_id, job_type, status, input, output,
			provider_call_id, hardware_class, execution_seconds, billed_seconds,
			cost_so_far, progress, error_message, created_at, completed_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = s.db.Exec(ctx, query,
		job.ID, job.OwnerUserID, job.TeamID, job.JobType, job.Status,
		[]byte(job.Input), []byte(job.Output),
		sql.NullString{String: job.ProviderCallID, Valid: job.ProviderCallID != ""},
		sql.NullString{String: job.HardwareClass, Valid: job.HardwareClass != ""},
		job.ExecutionSeconds, job.BilledSeconds, job.CostSoFar,
		progressJSON,
		sql.NullString{String: job.ErrorMessage, Valid: job.ErrorMessage != ""},
		job.CreatedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Job record created", zap.String("job_id", job.ID.String()))
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `
		SELECT id, owner_user_id, team_id, job_type, status, input, output,
		       provider_call_id, hardware_class, execution_seconds, billed_seconds,
		       cost_so_far, progress, error_message, created_at, completed_at, updated_at
		FROM jobs WHERE id = $1
	`
	job := &models.Job{}
	var (
		input, output, progressJSON    []byte
		providerCallID, hardwareClass  sql.NullString
		errorMessage                   sql.NullString
		completedAt                    sql.NullTime
	)

	err := s.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.OwnerUserID, &job.TeamID, &job.JobType, &job.Status,
		&input, &output, &providerCallID, &hardwareClass,
		&job.ExecutionSeconds, &job.BilledSeconds, &job.CostSoFar,
		&progressJSON, &errorMessage, &job.CreatedAt, &completedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	job.Input = input
	job.Output = output
	if providerCallID.Valid {
		job.ProviderCallID = providerCallID.String
	}
	if hardwareClass.Valid {
		job.HardwareClass = hardwareClass.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress for job %s: %w", id, err)
		}
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByOwner(ctx context.Context, ownerUserID uuid.UUID, limit, offset int) ([]*models.Job, error) {
	query := `
		SELECT id, owner_user_id, team_id, job_type, status, input, output,
		       provider_call_id, hardware_class, execution_seconds, billed_seconds,
		       cost_so_far, progress, error_message, created_at, completed_at, updated_at
		FROM jobs
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.Query(ctx, query, ownerUserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `
		SELECT id, owner_user_id, team_id, job_type, status, input, output,
		       provider_call_id, hardware_class, execution_seconds, billed_seconds,
		       cost_so_far, progress, error_message, created_at, completed_at, updated_at
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

func scanJobRows(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job := &models.Job{}
		var (
			input, output, progressJSON   []byte
			providerCallID, hardwareClass sql.NullString
			errorMessage                  sql.NullString
			completedAt                   sql.NullTime
		)
		err := rows.Scan(
			&job.ID, &job.OwnerUserID, &job.TeamID, &job.JobType, &job.Status,
			&input, &output, &providerCallID, &hardwareClass,
			&job.ExecutionSeconds, &job.BilledSeconds, &job.CostSoFar,
			&progressJSON, &errorMessage, &job.CreatedAt, &completedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.Input = input
		job.Output = output
		if providerCallID.Valid {
			job.ProviderCallID = providerCallID.String
		}
		if hardwareClass.Valid {
			job.HardwareClass = hardwareClass.String
		}
		if errorMessage.Valid {
			job.ErrorMessage = errorMessage.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		if len(progressJSON) > 0 {
			if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
				return nil, fmt.Errorf("failed to unmarshal progress for job %s: %w", job.ID, err)
			}
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("failed iterating job rows: %w", rows.Err())
	}
	return jobs, nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()

	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}

	query := `
		UPDATE jobs SET
			status = $2,
			output = $3,
			provider_call_id = $4,
			hardware_class = $5,
			execution_seconds = $6,
			billed_seconds = $7,
			cost_so_far = $8,
			progress = $9,
			error_message = $10,
			completed_at = $11,
			updated_at = $12
		WHERE id = $1
	`
	result, err := s.db.Exec(ctx, query,
		job.ID, job.Status, []byte(job.Output),
		sql.NullString{String: job.ProviderCallID, Valid: job.ProviderCallID != ""},
		sql.NullString{String: job.HardwareClass, Valid: job.HardwareClass != ""},
		job.ExecutionSeconds, job.BilledSeconds, job.CostSoFar,
		progressJSON,
		sql.NullString{String: job.ErrorMessage, Valid: job.ErrorMessage != ""},
		job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}

	s.logger.Debug("Job record saved",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
	)
	return nil
}

// Ledger operations

func (s *PostgresStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_entries (
			id, account_kind, account_id, amount_minor, kind, job_id,
			description, balance_after_minor, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.AccountKind, entry.AccountID, entry.AmountMinor,
		entry.Kind, entry.JobID, entry.Description, entry.BalanceAfterMinor,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	s.logger.Info("Ledger entry appended",
		zap.String("entry_id", entry.ID.String()),
		zap.String("account_kind", string(entry.AccountKind)),
		zap.String("account_id", entry.AccountID.String()),
		zap.Int64("amount_minor", entry.AmountMinor),
		zap.String("kind", string(entry.Kind)),
	)
	return nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, kind models.AccountKind, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, account_kind, account_id, amount_minor, kind, job_id,
		       description, balance_after_minor, created_at
		FROM ledger_entries
		WHERE account_kind = $1 AND account_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.Query(ctx, query, kind, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.AccountKind, &entry.AccountID, &entry.AmountMinor,
			&entry.Kind, &entry.JobID, &entry.Description, &entry.BalanceAfterMinor,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("failed iterating ledger entries: %w", rows.Err())
	}
	return entries, nil
}

// Pricing operations

func (s *PostgresStore) ListGpuPricing(ctx context.Context, activeOnly bool) ([]models.GpuPricing, error) {
	query := `
		SELECT code, display_name, rate_per_second, markup_percent, active, updated_at
		FROM gpu_pricing
	`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY code`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list gpu pricing: %w", err)
	}
	defer rows.Close()

	var pricing []models.GpuPricing
	for rows.Next() {
		var row models.GpuPricing
		err := rows.Scan(&row.Code, &row.DisplayName, &row.RatePerSecond, &row.MarkupPercent, &row.Active, &row.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gpu pricing row: %w", err)
		}
		pricing = append(pricing, row)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("failed iterating gpu pricing rows: %w", rows.Err())
	}
	return pricing, nil
}

func (s *PostgresStore) UpsertGpuPricing(ctx context.Context, row *models.GpuPricing) error {
	row.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO gpu_pricing (code, display_name, rate_per_second, markup_percent, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			rate_per_second = EXCLUDED.rate_per_second,
			markup_percent = EXCLUDED.markup_percent,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.Exec(ctx, query,
		row.Code, row.DisplayName, row.RatePerSecond, row.MarkupPercent, row.Active, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert gpu pricing %s: %w", row.Code, err)
	}
	return nil
}
