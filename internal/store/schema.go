package store

// Database schema definitions for the inference billing service

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    balance_minor BIGINT NOT NULL DEFAULT 0,
    payment_customer VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (balance_minor >= 0)
);
`

const createTeamsTable = `
CREATE TABLE IF NOT EXISTS teams (
    id UUID PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    balance_minor BIGINT NOT NULL DEFAULT 0,
    payment_customer VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (balance_minor >= 0)
);
`

const createTeamMembersTable = `
CREATE TABLE IF NOT EXISTS team_members (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    role VARCHAR(50) NOT NULL DEFAULT 'member',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, team_id)
);
`

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id UUID PRIMARY KEY,
    owner_user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    team_id UUID REFERENCES teams(id),
    job_type VARCHAR(50) NOT NULL,
    status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    input JSONB,
    output JSONB,
    provider_call_id VARCHAR(255),
    hardware_class VARCHAR(100),
    execution_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    billed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost_so_far BIGINT NOT NULL DEFAULT 0,
    progress JSONB,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (execution_seconds >= 0),
    CHECK (billed_seconds >= 0),
    CHECK (billed_seconds <= execution_seconds),
    CHECK (cost_so_far >= 0)
);
`

const createLedgerEntriesTable = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    account_kind VARCHAR(20) NOT NULL CHECK (account_kind IN ('personal', 'team')),
    account_id UUID NOT NULL,
    amount_minor BIGINT NOT NULL,
    kind VARCHAR(20) NOT NULL CHECK (kind IN ('deposit', 'job_usage', 'refund')),
    job_id UUID,
    description TEXT NOT NULL,
    balance_after_minor BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (balance_after_minor >= 0)
);
`

const createGpuPricingTable = `
CREATE TABLE IF NOT EXISTS gpu_pricing (
    code VARCHAR(100) PRIMARY KEY,
    display_name VARCHAR(255) NOT NULL,
    rate_per_second DECIMAL(20,9) NOT NULL,
    markup_percent DECIMAL(5,2) NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (rate_per_second >= 0),
    CHECK (markup_percent >= 0)
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_kind, account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_job ON ledger_entries (job_id) WHERE job_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_team_members_team ON team_members (team_id);
`

// seedGpuPricing inserts the baseline rate rows. Rates are per second in
// major currency units; administrative updates happen out of band.
const seedGpuPricing = `
INSERT INTO gpu_pricing (code, display_name, rate_per_second, markup_percent, active)
VALUES
    ('A10G', 'NVIDIA A10G', 0.000306, 20, TRUE),
    ('T4',   'NVIDIA T4',   0.000164, 20, TRUE),
    ('L4',   'NVIDIA L4',   0.000222, 20, TRUE),
    ('A100', 'NVIDIA A100 80GB', 0.000944, 20, TRUE),
    ('H100', 'NVIDIA H100', 0.001097, 20, TRUE)
ON CONFLICT (code) DO NOTHING;
`
