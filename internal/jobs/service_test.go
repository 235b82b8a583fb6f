package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/billing"
	"github.com/foldworks/inference-service/internal/inference"
	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/pricing"
	"github.com/foldworks/inference-service/internal/store"
)

// fakeProvider implements inference.Client for testing.
type fakeProvider struct {
	submitErr  error
	statusResp *inference.StatusResponse
	statusErr  error

	submitted []inference.SubmitRequest
	polls     int
}

func (f *fakeProvider) Submit(ctx context.Context, req *inference.SubmitRequest) (*inference.SubmitResponse, error) {
	f.submitted = append(f.submitted, *req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &inference.SubmitResponse{CallID: "call-" + req.JobID.String()}, nil
}

func (f *fakeProvider) Status(ctx context.Context, callID string) (*inference.StatusResponse, error) {
	f.polls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusResp, nil
}

func (f *fakeProvider) Health(ctx context.Context) error { return nil }

type testEnv struct {
	store    *store.MemoryStore
	provider *fakeProvider
	service  *Service
}

func newTestEnv(t *testing.T, minBalanceMinor int64) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	rates := []models.GpuPricing{{
		Code:          "A10G",
		DisplayName:   "NVIDIA A10G",
		RatePerSecond: decimal.NewFromFloat(0.000306),
		MarkupPercent: decimal.NewFromInt(20),
		Active:        true,
	}}
	engine, err := pricing.NewEngine(rates, "A10G", zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	resolver := billing.NewResolver(st, zap.NewNop())
	ledger := billing.NewLedger(st, st, zap.NewNop())
	reconciler := billing.NewReconciler(st, engine, resolver, ledger, 1, zap.NewNop())
	provider := &fakeProvider{}

	return &testEnv{
		store:    st,
		provider: provider,
		service:  NewService(st, resolver, reconciler, provider, nil, minBalanceMinor, zap.NewNop()),
	}
}

func (e *testEnv) seedUser(t *testing.T, balanceMinor int64) uuid.UUID {
	t.Helper()
	user := &models.User{ID: uuid.New(), BalanceMinor: balanceMinor}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	return user.ID
}

func submitRequest(teamID *uuid.UUID) *models.JobSubmitRequest {
	return &models.JobSubmitRequest{
		TeamID:  teamID,
		JobType: models.JobTypePredict,
		Input:   json.RawMessage(`{"sequence":"MKV"}`),
	}
}

func TestSubmitHappyPath(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if job.Status != models.JobStatusRunning {
		t.Errorf("status = %s, want running", job.Status)
	}
	if job.ProviderCallID == "" {
		t.Error("provider call handle not recorded")
	}
	if len(env.provider.submitted) != 1 {
		t.Fatalf("provider received %d submissions, want 1", len(env.provider.submitted))
	}

	stored, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if stored.Status != models.JobStatusRunning {
		t.Errorf("persisted status = %s, want running", stored.Status)
	}
}

func TestSubmitRejectsUnknownJobType(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	req := submitRequest(nil)
	req.JobType = "folding-at-home"
	if _, err := env.service.Submit(context.Background(), userID, req); err == nil {
		t.Fatal("Submit() with unknown job type should fail")
	}
	if len(env.provider.submitted) != 0 {
		t.Error("invalid request must not reach the provider")
	}
}

func TestSubmitInsufficientBalanceCreatesNoJob(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 50)

	_, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err == nil {
		t.Fatal("Submit() below minimum balance should fail")
	}

	var apiErr *models.ApiError
	if !errors.As(err, &apiErr) || apiErr.Code != models.ErrCodeInsufficientBalance {
		t.Errorf("error = %v, want insufficient-balance", err)
	}

	jobList, _ := env.store.ListJobsByOwner(context.Background(), userID, 10, 0)
	if len(jobList) != 0 {
		t.Errorf("found %d job records, want none", len(jobList))
	}
	if len(env.provider.submitted) != 0 {
		t.Error("rejected submission must not reach the provider")
	}
}

func TestSubmitProviderFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)
	env.provider.submitErr = errors.New("connection refused")

	_, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err == nil {
		t.Fatal("Submit() should surface the provider failure")
	}

	jobList, _ := env.store.ListJobsByOwner(context.Background(), userID, 10, 0)
	if len(jobList) != 1 {
		t.Fatalf("found %d job records, want 1", len(jobList))
	}
	job := jobList[0]
	if job.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("failed job should carry an error message")
	}

	// No charge occurred; balance untouched.
	user, _ := env.store.GetUser(context.Background(), userID)
	if user.BalanceMinor != 5000 {
		t.Errorf("balance = %d, want untouched 5000", user.BalanceMinor)
	}
}

func TestSubmitFreezesTeamBillingTarget(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)
	team := &models.Team{ID: uuid.New(), Name: "lab", BalanceMinor: 50000}
	if err := env.store.CreateTeam(context.Background(), team); err != nil {
		t.Fatalf("CreateTeam() error: %v", err)
	}
	if err := env.store.AddTeamMember(context.Background(), &models.TeamMembership{UserID: userID, TeamID: team.ID}); err != nil {
		t.Fatalf("AddTeamMember() error: %v", err)
	}

	job, err := env.service.Submit(context.Background(), userID, submitRequest(&team.ID))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if job.TeamID == nil || *job.TeamID != team.ID {
		t.Fatal("job should record the team as its frozen billing target")
	}

	// The assignment must survive a later membership change.
	env.store.RemoveTeamMember(context.Background(), userID, team.ID)
	stored, _ := env.store.GetJob(context.Background(), job.ID)
	if stored.TeamID == nil || *stored.TeamID != team.ID {
		t.Error("billing target must not follow membership changes")
	}
}

func TestSubmitNonMemberTeamFallsBackToPersonal(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)
	strangerTeam := uuid.New()

	job, err := env.service.Submit(context.Background(), userID, submitRequest(&strangerTeam))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if job.TeamID != nil {
		t.Error("job billed to a team the user is not a member of")
	}
}

func TestObservePartialBillingThenCompletion(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 10000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	// Provider reports 60 of an eventual 120 seconds while running.
	env.provider.statusResp = &inference.StatusResponse{
		Status: models.JobStatusRunning,
		Usage:  &models.UsageReport{HardwareClass: "A10G", ExecutionSeconds: 60},
	}
	if _, err := env.service.Observe(context.Background(), job); err != nil {
		t.Fatalf("Observe() error: %v", err)
	}

	mid, _ := env.store.GetJob(context.Background(), job.ID)
	if mid.BilledSeconds != 60 {
		t.Fatalf("watermark after partial billing = %v, want 60", mid.BilledSeconds)
	}
	if mid.Status != models.JobStatusRunning {
		t.Errorf("status = %s, want still running", mid.Status)
	}
	// ceil(0.0003672 * 60 * 100) = 3.
	if mid.CostSoFar != 3 {
		t.Errorf("cost after partial billing = %d, want 3", mid.CostSoFar)
	}

	// Completion reports the final cumulative 120 seconds.
	output := json.RawMessage(`{"structure":{"key":"results/structure.pdb"}}`)
	env.provider.statusResp = &inference.StatusResponse{
		Status: models.JobStatusCompleted,
		Output: output,
		Usage:  &models.UsageReport{HardwareClass: "A10G", ExecutionSeconds: 120},
	}
	if _, err := env.service.Observe(context.Background(), mid); err != nil {
		t.Fatalf("Observe() at completion error: %v", err)
	}

	final, _ := env.store.GetJob(context.Background(), job.ID)
	if final.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.BilledSeconds != 120 {
		t.Errorf("final watermark = %v, want 120", final.BilledSeconds)
	}
	// Exactly one additional charge for the remaining 60 seconds.
	if final.CostSoFar != 6 {
		t.Errorf("final cost = %d, want 6 (two 60-second slices)", final.CostSoFar)
	}
	if final.CompletedAt == nil {
		t.Error("completed job should carry a completion timestamp")
	}
	if string(final.Output) != string(output) {
		t.Error("completed job should carry the provider output")
	}

	entries, _ := env.store.ListLedgerEntries(context.Background(), models.AccountKindPersonal, userID, 10, 0)
	if len(entries) != 2 {
		t.Errorf("got %d ledger entries, want 2", len(entries))
	}
}

func TestObservePollFailureIsTransient(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	env.provider.statusErr = errors.New("gateway timeout")
	observed, err := env.service.Observe(context.Background(), job)
	if err != nil {
		t.Fatalf("Observe() should swallow transient poll failures, got: %v", err)
	}
	if observed.Status != models.JobStatusRunning {
		t.Errorf("status = %s, want unchanged running", observed.Status)
	}
}

func TestObserveTerminalJobDoesNotPoll(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	env.provider.statusResp = &inference.StatusResponse{Status: models.JobStatusFailed, Error: "OOM"}
	if _, err := env.service.Observe(context.Background(), job); err != nil {
		t.Fatalf("Observe() error: %v", err)
	}
	pollsAtFailure := env.provider.polls

	terminal, _ := env.store.GetJob(context.Background(), job.ID)
	if _, err := env.service.Observe(context.Background(), terminal); err != nil {
		t.Fatalf("Observe() on terminal job error: %v", err)
	}
	if env.provider.polls != pollsAtFailure {
		t.Error("terminal job must not be polled again")
	}
}

func TestCompleteFailedRecordsErrorWithoutCharge(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	if err := env.service.Complete(context.Background(), job, &models.CompletionCallbackRequest{
		Status: models.JobStatusFailed,
		Error:  "model crashed",
	}); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	stored, _ := env.store.GetJob(context.Background(), job.ID)
	if stored.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.ErrorMessage != "model crashed" {
		t.Errorf("error message = %q, want provider error", stored.ErrorMessage)
	}

	user, _ := env.store.GetUser(context.Background(), userID)
	if user.BalanceMinor != 5000 {
		t.Errorf("balance = %d, failure must not charge", user.BalanceMinor)
	}
}

func TestCompleteIsNoOpOnTerminalJob(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if err := env.service.Complete(context.Background(), job, &models.CompletionCallbackRequest{
		Status: models.JobStatusFailed,
		Error:  "first",
	}); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	terminal, _ := env.store.GetJob(context.Background(), job.ID)
	if err := env.service.Complete(context.Background(), terminal, &models.CompletionCallbackRequest{
		Status: models.JobStatusCompleted,
		Usage:  &models.UsageReport{HardwareClass: "A10G", ExecutionSeconds: 600},
	}); err != nil {
		t.Fatalf("Complete() on terminal job error: %v", err)
	}

	stored, _ := env.store.GetJob(context.Background(), job.ID)
	if stored.Status != models.JobStatusFailed {
		t.Error("terminal state must not change")
	}
	user, _ := env.store.GetUser(context.Background(), userID)
	if user.BalanceMinor != 5000 {
		t.Error("no billing may occur after a terminal state")
	}
}

func TestRecordProgressAppendsEntries(t *testing.T) {
	env := newTestEnv(t, 100)
	userID := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), userID, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	for _, stage := range []string{"msa", "folding"} {
		if err := env.service.RecordProgress(context.Background(), job.ID, &models.ProgressCallbackRequest{
			Stage:   stage,
			Message: "working",
		}); err != nil {
			t.Fatalf("RecordProgress(%s) error: %v", stage, err)
		}
	}

	stored, _ := env.store.GetJob(context.Background(), job.ID)
	if len(stored.Progress) != 2 {
		t.Fatalf("got %d progress entries, want 2", len(stored.Progress))
	}
	if stored.Progress[0].Stage != "msa" || stored.Progress[1].Stage != "folding" {
		t.Error("progress entries out of order")
	}
	if stored.BilledSeconds != 0 || stored.CostSoFar != 0 {
		t.Error("progress reports must not affect billing")
	}
}

func TestGetHidesOtherUsersJobs(t *testing.T) {
	env := newTestEnv(t, 100)
	owner := env.seedUser(t, 5000)
	stranger := env.seedUser(t, 5000)

	job, err := env.service.Submit(context.Background(), owner, submitRequest(nil))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	if _, err := env.service.Get(context.Background(), stranger, job.ID); !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("Get() by non-owner = %v, want ErrJobNotFound", err)
	}
	if _, err := env.service.Get(context.Background(), owner, job.ID); err != nil {
		t.Errorf("Get() by owner error: %v", err)
	}
}
