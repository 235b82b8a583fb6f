package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
	"github.com/foldworks/inference-service/internal/store"
)

func seedUser(t *testing.T, st *store.MemoryStore, balanceMinor int64) uuid.UUID {
	t.Helper()
	user := &models.User{ID: uuid.New(), BalanceMinor: balanceMinor}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	return user.ID
}

func seedTeam(t *testing.T, st *store.MemoryStore, balanceMinor int64) uuid.UUID {
	t.Helper()
	team := &models.Team{ID: uuid.New(), Name: "lab", BalanceMinor: balanceMinor}
	if err := st.CreateTeam(context.Background(), team); err != nil {
		t.Fatalf("CreateTeam() error: %v", err)
	}
	return team.ID
}

func addMember(t *testing.T, st *store.MemoryStore, userID, teamID uuid.UUID) {
	t.Helper()
	m := &models.TeamMembership{UserID: userID, TeamID: teamID, Role: "member"}
	if err := st.AddTeamMember(context.Background(), m); err != nil {
		t.Fatalf("AddTeamMember() error: %v", err)
	}
}

func TestResolvePersonalWhenNoTeamRequested(t *testing.T) {
	st := store.NewMemoryStore()
	userID := seedUser(t, st, 5000)
	resolver := NewResolver(st, zap.NewNop())

	bctx, err := resolver.Resolve(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if bctx.Kind != models.AccountKindPersonal {
		t.Errorf("Kind = %s, want personal", bctx.Kind)
	}
	if bctx.EntityID != userID {
		t.Errorf("EntityID = %s, want user %s", bctx.EntityID, userID)
	}
	if bctx.BalanceMinor != 5000 {
		t.Errorf("BalanceMinor = %d, want 5000", bctx.BalanceMinor)
	}
}

func TestResolveTeamWithMembership(t *testing.T) {
	st := store.NewMemoryStore()
	userID := seedUser(t, st, 100)
	teamID := seedTeam(t, st, 90000)
	addMember(t, st, userID, teamID)
	resolver := NewResolver(st, zap.NewNop())

	bctx, err := resolver.Resolve(context.Background(), userID, &teamID)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if bctx.Kind != models.AccountKindTeam {
		t.Errorf("Kind = %s, want team", bctx.Kind)
	}
	if bctx.EntityID != teamID {
		t.Errorf("EntityID = %s, want team %s", bctx.EntityID, teamID)
	}
	if bctx.BalanceMinor != 90000 {
		t.Errorf("BalanceMinor = %d, want 90000", bctx.BalanceMinor)
	}
}

func TestResolveFallsBackWithoutMembership(t *testing.T) {
	st := store.NewMemoryStore()
	userID := seedUser(t, st, 100)
	teamID := seedTeam(t, st, 90000)
	// Team exists but the user is not a member.
	resolver := NewResolver(st, zap.NewNop())

	bctx, err := resolver.Resolve(context.Background(), userID, &teamID)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if bctx.Kind != models.AccountKindPersonal {
		t.Errorf("Kind = %s, want personal fallback", bctx.Kind)
	}
	if bctx.EntityID != userID {
		t.Errorf("EntityID = %s, want user %s", bctx.EntityID, userID)
	}
}

func TestResolveFallsBackWhenTeamMissing(t *testing.T) {
	st := store.NewMemoryStore()
	userID := seedUser(t, st, 100)
	ghostTeam := uuid.New()
	// Membership row points at a team that no longer exists.
	addMember(t, st, userID, ghostTeam)
	resolver := NewResolver(st, zap.NewNop())

	bctx, err := resolver.Resolve(context.Background(), userID, &ghostTeam)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if bctx.Kind != models.AccountKindPersonal {
		t.Errorf("Kind = %s, want personal fallback", bctx.Kind)
	}
}

func TestResolveMembershipMustMatchExactPair(t *testing.T) {
	st := store.NewMemoryStore()
	userID := seedUser(t, st, 100)
	otherUser := seedUser(t, st, 100)
	teamID := seedTeam(t, st, 90000)
	addMember(t, st, otherUser, teamID)
	resolver := NewResolver(st, zap.NewNop())

	bctx, err := resolver.Resolve(context.Background(), userID, &teamID)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if bctx.Kind != models.AccountKindPersonal {
		t.Error("another user's membership must not grant team billing")
	}
}

func TestResolveUnknownUserErrors(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewResolver(st, zap.NewNop())

	if _, err := resolver.Resolve(context.Background(), uuid.New(), nil); err == nil {
		t.Fatal("Resolve() for unknown user should fail")
	}
}
