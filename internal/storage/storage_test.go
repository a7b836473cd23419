package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena_test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(path)
	})
	return s
}

func seedUser(t *testing.T, s *Store, email string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     "tester",
		PasswordHash: "x",
		Role:         models.RoleUser,
		Active:       true,
		EncSalt:      []byte("0123456789abcdef"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func seedProvider(t *testing.T, s *Store, userID string) *models.Provider {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Provider{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      "gpt",
		Variant:   models.VariantOpenAI,
		Endpoint:  "https://api.openai.com/v1",
		Model:     "gpt-4o",
		APIKeyEnc: "v1:enc",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateProvider(p); err != nil {
		t.Fatalf("CreateProvider failed: %v", err)
	}
	return p
}

func seedBot(t *testing.T, s *Store, userID, providerID string) *models.Bot {
	t.Helper()
	now := time.Now().UTC()
	b := &models.Bot{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         "alpha",
		SystemPrompt: "trade carefully",
		ProviderID:   providerID,
		Mode:         models.ModePaper,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateBot(b); err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	return b
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "dup@example.com")

	now := time.Now().UTC()
	err := s.CreateUser(&models.User{
		ID: uuid.NewString(), Email: "dup@example.com", Username: "other",
		PasswordHash: "y", Role: models.RoleUser, Active: true,
		EncSalt: []byte("salt"), CreatedAt: now, UpdatedAt: now,
	})
	if !IsConflict(err) {
		t.Fatalf("expected ErrConflict for duplicate email, got: %v", err)
	}
}

func TestBotRequiresProvider(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "fk@example.com")

	now := time.Now().UTC()
	err := s.CreateBot(&models.Bot{
		ID: uuid.NewString(), UserID: u.ID, Name: "b", SystemPrompt: "p",
		ProviderID: "missing", Mode: models.ModePaper, Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	if !IsIntegrity(err) {
		t.Fatalf("expected ErrIntegrity for missing provider, got: %v", err)
	}
}

func TestOwnerIsolation(t *testing.T) {
	s := openTestStore(t)
	userA := seedUser(t, s, "a@example.com")
	userB := seedUser(t, s, "b@example.com")
	provA := seedProvider(t, s, userA.ID)

	// B must not see A's provider, neither by list nor by id.
	provs, total, err := s.ListProviders(userB.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	if total != 0 || len(provs) != 0 {
		t.Errorf("expected no providers for user B, got %d", len(provs))
	}

	if _, err := s.GetProvider(provA.ID, userB.ID); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound for cross-tenant get, got: %v", err)
	}

	// Admin (empty owner) sees it.
	if _, err := s.GetProvider(provA.ID, ""); err != nil {
		t.Errorf("admin get failed: %v", err)
	}
}

func TestApplyTurnAtomic(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "turn@example.com")
	p := seedProvider(t, s, u.ID)
	b := seedBot(t, s, u.ID, p.ID)

	now := time.Now().UTC()
	pos := &models.Position{
		ID: uuid.NewString(), UserID: u.ID, BotID: b.ID, Symbol: "BTCUSDT",
		Side: models.SideLong, EntryPrice: 69500, Size: 2000, Leverage: 10,
		LiquidationPrice: 62898, Status: models.PositionOpen, OpenedAt: now,
	}
	tw := &TurnWrite{
		OpenedPositions: []*models.Position{pos},
		Trades: []*models.Trade{{
			ID: uuid.NewString(), UserID: u.ID, BotID: b.ID, PositionID: pos.ID,
			Symbol: "BTCUSDT", Side: models.SideLong, Action: models.ActionOpen,
			EntryPrice: 69500, Size: 2000, Leverage: 10, Fee: 0.6, ExecutedAt: now,
		}},
		Decision: &models.Decision{
			ID: uuid.NewString(), UserID: u.ID, BotID: b.ID, Prompt: "p",
			Actions: []models.BotAction{{Action: "LONG", Symbol: "BTCUSDT", Size: 2000, Leverage: 10}},
			Success: true, CreatedAt: now,
		},
		Snapshot: &models.Snapshot{
			ID: uuid.NewString(), UserID: u.ID, BotID: b.ID,
			Balance: 9799.4, TotalValue: 9999.4, CreatedAt: now,
		},
	}
	if err := s.ApplyTurn(context.Background(), tw); err != nil {
		t.Fatalf("ApplyTurn failed: %v", err)
	}

	open, err := s.OpenPositions(b.ID)
	if err != nil {
		t.Fatalf("OpenPositions failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].ClosedAt != nil {
		t.Error("open position should have nil closed_at")
	}

	// Turn with a bad row rolls back entirely.
	bad := &TurnWrite{
		Trades: []*models.Trade{{
			ID: uuid.NewString(), UserID: "missing-user", BotID: b.ID,
			Symbol: "BTCUSDT", Side: models.SideLong, Action: models.ActionOpen,
			EntryPrice: 1, Size: 1, Leverage: 1, ExecutedAt: now,
		}},
		Snapshot: &models.Snapshot{
			ID: uuid.NewString(), UserID: u.ID, BotID: b.ID,
			Balance: 1, TotalValue: 1, CreatedAt: now,
		},
	}
	if err := s.ApplyTurn(context.Background(), bad); err == nil {
		t.Fatal("expected error from bad turn write")
	}
	snaps, err := s.GetBotSnapshots(b.ID, time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("GetBotSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("rollback leaked a snapshot: got %d rows, want 1", len(snaps))
	}
}

func TestClosePositionSetsClosedAt(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "close@example.com")
	p := seedProvider(t, s, u.ID)
	b := seedBot(t, s, u.ID, p.ID)

	now := time.Now().UTC()
	pos := &models.Position{
		ID: uuid.NewString(), UserID: u.ID, BotID: b.ID, Symbol: "ETHUSDT",
		Side: models.SideShort, EntryPrice: 2500, Size: 500, Leverage: 5,
		LiquidationPrice: 2987.5, Status: models.PositionOpen, OpenedAt: now,
	}
	if err := s.ApplyTurn(context.Background(), &TurnWrite{OpenedPositions: []*models.Position{pos}}); err != nil {
		t.Fatalf("ApplyTurn failed: %v", err)
	}

	closedAt := now.Add(time.Minute)
	pos.ClosedAt = &closedAt
	if err := s.ApplyTurn(context.Background(), &TurnWrite{ClosedPositions: []*models.Position{pos}}); err != nil {
		t.Fatalf("close turn failed: %v", err)
	}

	rows, _, err := s.ListPositions(b.ID, "", "closed", 10, 0)
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(rows))
	}
	if rows[0].ClosedAt == nil {
		t.Error("closed position missing closed_at")
	}

	// Closing twice is a NotFound: status guard excludes closed rows.
	err = s.ApplyTurn(context.Background(), &TurnWrite{ClosedPositions: []*models.Position{pos}})
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound on double close, got: %v", err)
	}
}

func TestResetBotKeepsSummary(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "reset@example.com")
	p := seedProvider(t, s, u.ID)
	b := seedBot(t, s, u.ID, p.ID)

	now := time.Now().UTC()
	tw := &TurnWrite{
		Decision: &models.Decision{
			ID: uuid.NewString(), UserID: u.ID, BotID: b.ID, Prompt: "p",
			Success: true, CreatedAt: now,
		},
		Snapshot: &models.Snapshot{
			ID: uuid.NewString(), UserID: u.ID, BotID: b.ID,
			Balance: 9000, TotalValue: 9000, CreatedAt: now,
		},
	}
	if err := s.ApplyTurn(context.Background(), tw); err != nil {
		t.Fatalf("ApplyTurn failed: %v", err)
	}
	summary := &models.HistorySummary{
		BotID: b.ID, UserID: u.ID, Summary: "learned: patience",
		DecisionCount: 12, FromTime: now.Add(-time.Hour), ToTime: now,
		GeneratedAt: now, TokenCount: 40,
	}
	if err := s.ReplaceHistorySummary(summary); err != nil {
		t.Fatalf("ReplaceHistorySummary failed: %v", err)
	}

	fresh := &models.Snapshot{
		ID: uuid.NewString(), UserID: u.ID, BotID: b.ID,
		Balance: 10000, TotalValue: 10000, CreatedAt: time.Now().UTC(),
	}
	if err := s.ResetBot(context.Background(), b.ID, fresh); err != nil {
		t.Fatalf("ResetBot failed: %v", err)
	}

	decisions, total, err := s.ListDecisions(b.ID, "", 10, 0)
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if total != 0 || len(decisions) != 0 {
		t.Errorf("reset should remove decisions, got %d", total)
	}
	snaps, err := s.GetBotSnapshots(b.ID, time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("GetBotSnapshots failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Balance != 10000 {
		t.Errorf("reset should leave one fresh snapshot at 10000, got %+v", snaps)
	}

	// Summary survives reset; clear-learning removes only it.
	if _, err := s.GetHistorySummary(b.ID, ""); err != nil {
		t.Errorf("summary should survive reset: %v", err)
	}
	if err := s.DeleteHistorySummary(b.ID, ""); err != nil {
		t.Fatalf("DeleteHistorySummary failed: %v", err)
	}
	if _, err := s.GetHistorySummary(b.ID, ""); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound after clear-learning, got: %v", err)
	}
}

func TestWalletActiveUniquePerBotExchange(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "wallet@example.com")
	p := seedProvider(t, s, u.ID)
	b := seedBot(t, s, u.ID, p.ID)

	now := time.Now().UTC()
	w := &models.Wallet{
		ID: uuid.NewString(), UserID: u.ID, BotID: b.ID, Exchange: "binance",
		APIKeyEnc: "v1:k", APISecretEnc: "v1:s", Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateWallet(w); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	dup := *w
	dup.ID = uuid.NewString()
	if err := s.CreateWallet(&dup); !IsConflict(err) {
		t.Fatalf("expected ErrConflict for second active wallet, got: %v", err)
	}

	// Inactive duplicate is fine.
	dup.ID = uuid.NewString()
	dup.Active = false
	if err := s.CreateWallet(&dup); err != nil {
		t.Errorf("inactive duplicate wallet should be allowed: %v", err)
	}
}

func TestArenaStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.ReadArenaState(); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound before first write, got: %v", err)
	}

	blob := []byte(`{"updated_at":"2026-08-24T00:00:00Z","market":{},"bots":{}}`)
	if err := s.ReplaceArenaState(blob); err != nil {
		t.Fatalf("ReplaceArenaState failed: %v", err)
	}
	got, err := s.ReadArenaState()
	if err != nil {
		t.Fatalf("ReadArenaState failed: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("arena state mismatch: %s", got)
	}
}

func TestUsageMarkReported(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "usage@example.com")
	p := seedProvider(t, s, u.ID)

	now := time.Now().UTC()
	row := &models.TokenUsage{
		ID: uuid.NewString(), UserID: u.ID, ProviderID: p.ID,
		Kind: models.KindDecision, InputTokens: 100, OutputTokens: 20,
		TotalCost: 3, Model: "gpt-4o", LatencyMs: 900, CreatedAt: now,
	}
	if err := s.InsertUsage(row); err != nil {
		t.Fatalf("InsertUsage failed: %v", err)
	}
	// Idempotent re-insert.
	if err := s.InsertUsage(row); err != nil {
		t.Fatalf("re-insert should be a no-op: %v", err)
	}

	unreported, err := s.UnreportedUsage(u.ID)
	if err != nil {
		t.Fatalf("UnreportedUsage failed: %v", err)
	}
	if len(unreported) != 1 {
		t.Fatalf("expected 1 unreported row, got %d", len(unreported))
	}

	if err := s.MarkReported([]string{row.ID}); err != nil {
		t.Fatalf("MarkReported failed: %v", err)
	}
	unreported, err = s.UnreportedUsage(u.ID)
	if err != nil {
		t.Fatalf("UnreportedUsage failed: %v", err)
	}
	if len(unreported) != 0 {
		t.Errorf("expected 0 unreported rows, got %d", len(unreported))
	}
}

func TestProviderDeleteWithDependents(t *testing.T) {
	s := openTestStore(t)
	u := seedUser(t, s, "dep@example.com")
	p := seedProvider(t, s, u.ID)
	seedBot(t, s, u.ID, p.ID)

	if err := s.DeleteProvider(p.ID, u.ID); !IsIntegrity(err) {
		t.Fatalf("expected ErrIntegrity for provider with dependent bots, got: %v", err)
	}
}
