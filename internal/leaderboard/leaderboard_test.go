package leaderboard

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

type lbFixture struct {
	store *storage.Store
	svc   *Service
	user  *models.User
	prov  *models.Provider
}

func newLBFixture(t *testing.T) *lbFixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "lb_test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	user := &models.User{
		ID: uuid.NewString(), Email: "l@example.com", Username: "l",
		PasswordHash: "x", Role: models.RoleUser, Active: true,
		EncSalt: []byte("salt"), CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	prov := &models.Provider{
		ID: uuid.NewString(), UserID: user.ID, Name: "p",
		Variant: models.VariantOpenAI, Endpoint: "http://x", Model: "m",
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateProvider(prov); err != nil {
		t.Fatalf("CreateProvider failed: %v", err)
	}
	return &lbFixture{store: store, svc: New(store, zerolog.Nop()), user: user, prov: prov}
}

func (f *lbFixture) addBot(t *testing.T, name string) *models.Bot {
	t.Helper()
	now := time.Now().UTC()
	bot := &models.Bot{
		ID: uuid.NewString(), UserID: f.user.ID, ProviderID: f.prov.ID,
		Name: name, SystemPrompt: "trade", Mode: models.ModePaper,
		Symbols: []string{"BTCUSDT"}, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.CreateBot(bot); err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	return bot
}

// addClose records one closed trade with the given pnl at the given
// time.
func (f *lbFixture) addClose(t *testing.T, bot *models.Bot, pnl float64, at time.Time) {
	t.Helper()
	tw := &storage.TurnWrite{
		Trades: []*models.Trade{{
			ID: uuid.NewString(), UserID: bot.UserID, BotID: bot.ID,
			Symbol: "BTCUSDT", Side: models.SideLong, Action: models.ActionClose,
			EntryPrice: 100, ExitPrice: 100 + pnl, Size: 1000, Leverage: 5,
			Pnl: pnl, ExecutedAt: at,
		}},
	}
	if err := f.store.ApplyTurn(context.Background(), tw); err != nil {
		t.Fatalf("ApplyTurn failed: %v", err)
	}
}

func TestRecomputeRanksByPnl(t *testing.T) {
	f := newLBFixture(t)
	now := time.Now().UTC()

	winner := f.addBot(t, "winner")
	loser := f.addBot(t, "loser")
	f.addClose(t, winner, 500, now.Add(-time.Hour))
	f.addClose(t, winner, -100, now.Add(-30*time.Minute))
	f.addClose(t, loser, -200, now.Add(-time.Hour))

	if err := f.svc.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	entries, total, err := f.store.GetLeaderboard("daily", 10, 0)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].BotID != winner.ID || entries[0].Rank != 1 {
		t.Errorf("rank 1 = %s (%d), want winner", entries[0].BotName, entries[0].Rank)
	}
	if entries[0].TotalPnl != 400 || entries[0].TradeCount != 2 {
		t.Errorf("winner entry = %+v", entries[0])
	}
	if math.Abs(entries[0].WinRate-0.5) > 1e-9 {
		t.Errorf("winner win rate = %v, want 0.5", entries[0].WinRate)
	}
	if entries[1].BotID != loser.ID || entries[1].Rank != 2 {
		t.Errorf("rank 2 = %s", entries[1].BotName)
	}
}

func TestRecomputeExcludesTradesOutsidePeriod(t *testing.T) {
	f := newLBFixture(t)
	now := time.Now().UTC()

	bot := f.addBot(t, "old-timer")
	f.addClose(t, bot, 300, now.Add(-48*time.Hour))

	if err := f.svc.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	daily, _, err := f.store.GetLeaderboard("daily", 10, 0)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if len(daily) != 0 {
		t.Errorf("daily board should be empty, got %+v", daily)
	}

	weekly, _, err := f.store.GetLeaderboard("weekly", 10, 0)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if len(weekly) != 1 || weekly[0].TotalPnl != 300 {
		t.Errorf("weekly board = %+v, want the old trade", weekly)
	}

	allTime, _, err := f.store.GetLeaderboard("all-time", 10, 0)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if len(allTime) != 1 {
		t.Errorf("all-time board = %+v", allTime)
	}
}

func TestRankTieBreaks(t *testing.T) {
	early := time.Now().Add(-2 * time.Hour)
	late := time.Now().Add(-1 * time.Hour)
	entries := []*models.LeaderboardEntry{
		{BotID: "late-equal", TotalPnl: 100, WinRate: 0.5, FirstTrade: late},
		{BotID: "better-rate", TotalPnl: 100, WinRate: 0.8, FirstTrade: late},
		{BotID: "early-equal", TotalPnl: 100, WinRate: 0.5, FirstTrade: early},
		{BotID: "rich", TotalPnl: 900, WinRate: 0.1, FirstTrade: late},
	}
	rank(entries)

	want := []string{"rich", "better-rate", "early-equal", "late-equal"}
	for i, id := range want {
		if entries[i].BotID != id {
			t.Errorf("rank %d = %s, want %s", i+1, entries[i].BotID, id)
		}
		if entries[i].Rank != i+1 {
			t.Errorf("entry %s rank = %d, want %d", entries[i].BotID, entries[i].Rank, i+1)
		}
	}
}

func TestSharpeAndDrawdown(t *testing.T) {
	if got := sharpe([]float64{100, 100, 100}); got != 0 {
		t.Errorf("flat series sharpe = %v, want 0", got)
	}
	if got := sharpe([]float64{100}); got != 0 {
		t.Errorf("single point sharpe = %v, want 0", got)
	}
	if got := sharpe([]float64{100, 110, 121, 133.1}); got <= 0 {
		t.Errorf("steady growth sharpe = %v, want positive", got)
	}

	got := maxDrawdown([]float64{100, 120, 60, 90, 130})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("max drawdown = %v, want 0.5", got)
	}
	if got := maxDrawdown(nil); got != 0 {
		t.Errorf("empty drawdown = %v, want 0", got)
	}
}
