package analytics

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

type fixture struct {
	store *storage.Store
	svc   *Service
	user  *models.User
	prov  *models.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "analytics_test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	user := &models.User{
		ID: uuid.NewString(), Email: "a@example.com", Username: "a",
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
	return &fixture{store: store, svc: New(store, zerolog.Nop()), user: user, prov: prov}
}

func (f *fixture) addBot(t *testing.T, name string) *models.Bot {
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

func (f *fixture) addClose(t *testing.T, bot *models.Bot, symbol string, pnl, fee float64, at time.Time) {
	t.Helper()
	tw := &storage.TurnWrite{
		Trades: []*models.Trade{{
			ID: uuid.NewString(), UserID: bot.UserID, BotID: bot.ID,
			Symbol: symbol, Side: models.SideLong, Action: models.ActionClose,
			EntryPrice: 100, ExitPrice: 100, Size: 1000, Leverage: 5,
			Pnl: pnl, Fee: fee, ExecutedAt: at,
		}},
	}
	if err := f.store.ApplyTurn(context.Background(), tw); err != nil {
		t.Fatalf("ApplyTurn failed: %v", err)
	}
}

func (f *fixture) addSnapshot(t *testing.T, bot *models.Bot, totalValue float64, at time.Time) {
	t.Helper()
	if err := f.store.InsertSnapshot(&models.Snapshot{
		ID: uuid.NewString(), UserID: bot.UserID, BotID: bot.ID,
		Balance: totalValue, TotalValue: totalValue, CreatedAt: at,
	}); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}
}

func TestBotPerformanceAggregates(t *testing.T) {
	f := newFixture(t)
	bot := f.addBot(t, "alpha")
	now := time.Now().UTC()
	f.addClose(t, bot, "BTCUSDT", 250, 1.2, now.Add(-2*time.Hour))
	f.addClose(t, bot, "ETHUSDT", -80, 0.8, now.Add(-time.Hour))
	f.addSnapshot(t, bot, 10170, now)

	perf, err := f.svc.BotPerformance(bot.ID, f.user.ID, "24h")
	if err != nil {
		t.Fatalf("BotPerformance failed: %v", err)
	}
	if perf.TradeCount != 2 || perf.WinCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", perf.TradeCount, perf.WinCount)
	}
	if perf.TotalPnl != 170 || perf.BestTrade != 250 || perf.WorstTrade != -80 {
		t.Errorf("pnl fields = %+v", perf)
	}
	if math.Abs(perf.TotalFees-2.0) > 1e-9 {
		t.Errorf("fees = %v, want 2.0", perf.TotalFees)
	}
	if perf.TotalValue != 10170 {
		t.Errorf("total value = %v, want 10170", perf.TotalValue)
	}
}

func TestPerformanceRespectsTimeRange(t *testing.T) {
	f := newFixture(t)
	bot := f.addBot(t, "alpha")
	now := time.Now().UTC()
	f.addClose(t, bot, "BTCUSDT", 100, 0, now.Add(-2*time.Hour))
	f.addClose(t, bot, "BTCUSDT", 900, 0, now.Add(-72*time.Hour))

	perf, err := f.svc.BotPerformance(bot.ID, f.user.ID, "24h")
	if err != nil {
		t.Fatalf("BotPerformance failed: %v", err)
	}
	if perf.TotalPnl != 100 {
		t.Errorf("24h pnl = %v, want 100", perf.TotalPnl)
	}

	perf, err = f.svc.BotPerformance(bot.ID, f.user.ID, "all")
	if err != nil {
		t.Fatalf("BotPerformance failed: %v", err)
	}
	if perf.TotalPnl != 1000 {
		t.Errorf("all-time pnl = %v, want 1000", perf.TotalPnl)
	}
}

func TestBotPerformanceEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	bot := f.addBot(t, "alpha")

	if _, err := f.svc.BotPerformance(bot.ID, "someone-else", "all"); !storage.IsNotFound(err) {
		t.Fatalf("err = %v, want not-found for foreign owner", err)
	}
}

func TestRiskMetrics(t *testing.T) {
	f := newFixture(t)
	bot := f.addBot(t, "alpha")
	now := time.Now().UTC()
	f.addClose(t, bot, "BTCUSDT", 200, 0, now.Add(-3*time.Hour))
	f.addClose(t, bot, "BTCUSDT", 100, 0, now.Add(-2*time.Hour))
	f.addClose(t, bot, "BTCUSDT", -50, 0, now.Add(-time.Hour))
	for i, v := range []float64{10000, 10200, 10100, 10250} {
		f.addSnapshot(t, bot, v, now.Add(time.Duration(i-4)*time.Hour))
	}

	m, err := f.svc.Risk(bot.ID, f.user.ID)
	if err != nil {
		t.Fatalf("Risk failed: %v", err)
	}
	if m.AvgWin != 150 || m.AvgLoss != 50 {
		t.Errorf("avg win/loss = %v/%v, want 150/50", m.AvgWin, m.AvgLoss)
	}
	if math.Abs(m.ProfitFactor-6) > 1e-9 {
		t.Errorf("profit factor = %v, want 6", m.ProfitFactor)
	}
	if m.Volatility <= 0 {
		t.Errorf("volatility = %v, want positive", m.Volatility)
	}
	wantDD := (10200.0 - 10100.0) / 10200.0
	if math.Abs(m.MaxDrawdown-wantDD) > 1e-9 {
		t.Errorf("max drawdown = %v, want %v", m.MaxDrawdown, wantDD)
	}
}

func TestBySymbolAndBestWorst(t *testing.T) {
	f := newFixture(t)
	a := f.addBot(t, "alpha")
	b := f.addBot(t, "beta")
	now := time.Now().UTC()
	f.addClose(t, a, "BTCUSDT", 300, 0, now.Add(-3*time.Hour))
	f.addClose(t, a, "ETHUSDT", -120, 0, now.Add(-2*time.Hour))
	f.addClose(t, b, "BTCUSDT", -40, 0, now.Add(-time.Hour))

	stats, err := f.svc.BySymbol(f.user.ID)
	if err != nil {
		t.Fatalf("BySymbol failed: %v", err)
	}
	if len(stats) != 2 || stats[0].Symbol != "BTCUSDT" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].TradeCount != 2 || stats[0].TotalPnl != 260 || stats[0].WinRate != 0.5 {
		t.Errorf("BTCUSDT stats = %+v", stats[0])
	}

	bw, err := f.svc.BestWorst(f.user.ID)
	if err != nil {
		t.Fatalf("BestWorst failed: %v", err)
	}
	if bw.Best == nil || bw.Best.Pnl != 300 || bw.Best.BotName != "alpha" {
		t.Errorf("best = %+v", bw.Best)
	}
	if bw.Worst == nil || bw.Worst.Pnl != -120 {
		t.Errorf("worst = %+v", bw.Worst)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	a := f.addBot(t, "alpha")
	b := f.addBot(t, "beta")
	now := time.Now().UTC()
	f.addClose(t, a, "BTCUSDT", 100, 1, now.Add(-2*time.Hour))
	f.addClose(t, b, "BTCUSDT", -60, 1, now.Add(-time.Hour))

	ov, err := f.svc.Summary(f.user.ID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if ov.BotCount != 2 || ov.TradeCount != 2 || ov.TotalPnl != 40 {
		t.Errorf("overview = %+v", ov)
	}
	if ov.WinRate != 0.5 {
		t.Errorf("win rate = %v, want 0.5", ov.WinRate)
	}
}
