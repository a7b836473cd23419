package engine

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/market"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

type fixture struct {
	engine *Engine
	snap   *market.Snapshot
	reg    *settings.Registry
	bot    *models.Bot
	rt     *Runtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "engine_test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg, err := settings.New(store)
	if err != nil {
		t.Fatalf("settings.New failed: %v", err)
	}
	snap := market.NewSnapshot()
	bot := &models.Bot{
		ID:     uuid.NewString(),
		UserID: uuid.NewString(),
		Mode:   models.ModePaper,
		Symbols: []string{
			"BTCUSDT", "ETHUSDT",
		},
	}
	return &fixture{
		engine: New(reg, snap, nil, zerolog.Nop()),
		snap:   snap,
		reg:    reg,
		bot:    bot,
		rt:     NewRuntime(bot.ID, 10000),
	}
}

func approx(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (tolerance %v)", what, got, want, tol)
	}
}

func TestPaperLongRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 69500)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	note, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 2000, Leverage: 10,
		StopLoss: 67500, TakeProfit: 73000,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if strings.HasPrefix(note, "rejected") {
		t.Fatalf("open rejected: %s", note)
	}

	// 10000 - 2000/10 - 2000*0.0003 = 9799.4
	approx(t, f.rt.Balance, 9799.4, 1e-9, "balance after open")
	if len(tw.OpenedPositions) != 1 || len(tw.Trades) != 1 {
		t.Fatalf("expected one position and one trade, got %d/%d", len(tw.OpenedPositions), len(tw.Trades))
	}
	open := tw.Trades[0]
	if open.Action != models.ActionOpen {
		t.Errorf("trade action = %s", open.Action)
	}
	approx(t, open.Fee, 0.6, 1e-9, "entry fee")

	pos := tw.OpenedPositions[0]
	// 69500 * (1 - 1/10 + 0.005)
	approx(t, pos.LiquidationPrice, 69500*0.905, 1e-6, "liquidation price")
	if _, onCooldown := f.rt.Cooldowns["BTCUSDT"]; onCooldown {
		t.Error("cooldown must not be set on open")
	}

	// Take-profit tick.
	f.snap.SetPrice("BTCUSDT", 73000)
	tick := &storage.TurnWrite{}
	f.engine.MarkToMarket(f.rt, f.bot, now.Add(time.Minute), tick)

	if len(tick.ClosedPositions) != 1 || len(tick.Trades) != 1 {
		t.Fatalf("expected forced close, got %d/%d", len(tick.ClosedPositions), len(tick.Trades))
	}
	closeTrade := tick.Trades[0]
	if closeTrade.Note != "take-profit" {
		t.Errorf("close note = %q", closeTrade.Note)
	}
	// (73000-69500)*(2000/69500) - 73000*(2000/69500)*0.0003
	approx(t, closeTrade.Pnl, 100.09, 0.01, "realized pnl")
	if tick.ClosedPositions[0].Status != models.PositionClosed {
		t.Errorf("position status = %s", tick.ClosedPositions[0].Status)
	}
	approx(t, tick.ClosedPositions[0].ExitPrice, 73000, 1e-9, "exit price")
	if _, onCooldown := f.rt.Cooldowns["BTCUSDT"]; !onCooldown {
		t.Error("cooldown must be set on close")
	}
	approx(t, f.rt.Balance, 9799.4+200+closeTrade.Pnl, 1e-6, "balance after close")
	if f.rt.TradeCount != 1 || f.rt.WinCount != 1 {
		t.Errorf("trade stats = %d/%d", f.rt.TradeCount, f.rt.WinCount)
	}
}

func TestLiquidationWinsOverStopLoss(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	_, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 1000, Leverage: 20, StopLoss: 98,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	pos := tw.OpenedPositions[0]
	// 100 * (1 - 1/20 + 0.005) = 95.5
	approx(t, pos.LiquidationPrice, 95.5, 1e-9, "liquidation price")

	// A 6% drop breaches both liquidation and the 98 stop.
	f.snap.SetPrice("BTCUSDT", 94)
	tick := &storage.TurnWrite{}
	f.engine.MarkToMarket(f.rt, f.bot, now.Add(time.Minute), tick)

	if len(tick.Trades) != 1 {
		t.Fatalf("expected one close trade, got %d", len(tick.Trades))
	}
	if tick.Trades[0].Note != "liquidated" {
		t.Errorf("note = %q, want liquidated", tick.Trades[0].Note)
	}
	approx(t, tick.Trades[0].ExitPrice, 95.5, 1e-9, "exit at liquidation price")
}

func TestStopLossWinsOverTakeProfit(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("ETHUSDT", 100)
	now := time.Now().UTC()

	// Contrived levels so one tick breaches both.
	tw := &storage.TurnWrite{}
	_, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "ETHUSDT", Size: 100, Leverage: 2,
		StopLoss: 105, TakeProfit: 103,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	f.snap.SetPrice("ETHUSDT", 104)
	tick := &storage.TurnWrite{}
	f.engine.MarkToMarket(f.rt, f.bot, now.Add(time.Minute), tick)

	if len(tick.Trades) != 1 || tick.Trades[0].Note != "stop-loss" {
		t.Fatalf("expected stop-loss close, got %+v", tick.Trades)
	}
}

func TestOpenRejections(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	now := time.Now().UTC()
	ctx := context.Background()

	cases := []struct {
		name string
		prep func()
		act  models.BotAction
	}{
		{
			"symbol not allowed", func() {},
			models.BotAction{Action: "LONG", Symbol: "DOGEUSDT", Size: 100, Leverage: 2},
		},
		{
			"cooldown active",
			func() { f.rt.Cooldowns["BTCUSDT"] = now.Add(time.Minute) },
			models.BotAction{Action: "LONG", Symbol: "BTCUSDT", Size: 100, Leverage: 2},
		},
		{
			"below minimum size", func() {},
			models.BotAction{Action: "LONG", Symbol: "ETHUSDT", Size: 5, Leverage: 2},
		},
		{
			"zero leverage", func() {},
			models.BotAction{Action: "SHORT", Symbol: "ETHUSDT", Size: 100, Leverage: 0},
		},
	}
	for _, c := range cases {
		c.prep()
		tw := &storage.TurnWrite{}
		note, err := f.engine.Open(ctx, f.rt, f.bot, c.act, now, tw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if !strings.HasPrefix(note, "rejected") {
			t.Errorf("%s: expected rejection, got %q", c.name, note)
		}
		if len(tw.OpenedPositions) != 0 || f.rt.Balance != 10000 {
			t.Errorf("%s: rejection must not touch ledger", c.name)
		}
		delete(f.rt.Cooldowns, "BTCUSDT")
	}
}

func TestOpenUnsetSymbolListUsesGlobal(t *testing.T) {
	f := newFixture(t)
	f.bot.Symbols = nil
	f.snap.SetPrice("BTCUSDT", 69500)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	note, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 2000, Leverage: 10,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if strings.HasPrefix(note, "rejected") {
		t.Fatalf("global-list symbol rejected: %s", note)
	}
	if len(tw.OpenedPositions) != 1 {
		t.Fatalf("expected one opened position, got %d", len(tw.OpenedPositions))
	}

	// Symbols outside the global list stay rejected.
	f.snap.SetPrice("SHIBUSDT", 1)
	tw = &storage.TurnWrite{}
	note, err = f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "SHIBUSDT", Size: 100, Leverage: 2,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !strings.Contains(note, "not in allowed list") {
		t.Errorf("expected allowed-list rejection, got %q", note)
	}
}

func TestOpenRejectsDuplicateSymbol(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	act := models.BotAction{Action: "LONG", Symbol: "BTCUSDT", Size: 100, Leverage: 2}
	if note, _ := f.engine.Open(context.Background(), f.rt, f.bot, act, now, tw); strings.HasPrefix(note, "rejected") {
		t.Fatalf("first open rejected: %s", note)
	}
	note, _ := f.engine.Open(context.Background(), f.rt, f.bot, act, now, tw)
	if !strings.Contains(note, "already open") {
		t.Errorf("expected duplicate-symbol rejection, got %q", note)
	}
}

func TestOpenClampsSizeToBalance(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	note, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 150000, Leverage: 10,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !strings.Contains(note, "clamped") {
		t.Fatalf("expected clamp note, got %q", note)
	}
	wantSize := 10000 / (1.0/10 + 0.0003)
	approx(t, tw.OpenedPositions[0].Size, wantSize, 1e-6, "clamped size")
	approx(t, f.rt.Balance, 0, 1e-6, "balance fully committed")
}

func TestOpenRejectsWhenClampFallsBelowMinimum(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	f.rt.Balance = 0.5

	tw := &storage.TurnWrite{}
	note, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 1000, Leverage: 10,
	}, time.Now().UTC(), tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !strings.HasPrefix(note, "rejected") || !strings.Contains(note, "insufficient balance") {
		t.Errorf("expected insufficient-balance rejection, got %q", note)
	}
}

func TestCloseByIDEnforcesMinimumDuration(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	_, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 100, Leverage: 2,
	}, now, tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	posID := tw.OpenedPositions[0].ID

	note, err := f.engine.CloseByID(context.Background(), f.rt, f.bot, posID, "", now.Add(time.Second), &storage.TurnWrite{})
	if err != nil {
		t.Fatalf("CloseByID failed: %v", err)
	}
	if !strings.Contains(note, "minimum duration") {
		t.Errorf("expected duration rejection, got %q", note)
	}

	late := &storage.TurnWrite{}
	note, err = f.engine.CloseByID(context.Background(), f.rt, f.bot, posID, "", now.Add(2*time.Minute), late)
	if err != nil {
		t.Fatalf("CloseByID failed: %v", err)
	}
	if strings.HasPrefix(note, "rejected") {
		t.Fatalf("close after minimum duration rejected: %s", note)
	}
	if len(late.ClosedPositions) != 1 {
		t.Fatal("position not closed")
	}
	if f.rt.PositionForSymbol("BTCUSDT") != nil {
		t.Error("runtime still holds closed position")
	}
}

func TestCloseUnknownPosition(t *testing.T) {
	f := newFixture(t)
	note, err := f.engine.CloseByID(context.Background(), f.rt, f.bot, "nope", "", time.Now(), &storage.TurnWrite{})
	if err != nil {
		t.Fatalf("CloseByID failed: %v", err)
	}
	if !strings.Contains(note, "no such open position") {
		t.Errorf("note = %q", note)
	}
}

func TestShortLiquidationPriceMirror(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("ETHUSDT", 200)

	tw := &storage.TurnWrite{}
	_, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "SHORT", Symbol: "ETHUSDT", Size: 400, Leverage: 4,
	}, time.Now().UTC(), tw)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// 200 * (1 + 1/4 - 0.005) = 249
	approx(t, tw.OpenedPositions[0].LiquidationPrice, 249, 1e-9, "short liquidation price")
}

func TestRealizedPnlMatchesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.snap.SetPrice("BTCUSDT", 100)
	now := time.Now().UTC()

	tw := &storage.TurnWrite{}
	if _, err := f.engine.Open(context.Background(), f.rt, f.bot, models.BotAction{
		Action: "LONG", Symbol: "BTCUSDT", Size: 500, Leverage: 5,
	}, now, tw); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	f.snap.SetPrice("BTCUSDT", 110)
	tick := &storage.TurnWrite{}
	posID := tw.OpenedPositions[0].ID
	if _, err := f.engine.CloseByID(context.Background(), f.rt, f.bot, posID, "", now.Add(2*time.Minute), tick); err != nil {
		t.Fatalf("CloseByID failed: %v", err)
	}

	snap := BuildSnapshot(f.rt, f.bot.UserID, now.Add(2*time.Minute))
	var closedPnl float64
	for _, tr := range tick.Trades {
		if tr.Action == models.ActionClose {
			closedPnl += tr.Pnl
		}
	}
	approx(t, snap.RealizedPnl, closedPnl, 0.01, "snapshot realized pnl")
	approx(t, snap.TotalValue, f.rt.Balance, 1e-9, "total value with no open positions")
}
