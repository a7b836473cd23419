package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/exchange"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/market"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

// Engine applies trading actions to a bot's ledger. Paper and live
// bots share the same decision-application logic; only settlement
// differs. The engine itself never talks to the database: every effect
// is appended to the turn's TurnWrite and committed by the caller.
type Engine struct {
	settings *settings.Registry
	market   *market.Snapshot
	adapter  exchange.Adapter
	log      zerolog.Logger
}

// New builds an engine. adapter may be nil when no live bots exist.
func New(reg *settings.Registry, snap *market.Snapshot, adapter exchange.Adapter, log zerolog.Logger) *Engine {
	return &Engine{settings: reg, market: snap, adapter: adapter, log: log}
}

// Runtime is one bot's in-memory ledger, mirrored to the database at
// each turn boundary.
type Runtime struct {
	BotID       string
	Balance     float64
	RealizedPnl float64
	TradeCount  int
	WinCount    int
	Positions   map[string]*models.Position
	Cooldowns   map[string]time.Time
}

func NewRuntime(botID string, balance float64) *Runtime {
	return &Runtime{
		BotID:     botID,
		Balance:   balance,
		Positions: make(map[string]*models.Position),
		Cooldowns: make(map[string]time.Time),
	}
}

// PositionForSymbol returns the open position on a symbol, if any.
func (rt *Runtime) PositionForSymbol(symbol string) *models.Position {
	for _, p := range rt.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// WinRate is the fraction of closed trades with positive pnl.
func (rt *Runtime) WinRate() float64 {
	if rt.TradeCount == 0 {
		return 0
	}
	return float64(rt.WinCount) / float64(rt.TradeCount)
}

// UnrealizedTotal sums unrealized pnl over open positions.
func (rt *Runtime) UnrealizedTotal() float64 {
	var sum float64
	for _, p := range rt.Positions {
		sum += p.UnrealizedPnl
	}
	return sum
}

// TotalValue is the bot's equity: free balance plus locked margin plus
// unrealized pnl.
func (rt *Runtime) TotalValue() float64 {
	v := rt.Balance
	for _, p := range rt.Positions {
		v += p.Size/float64(p.Leverage) + p.UnrealizedPnl
	}
	return v
}

// Open applies a LONG or SHORT action. A rejection returns a note and
// leaves the ledger untouched; only a live settlement failure returns
// an error, which aborts the turn.
func (e *Engine) Open(ctx context.Context, rt *Runtime, bot *models.Bot, act models.BotAction, now time.Time, tw *storage.TurnWrite) (string, error) {
	side := models.SideLong
	if strings.EqualFold(act.Action, "SHORT") {
		side = models.SideShort
	}

	// An unset per-bot list means the global trading list, matching the
	// market block the model is shown.
	allowed := bot.Symbols
	if len(allowed) == 0 {
		allowed = e.settings.Strings(settings.KeyTradingSymbols)
	}
	if !symbolAllowed(allowed, act.Symbol) {
		return fmt.Sprintf("rejected %s %s: symbol not in allowed list", act.Action, act.Symbol), nil
	}
	if until, ok := rt.Cooldowns[act.Symbol]; ok && now.Before(until) {
		return fmt.Sprintf("rejected %s %s: symbol on cooldown until %s", act.Action, act.Symbol, until.UTC().Format(time.RFC3339)), nil
	}
	if p := rt.PositionForSymbol(act.Symbol); p != nil {
		return fmt.Sprintf("rejected %s %s: position %s already open on symbol", act.Action, act.Symbol, p.ID), nil
	}
	if act.Leverage < 1 {
		return fmt.Sprintf("rejected %s %s: leverage must be at least 1", act.Action, act.Symbol), nil
	}
	maxPositions := e.settings.Int(settings.KeyMaxPositionsPerBot)
	if maxPositions > 0 && len(rt.Positions) >= maxPositions {
		return fmt.Sprintf("rejected %s %s: max open positions (%d) reached", act.Action, act.Symbol, maxPositions), nil
	}

	minSize := e.settings.Float(settings.KeyMinTradeSizeUSD)
	if act.Size < minSize {
		return fmt.Sprintf("rejected %s %s: size %.2f below minimum %.2f", act.Action, act.Symbol, act.Size, minSize), nil
	}

	mark, ok := e.market.Price(act.Symbol)
	if !ok {
		return fmt.Sprintf("rejected %s %s: no mark price available", act.Action, act.Symbol), nil
	}

	feeRate := e.settings.Float(settings.KeyEntryFeeRate)
	size := act.Size
	var clampNote string
	if required := size/float64(act.Leverage) + size*feeRate; required > rt.Balance {
		// Clamp to the largest size the balance can carry. Below the
		// minimum trade size the order is rejected instead.
		maxSize := rt.Balance / (1/float64(act.Leverage) + feeRate)
		if maxSize < minSize {
			return fmt.Sprintf("rejected %s %s: insufficient balance (%.2f) even after clamping", act.Action, act.Symbol, rt.Balance), nil
		}
		clampNote = fmt.Sprintf("; size clamped from %.2f to %.2f", size, maxSize)
		size = maxSize
	}

	entry := mark
	if bot.Mode == models.ModeReal {
		if e.adapter == nil {
			return "", fmt.Errorf("live bot %s has no exchange adapter", bot.ID)
		}
		fill, err := e.adapter.OpenPosition(ctx, exchange.OpenRequest{
			Symbol:   act.Symbol,
			Side:     side,
			Size:     size,
			Leverage: act.Leverage,
		})
		if err != nil {
			return "", fmt.Errorf("exchange open failed: %w", err)
		}
		entry = fill.Price
	}

	entryFee := size * feeRate
	rt.Balance -= size/float64(act.Leverage) + entryFee

	pos := &models.Position{
		ID:               uuid.NewString(),
		UserID:           bot.UserID,
		BotID:            bot.ID,
		Symbol:           act.Symbol,
		Side:             side,
		EntryPrice:       entry,
		Size:             size,
		Leverage:         act.Leverage,
		LiquidationPrice: liquidationPrice(side, entry, act.Leverage, e.settings.Float(settings.KeyMaintenanceMarginRate)),
		StopLoss:         act.StopLoss,
		TakeProfit:       act.TakeProfit,
		Status:           models.PositionOpen,
		OpenedAt:         now,
	}
	rt.Positions[pos.ID] = pos

	tw.OpenedPositions = append(tw.OpenedPositions, pos)
	tw.Trades = append(tw.Trades, &models.Trade{
		ID:         uuid.NewString(),
		UserID:     bot.UserID,
		BotID:      bot.ID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       side,
		Action:     models.ActionOpen,
		EntryPrice: entry,
		Size:       size,
		Leverage:   act.Leverage,
		Fee:        entryFee,
		Note:       act.Reasoning,
		ExecutedAt: now,
	})

	e.log.Info().
		Str("bot_id", bot.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(side)).
		Float64("size", size).
		Int("leverage", act.Leverage).
		Float64("entry", entry).
		Msg("position opened")
	return fmt.Sprintf("opened %s %s size=%.2f x%d at %.2f%s", side, pos.Symbol, size, act.Leverage, entry, clampNote), nil
}

// CloseByID applies an explicit CLOSE action.
func (e *Engine) CloseByID(ctx context.Context, rt *Runtime, bot *models.Bot, positionID, reason string, now time.Time, tw *storage.TurnWrite) (string, error) {
	pos, ok := rt.Positions[positionID]
	if !ok {
		return fmt.Sprintf("rejected CLOSE %s: no such open position", positionID), nil
	}

	minDur := time.Duration(e.settings.Int(settings.KeyMinPositionDurationMs)) * time.Millisecond
	if held := now.Sub(pos.OpenedAt); held < minDur {
		return fmt.Sprintf("rejected CLOSE %s: held %s, minimum duration %s", positionID, held.Truncate(time.Second), minDur), nil
	}

	mark, ok := e.market.Price(pos.Symbol)
	if !ok {
		return fmt.Sprintf("rejected CLOSE %s: no mark price available", positionID), nil
	}

	if bot.Mode == models.ModeReal {
		if e.adapter == nil {
			return "", fmt.Errorf("live bot %s has no exchange adapter", bot.ID)
		}
		fill, err := e.adapter.ClosePosition(ctx, exchange.CloseRequest{
			Symbol:   pos.Symbol,
			Side:     pos.Side,
			Quantity: pos.Size / pos.EntryPrice,
		})
		if err != nil {
			return "", fmt.Errorf("exchange close failed: %w", err)
		}
		mark = fill.Price
	}

	note := reason
	if note == "" {
		note = "closed by decision"
	}
	e.close(rt, bot, pos, mark, note, now, tw)
	return fmt.Sprintf("closed %s %s at %.2f", pos.Side, pos.Symbol, mark), nil
}

// MarkToMarket updates unrealized pnl on every open position and force-
// closes breached ones. Liquidation wins over stop-loss; stop-loss wins
// over take-profit.
func (e *Engine) MarkToMarket(rt *Runtime, bot *models.Bot, now time.Time, tw *storage.TurnWrite) {
	for _, pos := range openPositions(rt) {
		mark, ok := e.market.Price(pos.Symbol)
		if !ok {
			continue
		}

		unrealized := unrealizedPnl(pos, mark)

		switch {
		case unrealized <= -pos.Size/float64(pos.Leverage):
			e.close(rt, bot, pos, pos.LiquidationPrice, "liquidated", now, tw)
		case stopLossBreached(pos, mark):
			e.close(rt, bot, pos, pos.StopLoss, "stop-loss", now, tw)
		case takeProfitBreached(pos, mark):
			e.close(rt, bot, pos, pos.TakeProfit, "take-profit", now, tw)
		default:
			pos.UnrealizedPnl = unrealized
			if tw.MarkUpdates == nil {
				tw.MarkUpdates = make(map[string]float64)
			}
			tw.MarkUpdates[pos.ID] = unrealized
		}
	}
}

// close settles a position at exitPrice and books the CLOSE trade. The
// symbol's cooldown starts here; cooldowns are never set on open.
func (e *Engine) close(rt *Runtime, bot *models.Bot, pos *models.Position, exitPrice float64, note string, now time.Time, tw *storage.TurnWrite) {
	// Exit fee is charged on the exit notional, not the opening size.
	exitFee := exitPrice * (pos.Size / pos.EntryPrice) * e.settings.Float(settings.KeyExitFeeRate)
	realized := pnlAt(pos, exitPrice) - exitFee

	rt.Balance += pos.Size/float64(pos.Leverage) + realized
	rt.RealizedPnl += realized
	rt.TradeCount++
	if realized > 0 {
		rt.WinCount++
	}

	cooldown := time.Duration(e.settings.Int(settings.KeySymbolCooldownMs)) * time.Millisecond
	rt.Cooldowns[pos.Symbol] = now.Add(cooldown)

	closedAt := now
	pos.UnrealizedPnl = 0
	pos.ExitPrice = exitPrice
	pos.Status = models.PositionClosed
	pos.ClosedAt = &closedAt
	delete(rt.Positions, pos.ID)

	tw.ClosedPositions = append(tw.ClosedPositions, pos)
	tw.Trades = append(tw.Trades, &models.Trade{
		ID:         uuid.NewString(),
		UserID:     bot.UserID,
		BotID:      bot.ID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Action:     models.ActionClose,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		Pnl:        realized,
		Fee:        exitFee,
		Note:       note,
		ExecutedAt: now,
	})

	e.log.Info().
		Str("bot_id", bot.ID).
		Str("symbol", pos.Symbol).
		Float64("exit", exitPrice).
		Float64("pnl", realized).
		Str("note", note).
		Msg("position closed")
}

// BuildSnapshot captures the runtime as one wealth time-series point.
func BuildSnapshot(rt *Runtime, userID string, now time.Time) *models.Snapshot {
	return &models.Snapshot{
		ID:            uuid.NewString(),
		UserID:        userID,
		BotID:         rt.BotID,
		Balance:       rt.Balance,
		UnrealizedPnl: rt.UnrealizedTotal(),
		RealizedPnl:   rt.RealizedPnl,
		TotalValue:    rt.TotalValue(),
		TradeCount:    rt.TradeCount,
		WinRate:       rt.WinRate(),
		CreatedAt:     now,
	}
}

func symbolAllowed(allowed []string, symbol string) bool {
	for _, s := range allowed {
		if s == symbol {
			return true
		}
	}
	return false
}

func sign(side models.Side) float64 {
	if side == models.SideShort {
		return -1
	}
	return 1
}

func unrealizedPnl(pos *models.Position, mark float64) float64 {
	return pnlAt(pos, mark)
}

// pnlAt is the gross pnl at a price, before fees.
func pnlAt(pos *models.Position, price float64) float64 {
	return (price - pos.EntryPrice) * (pos.Size / pos.EntryPrice) * sign(pos.Side)
}

func liquidationPrice(side models.Side, entry float64, leverage int, mmr float64) float64 {
	if side == models.SideShort {
		return entry * (1 + 1/float64(leverage) - mmr)
	}
	return entry * (1 - 1/float64(leverage) + mmr)
}

func stopLossBreached(pos *models.Position, mark float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == models.SideShort {
		return mark >= pos.StopLoss
	}
	return mark <= pos.StopLoss
}

func takeProfitBreached(pos *models.Position, mark float64) bool {
	if pos.TakeProfit <= 0 {
		return false
	}
	if pos.Side == models.SideShort {
		return mark <= pos.TakeProfit
	}
	return mark >= pos.TakeProfit
}

// openPositions returns a stable slice so close() can delete from the
// map mid-iteration.
func openPositions(rt *Runtime) []*models.Position {
	var out []*models.Position
	for _, p := range rt.Positions {
		out = append(out, p)
	}
	return out
}
