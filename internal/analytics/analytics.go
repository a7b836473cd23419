package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

// listCap bounds how many bots a single analytics query walks.
const listCap = 500

// Service computes read-only aggregates over trades and snapshots.
// An empty ownerID means admin scope (all bots).
type Service struct {
	store *storage.Store
	log   zerolog.Logger
}

func New(store *storage.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// BotPerformance is one bot's aggregate over a time range.
type BotPerformance struct {
	BotID      string         `json:"bot_id"`
	BotName    string         `json:"bot_name"`
	Mode       models.BotMode `json:"mode"`
	TradeCount int            `json:"trade_count"`
	WinCount   int            `json:"win_count"`
	WinRate    float64        `json:"win_rate"`
	TotalPnl   float64        `json:"total_pnl"`
	AvgPnl     float64        `json:"avg_pnl"`
	BestTrade  float64        `json:"best_trade"`
	WorstTrade float64        `json:"worst_trade"`
	TotalFees  float64        `json:"total_fees"`
	TotalValue float64        `json:"total_value"`
}

// RiskMetrics quantifies a single bot's return profile over its full
// snapshot history.
type RiskMetrics struct {
	BotID        string  `json:"bot_id"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Volatility   float64 `json:"volatility"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
}

// SymbolStats aggregates closed trades per symbol.
type SymbolStats struct {
	Symbol     string  `json:"symbol"`
	TradeCount int     `json:"trade_count"`
	TotalPnl   float64 `json:"total_pnl"`
	WinRate    float64 `json:"win_rate"`
}

// TradeHighlight points at one notable closed trade.
type TradeHighlight struct {
	BotID   string  `json:"bot_id"`
	BotName string  `json:"bot_name"`
	Symbol  string  `json:"symbol"`
	Pnl     float64 `json:"pnl"`
	At      string  `json:"executed_at"`
}

// BestWorst pairs the single best and worst closed trades in scope.
type BestWorst struct {
	Best  *TradeHighlight `json:"best"`
	Worst *TradeHighlight `json:"worst"`
}

// Overview is the cross-bot summary block.
type Overview struct {
	BotCount    int     `json:"bot_count"`
	TradeCount  int     `json:"trade_count"`
	TotalPnl    float64 `json:"total_pnl"`
	TotalFees   float64 `json:"total_fees"`
	OverallWins int     `json:"overall_wins"`
	WinRate     float64 `json:"win_rate"`
}

// rangeStart maps the API time range to a cutoff. Unknown ranges fall
// back to all-time.
func rangeStart(timeRange string, now time.Time) time.Time {
	switch timeRange {
	case "24h":
		return now.Add(-24 * time.Hour)
	case "7d":
		return now.Add(-7 * 24 * time.Hour)
	case "30d":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// Performance aggregates every bot in scope over the time range,
// ordered by total pnl.
func (s *Service) Performance(ownerID, timeRange string) ([]*BotPerformance, error) {
	bots, _, err := s.store.ListBots(ownerID, listCap, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}

	since := rangeStart(timeRange, time.Now().UTC())
	out := make([]*BotPerformance, 0, len(bots))
	for _, bot := range bots {
		perf, err := s.botPerformance(bot, since)
		if err != nil {
			return nil, err
		}
		out = append(out, perf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPnl > out[j].TotalPnl })
	return out, nil
}

// BotPerformance aggregates one bot; ownership is enforced by the
// store lookup.
func (s *Service) BotPerformance(botID, ownerID, timeRange string) (*BotPerformance, error) {
	bot, err := s.store.GetBot(botID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.botPerformance(bot, rangeStart(timeRange, time.Now().UTC()))
}

// Comparison aggregates an explicit set of bots side by side.
func (s *Service) Comparison(botIDs []string, ownerID, timeRange string) ([]*BotPerformance, error) {
	since := rangeStart(timeRange, time.Now().UTC())
	out := make([]*BotPerformance, 0, len(botIDs))
	for _, id := range botIDs {
		bot, err := s.store.GetBot(id, ownerID)
		if err != nil {
			return nil, err
		}
		perf, err := s.botPerformance(bot, since)
		if err != nil {
			return nil, err
		}
		out = append(out, perf)
	}
	return out, nil
}

func (s *Service) botPerformance(bot *models.Bot, since time.Time) (*BotPerformance, error) {
	trades, err := s.store.ClosedTradesSince(bot.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for bot %s: %w", bot.ID, err)
	}

	perf := &BotPerformance{BotID: bot.ID, BotName: bot.Name, Mode: bot.Mode}
	for i, tr := range trades {
		perf.TotalPnl += tr.Pnl
		perf.TotalFees += tr.Fee
		if tr.Pnl > 0 {
			perf.WinCount++
		}
		if i == 0 || tr.Pnl > perf.BestTrade {
			perf.BestTrade = tr.Pnl
		}
		if i == 0 || tr.Pnl < perf.WorstTrade {
			perf.WorstTrade = tr.Pnl
		}
	}
	perf.TradeCount = len(trades)
	if perf.TradeCount > 0 {
		perf.WinRate = float64(perf.WinCount) / float64(perf.TradeCount)
		perf.AvgPnl = perf.TotalPnl / float64(perf.TradeCount)
	}

	if snap, err := s.store.LatestSnapshot(bot.ID); err == nil {
		perf.TotalValue = snap.TotalValue
	} else if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load snapshot for bot %s: %w", bot.ID, err)
	}
	return perf, nil
}

// Risk computes return-profile metrics for one bot over its whole
// history.
func (s *Service) Risk(botID, ownerID string) (*RiskMetrics, error) {
	bot, err := s.store.GetBot(botID, ownerID)
	if err != nil {
		return nil, err
	}

	trades, err := s.store.ClosedTradesSince(bot.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	snaps, err := s.store.GetBotSnapshots(bot.ID, time.Time{}, time.Now().UTC(), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	values := make([]float64, 0, len(snaps))
	for _, sn := range snaps {
		values = append(values, sn.TotalValue)
	}
	returns := periodReturns(values)

	m := &RiskMetrics{BotID: bot.ID}
	m.Volatility = stddev(returns)
	if m.Volatility > 0 {
		m.Sharpe = mean(returns) / m.Volatility
	}
	m.MaxDrawdown = maxDrawdown(values)

	var grossWin, grossLoss float64
	var wins, losses int
	for _, tr := range trades {
		if tr.Pnl > 0 {
			grossWin += tr.Pnl
			wins++
		} else if tr.Pnl < 0 {
			grossLoss += -tr.Pnl
			losses++
		}
	}
	if wins > 0 {
		m.AvgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
	return m, nil
}

// BySymbol aggregates closed trades per symbol across all bots in
// scope, ordered by pnl.
func (s *Service) BySymbol(ownerID string) ([]*SymbolStats, error) {
	bots, _, err := s.store.ListBots(ownerID, listCap, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}

	acc := make(map[string]*SymbolStats)
	winCounts := make(map[string]int)
	for _, bot := range bots {
		trades, err := s.store.ClosedTradesSince(bot.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("failed to load trades for bot %s: %w", bot.ID, err)
		}
		for _, tr := range trades {
			st, ok := acc[tr.Symbol]
			if !ok {
				st = &SymbolStats{Symbol: tr.Symbol}
				acc[tr.Symbol] = st
			}
			st.TradeCount++
			st.TotalPnl += tr.Pnl
			if tr.Pnl > 0 {
				winCounts[tr.Symbol]++
			}
		}
	}

	out := make([]*SymbolStats, 0, len(acc))
	for sym, st := range acc {
		st.WinRate = float64(winCounts[sym]) / float64(st.TradeCount)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPnl > out[j].TotalPnl })
	return out, nil
}

// BestWorst finds the single best and worst closed trades in scope.
func (s *Service) BestWorst(ownerID string) (*BestWorst, error) {
	bots, _, err := s.store.ListBots(ownerID, listCap, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}

	result := &BestWorst{}
	for _, bot := range bots {
		trades, err := s.store.ClosedTradesSince(bot.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("failed to load trades for bot %s: %w", bot.ID, err)
		}
		for _, tr := range trades {
			h := &TradeHighlight{
				BotID: bot.ID, BotName: bot.Name,
				Symbol: tr.Symbol, Pnl: tr.Pnl,
				At: tr.ExecutedAt.UTC().Format(time.RFC3339),
			}
			if result.Best == nil || tr.Pnl > result.Best.Pnl {
				result.Best = h
			}
			if result.Worst == nil || tr.Pnl < result.Worst.Pnl {
				result.Worst = h
			}
		}
	}
	return result, nil
}

// Summary is the cross-bot overview block.
func (s *Service) Summary(ownerID string) (*Overview, error) {
	bots, _, err := s.store.ListBots(ownerID, listCap, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}

	ov := &Overview{BotCount: len(bots)}
	for _, bot := range bots {
		trades, err := s.store.ClosedTradesSince(bot.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("failed to load trades for bot %s: %w", bot.ID, err)
		}
		for _, tr := range trades {
			ov.TradeCount++
			ov.TotalPnl += tr.Pnl
			ov.TotalFees += tr.Fee
			if tr.Pnl > 0 {
				ov.OverallWins++
			}
		}
	}
	if ov.TradeCount > 0 {
		ov.WinRate = float64(ov.OverallWins) / float64(ov.TradeCount)
	}
	return ov, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var variance float64
	for _, x := range xs {
		variance += (x - m) * (x - m)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func maxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func periodReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}
