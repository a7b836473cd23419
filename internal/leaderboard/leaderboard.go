package leaderboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

// Periods are the ranked tables the service maintains.
var Periods = []string{"daily", "weekly", "monthly", "all-time"}

const recomputeInterval = time.Hour

// Service aggregates closed trades into ranked per-period tables.
type Service struct {
	store *storage.Store
	log   zerolog.Logger
	force chan struct{}
}

func New(store *storage.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		force: make(chan struct{}, 1),
	}
}

// Run recomputes hourly and on demand until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(recomputeInterval)
	defer ticker.Stop()

	if err := s.Recompute(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial leaderboard compute failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.force:
		}
		if err := s.Recompute(ctx); err != nil {
			s.log.Error().Err(err).Msg("leaderboard compute failed")
		}
	}
}

// ForceUpdate schedules an immediate recalculation. Requests collapse.
func (s *Service) ForceUpdate() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// Recompute rebuilds every period table. Each period is replaced
// atomically; a failure in one period leaves the others intact.
func (s *Service) Recompute(ctx context.Context) error {
	bots, err := s.store.ListActiveBots()
	if err != nil {
		return fmt.Errorf("failed to list bots for leaderboard: %w", err)
	}

	now := time.Now().UTC()
	for _, period := range Periods {
		entries, err := s.computePeriod(bots, period, now)
		if err != nil {
			return err
		}
		if err := s.store.ReplaceLeaderboard(ctx, period, entries); err != nil {
			return fmt.Errorf("failed to replace %s leaderboard: %w", period, err)
		}
	}
	s.log.Debug().Int("bots", len(bots)).Msg("leaderboard recomputed")
	return nil
}

func (s *Service) computePeriod(bots []*models.Bot, period string, now time.Time) ([]*models.LeaderboardEntry, error) {
	since := periodStart(period, now)

	entries := make([]*models.LeaderboardEntry, 0, len(bots))
	for _, bot := range bots {
		trades, err := s.store.ClosedTradesSince(bot.ID, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load trades for bot %s: %w", bot.ID, err)
		}
		if len(trades) == 0 {
			continue
		}

		var totalPnl float64
		wins := 0
		for _, tr := range trades {
			totalPnl += tr.Pnl
			if tr.Pnl > 0 {
				wins++
			}
		}

		snaps, err := s.store.GetBotSnapshots(bot.ID, since, now, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshots for bot %s: %w", bot.ID, err)
		}
		values := make([]float64, 0, len(snaps))
		for _, sn := range snaps {
			values = append(values, sn.TotalValue)
		}

		entries = append(entries, &models.LeaderboardEntry{
			Period:      period,
			BotID:       bot.ID,
			BotName:     bot.Name,
			UserID:      bot.UserID,
			TotalPnl:    totalPnl,
			TradeCount:  len(trades),
			WinRate:     float64(wins) / float64(len(trades)),
			Sharpe:      sharpe(values),
			MaxDrawdown: maxDrawdown(values),
			FirstTrade:  trades[0].ExecutedAt,
			ComputedAt:  now,
		})
	}

	rank(entries)
	return entries, nil
}

// rank orders by total pnl, breaking ties by win rate and then by
// whoever traded first.
func rank(entries []*models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalPnl != b.TotalPnl {
			return a.TotalPnl > b.TotalPnl
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		return a.FirstTrade.Before(b.FirstTrade)
	})
	for i, e := range entries {
		e.Rank = i + 1
	}
}

func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "daily":
		return now.Add(-24 * time.Hour)
	case "weekly":
		return now.Add(-7 * 24 * time.Hour)
	case "monthly":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// sharpe is the mean per-snapshot return over its standard deviation.
// Too few points or a flat series scores zero.
func sharpe(values []float64) float64 {
	returns := periodReturns(values)
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// maxDrawdown is the largest peak-to-trough loss fraction of the value
// series.
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
