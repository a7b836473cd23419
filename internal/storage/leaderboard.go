package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const leaderboardColumns = `period, rank, bot_id, bot_name, user_id, total_pnl, trade_count, win_rate, sharpe, max_drawdown, first_trade, computed_at`

func scanLeaderboardEntry(row interface{ Scan(...any) error }) (*models.LeaderboardEntry, error) {
	e := &models.LeaderboardEntry{}
	err := row.Scan(
		&e.Period, &e.Rank, &e.BotID, &e.BotName, &e.UserID, &e.TotalPnl,
		&e.TradeCount, &e.WinRate, &e.Sharpe, &e.MaxDrawdown, &e.FirstTrade, &e.ComputedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

// ReplaceLeaderboard atomically swaps the full ranked set for one
// period.
func (s *Store) ReplaceLeaderboard(ctx context.Context, period string, entries []*models.LeaderboardEntry) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM leaderboard WHERE period = ?`, period); err != nil {
			return fmt.Errorf("failed to clear leaderboard period: %w", err)
		}
		for _, e := range entries {
			_, err := tx.Exec(
				`INSERT INTO leaderboard (`+leaderboardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.Period, e.Rank, e.BotID, e.BotName, e.UserID, e.TotalPnl,
				e.TradeCount, e.WinRate, e.Sharpe, e.MaxDrawdown, e.FirstTrade, e.ComputedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert leaderboard entry: %w", classify(err))
			}
		}
		return nil
	})
}

// GetLeaderboard returns the ranked set for one period.
func (s *Store) GetLeaderboard(period string, limit, offset int) ([]*models.LeaderboardEntry, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM leaderboard WHERE period = ?`, period).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count leaderboard: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+leaderboardColumns+` FROM leaderboard WHERE period = ? ORDER BY rank LIMIT ? OFFSET ?`,
		period, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		e, err := scanLeaderboardEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// LeaderboardForUser returns the user's entries across all periods.
func (s *Store) LeaderboardForUser(userID string) ([]*models.LeaderboardEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+leaderboardColumns+` FROM leaderboard WHERE user_id = ? ORDER BY period, rank`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		e, err := scanLeaderboardEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
