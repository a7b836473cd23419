package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const tradeColumns = `id, user_id, bot_id, position_id, symbol, side, action, entry_price, exit_price, size, leverage, pnl, fee, note, executed_at`

func scanTrade(row interface{ Scan(...any) error }) (*models.Trade, error) {
	t := &models.Trade{}
	var positionID sql.NullString
	err := row.Scan(
		&t.ID, &t.UserID, &t.BotID, &positionID, &t.Symbol, &t.Side,
		&t.Action, &t.EntryPrice, &t.ExitPrice, &t.Size, &t.Leverage,
		&t.Pnl, &t.Fee, &t.Note, &t.ExecutedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	t.PositionID = positionID.String
	return t, nil
}

func insertTradeTx(tx *sql.Tx, t *models.Trade) error {
	query := `
	INSERT INTO trades (` + tradeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var positionID any
	if t.PositionID != "" {
		positionID = t.PositionID
	}
	_, err := tx.Exec(query,
		t.ID, t.UserID, t.BotID, positionID, t.Symbol, t.Side,
		t.Action, t.EntryPrice, t.ExitPrice, t.Size, t.Leverage,
		t.Pnl, t.Fee, t.Note, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", classify(err))
	}
	return nil
}

// ListTrades returns a page of a bot's trades plus the total count.
func (s *Store) ListTrades(botID, ownerID string, limit, offset int) ([]*models.Trade, int, error) {
	where, args := ` WHERE bot_id = ?`, []any{botID}
	if ownerID != "" {
		where += ` AND user_id = ?`
		args = append(args, ownerID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trades`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+tradeColumns+` FROM trades`+where+` ORDER BY executed_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, total, rows.Err()
}

// RecentClosedTrades returns the last n CLOSE trades for a bot, newest
// first. The decision loop folds these into the prompt.
func (s *Store) RecentClosedTrades(botID string, n int) ([]*models.Trade, error) {
	rows, err := s.db.Query(
		`SELECT `+tradeColumns+` FROM trades WHERE bot_id = ? AND action = 'CLOSE' ORDER BY executed_at DESC LIMIT ?`,
		botID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ClosedTradesSince returns CLOSE trades for a bot executed at or
// after the cutoff; leaderboard aggregation reads through this.
func (s *Store) ClosedTradesSince(botID string, since time.Time) ([]*models.Trade, error) {
	rows, err := s.db.Query(
		`SELECT `+tradeColumns+` FROM trades WHERE bot_id = ? AND action = 'CLOSE' AND executed_at >= ? ORDER BY executed_at`,
		botID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades since: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TradeStats returns the closed-trade count and win count for a bot.
func (s *Store) TradeStats(botID string) (total, wins int, realized float64, err error) {
	err = s.db.QueryRow(`
	SELECT COUNT(*),
		   COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(pnl), 0)
	FROM trades WHERE bot_id = ? AND action = 'CLOSE'`, botID).Scan(&total, &wins, &realized)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get trade stats: %w", err)
	}
	return total, wins, realized, nil
}
