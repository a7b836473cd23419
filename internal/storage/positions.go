package storage

import (
	"database/sql"
	"fmt"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const positionColumns = `id, user_id, bot_id, symbol, side, entry_price, size, leverage, liquidation_price, stop_loss, take_profit, unrealized_pnl, exit_price, status, opened_at, closed_at`

func scanPosition(row interface{ Scan(...any) error }) (*models.Position, error) {
	p := &models.Position{}
	var closedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.UserID, &p.BotID, &p.Symbol, &p.Side, &p.EntryPrice,
		&p.Size, &p.Leverage, &p.LiquidationPrice, &p.StopLoss, &p.TakeProfit,
		&p.UnrealizedPnl, &p.ExitPrice, &p.Status, &p.OpenedAt, &closedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return p, nil
}

func insertPositionTx(tx *sql.Tx, p *models.Position) error {
	query := `
	INSERT INTO positions (` + positionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		p.ID, p.UserID, p.BotID, p.Symbol, p.Side, p.EntryPrice,
		p.Size, p.Leverage, p.LiquidationPrice, p.StopLoss, p.TakeProfit,
		p.UnrealizedPnl, p.ExitPrice, p.Status, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", classify(err))
	}
	return nil
}

func closePositionTx(tx *sql.Tx, p *models.Position) error {
	res, err := tx.Exec(
		`UPDATE positions SET status = ?, unrealized_pnl = 0, exit_price = ?, closed_at = ? WHERE id = ? AND status = 'open'`,
		models.PositionClosed, p.ExitPrice, p.ClosedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", classify(err))
	}
	return requireRowAffected(res, "position")
}

// OpenPositions returns every open position of a bot.
func (s *Store) OpenPositions(botID string) ([]*models.Position, error) {
	rows, err := s.db.Query(
		`SELECT `+positionColumns+` FROM positions WHERE bot_id = ? AND status = 'open' ORDER BY opened_at`,
		botID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListPositions returns a page of a bot's positions filtered by
// status ("open", "closed" or "all").
func (s *Store) ListPositions(botID, ownerID, status string, limit, offset int) ([]*models.Position, int, error) {
	where, args := ` WHERE bot_id = ?`, []any{botID}
	if ownerID != "" {
		where += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	if status != "" && status != "all" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM positions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count positions: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+positionColumns+` FROM positions`+where+` ORDER BY opened_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, total, rows.Err()
}

// UpdatePositionMark persists the per-tick unrealized pnl.
func (s *Store) UpdatePositionMark(id string, unrealizedPnl float64) error {
	_, err := s.db.Exec(
		`UPDATE positions SET unrealized_pnl = ? WHERE id = ? AND status = 'open'`,
		unrealizedPnl, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update position mark: %w", err)
	}
	return nil
}
