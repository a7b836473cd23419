package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const snapshotColumns = `id, user_id, bot_id, balance, unrealized_pnl, realized_pnl, total_value, trade_count, win_rate, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*models.Snapshot, error) {
	sn := &models.Snapshot{}
	err := row.Scan(
		&sn.ID, &sn.UserID, &sn.BotID, &sn.Balance, &sn.UnrealizedPnl,
		&sn.RealizedPnl, &sn.TotalValue, &sn.TradeCount, &sn.WinRate, &sn.CreatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return sn, nil
}

func insertSnapshotTx(tx *sql.Tx, sn *models.Snapshot) error {
	query := `
	INSERT INTO snapshots (` + snapshotColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		sn.ID, sn.UserID, sn.BotID, sn.Balance, sn.UnrealizedPnl,
		sn.RealizedPnl, sn.TotalValue, sn.TradeCount, sn.WinRate, sn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", classify(err))
	}
	return nil
}

// InsertSnapshot writes a single snapshot row outside a turn.
func (s *Store) InsertSnapshot(sn *models.Snapshot) error {
	return s.withSingleTx(func(tx *sql.Tx) error {
		return insertSnapshotTx(tx, sn)
	})
}

// GetBotSnapshots returns a bot's snapshots within [from, to],
// oldest first. Zero times mean unbounded.
func (s *Store) GetBotSnapshots(botID string, from, to time.Time, ownerID string) ([]*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE bot_id = ?`
	args := []any{botID}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, rows.Err()
}

// LatestSnapshot returns the newest snapshot for a bot.
func (s *Store) LatestSnapshot(botID string) (*models.Snapshot, error) {
	sn, err := scanSnapshot(s.db.QueryRow(
		`SELECT `+snapshotColumns+` FROM snapshots WHERE bot_id = ? ORDER BY created_at DESC LIMIT 1`,
		botID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return sn, nil
}

// withSingleTx wraps one statement in a transaction without a caller
// context; convenience for single-row writes.
func (s *Store) withSingleTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
