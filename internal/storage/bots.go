package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const botColumns = `id, user_id, name, system_prompt, provider_id, mode, active, paused, avatar, symbols, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (*models.Bot, error) {
	b := &models.Bot{}
	var symbols string
	err := row.Scan(
		&b.ID, &b.UserID, &b.Name, &b.SystemPrompt, &b.ProviderID, &b.Mode,
		&b.Active, &b.Paused, &b.Avatar, &symbols, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	b.Symbols = unmarshalStringSlice(symbols)
	return b, nil
}

// CreateBot inserts a new bot row. A missing provider surfaces as
// ErrIntegrity via the foreign key.
func (s *Store) CreateBot(b *models.Bot) error {
	query := `
	INSERT INTO bots (` + botColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		b.ID, b.UserID, b.Name, b.SystemPrompt, b.ProviderID, b.Mode,
		b.Active, b.Paused, b.Avatar, marshalJSON(b.Symbols, "[]"), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", classify(err))
	}
	return nil
}

// GetBot retrieves a bot, owner-scoped unless ownerID is empty.
func (s *Store) GetBot(id, ownerID string) (*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	b, err := scanBot(s.db.QueryRow(query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return b, nil
}

// ListBots returns a page of bots plus the total count.
func (s *Store) ListBots(ownerID string, limit, offset int) ([]*models.Bot, int, error) {
	where, args := ` WHERE active = 1`, []any{}
	if ownerID != "" {
		where += ` AND user_id = ?`
		args = append(args, ownerID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bots`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count bots: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+botColumns+` FROM bots`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, total, rows.Err()
}

// ListActiveBots returns every active bot regardless of owner; the
// scheduler uses it at startup.
func (s *Store) ListActiveBots() ([]*models.Bot, error) {
	rows, err := s.db.Query(`SELECT ` + botColumns + ` FROM bots WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// UpdateBot rewrites the mutable fields of a bot.
func (s *Store) UpdateBot(b *models.Bot, ownerID string) error {
	query := `
	UPDATE bots
	SET name = ?, system_prompt = ?, provider_id = ?, mode = ?, avatar = ?, symbols = ?, updated_at = ?
	WHERE id = ? AND active = 1`
	args := []any{
		b.Name, b.SystemPrompt, b.ProviderID, b.Mode, b.Avatar,
		marshalJSON(b.Symbols, "[]"), time.Now().UTC(), b.ID,
	}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update bot: %w", classify(err))
	}
	return requireRowAffected(res, "bot")
}

// SetBotPaused flips the persistent paused flag.
func (s *Store) SetBotPaused(id, ownerID string, paused bool) error {
	query := `UPDATE bots SET paused = ?, updated_at = ? WHERE id = ?`
	args := []any{paused, time.Now().UTC(), id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to set bot paused: %w", classify(err))
	}
	return requireRowAffected(res, "bot")
}

// SoftDeleteBot clears the active flag; history stays queryable.
func (s *Store) SoftDeleteBot(id, ownerID string) error {
	query := `UPDATE bots SET active = 0, updated_at = ? WHERE id = ? AND active = 1`
	args := []any{time.Now().UTC(), id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", classify(err))
	}
	return requireRowAffected(res, "bot")
}

// ResetBot deletes a bot's positions, trades, decisions and snapshots
// in one transaction and writes a fresh snapshot at the initial
// balance. The history summary is deliberately left alone.
func (s *Store) ResetBot(ctx context.Context, botID string, fresh *models.Snapshot) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		statements := []string{
			`DELETE FROM snapshots WHERE bot_id = ?`,
			`DELETE FROM decisions WHERE bot_id = ?`,
			`DELETE FROM trades WHERE bot_id = ?`,
			`DELETE FROM positions WHERE bot_id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt, botID); err != nil {
				return fmt.Errorf("failed to reset bot: %w", classify(err))
			}
		}
		return insertSnapshotTx(tx, fresh)
	})
}

// ListOrphanedBots returns bots whose owner is inactive or missing.
func (s *Store) ListOrphanedBots() ([]*models.Bot, error) {
	rows, err := s.db.Query(`
	SELECT ` + prefixedBotColumns + `
	FROM bots b
	LEFT JOIN users u ON u.id = b.user_id
	WHERE b.active = 1 AND (u.id IS NULL OR u.active = 0)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

const prefixedBotColumns = `b.id, b.user_id, b.name, b.system_prompt, b.provider_id, b.mode, b.active, b.paused, b.avatar, b.symbols, b.created_at, b.updated_at`

// DeleteOrphanedBots soft-deletes every orphaned bot and reports how
// many were affected.
func (s *Store) DeleteOrphanedBots() (int, error) {
	res, err := s.db.Exec(`
	UPDATE bots SET active = 0, updated_at = ?
	WHERE active = 1 AND user_id IN (
		SELECT b.user_id FROM bots b
		LEFT JOIN users u ON u.id = b.user_id
		WHERE u.id IS NULL OR u.active = 0
	)`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned bots: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
