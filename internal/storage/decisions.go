package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const decisionColumns = `id, user_id, bot_id, prompt, actions, notes, success, created_at`

func scanDecision(row interface{ Scan(...any) error }) (*models.Decision, error) {
	d := &models.Decision{}
	var actions, notes string
	err := row.Scan(&d.ID, &d.UserID, &d.BotID, &d.Prompt, &actions, &notes, &d.Success, &d.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if actions != "" {
		_ = json.Unmarshal([]byte(actions), &d.Actions)
	}
	if notes != "" {
		_ = json.Unmarshal([]byte(notes), &d.Notes)
	}
	return d, nil
}

func insertDecisionTx(tx *sql.Tx, d *models.Decision) error {
	query := `
	INSERT INTO decisions (` + decisionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		d.ID, d.UserID, d.BotID, d.Prompt,
		marshalJSON(d.Actions, "[]"), marshalJSON(d.Notes, "[]"),
		d.Success, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", classify(err))
	}
	return nil
}

// ListDecisions returns a page of a bot's decisions plus the total.
func (s *Store) ListDecisions(botID, ownerID string, limit, offset int) ([]*models.Decision, int, error) {
	where, args := ` WHERE bot_id = ?`, []any{botID}
	if ownerID != "" {
		where += ` AND user_id = ?`
		args = append(args, ownerID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM decisions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count decisions: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+decisionColumns+` FROM decisions`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, total, rows.Err()
}

// RecentDecisions returns the last n decisions, newest first.
func (s *Store) RecentDecisions(botID string, n int) ([]*models.Decision, error) {
	rows, err := s.db.Query(
		`SELECT `+decisionColumns+` FROM decisions WHERE bot_id = ? ORDER BY created_at DESC LIMIT ?`,
		botID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// DecisionsAfter returns decisions created strictly after the cutoff,
// oldest first, capped at limit. The summarizer uses this to collect
// the un-summarized suffix of the log.
func (s *Store) DecisionsAfter(botID string, after time.Time, limit int) ([]*models.Decision, error) {
	rows, err := s.db.Query(
		`SELECT `+decisionColumns+` FROM decisions WHERE bot_id = ? AND created_at > ? ORDER BY created_at LIMIT ?`,
		botID, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions after: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// CountDecisionsAfter counts decisions created strictly after the
// cutoff.
func (s *Store) CountDecisionsAfter(botID string, after time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM decisions WHERE bot_id = ? AND created_at > ?`,
		botID, after,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return n, nil
}

// PruneExpired deletes decisions and snapshots older than the
// retention window. Trades and positions are never pruned.
func (s *Store) PruneExpired(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var pruned int64
	res, err := s.db.Exec(`DELETE FROM decisions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune decisions: %w", err)
	}
	n, _ := res.RowsAffected()
	pruned += n

	res, err = s.db.Exec(`DELETE FROM snapshots WHERE created_at < ?`, cutoff)
	if err != nil {
		return pruned, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ = res.RowsAffected()
	pruned += n

	return pruned, nil
}
