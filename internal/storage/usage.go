package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const usageColumns = `id, user_id, bot_id, provider_id, kind, input_tokens, output_tokens, input_cost, output_cost, total_cost, model, latency_ms, reported, created_at`

func scanUsage(row interface{ Scan(...any) error }) (*models.TokenUsage, error) {
	u := &models.TokenUsage{}
	err := row.Scan(
		&u.ID, &u.UserID, &u.BotID, &u.ProviderID, &u.Kind,
		&u.InputTokens, &u.OutputTokens, &u.InputCost, &u.OutputCost,
		&u.TotalCost, &u.Model, &u.LatencyMs, &u.Reported, &u.CreatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// InsertUsage writes a token-usage row. Re-inserting the same id is a
// no-op, which makes tracking idempotent.
func (s *Store) InsertUsage(u *models.TokenUsage) error {
	query := `
	INSERT OR IGNORE INTO token_usage (` + usageColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		u.ID, u.UserID, u.BotID, u.ProviderID, u.Kind,
		u.InputTokens, u.OutputTokens, u.InputCost, u.OutputCost,
		u.TotalCost, u.Model, u.LatencyMs, u.Reported, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", classify(err))
	}
	return nil
}

// UsageForPeriod returns all usage rows for a user within [from, to].
func (s *Store) UsageForPeriod(userID string, from, to time.Time) ([]*models.TokenUsage, error) {
	rows, err := s.db.Query(
		`SELECT `+usageColumns+` FROM token_usage
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var usage []*models.TokenUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// UnreportedUsage returns rows not yet handed to the biller.
func (s *Store) UnreportedUsage(userID string) ([]*models.TokenUsage, error) {
	query := `SELECT ` + usageColumns + ` FROM token_usage WHERE reported = 0`
	args := []any{}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreported usage: %w", err)
	}
	defer rows.Close()

	var usage []*models.TokenUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// MarkReported flags a batch of usage rows as handed off.
func (s *Store) MarkReported(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(
		`UPDATE token_usage SET reported = 1 WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to mark usage reported: %w", err)
	}
	return nil
}
