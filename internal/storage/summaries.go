package storage

import (
	"fmt"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// GetHistorySummary returns the bot's single current summary, or
// ErrNotFound if it has never been summarized.
func (s *Store) GetHistorySummary(botID, ownerID string) (*models.HistorySummary, error) {
	query := `
	SELECT bot_id, user_id, summary, decision_count, from_time, to_time, generated_at, token_count
	FROM history_summaries WHERE bot_id = ?`
	args := []any{botID}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}

	h := &models.HistorySummary{}
	err := s.db.QueryRow(query, args...).Scan(
		&h.BotID, &h.UserID, &h.Summary, &h.DecisionCount,
		&h.FromTime, &h.ToTime, &h.GeneratedAt, &h.TokenCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get history summary: %w", classify(err))
	}
	return h, nil
}

// ReplaceHistorySummary swaps in a regenerated summary. There is never
// more than one row per bot.
func (s *Store) ReplaceHistorySummary(h *models.HistorySummary) error {
	_, err := s.db.Exec(`
	INSERT INTO history_summaries (bot_id, user_id, summary, decision_count, from_time, to_time, generated_at, token_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(bot_id) DO UPDATE SET
		summary = excluded.summary,
		decision_count = excluded.decision_count,
		from_time = excluded.from_time,
		to_time = excluded.to_time,
		generated_at = excluded.generated_at,
		token_count = excluded.token_count`,
		h.BotID, h.UserID, h.Summary, h.DecisionCount,
		h.FromTime, h.ToTime, h.GeneratedAt, h.TokenCount,
	)
	if err != nil {
		return fmt.Errorf("failed to replace history summary: %w", classify(err))
	}
	return nil
}

// DeleteHistorySummary drops a bot's learning artifact (clear-learning
// endpoint). Deleting a summary that does not exist is not an error.
func (s *Store) DeleteHistorySummary(botID, ownerID string) error {
	query := `DELETE FROM history_summaries WHERE bot_id = ?`
	args := []any{botID}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to delete history summary: %w", err)
	}
	return nil
}
