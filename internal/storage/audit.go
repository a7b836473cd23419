package storage

import (
	"fmt"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// InsertAudit appends one audit row. Audit writes are best-effort for
// callers, but the store itself never drops them silently.
func (s *Store) InsertAudit(a *models.AuditEntry) error {
	query := `
	INSERT INTO audit_log (id, event, entity_kind, entity_id, actor_id, details, ip, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		a.ID, a.Event, a.EntityKind, a.EntityID, a.ActorID,
		marshalJSON(a.Details, "{}"), a.IP, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", classify(err))
	}
	return nil
}

// ListAudit returns a page of the audit log, newest first.
func (s *Store) ListAudit(limit, offset int) ([]*models.AuditEntry, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit log: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, event, entity_kind, entity_id, actor_id, details, ip, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		a := &models.AuditEntry{}
		var details string
		err := rows.Scan(&a.ID, &a.Event, &a.EntityKind, &a.EntityID, &a.ActorID, &details, &a.IP, &a.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		a.Details = unmarshalStringMap(details)
		entries = append(entries, a)
	}
	return entries, total, rows.Err()
}

// CountAuditEvents counts audit rows for one event type; persistence
// failure streaks are observed through this.
func (s *Store) CountAuditEvents(event string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE event = ?`, event).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}
