package storage

import (
	"fmt"
	"time"
)

// ReplaceArenaState overwrites the single projection row. The blob is
// already-serialized JSON; the store does not interpret it.
func (s *Store) ReplaceArenaState(blob []byte) error {
	_, err := s.db.Exec(`
	INSERT INTO arena_state (id, state, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(blob), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to replace arena state: %w", err)
	}
	return nil
}

// ReadArenaState returns the current projection blob, or ErrNotFound
// before the first broadcast tick.
func (s *Store) ReadArenaState() ([]byte, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM arena_state WHERE id = 1`).Scan(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to read arena state: %w", classify(err))
	}
	return []byte(state), nil
}
