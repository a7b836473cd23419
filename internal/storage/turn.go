package storage

import (
	"context"
	"database/sql"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// TurnWrite bundles everything one bot turn persists. All of it lands
// in a single transaction so a crashed turn is never half-visible.
type TurnWrite struct {
	OpenedPositions []*models.Position
	ClosedPositions []*models.Position
	Trades          []*models.Trade
	MarkUpdates     map[string]float64 // position id -> unrealized pnl
	Decision        *models.Decision
	Snapshot        *models.Snapshot
}

// ApplyTurn commits one turn's writes atomically.
func (s *Store) ApplyTurn(ctx context.Context, tw *TurnWrite) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range tw.OpenedPositions {
			if err := insertPositionTx(tx, p); err != nil {
				return err
			}
		}
		for _, p := range tw.ClosedPositions {
			if err := closePositionTx(tx, p); err != nil {
				return err
			}
		}
		for id, pnl := range tw.MarkUpdates {
			if _, err := tx.Exec(
				`UPDATE positions SET unrealized_pnl = ? WHERE id = ? AND status = 'open'`,
				pnl, id,
			); err != nil {
				return classify(err)
			}
		}
		for _, t := range tw.Trades {
			if err := insertTradeTx(tx, t); err != nil {
				return err
			}
		}
		if tw.Decision != nil {
			if err := insertDecisionTx(tx, tw.Decision); err != nil {
				return err
			}
		}
		if tw.Snapshot != nil {
			if err := insertSnapshotTx(tx, tw.Snapshot); err != nil {
				return err
			}
		}
		return nil
	})
}
