package storage

import (
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const walletColumns = `id, user_id, bot_id, exchange, api_key_enc, api_secret_enc, address, active, created_at, updated_at`

func scanWallet(row interface{ Scan(...any) error }) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.BotID, &w.Exchange, &w.APIKeyEnc,
		&w.APISecretEnc, &w.Address, &w.Active, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return w, nil
}

// CreateWallet inserts a wallet. A second active wallet for the same
// (bot, exchange) pair violates the partial unique index and returns
// ErrConflict.
func (s *Store) CreateWallet(w *models.Wallet) error {
	query := `
	INSERT INTO wallets (` + walletColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		w.ID, w.UserID, w.BotID, w.Exchange, w.APIKeyEnc,
		w.APISecretEnc, w.Address, w.Active, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", classify(err))
	}
	return nil
}

// GetWallet retrieves a wallet, owner-scoped unless ownerID is empty.
func (s *Store) GetWallet(id, ownerID string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	w, err := scanWallet(s.db.QueryRow(query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// ActiveWallet returns the single active wallet for (bot, exchange).
func (s *Store) ActiveWallet(botID, exchange string) (*models.Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(
		`SELECT `+walletColumns+` FROM wallets WHERE bot_id = ? AND exchange = ? AND active = 1`,
		botID, exchange,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to get active wallet: %w", err)
	}
	return w, nil
}

// ListWallets returns a page of wallets, optionally filtered by bot.
func (s *Store) ListWallets(ownerID, botID string, limit, offset int) ([]*models.Wallet, int, error) {
	where, args := ` WHERE 1=1`, []any{}
	if ownerID != "" {
		where += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	if botID != "" {
		where += ` AND bot_id = ?`
		args = append(args, botID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM wallets`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count wallets: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+walletColumns+` FROM wallets`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, total, rows.Err()
}

// UpdateWallet rewrites the mutable fields of a wallet.
func (s *Store) UpdateWallet(w *models.Wallet, ownerID string) error {
	query := `
	UPDATE wallets
	SET exchange = ?, api_key_enc = ?, api_secret_enc = ?, address = ?, active = ?, updated_at = ?
	WHERE id = ?`
	args := []any{w.Exchange, w.APIKeyEnc, w.APISecretEnc, w.Address, w.Active, time.Now().UTC(), w.ID}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", classify(err))
	}
	return requireRowAffected(res, "wallet")
}

// DeleteWallet removes a wallet row.
func (s *Store) DeleteWallet(id, ownerID string) error {
	query := `DELETE FROM wallets WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", classify(err))
	}
	return requireRowAffected(res, "wallet")
}
