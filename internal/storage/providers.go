package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const providerColumns = `id, user_id, name, variant, endpoint, model, api_key_enc, config, active, created_at, updated_at`

func scanProvider(row interface{ Scan(...any) error }) (*models.Provider, error) {
	p := &models.Provider{}
	var config string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Variant, &p.Endpoint, &p.Model,
		&p.APIKeyEnc, &config, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	p.Config = unmarshalStringMap(config)
	return p, nil
}

// CreateProvider inserts a new provider row.
func (s *Store) CreateProvider(p *models.Provider) error {
	query := `
	INSERT INTO providers (` + providerColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		p.ID, p.UserID, p.Name, p.Variant, p.Endpoint, p.Model,
		p.APIKeyEnc, marshalJSON(p.Config, "{}"), p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", classify(err))
	}
	return nil
}

// GetProvider retrieves a provider. A non-empty ownerID restricts the
// lookup to that owner's rows.
func (s *Store) GetProvider(id, ownerID string) (*models.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	p, err := scanProvider(s.db.QueryRow(query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// ListProviders returns a page of providers plus the total count.
func (s *Store) ListProviders(ownerID string, limit, offset int) ([]*models.Provider, int, error) {
	where, args := "", []any{}
	if ownerID != "" {
		where = ` WHERE user_id = ?`
		args = append(args, ownerID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM providers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count providers: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+providerColumns+` FROM providers`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, total, rows.Err()
}

// UpdateProvider rewrites the mutable fields of a provider.
func (s *Store) UpdateProvider(p *models.Provider, ownerID string) error {
	query := `
	UPDATE providers
	SET name = ?, variant = ?, endpoint = ?, model = ?, api_key_enc = ?, config = ?, active = ?, updated_at = ?
	WHERE id = ?`
	args := []any{
		p.Name, p.Variant, p.Endpoint, p.Model, p.APIKeyEnc,
		marshalJSON(p.Config, "{}"), p.Active, time.Now().UTC(), p.ID,
	}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", classify(err))
	}
	return requireRowAffected(res, "provider")
}

// DeleteProvider removes a provider. Providers with dependent bots
// cannot be removed; the caller gets ErrIntegrity with the count.
func (s *Store) DeleteProvider(id, ownerID string) error {
	var dependents int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bots WHERE provider_id = ? AND active = 1`, id).Scan(&dependents); err != nil {
		return fmt.Errorf("failed to count dependent bots: %w", err)
	}
	if dependents > 0 {
		return fmt.Errorf("provider has %d dependent bots: %w", dependents, ErrIntegrity)
	}

	query := `DELETE FROM providers WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		query += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", classify(err))
	}
	return requireRowAffected(res, "provider")
}

// GetActivePricing returns the active pricing row for a provider, or
// ErrNotFound when no pricing is configured.
func (s *Store) GetActivePricing(providerID string) (*models.ProviderPricing, error) {
	p := &models.ProviderPricing{}
	err := s.db.QueryRow(
		`SELECT id, provider_id, input_per_mtok, output_per_mtok, markup_percent, active
		 FROM provider_pricing WHERE provider_id = ? AND active = 1 LIMIT 1`,
		providerID,
	).Scan(&p.ID, &p.ProviderID, &p.InputPerMTok, &p.OutputPerMTok, &p.MarkupPercent, &p.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to get pricing: %w", classify(err))
	}
	return p, nil
}

// UpsertPricing replaces the active pricing row for a provider. Any
// previously active row is deactivated so GetActivePricing sees exactly
// one row.
func (s *Store) UpsertPricing(p *models.ProviderPricing) error {
	return s.withSingleTx(func(tx *sql.Tx) error {
		if p.Active {
			if _, err := tx.Exec(
				`UPDATE provider_pricing SET active = 0 WHERE provider_id = ? AND id != ?`,
				p.ProviderID, p.ID,
			); err != nil {
				return fmt.Errorf("failed to deactivate pricing: %w", classify(err))
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO provider_pricing (id, provider_id, input_per_mtok, output_per_mtok, markup_percent, active)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				input_per_mtok = excluded.input_per_mtok,
				output_per_mtok = excluded.output_per_mtok,
				markup_percent = excluded.markup_percent,
				active = excluded.active`,
			p.ID, p.ProviderID, p.InputPerMTok, p.OutputPerMTok, p.MarkupPercent, p.Active,
		); err != nil {
			return fmt.Errorf("failed to upsert pricing: %w", classify(err))
		}
		return nil
	})
}
