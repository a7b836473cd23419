package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const userColumns = `id, email, username, password_hash, role, active, enc_salt, recovery_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role,
		&u.Active, &u.EncSalt, &u.RecoveryHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// CreateUser inserts a new user. A duplicate email returns ErrConflict.
func (s *Store) CreateUser(u *models.User) error {
	query := `
	INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		u.ID, u.Email, u.Username, u.PasswordHash, u.Role,
		u.Active, u.EncSalt, u.RecoveryHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", classify(err))
	}
	return nil
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns a page of users plus the total count.
func (s *Store) ListUsers(limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// UpdateUserProfile updates the mutable profile fields.
func (s *Store) UpdateUserProfile(id, email, username string) error {
	res, err := s.db.Exec(
		`UPDATE users SET email = ?, username = ?, updated_at = ? WHERE id = ?`,
		email, username, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", classify(err))
	}
	return requireRowAffected(res, "user")
}

// UpdateUserPassword replaces the stored password hash.
func (s *Store) UpdateUserPassword(id, passwordHash string) error {
	res, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update user password: %w", classify(err))
	}
	return requireRowAffected(res, "user")
}

// UpdateUserRole changes a user's role.
func (s *Store) UpdateUserRole(id string, role models.Role) error {
	res, err := s.db.Exec(
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", classify(err))
	}
	return requireRowAffected(res, "user")
}

// UpdateUserStatus toggles the active flag.
func (s *Store) UpdateUserStatus(id string, active bool) error {
	res, err := s.db.Exec(
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", classify(err))
	}
	return requireRowAffected(res, "user")
}

// DeleteUserCascade removes a user and every row they own, in one
// transaction. Child tables go first to satisfy foreign keys.
func (s *Store) DeleteUserCascade(id string) error {
	return s.WithTx(context.Background(), func(tx *sql.Tx) error {
		statements := []string{
			`DELETE FROM token_usage WHERE user_id = ?`,
			`DELETE FROM history_summaries WHERE user_id = ?`,
			`DELETE FROM snapshots WHERE user_id = ?`,
			`DELETE FROM decisions WHERE user_id = ?`,
			`DELETE FROM trades WHERE user_id = ?`,
			`DELETE FROM positions WHERE user_id = ?`,
			`DELETE FROM wallets WHERE user_id = ?`,
			`DELETE FROM leaderboard WHERE user_id = ?`,
			`DELETE FROM bots WHERE user_id = ?`,
			`DELETE FROM provider_pricing WHERE provider_id IN (SELECT id FROM providers WHERE user_id = ?)`,
			`DELETE FROM providers WHERE user_id = ?`,
			`DELETE FROM refresh_tokens WHERE user_id = ?`,
			`DELETE FROM users WHERE id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt, id); err != nil {
				return fmt.Errorf("failed to cascade-delete user: %w", classify(err))
			}
		}
		return nil
	})
}

// SaveRefreshToken stores a hashed refresh token.
func (s *Store) SaveRefreshToken(tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO refresh_tokens (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		tokenHash, userID, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", classify(err))
	}
	return nil
}

// ConsumeRefreshToken deletes the token and returns its owner. Expired
// or unknown tokens return ErrNotFound.
func (s *Store) ConsumeRefreshToken(tokenHash string) (string, error) {
	var userID string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT user_id, expires_at FROM refresh_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&userID, &expiresAt)
	if err != nil {
		return "", fmt.Errorf("failed to look up refresh token: %w", classify(err))
	}
	if _, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE token_hash = ?`, tokenHash); err != nil {
		return "", fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if time.Now().After(expiresAt) {
		return "", fmt.Errorf("refresh token expired: %w", ErrNotFound)
	}
	return userID, nil
}

// RevokeRefreshTokens drops all refresh tokens for a user (logout).
func (s *Store) RevokeRefreshTokens(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}
