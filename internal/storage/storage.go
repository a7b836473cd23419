package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classified storage errors. Callers branch with errors.Is; everything
// else is an internal failure.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrIntegrity = errors.New("integrity violation")
)

// Store handles all SQLite database operations. One Store is shared by
// every component; SQLite serializes writes internally.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and initializes the
// schema.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		active BOOLEAN NOT NULL DEFAULT 1,
		enc_salt BLOB NOT NULL,
		recovery_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		variant TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		model TEXT NOT NULL,
		api_key_enc TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS provider_pricing (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		input_per_mtok INTEGER NOT NULL,
		output_per_mtok INTEGER NOT NULL,
		markup_percent REAL NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		mode TEXT NOT NULL DEFAULT 'paper',
		active BOOLEAN NOT NULL DEFAULT 1,
		paused BOOLEAN NOT NULL DEFAULT 0,
		avatar BLOB,
		symbols TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		bot_id TEXT NOT NULL REFERENCES bots(id),
		exchange TEXT NOT NULL,
		api_key_enc TEXT NOT NULL,
		api_secret_enc TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_active
		ON wallets(bot_id, exchange) WHERE active = 1;

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		bot_id TEXT NOT NULL REFERENCES bots(id),
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		size REAL NOT NULL,
		leverage INTEGER NOT NULL,
		liquidation_price REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		exit_price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'open',
		opened_at DATETIME NOT NULL,
		closed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
	CREATE INDEX IF NOT EXISTS idx_positions_bot ON positions(bot_id, status);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		bot_id TEXT NOT NULL REFERENCES bots(id),
		position_id TEXT REFERENCES positions(id),
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		size REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		executed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_bot_time ON trades(bot_id, executed_at DESC);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		bot_id TEXT NOT NULL REFERENCES bots(id),
		prompt TEXT NOT NULL,
		actions TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '[]',
		success BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_bot_time ON decisions(bot_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		bot_id TEXT NOT NULL REFERENCES bots(id),
		balance REAL NOT NULL,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		total_value REAL NOT NULL,
		trade_count INTEGER NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_bot_time ON snapshots(bot_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS history_summaries (
		bot_id TEXT PRIMARY KEY REFERENCES bots(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		summary TEXT NOT NULL,
		decision_count INTEGER NOT NULL,
		from_time DATETIME NOT NULL,
		to_time DATETIME NOT NULL,
		generated_at DATETIME NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS token_usage (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		bot_id TEXT,
		provider_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		input_cost INTEGER NOT NULL DEFAULT 0,
		output_cost INTEGER NOT NULL DEFAULT 0,
		total_cost INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		reported BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_reported ON token_usage(reported, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		ip TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at DESC);

	CREATE TABLE IF NOT EXISTS arena_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leaderboard (
		period TEXT NOT NULL,
		rank INTEGER NOT NULL,
		bot_id TEXT NOT NULL,
		bot_name TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		total_pnl REAL NOT NULL,
		trade_count INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		sharpe REAL NOT NULL DEFAULT 0,
		max_drawdown REAL NOT NULL DEFAULT 0,
		first_trade DATETIME NOT NULL,
		computed_at DATETIME NOT NULL,
		PRIMARY KEY (period, bot_id)
	);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction. Any error rolls the whole
// transaction back; partial turn writes must never be observable.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// classify maps driver errors onto the store's error taxonomy so that
// callers never inspect sqlite result codes themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
	}
	return err
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a unique-constraint error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsIntegrity reports whether err is a foreign-key error.
func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
