package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS credentials (
				user_id       TEXT NOT NULL,
				account_email TEXT NOT NULL,
				access_token  TEXT NOT NULL,
				refresh_token TEXT NOT NULL,
				is_active     INTEGER NOT NULL DEFAULT 1,
				updated_at    TIMESTAMP NOT NULL,
				PRIMARY KEY (user_id, account_email)
			);
			INSERT OR REPLACE INTO schema_version (version) VALUES (1);
		`,
	},
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// GetActive returns the active credential for the user. A user may have
// multiple accounts; the most recently refreshed active one wins.
func (s *SQLiteStore) GetActive(ctx context.Context, userID string) (Credential, error) {
	var cred Credential
	err := s.db.GetContext(ctx, &cred, `
		SELECT user_id, account_email, access_token, refresh_token, is_active, updated_at
		FROM credentials
		WHERE user_id = ? AND is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNoActiveCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("querying credential for user %s: %w", userID, err)
	}
	return cred, nil
}

// SaveTokens inserts or replaces the credential row for the user+account
// pair. The row is marked active: saving tokens only ever happens after a
// successful exchange.
func (s *SQLiteStore) SaveTokens(ctx context.Context, userID, accountEmail, accessToken, refreshToken string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO credentials (
			user_id, account_email, access_token, refresh_token, is_active, updated_at
		) VALUES (?, ?, ?, ?, 1, ?)`,
		userID, accountEmail, accessToken, refreshToken, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting credential for user %s: %w", userID, err)
	}
	return nil
}

// Deactivate marks the credential inactive.
func (s *SQLiteStore) Deactivate(ctx context.Context, userID, accountEmail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET is_active = 0, updated_at = ?
		WHERE user_id = ? AND account_email = ?`,
		time.Now().UTC(), userID, accountEmail,
	)
	if err != nil {
		return fmt.Errorf("deactivating credential for user %s: %w", userID, err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
