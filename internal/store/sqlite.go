package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailreader/internal/model"
)

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode and foreign keys, and runs any pending schema
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite db: %v", ErrPersistence, err)
	}

	// One connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling WAL mode: %v", ErrPersistence, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling foreign keys: %v", ErrPersistence, err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: setting busy timeout: %v", ErrPersistence, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", ErrPersistence, err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrPersistence, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("%w: reading schema version: %v", ErrPersistence, err)
	}
	return v, nil
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

// GetAccountsWithSecrets joins accounts with their secrets. Accounts
// without a secret are not returned.
func (s *SQLiteStore) GetAccountsWithSecrets(ctx context.Context) ([]model.AccountWithSecret, error) {
	var accounts []model.AccountWithSecret
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT a.id, a.email, a.auth_method, a.created_at, s.enc_payload
		FROM accounts a
		JOIN secrets s ON s.account_id = a.id
		ORDER BY a.created_at, a.id`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing accounts: %v", ErrPersistence, err)
	}
	return accounts, nil
}

// UpdateSecret replaces the encrypted payload for accountID.
func (s *SQLiteStore) UpdateSecret(ctx context.Context, accountID, encPayload string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE secrets SET enc_payload = ? WHERE account_id = ?",
		encPayload, accountID,
	)
	if err != nil {
		return fmt.Errorf("%w: updating secret for %s: %v", ErrPersistence, accountID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking rows affected: %v", ErrPersistence, err)
	}
	if rows == 0 {
		return fmt.Errorf("secret for account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

// CreateAccount inserts a new account. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateAccount(ctx context.Context, acc model.Account) (*model.Account, error) {
	if acc.Email == "" {
		return nil, fmt.Errorf("%w: account email must not be empty", ErrPersistence)
	}
	switch acc.AuthMethod {
	case model.AuthMethodIMAP, model.AuthMethodExchange:
	default:
		return nil, fmt.Errorf("%w: unknown auth method %q", ErrPersistence, acc.AuthMethod)
	}
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, email, auth_method, created_at) VALUES (?, ?, ?, ?)",
		acc.ID, acc.Email, string(acc.AuthMethod), acc.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating account: %v", ErrPersistence, err)
	}
	return &acc, nil
}

// PutSecret inserts or replaces the secret of an account.
func (s *SQLiteStore) PutSecret(ctx context.Context, accountID, encPayload string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (account_id, enc_payload, created_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET enc_payload = excluded.enc_payload`,
		accountID, encPayload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: storing secret for %s: %v", ErrPersistence, accountID, err)
	}
	return nil
}

// GetSecret returns the encrypted payload of an account.
func (s *SQLiteStore) GetSecret(ctx context.Context, accountID string) (string, error) {
	var enc string
	err := s.db.GetContext(ctx, &enc, "SELECT enc_payload FROM secrets WHERE account_id = ?", accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret for account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading secret for %s: %v", ErrPersistence, accountID, err)
	}
	return enc, nil
}
