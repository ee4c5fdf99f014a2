// Package store persists accounts, rules and classified emails in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailreader/internal/model"
)

// ErrPersistence is wrapped by every error returned from a Store.
var ErrPersistence = errors.New("persistence")

// ErrNotFound is returned by lookups that match no row. It also wraps
// ErrPersistence.
var ErrNotFound = fmt.Errorf("%w: not found", ErrPersistence)

// Store is the persistence surface used by the ingestion worker.
type Store interface {
	// === Read path ===

	// GetAccountsWithSecrets returns every account that has a secret.
	GetAccountsWithSecrets(ctx context.Context) ([]model.AccountWithSecret, error)

	// GetEnabledRules returns the account's enabled rules, highest
	// priority first.
	GetEnabledRules(ctx context.Context, accountID string) ([]model.Rule, error)

	// === Write path ===

	// UpdateSecret replaces the encrypted credential blob of an account.
	UpdateSecret(ctx context.Context, accountID, encPayload string) error

	// InsertEmailIfAbsent stores e unless a row with the same
	// (AccountID, MessageID) exists. It reports whether a row was written.
	InsertEmailIfAbsent(ctx context.Context, e model.Email) (bool, error)

	// DeleteExpiredEmails removes rows whose expires_at is before now.
	DeleteExpiredEmails(ctx context.Context, now time.Time) (int64, error)
}
