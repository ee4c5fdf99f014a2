// Package testutil provides shared fixtures for store-backed tests.
package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailreader/internal/model"
	"github.com/nhle/mailreader/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount creates an account with the given encrypted secret.
func SeedAccount(t *testing.T, s *store.SQLiteStore, email string, method model.AuthMethod, encPayload string) *model.Account {
	t.Helper()

	ctx := context.Background()
	acc, err := s.CreateAccount(ctx, model.Account{Email: email, AuthMethod: method})
	if err != nil {
		t.Fatalf("seeding account %s: %v", email, err)
	}
	if err := s.PutSecret(ctx, acc.ID, encPayload); err != nil {
		t.Fatalf("seeding secret for %s: %v", email, err)
	}
	return acc
}
