package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailreader/internal/model"
)

// InsertEmailIfAbsent writes e unless (account_id, message_id) is already
// stored. The uniqueness check and the write are one statement, so two
// concurrent inserts of the same message persist a single row.
func (s *SQLiteStore) InsertEmailIfAbsent(ctx context.Context, e model.Email) (bool, error) {
	if e.AccountID == "" || e.MessageID == "" {
		return false, fmt.Errorf("%w: account_id and message_id are required", ErrPersistence)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = e.CreatedAt
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (
			id, account_id, message_id,
			from_addr, to_addr, subject,
			category, confidence, reason,
			ai_category, ai_confidence, ai_summary, ai_model,
			matched_rule,
			received_at, expires_at, created_at
		) VALUES (
			?, ?, ?,
			?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?,
			?, ?, ?
		)
		ON CONFLICT(account_id, message_id) DO NOTHING`,
		e.ID, e.AccountID, e.MessageID,
		e.FromAddr, e.ToAddr, e.Subject,
		string(e.Category), e.Confidence, e.Reason,
		e.AICategory, e.AIConfidence, e.AISummary, e.AIModel,
		e.MatchedRule,
		e.ReceivedAt.UTC(), e.ExpiresAt.UTC(), e.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("%w: inserting email %s: %v", ErrPersistence, e.MessageID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: checking rows affected: %v", ErrPersistence, err)
	}
	return rows == 1, nil
}

// GetEmail returns the stored row for (accountID, messageID).
func (s *SQLiteStore) GetEmail(ctx context.Context, accountID, messageID string) (*model.Email, error) {
	var e model.Email
	err := s.db.GetContext(ctx, &e, `
		SELECT id, account_id, message_id, from_addr, to_addr, subject,
			category, confidence, reason,
			ai_category, ai_confidence, ai_summary, ai_model, matched_rule,
			received_at, expires_at, created_at
		FROM emails
		WHERE account_id = ? AND message_id = ?`,
		accountID, messageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %s/%s: %w", accountID, messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting email: %v", ErrPersistence, err)
	}
	return &e, nil
}

// CountEmails returns the number of stored rows for accountID.
func (s *SQLiteStore) CountEmails(ctx context.Context, accountID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM emails WHERE account_id = ?", accountID); err != nil {
		return 0, fmt.Errorf("%w: counting emails: %v", ErrPersistence, err)
	}
	return n, nil
}

// DeleteExpiredEmails removes every row whose expires_at is before now.
func (s *SQLiteStore) DeleteExpiredEmails(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM emails WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired emails: %v", ErrPersistence, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: checking rows affected: %v", ErrPersistence, err)
	}
	return n, nil
}
