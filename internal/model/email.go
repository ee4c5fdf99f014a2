package model

import "time"

// DefaultRetention is the retention window used when none is configured.
const DefaultRetention = 3 * 24 * time.Hour

// Email is the persisted outcome of classifying one message. It is written
// once per (AccountID, MessageID) and never updated afterwards.
type Email struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	MessageID string `json:"message_id" db:"message_id"`
	FromAddr  string `json:"from_addr" db:"from_addr"`
	ToAddr    string `json:"to_addr" db:"to_addr"`
	Subject   string `json:"subject" db:"subject"`

	Category   Category `json:"category" db:"category"`
	Confidence int      `json:"confidence" db:"confidence"`
	Reason     string   `json:"reason" db:"reason"`

	// AI fields are set only when the classifier fallback produced the
	// category.
	AICategory   *string  `json:"ai_category,omitempty" db:"ai_category"`
	AIConfidence *float64 `json:"ai_confidence,omitempty" db:"ai_confidence"`
	AISummary    *string  `json:"ai_summary,omitempty" db:"ai_summary"`
	AIModel      *string  `json:"ai_model,omitempty" db:"ai_model"`

	// MatchedRule is set only when a rule produced the category.
	MatchedRule *string `json:"matched_rule,omitempty" db:"matched_rule"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
