package model

import "time"

// Category is the classification outcome persisted for every email.
type Category string

const (
	CategoryImportant Category = "important"
	CategoryNormal    Category = "normal"
	CategorySpam      Category = "spam"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryImportant, CategoryNormal, CategorySpam:
		return true
	}
	return false
}

// Condition operators understood by the rule engine. Any other value is
// treated as OpIContains.
const (
	OpIContains = "icontains"
	OpContains  = "contains"
	OpEq        = "eq"
	OpEquals    = "equals"
)

// RuleCondition tests one message field against a value.
type RuleCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// RuleAction is applied when a rule matches.
type RuleAction struct {
	SetCategory Category `json:"set_category"`
}

// Rule is a priority-ordered, condition-based classification override.
// A rule matches when any one of its conditions matches.
type Rule struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Name       string          `json:"name" db:"name"`
	Enabled    bool            `json:"enabled" db:"enabled"`
	Priority   int             `json:"priority" db:"priority"`
	Conditions []RuleCondition `json:"conditions" db:"-"`
	Action     RuleAction      `json:"action" db:"-"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
