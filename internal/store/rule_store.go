package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailreader/internal/model"
)

// ruleRow is the on-disk shape of a rule; conditions and action are JSON.
type ruleRow struct {
	ID         string    `db:"id"`
	AccountID  string    `db:"account_id"`
	Name       string    `db:"name"`
	Enabled    bool      `db:"enabled"`
	Priority   int       `db:"priority"`
	Conditions string    `db:"conditions"`
	Action     string    `db:"action"`
	CreatedAt  time.Time `db:"created_at"`
}

// GetEnabledRules returns the enabled rules of accountID ordered by
// priority, highest first. Ties keep creation order.
func (s *SQLiteStore) GetEnabledRules(ctx context.Context, accountID string) ([]model.Rule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, name, enabled, priority, conditions, action, created_at
		FROM rules
		WHERE account_id = ? AND enabled = 1
		ORDER BY priority DESC, created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing rules for %s: %v", ErrPersistence, accountID, err)
	}

	rules := make([]model.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, model.Rule{
			ID:         r.ID,
			AccountID:  r.AccountID,
			Name:       r.Name,
			Enabled:    r.Enabled,
			Priority:   r.Priority,
			Conditions: decodeConditions(r.Conditions),
			Action:     decodeAction(r.Action),
			CreatedAt:  r.CreatedAt,
		})
	}
	return rules, nil
}

// decodeConditions parses the stored condition list. A value that is not
// a JSON array yields no conditions; array entries that are not objects
// are skipped.
func decodeConditions(raw string) []model.RuleCondition {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	conds := make([]model.RuleCondition, 0, len(items))
	for _, item := range items {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		conds = append(conds, model.RuleCondition{
			Field: stringField(fields, "field"),
			Op:    stringField(fields, "op"),
			Value: stringField(fields, "value"),
		})
	}
	return conds
}

func decodeAction(raw string) model.RuleAction {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return model.RuleAction{}
	}
	return model.RuleAction{SetCategory: model.Category(stringField(fields, "set_category"))}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// CreateRule inserts a rule. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateRule(ctx context.Context, r model.Rule) (*model.Rule, error) {
	if r.AccountID == "" {
		return nil, fmt.Errorf("%w: rule account_id must not be empty", ErrPersistence)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Conditions == nil {
		r.Conditions = []model.RuleCondition{}
	}

	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling conditions: %v", ErrPersistence, err)
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling action: %v", ErrPersistence, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, account_id, name, enabled, priority, conditions, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.Name, r.Enabled, r.Priority, string(conds), string(action), r.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating rule: %v", ErrPersistence, err)
	}
	return &r, nil
}

// CreateRawRule inserts a rule with pre-encoded conditions and action.
// Tooling uses it to import rules written by other systems verbatim.
func (s *SQLiteStore) CreateRawRule(ctx context.Context, accountID, name string, priority int, conditions, action string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, account_id, name, enabled, priority, conditions, action, created_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)`,
		uuid.New().String(), accountID, name, priority, conditions, action, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: creating rule: %v", ErrPersistence, err)
	}
	return nil
}
