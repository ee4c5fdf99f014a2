// Package rules evaluates per-account classification rules against a
// normalized message.
package rules

import (
	"cmp"
	"slices"
	"strings"

	"github.com/nhle/mailreader/internal/model"
)

// DefaultRuleName is reported for a matching rule with an empty name.
const DefaultRuleName = "rule"

// Apply returns the action and name of the first rule that matches msg,
// or (nil, "") when none does.
//
// Rules are tried from highest to lowest priority; rules with equal
// priority keep their input order. A rule matches as soon as one of its
// conditions matches, and evaluation stops there. rs is not modified.
func Apply(msg model.NormalizedMessage, rs []model.Rule) (*model.RuleAction, string) {
	ordered := slices.Clone(rs)
	slices.SortStableFunc(ordered, func(a, b model.Rule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	for i := range ordered {
		r := &ordered[i]
		for _, cond := range r.Conditions {
			if !Match(msg, cond) {
				continue
			}
			action := r.Action
			name := r.Name
			if name == "" {
				name = DefaultRuleName
			}
			return &action, name
		}
	}
	return nil, ""
}

// Match reports whether a single condition holds for msg.
//
// "eq" and "equals" compare the trimmed field and value case-insensitively.
// "icontains", "contains" and any other operator test for a
// case-insensitive substring.
func Match(msg model.NormalizedMessage, cond model.RuleCondition) bool {
	target := msg.Field(strings.TrimSpace(cond.Field))
	value := strings.TrimSpace(cond.Value)

	switch strings.ToLower(strings.TrimSpace(cond.Op)) {
	case model.OpEq, model.OpEquals:
		return strings.ToLower(strings.TrimSpace(target)) == strings.ToLower(value)
	default:
		return strings.Contains(strings.ToLower(target), strings.ToLower(value))
	}
}
