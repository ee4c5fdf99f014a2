package rules

import (
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nhle/mailreader/internal/model"
)

func wordGen() gopter.Gen {
	return gen.SliceOfN(8, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})
}

// priorityGen mixes small values, the int extremes and the full range.
func priorityGen() gopter.Gen {
	return gen.OneGenOf(
		gen.IntRange(-100, 100),
		gen.Int(),
		gen.Const(math.MaxInt),
		gen.Const(math.MinInt),
		gen.Const(math.MinInt+1),
	)
}

func TestProperty_RuleEngine(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// icontains matches whenever the value occurs in the field in any case.
	properties.Property("icontains_ignores_case", prop.ForAll(
		func(prefix, needle, suffix string) bool {
			msg := model.NormalizedMessage{Subject: prefix + strings.ToUpper(needle) + suffix}
			return Match(msg, cond("subject", "icontains", strings.ToLower(needle)))
		},
		wordGen(), wordGen(), wordGen(),
	))

	// eq ignores surrounding whitespace on both sides.
	properties.Property("eq_trims", prop.ForAll(
		func(word string, pad int) bool {
			spaces := strings.Repeat(" ", pad)
			msg := model.NormalizedMessage{From: spaces + word + spaces}
			return Match(msg, cond("from", "eq", spaces+strings.ToUpper(word)))
		},
		wordGen(), gen.IntRange(0, 4),
	))

	// The result does not depend on the order rules are passed in.
	properties.Property("deterministic_under_shuffle", prop.ForAll(
		func(subject string, p1, p2, p3 int) bool {
			rs := []model.Rule{
				rule("r1", p1, model.CategorySpam, cond("subject", "icontains", subject[:1])),
				rule("r2", p2, model.CategoryImportant, cond("subject", "icontains", subject[1:2])),
				rule("r3", p3, model.CategoryNormal, cond("subject", "eq", subject)),
			}
			if p1 == p2 || p2 == p3 || p1 == p3 {
				return true
			}
			msg := model.NormalizedMessage{Subject: subject}
			_, want := Apply(msg, rs)
			reversed := []model.Rule{rs[2], rs[1], rs[0]}
			_, got := Apply(msg, reversed)
			return got == want
		},
		wordGen(), gen.IntRange(0, 50), gen.IntRange(0, 50), gen.IntRange(0, 50),
	))

	// The winner always has the highest priority among matching rules.
	properties.Property("highest_priority_match_wins", prop.ForAll(
		func(p1, p2 int) bool {
			msg := model.NormalizedMessage{Subject: "hello"}
			rs := []model.Rule{
				rule("a", p1, model.CategorySpam, cond("subject", "icontains", "hell")),
				rule("b", p2, model.CategoryImportant, cond("subject", "icontains", "ello")),
			}
			_, name := Apply(msg, rs)
			if p2 > p1 {
				return name == "b"
			}
			return name == "a"
		},
		priorityGen(), priorityGen(),
	))

	properties.TestingRun(t)
}
