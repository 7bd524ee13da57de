package classify

import (
	"context"
	"strings"
	"unicode"

	"github.com/directline-io/directline/pkg/protocol"
)

// Rule maps trigger words to a team.
type Rule struct {
	Team  string
	Words []string
}

// DefaultRules is the keyword table used when no model backend is configured.
var DefaultRules = []Rule{
	{Team: "Infrastructure & Reliability", Words: []string{"server", "down", "outage", "crash", "timeout", "500", "unavailable", "slow"}},
	{Team: "Account Security", Words: []string{"login", "password", "locked", "2fa", "otp", "hacked", "sign"}},
	{Team: "Billing & Payments", Words: []string{"invoice", "payment", "refund", "charge", "billing", "card", "subscription"}},
	{Team: "Account Management", Words: []string{"profile", "email", "address", "name", "settings", "account"}},
}

// FallbackTeam receives messages that match no rule.
const FallbackTeam = "General Support"

// RulesClassifier is a deterministic keyword matcher.
type RulesClassifier struct {
	rules []Rule
}

// NewRules creates a keyword classifier. A nil table uses DefaultRules.
func NewRules(rules []Rule) *RulesClassifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &RulesClassifier{rules: rules}
}

func (c *RulesClassifier) Name() string { return "rules" }

// Classify picks the rule with the most matching words. Ties go to the earlier rule.
func (c *RulesClassifier) Classify(ctx context.Context, text string) (*protocol.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := tokenize(text)
	if len(words) == 0 {
		return nil, ErrIncomplete
	}
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	best, bestHits := -1, 0
	var bestMatched []string
	for i, r := range c.rules {
		var matched []string
		for _, w := range r.Words {
			if present[w] {
				matched = append(matched, w)
			}
		}
		if len(matched) > bestHits {
			best, bestHits, bestMatched = i, len(matched), matched
		}
	}

	if best < 0 {
		return &protocol.Classification{SuggestedTeam: FallbackTeam, Keywords: strings.Join(firstN(significant(words), 3), ", ")}, nil
	}
	return &protocol.Classification{SuggestedTeam: c.rules[best].Team, Keywords: strings.Join(bestMatched, ", ")}, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func significant(words []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range words {
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	if len(out) == 0 {
		return words
	}
	return out
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
