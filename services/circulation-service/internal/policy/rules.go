package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

// Wildcard matches any value in a rule field.
const Wildcard = "*"

// Rule grants Days to loans matching all three fields.
type Rule struct {
	ItemType     string
	PatronType   string
	LocationCode string
	Days         int
}

// specificity counts the non-wildcard fields; -1 means no match.
func (r Rule) specificity(item model.Item, user model.User) int {
	score := 0
	for _, f := range [][2]string{
		{r.ItemType, item.ItemType},
		{r.PatronType, user.PatronType},
		{r.LocationCode, item.LocationCode},
	} {
		switch f[0] {
		case Wildcard:
		case f[1]:
			score++
		default:
			return -1
		}
	}
	return score
}

// RuleProvider picks, per item, the most specific matching rule (earlier
// rules win ties) and returns the shortest period across the batch.
type RuleProvider struct {
	rules    []Rule
	fallback int
}

func NewRuleProvider(rules []Rule, fallback int) *RuleProvider {
	if fallback <= 0 {
		fallback = DefaultLoanPeriodDays
	}
	return &RuleProvider{rules: rules, fallback: fallback}
}

func (p *RuleProvider) MaxLoanPeriod(_ context.Context, user model.User, items []model.Item) (int, error) {
	if len(items) == 0 {
		return p.fallback, nil
	}
	shortest := -1
	for _, item := range items {
		days := p.periodFor(item, user)
		if shortest < 0 || days < shortest {
			shortest = days
		}
	}
	return shortest, nil
}

func (p *RuleProvider) periodFor(item model.Item, user model.User) int {
	best, bestScore := p.fallback, -1
	for _, r := range p.rules {
		if s := r.specificity(item, user); s > bestScore {
			best, bestScore = r.Days, s
		}
	}
	return best
}

// ParseRules reads "item_type:patron_type:location=days" entries separated by
// ";" or newlines, e.g. "book:student:*=14;dvd:*:*=7".
func ParseRules(raw string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '\n' }) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, val, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("loan rule %q: missing '='", entry)
		}
		fields := strings.Split(strings.TrimSpace(key), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("loan rule %q: want item_type:patron_type:location", entry)
		}
		days, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("loan rule %q: days must be a positive integer", entry)
		}
		for i := range fields {
			if fields[i] = strings.TrimSpace(fields[i]); fields[i] == "" {
				fields[i] = Wildcard
			}
		}
		rules = append(rules, Rule{ItemType: fields[0], PatronType: fields[1], LocationCode: fields[2], Days: days})
	}
	return rules, nil
}
