// Package policy answers how long a user may borrow a batch of items.
package policy

import (
	"context"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

// DefaultLoanPeriodDays applies when no rule matches.
const DefaultLoanPeriodDays = 28

// Provider returns the maximum loan period in days for user borrowing items
// together.
type Provider interface {
	MaxLoanPeriod(ctx context.Context, user model.User, items []model.Item) (int, error)
}

type staticProvider struct {
	days int
}

func NewStaticProvider(days int) Provider {
	if days <= 0 {
		days = DefaultLoanPeriodDays
	}
	return &staticProvider{days: days}
}

func (p *staticProvider) MaxLoanPeriod(context.Context, model.User, []model.Item) (int, error) {
	return p.days, nil
}
