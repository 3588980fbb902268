package policy

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// Cache is the subset of the Redis client the cached provider needs.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type CacheConfig struct {
	TTL    time.Duration
	Prefix string
	// FailureThreshold consecutive cache errors open the breaker for
	// OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// CachedProvider memoises another provider in Redis. Cache failures never
// fail a loan: the breaker skips Redis while it is unhealthy and the wrapped
// provider answers directly.
type CachedProvider struct {
	next    Provider
	cache   Cache
	cfg     CacheConfig
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

func NewCachedProvider(next Provider, cache Cache, cfg CacheConfig, logger *slog.Logger) *CachedProvider {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "loanperiod"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "loan-rule-cache",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &CachedProvider{next: next, cache: cache, cfg: cfg, breaker: breaker, logger: logger}
}

func (p *CachedProvider) MaxLoanPeriod(ctx context.Context, user model.User, items []model.Item) (int, error) {
	key := p.key(user, items)

	cached, err := p.breaker.Execute(func() (string, error) {
		v, err := p.cache.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return v, err
	})
	if err == nil && cached != "" {
		if days, convErr := strconv.Atoi(cached); convErr == nil && days > 0 {
			return days, nil
		}
	}
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.logger.Warn("loan rule cache read failed", "err", err)
	}

	days, err := p.next.MaxLoanPeriod(ctx, user, items)
	if err != nil {
		return 0, err
	}

	_, _ = p.breaker.Execute(func() (string, error) {
		return "", p.cache.Set(ctx, key, strconv.Itoa(days), p.cfg.TTL).Err()
	})
	return days, nil
}

// State exposes the breaker state for readiness reporting.
func (p *CachedProvider) State() gobreaker.State {
	return p.breaker.State()
}

// key depends only on the fields rules match on, so users and items sharing
// them share an entry.
func (p *CachedProvider) key(user model.User, items []model.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.ItemType+"|"+it.LocationCode)
	}
	sort.Strings(parts)
	return p.cfg.Prefix + ":" + user.PatronType + ":" + strings.Join(parts, ",")
}
