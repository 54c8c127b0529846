package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrRateUnavailable reports that no rate could be obtained for the pair.
// Retrying is the caller's decision.
var ErrRateUnavailable = errors.New("rates: rate unavailable")

var decHundred = decimal.NewFromInt(100)

// ResolverOptions tune spread and cache behaviour.
type ResolverOptions struct {
	SpreadPct float64
	CacheTTL  time.Duration
}

// Resolver returns spread-adjusted customer rates, caching them briefly so
// bursts of requests against the same pair hit the provider once. The
// provider's raw mid rate never leaves this package.
type Resolver struct {
	provider MidRateProvider
	rdb      redis.UniversalClient
	spread   decimal.Decimal
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(provider MidRateProvider, rdb redis.UniversalClient, opts ResolverOptions, logger zerolog.Logger) *Resolver {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	return &Resolver{
		provider: provider,
		rdb:      rdb,
		spread:   decimal.NewFromFloat(opts.SpreadPct),
		ttl:      ttl,
		logger:   logger.With().Str("component", "rate_resolver").Logger(),
	}
}

// Resolve returns the customer rate from base into target.
func (r *Resolver) Resolve(ctx context.Context, base, target string) (decimal.Decimal, error) {
	key := cacheKey(base, target)

	cached, err := r.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		rate, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return rate, nil
		}
		r.logger.Warn().Str("key", key).Msg("discarding unparseable cached rate")
	case !errors.Is(err, redis.Nil):
		return decimal.Decimal{}, fmt.Errorf("rates: read cache: %w", err)
	}

	mid, err := r.provider.FetchMidRate(ctx, base, target)
	if err != nil {
		r.logger.Warn().Err(err).Str("base", base).Str("target", target).Msg("provider fetch failed")
		return decimal.Decimal{}, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, base, target)
	}

	// The customer always gets a slightly worse rate than market.
	customer := mid.Mul(decimal.NewFromInt(1).Add(r.spread.Div(decHundred)))

	if err := r.rdb.Set(ctx, key, customer.String(), r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to cache rate")
	}

	return customer, nil
}

func cacheKey(base, target string) string {
	return fmt.Sprintf("fx_rate:%s:%s", strings.ToUpper(base), strings.ToUpper(target))
}
