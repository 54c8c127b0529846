package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type stubProvider struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubProvider) FetchMidRate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.rate, nil
}

func newTestResolver(t *testing.T, provider MidRateProvider, opts ResolverOptions) (*Resolver, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewResolver(provider, rdb, opts, noopLogger()), mr
}

func TestResolveAppliesSpread(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("100")}
	r, _ := newTestResolver(t, provider, ResolverOptions{SpreadPct: 2.0, CacheTTL: time.Minute})

	rate, err := r.Resolve(context.Background(), "USD", "MYR")
	if err != nil {
		t.Fatal(err)
	}
	if rate.String() != "102" {
		t.Fatalf("expected spread-adjusted rate 102, got %s", rate.String())
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("4.70")}
	r, _ := newTestResolver(t, provider, ResolverOptions{SpreadPct: 2.0, CacheTTL: time.Minute})

	ctx := context.Background()

	first, err := r.Resolve(ctx, "USD", "MYR")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(ctx, "USD", "MYR")
	if err != nil {
		t.Fatal(err)
	}

	if !first.Equal(second) {
		t.Fatalf("cached rate %s differs from first %s", second, first)
	}
	if provider.calls != 1 {
		t.Fatalf("expected a single provider fetch, got %d", provider.calls)
	}
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("4.70")}
	r, mr := newTestResolver(t, provider, ResolverOptions{SpreadPct: 2.0, CacheTTL: time.Minute})

	ctx := context.Background()

	if _, err := r.Resolve(ctx, "USD", "MYR"); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := r.Resolve(ctx, "USD", "MYR"); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected refetch after TTL, got %d calls", provider.calls)
	}
}

func TestResolvePairsCachedIndependently(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("4.70")}
	r, _ := newTestResolver(t, provider, ResolverOptions{SpreadPct: 0, CacheTTL: time.Minute})

	ctx := context.Background()

	if _, err := r.Resolve(ctx, "USD", "MYR"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, "EUR", "MYR"); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Fatalf("distinct pairs must fetch separately, got %d calls", provider.calls)
	}
}

func TestResolveProviderFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	r, _ := newTestResolver(t, provider, ResolverOptions{SpreadPct: 2.0, CacheTTL: time.Minute})

	_, err := r.Resolve(context.Background(), "USD", "MYR")
	if !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}
