package fraud

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	velocityPrefix = "fraud:velocity:"
	velocityWindow = 60 * time.Second
)

// Block reasons reported to the caller.
const (
	ReasonIPBlacklisted       = "IP_BLACKLISTED"
	ReasonAmountLimitExceeded = "AMOUNT_LIMIT_EXCEEDED"
	ReasonUnsupportedCurrency = "UNSUPPORTED_CURRENCY"
	ReasonHighVelocity        = "HIGH_VELOCITY"
)

// Options define the screening rules.
type Options struct {
	BlacklistedIPs     []string
	HighValueThreshold float64
	AllowedCurrencies  []string
	VelocityLimit      int
}

// Request is the subset of a charge the screen inspects.
type Request struct {
	Amount   decimal.Decimal
	Currency string
}

// Verdict is the screening outcome.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Screen applies straight-line fraud heuristics: IP blacklist with CIDR
// support, a high-value cutoff, a currency allow-list, and a per-origin
// velocity counter kept in Redis.
type Screen struct {
	rdb       redis.UniversalClient
	threshold decimal.Decimal
	allowed   map[string]struct{}
	exactIPs  map[string]struct{}
	subnets   []netip.Prefix
	limit     int
	logger    zerolog.Logger
}

// NewScreen constructs a Screen. Unparseable blacklist entries are skipped
// with a warning rather than failing startup.
func NewScreen(rdb redis.UniversalClient, opts Options, logger zerolog.Logger) *Screen {
	s := &Screen{
		rdb:       rdb,
		threshold: decimal.NewFromFloat(opts.HighValueThreshold),
		allowed:   make(map[string]struct{}, len(opts.AllowedCurrencies)),
		exactIPs:  make(map[string]struct{}),
		limit:     opts.VelocityLimit,
		logger:    logger.With().Str("component", "fraud").Logger(),
	}
	if s.limit <= 0 {
		s.limit = 5
	}

	for _, ccy := range opts.AllowedCurrencies {
		s.allowed[strings.ToUpper(ccy)] = struct{}{}
	}

	for _, entry := range opts.BlacklistedIPs {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				s.logger.Warn().Str("entry", entry).Msg("skipping invalid blacklist subnet")
				continue
			}
			s.subnets = append(s.subnets, prefix)
			continue
		}
		s.exactIPs[entry] = struct{}{}
	}

	return s
}

// Check screens one request from the given origin.
func (s *Screen) Check(ctx context.Context, req Request, originIP string) (Verdict, error) {
	if s.ipBlacklisted(originIP) {
		return Verdict{Blocked: true, Reason: ReasonIPBlacklisted}, nil
	}

	if req.Amount.GreaterThan(s.threshold) {
		return Verdict{Blocked: true, Reason: ReasonAmountLimitExceeded}, nil
	}

	if _, ok := s.allowed[strings.ToUpper(req.Currency)]; !ok {
		return Verdict{Blocked: true, Reason: ReasonUnsupportedCurrency}, nil
	}

	count, err := s.recordAttempt(ctx, originIP)
	if err != nil {
		return Verdict{}, err
	}
	if count > int64(s.limit) {
		return Verdict{Blocked: true, Reason: ReasonHighVelocity}, nil
	}

	return Verdict{}, nil
}

func (s *Screen) ipBlacklisted(ip string) bool {
	if _, ok := s.exactIPs[ip]; ok {
		return true
	}
	if len(s.subnets) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range s.subnets {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// recordAttempt bumps the rolling attempt counter for an origin.
func (s *Screen) recordAttempt(ctx context.Context, ip string) (int64, error) {
	key := velocityPrefix + ip
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("fraud: record attempt: %w", err)
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, velocityWindow).Err(); err != nil {
			s.logger.Warn().Err(err).Str("ip", ip).Msg("failed to expire velocity counter")
		}
	}
	return count, nil
}
