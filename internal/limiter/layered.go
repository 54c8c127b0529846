package limiter

import (
	"context"

	"github.com/rs/zerolog"
)

// Layer identifies which bucket blocked a request.
type Layer string

const (
	LayerKey      Layer = "api_key"
	LayerIP       Layer = "ip"
	LayerEndpoint Layer = "endpoint"
	LayerGlobal   Layer = "global"
)

const globalScope = "GLOBAL"

// Policy holds the per-layer refill rates in requests per minute.
type Policy struct {
	KeyRPM      int
	IPRPM       int
	EndpointRPM int
	GlobalRPM   int
}

// Request carries the scopes a single call is throttled under.
type Request struct {
	APIKey   string
	OriginIP string
	Endpoint string
	// KeyRPM overrides the policy's per-credential rate when positive.
	KeyRPM int
}

// Result reports the layered admit-or-deny outcome.
type Result struct {
	Allowed bool
	// BlockedBy names the first denying layer; empty when allowed.
	BlockedBy Layer
}

// Layered evaluates the fixed credential, origin, endpoint, global bucket
// precedence. Evaluation short-circuits on the first denial, so the
// reported layer is deterministic; every bucket checked up to that point
// has already recorded its attempt.
type Layered struct {
	buckets *Limiter
	policy  Policy
	logger  zerolog.Logger
}

// NewLayered constructs the multi-layer limiter.
func NewLayered(buckets *Limiter, policy Policy, logger zerolog.Logger) *Layered {
	return &Layered{
		buckets: buckets,
		policy:  policy,
		logger:  logger.With().Str("component", "limiter_layers").Logger(),
	}
}

// Allow runs all four layers in order.
func (l *Layered) Allow(ctx context.Context, req Request) (Result, error) {
	keyRPM := l.policy.KeyRPM
	if req.KeyRPM > 0 {
		keyRPM = req.KeyRPM
	}

	layers := []struct {
		layer Layer
		scope string
		rpm   int
	}{
		{LayerKey, "key:" + req.APIKey, keyRPM},
		{LayerIP, "ip:" + req.OriginIP, l.policy.IPRPM},
		{LayerEndpoint, "endpoint:" + req.Endpoint, l.policy.EndpointRPM},
		{LayerGlobal, globalScope, l.policy.GlobalRPM},
	}

	for _, b := range layers {
		decision, err := l.buckets.Allow(ctx, b.scope, b.rpm)
		if err != nil {
			return Result{}, err
		}
		if !decision.Allowed {
			l.logDenial(b.layer, b.scope)
			return Result{Allowed: false, BlockedBy: b.layer}, nil
		}
	}

	return Result{Allowed: true}, nil
}

func (l *Layered) logDenial(layer Layer, scope string) {
	event := l.logger.Warn()
	if layer == LayerGlobal {
		// Global exhaustion means the whole system is saturated.
		event = l.logger.Error()
	}
	event.Str("layer", string(layer)).Str("scope", scope).Msg("rate limit exceeded")
}
