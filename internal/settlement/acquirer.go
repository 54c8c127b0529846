package settlement

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// Acquirer decides whether the downstream bank approves a settlement.
type Acquirer interface {
	Authorize(ctx context.Context, amount decimal.Decimal, currency string) (bool, error)
}

// SimulatedAcquirer approves a configurable fraction of settlements. It
// stands in for a real acquiring-bank integration.
type SimulatedAcquirer struct {
	approvalRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedAcquirer constructs the simulator with the given approval
// rate in [0, 1] and seed.
func NewSimulatedAcquirer(approvalRate float64, seed int64) *SimulatedAcquirer {
	return &SimulatedAcquirer{
		approvalRate: approvalRate,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Authorize draws the simulated issuer decision.
func (a *SimulatedAcquirer) Authorize(ctx context.Context, amount decimal.Decimal, currency string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < a.approvalRate, nil
}

var _ Acquirer = (*SimulatedAcquirer)(nil)

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(ctx context.Context, amount decimal.Decimal, currency string) (bool, error)

// Authorize implements Acquirer.
func (f AcquirerFunc) Authorize(ctx context.Context, amount decimal.Decimal, currency string) (bool, error) {
	return f(ctx, amount, currency)
}
