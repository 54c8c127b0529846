package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-payment-gateway/internal/rates"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// RateResolver returns the authoritative server-side customer rate.
type RateResolver interface {
	Resolve(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// QuoteVerifier validates a client-supplied signed quote.
type QuoteVerifier interface {
	Verify(rate, expiresAt, signature string) bool
}

// Options hold the pricing and replay parameters of the pipeline.
type Options struct {
	SettlementCurrency string
	MarkupPct          float64
	MaxSlippagePct     float64
	FeePct             float64
	RateValidity       time.Duration
	ClockSkew          time.Duration
	SimulatedLatency   time.Duration
}

// Engine runs the sequential settlement pipeline for one request at a
// time: replay check, rate resolution, markup and slippage validation,
// exact decimal conversion, fees, then the acquirer decision.
type Engine struct {
	resolver RateResolver
	verifier QuoteVerifier
	acquirer Acquirer
	opts     Options
	logger   zerolog.Logger

	markup   decimal.Decimal
	slippage decimal.Decimal
	fee      decimal.Decimal

	now   func() time.Time
	newID func() string
}

// NewEngine constructs an Engine.
func NewEngine(resolver RateResolver, verifier QuoteVerifier, acquirer Acquirer, opts Options, logger zerolog.Logger) *Engine {
	if opts.SettlementCurrency == "" {
		opts.SettlementCurrency = "MYR"
	}

	return &Engine{
		resolver: resolver,
		verifier: verifier,
		acquirer: acquirer,
		opts:     opts,
		logger:   logger.With().Str("component", "settlement").Logger(),
		markup:   decimal.NewFromFloat(opts.MarkupPct),
		slippage: decimal.NewFromFloat(opts.MaxSlippagePct),
		fee:      decimal.NewFromFloat(opts.FeePct),
		now:      time.Now,
		newID:    newTransactionID,
	}
}

// Process settles one payment request. Expected validation failures come
// back as a failed Transaction with a stable reason code; the error return
// is reserved for faults such as the acquirer collaborator breaking.
func (e *Engine) Process(ctx context.Context, req PaymentRequest) (Transaction, error) {
	// Replay protection on the optional client timestamp.
	if req.RateTimestamp != "" {
		ts, err := strconv.ParseFloat(req.RateTimestamp, 64)
		if err != nil {
			return e.fail(req, ReasonInvalidRateTimestamp, "rate_timestamp must be a numeric epoch timestamp."), nil
		}
		now := float64(e.now().UnixNano()) / float64(time.Second)
		age := now - ts
		if age > e.opts.RateValidity.Seconds() || ts > now+e.opts.ClockSkew.Seconds() {
			return e.fail(req, ReasonRateExpired, "FX rate expired or invalid timestamp."), nil
		}
	}

	// Same-currency requests skip conversion entirely.
	if req.Currency == e.opts.SettlementCurrency {
		return e.finalize(req, req.Amount.Round(2), decOne, decimal.Zero, decimal.Zero), nil
	}

	baseRate, failed := e.resolveBaseRate(ctx, req)
	if failed != nil {
		return *failed, nil
	}

	if baseRate.Sign() <= 0 {
		return e.fail(req, ReasonInvalidRate, "Exchange rate invalid."), nil
	}

	appliedRate := baseRate.Mul(decOne.Add(e.markup.Div(decHundred)))

	slippageLimit := baseRate.Mul(decOne.Add(e.slippage.Div(decHundred)))
	if appliedRate.GreaterThan(slippageLimit) {
		return e.fail(req, ReasonSlippageExceeded, "Exchange rate changed too much. Please retry."), nil
	}

	converted := req.Amount.Mul(appliedRate).Round(2)
	systemFee := converted.Mul(e.fee.Div(decHundred)).Round(2)
	finalSettlement := converted.Sub(systemFee)

	if err := e.simulateLatency(ctx); err != nil {
		return Transaction{}, err
	}

	approved, err := e.acquirer.Authorize(ctx, finalSettlement, e.opts.SettlementCurrency)
	if err != nil {
		return Transaction{}, fmt.Errorf("settlement: acquirer authorize: %w", err)
	}
	if !approved {
		return e.fail(req, ReasonIssuerDeclined, "Issuer declined the transaction."), nil
	}

	return e.finalize(req, finalSettlement, appliedRate, systemFee, e.markup), nil
}

func (e *Engine) resolveBaseRate(ctx context.Context, req PaymentRequest) (decimal.Decimal, *Transaction) {
	if req.HasClientQuote() {
		if !e.verifier.Verify(req.ClientRate, req.RateExpiresAt, req.RateSignature) {
			tx := e.fail(req, ReasonInvalidRateSignature, "Supplied FX quote signature is invalid or expired.")
			return decimal.Decimal{}, &tx
		}
		rate, err := decimal.NewFromString(req.ClientRate)
		if err != nil {
			tx := e.fail(req, ReasonInvalidRateFormat, "client_rate or rate_expires_at malformed.")
			return decimal.Decimal{}, &tx
		}
		return rate, nil
	}

	rate, err := e.resolver.Resolve(ctx, req.Currency, e.opts.SettlementCurrency)
	if err != nil {
		if !errors.Is(err, rates.ErrRateUnavailable) {
			e.logger.Warn().Err(err).Str("currency", req.Currency).Msg("rate resolution failed")
		}
		tx := e.fail(req, ReasonRateUnavailable, "Exchange rate is currently unavailable.")
		return decimal.Decimal{}, &tx
	}
	return rate, nil
}

// simulateLatency stands in for the network round trip to the acquirer.
// No limiter or cache lock is held while waiting.
func (e *Engine) simulateLatency(ctx context.Context) error {
	if e.opts.SimulatedLatency <= 0 {
		return nil
	}
	timer := time.NewTimer(e.opts.SimulatedLatency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) finalize(req PaymentRequest, settled, rate, fee, markupPct decimal.Decimal) Transaction {
	tx := Transaction{
		ID:                 e.newID(),
		OriginalAmount:     req.Amount,
		OriginalCurrency:   req.Currency,
		SettlementAmount:   settled,
		SettlementCurrency: e.opts.SettlementCurrency,
		AppliedRate:        rate,
		MarkupPct:          markupPct,
		Fee:                fee,
		Status:             StatusSuccess,
		Message:            "Approved",
	}

	e.logger.Info().
		Str("transaction_id", tx.ID).
		Str("currency", tx.OriginalCurrency).
		Str("settlement_amount", tx.SettlementAmount.String()).
		Str("applied_rate", tx.AppliedRate.String()).
		Msg("settlement approved")

	return tx
}

func (e *Engine) fail(req PaymentRequest, reason Reason, message string) Transaction {
	e.logger.Info().
		Str("currency", req.Currency).
		Str("reason", string(reason)).
		Msg("settlement failed")

	return Transaction{
		OriginalAmount:     req.Amount,
		OriginalCurrency:   req.Currency,
		SettlementCurrency: e.opts.SettlementCurrency,
		Status:             StatusFailed,
		Reason:             reason,
		Message:            message,
	}
}

func newTransactionID() string {
	id := uuid.New()
	return fmt.Sprintf("txn_%x", id[:6])
}
