package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-payment-gateway/internal/credentials"
	"fx-payment-gateway/internal/fraud"
	"fx-payment-gateway/internal/limiter"
	"fx-payment-gateway/internal/metrics"
	"fx-payment-gateway/internal/quote"
	"fx-payment-gateway/internal/settlement"
)

const chargesEndpoint = "/v1/charges"

func init() {
	// Money fields serialise as exact JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Admission is the layered rate-limit check guarding the charge route.
type Admission interface {
	Allow(ctx context.Context, req limiter.Request) (limiter.Result, error)
}

// Screener is the fraud collaborator boundary.
type Screener interface {
	Check(ctx context.Context, req fraud.Request, originIP string) (fraud.Verdict, error)
}

// Processor runs the settlement pipeline.
type Processor interface {
	Process(ctx context.Context, req settlement.PaymentRequest) (settlement.Transaction, error)
}

// RateResolver supplies the customer rate for the quote endpoint.
type RateResolver interface {
	Resolve(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// KeyIssuer mints merchant API keys.
type KeyIssuer interface {
	Issue(ctx context.Context, owner string, ttlDays int) (string, error)
}

// HandlerOptions carry the request-independent settings.
type HandlerOptions struct {
	SettlementCurrency string
	QuoteTTL           time.Duration
	MasterKey          string
}

// Handler exposes the gateway's HTTP surface.
type Handler struct {
	validator credentials.Validator
	admission Admission
	screen    Screener
	engine    Processor
	resolver  RateResolver
	signer    *quote.Signer
	issuer    KeyIssuer
	ping      func(context.Context) error
	opts      HandlerOptions
	logger    zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(
	validator credentials.Validator,
	admission Admission,
	screen Screener,
	engine Processor,
	resolver RateResolver,
	signer *quote.Signer,
	issuer KeyIssuer,
	ping func(context.Context) error,
	opts HandlerOptions,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		validator: validator,
		admission: admission,
		screen:    screen,
		engine:    engine,
		resolver:  resolver,
		signer:    signer,
		issuer:    issuer,
		ping:      ping,
		opts:      opts,
		logger:    logger.With().Str("component", "handlers").Logger(),
	}
}

// Health reports liveness plus store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type quoteResponse struct {
	Rate            decimal.Decimal `json:"rate"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	ExpiresAt       int64           `json:"expires_at"`
	Signature       string          `json:"signature"`
	TargetCurrency  string          `json:"target_currency"`
}

// Quote returns a signed FX quote for the requested pair and amount.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("from")
	if base == "" {
		base = "USD"
	}
	target := r.URL.Query().Get("to")
	if target == "" {
		target = h.opts.SettlementCurrency
	}

	amount := decimal.Zero
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be numeric"})
			return
		}
		amount = parsed
	}

	rate, err := h.resolver.Resolve(r.Context(), base, target)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Could not fetch rate"})
		return
	}

	signed := h.signer.Issue(rate, h.opts.QuoteTTL)

	writeJSON(w, http.StatusOK, quoteResponse{
		Rate:            rate,
		ConvertedAmount: amount.Mul(rate).Round(2),
		ExpiresAt:       signed.ExpiresAt,
		Signature:       signed.Signature,
		TargetCurrency:  target,
	})
}

type chargeRequest struct {
	Amount     json.Number `json:"amount"`
	Currency   string      `json:"currency"`
	CardNumber string      `json:"card_number"`
	ExpMonth   json.Number `json:"exp_month"`
	ExpYear    json.Number `json:"exp_year"`
	CVC        string      `json:"cvc"`

	ClientRate    interface{} `json:"client_rate"`
	RateExpiresAt interface{} `json:"rate_expires_at"`
	RateSignature string      `json:"rate_signature"`
	RateTimestamp interface{} `json:"rate_timestamp"`
}

type chargeSuccess struct {
	Status             settlement.Status `json:"status"`
	TransactionID      string            `json:"transaction_id"`
	OriginalAmount     decimal.Decimal   `json:"original_amount"`
	OriginalCurrency   string            `json:"original_currency"`
	SettlementCurrency string            `json:"settlement_currency"`
	SettlementAmount   decimal.Decimal   `json:"settlement_amount"`
	AppliedRate        decimal.Decimal   `json:"applied_rate"`
	MarkupPct          decimal.Decimal   `json:"fx_markup_percent"`
	SystemFee          decimal.Decimal   `json:"system_fee"`
	Message            string            `json:"message"`
}

type chargeFailure struct {
	Status  settlement.Status `json:"status"`
	Error   settlement.Reason `json:"error"`
	Message string            `json:"message,omitempty"`
}

// CreateCharge admits, screens, and settles one payment. The guard order
// is fixed: credential, rate limits, body validation, fraud, settlement.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey := r.Header.Get("X-API-Key")
	valid, err := h.validator.Validate(ctx, apiKey)
	if err != nil {
		h.internalError(w, err, "credential check failed")
		return
	}
	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid Merchant Key"})
		return
	}

	originIP := clientIP(r)

	admitted, err := h.admission.Allow(ctx, limiter.Request{
		APIKey:   apiKey,
		OriginIP: originIP,
		Endpoint: chargesEndpoint,
	})
	if err != nil {
		h.internalError(w, err, "rate limiter unavailable")
		return
	}
	if !admitted.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(string(admitted.BlockedBy)).Inc()
		w.Header().Set("X-RateLimit-Blocked-By", string(admitted.BlockedBy))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
		return
	}

	var body chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing payment details"})
		return
	}
	if body.Amount == "" || body.Currency == "" || body.CardNumber == "" ||
		body.ExpMonth == "" || body.ExpYear == "" || body.CVC == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing payment details"})
		return
	}

	amount, err := decimal.NewFromString(body.Amount.String())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be numeric"})
		return
	}

	if !fraud.ValidCardNumber(body.CardNumber) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid card number format"})
		return
	}

	verdict, err := h.screen.Check(ctx, fraud.Request{Amount: amount, Currency: body.Currency}, originIP)
	if err != nil {
		h.internalError(w, err, "fraud screen failed")
		return
	}
	if verdict.Blocked {
		metrics.FraudBlockedTotal.WithLabelValues(verdict.Reason).Inc()
		h.logger.Warn().
			Str("reason", verdict.Reason).
			Str("ip", originIP).
			Str("card", fraud.MaskCard(body.CardNumber)).
			Msg("charge blocked by fraud filters")
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "Transaction declined by fraud filters",
			"code":  "fraud_detect",
		})
		return
	}

	h.logger.Info().
		Str("event", "charge_attempt").
		Str("merchant", truncateKey(apiKey)).
		Str("amount", amount.String()).
		Str("currency", body.Currency).
		Msg("processing charge")

	start := time.Now()
	tx, err := h.engine.Process(ctx, settlement.PaymentRequest{
		Amount:        amount,
		Currency:      body.Currency,
		ClientRate:    asString(body.ClientRate),
		RateExpiresAt: asString(body.RateExpiresAt),
		RateSignature: body.RateSignature,
		RateTimestamp: asString(body.RateTimestamp),
	})
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues(string(settlement.StatusFailed), "internal_error").Inc()
		h.internalError(w, err, "settlement pipeline fault")
		return
	}

	metrics.SettlementsTotal.WithLabelValues(string(tx.Status), string(tx.Reason)).Inc()

	if tx.Failed() {
		writeJSON(w, http.StatusPaymentRequired, chargeFailure{
			Status:  tx.Status,
			Error:   tx.Reason,
			Message: tx.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, chargeSuccess{
		Status:             tx.Status,
		TransactionID:      tx.ID,
		OriginalAmount:     tx.OriginalAmount,
		OriginalCurrency:   tx.OriginalCurrency,
		SettlementCurrency: tx.SettlementCurrency,
		SettlementAmount:   tx.SettlementAmount,
		AppliedRate:        tx.AppliedRate,
		MarkupPct:          tx.MarkupPct,
		SystemFee:          tx.Fee,
		Message:            tx.Message,
	})
}

// MintKey issues a merchant API key; operator-only.
func (h *Handler) MintKey(w http.ResponseWriter, r *http.Request) {
	if h.opts.MasterKey == "" || r.URL.Query().Get("master_key") != h.opts.MasterKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin key invalid"})
		return
	}

	merchant := r.URL.Query().Get("merchant_name")
	if merchant == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "merchant_name required"})
		return
	}

	key, err := h.issuer.Issue(r.Context(), merchant, 0)
	if err != nil {
		h.internalError(w, err, "key issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	h.logger.Error().Err(err).Msg(msg)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Payment processor error"})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// truncateKey keeps logs free of credential material.
func truncateKey(key string) string {
	if len(key) <= 6 {
		return "..."
	}
	return key[:6] + "..."
}

// asString coerces the loosely typed quote fields, which clients send as
// either JSON numbers or strings.
func asString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return decimal.NewFromFloat(value).String()
	default:
		return ""
	}
}
