package settlement

import "github.com/shopspring/decimal"

// Status is the terminal state of a settlement attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Reason is a stable failure code returned to callers.
type Reason string

const (
	ReasonRateExpired          Reason = "fx_rate_expired"
	ReasonInvalidRateTimestamp Reason = "invalid_rate_timestamp"
	ReasonInvalidRateSignature Reason = "invalid_rate_signature"
	ReasonInvalidRateFormat    Reason = "invalid_rate_format"
	ReasonRateUnavailable      Reason = "forex_rate_unavailable"
	ReasonInvalidRate          Reason = "invalid_forex_rate"
	ReasonSlippageExceeded     Reason = "slippage_exceeded"
	ReasonIssuerDeclined       Reason = "issuer_declined"
)

// PaymentRequest is a single cross-currency charge to settle. The quote
// fields are raw client-supplied strings; the pipeline treats malformed
// values as rejections, never faults.
type PaymentRequest struct {
	Amount   decimal.Decimal
	Currency string

	// Optional signed quote.
	ClientRate    string
	RateExpiresAt string
	RateSignature string

	// Optional replay-protection timestamp (epoch seconds).
	RateTimestamp string
}

// HasClientQuote reports whether all quote fields were supplied.
func (r PaymentRequest) HasClientQuote() bool {
	return r.ClientRate != "" && r.RateExpiresAt != "" && r.RateSignature != ""
}

// Transaction is the immutable outcome of one settlement attempt.
type Transaction struct {
	ID                 string
	OriginalAmount     decimal.Decimal
	OriginalCurrency   string
	SettlementAmount   decimal.Decimal
	SettlementCurrency string
	AppliedRate        decimal.Decimal
	MarkupPct          decimal.Decimal
	Fee                decimal.Decimal
	Status             Status
	Reason             Reason
	Message            string
}

// Failed reports whether the transaction ended in a failure state.
func (t Transaction) Failed() bool {
	return t.Status == StatusFailed
}
