package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MidRateProvider fetches the raw market mid rate for a currency pair.
type MidRateProvider interface {
	FetchMidRate(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// ProviderOptions parameterise the external FX API client.
type ProviderOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Provider queries an exchangerate-api style HTTP endpoint.
type Provider struct {
	opts    ProviderOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewProvider constructs a Provider.
func NewProvider(opts ProviderOptions, logger zerolog.Logger) *Provider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.exchangerate-api.com/v4"
	}

	return &Provider{
		opts:    opts,
		logger:  logger.With().Str("component", "fx_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type latestResponse struct {
	Base  string                 `json:"base"`
	Rates map[string]json.Number `json:"rates"`
}

// FetchMidRate retrieves the mid rate quoted from base into target.
func (p *Provider) FetchMidRate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/latest/%s", p.baseURL, strings.ToUpper(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var parsed latestResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rates payload: %w", err)
	}

	raw, ok := parsed.Rates[strings.ToUpper(target)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("provider quoted no rate for %s", target)
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse rate for %s: %w", target, err)
	}

	return rate, nil
}

type errorResponse struct {
	Result    string `json:"result"`
	ErrorType string `json:"error-type"`
	Message   string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.ErrorType != "" {
			return fmt.Errorf("fx api error (%d): %s", status, apiErr.ErrorType)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("fx api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("fx api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("fx api error (%d)", status)
}

var _ MidRateProvider = (*Provider)(nil)
