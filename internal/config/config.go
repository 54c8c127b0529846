package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fx-payment-gateway/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Forex      ForexConfig      `mapstructure:"forex"`
	Quotes     QuotesConfig     `mapstructure:"quotes"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Fraud      FraudConfig      `mapstructure:"fraud"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig covers the shared counter/cache store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LimitsConfig tunes the multi-layer token buckets (requests per minute).
type LimitsConfig struct {
	KeyRPM          int           `mapstructure:"key_rpm"`
	IPRPM           int           `mapstructure:"ip_rpm"`
	EndpointRPM     int           `mapstructure:"endpoint_rpm"`
	GlobalRPM       int           `mapstructure:"global_rpm"`
	BurstMultiplier float64       `mapstructure:"burst_multiplier"`
	BucketTTL       time.Duration `mapstructure:"bucket_ttl"`
}

// ForexConfig captures external FX provider connectivity and pricing.
type ForexConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SpreadPct      float64       `mapstructure:"spread_pct"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// QuotesConfig governs signed quote issuance.
type QuotesConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// SettlementConfig holds the pricing and replay parameters of the pipeline.
type SettlementConfig struct {
	Currency         string        `mapstructure:"currency"`
	MarkupPct        float64       `mapstructure:"markup_pct"`
	MaxSlippagePct   float64       `mapstructure:"max_slippage_pct"`
	FeePct           float64       `mapstructure:"fee_pct"`
	RateValidity     time.Duration `mapstructure:"rate_validity"`
	ClockSkew        time.Duration `mapstructure:"clock_skew"`
	SimulatedLatency time.Duration `mapstructure:"simulated_latency"`
	ApprovalRate     float64       `mapstructure:"approval_rate"`
}

// FraudConfig defines screening rules.
type FraudConfig struct {
	BlacklistedIPs     []string `mapstructure:"blacklisted_ips"`
	HighValueThreshold float64  `mapstructure:"high_value_threshold"`
	AllowedCurrencies  []string `mapstructure:"allowed_currencies"`
	VelocityLimit      int      `mapstructure:"velocity_limit"`
}

// AdminConfig protects operator-only endpoints.
type AdminConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fx-gateway")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("limits.key_rpm", 60)
	v.SetDefault("limits.ip_rpm", 30)
	v.SetDefault("limits.endpoint_rpm", 40)
	v.SetDefault("limits.global_rpm", 5000)
	v.SetDefault("limits.burst_multiplier", 2.0)
	v.SetDefault("limits.bucket_ttl", "1h")

	v.SetDefault("forex.base_url", "https://api.exchangerate-api.com/v4")
	v.SetDefault("forex.spread_pct", 2.0)
	v.SetDefault("forex.cache_ttl", "60s")
	v.SetDefault("forex.request_timeout", "10s")

	v.SetDefault("quotes.signing_key", "default-secret-key")
	v.SetDefault("quotes.ttl", "60s")

	v.SetDefault("settlement.currency", "MYR")
	v.SetDefault("settlement.markup_pct", 0.35)
	v.SetDefault("settlement.max_slippage_pct", 0.50)
	v.SetDefault("settlement.fee_pct", 0.20)
	v.SetDefault("settlement.rate_validity", "60s")
	v.SetDefault("settlement.clock_skew", "5s")
	v.SetDefault("settlement.simulated_latency", "800ms")
	v.SetDefault("settlement.approval_rate", 0.9)

	v.SetDefault("fraud.high_value_threshold", 10000.0)
	v.SetDefault("fraud.allowed_currencies", []string{
		"USD", "EUR", "GBP", "INR", "MYR", "KRW", "JPY", "AUD", "CAD", "AED",
	})
	v.SetDefault("fraud.velocity_limit", 5)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Limits.BurstMultiplier < 1 {
		return fmt.Errorf("limits.burst_multiplier must be at least 1")
	}
	if c.Limits.KeyRPM <= 0 || c.Limits.IPRPM <= 0 || c.Limits.EndpointRPM <= 0 || c.Limits.GlobalRPM <= 0 {
		return fmt.Errorf("limits: all per-layer rates must be greater than zero")
	}
	if c.Forex.SpreadPct < 0 {
		return fmt.Errorf("forex.spread_pct cannot be negative")
	}
	if c.Forex.CacheTTL <= 0 {
		return fmt.Errorf("forex.cache_ttl must be greater than zero")
	}
	if c.Quotes.SigningKey == "" {
		return fmt.Errorf("quotes.signing_key is required")
	}
	if c.Quotes.TTL <= 0 {
		return fmt.Errorf("quotes.ttl must be greater than zero")
	}
	if c.Settlement.Currency == "" {
		return fmt.Errorf("settlement.currency is required")
	}
	if c.Settlement.MarkupPct < 0 || c.Settlement.FeePct < 0 {
		return fmt.Errorf("settlement: markup_pct and fee_pct cannot be negative")
	}
	if c.Settlement.MaxSlippagePct < 0 {
		return fmt.Errorf("settlement.max_slippage_pct cannot be negative")
	}
	if c.Settlement.RateValidity <= 0 {
		return fmt.Errorf("settlement.rate_validity must be greater than zero")
	}
	if c.Settlement.ApprovalRate < 0 || c.Settlement.ApprovalRate > 1 {
		return fmt.Errorf("settlement.approval_rate must be within [0, 1]")
	}
	if c.Fraud.VelocityLimit <= 0 {
		return fmt.Errorf("fraud.velocity_limit must be greater than zero")
	}
	return nil
}
