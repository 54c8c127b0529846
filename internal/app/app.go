package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-payment-gateway/internal/config"
	"fx-payment-gateway/internal/credentials"
	"fx-payment-gateway/internal/fraud"
	"fx-payment-gateway/internal/limiter"
	"fx-payment-gateway/internal/metrics"
	"fx-payment-gateway/internal/quote"
	"fx-payment-gateway/internal/rates"
	"fx-payment-gateway/internal/server"
	"fx-payment-gateway/internal/settlement"
	"fx-payment-gateway/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", a.Config.Redis.Addr, err)
	}
	return rdb, nil
}

func (a *App) newAdmission(rdb redis.UniversalClient) *limiter.Layered {
	buckets := limiter.New(rdb, limiter.Options{
		BurstMultiplier: a.Config.Limits.BurstMultiplier,
		BucketTTL:       a.Config.Limits.BucketTTL,
	}, a.Logger)

	return limiter.NewLayered(buckets, limiter.Policy{
		KeyRPM:      a.Config.Limits.KeyRPM,
		IPRPM:       a.Config.Limits.IPRPM,
		EndpointRPM: a.Config.Limits.EndpointRPM,
		GlobalRPM:   a.Config.Limits.GlobalRPM,
	}, a.Logger)
}

func (a *App) newResolver(rdb redis.UniversalClient) *rates.Resolver {
	provider := rates.NewProvider(rates.ProviderOptions{
		BaseURL:   a.Config.Forex.BaseURL,
		Timeout:   a.Config.Forex.RequestTimeout,
		UserAgent: a.userAgent(),
	}, a.Logger)

	return rates.NewResolver(provider, rdb, rates.ResolverOptions{
		SpreadPct: a.Config.Forex.SpreadPct,
		CacheTTL:  a.Config.Forex.CacheTTL,
	}, a.Logger)
}

func (a *App) newEngine(resolver *rates.Resolver, signer *quote.Signer) *settlement.Engine {
	acquirer := settlement.NewSimulatedAcquirer(a.Config.Settlement.ApprovalRate, time.Now().UnixNano())

	return settlement.NewEngine(resolver, signer, acquirer, settlement.Options{
		SettlementCurrency: a.Config.Settlement.Currency,
		MarkupPct:          a.Config.Settlement.MarkupPct,
		MaxSlippagePct:     a.Config.Settlement.MaxSlippagePct,
		FeePct:             a.Config.Settlement.FeePct,
		RateValidity:       a.Config.Settlement.RateValidity,
		ClockSkew:          a.Config.Settlement.ClockSkew,
		SimulatedLatency:   a.Config.Settlement.SimulatedLatency,
	}, a.Logger)
}

func (a *App) userAgent() string {
	if ua := a.Config.Forex.UserAgent; ua != "" {
		return ua
	}
	return version.UserAgent()
}

// Run starts the gateway and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	metrics.Register()

	signer := quote.NewSigner(a.Config.Quotes.SigningKey)
	resolver := a.newResolver(rdb)
	engine := a.newEngine(resolver, signer)
	keys := credentials.NewStore(rdb, a.Logger)
	screen := fraud.NewScreen(rdb, fraud.Options{
		BlacklistedIPs:     a.Config.Fraud.BlacklistedIPs,
		HighValueThreshold: a.Config.Fraud.HighValueThreshold,
		AllowedCurrencies:  a.Config.Fraud.AllowedCurrencies,
		VelocityLimit:      a.Config.Fraud.VelocityLimit,
	}, a.Logger)

	handler := server.NewHandler(
		keys,
		a.newAdmission(rdb),
		screen,
		engine,
		resolver,
		signer,
		keys,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		server.HandlerOptions{
			SettlementCurrency: a.Config.Settlement.Currency,
			QuoteTTL:           a.Config.Quotes.TTL,
			MasterKey:          a.Config.Admin.MasterKey,
		},
		a.Logger,
	)

	srv := server.New(server.Options{
		Addr:            a.Config.Server.Addr(),
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, handler, a.Logger)

	a.Logger.Info().Str("environment", a.Config.App.Environment).Msg("starting payment gateway")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("gateway terminated with error")
		return err
	}

	a.Logger.Info().Msg("gateway stopped")
	return nil
}

// IssueKey mints a merchant API key from the CLI.
func (a *App) IssueKey(ctx context.Context, owner string, ttlDays int) (string, error) {
	rdb, err := a.openRedis(ctx)
	if err != nil {
		return "", err
	}
	defer rdb.Close()

	return credentials.NewStore(rdb, a.Logger).Issue(ctx, owner, ttlDays)
}

// ResolveRate performs a one-shot customer rate lookup from the CLI.
func (a *App) ResolveRate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	rdb, err := a.openRedis(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer rdb.Close()

	return a.newResolver(rdb).Resolve(ctx, base, target)
}
