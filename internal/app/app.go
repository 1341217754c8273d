// Package app wires the repositories and services into one graph shared by
// the CLI commands and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/wakala/hedger/internal/config"
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/ingestion"
	"github.com/wakala/hedger/internal/ledger"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/marketdata"
	"github.com/wakala/hedger/internal/orders"
	"github.com/wakala/hedger/internal/pkg/httpclient"
	"github.com/wakala/hedger/internal/policy"
	"github.com/wakala/hedger/internal/recommendation"
	"github.com/wakala/hedger/internal/reporting"
	"github.com/wakala/hedger/internal/repository"
	"github.com/wakala/hedger/internal/scheduler"
	"github.com/wakala/hedger/internal/settlement"
)

type App struct {
	DB     *sql.DB
	Config *config.Config
	Sink   events.Sink
	Market marketdata.Reader

	Ledger          *ledger.Service
	Policies        *policy.Service
	Generator       *recommendation.Generator
	Recommendations *recommendation.Service
	Orders          *orders.Manager
	Settlements     *settlement.Service
	Import          *ingestion.Service
	Reports         *reporting.Service

	Logger *slog.Logger
}

// New builds the service graph over an initialised database. Every write
// path invalidates the report cache.
func New(cfg *config.Config, db *sql.DB, sink events.Sink, market marketdata.Reader, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	txm := repository.NewTxManager(db, logger)
	exposures := repository.NewExposureRepo(db)
	counterparties := repository.NewCounterpartyRepo(db)
	policyRepo := repository.NewPolicyRepo(db)
	recRepo := repository.NewRecommendationRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	locks := lock.NewKeyed()

	a := &App{DB: db, Config: cfg, Sink: sink, Market: market, Logger: logger}
	a.Ledger = ledger.NewService(txm, exposures, counterparties, recRepo, locks, logger)
	a.Policies = policy.NewService(txm, policyRepo, counterparties, logger)
	a.Generator = recommendation.NewGenerator(txm, exposures, recRepo, a.Policies, market, sink, locks, recommendation.Config{
		FunctionalCurrency:  cfg.FunctionalCurrency,
		TTL:                 cfg.RecommendationTTL,
		Workers:             cfg.RegenerateWorkers,
		RiskReviewThreshold: cfg.RiskReviewThreshold,
	}, logger)
	a.Orders = orders.NewManager(txm, orderRepo, exposures, recRepo, policyRepo, market, sink, locks, orders.Config{
		FunctionalCurrency:       cfg.FunctionalCurrency,
		ApprovalThreshold:        cfg.ApprovalThreshold,
		AllowExecuteWithoutQuote: cfg.AllowExecuteWithoutQuote,
		QuoteTTL:                 cfg.QuoteTTL,
	}, logger)
	a.Settlements = settlement.NewService(repository.NewSettlementRepo(db), sink, locks, logger)
	a.Recommendations = recommendation.NewService(recRepo, exposures, a.Orders, logger)
	a.Import = ingestion.NewService(a.Ledger, logger)
	a.Reports = reporting.NewService(a.Ledger, a.Policies, a.Recommendations, a.Orders, cfg.ReportCacheTTL, logger)

	a.Ledger.OnWrite(a.Reports.Invalidate)
	a.Policies.OnWrite(a.Reports.Invalidate)
	a.Generator.OnWrite(a.Reports.Invalidate)
	a.Recommendations.OnWrite(a.Reports.Invalidate)
	a.Orders.OnWrite(a.Reports.Invalidate)
	a.Settlements.OnWrite(a.Reports.Invalidate)
	return a
}

// Scheduler returns the periodic regenerate and expire loops.
func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.New(a.Logger,
		scheduler.RegenerateJob(a.Generator, a.Config.RegenerateInterval),
		scheduler.ExpireJob(a.Recommendations, a.Config.ExpireInterval),
	)
}

// NewMarket picks the rate source: the HTTP feed when MARKET_DATA_URL is
// set, otherwise the static sheet. Either way reads go through the cache.
func NewMarket(cfg *config.Config, static marketdata.StaticConfig, logger *slog.Logger) marketdata.Reader {
	if logger == nil {
		logger = slog.Default()
	}
	var provider marketdata.Provider
	if cfg.MarketDataURL != "" {
		hc := httpclient.DefaultConfig()
		hc.Timeout = cfg.MarketDataTimeout
		provider = marketdata.NewHTTPProvider(httpclient.NewClient(hc, logger), cfg.MarketDataURL)
		logger.Info("market data from feed", "url", cfg.MarketDataURL)
	} else {
		provider = marketdata.NewStatic(static)
		logger.Info("market data from static rate sheet", "pairs", len(static.Spots))
	}
	return marketdata.NewCached(provider, marketdata.CacheConfig{
		Refresh: cfg.MarketDataRefresh,
		Timeout: cfg.MarketDataTimeout,
	}, logger)
}

// NewSink publishes to SNS when a topic is configured and to the log
// otherwise.
func NewSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Sink, error) {
	if cfg.SNSTopicARN == "" {
		return events.NewLogSink(logger), nil
	}
	client, err := events.NewSNSClient(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		return nil, fmt.Errorf("sns client: %w", err)
	}
	sink, err := events.NewSNSSink(client, events.SNSConfig{TopicARN: cfg.SNSTopicARN, Logger: logger})
	if err != nil {
		return nil, err
	}
	return sink, nil
}
