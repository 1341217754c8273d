// Package config loads runtime settings from the environment (optionally
// primed from a .env file) and seed data from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port     string
	DBPath   string
	LogLevel string

	// FunctionalCurrency is the accounting currency exposures are hedged into.
	FunctionalCurrency string

	RecommendationTTL  time.Duration
	RegenerateInterval time.Duration
	ExpireInterval     time.Duration
	RegenerateWorkers  int

	MarketDataURL     string
	MarketDataFile    string
	MarketDataTimeout time.Duration
	MarketDataRefresh time.Duration

	RiskReviewThreshold      float64
	ApprovalThreshold        decimal.Decimal
	AllowExecuteWithoutQuote bool
	QuoteTTL                 time.Duration

	ReportCacheTTL time.Duration

	SeedFile string

	SNSTopicARN    string
	AWSRegion      string
	AWSEndpointURL string
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (*Config, error) {
	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		d, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Port:                     Get("PORT", "8080"),
		DBPath:                   Get("DB_PATH", "hedger.db"),
		LogLevel:                 Get("LOG_LEVEL", "info"),
		FunctionalCurrency:       strings.ToUpper(Get("FUNCTIONAL_CURRENCY", "COP")),
		RecommendationTTL:        dur("RECOMMENDATION_TTL", 48*time.Hour),
		RegenerateInterval:       dur("REGENERATE_INTERVAL", 24*time.Hour),
		ExpireInterval:           dur("EXPIRE_INTERVAL", time.Hour),
		MarketDataURL:            Get("MARKET_DATA_URL", ""),
		MarketDataFile:           Get("MARKET_DATA_FILE", ""),
		MarketDataTimeout:        dur("MARKET_DATA_TIMEOUT", 3*time.Second),
		MarketDataRefresh:        dur("MARKET_DATA_REFRESH", 5*time.Minute),
		QuoteTTL:                 dur("QUOTE_TTL", 15*time.Minute),
		ReportCacheTTL:           dur("REPORT_CACHE_TTL", time.Minute),
		SeedFile:                 Get("SEED_FILE", ""),
		SNSTopicARN:              Get("SNS_TOPIC_ARN", ""),
		AWSRegion:                Get("AWS_REGION", "us-east-1"),
		AWSEndpointURL:           Get("AWS_ENDPOINT_URL", ""),
		AllowExecuteWithoutQuote: Get("ALLOW_EXECUTE_WITHOUT_QUOTE", "false") == "true",
	}

	workers, err := strconv.Atoi(Get("REGENERATE_WORKERS", "4"))
	if err != nil {
		errs = append(errs, fmt.Errorf("REGENERATE_WORKERS: %w", err))
	}
	cfg.RegenerateWorkers = workers

	risk, err := strconv.ParseFloat(Get("RISK_REVIEW_THRESHOLD", "70"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("RISK_REVIEW_THRESHOLD: %w", err))
	}
	cfg.RiskReviewThreshold = risk

	threshold, err := decimal.NewFromString(Get("APPROVAL_THRESHOLD", "100000"))
	if err != nil {
		errs = append(errs, fmt.Errorf("APPROVAL_THRESHOLD: %w", err))
	}
	cfg.ApprovalThreshold = threshold

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.FunctionalCurrency) != 3 {
		return fmt.Errorf("FUNCTIONAL_CURRENCY must be a 3-letter code, got %q", c.FunctionalCurrency)
	}
	if c.RegenerateWorkers < 1 {
		return fmt.Errorf("REGENERATE_WORKERS must be >= 1")
	}
	if c.RecommendationTTL <= 0 {
		return fmt.Errorf("RECOMMENDATION_TTL must be positive")
	}
	if c.MarketDataTimeout <= 0 {
		return fmt.Errorf("MARKET_DATA_TIMEOUT must be positive")
	}
	if c.RiskReviewThreshold < 0 || c.RiskReviewThreshold > 100 {
		return fmt.Errorf("RISK_REVIEW_THRESHOLD must be within [0,100]")
	}
	if c.ApprovalThreshold.IsNegative() {
		return fmt.Errorf("APPROVAL_THRESHOLD must be >= 0")
	}
	return nil
}

// Get returns the environment value for key or def when unset.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
