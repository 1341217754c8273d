// Package marketdata supplies spot rates, interest rates and a risk score
// per currency pair. Lookups are bounded by a timeout and fall back to the
// last good snapshot, flagged as degraded, when the feed is unavailable.
package marketdata

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("market data unavailable")

// Snapshot quotes Spot as Quote units per Base unit. BaseRate and QuoteRate
// are annual money-market rates as fractions.
type Snapshot struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Spot      decimal.Decimal `json:"spot"`
	BaseRate  decimal.Decimal `json:"base_rate"`
	QuoteRate decimal.Decimal `json:"quote_rate"`
	RiskScore float64         `json:"risk_score"`
	AsOf      time.Time       `json:"as_of"`
	Source    string          `json:"source"`
}

// Provider fetches a live snapshot for a pair.
type Provider interface {
	Snapshot(ctx context.Context, base, quote string) (Snapshot, error)
}

type Freshness string

const (
	Fresh Freshness = "fresh"
	Aging Freshness = "aging"
	Stale Freshness = "stale"
)

// Reading is what the engine consumes: a snapshot plus how much to trust it.
type Reading struct {
	Snapshot
	Degraded  bool      `json:"degraded"`
	Freshness Freshness `json:"freshness"`
	// HasSpot is false when nothing, not even a stale value, is known.
	HasSpot bool `json:"has_spot"`
}

// Reader is the port the recommendation generator depends on.
type Reader interface {
	Read(ctx context.Context, base, quote string) Reading
}

func pairKey(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}
