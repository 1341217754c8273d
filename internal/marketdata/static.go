package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StaticConfig is the YAML shape of a fixed rate sheet.
//
//	spots:
//	  USD/COP: "4200"
//	rates:
//	  USD: "0.0525"
//	  COP: "0.095"
//	risk:
//	  USD/COP: 35
type StaticConfig struct {
	Spots map[string]decimal.Decimal `yaml:"spots" json:"spots"`
	Rates map[string]decimal.Decimal `yaml:"rates" json:"rates"`
	Risk  map[string]float64         `yaml:"risk" json:"risk"`
}

// DefaultStaticConfig holds approximate reference levels against COP.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		Spots: map[string]decimal.Decimal{
			"USD/COP": decimal.NewFromInt(4200),
			"EUR/COP": decimal.NewFromInt(4550),
			"GBP/COP": decimal.NewFromInt(5300),
			"MXN/COP": decimal.NewFromInt(245),
		},
		Rates: map[string]decimal.Decimal{
			"USD": decimal.RequireFromString("0.0525"),
			"EUR": decimal.RequireFromString("0.035"),
			"GBP": decimal.RequireFromString("0.05"),
			"MXN": decimal.RequireFromString("0.10"),
			"COP": decimal.RequireFromString("0.095"),
		},
		Risk: map[string]float64{
			"USD/COP": 35,
			"EUR/COP": 30,
			"GBP/COP": 40,
			"MXN/COP": 55,
		},
	}
}

// Static serves a fixed rate sheet. It never fails for known pairs.
type Static struct {
	spots map[string]decimal.Decimal
	rates map[string]decimal.Decimal
	risk  map[string]float64
	now   func() time.Time
}

func NewStatic(cfg StaticConfig) *Static {
	s := &Static{
		spots: map[string]decimal.Decimal{},
		rates: map[string]decimal.Decimal{},
		risk:  map[string]float64{},
		now:   time.Now,
	}
	for k, v := range cfg.Spots {
		s.spots[strings.ToUpper(k)] = v
	}
	for k, v := range cfg.Rates {
		s.rates[strings.ToUpper(k)] = v
	}
	for k, v := range cfg.Risk {
		s.risk[strings.ToUpper(k)] = v
	}
	return s
}

func (s *Static) Snapshot(_ context.Context, base, quote string) (Snapshot, error) {
	key := pairKey(base, quote)
	spot, ok := s.spots[key]
	if !ok {
		// A quoted inverse is good enough for a reference sheet.
		inv, ok := s.spots[pairKey(quote, base)]
		if !ok || !inv.IsPositive() {
			return Snapshot{}, fmt.Errorf("%w: no rate for %s", ErrUnavailable, key)
		}
		spot = decimal.NewFromInt(1).Div(inv).Round(8)
	}
	return Snapshot{
		Base:      strings.ToUpper(base),
		Quote:     strings.ToUpper(quote),
		Spot:      spot,
		BaseRate:  s.rates[strings.ToUpper(base)],
		QuoteRate: s.rates[strings.ToUpper(quote)],
		RiskScore: s.risk[key],
		AsOf:      s.now(),
		Source:    "static",
	}, nil
}
