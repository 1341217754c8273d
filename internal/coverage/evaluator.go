package coverage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BucketCoverage is the coverage of one horizon.
type BucketCoverage struct {
	Horizon     domain.Horizon  `json:"horizon"`
	Total       decimal.Decimal `json:"total"`
	Hedged      decimal.Decimal `json:"hedged"`
	Open        decimal.Decimal `json:"open"`
	CoveragePct decimal.Decimal `json:"coverage_pct"`
	Count       int             `json:"count"`
}

// Pct is hedged / (hedged + open) * 100 at 2 dp. An empty total counts as
// fully covered: there is nothing left to hedge.
func Pct(hedged, open decimal.Decimal) decimal.Decimal {
	total := hedged.Add(open)
	if !total.IsPositive() {
		return hundred
	}
	return hedged.Div(total).Mul(hundred).Round(2)
}

// Evaluate returns per-horizon coverage in horizon order.
func Evaluate(exposures []domain.Exposure, today time.Time) []BucketCoverage {
	buckets := Bucket(exposures, today)
	out := make([]BucketCoverage, 0, len(domain.Horizons))
	for _, h := range domain.Horizons {
		b := buckets[h]
		out = append(out, BucketCoverage{
			Horizon:     h,
			Total:       b.Total,
			Hedged:      b.Hedged,
			Open:        b.Open,
			CoveragePct: Pct(b.Hedged, b.Open),
			Count:       b.Count,
		})
	}
	return out
}

// Overall folds the buckets into a single coverage figure.
func Overall(buckets []BucketCoverage) BucketCoverage {
	var out BucketCoverage
	for _, b := range buckets {
		out.Total = out.Total.Add(b.Total)
		out.Hedged = out.Hedged.Add(b.Hedged)
		out.Open = out.Open.Add(b.Open)
		out.Count += b.Count
	}
	out.CoveragePct = Pct(out.Hedged, out.Open)
	return out
}

// ExposureCoverage is one exposure measured against its policy.
type ExposureCoverage struct {
	Horizon        domain.Horizon  `json:"horizon"`
	DaysToMaturity int             `json:"days_to_maturity"`
	CurrentPct     decimal.Decimal `json:"current_pct"`
	TargetPct      decimal.Decimal `json:"target_pct"`
	AmountOpen     decimal.Decimal `json:"amount_open"`
	Gap            decimal.Decimal `json:"gap"`
}

// EvaluateExposure computes the hedge gap
//
//	gap = max(0, target - current) * amount / 100
//
// clipped to the open amount. Inactive exposures have no gap. The gap is
// taken from exact amounts; CurrentPct is rounded and only for display.
func EvaluateExposure(e *domain.Exposure, p *domain.HedgePolicy, today time.Time) ExposureCoverage {
	days := e.DaysToMaturity(today)
	h := domain.HorizonFor(days)
	out := ExposureCoverage{
		Horizon:        h,
		DaysToMaturity: days,
		CurrentPct:     e.HedgePercentage(),
		TargetPct:      p.CoverageRules.Target(h),
		AmountOpen:     e.AmountOpen(),
		Gap:            decimal.Zero,
	}
	if !e.IsActive(today) {
		return out
	}

	gap := out.TargetPct.Mul(e.Amount).Div(hundred).Sub(e.AmountHedged).Round(2)
	if !gap.IsPositive() {
		return out
	}
	if gap.GreaterThan(out.AmountOpen) {
		gap = out.AmountOpen
	}
	out.Gap = gap
	return out
}
