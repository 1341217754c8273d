// Package coverage aggregates exposures into maturity buckets and measures
// how far each bucket and exposure is from its policy target.
package coverage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

// BucketTotals is the running sum for one horizon.
type BucketTotals struct {
	Horizon domain.Horizon  `json:"horizon"`
	Open    decimal.Decimal `json:"open"`
	Hedged  decimal.Decimal `json:"hedged"`
	Total   decimal.Decimal `json:"total"`
	Count   int             `json:"count"`
}

func (b *BucketTotals) add(e *domain.Exposure) {
	b.Open = b.Open.Add(e.AmountOpen())
	b.Hedged = b.Hedged.Add(e.AmountHedged)
	b.Total = b.Open.Add(b.Hedged)
	b.Count++
}

func emptyBuckets() map[domain.Horizon]*BucketTotals {
	out := make(map[domain.Horizon]*BucketTotals, len(domain.Horizons))
	for _, h := range domain.Horizons {
		out[h] = &BucketTotals{Horizon: h}
	}
	return out
}

// Bucket sums active exposures per horizon. Every horizon is present in the
// result, possibly empty. Callers are expected to pass a single currency.
func Bucket(exposures []domain.Exposure, today time.Time) map[domain.Horizon]*BucketTotals {
	out := emptyBuckets()
	for i := range exposures {
		e := &exposures[i]
		if !e.IsActive(today) {
			continue
		}
		out[domain.HorizonFor(e.DaysToMaturity(today))].add(e)
	}
	return out
}

// BucketByCurrency groups by currency first, then horizon.
func BucketByCurrency(exposures []domain.Exposure, today time.Time) map[string]map[domain.Horizon]*BucketTotals {
	out := make(map[string]map[domain.Horizon]*BucketTotals)
	for i := range exposures {
		e := &exposures[i]
		if !e.IsActive(today) {
			continue
		}
		buckets, ok := out[e.Currency]
		if !ok {
			buckets = emptyBuckets()
			out[e.Currency] = buckets
		}
		buckets[domain.HorizonFor(e.DaysToMaturity(today))].add(e)
	}
	return out
}
