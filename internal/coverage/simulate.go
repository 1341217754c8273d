package coverage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

// SimulatedBucket is one horizon under a proposed rule set.
type SimulatedBucket struct {
	Horizon     domain.Horizon  `json:"horizon"`
	TargetPct   decimal.Decimal `json:"target_pct"`
	Total       decimal.Decimal `json:"total"`
	Hedged      decimal.Decimal `json:"hedged"`
	WouldHedge  decimal.Decimal `json:"would_hedge"`
	Count       int             `json:"count"`
	OrdersCount int             `json:"orders_count"`
}

// Simulation previews what a rule set would ask for without writing
// anything.
type Simulation struct {
	Buckets              []SimulatedBucket `json:"by_horizon"`
	Total                decimal.Decimal   `json:"total_exposure"`
	Hedged               decimal.Decimal   `json:"current_hedged"`
	WouldHedge           decimal.Decimal   `json:"would_hedge"`
	CurrentCoveragePct   decimal.Decimal   `json:"current_coverage_pct"`
	ProjectedCoveragePct decimal.Decimal   `json:"projected_coverage_pct"`
	EstimatedOrders      int               `json:"estimated_orders"`
}

// Simulate applies rules to every active exposure with the same gap
// arithmetic the generator uses. Each positive gap counts as one order.
func Simulate(exposures []domain.Exposure, rules domain.CoverageRules, today time.Time) Simulation {
	p := &domain.HedgePolicy{CoverageRules: rules}
	byHorizon := make(map[domain.Horizon]*SimulatedBucket, len(domain.Horizons))
	for _, h := range domain.Horizons {
		byHorizon[h] = &SimulatedBucket{Horizon: h, TargetPct: rules.Target(h)}
	}

	var out Simulation
	for i := range exposures {
		e := &exposures[i]
		if !e.IsActive(today) {
			continue
		}
		cov := EvaluateExposure(e, p, today)
		b := byHorizon[cov.Horizon]
		b.Total = b.Total.Add(e.Amount)
		b.Hedged = b.Hedged.Add(e.AmountHedged)
		b.WouldHedge = b.WouldHedge.Add(cov.Gap)
		b.Count++
		if cov.Gap.IsPositive() {
			b.OrdersCount++
		}
	}

	for _, h := range domain.Horizons {
		b := byHorizon[h]
		out.Buckets = append(out.Buckets, *b)
		out.Total = out.Total.Add(b.Total)
		out.Hedged = out.Hedged.Add(b.Hedged)
		out.WouldHedge = out.WouldHedge.Add(b.WouldHedge)
		out.EstimatedOrders += b.OrdersCount
	}
	open := out.Total.Sub(out.Hedged)
	out.CurrentCoveragePct = Pct(out.Hedged, open)
	out.ProjectedCoveragePct = Pct(out.Hedged.Add(out.WouldHedge), open.Sub(out.WouldHedge))
	return out
}
