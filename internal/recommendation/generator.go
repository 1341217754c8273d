// Package recommendation turns coverage gaps into hedge recommendations and
// runs the accept/reject workflow on them.
package recommendation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wakala/hedger/internal/coverage"
	"github.com/wakala/hedger/internal/currency"
	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/marketdata"
	"github.com/wakala/hedger/internal/policy"
	"github.com/wakala/hedger/internal/repository"
)

const (
	FactorMarketDataUnavailable = "market data unavailable"
	FactorHighRisk              = "high risk score"
	FactorAboveMaxSingle        = "above max single exposure"
	FactorAdverseForward        = "forward moved against exposure"
	FactorBelowMinimum          = "below policy minimum"
	FactorStaleMarketData       = "stale market data"
)

var (
	hedgeNowShare      = decimal.RequireFromString("0.8")
	adverseMoveLimit   = decimal.RequireFromString("0.02")
	degradedMaxScore   = decimal.NewFromInt(25)
	oneMillion         = decimal.NewFromInt(1_000_000)
	oneHundredThousand = decimal.NewFromInt(100_000)
)

type Config struct {
	// FunctionalCurrency is the quote side of every pair looked up.
	FunctionalCurrency  string
	TTL                 time.Duration
	Workers             int
	RiskReviewThreshold float64
}

// Outcome says what a generation pass did for one exposure.
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeResolved   Outcome = "resolved"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeUnmanaged  Outcome = "unmanaged"
)

type GenerateResult struct {
	ExposureID     string                      `json:"exposure_id"`
	Outcome        Outcome                     `json:"outcome"`
	Reason         string                      `json:"reason,omitempty"`
	Recommendation *domain.HedgeRecommendation `json:"recommendation,omitempty"`
}

type RegenerateOptions struct {
	ExposureIDs []string `json:"exposure_ids,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	// Scheduled runs honour policies that opted out of auto generation.
	Scheduled bool `json:"-"`
}

type ItemError struct {
	ExposureID string `json:"exposure_id"`
	Error      string `json:"error"`
}

// RegenerateResult tallies a batch run. One failing exposure never stops
// the others; it is reported in Errors.
type RegenerateResult struct {
	Evaluated  int         `json:"evaluated"`
	Created    int         `json:"created"`
	Unchanged  int         `json:"unchanged"`
	Superseded int         `json:"superseded"`
	Resolved   int         `json:"resolved"`
	Skipped    int         `json:"skipped"`
	Unmanaged  int         `json:"unmanaged"`
	Degraded   int         `json:"degraded"`
	Errors     []ItemError `json:"errors"`
}

func (r *RegenerateResult) add(res *GenerateResult) {
	r.Evaluated++
	switch res.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeSuperseded:
		r.Superseded++
	case OutcomeResolved:
		r.Resolved++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeUnmanaged:
		r.Unmanaged++
	}
	if res.Recommendation != nil && res.Recommendation.Degraded {
		r.Degraded++
	}
}

type Generator struct {
	txm             *repository.TxManager
	exposures       *repository.ExposureRepo
	recommendations *repository.RecommendationRepo
	policies        *policy.Service
	market          marketdata.Reader
	sink            events.Sink
	locks           *lock.Keyed
	cfg             Config
	logger          *slog.Logger
	onWrite         []func()
	now             func() time.Time
}

func NewGenerator(
	txm *repository.TxManager,
	exposures *repository.ExposureRepo,
	recommendations *repository.RecommendationRepo,
	policies *policy.Service,
	market marketdata.Reader,
	sink events.Sink,
	locks *lock.Keyed,
	cfg Config,
	logger *slog.Logger,
) *Generator {
	if cfg.TTL <= 0 {
		cfg.TTL = 48 * time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FunctionalCurrency == "" {
		cfg.FunctionalCurrency = "COP"
	}
	if cfg.RiskReviewThreshold <= 0 {
		cfg.RiskReviewThreshold = 70
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		txm:             txm,
		exposures:       exposures,
		recommendations: recommendations,
		policies:        policies,
		market:          market,
		sink:            sink,
		locks:           locks,
		cfg:             cfg,
		logger:          logger.With("component", "generator"),
		now:             time.Now,
	}
}

// OnWrite registers fn to run after a pass stored or closed recommendations.
func (g *Generator) OnWrite(fn func()) { g.onWrite = append(g.onWrite, fn) }

func (g *Generator) changed() {
	for _, fn := range g.onWrite {
		fn()
	}
}

// GenerateForExposure evaluates one exposure on demand.
func (g *Generator) GenerateForExposure(ctx context.Context, exposureID string) (*GenerateResult, error) {
	res, err := g.generate(ctx, exposureID, false)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case OutcomeCreated, OutcomeSuperseded, OutcomeResolved:
		g.changed()
	}
	return res, nil
}

// Regenerate evaluates the listed exposures, or every active one, on a
// bounded worker pool.
func (g *Generator) Regenerate(ctx context.Context, opts RegenerateOptions) (*RegenerateResult, error) {
	ids := opts.ExposureIDs
	if len(ids) == 0 {
		var err error
		ids, err = g.exposures.ListIDs(ctx, opts.Currency, g.now())
		if err != nil {
			return nil, fmt.Errorf("list exposures: %w", err)
		}
	}

	result := &RegenerateResult{Errors: []ItemError{}}
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for _, id := range ids {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			res, err := g.generate(egCtx, id, opts.Scheduled)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				result.Evaluated++
				result.Errors = append(result.Errors, ItemError{ExposureID: id, Error: err.Error()})
				g.logger.Error("generate recommendation failed", "exposureID", id, "error", err)
				return nil
			}
			result.add(res)
			return nil
		})
	}
	err := eg.Wait()

	g.logger.Info("regeneration finished",
		"evaluated", result.Evaluated, "created", result.Created, "superseded", result.Superseded,
		"unchanged", result.Unchanged, "resolved", result.Resolved, "unmanaged", result.Unmanaged,
		"degraded", result.Degraded, "errors", len(result.Errors))
	if result.Created+result.Superseded+result.Resolved > 0 {
		g.changed()
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func (g *Generator) generate(ctx context.Context, exposureID string, scheduled bool) (*GenerateResult, error) {
	unlock := g.locks.Lock(exposureID)
	res, err := g.generateLocked(ctx, exposureID, scheduled)
	unlock()
	if err != nil {
		return nil, err
	}

	rec := res.Recommendation
	fresh := res.Outcome == OutcomeCreated || res.Outcome == OutcomeSuperseded
	if fresh && rec.Urgency == domain.UrgencyCritical {
		events.Emit(ctx, g.sink, g.logger, events.New(events.RecommendationCritical, rec.ID, rec))
	}
	return res, nil
}

func (g *Generator) generateLocked(ctx context.Context, exposureID string, scheduled bool) (*GenerateResult, error) {
	now := g.now().UTC()
	e, err := g.exposures.GetByID(ctx, exposureID)
	if err != nil {
		return nil, err
	}
	out := &GenerateResult{ExposureID: e.ID}

	pending, err := g.recommendations.GetPending(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	if !e.IsActive(now) {
		if pending != nil {
			if _, err := g.recommendations.ExpireForExposure(ctx, e.ID, now); err != nil {
				return nil, err
			}
		}
		out.Outcome, out.Reason = OutcomeSkipped, "exposure is "+string(e.Status(now))
		return out, nil
	}

	match, err := g.policies.MatchExposure(ctx, e)
	if err != nil {
		return nil, err
	}
	if !match.Managed() {
		out.Outcome, out.Reason = OutcomeUnmanaged, policy.ReasonNoPolicy
		return out, nil
	}
	if scheduled && !match.Policy.AutoGenerate {
		out.Outcome, out.Reason = OutcomeSkipped, "policy disables automatic generation"
		return out, nil
	}

	cov := coverage.EvaluateExposure(e, match.Policy, now)
	if cov.Gap.IsZero() {
		if pending != nil {
			if _, err := g.recommendations.ExpireForExposure(ctx, e.ID, now); err != nil {
				return nil, err
			}
			out.Outcome, out.Reason = OutcomeResolved, "coverage target met"
			return out, nil
		}
		out.Outcome, out.Reason = OutcomeSkipped, "coverage target met"
		return out, nil
	}

	reading := g.market.Read(ctx, e.Currency, g.cfg.FunctionalCurrency)
	rec := g.build(e, match, cov, reading, pending, now)

	if pending != nil && !pending.IsExpiredAt(now) && sameAdvice(pending, rec) {
		out.Outcome, out.Recommendation = OutcomeUnchanged, pending
		return out, nil
	}

	err = g.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		repo := g.recommendations.WithTx(tx)
		if pending != nil {
			if _, err := repo.ExpireForExposure(ctx, e.ID, now); err != nil {
				return err
			}
		}
		return repo.Insert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	out.Outcome, out.Recommendation = OutcomeCreated, rec
	if pending != nil {
		out.Outcome = OutcomeSuperseded
	}
	g.logger.Info("recommendation generated",
		"exposureID", e.ID, "recommendationID", rec.ID, "action", rec.Action,
		"amount", rec.AmountToHedge.String(), "urgency", rec.Urgency, "degraded", rec.Degraded,
		"outcome", out.Outcome)
	return out, nil
}

// sameAdvice is the idempotency test: a rerun that would say the same
// thing keeps the existing recommendation. A raised urgency is new advice.
func sameAdvice(a, b *domain.HedgeRecommendation) bool {
	return a.Action == b.Action &&
		a.PolicyID == b.PolicyID &&
		a.AmountToHedge.Equal(b.AmountToHedge) &&
		a.Urgency == b.Urgency
}

func (g *Generator) build(
	e *domain.Exposure,
	match policy.Result,
	cov coverage.ExposureCoverage,
	reading marketdata.Reading,
	pending *domain.HedgeRecommendation,
	now time.Time,
) *domain.HedgeRecommendation {
	p := match.Policy
	amount := cov.Gap
	factors := []string{}

	var current, suggested *decimal.Decimal
	if reading.HasSpot {
		spot := reading.Spot
		current = &spot
		suggested = &spot
	}

	var conflicts []string
	if reading.Degraded {
		factors = append(factors, FactorMarketDataUnavailable)
	} else if reading.HasSpot {
		fwd, err := currency.ForwardRate(reading.Spot, reading.BaseRate, reading.QuoteRate, cov.DaysToMaturity)
		if err == nil {
			suggested = &fwd
			buying := domain.SideFor(e.Type) == domain.SideBuy
			if currency.AdverseMove(buying, reading.Spot, fwd).GreaterThan(adverseMoveLimit) {
				conflicts = append(conflicts, FactorAdverseForward)
			}
		}
		if reading.RiskScore >= g.cfg.RiskReviewThreshold {
			conflicts = append(conflicts, FactorHighRisk)
		}
		if reading.Freshness == marketdata.Stale {
			factors = append(factors, FactorStaleMarketData)
		}
	}
	if p.MaxSingleExposure != nil && e.Amount.GreaterThan(*p.MaxSingleExposure) {
		conflicts = append(conflicts, FactorAboveMaxSingle)
	}
	factors = append(factors, conflicts...)

	var action domain.HedgeAction
	switch {
	case e.Amount.LessThan(p.MinAmount):
		action = domain.ActionWait
		factors = append(factors, FactorBelowMinimum)
	case reading.Degraded:
		action = domain.ActionReview
	case p.RequireApprovalAbove != nil && e.Amount.GreaterThan(*p.RequireApprovalAbove) && len(conflicts) > 0:
		action = domain.ActionReview
	case amount.GreaterThanOrEqual(cov.AmountOpen.Mul(hedgeNowShare)):
		action = domain.ActionHedgeNow
	default:
		action = domain.ActionHedgePartial
	}

	urgency := domain.UrgencyFor(cov.DaysToMaturity)
	if pending != nil && pending.AmountToHedge.LessThanOrEqual(amount) {
		urgency = domain.MaxUrgency(pending.Urgency, urgency)
	}

	ttl := g.cfg.TTL
	if urgency == domain.UrgencyHigh || urgency == domain.UrgencyCritical {
		ttl /= 2
	}

	rec := &domain.HedgeRecommendation{
		ID:                 uuid.NewString(),
		ExposureID:         e.ID,
		PolicyID:           p.ID,
		Action:             action,
		Currency:           e.Currency,
		AmountToHedge:      amount,
		CurrentCoveragePct: cov.CurrentPct,
		TargetCoveragePct:  cov.TargetPct,
		CurrentRate:        current,
		SuggestedRate:      suggested,
		Urgency:            urgency,
		Priority:           Priority(cov.Horizon, amount),
		DaysToMaturity:     cov.DaysToMaturity,
		Confidence:         Confidence(match.Specificity, reading),
		Degraded:           reading.Degraded,
		Factors:            factors,
		Status:             domain.RecommendationPending,
		ValidUntil:         now.Add(ttl),
		CreatedAt:          now,
	}
	rec.Reasoning = Reasoning(e, rec, cov.Horizon)
	return rec
}

var horizonPriority = map[domain.Horizon]int{
	domain.Horizon0to30:  90,
	domain.Horizon31to60: 70,
	domain.Horizon61to90: 50,
	domain.Horizon91Plus: 30,
}

// Priority ranks recommendations 0-100: nearer horizons first, with a bump
// for large amounts.
func Priority(h domain.Horizon, amount decimal.Decimal) int {
	base, ok := horizonPriority[h]
	if !ok {
		base = 50
	}
	switch {
	case amount.GreaterThanOrEqual(oneMillion):
		base += 10
	case amount.GreaterThanOrEqual(oneHundredThousand):
		base += 5
	}
	return min(100, base)
}

// Confidence scores how much the inputs can be trusted:
//
//	40 + 10*specificity + freshness bonus - 0.2*risk
//
// clamped to [0,100], and capped at 25 without live market data.
func Confidence(specificity int, reading marketdata.Reading) decimal.Decimal {
	score := 40.0 + 10.0*float64(specificity)
	switch reading.Freshness {
	case marketdata.Fresh:
		score += 20
	case marketdata.Aging:
		score += 10
	}
	score -= 0.2 * reading.RiskScore
	score = max(0, min(100, score))

	out := decimal.NewFromFloat(score).Round(2)
	if reading.Degraded && out.GreaterThan(degradedMaxScore) {
		out = degradedMaxScore
	}
	return out
}
