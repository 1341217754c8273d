package recommendation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/marketdata"
	"github.com/wakala/hedger/internal/policy"
	"github.com/wakala/hedger/internal/repository"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct{ reading marketdata.Reading }

func (f fakeReader) Read(context.Context, string, string) marketdata.Reading { return f.reading }

type fakeOrders struct{ accepted []string }

func (f *fakeOrders) CreateFromRecommendation(_ context.Context, id, _ string) (*domain.HedgeOrder, error) {
	f.accepted = append(f.accepted, id)
	return &domain.HedgeOrder{ID: "order-" + id, Status: domain.OrderApproved}, nil
}

type fixture struct {
	gen             *Generator
	svc             *Service
	orders          *fakeOrders
	sink            *events.MemorySink
	exposures       *repository.ExposureRepo
	recommendations *repository.RecommendationRepo
	policies        *repository.PolicyRepo
}

func newFixture(t *testing.T, reader marketdata.Reader) *fixture {
	t.Helper()
	db, err := repository.InitDB(filepath.Join(t.TempDir(), "hedger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	txm := repository.NewTxManager(db, nil)
	f := &fixture{
		orders:          &fakeOrders{},
		sink:            events.NewMemorySink(),
		exposures:       repository.NewExposureRepo(db),
		recommendations: repository.NewRecommendationRepo(db),
		policies:        repository.NewPolicyRepo(db),
	}
	policies := policy.NewService(txm, f.policies, repository.NewCounterpartyRepo(db), nil)
	f.gen = NewGenerator(txm, f.exposures, f.recommendations, policies, reader, f.sink, lock.NewKeyed(),
		Config{FunctionalCurrency: "COP", TTL: 48 * time.Hour, Workers: 3, RiskReviewThreshold: 70}, nil)
	f.gen.now = func() time.Time { return now }
	f.svc = NewService(f.recommendations, f.exposures, f.orders, nil)
	f.svc.now = func() time.Time { return now }
	return f
}

func staticReader() marketdata.Reader {
	return marketdata.NewCached(marketdata.NewStatic(marketdata.DefaultStaticConfig()), marketdata.CacheConfig{}, nil)
}

func (f *fixture) policy(t *testing.T, currency string, edit func(*domain.HedgePolicy)) *domain.HedgePolicy {
	t.Helper()
	p := &domain.HedgePolicy{
		ID: uuid.NewString(), Name: currency + "-" + uuid.NewString()[:8], Currency: currency,
		CoverageRules: domain.DefaultCoverageRules(), AutoGenerate: true, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if edit != nil {
		edit(p)
	}
	require.NoError(t, f.policies.Insert(context.Background(), p))
	return p
}

func (f *fixture) exposure(t *testing.T, currency string, amount int64, dueIn int) *domain.Exposure {
	t.Helper()
	e := &domain.Exposure{
		ID: uuid.NewString(), Type: domain.ExposurePayable, Reference: "INV-" + uuid.NewString()[:8],
		Currency: currency, Amount: decimal.NewFromInt(amount),
		DueDate: domain.Truncate(now).AddDate(0, 0, dueIn), Source: domain.SourceManual,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.exposures.Insert(context.Background(), e))
	return e
}

func (f *fixture) hedge(t *testing.T, e *domain.Exposure, to int64) {
	t.Helper()
	next := decimal.NewFromInt(to)
	ok, err := f.exposures.SetHedged(context.Background(), e.ID, e.AmountHedged, next, now)
	require.NoError(t, err)
	require.True(t, ok)
	e.AmountHedged = next
}

func TestWorkedExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	p := f.policy(t, "USD", nil)
	e := f.exposure(t, "USD", 100000, 45)

	res, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)

	rec := res.Recommendation
	assert.Equal(t, p.ID, rec.PolicyID)
	assert.Equal(t, domain.ActionHedgePartial, rec.Action)
	assert.Equal(t, "75000", rec.AmountToHedge.String())
	assert.Equal(t, "0", rec.CurrentCoveragePct.String())
	assert.Equal(t, "75", rec.TargetCoveragePct.String())
	assert.Equal(t, domain.UrgencyNormal, rec.Urgency)
	assert.Equal(t, 70, rec.Priority)
	assert.Equal(t, "53", rec.Confidence.String())
	assert.Equal(t, 45, rec.DaysToMaturity)
	assert.False(t, rec.Degraded)
	assert.Equal(t, now.Add(48*time.Hour), rec.ValidUntil)
	require.NotNil(t, rec.CurrentRate)
	require.NotNil(t, rec.SuggestedRate)
	assert.Equal(t, "4200", rec.CurrentRate.String())
	assert.True(t, rec.SuggestedRate.GreaterThan(*rec.CurrentRate), "COP carries the higher rate")
	assert.Contains(t, rec.Reasoning, "Hedge partially")
	assert.Contains(t, rec.Reasoning, "75000.00")

	stored, err := f.recommendations.GetPending(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestRegenerationIsIdempotentAndTracksCoverage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	e := f.exposure(t, "USD", 100000, 45)

	first, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)

	again, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, again.Outcome)
	assert.Equal(t, first.Recommendation.ID, again.Recommendation.ID)

	f.hedge(t, e, 25000)
	moved, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, moved.Outcome)
	assert.Equal(t, "50000", moved.Recommendation.AmountToHedge.String())

	old, err := f.recommendations.GetByID(ctx, first.Recommendation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationExpired, old.Status)

	f.hedge(t, e, 75000)
	done, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, done.Outcome)

	pending, err := f.recommendations.GetPending(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)

	skipped, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, skipped.Outcome)
}

func TestUnmanagedAndInactiveExposures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)

	eur := f.exposure(t, "EUR", 10000, 20)
	res, err := f.gen.GenerateForExposure(ctx, eur.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmanaged, res.Outcome)
	assert.Equal(t, policy.ReasonNoPolicy, res.Reason)
	assert.Nil(t, res.Recommendation)

	usd := f.exposure(t, "USD", 10000, 20)
	ok, err := f.exposures.MarkCancelled(ctx, usd.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	res, err = f.gen.GenerateForExposure(ctx, usd.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestDegradedMarketDataForcesReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeReader{reading: marketdata.Reading{Degraded: true, Freshness: marketdata.Stale}})
	f.policy(t, "USD", func(p *domain.HedgePolicy) {
		typ := domain.ExposurePayable
		p.ExposureType = &typ
	})
	e := f.exposure(t, "USD", 100000, 45)

	res, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	rec := res.Recommendation
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionReview, rec.Action)
	assert.True(t, rec.Degraded)
	assert.True(t, rec.Confidence.LessThanOrEqual(decimal.NewFromInt(25)))
	assert.Contains(t, rec.Factors, FactorMarketDataUnavailable)
	assert.Nil(t, rec.SuggestedRate)
	assert.Contains(t, rec.Reasoning, "Market data is unavailable")
}

func TestActionRules(t *testing.T) {
	fresh := marketdata.Reading{
		Snapshot: marketdata.Snapshot{Spot: decimal.NewFromInt(4200), BaseRate: decimal.RequireFromString("0.05"),
			QuoteRate: decimal.RequireFromString("0.05"), RiskScore: 10},
		Freshness: marketdata.Fresh, HasSpot: true,
	}
	risky := fresh
	risky.RiskScore = 85

	tests := []struct {
		name    string
		reading marketdata.Reading
		edit    func(*domain.HedgePolicy)
		dueIn   int
		action  domain.HedgeAction
		factor  string
	}{
		{"below minimum waits", fresh, func(p *domain.HedgePolicy) { p.MinAmount = decimal.NewFromInt(500000) }, 45, domain.ActionWait, FactorBelowMinimum},
		{"conflict above approval reviews", risky, func(p *domain.HedgePolicy) {
			limit := decimal.NewFromInt(50000)
			p.RequireApprovalAbove = &limit
		}, 45, domain.ActionReview, FactorHighRisk},
		{"risk without approval limit still hedges", risky, nil, 45, domain.ActionHedgePartial, FactorHighRisk},
		{"near horizon hedges now", fresh, nil, 20, domain.ActionHedgeNow, ""},
		{"above max single is a conflict", fresh, func(p *domain.HedgePolicy) {
			limit := decimal.NewFromInt(50000)
			p.MaxSingleExposure = &limit
			p.RequireApprovalAbove = &limit
		}, 45, domain.ActionReview, FactorAboveMaxSingle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fakeReader{reading: tt.reading})
			f.policy(t, "USD", tt.edit)
			e := f.exposure(t, "USD", 100000, tt.dueIn)

			res, err := f.gen.GenerateForExposure(context.Background(), e.ID)
			require.NoError(t, err)
			require.NotNil(t, res.Recommendation)
			assert.Equal(t, tt.action, res.Recommendation.Action)
			if tt.factor != "" {
				assert.Contains(t, res.Recommendation.Factors, tt.factor)
			}
		})
	}
}

func TestCriticalRecommendationEmitsEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	e := f.exposure(t, "USD", 100000, 5)

	res, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	rec := res.Recommendation
	assert.Equal(t, domain.UrgencyCritical, rec.Urgency)
	assert.Equal(t, domain.ActionHedgeNow, rec.Action)
	assert.Equal(t, 95, rec.Priority)
	assert.Equal(t, now.Add(24*time.Hour), rec.ValidUntil, "urgent advice lives half as long")

	evs := f.sink.ByType(events.RecommendationCritical)
	require.Len(t, evs, 1)
	assert.Equal(t, rec.ID, evs[0].EntityID)
}

func TestUrgencyRisesAsMaturityApproaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	e := f.exposure(t, "USD", 100000, 8)

	first, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UrgencyHigh, first.Recommendation.Urgency)
	assert.Empty(t, f.sink.ByType(events.RecommendationCritical))

	// Still inside the first recommendation's validity, one day closer.
	f.gen.now = func() time.Time { return now.Add(23 * time.Hour) }
	later, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, later.Outcome)
	assert.Equal(t, domain.UrgencyCritical, later.Recommendation.Urgency)
	assert.Equal(t, 7, later.Recommendation.DaysToMaturity)
	assert.Equal(t, first.Recommendation.AmountToHedge.String(), later.Recommendation.AmountToHedge.String())
	require.Len(t, f.sink.ByType(events.RecommendationCritical), 1)

	last := later.Recommendation.Urgency
	for hours := 24; hours <= 7*24; hours += 24 {
		f.gen.now = func() time.Time { return now.Add(time.Duration(23+hours) * time.Hour) }
		res, err := f.gen.GenerateForExposure(ctx, e.ID)
		require.NoError(t, err)
		require.NotNil(t, res.Recommendation)
		assert.GreaterOrEqual(t, res.Recommendation.Urgency.Rank(), last.Rank())
		last = res.Recommendation.Urgency
	}
}

func TestRegenerateCollectsItemErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	f.policy(t, "MXN", func(p *domain.HedgePolicy) { p.AutoGenerate = false })

	usd := f.exposure(t, "USD", 100000, 45)
	eur := f.exposure(t, "EUR", 100000, 45)
	mxn := f.exposure(t, "MXN", 100000, 45)

	res, err := f.gen.Regenerate(ctx, RegenerateOptions{ExposureIDs: []string{usd.ID, eur.ID, mxn.ID, "missing"}, Scheduled: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Evaluated)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Unmanaged)
	assert.Equal(t, 1, res.Skipped, "policy opted out of scheduled runs")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "missing", res.Errors[0].ExposureID)

	all, err := f.gen.Regenerate(ctx, RegenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Evaluated)
	assert.Equal(t, 1, all.Unchanged)
	assert.Equal(t, 1, all.Created, "on demand runs ignore the opt out")
	assert.Empty(t, all.Errors)

	cancelled, err := f.gen.Regenerate(canceledContext(), RegenerateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, cancelled)
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestAcceptAndReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	a := f.exposure(t, "USD", 100000, 45)
	b := f.exposure(t, "USD", 200000, 10)

	ra, err := f.gen.GenerateForExposure(ctx, a.ID)
	require.NoError(t, err)
	rb, err := f.gen.GenerateForExposure(ctx, b.ID)
	require.NoError(t, err)

	order, err := f.svc.Accept(ctx, ra.Recommendation.ID, "treasurer")
	require.NoError(t, err)
	assert.Equal(t, "order-"+ra.Recommendation.ID, order.ID)
	assert.Equal(t, []string{ra.Recommendation.ID}, f.orders.accepted)

	_, err = f.svc.Reject(ctx, rb.Recommendation.ID, "", "treasurer")
	assert.ErrorIs(t, err, domain.ErrValidation)

	rejected, err := f.svc.Reject(ctx, rb.Recommendation.ID, "waiting for budget", "treasurer")
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationRejected, rejected.Status)

	_, err = f.svc.Accept(ctx, rb.Recommendation.ID, "treasurer")
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "rejected", te.From)
	assert.Len(t, f.orders.accepted, 1)
}

func TestExpiredRecommendationIsStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	e := f.exposure(t, "USD", 100000, 45)

	res, err := f.gen.GenerateForExposure(ctx, e.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return now.Add(49 * time.Hour) }
	_, err = f.svc.Accept(ctx, res.Recommendation.ID, "treasurer")
	assert.ErrorIs(t, err, domain.ErrStale)
	assert.Empty(t, f.orders.accepted)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	visible, total, err := f.svc.List(ctx, repository.RecommendationFilter{}, false)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, visible)

	_, total, err = f.svc.List(ctx, repository.RecommendationFilter{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSummaryAndCalendar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticReader())
	f.policy(t, "USD", nil)
	f.policy(t, "EUR", nil)
	for _, e := range []*domain.Exposure{
		f.exposure(t, "USD", 100000, 45),
		f.exposure(t, "USD", 40000, 5),
		f.exposure(t, "EUR", 80000, 45),
	} {
		_, err := f.gen.GenerateForExposure(ctx, e.ID)
		require.NoError(t, err)
	}

	s, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.PendingCount)
	assert.Equal(t, "115000", s.TotalByCurrency["USD"].String())
	assert.Equal(t, "60000", s.TotalByCurrency["EUR"].String())
	assert.Equal(t, 1, s.ByUrgency[domain.UrgencyCritical])
	assert.Equal(t, 2, s.ByAction[domain.ActionHedgePartial])

	days, err := f.svc.Calendar(ctx, now, now.AddDate(0, 0, 60))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, domain.Truncate(now).AddDate(0, 0, 5).Format(domain.DateLayout), days[0].Date)
	assert.Equal(t, 2, days[1].Count)
	assert.Equal(t, "75000", days[1].TotalByCurrency["USD"].String())

	near, err := f.svc.Calendar(ctx, now, now.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, near, 1)

	_, err = f.svc.Calendar(ctx, now, now.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
