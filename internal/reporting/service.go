// Package reporting builds the read-only coverage views: the coverage
// report, the maturity ladder and the dashboard.
package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/coverage"
	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/ledger"
	"github.com/wakala/hedger/internal/orders"
	"github.com/wakala/hedger/internal/policy"
	"github.com/wakala/hedger/internal/recommendation"
)

const (
	ladderDays        = 365
	defaultBucketDays = 7
)

// RecommendationSummarizer and OrderSummarizer are the dashboard's view of
// the workflow services.
type RecommendationSummarizer interface {
	Summary(ctx context.Context) (*recommendation.Summary, error)
}

type OrderSummarizer interface {
	Summary(ctx context.Context) (*orders.Summary, error)
}

type Service struct {
	ledger          *ledger.Service
	policies        *policy.Service
	recommendations RecommendationSummarizer
	orders          OrderSummarizer
	cache           *cache.Cache
	logger          *slog.Logger
}

// NewService caches every report for ttl. A zero ttl disables caching.
func NewService(l *ledger.Service, policies *policy.Service, recs RecommendationSummarizer, ords OrderSummarizer, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		ledger:          l,
		policies:        policies,
		recommendations: recs,
		orders:          ords,
		logger:          logger.With("component", "reporting"),
	}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// Invalidate drops every cached report. Wire it to the write hooks of the
// ledger, order and recommendation services.
func (s *Service) Invalidate() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func cached[T any](s *Service, key string, build func() (T, error)) (T, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(T), nil
		}
	}
	v, err := build()
	if err != nil {
		return v, err
	}
	if s.cache != nil {
		s.cache.SetDefault(key, v)
	}
	return v, nil
}

func cacheKey(parts ...any) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprint(&b, p)
	}
	return b.String()
}

func requireCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if !domain.ValidCurrency(c) {
		return "", domain.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return c, nil
}

type Totals struct {
	Total       decimal.Decimal `json:"total"`
	Hedged      decimal.Decimal `json:"hedged"`
	Open        decimal.Decimal `json:"open"`
	CoveragePct decimal.Decimal `json:"coverage_pct"`
	Count       int             `json:"count"`
}

func (t *Totals) add(e *domain.Exposure) {
	t.Total = t.Total.Add(e.Amount)
	t.Hedged = t.Hedged.Add(e.AmountHedged)
	t.Open = t.Open.Add(e.AmountOpen())
	t.Count++
}

func (t *Totals) finish() { t.CoveragePct = coverage.Pct(t.Hedged, t.Open) }

type CounterpartyCoverage struct {
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Name           string `json:"name"`
	Totals
}

// ExposureGap is one active exposure against its policy target. Reason is
// set instead of a policy when nothing manages the exposure.
type ExposureGap struct {
	ExposureID     string          `json:"exposure_id"`
	Reference      string          `json:"reference"`
	Currency       string          `json:"currency"`
	PolicyID       string          `json:"policy_id,omitempty"`
	Horizon        domain.Horizon  `json:"horizon"`
	DaysToMaturity int             `json:"days_to_maturity"`
	AmountOpen     decimal.Decimal `json:"amount_open"`
	CurrentPct     decimal.Decimal `json:"current_pct"`
	TargetPct      decimal.Decimal `json:"target_pct"`
	Gap            decimal.Decimal `json:"gap"`
	Reason         string          `json:"reason,omitempty"`
}

type CoverageReport struct {
	Currency       string                    `json:"currency"`
	AsOf           string                    `json:"as_of"`
	Payables       Totals                    `json:"payables"`
	Receivables    Totals                    `json:"receivables"`
	Overall        Totals                    `json:"overall"`
	ByHorizon      []coverage.BucketCoverage `json:"by_horizon"`
	ByCounterparty []CounterpartyCoverage    `json:"by_counterparty"`
	Gaps           []ExposureGap             `json:"gaps"`
	Unmanaged      []ExposureGap             `json:"unmanaged"`
}

// Gaps measures every active exposure of currency against its matched
// policy. An empty currency means all of them.
func (s *Service) Gaps(ctx context.Context, currency string, today time.Time) ([]ExposureGap, error) {
	exps, err := s.ledger.ListActive(ctx, currency, today)
	if err != nil {
		return nil, err
	}
	return s.gaps(ctx, exps, today)
}

func (s *Service) gaps(ctx context.Context, exps []domain.Exposure, today time.Time) ([]ExposureGap, error) {
	out := make([]ExposureGap, 0, len(exps))
	for i := range exps {
		e := &exps[i]
		days := e.DaysToMaturity(today)
		g := ExposureGap{
			ExposureID:     e.ID,
			Reference:      e.Reference,
			Currency:       e.Currency,
			Horizon:        domain.HorizonFor(days),
			DaysToMaturity: days,
			AmountOpen:     e.AmountOpen(),
			CurrentPct:     e.HedgePercentage(),
			TargetPct:      decimal.Zero,
			Gap:            decimal.Zero,
		}
		match, err := s.policies.MatchExposure(ctx, e)
		if err != nil {
			return nil, err
		}
		if !match.Managed() {
			g.Reason = match.Reason
		} else {
			cov := coverage.EvaluateExposure(e, match.Policy, today)
			g.PolicyID = match.Policy.ID
			g.TargetPct = cov.TargetPct
			g.Gap = cov.Gap
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Service) CoverageReport(ctx context.Context, currency string, today time.Time) (*CoverageReport, error) {
	currency, err := requireCurrency(currency)
	if err != nil {
		return nil, err
	}
	today = domain.Truncate(today)
	return cached(s, cacheKey("coverage", currency, today.Format(domain.DateLayout)), func() (*CoverageReport, error) {
		return s.coverageReport(ctx, currency, today)
	})
}

func (s *Service) coverageReport(ctx context.Context, currency string, today time.Time) (*CoverageReport, error) {
	exps, err := s.ledger.ListActive(ctx, currency, today)
	if err != nil {
		return nil, err
	}
	names, err := s.counterpartyNames(ctx)
	if err != nil {
		return nil, err
	}

	r := &CoverageReport{
		Currency:       currency,
		AsOf:           today.Format(domain.DateLayout),
		ByHorizon:      coverage.Evaluate(exps, today),
		ByCounterparty: []CounterpartyCoverage{},
		Gaps:           []ExposureGap{},
		Unmanaged:      []ExposureGap{},
	}

	byCP := map[string]*CounterpartyCoverage{}
	for i := range exps {
		e := &exps[i]
		r.Overall.add(e)
		if e.Type == domain.ExposurePayable {
			r.Payables.add(e)
		} else {
			r.Receivables.add(e)
		}

		key := ""
		if e.CounterpartyID != nil {
			key = *e.CounterpartyID
		}
		cp, ok := byCP[key]
		if !ok {
			cp = &CounterpartyCoverage{CounterpartyID: key, Name: names[key]}
			if key == "" {
				cp.Name = "(none)"
			}
			byCP[key] = cp
		}
		cp.add(e)
	}
	r.Overall.finish()
	r.Payables.finish()
	r.Receivables.finish()
	for _, cp := range byCP {
		cp.finish()
		r.ByCounterparty = append(r.ByCounterparty, *cp)
	}
	sort.Slice(r.ByCounterparty, func(i, j int) bool {
		a, b := r.ByCounterparty[i], r.ByCounterparty[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Name < b.Name
	})

	gaps, err := s.gaps(ctx, exps, today)
	if err != nil {
		return nil, err
	}
	for _, g := range gaps {
		if g.Reason != "" {
			r.Unmanaged = append(r.Unmanaged, g)
			continue
		}
		if g.Gap.IsPositive() {
			r.Gaps = append(r.Gaps, g)
		}
	}
	return r, nil
}

func (s *Service) counterpartyNames(ctx context.Context) (map[string]string, error) {
	cps, err := s.ledger.ListCounterparties(ctx, "", false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(cps))
	for _, c := range cps {
		names[c.ID] = c.Name
	}
	return names, nil
}

// LadderBucket is one slice of the maturity ladder, [Start, End] inclusive.
type LadderBucket struct {
	Start       string          `json:"start"`
	End         string          `json:"end"`
	Total       decimal.Decimal `json:"total"`
	Hedged      decimal.Decimal `json:"hedged"`
	Open        decimal.Decimal `json:"open"`
	CoveragePct decimal.Decimal `json:"coverage_pct"`
	Count       int             `json:"count"`
	Payables    decimal.Decimal `json:"payables"`
	Receivables decimal.Decimal `json:"receivables"`
}

// MaturityLadder slices the next year into bucketDays-wide buckets. Empty
// buckets are kept so the ladder has a fixed shape.
func (s *Service) MaturityLadder(ctx context.Context, currency string, bucketDays int, today time.Time) ([]LadderBucket, error) {
	currency, err := requireCurrency(currency)
	if err != nil {
		return nil, err
	}
	if bucketDays == 0 {
		bucketDays = defaultBucketDays
	}
	if bucketDays < 1 || bucketDays > ladderDays {
		return nil, domain.NewValidationError("bucket_days", fmt.Sprintf("must be between 1 and %d", ladderDays))
	}
	today = domain.Truncate(today)
	key := cacheKey("ladder", currency, bucketDays, today.Format(domain.DateLayout))
	return cached(s, key, func() ([]LadderBucket, error) {
		exps, err := s.ledger.ListActive(ctx, currency, today)
		if err != nil {
			return nil, err
		}
		return Ladder(exps, bucketDays, today), nil
	})
}

// Ladder is the pure part of MaturityLadder. Exposures maturing beyond the
// ladder are left out.
func Ladder(exps []domain.Exposure, bucketDays int, today time.Time) []LadderBucket {
	today = domain.Truncate(today)
	n := (ladderDays + bucketDays - 1) / bucketDays
	out := make([]LadderBucket, n)
	for i := range out {
		start := today.AddDate(0, 0, i*bucketDays)
		end := today.AddDate(0, 0, min((i+1)*bucketDays, ladderDays)-1)
		out[i].Start = start.Format(domain.DateLayout)
		out[i].End = end.Format(domain.DateLayout)
	}

	for i := range exps {
		e := &exps[i]
		if !e.IsActive(today) {
			continue
		}
		days := e.DaysToMaturity(today)
		if days < 0 || days >= ladderDays {
			continue
		}
		b := &out[days/bucketDays]
		b.Total = b.Total.Add(e.Amount)
		b.Hedged = b.Hedged.Add(e.AmountHedged)
		b.Open = b.Open.Add(e.AmountOpen())
		b.Count++
		if e.Type == domain.ExposurePayable {
			b.Payables = b.Payables.Add(e.Amount)
		} else {
			b.Receivables = b.Receivables.Add(e.Amount)
		}
	}
	for i := range out {
		out[i].CoveragePct = coverage.Pct(out[i].Hedged, out[i].Open)
	}
	return out
}

type Dashboard struct {
	AsOf            string                  `json:"as_of"`
	Coverage        []ledger.Summary        `json:"coverage"`
	UnmanagedCount  int                     `json:"unmanaged_count"`
	Recommendations *recommendation.Summary `json:"recommendations"`
	Orders          *orders.Summary         `json:"orders"`
}

// Dashboard is the landing view. An empty currency covers all of them.
func (s *Service) Dashboard(ctx context.Context, currency string, today time.Time) (*Dashboard, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	today = domain.Truncate(today)
	return cached(s, cacheKey("dashboard", currency, today.Format(domain.DateLayout)), func() (*Dashboard, error) {
		summaries, err := s.ledger.Summarize(ctx, currency, today)
		if err != nil {
			return nil, err
		}
		gaps, err := s.Gaps(ctx, currency, today)
		if err != nil {
			return nil, err
		}
		recs, err := s.recommendations.Summary(ctx)
		if err != nil {
			return nil, err
		}
		ords, err := s.orders.Summary(ctx)
		if err != nil {
			return nil, err
		}

		d := &Dashboard{
			AsOf:            today.Format(domain.DateLayout),
			Coverage:        summaries,
			Recommendations: recs,
			Orders:          ords,
		}
		for _, g := range gaps {
			if g.Reason != "" {
				d.UnmanagedCount++
			}
		}
		return d, nil
	})
}
