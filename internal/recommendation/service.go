package recommendation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/repository"
)

// OrderCreator is the slice of the order manager acceptance needs.
type OrderCreator interface {
	CreateFromRecommendation(ctx context.Context, recommendationID, decidedBy string) (*domain.HedgeOrder, error)
}

type Summary struct {
	PendingCount    int                        `json:"pending_count"`
	TotalByCurrency map[string]decimal.Decimal `json:"total_by_currency"`
	ByUrgency       map[domain.Urgency]int     `json:"by_urgency"`
	ByAction        map[domain.HedgeAction]int `json:"by_action"`
}

// CalendarDay groups pending recommendations by exposure due date.
type CalendarDay struct {
	Date            string                     `json:"date"`
	Count           int                        `json:"count"`
	TotalByCurrency map[string]decimal.Decimal `json:"total_by_currency"`
	ByUrgency       map[domain.Urgency]int     `json:"by_urgency"`
	Recommendations []string                   `json:"recommendation_ids"`
}

type Service struct {
	recommendations *repository.RecommendationRepo
	exposures       *repository.ExposureRepo
	orders          OrderCreator
	logger          *slog.Logger
	onWrite         []func()
	now             func() time.Time
}

func NewService(recommendations *repository.RecommendationRepo, exposures *repository.ExposureRepo, orders OrderCreator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		recommendations: recommendations,
		exposures:       exposures,
		orders:          orders,
		logger:          logger.With("component", "recommendations"),
		now:             time.Now,
	}
}

func (s *Service) OnWrite(fn func()) { s.onWrite = append(s.onWrite, fn) }

func (s *Service) changed() {
	for _, fn := range s.onWrite {
		fn()
	}
}

// List defaults to hiding expired recommendations unless a status is asked for.
func (s *Service) List(ctx context.Context, f repository.RecommendationFilter, includeExpired bool) ([]domain.HedgeRecommendation, int, error) {
	f.ExcludeExpired = !includeExpired
	return s.recommendations.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.HedgeRecommendation, error) {
	return s.recommendations.GetByID(ctx, id)
}

// Accept turns a pending recommendation into a hedge order. An expired
// recommendation is stale: the caller should regenerate and retry.
func (s *Service) Accept(ctx context.Context, id, decidedBy string) (*domain.HedgeOrder, error) {
	rec, err := s.recommendations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkDecidable(rec, "accept"); err != nil {
		return nil, err
	}
	order, err := s.orders.CreateFromRecommendation(ctx, id, decidedBy)
	if err != nil {
		return nil, err
	}
	s.logger.Info("recommendation accepted", "recommendationID", id, "orderID", order.ID, "decidedBy", decidedBy)
	s.changed()
	return order, nil
}

func (s *Service) Reject(ctx context.Context, id, reason, decidedBy string) (*domain.HedgeRecommendation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	rec, err := s.recommendations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkDecidable(rec, "reject"); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ok, err := s.recommendations.Decide(ctx, id, domain.RecommendationPending, domain.RecommendationRejected, now, decidedBy, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.recommendations.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &domain.TransitionError{Entity: "recommendation", ID: id, From: string(current.Status), Attempted: "reject"}
	}

	rec.Status = domain.RecommendationRejected
	rec.DecidedAt = &now
	rec.DecidedBy = decidedBy
	rec.RejectionReason = reason
	s.logger.Info("recommendation rejected", "recommendationID", id, "decidedBy", decidedBy)
	s.changed()
	return rec, nil
}

func (s *Service) checkDecidable(rec *domain.HedgeRecommendation, attempted string) error {
	if rec.Status != domain.RecommendationPending {
		return &domain.TransitionError{Entity: "recommendation", ID: rec.ID, From: string(rec.Status), Attempted: attempted}
	}
	if rec.IsExpiredAt(s.now()) {
		return fmt.Errorf("recommendation %s expired at %s, regenerate: %w",
			rec.ID, rec.ValidUntil.Format(time.RFC3339), domain.ErrStale)
	}
	return nil
}

// ExpireStale closes every pending recommendation past its validity.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	n, err := s.recommendations.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale recommendations", "count", n)
		s.changed()
	}
	return n, nil
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	pending, err := s.recommendations.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	out := &Summary{
		TotalByCurrency: map[string]decimal.Decimal{},
		ByUrgency:       map[domain.Urgency]int{},
		ByAction:        map[domain.HedgeAction]int{},
	}
	for _, rec := range pending {
		out.PendingCount++
		out.TotalByCurrency[rec.Currency] = out.TotalByCurrency[rec.Currency].Add(rec.AmountToHedge)
		out.ByUrgency[rec.Urgency]++
		out.ByAction[rec.Action]++
	}
	return out, nil
}

// Calendar lays pending recommendations out by the due date of their
// exposure, within [from, to].
func (s *Service) Calendar(ctx context.Context, from, to time.Time) ([]CalendarDay, error) {
	if to.Before(from) {
		return nil, domain.NewValidationError("to", "must not be before from")
	}
	pending, err := s.recommendations.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	from, to = domain.Truncate(from), domain.Truncate(to)
	days := map[string]*CalendarDay{}
	for _, rec := range pending {
		e, err := s.exposures.GetByID(ctx, rec.ExposureID)
		if err != nil {
			return nil, err
		}
		if e.DueDate.Before(from) || e.DueDate.After(to) {
			continue
		}
		key := e.DueDate.Format(domain.DateLayout)
		day, ok := days[key]
		if !ok {
			day = &CalendarDay{
				Date:            key,
				TotalByCurrency: map[string]decimal.Decimal{},
				ByUrgency:       map[domain.Urgency]int{},
			}
			days[key] = day
		}
		day.Count++
		day.TotalByCurrency[rec.Currency] = day.TotalByCurrency[rec.Currency].Add(rec.AmountToHedge)
		day.ByUrgency[rec.Urgency]++
		day.Recommendations = append(day.Recommendations, rec.ID)
	}

	out := make([]CalendarDay, 0, len(days))
	for _, d := range days {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
