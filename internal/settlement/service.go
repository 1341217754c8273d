// Package settlement tracks the cash legs of executed trades until the bank
// confirms them.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/repository"
)

type ProcessRequest struct {
	PaymentReference string `json:"payment_reference,omitempty"`
}

type CompleteRequest struct {
	BankConfirmation string `json:"bank_confirmation,omitempty"`
}

type FailRequest struct {
	Reason string `json:"reason"`
}

// CalendarDay totals the legs due on one value date.
type CalendarDay struct {
	Date        string                     `json:"date"`
	Count       int                        `json:"count"`
	ByCurrency  map[string]decimal.Decimal `json:"by_currency"`
	Settlements []domain.Settlement        `json:"settlements"`
}

type Summary struct {
	PendingTodayCount  int                             `json:"pending_today_count"`
	PendingTodayAmount map[string]decimal.Decimal      `json:"pending_today_amount"`
	PendingWeekCount   int                             `json:"pending_week_count"`
	PendingWeekAmount  map[string]decimal.Decimal      `json:"pending_week_amount"`
	Overdue            int                             `json:"overdue"`
	ByStatus           map[domain.SettlementStatus]int `json:"by_status"`
}

type Service struct {
	settlements *repository.SettlementRepo
	sink        events.Sink
	locks       *lock.Keyed
	logger      *slog.Logger
	onWrite     []func()
	now         func() time.Time
}

func NewService(settlements *repository.SettlementRepo, sink events.Sink, locks *lock.Keyed, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settlements: settlements,
		sink:        sink,
		locks:       locks,
		logger:      logger.With("component", "settlements"),
		now:         time.Now,
	}
}

func (s *Service) OnWrite(fn func()) { s.onWrite = append(s.onWrite, fn) }

func (s *Service) changed() {
	for _, fn := range s.onWrite {
		fn()
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Settlement, error) {
	return s.settlements.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f repository.SettlementFilter) ([]domain.Settlement, int, error) {
	return s.settlements.List(ctx, f)
}

func (s *Service) ForOrder(ctx context.Context, orderID string) ([]domain.Settlement, error) {
	return s.settlements.ListForOrder(ctx, orderID)
}

// MarkProcessing records that the payment instruction went out.
func (s *Service) MarkProcessing(ctx context.Context, id string, req ProcessRequest) (*domain.Settlement, error) {
	return s.move(ctx, id, domain.SettlementProcessing, func(st *domain.Settlement, now time.Time) {
		st.ProcessedAt = &now
		if ref := strings.TrimSpace(req.PaymentReference); ref != "" {
			st.PaymentReference = ref
		}
	})
}

// MarkCompleted records the bank's confirmation. Completing the last leg of
// a trade raises trade.settled.
func (s *Service) MarkCompleted(ctx context.Context, id string, req CompleteRequest) (*domain.Settlement, error) {
	st, err := s.move(ctx, id, domain.SettlementCompleted, func(st *domain.Settlement, now time.Time) {
		st.ConfirmedAt = &now
		if conf := strings.TrimSpace(req.BankConfirmation); conf != "" {
			st.BankConfirmation = conf
		}
	})
	if err != nil {
		return nil, err
	}

	legs, err := s.settlements.ListForTrade(ctx, st.TradeID)
	if err != nil {
		return nil, err
	}
	if domain.AllCompleted(legs) {
		s.logger.Info("trade fully settled", "tradeID", st.TradeID, "orderID", st.OrderID)
		events.Emit(ctx, s.sink, s.logger, events.New(events.TradeSettled, st.TradeID, legs))
	}
	return st, nil
}

func (s *Service) MarkFailed(ctx context.Context, id string, req FailRequest) (*domain.Settlement, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	return s.move(ctx, id, domain.SettlementFailed, func(st *domain.Settlement, _ time.Time) {
		st.Notes = appendNote(st.Notes, "failed: "+reason)
	})
}

// Retry puts a failed leg back to pending.
func (s *Service) Retry(ctx context.Context, id string) (*domain.Settlement, error) {
	return s.move(ctx, id, domain.SettlementPending, func(st *domain.Settlement, _ time.Time) {
		st.ProcessedAt = nil
	})
}

func (s *Service) move(ctx context.Context, id string, to domain.SettlementStatus, mutate func(*domain.Settlement, time.Time)) (*domain.Settlement, error) {
	unlock := s.locks.Lock("settlement:" + id)
	defer unlock()

	st, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := st.Status
	if !from.CanMove(to) {
		return nil, &domain.TransitionError{Entity: "settlement", ID: id, From: string(from), Attempted: string(to)}
	}

	now := s.now().UTC()
	st.Status = to
	st.UpdatedAt = now
	mutate(st, now)

	ok, err := s.settlements.Transition(ctx, st, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.settlements.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &domain.TransitionError{Entity: "settlement", ID: id, From: string(current.Status), Attempted: string(to)}
	}

	s.logger.Info("settlement transitioned", "settlementID", id, "tradeID", st.TradeID, "from", from, "to", to)
	s.changed()
	return st, nil
}

// Calendar groups the legs due in [from, to] by value date.
func (s *Service) Calendar(ctx context.Context, from, to time.Time) ([]CalendarDay, error) {
	from, to = domain.Truncate(from), domain.Truncate(to)
	if to.Before(from) {
		return nil, domain.NewValidationError("to", "must not be before from")
	}
	legs, err := s.settlements.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	days := map[string]*CalendarDay{}
	for _, l := range legs {
		key := l.SettlementDate.Format(domain.DateLayout)
		day, ok := days[key]
		if !ok {
			day = &CalendarDay{Date: key, ByCurrency: map[string]decimal.Decimal{}}
			days[key] = day
		}
		day.Count++
		day.ByCurrency[l.Currency] = day.ByCurrency[l.Currency].Add(l.Amount)
		day.Settlements = append(day.Settlements, l)
	}

	out := make([]CalendarDay, 0, len(days))
	for _, d := range days {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Summary counts what is due today and over the next seven days. Amounts
// are kept per currency since the two legs of a trade never share one.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	today := domain.Truncate(s.now())
	byStatus, err := s.settlements.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement summary: %w", err)
	}
	open, _, err := s.settlements.List(ctx, repository.SettlementFilter{
		Status: string(domain.SettlementPending),
		Limit:  10_000,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement summary: %w", err)
	}

	out := &Summary{
		PendingTodayAmount: map[string]decimal.Decimal{},
		PendingWeekAmount:  map[string]decimal.Decimal{},
		ByStatus:           byStatus,
	}
	weekEnd := today.AddDate(0, 0, 7)
	for _, l := range open {
		switch {
		case l.SettlementDate.Before(today):
			out.Overdue++
		case l.SettlementDate.Equal(today):
			out.PendingTodayCount++
			out.PendingTodayAmount[l.Currency] = out.PendingTodayAmount[l.Currency].Add(l.Amount)
		case !l.SettlementDate.After(weekEnd):
			out.PendingWeekCount++
			out.PendingWeekAmount[l.Currency] = out.PendingWeekAmount[l.Currency].Add(l.Amount)
		}
	}
	return out, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
