// Package orders runs the hedge order lifecycle from creation through
// quoting to execution.
package orders

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/marketdata"
	"github.com/wakala/hedger/internal/repository"
)

type command string

const (
	cmdSubmit   command = "submit"
	cmdApprove  command = "approve"
	cmdReject   command = "reject"
	cmdCancel   command = "cancel"
	cmdAddQuote command = "add_quote"
	cmdExecute  command = "execute"
)

// transitions lists every legal (command, from) pair. Submit and
// execute-without-quote depend on the order and config and live in next.
var transitions = map[command]map[domain.OrderStatus]domain.OrderStatus{
	cmdApprove: {
		domain.OrderPendingApproval: domain.OrderApproved,
	},
	cmdReject: {
		domain.OrderPendingApproval: domain.OrderRejected,
		domain.OrderApproved:        domain.OrderRejected,
	},
	cmdCancel: {
		domain.OrderPendingApproval: domain.OrderCancelled,
		domain.OrderApproved:        domain.OrderCancelled,
		domain.OrderQuoted:          domain.OrderCancelled,
	},
	cmdAddQuote: {
		domain.OrderApproved: domain.OrderQuoted,
		domain.OrderQuoted:   domain.OrderQuoted,
	},
	cmdExecute: {
		domain.OrderQuoted: domain.OrderExecuted,
	},
}

var defaultApprovalThreshold = decimal.NewFromInt(100_000)

type Config struct {
	FunctionalCurrency string
	// ApprovalThreshold applies when the order's policy sets none.
	ApprovalThreshold        decimal.Decimal
	AllowExecuteWithoutQuote bool
	QuoteTTL                 time.Duration
}

type Manager struct {
	txm             *repository.TxManager
	orders          *repository.OrderRepo
	exposures       *repository.ExposureRepo
	recommendations *repository.RecommendationRepo
	policies        *repository.PolicyRepo
	market          marketdata.Reader
	sink            events.Sink
	locks           *lock.Keyed
	cfg             Config
	logger          *slog.Logger
	onWrite         []func()
	now             func() time.Time
}

// NewManager wires the order lifecycle. market may be nil, in which case
// manual orders are created without a reference market rate.
func NewManager(
	txm *repository.TxManager,
	orders *repository.OrderRepo,
	exposures *repository.ExposureRepo,
	recommendations *repository.RecommendationRepo,
	policies *repository.PolicyRepo,
	market marketdata.Reader,
	sink events.Sink,
	locks *lock.Keyed,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.FunctionalCurrency == "" {
		cfg.FunctionalCurrency = "COP"
	}
	if cfg.ApprovalThreshold.IsZero() {
		cfg.ApprovalThreshold = defaultApprovalThreshold
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		txm:             txm,
		orders:          orders,
		exposures:       exposures,
		recommendations: recommendations,
		policies:        policies,
		market:          market,
		sink:            sink,
		locks:           locks,
		cfg:             cfg,
		logger:          logger.With("component", "orders"),
		now:             time.Now,
	}
}

// OnWrite registers a hook run after every successful mutation.
func (m *Manager) OnWrite(fn func()) { m.onWrite = append(m.onWrite, fn) }

func (m *Manager) changed() {
	for _, fn := range m.onWrite {
		fn()
	}
}

func orderKey(id string) string { return "order:" + id }

// next resolves the target state of cmd, or a state error naming both.
func (m *Manager) next(o *domain.HedgeOrder, cmd command) (domain.OrderStatus, error) {
	switch {
	case cmd == cmdSubmit && o.Status == domain.OrderDraft:
		if o.RequiresApproval {
			return domain.OrderPendingApproval, nil
		}
		return domain.OrderApproved, nil
	case cmd == cmdExecute && o.Status == domain.OrderApproved && m.cfg.AllowExecuteWithoutQuote:
		return domain.OrderExecuted, nil
	}
	if to, ok := transitions[cmd][o.Status]; ok {
		return to, nil
	}
	return "", transitionError(o.ID, o.Status, cmd)
}

func transitionError(id string, from domain.OrderStatus, cmd command) error {
	te := &domain.TransitionError{Entity: "order", ID: id, From: string(from), Attempted: string(cmd)}
	if from == domain.OrderCancelled && cmd == cmdAddQuote {
		return fmt.Errorf("%w; %w", te, domain.ErrStale)
	}
	return te
}

// lost reports a version-guard miss: someone moved the order first.
func (m *Manager) lost(ctx context.Context, id string, cmd command) error {
	current, err := m.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(id, current.Status, cmd)
}

// transition applies a simple status command under the order's lock.
// mutate may adjust the other mutable fields before persisting.
func (m *Manager) transition(ctx context.Context, id string, cmd command, mutate func(o *domain.HedgeOrder, now time.Time)) (*domain.HedgeOrder, error) {
	unlock := m.locks.Lock(orderKey(id))
	defer unlock()

	o, err := m.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	to, err := m.next(o, cmd)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	o.Status = to
	o.UpdatedAt = now
	if mutate != nil {
		mutate(o, now)
	}
	ok, err := m.orders.Transition(ctx, o, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.lost(ctx, id, cmd)
	}

	m.logger.Info("order transitioned", "orderID", o.ID, "command", cmd, "from", from, "to", to)
	m.changed()
	return o, nil
}

func appendNote(notes, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return notes
	case notes == "":
		return note
	default:
		return notes + "\n" + note
	}
}

func (m *Manager) threshold(p *domain.HedgePolicy) decimal.Decimal {
	if p != nil && p.RequireApprovalAbove != nil {
		return *p.RequireApprovalAbove
	}
	return m.cfg.ApprovalThreshold
}

func (m *Manager) newReference(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	return "ORD-" + now.Format("20060102") + "-" + id[len(id)-10:]
}

// typeFor picks spot for settlement within two days and forward otherwise.
func typeFor(settlement, today time.Time) domain.OrderType {
	if domain.DaysBetween(today, settlement) <= 2 {
		return domain.OrderSpot
	}
	return domain.OrderForward
}

// CreateFromRecommendation turns a pending recommendation into an order and
// marks the recommendation accepted in the same transaction.
func (m *Manager) CreateFromRecommendation(ctx context.Context, recommendationID, decidedBy string) (*domain.HedgeOrder, error) {
	rec, err := m.recommendations.GetByID(ctx, recommendationID)
	if err != nil {
		return nil, err
	}

	// Same key the generator holds, so the recommendation cannot be
	// superseded under us.
	unlock := m.locks.Lock(rec.ExposureID)
	defer unlock()

	now := m.now().UTC()
	if rec.IsExpiredAt(now) {
		return nil, fmt.Errorf("recommendation %s expired: %w", rec.ID, domain.ErrStale)
	}
	if rec.Action == domain.ActionWait {
		return nil, &domain.TransitionError{Entity: "recommendation", ID: rec.ID, From: string(rec.Action), Attempted: "accept"}
	}

	e, err := m.exposures.GetByID(ctx, rec.ExposureID)
	if err != nil {
		return nil, err
	}
	if !e.IsActive(now) {
		return nil, fmt.Errorf("exposure %s is %s: %w", e.ID, e.Status(now), domain.ErrStale)
	}
	if rec.AmountToHedge.GreaterThan(e.AmountOpen()) {
		return nil, fmt.Errorf("recommendation %s asks for %s but only %s is open: %w",
			rec.ID, rec.AmountToHedge, e.AmountOpen(), domain.ErrStale)
	}

	p, err := m.policies.GetByID(ctx, rec.PolicyID)
	if err != nil {
		return nil, err
	}

	requires := rec.AmountToHedge.GreaterThan(m.threshold(p))
	status := domain.OrderApproved
	if requires {
		status = domain.OrderPendingApproval
	}
	due := e.DueDate
	o := &domain.HedgeOrder{
		ID:                   uuid.NewString(),
		InternalReference:    m.newReference(now),
		ExposureID:           &e.ID,
		RecommendationID:     &rec.ID,
		OrderType:            typeFor(due, now),
		Side:                 domain.SideFor(e.Type),
		Currency:             e.Currency,
		Amount:               rec.AmountToHedge,
		TargetRate:           rec.SuggestedRate,
		MarketRateAtCreation: rec.CurrentRate,
		Status:               status,
		RequiresApproval:     requires,
		SettlementDate:       &due,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = m.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		ok, err := m.recommendations.WithTx(tx).Decide(ctx, rec.ID,
			domain.RecommendationPending, domain.RecommendationAccepted, now, decidedBy, "")
		if err != nil {
			return err
		}
		if !ok {
			current, err := m.recommendations.WithTx(tx).GetByID(ctx, rec.ID)
			if err != nil {
				return err
			}
			return &domain.TransitionError{Entity: "recommendation", ID: rec.ID, From: string(current.Status), Attempted: "accept"}
		}
		return m.orders.WithTx(tx).Insert(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("order created from recommendation",
		"orderID", o.ID, "reference", o.InternalReference, "recommendationID", rec.ID,
		"amount", o.Amount.String(), "status", o.Status)
	m.changed()
	return o, nil
}

type CreateOrderRequest struct {
	ExposureID     *string          `json:"exposure_id,omitempty"`
	OrderType      string           `json:"order_type"`
	Side           string           `json:"side,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	Amount         decimal.Decimal  `json:"amount"`
	TargetRate     *decimal.Decimal `json:"target_rate,omitempty"`
	LimitRate      *decimal.Decimal `json:"limit_rate,omitempty"`
	SettlementDate string           `json:"settlement_date,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	// Draft keeps the order editable until Submit.
	Draft bool `json:"draft,omitempty"`
}

// Create books a manual order. Linked to an exposure, the side and currency
// come from the exposure and the amount may not exceed what is open.
func (m *Manager) Create(ctx context.Context, req CreateOrderRequest) (*domain.HedgeOrder, error) {
	now := m.now().UTC()

	if !req.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	for field, rate := range map[string]*decimal.Decimal{"target_rate": req.TargetRate, "limit_rate": req.LimitRate} {
		if rate != nil && !rate.IsPositive() {
			return nil, domain.NewValidationError(field, "must be positive")
		}
	}

	o := &domain.HedgeOrder{
		ID:                uuid.NewString(),
		InternalReference: m.newReference(now),
		Amount:            req.Amount,
		TargetRate:        req.TargetRate,
		LimitRate:         req.LimitRate,
		Notes:             strings.TrimSpace(req.Notes),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if req.SettlementDate != "" {
		d, err := domain.ParseDate(req.SettlementDate)
		if err != nil {
			return nil, domain.NewValidationError("settlement_date", "must be YYYY-MM-DD")
		}
		if d.Before(domain.Truncate(now)) {
			return nil, domain.NewValidationError("settlement_date", "must not be in the past")
		}
		o.SettlementDate = &d
	}

	if req.ExposureID != nil && *req.ExposureID != "" {
		e, err := m.exposures.GetByID(ctx, *req.ExposureID)
		if err != nil {
			return nil, err
		}
		if !e.IsActive(now) {
			return nil, fmt.Errorf("exposure %s is %s: %w", e.ID, e.Status(now), domain.ErrStaleOrder)
		}
		if req.Amount.GreaterThan(e.AmountOpen()) {
			return nil, fmt.Errorf("amount %s exceeds open %s on exposure %s: %w",
				req.Amount, e.AmountOpen(), e.ID, domain.ErrStaleOrder)
		}
		o.ExposureID = &e.ID
		o.Currency = e.Currency
		o.Side = domain.SideFor(e.Type)
		if o.SettlementDate == nil {
			due := e.DueDate
			o.SettlementDate = &due
		}
	} else {
		o.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
		if len(o.Currency) != 3 {
			return nil, domain.NewValidationError("currency", "must be a 3-letter ISO code")
		}
		o.Side = domain.OrderSide(strings.ToLower(req.Side))
		if o.Side != domain.SideBuy && o.Side != domain.SideSell {
			return nil, domain.NewValidationError("side", "must be buy or sell")
		}
	}

	o.OrderType = domain.OrderType(strings.ToLower(req.OrderType))
	if req.OrderType == "" {
		o.OrderType = domain.OrderForward
		if o.SettlementDate != nil {
			o.OrderType = typeFor(*o.SettlementDate, now)
		}
	}
	if !o.OrderType.Valid() {
		return nil, domain.NewValidationError("order_type", "must be spot, forward or ndf")
	}

	if m.market != nil {
		if r := m.market.Read(ctx, o.Currency, m.cfg.FunctionalCurrency); r.HasSpot {
			spot := r.Spot
			o.MarketRateAtCreation = &spot
		}
	}

	o.RequiresApproval = o.Amount.GreaterThan(m.cfg.ApprovalThreshold)
	switch {
	case req.Draft:
		o.Status = domain.OrderDraft
	case o.RequiresApproval:
		o.Status = domain.OrderPendingApproval
	default:
		o.Status = domain.OrderApproved
	}

	if err := m.orders.Insert(ctx, o); err != nil {
		return nil, err
	}
	m.logger.Info("order created", "orderID", o.ID, "reference", o.InternalReference,
		"amount", o.Amount.String(), "currency", o.Currency, "status", o.Status)
	m.changed()
	return o, nil
}

// Submit moves a draft into approval, or straight to approved when the
// amount needs none.
func (m *Manager) Submit(ctx context.Context, id string) (*domain.HedgeOrder, error) {
	return m.transition(ctx, id, cmdSubmit, nil)
}

func (m *Manager) Approve(ctx context.Context, id, approvedBy string) (*domain.HedgeOrder, error) {
	if strings.TrimSpace(approvedBy) == "" {
		return nil, domain.NewValidationError("approved_by", "is required")
	}
	return m.transition(ctx, id, cmdApprove, func(o *domain.HedgeOrder, now time.Time) {
		o.ApprovedBy = approvedBy
		o.ApprovedAt = &now
	})
}

func (m *Manager) Reject(ctx context.Context, id, reason string) (*domain.HedgeOrder, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	return m.transition(ctx, id, cmdReject, func(o *domain.HedgeOrder, _ time.Time) {
		o.Notes = appendNote(o.Notes, "rejected: "+reason)
	})
}

// Cancel succeeds only while the order has not been executed.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*domain.HedgeOrder, error) {
	return m.transition(ctx, id, cmdCancel, func(o *domain.HedgeOrder, _ time.Time) {
		if reason != "" {
			o.Notes = appendNote(o.Notes, "cancelled: "+reason)
		}
	})
}

func (m *Manager) Get(ctx context.Context, id string) (*domain.HedgeOrder, error) {
	return m.orders.GetByID(ctx, id)
}

func (m *Manager) List(ctx context.Context, f repository.OrderFilter) ([]domain.HedgeOrder, int, error) {
	return m.orders.List(ctx, f)
}

func (m *Manager) Quotes(ctx context.Context, orderID string) ([]domain.Quote, error) {
	if _, err := m.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return m.orders.ListQuotes(ctx, orderID)
}

func (m *Manager) Trade(ctx context.Context, orderID string) (*domain.Trade, error) {
	return m.orders.GetTrade(ctx, orderID)
}

type Summary struct {
	ByStatus              map[domain.OrderStatus]int `json:"by_status"`
	PendingApprovalCount  int                        `json:"pending_approval_count"`
	PendingApprovalAmount decimal.Decimal            `json:"pending_approval_amount"`
	ExecutedToday         int                        `json:"executed_today"`
}

func (m *Manager) Summary(ctx context.Context) (*Summary, error) {
	stats, err := m.orders.Stats(ctx, m.now())
	if err != nil {
		return nil, err
	}
	out := &Summary{ByStatus: stats.ByStatus, ExecutedToday: stats.ExecutedToday}
	for _, a := range stats.PendingAmounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return nil, fmt.Errorf("pending amount %q: %w", a, err)
		}
		out.PendingApprovalAmount = out.PendingApprovalAmount.Add(d)
		out.PendingApprovalCount++
	}
	return out, nil
}
