package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

type QuoteRequest struct {
	Provider          string           `json:"provider"`
	ProviderReference string           `json:"provider_reference,omitempty"`
	BidRate           *decimal.Decimal `json:"bid_rate,omitempty"`
	AskRate           *decimal.Decimal `json:"ask_rate,omitempty"`
	// Amount defaults to the order amount.
	Amount *decimal.Decimal `json:"amount,omitempty"`
	// ValidUntil defaults to now plus the configured quote TTL.
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

func (m *Manager) quoteFrom(o *domain.HedgeOrder, req QuoteRequest, now time.Time) (*domain.Quote, error) {
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return nil, domain.NewValidationError("provider", "is required")
	}
	if req.BidRate == nil && req.AskRate == nil {
		return nil, domain.NewValidationError("bid_rate", "a bid or ask rate is required")
	}
	if req.BidRate != nil && !req.BidRate.IsPositive() {
		return nil, domain.NewValidationError("bid_rate", "must be positive")
	}
	if req.AskRate != nil && !req.AskRate.IsPositive() {
		return nil, domain.NewValidationError("ask_rate", "must be positive")
	}
	if req.BidRate != nil && req.AskRate != nil && req.AskRate.LessThan(*req.BidRate) {
		return nil, domain.NewValidationError("ask_rate", "must not be below bid_rate")
	}

	q := &domain.Quote{
		ID:                uuid.NewString(),
		OrderID:           o.ID,
		Provider:          provider,
		ProviderReference: strings.TrimSpace(req.ProviderReference),
		BidRate:           req.BidRate,
		AskRate:           req.AskRate,
		Amount:            o.Amount,
		ValidUntil:        now.Add(m.cfg.QuoteTTL),
		CreatedAt:         now,
	}
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, domain.NewValidationError("amount", "must be positive")
		}
		q.Amount = *req.Amount
	}
	if req.ValidUntil != nil {
		if !req.ValidUntil.After(now) {
			return nil, domain.NewValidationError("valid_until", "must be in the future")
		}
		q.ValidUntil = req.ValidUntil.UTC()
	}
	q.PriceQuote()
	return q, nil
}

// AddQuote attaches a dealer quote. The first quote on an approved order
// moves it to quoted; later ones keep it there.
func (m *Manager) AddQuote(ctx context.Context, orderID string, req QuoteRequest) (*domain.Quote, error) {
	unlock := m.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := o.Status
	to, err := m.next(o, cmdAddQuote)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	q, err := m.quoteFrom(o, req, now)
	if err != nil {
		return nil, err
	}

	o.Status = to
	o.UpdatedAt = now
	err = m.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		repo := m.orders.WithTx(tx)
		ok, err := repo.Transition(ctx, o, from)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		return repo.InsertQuote(ctx, q)
	})
	if errors.Is(err, errLostRace) {
		return nil, m.lost(ctx, orderID, cmdAddQuote)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("quote added", "orderID", o.ID, "quoteID", q.ID, "provider", q.Provider,
		"mid", q.MidRate.String(), "validUntil", q.ValidUntil)
	m.changed()
	return q, nil
}

// AcceptQuote picks the quote the order will execute against. An expired
// quote is stale and must be requested again.
func (m *Manager) AcceptQuote(ctx context.Context, orderID, quoteID string) (*domain.Quote, error) {
	unlock := m.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderQuoted {
		return nil, transitionError(o.ID, o.Status, "accept_quote")
	}
	q, err := m.orders.GetQuote(ctx, orderID, quoteID)
	if err != nil {
		return nil, err
	}
	if err := m.checkQuote(q); err != nil {
		return nil, err
	}
	err = m.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		return m.orders.WithTx(tx).AcceptQuote(ctx, orderID, quoteID)
	})
	if err != nil {
		return nil, err
	}
	q.IsAccepted = true
	m.logger.Info("quote accepted", "orderID", orderID, "quoteID", quoteID)
	m.changed()
	return q, nil
}

func (m *Manager) checkQuote(q *domain.Quote) error {
	if !m.now().Before(q.ValidUntil) {
		return fmt.Errorf("quote %s expired at %s, request a new one: %w",
			q.ID, q.ValidUntil.Format(time.RFC3339), domain.ErrStale)
	}
	return nil
}
