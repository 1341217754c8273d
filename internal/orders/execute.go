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
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/repository"
)

var errLostRace = errors.New("order changed concurrently")

type ExecuteRequest struct {
	// ExecutedRate may be left empty when a quote is named or accepted; the
	// quote's side rate is used then.
	ExecutedRate     decimal.Decimal `json:"executed_rate"`
	QuoteID          *string         `json:"quote_id,omitempty"`
	CounterpartyBank string          `json:"counterparty_bank,omitempty"`
	BankReference    string          `json:"bank_reference,omitempty"`
	TradeDate        string          `json:"trade_date,omitempty"`
	ValueDate        string          `json:"value_date,omitempty"`
}

type Execution struct {
	Order       *domain.HedgeOrder  `json:"order"`
	Trade       *domain.Trade       `json:"trade"`
	Settlements []domain.Settlement `json:"settlements,omitempty"`
}

// Execute books the trade for an order and raises the linked exposure's
// hedged amount, all in one transaction. Re-executing an executed order at
// the same rate returns the existing trade.
func (m *Manager) Execute(ctx context.Context, orderID string, req ExecuteRequest) (*Execution, error) {
	out, fresh, err := m.execute(ctx, orderID, req)
	if err != nil {
		return nil, err
	}
	if fresh {
		events.Emit(ctx, m.sink, m.logger, events.New(events.OrderExecuted, out.Order.ID, out))
		m.changed()
	}
	return out, nil
}

// execute runs under the order and exposure locks and reports whether this
// call booked the trade.
func (m *Manager) execute(ctx context.Context, orderID string, req ExecuteRequest) (*Execution, bool, error) {
	if req.ExecutedRate.IsNegative() {
		return nil, false, domain.NewValidationError("executed_rate", "must be positive")
	}

	unlock := m.locks.Lock(orderKey(orderID))
	defer unlock()

	o, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if o.Status == domain.OrderExecuted {
		out, err := m.replay(ctx, o, req)
		return out, false, err
	}
	from := o.Status
	to, err := m.next(o, cmdExecute)
	if err != nil {
		return nil, false, err
	}

	quote, err := m.executionQuote(ctx, o, req.QuoteID)
	if err != nil {
		return nil, false, err
	}
	rate := req.ExecutedRate
	if rate.IsZero() {
		if quote == nil {
			return nil, false, domain.NewValidationError("executed_rate", "is required")
		}
		rate = quote.RateFor(o.Side)
	}

	now := m.now().UTC()
	tradeDate, valueDate, err := tradeDates(req, o, now)
	if err != nil {
		return nil, false, err
	}

	var exposure *domain.Exposure
	if o.ExposureID != nil {
		unlockExposure := m.locks.Lock(*o.ExposureID)
		defer unlockExposure()

		exposure, err = m.exposures.GetByID(ctx, *o.ExposureID)
		if err != nil {
			return nil, false, err
		}
		if !exposure.IsActive(now) {
			return nil, false, fmt.Errorf("exposure %s is %s: %w", exposure.ID, exposure.Status(now), domain.ErrStaleOrder)
		}
		if o.Amount.GreaterThan(exposure.AmountOpen()) {
			return nil, false, fmt.Errorf("order %s for %s exceeds open %s on exposure %s: %w",
				o.ID, o.Amount, exposure.AmountOpen(), exposure.ID, domain.ErrStaleOrder)
		}
	}

	sold, amountSold, bought, amountBought := domain.NewTradeLegs(o.Side, o.Currency, m.cfg.FunctionalCurrency, o.Amount, rate)
	trade := &domain.Trade{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		Side:             o.Side,
		CurrencySold:     sold,
		AmountSold:       amountSold,
		CurrencyBought:   bought,
		AmountBought:     amountBought,
		ExecutedRate:     rate,
		CounterpartyBank: strings.TrimSpace(req.CounterpartyBank),
		BankReference:    strings.TrimSpace(req.BankReference),
		TradeDate:        tradeDate,
		ValueDate:        valueDate,
		CreatedAt:        now,
	}
	if quote != nil {
		trade.QuoteID = &quote.ID
	}

	legs := domain.NewSettlements(trade, now)

	o.Status = to
	o.ExecutedAt = &now
	o.UpdatedAt = now

	err = m.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		orders := m.orders.WithTx(tx)
		ok, err := orders.Transition(ctx, o, from)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		if err := orders.InsertTrade(ctx, trade); err != nil {
			return err
		}
		if err := repository.NewSettlementRepo(tx).InsertAll(ctx, legs); err != nil {
			return err
		}
		if exposure == nil {
			return nil
		}
		next := exposure.AmountHedged.Add(o.Amount)
		ok, err = m.exposures.WithTx(tx).SetHedged(ctx, exposure.ID, exposure.AmountHedged, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("exposure %s moved while executing order %s: %w", exposure.ID, o.ID, domain.ErrStaleOrder)
		}
		exposure.AmountHedged = next
		return nil
	})

	var commitErr *repository.CommitError
	switch {
	case errors.As(err, &commitErr):
		m.logger.Error("order execution commit failed, manual reconciliation required",
			"orderID", o.ID, "tradeID", trade.ID, "error", commitErr.Err)
		return nil, false, fmt.Errorf("order %s: %w: %v", o.ID, domain.ErrReconciliationRequired, commitErr.Err)
	case errors.Is(err, errLostRace):
		return nil, false, m.lost(ctx, orderID, cmdExecute)
	case err != nil:
		return nil, false, err
	}

	attrs := []any{"orderID", o.ID, "tradeID", trade.ID, "rate", rate.String(), "amount", o.Amount.String()}
	if exposure != nil {
		attrs = append(attrs, "exposureID", exposure.ID, "amountHedged", exposure.AmountHedged.String())
	}
	m.logger.Info("order executed", attrs...)

	return &Execution{Order: o, Trade: trade, Settlements: legs}, true, nil
}

// replay answers a retried execute. Only the same rate is a retry; anything
// else is a second execution and is refused.
func (m *Manager) replay(ctx context.Context, o *domain.HedgeOrder, req ExecuteRequest) (*Execution, error) {
	trade, err := m.orders.GetTrade(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if req.ExecutedRate.IsZero() || req.ExecutedRate.Equal(trade.ExecutedRate) {
		m.logger.Info("order already executed, returning existing trade", "orderID", o.ID, "tradeID", trade.ID)
		return &Execution{Order: o, Trade: trade}, nil
	}
	return nil, transitionError(o.ID, o.Status, cmdExecute)
}

// executionQuote returns the named quote, else the accepted one, else nil.
func (m *Manager) executionQuote(ctx context.Context, o *domain.HedgeOrder, quoteID *string) (*domain.Quote, error) {
	var (
		q   *domain.Quote
		err error
	)
	if quoteID != nil && *quoteID != "" {
		q, err = m.orders.GetQuote(ctx, o.ID, *quoteID)
	} else {
		q, err = m.orders.AcceptedQuote(ctx, o.ID)
	}
	if err != nil || q == nil {
		return nil, err
	}
	if err := m.checkQuote(q); err != nil {
		return nil, err
	}
	return q, nil
}

func tradeDates(req ExecuteRequest, o *domain.HedgeOrder, now time.Time) (time.Time, time.Time, error) {
	trade := domain.Truncate(now)
	if req.TradeDate != "" {
		d, err := domain.ParseDate(req.TradeDate)
		if err != nil {
			return time.Time{}, time.Time{}, domain.NewValidationError("trade_date", "must be YYYY-MM-DD")
		}
		trade = d
	}

	value := trade
	if o.SettlementDate != nil && o.SettlementDate.After(trade) {
		value = *o.SettlementDate
	}
	if req.ValueDate != "" {
		d, err := domain.ParseDate(req.ValueDate)
		if err != nil {
			return time.Time{}, time.Time{}, domain.NewValidationError("value_date", "must be YYYY-MM-DD")
		}
		value = d
	}
	if value.Before(trade) {
		return time.Time{}, time.Time{}, domain.NewValidationError("value_date", "must not be before trade_date")
	}
	return trade, value, nil
}
