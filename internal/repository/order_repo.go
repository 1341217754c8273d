package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/hedger/internal/domain"
)

const orderColumns = `id, internal_reference, exposure_id, recommendation_id, order_type, side, currency,
	amount, target_rate, limit_rate, market_rate_at_creation, status, requires_approval, approved_by,
	approved_at, settlement_date, executed_at, notes, version, created_at, updated_at`

const quoteColumns = `id, order_id, provider, provider_reference, bid_rate, ask_rate, mid_rate, spread,
	amount, valid_until, is_accepted, created_at`

const tradeColumns = `id, order_id, quote_id, side, currency_sold, amount_sold, currency_bought,
	amount_bought, executed_rate, counterparty_bank, bank_reference, trade_date, value_date, created_at`

// OrderRepo persists orders together with their quotes and trade.
type OrderRepo struct {
	db DBTX
}

func NewOrderRepo(db DBTX) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) WithTx(tx *sql.Tx) *OrderRepo {
	return &OrderRepo{db: tx}
}

func (r *OrderRepo) Insert(ctx context.Context, o *domain.HedgeOrder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hedge_orders (`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.InternalReference, nullableString(o.ExposureID), nullableString(o.RecommendationID),
		string(o.OrderType), string(o.Side), o.Currency, o.Amount.String(),
		formatNullableDecimal(o.TargetRate), formatNullableDecimal(o.LimitRate),
		formatNullableDecimal(o.MarketRateAtCreation), string(o.Status), boolInt(o.RequiresApproval),
		o.ApprovedBy, formatNullableTime(o.ApprovedAt), formatNullableDate(o.SettlementDate),
		formatNullableTime(o.ExecutedAt), o.Notes, o.Version, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("order reference %s already exists: %w", o.InternalReference, domain.ErrConflict)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Transition persists o's mutable fields only if the stored row is still at
// (from, o.Version). On success o.Version is advanced.
func (r *OrderRepo) Transition(ctx context.Context, o *domain.HedgeOrder, from domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE hedge_orders SET status = ?, requires_approval = ?, approved_by = ?, approved_at = ?,
			executed_at = ?, notes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?`,
		string(o.Status), boolInt(o.RequiresApproval), o.ApprovedBy, formatNullableTime(o.ApprovedAt),
		formatNullableTime(o.ExecutedAt), o.Notes, formatTime(o.UpdatedAt),
		o.ID, string(from), o.Version,
	)
	if err != nil {
		return false, fmt.Errorf("transition order: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	if n == 1 {
		o.Version++
	}
	return n == 1, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.HedgeOrder, error) {
	return readRetry(ctx, r.db, func() (*domain.HedgeOrder, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM hedge_orders WHERE id = ?", id)
		o, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("order", id)
		}
		return o, err
	})
}

type OrderFilter struct {
	Status     string
	ExposureID string
	Currency   string
	Page       int
	Limit      int
}

func (r *OrderRepo) List(ctx context.Context, f OrderFilter) ([]domain.HedgeOrder, int, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.ExposureID != "" {
		clauses = append(clauses, "exposure_id = ?")
		args = append(args, f.ExposureID)
	}
	if f.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, strings.ToUpper(f.Currency))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM hedge_orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	var offset int
	f.Page, f.Limit, offset = pageBounds(f.Page, f.Limit)
	args = append(args, f.Limit, offset)

	orders, err := readRetry(ctx, r.db, func() ([]domain.HedgeOrder, error) {
		rows, err := r.db.QueryContext(ctx,
			"SELECT "+orderColumns+" FROM hedge_orders"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?", args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var out []domain.HedgeOrder
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, *o)
		}
		return out, rows.Err()
	})
	return orders, total, err
}

// OrderStats is the raw material for the order summary.
type OrderStats struct {
	ByStatus       map[domain.OrderStatus]int
	PendingAmounts []string
	ExecutedToday  int
}

func (r *OrderRepo) Stats(ctx context.Context, today time.Time) (*OrderStats, error) {
	s := &OrderStats{ByStatus: map[domain.OrderStatus]int{}}

	rows, err := r.db.QueryContext(ctx, `SELECT status, amount, COALESCE(executed_at, '') FROM hedge_orders`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	dayStart := formatTime(domain.Truncate(today))
	for rows.Next() {
		var status, amount, executedAt string
		if err := rows.Scan(&status, &amount, &executedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		st := domain.OrderStatus(status)
		s.ByStatus[st]++
		if st == domain.OrderPendingApproval {
			s.PendingAmounts = append(s.PendingAmounts, amount)
		}
		if st == domain.OrderExecuted && executedAt >= dayStart {
			s.ExecutedToday++
		}
	}
	return s, rows.Err()
}

// --- quotes ---

func (r *OrderRepo) InsertQuote(ctx context.Context, q *domain.Quote) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO quotes (`+quoteColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		q.ID, q.OrderID, q.Provider, q.ProviderReference, formatNullableDecimal(q.BidRate),
		formatNullableDecimal(q.AskRate), q.MidRate.String(), formatNullableDecimal(q.Spread),
		q.Amount.String(), formatTime(q.ValidUntil), boolInt(q.IsAccepted), formatTime(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetQuote(ctx context.Context, orderID, quoteID string) (*domain.Quote, error) {
	return readRetry(ctx, r.db, func() (*domain.Quote, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+quoteColumns+" FROM quotes WHERE id = ? AND order_id = ?", quoteID, orderID)
		q, err := scanQuote(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("quote", quoteID)
		}
		return q, err
	})
}

func (r *OrderRepo) ListQuotes(ctx context.Context, orderID string) ([]domain.Quote, error) {
	return readRetry(ctx, r.db, func() ([]domain.Quote, error) {
		rows, err := r.db.QueryContext(ctx, "SELECT "+quoteColumns+" FROM quotes WHERE order_id = ? ORDER BY created_at ASC", orderID)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var out []domain.Quote
		for rows.Next() {
			q, err := scanQuote(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, *q)
		}
		return out, rows.Err()
	})
}

// AcceptQuote flags exactly one quote of the order as accepted.
func (r *OrderRepo) AcceptQuote(ctx context.Context, orderID, quoteID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE quotes SET is_accepted = 0 WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("clear accepted quote: %w", err)
	}
	res, err := r.db.ExecContext(ctx, "UPDATE quotes SET is_accepted = 1 WHERE id = ? AND order_id = ?", quoteID, orderID)
	if err != nil {
		return fmt.Errorf("accept quote: %w", err)
	}
	return expectOneRow(res, domain.NotFound("quote", quoteID))
}

// AcceptedQuote returns the accepted quote, or nil.
func (r *OrderRepo) AcceptedQuote(ctx context.Context, orderID string) (*domain.Quote, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+quoteColumns+" FROM quotes WHERE order_id = ? AND is_accepted = 1", orderID)
	q, err := scanQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

// --- trades ---

// InsertTrade fails with ErrConflict if the order already has a trade.
func (r *OrderRepo) InsertTrade(ctx context.Context, t *domain.Trade) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades (`+tradeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrderID, nullableString(t.QuoteID), string(t.Side), t.CurrencySold, t.AmountSold.String(),
		t.CurrencyBought, t.AmountBought.String(), t.ExecutedRate.String(), t.CounterpartyBank,
		t.BankReference, t.TradeDate.Format(dateLayout), t.ValueDate.Format(dateLayout), formatTime(t.CreatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("order %s already has a trade: %w", t.OrderID, domain.ErrConflict)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetTrade(ctx context.Context, orderID string) (*domain.Trade, error) {
	return readRetry(ctx, r.db, func() (*domain.Trade, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE order_id = ?", orderID)
		t, err := scanTrade(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("trade for order", orderID)
		}
		return t, err
	})
}

func (r *OrderRepo) CountTrades(ctx context.Context, orderID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades WHERE order_id = ?", orderID).Scan(&n)
	return n, err
}

// --- scanning ---

func scanOrder(s scanner) (*domain.HedgeOrder, error) {
	var o domain.HedgeOrder
	var exposureID, recID, targetRate, limitRate, marketRate, approvedAt, settlementDate, executedAt sql.NullString
	var orderType, side, amount, status, createdAt, updatedAt string
	var requiresApproval int

	err := s.Scan(
		&o.ID, &o.InternalReference, &exposureID, &recID, &orderType, &side, &o.Currency,
		&amount, &targetRate, &limitRate, &marketRate, &status, &requiresApproval, &o.ApprovedBy,
		&approvedAt, &settlementDate, &executedAt, &o.Notes, &o.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.ExposureID = parseNullableString(exposureID)
	o.RecommendationID = parseNullableString(recID)
	o.OrderType = domain.OrderType(orderType)
	o.Side = domain.OrderSide(side)
	o.Amount = parseDecimal(amount)
	o.TargetRate = parseNullableDecimal(targetRate)
	o.LimitRate = parseNullableDecimal(limitRate)
	o.MarketRateAtCreation = parseNullableDecimal(marketRate)
	o.Status = domain.OrderStatus(status)
	o.RequiresApproval = requiresApproval == 1
	o.ApprovedAt = parseNullableTime(approvedAt)
	o.SettlementDate = parseNullableDate(settlementDate)
	o.ExecutedAt = parseNullableTime(executedAt)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func scanQuote(s scanner) (*domain.Quote, error) {
	var q domain.Quote
	var bid, ask, spread sql.NullString
	var mid, amount, validUntil, createdAt string
	var accepted int

	err := s.Scan(&q.ID, &q.OrderID, &q.Provider, &q.ProviderReference, &bid, &ask, &mid, &spread,
		&amount, &validUntil, &accepted, &createdAt)
	if err != nil {
		return nil, err
	}
	q.BidRate = parseNullableDecimal(bid)
	q.AskRate = parseNullableDecimal(ask)
	q.MidRate = parseDecimal(mid)
	q.Spread = parseNullableDecimal(spread)
	q.Amount = parseDecimal(amount)
	q.ValidUntil = parseTime(validUntil)
	q.IsAccepted = accepted == 1
	q.CreatedAt = parseTime(createdAt)
	return &q, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	var t domain.Trade
	var quoteID sql.NullString
	var side, amountSold, amountBought, rate, tradeDate, valueDate, createdAt string

	err := s.Scan(&t.ID, &t.OrderID, &quoteID, &side, &t.CurrencySold, &amountSold, &t.CurrencyBought,
		&amountBought, &rate, &t.CounterpartyBank, &t.BankReference, &tradeDate, &valueDate, &createdAt)
	if err != nil {
		return nil, err
	}
	t.QuoteID = parseNullableString(quoteID)
	t.Side = domain.OrderSide(side)
	t.AmountSold = parseDecimal(amountSold)
	t.AmountBought = parseDecimal(amountBought)
	t.ExecutedRate = parseDecimal(rate)
	t.TradeDate = parseDate(tradeDate)
	t.ValueDate = parseDate(valueDate)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}
