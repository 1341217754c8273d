package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderDraft           OrderStatus = "draft"
	OrderPendingApproval OrderStatus = "pending_approval"
	OrderApproved        OrderStatus = "approved"
	OrderQuoted          OrderStatus = "quoted"
	OrderExecuted        OrderStatus = "executed"
	OrderRejected        OrderStatus = "rejected"
	OrderCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderExecuted || s == OrderRejected || s == OrderCancelled
}

type OrderType string

const (
	OrderSpot    OrderType = "spot"
	OrderForward OrderType = "forward"
	OrderNDF     OrderType = "ndf"
)

func (t OrderType) Valid() bool {
	return t == OrderSpot || t == OrderForward || t == OrderNDF
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// SideFor is buy for payables (we need the currency) and sell for receivables.
func SideFor(t ExposureType) OrderSide {
	if t == ExposureReceivable {
		return SideSell
	}
	return SideBuy
}

type HedgeOrder struct {
	ID                   string           `json:"id"`
	InternalReference    string           `json:"internal_reference"`
	ExposureID           *string          `json:"exposure_id,omitempty"`
	RecommendationID     *string          `json:"recommendation_id,omitempty"`
	OrderType            OrderType        `json:"order_type"`
	Side                 OrderSide        `json:"side"`
	Currency             string           `json:"currency"`
	Amount               decimal.Decimal  `json:"amount"`
	TargetRate           *decimal.Decimal `json:"target_rate,omitempty"`
	LimitRate            *decimal.Decimal `json:"limit_rate,omitempty"`
	MarketRateAtCreation *decimal.Decimal `json:"market_rate_at_creation,omitempty"`
	Status               OrderStatus      `json:"status"`
	RequiresApproval     bool             `json:"requires_approval"`
	ApprovedBy           string           `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time       `json:"approved_at,omitempty"`
	SettlementDate       *time.Time       `json:"settlement_date,omitempty"`
	ExecutedAt           *time.Time       `json:"executed_at,omitempty"`
	Notes                string           `json:"notes,omitempty"`
	Version              int              `json:"version"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

type Quote struct {
	ID                string           `json:"id"`
	OrderID           string           `json:"order_id"`
	Provider          string           `json:"provider"`
	ProviderReference string           `json:"provider_reference,omitempty"`
	BidRate           *decimal.Decimal `json:"bid_rate,omitempty"`
	AskRate           *decimal.Decimal `json:"ask_rate,omitempty"`
	MidRate           decimal.Decimal  `json:"mid_rate"`
	Spread            *decimal.Decimal `json:"spread,omitempty"`
	Amount            decimal.Decimal  `json:"amount"`
	ValidUntil        time.Time        `json:"valid_until"`
	IsAccepted        bool             `json:"is_accepted"`
	CreatedAt         time.Time        `json:"created_at"`
}

// PriceQuote fills MidRate and Spread from whichever sides are present.
func (q *Quote) PriceQuote() {
	switch {
	case q.BidRate != nil && q.AskRate != nil:
		q.MidRate = q.BidRate.Add(*q.AskRate).Div(decimal.NewFromInt(2))
		spread := q.AskRate.Sub(*q.BidRate)
		q.Spread = &spread
	case q.BidRate != nil:
		q.MidRate = *q.BidRate
	case q.AskRate != nil:
		q.MidRate = *q.AskRate
	}
}

// RateFor picks the side of the quote the order would trade on.
func (q *Quote) RateFor(side OrderSide) decimal.Decimal {
	if side == SideBuy && q.AskRate != nil {
		return *q.AskRate
	}
	if side == SideSell && q.BidRate != nil {
		return *q.BidRate
	}
	return q.MidRate
}

type Trade struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	QuoteID          *string         `json:"quote_id,omitempty"`
	Side             OrderSide       `json:"side"`
	CurrencySold     string          `json:"currency_sold"`
	AmountSold       decimal.Decimal `json:"amount_sold"`
	CurrencyBought   string          `json:"currency_bought"`
	AmountBought     decimal.Decimal `json:"amount_bought"`
	ExecutedRate     decimal.Decimal `json:"executed_rate"`
	CounterpartyBank string          `json:"counterparty_bank,omitempty"`
	BankReference    string          `json:"bank_reference,omitempty"`
	TradeDate        time.Time       `json:"trade_date"`
	ValueDate        time.Time       `json:"value_date"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewTradeLegs computes the two currency legs of an execution. The order
// amount is always denominated in the exposure currency.
func NewTradeLegs(side OrderSide, currency, functional string, amount, rate decimal.Decimal) (sold string, amountSold decimal.Decimal, bought string, amountBought decimal.Decimal) {
	counter := amount.Mul(rate).Round(2)
	if side == SideBuy {
		return functional, counter, currency, amount
	}
	return currency, amount, functional, counter
}
