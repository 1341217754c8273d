package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "pending"
	SettlementProcessing SettlementStatus = "processing"
	SettlementCompleted  SettlementStatus = "completed"
	SettlementFailed     SettlementStatus = "failed"
)

// SettlementDirection says whether the leg leaves or enters our accounts.
type SettlementDirection string

const (
	DirectionPay     SettlementDirection = "pay"
	DirectionReceive SettlementDirection = "receive"
)

// Settlement is one currency leg of a trade moving on its value date.
type Settlement struct {
	ID               string              `json:"id"`
	TradeID          string              `json:"trade_id"`
	OrderID          string              `json:"order_id"`
	Direction        SettlementDirection `json:"direction"`
	Currency         string              `json:"currency"`
	Amount           decimal.Decimal     `json:"amount"`
	SettlementDate   time.Time           `json:"settlement_date"`
	Status           SettlementStatus    `json:"status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	BankConfirmation string              `json:"bank_confirmation,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	ConfirmedAt      *time.Time          `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewSettlements splits a trade into its pay and receive legs, both due on
// the trade's value date.
func NewSettlements(t *Trade, now time.Time) []Settlement {
	leg := func(dir SettlementDirection, currency string, amount decimal.Decimal) Settlement {
		return Settlement{
			ID:             uuid.NewString(),
			TradeID:        t.ID,
			OrderID:        t.OrderID,
			Direction:      dir,
			Currency:       currency,
			Amount:         amount,
			SettlementDate: t.ValueDate,
			Status:         SettlementPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	return []Settlement{
		leg(DirectionPay, t.CurrencySold, t.AmountSold),
		leg(DirectionReceive, t.CurrencyBought, t.AmountBought),
	}
}

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementPending:    {SettlementProcessing, SettlementFailed},
	SettlementProcessing: {SettlementCompleted, SettlementFailed},
	SettlementFailed:     {SettlementPending},
}

// CanMove reports whether a settlement may go from s to next. Completed is
// terminal; a failed leg can only be put back to pending for a retry.
func (s SettlementStatus) CanMove(next SettlementStatus) bool {
	for _, to := range settlementTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// AllCompleted reports whether every leg has settled.
func AllCompleted(legs []Settlement) bool {
	if len(legs) == 0 {
		return false
	}
	for _, l := range legs {
		if l.Status != SettlementCompleted {
			return false
		}
	}
	return true
}
