package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExposureType string

const (
	ExposurePayable    ExposureType = "payable"
	ExposureReceivable ExposureType = "receivable"
)

func (t ExposureType) Valid() bool {
	return t == ExposurePayable || t == ExposureReceivable
}

type ExposureStatus string

const (
	ExposureOpen            ExposureStatus = "open"
	ExposurePartiallyHedged ExposureStatus = "partially_hedged"
	ExposureFullyHedged     ExposureStatus = "fully_hedged"
	ExposureSettled         ExposureStatus = "settled"
	ExposureCancelled       ExposureStatus = "cancelled"
)

type ExposureSource string

const (
	SourceManual    ExposureSource = "manual"
	SourceCSVUpload ExposureSource = "csv_upload"
)

// DateLayout is the only accepted wire format for due and invoice dates.
const DateLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

// Exposure is a single foreign-currency payable or receivable.
// AmountHedged only moves through order execution.
type Exposure struct {
	ID             string          `json:"id"`
	CounterpartyID *string         `json:"counterparty_id,omitempty"`
	Type           ExposureType    `json:"exposure_type"`
	Reference      string          `json:"reference"`
	Description    string          `json:"description,omitempty"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	AmountHedged   decimal.Decimal `json:"amount_hedged"`
	DueDate        time.Time       `json:"due_date"`
	InvoiceDate    *time.Time      `json:"invoice_date,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Source         ExposureSource  `json:"source"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AmountOpen is the part of the exposure not yet covered by executed trades.
func (e *Exposure) AmountOpen() decimal.Decimal {
	return e.Amount.Sub(e.AmountHedged)
}

// HedgePercentage is AmountHedged / Amount * 100, rounded to 2 dp.
func (e *Exposure) HedgePercentage() decimal.Decimal {
	if e.Amount.IsZero() {
		return decimal.Zero
	}
	return e.AmountHedged.Div(e.Amount).Mul(hundred).Round(2)
}

// DaysToMaturity counts whole calendar days from today to the due date.
// Negative once the exposure has matured.
func (e *Exposure) DaysToMaturity(today time.Time) int {
	return DaysBetween(today, e.DueDate)
}

// Status derives the lifecycle state. Nothing stores it authoritatively.
func (e *Exposure) Status(today time.Time) ExposureStatus {
	switch {
	case e.CancelledAt != nil:
		return ExposureCancelled
	case e.DueDate.Before(Truncate(today)):
		return ExposureSettled
	}
	switch {
	case e.AmountHedged.GreaterThanOrEqual(e.Amount):
		return ExposureFullyHedged
	case e.AmountHedged.IsPositive():
		return ExposurePartiallyHedged
	default:
		return ExposureOpen
	}
}

// IsActive reports whether the exposure still takes part in coverage math.
func (e *Exposure) IsActive(today time.Time) bool {
	s := e.Status(today)
	return s != ExposureCancelled && s != ExposureSettled
}

// Truncate drops the clock part of t, keeping the calendar date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from a to b, both truncated to dates.
func DaysBetween(a, b time.Time) int {
	return int(Truncate(b).Sub(Truncate(a)).Hours() / 24)
}

// ParseDate accepts YYYY-MM-DD only.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewValidationError("date", "must be YYYY-MM-DD, got "+s)
	}
	return t, nil
}
