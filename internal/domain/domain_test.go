package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)

func exposure(amount, hedged int64, dueIn int) *Exposure {
	return &Exposure{
		Type:         ExposurePayable,
		Currency:     "USD",
		Amount:       decimal.NewFromInt(amount),
		AmountHedged: decimal.NewFromInt(hedged),
		DueDate:      Truncate(today).AddDate(0, 0, dueIn),
	}
}

func TestExposureStatus(t *testing.T) {
	t.Parallel()

	cancelled := exposure(100, 0, 10)
	now := time.Now()
	cancelled.CancelledAt = &now

	tests := []struct {
		name string
		e    *Exposure
		want ExposureStatus
	}{
		{"open", exposure(100, 0, 10), ExposureOpen},
		{"partial", exposure(100, 40, 10), ExposurePartiallyHedged},
		{"full", exposure(100, 100, 10), ExposureFullyHedged},
		{"due today is still active", exposure(100, 0, 0), ExposureOpen},
		{"matured", exposure(100, 40, -1), ExposureSettled},
		{"cancelled wins", cancelled, ExposureCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.Status(today))
		})
	}
}

func TestExposureStatusIgnoresPercentageRounding(t *testing.T) {
	t.Parallel()

	e := exposure(1000000, 0, 10)
	e.AmountHedged = decimal.RequireFromString("999999.99")
	assert.Equal(t, "100", e.HedgePercentage().String())
	assert.Equal(t, ExposurePartiallyHedged, e.Status(today))
}

func TestExposureDerivedAmounts(t *testing.T) {
	t.Parallel()

	e := exposure(100000, 75000, 45)
	assert.True(t, e.AmountOpen().Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, "75", e.HedgePercentage().String())
	assert.Equal(t, 45, e.DaysToMaturity(today))
	assert.True(t, e.IsActive(today))
}

func TestHorizonFor(t *testing.T) {
	t.Parallel()

	cases := map[int]Horizon{
		-5: Horizon0to30, 0: Horizon0to30, 30: Horizon0to30,
		31: Horizon31to60, 60: Horizon31to60,
		61: Horizon61to90, 90: Horizon61to90,
		91: Horizon91Plus, 400: Horizon91Plus,
	}
	for days, want := range cases {
		assert.Equal(t, want, HorizonFor(days), "days=%d", days)
	}
}

func TestUrgencyMonotonicAsDaysShrink(t *testing.T) {
	t.Parallel()

	prev := UrgencyFor(365)
	for d := 364; d >= 0; d-- {
		u := UrgencyFor(d)
		assert.GreaterOrEqual(t, urgencyRank[u], urgencyRank[prev], "days=%d", d)
		prev = u
	}
	assert.Equal(t, UrgencyCritical, UrgencyFor(7))
	assert.Equal(t, UrgencyHigh, UrgencyFor(8))
	assert.Equal(t, UrgencyNormal, UrgencyFor(45))
	assert.Equal(t, UrgencyLow, UrgencyFor(91))
	assert.Equal(t, UrgencyHigh, MaxUrgency(UrgencyNormal, UrgencyHigh))
	assert.Equal(t, UrgencyHigh, MaxUrgency(UrgencyHigh, UrgencyLow))
}

func TestCoverageRulesValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultCoverageRules().Validate())

	bad := CoverageRules{"0-45": decimal.NewFromInt(10)}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	over := CoverageRules{Horizon0to30: decimal.NewFromInt(101)}
	assert.Error(t, over.Validate())

	assert.True(t, CoverageRules{}.Target(Horizon91Plus).IsZero())
}

func TestQuotePricing(t *testing.T) {
	t.Parallel()

	bid, ask := decimal.RequireFromString("4190"), decimal.RequireFromString("4210")
	q := Quote{BidRate: &bid, AskRate: &ask}
	q.PriceQuote()
	assert.Equal(t, "4200", q.MidRate.String())
	require.NotNil(t, q.Spread)
	assert.Equal(t, "20", q.Spread.String())
	assert.True(t, q.RateFor(SideBuy).Equal(ask))
	assert.True(t, q.RateFor(SideSell).Equal(bid))

	one := Quote{AskRate: &ask}
	one.PriceQuote()
	assert.True(t, one.MidRate.Equal(ask))
	assert.Nil(t, one.Spread)
}

func TestTradeLegs(t *testing.T) {
	t.Parallel()

	sold, amtSold, bought, amtBought := NewTradeLegs(SideBuy, "USD", "COP",
		decimal.NewFromInt(75000), decimal.NewFromInt(4200))
	assert.Equal(t, "COP", sold)
	assert.Equal(t, "315000000", amtSold.String())
	assert.Equal(t, "USD", bought)
	assert.Equal(t, "75000", amtBought.String())

	sold, _, bought, _ = NewTradeLegs(SideSell, "USD", "COP", decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.Equal(t, "USD", sold)
	assert.Equal(t, "COP", bought)
}

func TestTransitionErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := error(&TransitionError{Entity: "order", ID: "o1", From: "draft", Attempted: "execute"})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "cannot execute from draft")
}

func TestParseDateRejectsNonISO(t *testing.T) {
	t.Parallel()

	_, err := ParseDate("03/01/2025")
	assert.ErrorIs(t, err, ErrValidation)

	d, err := ParseDate("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())
}

func TestSettlementTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, SettlementPending.CanMove(SettlementProcessing))
	assert.True(t, SettlementProcessing.CanMove(SettlementCompleted))
	assert.True(t, SettlementFailed.CanMove(SettlementPending))
	assert.False(t, SettlementPending.CanMove(SettlementCompleted))
	assert.False(t, SettlementCompleted.CanMove(SettlementFailed))

	trade := &Trade{ID: "t", OrderID: "o", CurrencySold: "COP", AmountSold: decimal.NewFromInt(420),
		CurrencyBought: "USD", AmountBought: decimal.NewFromInt(1), ValueDate: today}
	legs := NewSettlements(trade, today)
	require.Len(t, legs, 2)
	assert.Equal(t, DirectionPay, legs[0].Direction)
	assert.Equal(t, "COP", legs[0].Currency)
	assert.False(t, AllCompleted(legs))
	legs[0].Status, legs[1].Status = SettlementCompleted, SettlementCompleted
	assert.True(t, AllCompleted(legs))
	assert.False(t, AllCompleted(nil))
}
