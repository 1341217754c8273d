package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// dayCount is the ACT/365 denominator used for the money-market legs.
var dayCount = decimal.NewFromInt(365)

var one = decimal.NewFromInt(1)

// ForwardRate prices an outright forward by covered interest parity:
//
//	F = S * (1 + i_quote*T) / (1 + i_base*T),  T = days/365
//
// spot is quote units per base unit. Rates are annual fractions (0.05 = 5%).
// Negative days are priced as spot.
func ForwardRate(spot, baseRate, quoteRate decimal.Decimal, days int) (decimal.Decimal, error) {
	if !spot.IsPositive() {
		return decimal.Zero, fmt.Errorf("spot rate must be positive, got %s", spot)
	}
	if days <= 0 {
		return spot.Round(4), nil
	}
	t := decimal.NewFromInt(int64(days)).Div(dayCount)
	denom := one.Add(baseRate.Mul(t))
	if !denom.IsPositive() {
		return decimal.Zero, fmt.Errorf("base rate %s gives a non-positive discount factor", baseRate)
	}
	fwd := spot.Mul(one.Add(quoteRate.Mul(t))).Div(denom)
	return fwd.Round(4), nil
}

// ForwardPoints is F - S in quote units.
func ForwardPoints(spot, forward decimal.Decimal) decimal.Decimal {
	return forward.Sub(spot)
}

// ToFunctional converts an amount in the base currency at rate.
func ToFunctional(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// AdverseMove returns how far, as a fraction, the forward sits against the
// hedger relative to spot. A buyer is hurt by a higher forward, a seller by
// a lower one. Favourable moves return zero.
func AdverseMove(buying bool, spot, forward decimal.Decimal) decimal.Decimal {
	if !spot.IsPositive() {
		return decimal.Zero
	}
	move := forward.Sub(spot).Div(spot)
	if !buying {
		move = move.Neg()
	}
	if move.IsNegative() {
		return decimal.Zero
	}
	return move
}
