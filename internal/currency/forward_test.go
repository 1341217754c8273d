package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestForwardRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		spot       string
		base, quot string
		days       int
		want       string
	}{
		// 4200 * 1.10 / 1.05
		{"one year carry", "4200", "0.05", "0.10", 365, "4400"},
		{"equal rates is spot", "4200", "0.05", "0.05", 90, "4200"},
		{"matured prices at spot", "4200", "0.05", "0.10", -4, "4200"},
		{"zero days", "1.0850", "0.03", "0.04", 0, "1.085"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ForwardRate(d(tt.spot), d(tt.base), d(tt.quot), tt.days)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestForwardRateRejectsBadInputs(t *testing.T) {
	t.Parallel()

	_, err := ForwardRate(decimal.Zero, d("0.05"), d("0.05"), 30)
	assert.Error(t, err)

	_, err = ForwardRate(d("4200"), d("-400"), d("0.05"), 365)
	assert.Error(t, err)
}

func TestAdverseMove(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.05", AdverseMove(true, d("100"), d("105")).String())
	assert.True(t, AdverseMove(true, d("100"), d("95")).IsZero())
	assert.Equal(t, "0.05", AdverseMove(false, d("100"), d("95")).String())
	assert.True(t, AdverseMove(false, d("100"), d("105")).IsZero())
	assert.Equal(t, "-100", ForwardPoints(d("4200"), d("4100")).String())
	assert.Equal(t, "315000000", ToFunctional(d("75000"), d("4200")).String())
}
