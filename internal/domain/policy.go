package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Horizon is one of the fixed maturity buckets.
type Horizon string

const (
	Horizon0to30  Horizon = "0-30"
	Horizon31to60 Horizon = "31-60"
	Horizon61to90 Horizon = "61-90"
	Horizon91Plus Horizon = "91+"
)

// Horizons lists the buckets in ascending maturity order.
var Horizons = []Horizon{Horizon0to30, Horizon31to60, Horizon61to90, Horizon91Plus}

// HorizonFor maps days to maturity onto its bucket. Negative days clamp to 0.
func HorizonFor(days int) Horizon {
	switch {
	case days <= 30:
		return Horizon0to30
	case days <= 60:
		return Horizon31to60
	case days <= 90:
		return Horizon61to90
	default:
		return Horizon91Plus
	}
}

func (h Horizon) Valid() bool {
	for _, v := range Horizons {
		if v == h {
			return true
		}
	}
	return false
}

// Index is the position of h in Horizons, or -1.
func (h Horizon) Index() int {
	for i, v := range Horizons {
		if v == h {
			return i
		}
	}
	return -1
}

// CoverageRules maps a horizon to its target coverage percentage.
type CoverageRules map[Horizon]decimal.Decimal

// DefaultCoverageRules is used when a policy is created without rules.
func DefaultCoverageRules() CoverageRules {
	return CoverageRules{
		Horizon0to30:  decimal.NewFromInt(100),
		Horizon31to60: decimal.NewFromInt(75),
		Horizon61to90: decimal.NewFromInt(50),
		Horizon91Plus: decimal.NewFromInt(25),
	}
}

// Target returns the rule for h. Missing keys mean 0%.
func (r CoverageRules) Target(h Horizon) decimal.Decimal {
	if v, ok := r[h]; ok {
		return v
	}
	return decimal.Zero
}

func (r CoverageRules) Validate() error {
	for h, pct := range r {
		if !h.Valid() {
			return NewValidationError("coverage_rules", fmt.Sprintf("unknown horizon %q", h))
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return NewValidationError("coverage_rules", fmt.Sprintf("target for %s must be within [0,100]", h))
		}
	}
	return nil
}

type HedgePolicy struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Description          string           `json:"description,omitempty"`
	ExposureType         *ExposureType    `json:"exposure_type,omitempty"`
	Currency             string           `json:"currency"`
	CounterpartyCategory *string          `json:"counterparty_category,omitempty"`
	CoverageRules        CoverageRules    `json:"coverage_rules"`
	MinAmount            decimal.Decimal  `json:"min_amount"`
	MaxSingleExposure    *decimal.Decimal `json:"max_single_exposure,omitempty"`
	RequireApprovalAbove *decimal.Decimal `json:"require_approval_above,omitempty"`
	AutoGenerate         bool             `json:"auto_generate_recommendations"`
	IsActive             bool             `json:"is_active"`
	IsDefault            bool             `json:"is_default"`
	Priority             int              `json:"priority"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Specificity counts the optional criteria the policy pins down.
func (p *HedgePolicy) Specificity() int {
	n := 0
	if p.ExposureType != nil {
		n++
	}
	if p.CounterpartyCategory != nil {
		n++
	}
	return n
}

func (p *HedgePolicy) Validate() error {
	if p.Name == "" {
		return NewValidationError("name", "is required")
	}
	if !ValidCurrency(p.Currency) {
		return NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if p.ExposureType != nil && !p.ExposureType.Valid() {
		return NewValidationError("exposure_type", "must be payable or receivable")
	}
	if p.MinAmount.IsNegative() {
		return NewValidationError("min_amount", "must be >= 0")
	}
	if p.MaxSingleExposure != nil && !p.MaxSingleExposure.IsPositive() {
		return NewValidationError("max_single_exposure", "must be > 0")
	}
	if p.RequireApprovalAbove != nil && p.RequireApprovalAbove.IsNegative() {
		return NewValidationError("require_approval_above", "must be >= 0")
	}
	return p.CoverageRules.Validate()
}

// ValidCurrency checks for a 3-letter upper-case code.
func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
