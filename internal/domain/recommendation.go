package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type HedgeAction string

const (
	ActionHedgeNow     HedgeAction = "hedge_now"
	ActionHedgePartial HedgeAction = "hedge_partial"
	ActionWait         HedgeAction = "wait"
	ActionReview       HedgeAction = "review"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

var urgencyRank = map[Urgency]int{
	UrgencyLow:      0,
	UrgencyNormal:   1,
	UrgencyHigh:     2,
	UrgencyCritical: 3,
}

// UrgencyFor maps days to maturity onto an urgency level.
func UrgencyFor(days int) Urgency {
	switch {
	case days <= 7:
		return UrgencyCritical
	case days <= 30:
		return UrgencyHigh
	case days <= 90:
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}

// Rank orders urgencies from low (0) to critical (3).
func (u Urgency) Rank() int { return urgencyRank[u] }

// MaxUrgency returns the more urgent of a and b.
func MaxUrgency(a, b Urgency) Urgency {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationAccepted RecommendationStatus = "accepted"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExpired  RecommendationStatus = "expired"
)

type HedgeRecommendation struct {
	ID                 string               `json:"id"`
	ExposureID         string               `json:"exposure_id"`
	PolicyID           string               `json:"policy_id"`
	Action             HedgeAction          `json:"action"`
	Currency           string               `json:"currency"`
	AmountToHedge      decimal.Decimal      `json:"amount_to_hedge"`
	CurrentCoveragePct decimal.Decimal      `json:"current_coverage_pct"`
	TargetCoveragePct  decimal.Decimal      `json:"target_coverage_pct"`
	CurrentRate        *decimal.Decimal     `json:"current_rate,omitempty"`
	SuggestedRate      *decimal.Decimal     `json:"suggested_rate,omitempty"`
	Urgency            Urgency              `json:"urgency"`
	Priority           int                  `json:"priority"`
	DaysToMaturity     int                  `json:"days_to_maturity"`
	Confidence         decimal.Decimal      `json:"confidence"`
	Degraded           bool                 `json:"degraded"`
	Reasoning          string               `json:"reasoning"`
	Factors            []string             `json:"factors"`
	Status             RecommendationStatus `json:"status"`
	ValidUntil         time.Time            `json:"valid_until"`
	DecidedAt          *time.Time           `json:"decided_at,omitempty"`
	DecidedBy          string               `json:"decided_by,omitempty"`
	RejectionReason    string               `json:"rejection_reason,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// IsExpiredAt reports whether the validity window has closed.
func (r *HedgeRecommendation) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ValidUntil)
}
