package recommendation

import (
	"fmt"
	"strings"

	"github.com/wakala/hedger/internal/domain"
)

var actionLead = map[domain.HedgeAction]string{
	domain.ActionHedgeNow:     "Hedge now",
	domain.ActionHedgePartial: "Hedge partially",
	domain.ActionWait:         "Wait",
	domain.ActionReview:       "Manual review required",
}

// Reasoning renders the human explanation stored with a recommendation.
func Reasoning(e *domain.Exposure, rec *domain.HedgeRecommendation, h domain.Horizon) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s for %s %s matures in %d days (horizon %s). Coverage is %s%% against a %s%% target; %s %s to hedge.",
		actionLead[rec.Action], e.Type, e.Reference, e.Currency, e.Amount.StringFixed(2),
		rec.DaysToMaturity, h, rec.CurrentCoveragePct.StringFixed(1), rec.TargetCoveragePct.StringFixed(1),
		e.Currency, rec.AmountToHedge.StringFixed(2))

	switch rec.Action {
	case domain.ActionHedgeNow:
		b.WriteString(" Most of the open amount is uncovered, so act before maturity.")
	case domain.ActionHedgePartial:
		b.WriteString(" Cover the gap to bring the exposure back to policy.")
	case domain.ActionWait:
		b.WriteString(" The amount is below the policy minimum; revisit if it grows.")
	case domain.ActionReview:
		if rec.Degraded {
			b.WriteString(" Market data is unavailable, so the suggested rate may be stale.")
		} else {
			b.WriteString(" The amount needs approval and the market signals conflict.")
		}
	}
	if rec.SuggestedRate != nil {
		fmt.Fprintf(&b, " Suggested rate %s.", rec.SuggestedRate.StringFixed(4))
	}
	return b.String()
}
