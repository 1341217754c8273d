// Package policy selects the hedge policy that governs an exposure and
// manages the policy store.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wakala/hedger/internal/domain"
)

const ReasonNoPolicy = "no policy"

// Result is the matcher's verdict. Policy is nil for unmanaged exposures.
type Result struct {
	Policy      *domain.HedgePolicy `json:"policy,omitempty"`
	Specificity int                 `json:"specificity"`
	Reason      string              `json:"reason"`
}

// Managed reports whether a policy was found.
func (m Result) Managed() bool { return m.Policy != nil }

// Match picks the policy for e. It is pure: the same inputs always yield the
// same policy regardless of the order policies are passed in.
//
// Candidates must be active, share the currency, and have each optional
// criterion either unset or equal to the exposure's. They rank by priority,
// then specificity, then the default flag, then id. With no candidate the
// active default policy applies.
func Match(e *domain.Exposure, cp *domain.Counterparty, policies []domain.HedgePolicy) Result {
	var candidates []*domain.HedgePolicy
	var fallback *domain.HedgePolicy

	for i := range policies {
		p := &policies[i]
		if !p.IsActive {
			continue
		}
		if p.IsDefault && (fallback == nil || p.ID < fallback.ID) {
			fallback = p
		}
		if applies(p, e, cp) {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		if fallback == nil {
			return Result{Reason: ReasonNoPolicy}
		}
		return Result{
			Policy: fallback,
			Reason: fmt.Sprintf("no %s policy matched, using default %q", e.Currency, fallback.Name),
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
			return sa > sb
		}
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		return a.ID < b.ID
	})

	best := candidates[0]
	return Result{
		Policy:      best,
		Specificity: best.Specificity(),
		Reason: fmt.Sprintf("matched %q (priority %d, specificity %d, %d candidates)",
			best.Name, best.Priority, best.Specificity(), len(candidates)),
	}
}

func applies(p *domain.HedgePolicy, e *domain.Exposure, cp *domain.Counterparty) bool {
	if !strings.EqualFold(p.Currency, e.Currency) {
		return false
	}
	if p.ExposureType != nil && *p.ExposureType != e.Type {
		return false
	}
	if p.CounterpartyCategory != nil {
		if cp == nil || !strings.EqualFold(*p.CounterpartyCategory, cp.Category) {
			return false
		}
	}
	return true
}
