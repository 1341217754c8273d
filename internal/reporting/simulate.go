package reporting

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/coverage"
	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/policy"
)

// SimulationRequest names the rules to try. PolicyID takes an existing
// policy's rules, scope included; otherwise CoverageRules (or the defaults)
// are applied to Currency, optionally narrowed to one ExposureType.
type SimulationRequest struct {
	PolicyID      string                     `json:"policy_id"`
	Currency      string                     `json:"currency"`
	ExposureType  *string                    `json:"exposure_type"`
	CoverageRules map[string]decimal.Decimal `json:"coverage_rules"`
}

type SimulationResult struct {
	Currency      string               `json:"currency"`
	ExposureType  *domain.ExposureType `json:"exposure_type,omitempty"`
	PolicyID      string               `json:"policy_id,omitempty"`
	AsOf          string               `json:"as_of"`
	CoverageRules domain.CoverageRules `json:"coverage_rules"`
	coverage.Simulation
}

// SimulatePolicy previews the hedging a rule set would ask for over the
// open book. Nothing is written and the result is not cached.
func (s *Service) SimulatePolicy(ctx context.Context, req SimulationRequest, today time.Time) (*SimulationResult, error) {
	today = domain.Truncate(today)
	out := &SimulationResult{AsOf: today.Format(domain.DateLayout)}

	if id := strings.TrimSpace(req.PolicyID); id != "" {
		p, err := s.policies.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out.PolicyID = p.ID
		out.Currency = p.Currency
		out.ExposureType = p.ExposureType
		out.CoverageRules = p.CoverageRules
	} else {
		currency, err := requireCurrency(req.Currency)
		if err != nil {
			return nil, err
		}
		out.Currency = currency
		if req.ExposureType != nil && *req.ExposureType != "" {
			t := domain.ExposureType(strings.ToLower(*req.ExposureType))
			if !t.Valid() {
				return nil, domain.NewValidationError("exposure_type", "must be payable or receivable")
			}
			out.ExposureType = &t
		}
		out.CoverageRules = policy.Rules(req.CoverageRules)
		if err := out.CoverageRules.Validate(); err != nil {
			return nil, err
		}
	}

	exps, err := s.ledger.ListActive(ctx, out.Currency, today)
	if err != nil {
		return nil, err
	}
	if out.ExposureType != nil {
		scoped := exps[:0]
		for _, e := range exps {
			if e.Type == *out.ExposureType {
				scoped = append(scoped, e)
			}
		}
		exps = scoped
	}
	out.Simulation = coverage.Simulate(exps, out.CoverageRules, today)
	s.logger.DebugContext(ctx, "policy simulated", "currency", out.Currency, "exposures", len(exps), "estimatedOrders", out.EstimatedOrders)
	return out, nil
}
