package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/config"
	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/ledger"
	"github.com/wakala/hedger/internal/policy"
)

type SeedResult struct {
	Counterparties int
	Policies       int
}

// ApplySeed adds the seed's counterparties that do not exist yet by name.
// Policies are only seeded into an empty policy store, so edits made
// through the API survive a restart.
func (a *App) ApplySeed(ctx context.Context, seed *config.Seed) (SeedResult, error) {
	var res SeedResult

	for _, c := range seed.Counterparties {
		_, err := a.Ledger.FindCounterpartyByName(ctx, c.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return res, err
		}
		if _, err := a.Ledger.CreateCounterparty(ctx, ledger.CreateCounterpartyRequest{
			Name: c.Name, Type: c.Type, Category: c.Category, Country: c.Country, TaxID: c.TaxID,
		}); err != nil {
			return res, fmt.Errorf("seed counterparty %q: %w", c.Name, err)
		}
		res.Counterparties++
	}

	existing, err := a.Policies.List(ctx, "", false)
	if err != nil {
		return res, err
	}
	if len(existing) > 0 {
		return res, nil
	}
	for _, p := range seed.Policies {
		req, err := policyRequest(p)
		if err != nil {
			return res, fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		if _, err := a.Policies.Create(ctx, req); err != nil {
			return res, fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		res.Policies++
	}

	a.Logger.Info("seed applied", "counterparties", res.Counterparties, "policies", res.Policies)
	return res, nil
}

func policyRequest(p config.PolicySeed) (policy.Request, error) {
	req := policy.Request{
		Name:         p.Name,
		Description:  p.Description,
		Currency:     p.Currency,
		AutoGenerate: p.AutoGenerate,
		IsDefault:    p.IsDefault,
		Priority:     p.Priority,
	}
	if p.ExposureType != "" {
		req.ExposureType = &p.ExposureType
	}
	if p.CounterpartyCategory != "" {
		req.CounterpartyCategory = &p.CounterpartyCategory
	}
	if len(p.CoverageRules) > 0 {
		req.CoverageRules = make(map[string]decimal.Decimal, len(p.CoverageRules))
		for h, pct := range p.CoverageRules {
			d, err := decimal.NewFromString(pct)
			if err != nil {
				return req, domain.NewValidationError("coverage_rules", fmt.Sprintf("%s: %q is not a number", h, pct))
			}
			req.CoverageRules[h] = d
		}
	}

	var err error
	if req.MinAmount, err = optionalDecimal("min_amount", p.MinAmount); err != nil {
		return req, err
	}
	if req.MaxSingleExposure, err = optionalDecimal("max_single_exposure", p.MaxSingleExposure); err != nil {
		return req, err
	}
	if req.RequireApprovalAbove, err = optionalDecimal("require_approval_above", p.RequireApprovalAbove); err != nil {
		return req, err
	}
	return req, nil
}

func optionalDecimal(field, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, domain.NewValidationError(field, fmt.Sprintf("%q is not a number", raw))
	}
	return &d, nil
}
