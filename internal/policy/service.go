package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/repository"
)

// Request carries a full policy definition for create and update.
type Request struct {
	Name                 string                     `json:"name"`
	Description          string                     `json:"description"`
	ExposureType         *string                    `json:"exposure_type"`
	Currency             string                     `json:"currency"`
	CounterpartyCategory *string                    `json:"counterparty_category"`
	CoverageRules        map[string]decimal.Decimal `json:"coverage_rules"`
	MinAmount            *decimal.Decimal           `json:"min_amount"`
	MaxSingleExposure    *decimal.Decimal           `json:"max_single_exposure"`
	RequireApprovalAbove *decimal.Decimal           `json:"require_approval_above"`
	AutoGenerate         *bool                      `json:"auto_generate_recommendations"`
	IsDefault            bool                       `json:"is_default"`
	Priority             int                        `json:"priority"`
}

type Service struct {
	txm            *repository.TxManager
	policies       *repository.PolicyRepo
	counterparties *repository.CounterpartyRepo
	logger         *slog.Logger
	onWrite        []func()
	now            func() time.Time
}

func NewService(txm *repository.TxManager, policies *repository.PolicyRepo, counterparties *repository.CounterpartyRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		txm:            txm,
		policies:       policies,
		counterparties: counterparties,
		logger:         logger.With("component", "policy"),
		now:            time.Now,
	}
}

// OnWrite registers fn to run after a policy is created, changed or retired.
func (s *Service) OnWrite(fn func()) { s.onWrite = append(s.onWrite, fn) }

func (s *Service) changed() {
	for _, fn := range s.onWrite {
		fn()
	}
}

func (s *Service) Create(ctx context.Context, req Request) (*domain.HedgePolicy, error) {
	now := s.now().UTC()
	p, err := fromRequest(req)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.NewString()
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now

	err = s.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		repo := s.policies.WithTx(tx)
		if err := repo.Insert(ctx, p); err != nil {
			return err
		}
		if p.IsDefault {
			return repo.ClearDefault(ctx, p.ID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("policy created", "policyID", p.ID, "name", p.Name, "currency", p.Currency, "default", p.IsDefault)
	s.changed()
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.HedgePolicy, error) {
	return s.policies.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, currency string, activeOnly bool) ([]domain.HedgePolicy, error) {
	return s.policies.List(ctx, repository.PolicyFilter{Currency: currency, ActiveOnly: activeOnly})
}

// Update replaces a policy definition. A policy that recommendations already
// point at is never rewritten: it is retired and a new version takes its
// place, so the returned policy may carry a different id.
func (s *Service) Update(ctx context.Context, id string, req Request) (*domain.HedgePolicy, error) {
	current, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive {
		return nil, &domain.TransitionError{Entity: "policy", ID: id, From: "inactive", Attempted: "update"}
	}

	next, err := fromRequest(req)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	next.ID = current.ID
	next.IsActive = true
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now

	referenced, err := s.policies.IsReferenced(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		repo := s.policies.WithTx(tx)
		if referenced {
			next.ID = uuid.NewString()
			next.CreatedAt = now
			if err := repo.Insert(ctx, next); err != nil {
				return err
			}
			if err := repo.Deactivate(ctx, current.ID, &next.ID, now); err != nil {
				return err
			}
		} else if err := repo.Update(ctx, next); err != nil {
			return err
		}
		if next.IsDefault {
			return repo.ClearDefault(ctx, next.ID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if referenced {
		s.logger.Info("policy versioned", "previousID", current.ID, "policyID", next.ID)
	}
	s.changed()
	return next, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (*domain.HedgePolicy, error) {
	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, &domain.TransitionError{Entity: "policy", ID: id, From: "inactive", Attempted: "deactivate"}
	}
	if err := s.policies.Deactivate(ctx, id, nil, s.now().UTC()); err != nil {
		return nil, err
	}
	s.changed()
	return s.policies.GetByID(ctx, id)
}

// MatchExposure loads the candidate policies and the counterparty, then
// runs the matcher.
func (s *Service) MatchExposure(ctx context.Context, e *domain.Exposure) (Result, error) {
	policies, err := s.policies.ListActive(ctx, e.Currency)
	if err != nil {
		return Result{}, fmt.Errorf("load policies: %w", err)
	}

	var cp *domain.Counterparty
	if e.CounterpartyID != nil {
		cp, err = s.counterparties.GetByID(ctx, *e.CounterpartyID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Result{}, fmt.Errorf("load counterparty: %w", err)
		}
	}
	return Match(e, cp, policies), nil
}

func fromRequest(req Request) (*domain.HedgePolicy, error) {
	p := &domain.HedgePolicy{
		Name:                 strings.TrimSpace(req.Name),
		Description:          req.Description,
		Currency:             strings.ToUpper(strings.TrimSpace(req.Currency)),
		MaxSingleExposure:    req.MaxSingleExposure,
		RequireApprovalAbove: req.RequireApprovalAbove,
		AutoGenerate:         true,
		IsDefault:            req.IsDefault,
		Priority:             req.Priority,
		MinAmount:            decimal.Zero,
	}
	if req.ExposureType != nil && *req.ExposureType != "" {
		t := domain.ExposureType(strings.ToLower(*req.ExposureType))
		p.ExposureType = &t
	}
	if req.CounterpartyCategory != nil && strings.TrimSpace(*req.CounterpartyCategory) != "" {
		c := strings.TrimSpace(*req.CounterpartyCategory)
		p.CounterpartyCategory = &c
	}
	if req.MinAmount != nil {
		p.MinAmount = *req.MinAmount
	}
	if req.AutoGenerate != nil {
		p.AutoGenerate = *req.AutoGenerate
	}

	p.CoverageRules = Rules(req.CoverageRules)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Rules converts request-shaped coverage rules. No rules at all means the
// defaults. The result is not validated.
func Rules(in map[string]decimal.Decimal) domain.CoverageRules {
	if len(in) == 0 {
		return domain.DefaultCoverageRules()
	}
	out := make(domain.CoverageRules, len(in))
	for k, v := range in {
		out[domain.Horizon(k)] = v
	}
	return out
}
