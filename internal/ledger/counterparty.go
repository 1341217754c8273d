package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/repository"
)

type CreateCounterpartyRequest struct {
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`
	Country  string `json:"country,omitempty"`
	Type     string `json:"counterparty_type"`
	Category string `json:"category,omitempty"`
}

func (s *Service) CreateCounterparty(ctx context.Context, req CreateCounterpartyRequest) (*domain.Counterparty, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	typ := domain.CounterpartyType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !typ.Valid() {
		return nil, domain.NewValidationError("counterparty_type", "must be supplier, customer or bank")
	}

	c := &domain.Counterparty{
		ID:        uuid.NewString(),
		Name:      name,
		TaxID:     strings.TrimSpace(req.TaxID),
		Country:   strings.ToUpper(strings.TrimSpace(req.Country)),
		Type:      typ,
		Category:  strings.TrimSpace(req.Category),
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.counterparties.Insert(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("counterparty created", "counterpartyID", c.ID, "name", c.Name, "type", c.Type)
	return c, nil
}

func (s *Service) GetCounterparty(ctx context.Context, id string) (*domain.Counterparty, error) {
	return s.counterparties.GetByID(ctx, id)
}

// FindCounterpartyByName ignores case and surrounding spaces.
func (s *Service) FindCounterpartyByName(ctx context.Context, name string) (*domain.Counterparty, error) {
	return s.counterparties.GetByName(ctx, name)
}

func (s *Service) ListCounterparties(ctx context.Context, typ string, activeOnly bool) ([]domain.Counterparty, error) {
	return s.counterparties.List(ctx, repository.CounterpartyFilter{Type: typ, ActiveOnly: activeOnly})
}
