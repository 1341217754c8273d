// Package ledger records foreign-currency exposures and the counterparties
// behind them.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/coverage"
	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/repository"
)

type CreateExposureRequest struct {
	Reference      string          `json:"reference"`
	Type           string          `json:"exposure_type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	DueDate        string          `json:"due_date"`
	InvoiceDate    string          `json:"invoice_date,omitempty"`
	CounterpartyID *string         `json:"counterparty_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	// Source is set by the caller, never decoded from input.
	Source domain.ExposureSource `json:"-"`
}

// UpdateExposureRequest lists the editable fields; nil leaves a field as is.
// Hedged amount and status are deliberately absent.
type UpdateExposureRequest struct {
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	DueDate        *string          `json:"due_date,omitempty"`
	InvoiceDate    *string          `json:"invoice_date,omitempty"`
	CounterpartyID *string          `json:"counterparty_id,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
}

// Summary aggregates one currency's active exposures.
type Summary struct {
	Currency          string                    `json:"currency"`
	TotalPayables     decimal.Decimal           `json:"total_payables"`
	TotalReceivables  decimal.Decimal           `json:"total_receivables"`
	HedgedPayables    decimal.Decimal           `json:"hedged_payables"`
	HedgedReceivables decimal.Decimal           `json:"hedged_receivables"`
	NetExposure       decimal.Decimal           `json:"net_exposure"`
	CoveragePct       decimal.Decimal           `json:"coverage_pct"`
	Count             int                       `json:"count"`
	ByHorizon         []coverage.BucketCoverage `json:"by_horizon"`
}

type Service struct {
	txm             *repository.TxManager
	exposures       *repository.ExposureRepo
	counterparties  *repository.CounterpartyRepo
	recommendations *repository.RecommendationRepo
	locks           *lock.Keyed
	logger          *slog.Logger
	onWrite         []func()
	now             func() time.Time
}

func NewService(
	txm *repository.TxManager,
	exposures *repository.ExposureRepo,
	counterparties *repository.CounterpartyRepo,
	recommendations *repository.RecommendationRepo,
	locks *lock.Keyed,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		txm:             txm,
		exposures:       exposures,
		counterparties:  counterparties,
		recommendations: recommendations,
		locks:           locks,
		logger:          logger.With("component", "ledger"),
		now:             time.Now,
	}
}

// OnWrite registers fn to run after every successful mutation.
func (s *Service) OnWrite(fn func()) {
	s.onWrite = append(s.onWrite, fn)
}

func (s *Service) changed() {
	for _, fn := range s.onWrite {
		fn()
	}
}

func (s *Service) Create(ctx context.Context, req CreateExposureRequest) (*domain.Exposure, error) {
	e, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.exposures.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("exposure created", "exposureID", e.ID, "reference", e.Reference,
		"currency", e.Currency, "amount", e.Amount.String(), "source", e.Source)
	s.changed()
	return e, nil
}

// build validates a create request into a new exposure without storing it.
func (s *Service) build(ctx context.Context, req CreateExposureRequest) (*domain.Exposure, error) {
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return nil, domain.NewValidationError("reference", "is required")
	}
	typ := domain.ExposureType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !typ.Valid() {
		return nil, domain.NewValidationError("exposure_type", "must be payable or receivable")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be > 0")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !domain.ValidCurrency(currency) {
		return nil, domain.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if req.DueDate == "" {
		return nil, domain.NewValidationError("due_date", "is required")
	}
	due, err := parseDateField("due_date", req.DueDate)
	if err != nil {
		return nil, err
	}
	invoice, err := s.invoiceDate(req.InvoiceDate, due)
	if err != nil {
		return nil, err
	}
	cpID := req.CounterpartyID
	if cpID != nil && strings.TrimSpace(*cpID) == "" {
		cpID = nil
	}
	if err := s.checkCounterparty(ctx, cpID); err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = domain.SourceManual
	}
	now := s.now().UTC()
	return &domain.Exposure{
		ID:             uuid.NewString(),
		CounterpartyID: cpID,
		Type:           typ,
		Reference:      ref,
		Description:    req.Description,
		Currency:       currency,
		Amount:         req.Amount,
		AmountHedged:   decimal.Zero,
		DueDate:        due,
		InvoiceDate:    invoice,
		Tags:           req.Tags,
		Source:         source,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Exposure, error) {
	return s.exposures.GetByID(ctx, id)
}

func (s *Service) GetByReference(ctx context.Context, ref string) (*domain.Exposure, error) {
	return s.exposures.GetByReference(ctx, strings.TrimSpace(ref))
}

func (s *Service) Update(ctx context.Context, id string, req UpdateExposureRequest) (*domain.Exposure, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.exposures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	today := s.now()
	if !e.IsActive(today) {
		return nil, &domain.TransitionError{Entity: "exposure", ID: id, From: string(e.Status(today)), Attempted: "update"}
	}

	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, domain.NewValidationError("amount", "must be > 0")
		}
		if req.Amount.LessThan(e.AmountHedged) {
			return nil, &domain.TransitionError{Entity: "exposure", ID: id, From: string(e.Status(today)),
				Attempted: fmt.Sprintf("reduce amount below hedged %s", e.AmountHedged)}
		}
		e.Amount = *req.Amount
	}
	if req.DueDate != nil {
		due, err := parseDateField("due_date", *req.DueDate)
		if err != nil {
			return nil, err
		}
		e.DueDate = due
	}
	if req.InvoiceDate != nil {
		inv, err := s.invoiceDate(*req.InvoiceDate, e.DueDate)
		if err != nil {
			return nil, err
		}
		e.InvoiceDate = inv
	} else if e.InvoiceDate != nil && e.InvoiceDate.After(e.DueDate) {
		return nil, domain.NewValidationError("invoice_date", "must not be after due_date")
	}
	if req.CounterpartyID != nil {
		if *req.CounterpartyID == "" {
			e.CounterpartyID = nil
		} else {
			if err := s.checkCounterparty(ctx, req.CounterpartyID); err != nil {
				return nil, err
			}
			e.CounterpartyID = req.CounterpartyID
		}
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Tags != nil {
		e.Tags = req.Tags
	}
	e.UpdatedAt = s.now().UTC()

	if err := s.exposures.Update(ctx, e); err != nil {
		return nil, err
	}
	s.changed()
	return e, nil
}

// Cancel withdraws an exposure and expires its pending recommendation.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Exposure, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.exposures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !e.IsActive(now) {
		return nil, &domain.TransitionError{Entity: "exposure", ID: id, From: string(e.Status(now)), Attempted: "cancel"}
	}

	var expired int
	err = s.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		ok, err := s.exposures.WithTx(tx).MarkCancelled(ctx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.TransitionError{Entity: "exposure", ID: id, From: string(domain.ExposureCancelled), Attempted: "cancel"}
		}
		expired, err = s.recommendations.WithTx(tx).ExpireForExposure(ctx, id, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.CancelledAt = &now
	e.UpdatedAt = now
	s.logger.Info("exposure cancelled", "exposureID", id, "reference", e.Reference, "recommendationsExpired", expired)
	s.changed()
	return e, nil
}

func (s *Service) Query(ctx context.Context, f repository.ExposureFilter) ([]domain.Exposure, int, error) {
	if f.Today.IsZero() {
		f.Today = s.now()
	}
	return s.exposures.List(ctx, f)
}

// ListActive returns the live exposures, optionally for one currency.
func (s *Service) ListActive(ctx context.Context, currency string, today time.Time) ([]domain.Exposure, error) {
	return s.exposures.ListActive(ctx, currency, today)
}

func (s *Service) ListByHorizon(ctx context.Context, h domain.Horizon, currency string, today time.Time) ([]domain.Exposure, error) {
	if !h.Valid() {
		return nil, domain.NewValidationError("horizon", fmt.Sprintf("unknown horizon %q", h))
	}
	active, err := s.exposures.ListActive(ctx, currency, today)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Exposure, 0, len(active))
	for _, e := range active {
		if domain.HorizonFor(e.DaysToMaturity(today)) == h {
			out = append(out, e)
		}
	}
	return out, nil
}

// Summarize returns one summary per currency, or just the one asked for.
func (s *Service) Summarize(ctx context.Context, currency string, today time.Time) ([]Summary, error) {
	active, err := s.exposures.ListActive(ctx, currency, today)
	if err != nil {
		return nil, err
	}

	byCurrency := make(map[string][]domain.Exposure)
	for _, e := range active {
		byCurrency[e.Currency] = append(byCurrency[e.Currency], e)
	}
	if currency != "" {
		currency = strings.ToUpper(currency)
		if _, ok := byCurrency[currency]; !ok {
			byCurrency[currency] = nil
		}
	}

	out := make([]Summary, 0, len(byCurrency))
	for cur, exps := range byCurrency {
		out = append(out, summarize(cur, exps, today))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func summarize(currency string, exps []domain.Exposure, today time.Time) Summary {
	sum := Summary{Currency: currency, Count: len(exps)}
	for _, e := range exps {
		switch e.Type {
		case domain.ExposurePayable:
			sum.TotalPayables = sum.TotalPayables.Add(e.Amount)
			sum.HedgedPayables = sum.HedgedPayables.Add(e.AmountHedged)
		case domain.ExposureReceivable:
			sum.TotalReceivables = sum.TotalReceivables.Add(e.Amount)
			sum.HedgedReceivables = sum.HedgedReceivables.Add(e.AmountHedged)
		}
	}
	sum.NetExposure = sum.TotalPayables.Sub(sum.TotalReceivables)
	sum.ByHorizon = coverage.Evaluate(exps, today)
	sum.CoveragePct = coverage.Overall(sum.ByHorizon).CoveragePct
	return sum
}

func (s *Service) invoiceDate(raw string, due time.Time) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	inv, err := parseDateField("invoice_date", raw)
	if err != nil {
		return nil, err
	}
	if inv.After(due) {
		return nil, domain.NewValidationError("invoice_date", "must not be after due_date")
	}
	return &inv, nil
}

func (s *Service) checkCounterparty(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := s.counterparties.GetByID(ctx, *id); err != nil {
		return fmt.Errorf("counterparty_id: %w", err)
	}
	return nil
}

func parseDateField(field, raw string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must be YYYY-MM-DD, got "+raw)
	}
	return t, nil
}
