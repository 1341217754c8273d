// Package ingestion bulk-loads exposures from tabular uploads.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/ledger"
)

// RowError reports one rejected row. Row is the line number in the file.
type RowError struct {
	Row       int    `json:"row"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error"`
}

// ImportResult is returned from an import. Rejected rows never abort it.
type ImportResult struct {
	FileHash  string     `json:"file_hash"`
	TotalRows int        `json:"total_rows"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Errors    []RowError `json:"errors"`
	// ExposureIDs lists every created or updated exposure, in file order.
	ExposureIDs []string `json:"exposure_ids"`
}

// Service upserts uploaded rows into the ledger by reference.
type Service struct {
	ledger *ledger.Service
	logger *slog.Logger
}

func NewService(l *ledger.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: l, logger: logger.With("component", "ingestion")}
}

// ImportCSV reads the whole upload. Only an unreadable file or a bad header
// fails the call; everything else is reported per row.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	h := sha256.New()
	rows, err := newRowReader(io.TeeReader(r, h))
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: []RowError{}, ExposureIDs: []string{}}
	counterparties := map[string]*string{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			result.TotalRows++
			result.Errors = append(result.Errors, RowError{Row: perr.Line, Error: perr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}

		result.TotalRows++
		id, created, err := s.upsert(ctx, row, counterparties)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Errors = append(result.Errors, RowError{Row: row.Line, Reference: row.Reference, Error: err.Error()})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		result.ExposureIDs = append(result.ExposureIDs, id)
	}
	result.FileHash = fmt.Sprintf("%x", h.Sum(nil))

	s.logger.Info("exposure import finished",
		"fileHash", result.FileHash, "rows", result.TotalRows, "created", result.Created,
		"updated", result.Updated, "errors", len(result.Errors))
	return result, nil
}

func (s *Service) upsert(ctx context.Context, row *Row, counterparties map[string]*string) (string, bool, error) {
	if row.Reference == "" {
		return "", false, domain.NewValidationError("reference", "is required")
	}
	amount, err := ParseAmount(row.Amount)
	if err != nil {
		return "", false, err
	}
	cpID, err := s.counterparty(ctx, row.Counterparty, counterparties)
	if err != nil {
		return "", false, err
	}

	existing, err := s.ledger.GetByReference(ctx, row.Reference)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", false, err
	}

	if existing == nil {
		e, err := s.ledger.Create(ctx, ledger.CreateExposureRequest{
			Reference:      row.Reference,
			Type:           row.Type,
			Amount:         amount,
			Currency:       row.Currency,
			DueDate:        row.DueDate,
			InvoiceDate:    row.InvoiceDate,
			CounterpartyID: cpID,
			Description:    row.Description,
			Source:         domain.SourceCSVUpload,
		})
		if err != nil {
			return "", false, err
		}
		return e.ID, true, nil
	}

	// Type and currency identify the exposure as much as the reference does.
	if !strings.EqualFold(string(existing.Type), row.Type) {
		return "", false, domain.NewValidationError("type", fmt.Sprintf("cannot change from %s", existing.Type))
	}
	if !strings.EqualFold(existing.Currency, row.Currency) {
		return "", false, domain.NewValidationError("currency", fmt.Sprintf("cannot change from %s", existing.Currency))
	}

	upd := ledger.UpdateExposureRequest{
		Amount:      &amount,
		DueDate:     &row.DueDate,
		Description: &row.Description,
	}
	if row.InvoiceDate != "" {
		upd.InvoiceDate = &row.InvoiceDate
	}
	if cpID != nil {
		upd.CounterpartyID = cpID
	}
	e, err := s.ledger.Update(ctx, existing.ID, upd)
	if err != nil {
		return "", false, err
	}
	return e.ID, false, nil
}

// counterparty resolves a name once per import. An empty name means none.
func (s *Service) counterparty(ctx context.Context, name string, seen map[string]*string) (*string, error) {
	if name == "" {
		return nil, nil
	}
	key := strings.ToLower(name)
	if id, ok := seen[key]; ok {
		return id, nil
	}
	cp, err := s.ledger.FindCounterpartyByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("counterparty", fmt.Sprintf("unknown counterparty %q", name))
	}
	if err != nil {
		return nil, err
	}
	seen[key] = &cp.ID
	return &cp.ID, nil
}
