package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

const exposureColumns = `id, counterparty_id, exposure_type, reference, description, currency,
	amount, amount_hedged, due_date, invoice_date, tags, source, cancelled_at, created_at, updated_at`

type ExposureRepo struct {
	db DBTX
}

func NewExposureRepo(db DBTX) *ExposureRepo {
	return &ExposureRepo{db: db}
}

// WithTx returns a copy bound to tx.
func (r *ExposureRepo) WithTx(tx *sql.Tx) *ExposureRepo {
	return &ExposureRepo{db: tx}
}

func (r *ExposureRepo) Insert(ctx context.Context, e *domain.Exposure) error {
	tags, err := json.Marshal(nonNilTags(e.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO exposures (`+exposureColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullableString(e.CounterpartyID), string(e.Type), e.Reference, e.Description,
		e.Currency, e.Amount.String(), e.AmountHedged.String(), e.DueDate.Format(dateLayout),
		formatNullableDate(e.InvoiceDate), string(tags), string(e.Source),
		formatNullableTime(e.CancelledAt), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("exposure reference %q already exists: %w", e.Reference, domain.ErrConflict)
		}
		return fmt.Errorf("insert exposure: %w", err)
	}
	return nil
}

// Update rewrites the caller-editable fields. amount_hedged and the
// cancellation stamp have their own narrow writers.
func (r *ExposureRepo) Update(ctx context.Context, e *domain.Exposure) error {
	tags, err := json.Marshal(nonNilTags(e.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE exposures SET counterparty_id = ?, description = ?, currency = ?, amount = ?,
			due_date = ?, invoice_date = ?, tags = ?, updated_at = ?
		WHERE id = ? AND cancelled_at IS NULL`,
		nullableString(e.CounterpartyID), e.Description, e.Currency, e.Amount.String(),
		e.DueDate.Format(dateLayout), formatNullableDate(e.InvoiceDate), string(tags),
		formatTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update exposure: %w", err)
	}
	return expectOneRow(res, domain.NotFound("exposure", e.ID))
}

// MarkCancelled stamps cancelled_at once. A second call affects no rows.
func (r *ExposureRepo) MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE exposures SET cancelled_at = ?, updated_at = ? WHERE id = ? AND cancelled_at IS NULL`,
		formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel exposure: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

// SetHedged moves amount_hedged from expected to next. The compare-and-set
// fails closed if another writer got there first.
func (r *ExposureRepo) SetHedged(ctx context.Context, id string, expected, next decimal.Decimal, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE exposures SET amount_hedged = ?, updated_at = ?
		WHERE id = ? AND amount_hedged = ? AND cancelled_at IS NULL`,
		next.String(), formatTime(at), id, expected.String(),
	)
	if err != nil {
		return false, fmt.Errorf("set amount hedged: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *ExposureRepo) GetByID(ctx context.Context, id string) (*domain.Exposure, error) {
	return readRetry(ctx, r.db, func() (*domain.Exposure, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+exposureColumns+" FROM exposures WHERE id = ?", id)
		e, err := scanExposure(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("exposure", id)
		}
		return e, err
	})
}

func (r *ExposureRepo) GetByReference(ctx context.Context, ref string) (*domain.Exposure, error) {
	return readRetry(ctx, r.db, func() (*domain.Exposure, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+exposureColumns+" FROM exposures WHERE reference = ?", ref)
		e, err := scanExposure(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("exposure", ref)
		}
		return e, err
	})
}

func (r *ExposureRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exposures").Scan(&count)
	return count, err
}

type ExposureFilter struct {
	Type           string
	Status         string
	Currency       string
	CounterpartyID string
	DueFrom        *time.Time
	DueTo          *time.Time
	MinAmount      *decimal.Decimal
	Horizon        string
	// Today anchors the date-derived statuses. Zero means now.
	Today time.Time
	Page  int
	Limit int
}

func (r *ExposureRepo) List(ctx context.Context, f ExposureFilter) ([]domain.Exposure, int, error) {
	where, args := buildExposureWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exposures"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	var offset int
	f.Page, f.Limit, offset = pageBounds(f.Page, f.Limit)
	querySQL := "SELECT " + exposureColumns + " FROM exposures" + where +
		" ORDER BY due_date ASC, reference ASC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	exps, err := r.query(ctx, querySQL, args...)
	return exps, total, err
}

// ListActive returns every exposure that is neither cancelled nor matured,
// optionally narrowed to one currency.
func (r *ExposureRepo) ListActive(ctx context.Context, currency string, today time.Time) ([]domain.Exposure, error) {
	where, args := buildExposureWhere(ExposureFilter{Status: "active", Currency: currency, Today: today})
	return r.query(ctx, "SELECT "+exposureColumns+" FROM exposures"+where+" ORDER BY due_date ASC, reference ASC", args...)
}

// ListIDs returns the ids of active exposures, for fan-out work.
func (r *ExposureRepo) ListIDs(ctx context.Context, currency string, today time.Time) ([]string, error) {
	where, args := buildExposureWhere(ExposureFilter{Status: "active", Currency: currency, Today: today})
	return readRetry(ctx, r.db, func() ([]string, error) {
		rows, err := r.db.QueryContext(ctx, "SELECT id FROM exposures"+where+" ORDER BY due_date ASC", args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
}

func (r *ExposureRepo) query(ctx context.Context, q string, args ...any) ([]domain.Exposure, error) {
	return readRetry(ctx, r.db, func() ([]domain.Exposure, error) {
		rows, err := r.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var exps []domain.Exposure
		for rows.Next() {
			e, err := scanExposure(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			exps = append(exps, *e)
		}
		return exps, rows.Err()
	})
}

// --- helpers ---

func buildExposureWhere(f ExposureFilter) (string, []any) {
	var clauses []string
	var args []any

	today := f.Today
	if today.IsZero() {
		today = time.Now()
	}
	todayStr := domain.Truncate(today).Format(dateLayout)

	const live = "cancelled_at IS NULL AND due_date >= ?"
	switch f.Status {
	case "":
	case string(domain.ExposureCancelled):
		clauses = append(clauses, "cancelled_at IS NOT NULL")
	case string(domain.ExposureSettled):
		clauses = append(clauses, "cancelled_at IS NULL AND due_date < ?")
		args = append(args, todayStr)
	case "active":
		clauses = append(clauses, live)
		args = append(args, todayStr)
	case string(domain.ExposureOpen):
		clauses = append(clauses, live+" AND CAST(amount_hedged AS REAL) = 0")
		args = append(args, todayStr)
	case string(domain.ExposurePartiallyHedged):
		clauses = append(clauses, live+" AND CAST(amount_hedged AS REAL) > 0 AND CAST(amount_hedged AS REAL) < CAST(amount AS REAL)")
		args = append(args, todayStr)
	case string(domain.ExposureFullyHedged):
		clauses = append(clauses, live+" AND CAST(amount_hedged AS REAL) >= CAST(amount AS REAL)")
		args = append(args, todayStr)
	default:
		clauses = append(clauses, "1 = 0")
	}

	if f.Type != "" {
		clauses = append(clauses, "exposure_type = ?")
		args = append(args, f.Type)
	}
	if f.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, strings.ToUpper(f.Currency))
	}
	if f.CounterpartyID != "" {
		clauses = append(clauses, "counterparty_id = ?")
		args = append(args, f.CounterpartyID)
	}
	if f.DueFrom != nil {
		clauses = append(clauses, "due_date >= ?")
		args = append(args, f.DueFrom.Format(dateLayout))
	}
	if f.DueTo != nil {
		clauses = append(clauses, "due_date <= ?")
		args = append(args, f.DueTo.Format(dateLayout))
	}
	if f.MinAmount != nil {
		clauses = append(clauses, "CAST(amount AS REAL) >= ?")
		args = append(args, f.MinAmount.InexactFloat64())
	}
	if f.Horizon != "" {
		lo, hi, ok := horizonDates(domain.Horizon(f.Horizon), today)
		if !ok {
			clauses = append(clauses, "1 = 0")
		} else {
			clauses = append(clauses, "due_date <= ?")
			args = append(args, hi)
			if lo != "" {
				clauses = append(clauses, "due_date >= ?")
				args = append(args, lo)
			}
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// horizonDates turns a horizon into an inclusive due-date window. The open
// bucket returns an empty lower bound and a far upper bound; 0-30 has no
// lower bound so already-due exposures land in it.
func horizonDates(h domain.Horizon, today time.Time) (string, string, bool) {
	base := domain.Truncate(today)
	day := func(n int) string { return base.AddDate(0, 0, n).Format(dateLayout) }
	switch h {
	case domain.Horizon0to30:
		return "", day(30), true
	case domain.Horizon31to60:
		return day(31), day(60), true
	case domain.Horizon61to90:
		return day(61), day(90), true
	case domain.Horizon91Plus:
		return day(91), "9999-12-31", true
	}
	return "", "", false
}

func scanExposure(s scanner) (*domain.Exposure, error) {
	var e domain.Exposure
	var cpID, invoiceDate, cancelledAt sql.NullString
	var typ, amount, hedged, dueDate, tags, source, createdAt, updatedAt string

	err := s.Scan(
		&e.ID, &cpID, &typ, &e.Reference, &e.Description, &e.Currency,
		&amount, &hedged, &dueDate, &invoiceDate, &tags, &source,
		&cancelledAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.CounterpartyID = parseNullableString(cpID)
	e.Type = domain.ExposureType(typ)
	e.Amount = parseDecimal(amount)
	e.AmountHedged = parseDecimal(hedged)
	e.DueDate = parseDate(dueDate)
	e.InvoiceDate = parseNullableDate(invoiceDate)
	e.Source = domain.ExposureSource(source)
	e.CancelledAt = parseNullableTime(cancelledAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		e.Tags = nil
	}
	return &e, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
