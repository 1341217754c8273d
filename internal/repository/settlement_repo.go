package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/hedger/internal/domain"
)

const settlementColumns = `id, trade_id, order_id, direction, currency, amount, settlement_date, status,
	payment_reference, bank_confirmation, notes, processed_at, confirmed_at, created_at, updated_at`

// SettlementRepo persists the currency legs created when a trade is booked.
type SettlementRepo struct {
	db DBTX
}

func NewSettlementRepo(db DBTX) *SettlementRepo {
	return &SettlementRepo{db: db}
}

func (r *SettlementRepo) WithTx(tx *sql.Tx) *SettlementRepo {
	return &SettlementRepo{db: tx}
}

// InsertAll writes the legs of one trade. A trade holds at most one leg per
// direction, so a replay fails with ErrConflict.
func (r *SettlementRepo) InsertAll(ctx context.Context, legs []domain.Settlement) error {
	for i := range legs {
		s := &legs[i]
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO settlements (`+settlementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			s.ID, s.TradeID, s.OrderID, string(s.Direction), s.Currency, s.Amount.String(),
			s.SettlementDate.Format(dateLayout), string(s.Status), s.PaymentReference, s.BankConfirmation,
			s.Notes, formatNullableTime(s.ProcessedAt), formatNullableTime(s.ConfirmedAt),
			formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("trade %s already has a %s leg: %w", s.TradeID, s.Direction, domain.ErrConflict)
			}
			return fmt.Errorf("insert settlement %d: %w", i, err)
		}
	}
	return nil
}

// Transition persists s's mutable fields only if the stored row is still in
// from.
func (r *SettlementRepo) Transition(ctx context.Context, s *domain.Settlement, from domain.SettlementStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, payment_reference = ?, bank_confirmation = ?, notes = ?,
			processed_at = ?, confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(s.Status), s.PaymentReference, s.BankConfirmation, s.Notes,
		formatNullableTime(s.ProcessedAt), formatNullableTime(s.ConfirmedAt), formatTime(s.UpdatedAt),
		s.ID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition settlement: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *SettlementRepo) GetByID(ctx context.Context, id string) (*domain.Settlement, error) {
	return readRetry(ctx, r.db, func() (*domain.Settlement, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+settlementColumns+" FROM settlements WHERE id = ?", id)
		s, err := scanSettlement(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("settlement", id)
		}
		return s, err
	})
}

func (r *SettlementRepo) ListForTrade(ctx context.Context, tradeID string) ([]domain.Settlement, error) {
	return r.query(ctx, " WHERE trade_id = ? ORDER BY direction", tradeID)
}

func (r *SettlementRepo) ListForOrder(ctx context.Context, orderID string) ([]domain.Settlement, error) {
	return r.query(ctx, " WHERE order_id = ? ORDER BY direction", orderID)
}

// ListBetween returns every leg due in [from, to], oldest first.
func (r *SettlementRepo) ListBetween(ctx context.Context, from, to time.Time) ([]domain.Settlement, error) {
	return r.query(ctx, " WHERE settlement_date >= ? AND settlement_date <= ? ORDER BY settlement_date, currency",
		from.Format(dateLayout), to.Format(dateLayout))
}

type SettlementFilter struct {
	Status   string
	Currency string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

func (r *SettlementRepo) List(ctx context.Context, f SettlementFilter) ([]domain.Settlement, int, error) {
	where, args := buildSettlementWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settlements"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	var offset int
	f.Page, f.Limit, offset = pageBounds(f.Page, f.Limit)
	args = append(args, f.Limit, offset)

	out, err := r.query(ctx, where+" ORDER BY settlement_date, created_at LIMIT ? OFFSET ?", args...)
	return out, total, err
}

// CountByStatus counts every leg per status.
func (r *SettlementRepo) CountByStatus(ctx context.Context) (map[domain.SettlementStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM settlements GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := map[domain.SettlementStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[domain.SettlementStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *SettlementRepo) query(ctx context.Context, tail string, args ...any) ([]domain.Settlement, error) {
	return readRetry(ctx, r.db, func() ([]domain.Settlement, error) {
		rows, err := r.db.QueryContext(ctx, "SELECT "+settlementColumns+" FROM settlements"+tail, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		out := []domain.Settlement{}
		for rows.Next() {
			s, err := scanSettlement(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, *s)
		}
		return out, rows.Err()
	})
}

func buildSettlementWhere(f SettlementFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, strings.ToUpper(f.Currency))
	}
	if f.From != nil {
		clauses = append(clauses, "settlement_date >= ?")
		args = append(args, f.From.Format(dateLayout))
	}
	if f.To != nil {
		clauses = append(clauses, "settlement_date <= ?")
		args = append(args, f.To.Format(dateLayout))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanSettlement(s scanner) (*domain.Settlement, error) {
	var st domain.Settlement
	var processedAt, confirmedAt sql.NullString
	var direction, amount, settlementDate, status, createdAt, updatedAt string

	err := s.Scan(
		&st.ID, &st.TradeID, &st.OrderID, &direction, &st.Currency, &amount, &settlementDate, &status,
		&st.PaymentReference, &st.BankConfirmation, &st.Notes, &processedAt, &confirmedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.Direction = domain.SettlementDirection(direction)
	st.Amount = parseDecimal(amount)
	st.SettlementDate = parseDate(settlementDate)
	st.Status = domain.SettlementStatus(status)
	st.ProcessedAt = parseNullableTime(processedAt)
	st.ConfirmedAt = parseNullableTime(confirmedAt)
	st.CreatedAt = parseTime(createdAt)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}
