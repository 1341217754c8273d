package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/hedger/internal/domain"
)

const policyColumns = `id, name, description, exposure_type, currency, counterparty_category, coverage_rules,
	min_amount, max_single_exposure, require_approval_above, auto_generate, is_active, is_default,
	priority, created_at, updated_at`

type PolicyRepo struct {
	db DBTX
}

func NewPolicyRepo(db DBTX) *PolicyRepo {
	return &PolicyRepo{db: db}
}

func (r *PolicyRepo) WithTx(tx *sql.Tx) *PolicyRepo {
	return &PolicyRepo{db: tx}
}

func (r *PolicyRepo) Insert(ctx context.Context, p *domain.HedgePolicy) error {
	rules, err := json.Marshal(p.CoverageRules)
	if err != nil {
		return fmt.Errorf("encode coverage rules: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO hedge_policies (`+policyColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Description, nullableExposureType(p.ExposureType), p.Currency,
		nullableString(p.CounterpartyCategory), string(rules), p.MinAmount.String(),
		formatNullableDecimal(p.MaxSingleExposure), formatNullableDecimal(p.RequireApprovalAbove),
		boolInt(p.AutoGenerate), boolInt(p.IsActive), boolInt(p.IsDefault), p.Priority,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// Update overwrites a policy in place. Callers version referenced policies
// instead of calling this.
func (r *PolicyRepo) Update(ctx context.Context, p *domain.HedgePolicy) error {
	rules, err := json.Marshal(p.CoverageRules)
	if err != nil {
		return fmt.Errorf("encode coverage rules: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE hedge_policies SET name = ?, description = ?, exposure_type = ?, currency = ?,
			counterparty_category = ?, coverage_rules = ?, min_amount = ?, max_single_exposure = ?,
			require_approval_above = ?, auto_generate = ?, is_active = ?, is_default = ?, priority = ?,
			updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, nullableExposureType(p.ExposureType), p.Currency,
		nullableString(p.CounterpartyCategory), string(rules), p.MinAmount.String(),
		formatNullableDecimal(p.MaxSingleExposure), formatNullableDecimal(p.RequireApprovalAbove),
		boolInt(p.AutoGenerate), boolInt(p.IsActive), boolInt(p.IsDefault), p.Priority,
		formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return expectOneRow(res, domain.NotFound("policy", p.ID))
}

// ClearDefault drops the default flag from every policy except keepID.
func (r *PolicyRepo) ClearDefault(ctx context.Context, keepID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE hedge_policies SET is_default = 0, updated_at = ? WHERE is_default = 1 AND id <> ?`,
		formatTime(at), keepID,
	)
	if err != nil {
		return fmt.Errorf("clear default policy: %w", err)
	}
	return nil
}

// Deactivate retires a policy, optionally pointing at the version replacing it.
func (r *PolicyRepo) Deactivate(ctx context.Context, id string, supersededBy *string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE hedge_policies SET is_active = 0, is_default = 0, superseded_by = ?, updated_at = ? WHERE id = ?`,
		nullableString(supersededBy), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate policy: %w", err)
	}
	return expectOneRow(res, domain.NotFound("policy", id))
}

// IsReferenced reports whether any recommendation points at the policy.
func (r *PolicyRepo) IsReferenced(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hedge_recommendations WHERE policy_id = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count policy references: %w", err)
	}
	return n > 0, nil
}

func (r *PolicyRepo) GetByID(ctx context.Context, id string) (*domain.HedgePolicy, error) {
	return readRetry(ctx, r.db, func() (*domain.HedgePolicy, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM hedge_policies WHERE id = ?", id)
		p, err := scanPolicy(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("policy", id)
		}
		return p, err
	})
}

type PolicyFilter struct {
	Currency   string
	ActiveOnly bool
}

func (r *PolicyRepo) List(ctx context.Context, f PolicyFilter) ([]domain.HedgePolicy, error) {
	var clauses []string
	var args []any
	if f.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, strings.ToUpper(f.Currency))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active = 1")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	return readRetry(ctx, r.db, func() ([]domain.HedgePolicy, error) {
		rows, err := r.db.QueryContext(ctx,
			"SELECT "+policyColumns+" FROM hedge_policies"+where+" ORDER BY priority DESC, id ASC", args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var out []domain.HedgePolicy
		for rows.Next() {
			p, err := scanPolicy(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, *p)
		}
		return out, rows.Err()
	})
}

// ListActive returns active policies for the currency plus the default
// policy, whatever its currency.
func (r *PolicyRepo) ListActive(ctx context.Context, currency string) ([]domain.HedgePolicy, error) {
	return readRetry(ctx, r.db, func() ([]domain.HedgePolicy, error) {
		rows, err := r.db.QueryContext(ctx,
			"SELECT "+policyColumns+` FROM hedge_policies
			WHERE is_active = 1 AND (currency = ? OR is_default = 1)
			ORDER BY priority DESC, id ASC`, strings.ToUpper(currency))
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var out []domain.HedgePolicy
		for rows.Next() {
			p, err := scanPolicy(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, *p)
		}
		return out, rows.Err()
	})
}

func nullableExposureType(t *domain.ExposureType) any {
	if t == nil {
		return nil
	}
	return string(*t)
}

func scanPolicy(s scanner) (*domain.HedgePolicy, error) {
	var p domain.HedgePolicy
	var expType, category, maxSingle, approvalAbove sql.NullString
	var rules, minAmount, createdAt, updatedAt string
	var autoGen, active, isDefault int

	err := s.Scan(
		&p.ID, &p.Name, &p.Description, &expType, &p.Currency, &category, &rules,
		&minAmount, &maxSingle, &approvalAbove, &autoGen, &active, &isDefault,
		&p.Priority, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expType.Valid {
		t := domain.ExposureType(expType.String)
		p.ExposureType = &t
	}
	p.CounterpartyCategory = parseNullableString(category)
	if err := json.Unmarshal([]byte(rules), &p.CoverageRules); err != nil {
		return nil, fmt.Errorf("decode coverage rules for policy %s: %w", p.ID, err)
	}
	p.MinAmount = parseDecimal(minAmount)
	p.MaxSingleExposure = parseNullableDecimal(maxSingle)
	p.RequireApprovalAbove = parseNullableDecimal(approvalAbove)
	p.AutoGenerate = autoGen == 1
	p.IsActive = active == 1
	p.IsDefault = isDefault == 1
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
