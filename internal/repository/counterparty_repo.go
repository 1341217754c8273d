package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wakala/hedger/internal/domain"
)

const counterpartyColumns = `id, name, tax_id, country, counterparty_type, category, is_active, created_at`

type CounterpartyRepo struct {
	db DBTX
}

func NewCounterpartyRepo(db DBTX) *CounterpartyRepo {
	return &CounterpartyRepo{db: db}
}

func (r *CounterpartyRepo) Insert(ctx context.Context, c *domain.Counterparty) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO counterparties (`+counterpartyColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.TaxID, c.Country, string(c.Type), c.Category, boolInt(c.IsActive), formatTime(c.CreatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("counterparty %q already exists: %w", c.Name, domain.ErrConflict)
		}
		return fmt.Errorf("insert counterparty: %w", err)
	}
	return nil
}

func (r *CounterpartyRepo) GetByID(ctx context.Context, id string) (*domain.Counterparty, error) {
	return readRetry(ctx, r.db, func() (*domain.Counterparty, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+counterpartyColumns+" FROM counterparties WHERE id = ?", id)
		c, err := scanCounterparty(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("counterparty", id)
		}
		return c, err
	})
}

// GetByName matches case-insensitively, relying on the NOCASE collation.
func (r *CounterpartyRepo) GetByName(ctx context.Context, name string) (*domain.Counterparty, error) {
	return readRetry(ctx, r.db, func() (*domain.Counterparty, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+counterpartyColumns+" FROM counterparties WHERE name = ?",
			strings.TrimSpace(name))
		c, err := scanCounterparty(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("counterparty", name)
		}
		return c, err
	})
}

type CounterpartyFilter struct {
	Type       string
	ActiveOnly bool
}

func (r *CounterpartyRepo) List(ctx context.Context, f CounterpartyFilter) ([]domain.Counterparty, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "counterparty_type = ?")
		args = append(args, f.Type)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active = 1")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	return readRetry(ctx, r.db, func() ([]domain.Counterparty, error) {
		rows, err := r.db.QueryContext(ctx, "SELECT "+counterpartyColumns+" FROM counterparties"+where+" ORDER BY name", args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var out []domain.Counterparty
		for rows.Next() {
			c, err := scanCounterparty(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, *c)
		}
		return out, rows.Err()
	})
}

func scanCounterparty(s scanner) (*domain.Counterparty, error) {
	var c domain.Counterparty
	var typ, createdAt string
	var active int
	if err := s.Scan(&c.ID, &c.Name, &c.TaxID, &c.Country, &typ, &c.Category, &active, &createdAt); err != nil {
		return nil, err
	}
	c.Type = domain.CounterpartyType(typ)
	c.IsActive = active == 1
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
