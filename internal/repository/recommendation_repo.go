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

const recommendationColumns = `id, exposure_id, policy_id, action, currency, amount_to_hedge,
	current_coverage_pct, target_coverage_pct, current_rate, suggested_rate, urgency, priority,
	days_to_maturity, confidence, degraded, reasoning, factors, status, valid_until, decided_at,
	decided_by, rejection_reason, created_at`

type RecommendationRepo struct {
	db DBTX
}

func NewRecommendationRepo(db DBTX) *RecommendationRepo {
	return &RecommendationRepo{db: db}
}

func (r *RecommendationRepo) WithTx(tx *sql.Tx) *RecommendationRepo {
	return &RecommendationRepo{db: tx}
}

func (r *RecommendationRepo) Insert(ctx context.Context, rec *domain.HedgeRecommendation) error {
	factors, err := json.Marshal(nonNilTags(rec.Factors))
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO hedge_recommendations (`+recommendationColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ExposureID, rec.PolicyID, string(rec.Action), rec.Currency,
		rec.AmountToHedge.String(), rec.CurrentCoveragePct.String(), rec.TargetCoveragePct.String(),
		formatNullableDecimal(rec.CurrentRate), formatNullableDecimal(rec.SuggestedRate),
		string(rec.Urgency), rec.Priority, rec.DaysToMaturity, rec.Confidence.String(),
		boolInt(rec.Degraded), rec.Reasoning, string(factors), string(rec.Status),
		formatTime(rec.ValidUntil), formatNullableTime(rec.DecidedAt), rec.DecidedBy,
		rec.RejectionReason, formatTime(rec.CreatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("exposure %s already has a pending recommendation: %w", rec.ExposureID, domain.ErrConflict)
		}
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

func (r *RecommendationRepo) GetByID(ctx context.Context, id string) (*domain.HedgeRecommendation, error) {
	return readRetry(ctx, r.db, func() (*domain.HedgeRecommendation, error) {
		row := r.db.QueryRowContext(ctx, "SELECT "+recommendationColumns+" FROM hedge_recommendations WHERE id = ?", id)
		rec, err := scanRecommendation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("recommendation", id)
		}
		return rec, err
	})
}

// GetPending returns the single pending recommendation for an exposure,
// or nil when there is none.
func (r *RecommendationRepo) GetPending(ctx context.Context, exposureID string) (*domain.HedgeRecommendation, error) {
	return readRetry(ctx, r.db, func() (*domain.HedgeRecommendation, error) {
		row := r.db.QueryRowContext(ctx,
			"SELECT "+recommendationColumns+" FROM hedge_recommendations WHERE exposure_id = ? AND status = 'pending'",
			exposureID)
		rec, err := scanRecommendation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return rec, err
	})
}

// Decide moves a recommendation out of from. It reports false when the row
// was no longer in that state.
func (r *RecommendationRepo) Decide(ctx context.Context, id string, from, to domain.RecommendationStatus, at time.Time, by, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE hedge_recommendations SET status = ?, decided_at = ?, decided_by = ?, rejection_reason = ?
		WHERE id = ? AND status = ?`,
		string(to), formatTime(at), by, reason, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update recommendation: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

// ExpireForExposure expires whatever is pending for the exposure.
func (r *RecommendationRepo) ExpireForExposure(ctx context.Context, exposureID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE hedge_recommendations SET status = 'expired', decided_at = ?
		WHERE exposure_id = ? AND status = 'pending'`,
		formatTime(at), exposureID,
	)
	if err != nil {
		return 0, fmt.Errorf("expire recommendations: %w", err)
	}
	n, err := affected(res)
	return int(n), err
}

// ExpireStale expires pending recommendations whose validity has lapsed.
func (r *RecommendationRepo) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE hedge_recommendations SET status = 'expired', decided_at = ?
		WHERE status = 'pending' AND valid_until <= ?`,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale recommendations: %w", err)
	}
	n, err := affected(res)
	return int(n), err
}

type RecommendationFilter struct {
	Status     string
	Action     string
	Urgency    string
	ExposureID string
	Currency   string
	Page       int
	Limit      int

	// ExcludeExpired hides expired rows when no Status is given.
	ExcludeExpired bool
}

func (r *RecommendationRepo) List(ctx context.Context, f RecommendationFilter) ([]domain.HedgeRecommendation, int, error) {
	where, args := buildRecommendationWhere(f)

	var total int
	countSQL := "SELECT COUNT(*) FROM hedge_recommendations" + where
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	var offset int
	f.Page, f.Limit, offset = pageBounds(f.Page, f.Limit)
	querySQL := "SELECT " + recommendationColumns + " FROM hedge_recommendations" + where +
		" ORDER BY priority DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	recs, err := r.query(ctx, querySQL, args...)
	return recs, total, err
}

// ListPending returns every pending recommendation, most urgent first.
func (r *RecommendationRepo) ListPending(ctx context.Context) ([]domain.HedgeRecommendation, error) {
	return r.query(ctx, "SELECT "+recommendationColumns+
		" FROM hedge_recommendations WHERE status = 'pending' ORDER BY priority DESC, created_at DESC")
}

func (r *RecommendationRepo) query(ctx context.Context, q string, args ...any) ([]domain.HedgeRecommendation, error) {
	return readRetry(ctx, r.db, func() ([]domain.HedgeRecommendation, error) {
		rows, err := r.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		var recs []domain.HedgeRecommendation
		for rows.Next() {
			rec, err := scanRecommendation(rows)
			if err != nil {
				return nil, fmt.Errorf("scan: %w", err)
			}
			recs = append(recs, *rec)
		}
		return recs, rows.Err()
	})
}

func buildRecommendationWhere(f RecommendationFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	} else if f.ExcludeExpired {
		clauses = append(clauses, "status <> 'expired'")
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, f.Action)
	}
	if f.Urgency != "" {
		clauses = append(clauses, "urgency = ?")
		args = append(args, f.Urgency)
	}
	if f.ExposureID != "" {
		clauses = append(clauses, "exposure_id = ?")
		args = append(args, f.ExposureID)
	}
	if f.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, strings.ToUpper(f.Currency))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanRecommendation(s scanner) (*domain.HedgeRecommendation, error) {
	var rec domain.HedgeRecommendation
	var currentRate, suggestedRate, decidedAt sql.NullString
	var action, amount, currentPct, targetPct, urgency, confidence, factors, status, validUntil, createdAt string
	var degraded int

	err := s.Scan(
		&rec.ID, &rec.ExposureID, &rec.PolicyID, &action, &rec.Currency, &amount,
		&currentPct, &targetPct, &currentRate, &suggestedRate, &urgency, &rec.Priority,
		&rec.DaysToMaturity, &confidence, &degraded, &rec.Reasoning, &factors, &status,
		&validUntil, &decidedAt, &rec.DecidedBy, &rec.RejectionReason, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Action = domain.HedgeAction(action)
	rec.AmountToHedge = parseDecimal(amount)
	rec.CurrentCoveragePct = parseDecimal(currentPct)
	rec.TargetCoveragePct = parseDecimal(targetPct)
	rec.CurrentRate = parseNullableDecimal(currentRate)
	rec.SuggestedRate = parseNullableDecimal(suggestedRate)
	rec.Urgency = domain.Urgency(urgency)
	rec.Confidence = parseDecimal(confidence)
	rec.Degraded = degraded == 1
	rec.Status = domain.RecommendationStatus(status)
	rec.ValidUntil = parseTime(validUntil)
	rec.DecidedAt = parseNullableTime(decidedAt)
	rec.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(factors), &rec.Factors); err != nil {
		rec.Factors = nil
	}
	return &rec, nil
}
