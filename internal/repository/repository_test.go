package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/hedger/internal/domain"
)

var today = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "hedger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newExposure(ref string, amount int64, dueIn int) *domain.Exposure {
	return &domain.Exposure{
		ID:        uuid.NewString(),
		Type:      domain.ExposurePayable,
		Reference: ref,
		Currency:  "USD",
		Amount:    decimal.NewFromInt(amount),
		DueDate:   today.AddDate(0, 0, dueIn),
		Source:    domain.SourceManual,
		Tags:      []string{"ops"},
		CreatedAt: today,
		UpdatedAt: today,
	}
}

func newPolicy(name string, isDefault bool) *domain.HedgePolicy {
	return &domain.HedgePolicy{
		ID:            uuid.NewString(),
		Name:          name,
		Currency:      "USD",
		CoverageRules: domain.DefaultCoverageRules(),
		IsActive:      true,
		IsDefault:     isDefault,
		AutoGenerate:  true,
		CreatedAt:     today,
		UpdatedAt:     today,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	require.NoError(t, Migrate(db))
}

func TestExposureRoundTripAndConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewExposureRepo(newTestDB(t))

	e := newExposure("INV-1", 100000, 45)
	inv := today.AddDate(0, 0, -10)
	e.InvoiceDate = &inv
	require.NoError(t, repo.Insert(ctx, e))

	got, err := repo.GetByReference(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, got.Amount.Equal(e.Amount))
	assert.True(t, got.AmountHedged.IsZero())
	assert.Equal(t, e.DueDate, got.DueDate)
	require.NotNil(t, got.InvoiceDate)
	assert.Equal(t, inv, *got.InvoiceDate)
	assert.Equal(t, []string{"ops"}, got.Tags)

	dup := newExposure("INV-1", 5, 5)
	err = repo.Insert(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExposureSetHedgedIsCompareAndSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewExposureRepo(newTestDB(t))

	e := newExposure("INV-2", 1000, 20)
	require.NoError(t, repo.Insert(ctx, e))

	ok, err := repo.SetHedged(ctx, e.ID, decimal.Zero, decimal.NewFromInt(400), today)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetHedged(ctx, e.ID, decimal.Zero, decimal.NewFromInt(800), today)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected value must not overwrite")

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "400", got.AmountHedged.String())
}

func TestExposureListStatusFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewExposureRepo(newTestDB(t))

	open := newExposure("A-open", 100, 10)
	partial := newExposure("B-partial", 100, 40)
	full := newExposure("C-full", 100, 70)
	matured := newExposure("D-matured", 100, -3)
	cancelled := newExposure("E-cancelled", 100, 100)
	for _, e := range []*domain.Exposure{open, partial, full, matured, cancelled} {
		require.NoError(t, repo.Insert(ctx, e))
	}
	_, err := repo.SetHedged(ctx, partial.ID, decimal.Zero, decimal.NewFromInt(30), today)
	require.NoError(t, err)
	_, err = repo.SetHedged(ctx, full.ID, decimal.Zero, decimal.NewFromInt(100), today)
	require.NoError(t, err)
	ok, err := repo.MarkCancelled(ctx, cancelled.ID, today)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.MarkCancelled(ctx, cancelled.ID, today)
	require.NoError(t, err)
	assert.False(t, ok)

	refs := func(status string) []string {
		exps, total, err := repo.List(ctx, ExposureFilter{Status: status, Today: today})
		require.NoError(t, err)
		var out []string
		for _, e := range exps {
			out = append(out, e.Reference)
		}
		assert.Equal(t, len(out), total)
		return out
	}

	assert.Equal(t, []string{"A-open"}, refs("open"))
	assert.Equal(t, []string{"B-partial"}, refs("partially_hedged"))
	assert.Equal(t, []string{"C-full"}, refs("fully_hedged"))
	assert.Equal(t, []string{"D-matured"}, refs("settled"))
	assert.Equal(t, []string{"E-cancelled"}, refs("cancelled"))
	assert.Len(t, refs(""), 5)

	active, err := repo.ListActive(ctx, "usd", today)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	byHorizon, _, err := repo.List(ctx, ExposureFilter{Horizon: "31-60", Today: today})
	require.NoError(t, err)
	require.Len(t, byHorizon, 1)
	assert.Equal(t, "B-partial", byHorizon[0].Reference)
}

func TestCounterpartyNameIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewCounterpartyRepo(newTestDB(t))

	c := &domain.Counterparty{ID: uuid.NewString(), Name: "Acme Imports", Type: domain.CounterpartySupplier,
		Category: "raw_materials", IsActive: true, CreatedAt: today}
	require.NoError(t, repo.Insert(ctx, c))

	got, err := repo.GetByName(ctx, "  acme IMPORTS ")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	err = repo.Insert(ctx, &domain.Counterparty{ID: uuid.NewString(), Name: "ACME imports",
		Type: domain.CounterpartySupplier, CreatedAt: today})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPolicyDefaultAndActiveListing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPolicyRepo(newTestDB(t))

	a := newPolicy("usd-default", true)
	b := newPolicy("cop-default", true)
	b.Currency = "EUR"
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))
	require.NoError(t, repo.ClearDefault(ctx, b.ID, today))

	gotA, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsDefault)
	assert.True(t, gotA.CoverageRules.Target(domain.Horizon31to60).Equal(decimal.NewFromInt(75)))

	active, err := repo.ListActive(ctx, "USD")
	require.NoError(t, err)
	assert.Len(t, active, 2, "USD policy plus the default from another currency")

	require.NoError(t, repo.Deactivate(ctx, a.ID, nil, today))
	active, err = repo.ListActive(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
}

func TestOnlyOnePendingRecommendationPerExposure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	exps := NewExposureRepo(db)
	pols := NewPolicyRepo(db)
	recs := NewRecommendationRepo(db)

	e := newExposure("INV-R", 1000, 10)
	p := newPolicy("p", true)
	require.NoError(t, exps.Insert(ctx, e))
	require.NoError(t, pols.Insert(ctx, p))

	newRec := func() *domain.HedgeRecommendation {
		return &domain.HedgeRecommendation{
			ID: uuid.NewString(), ExposureID: e.ID, PolicyID: p.ID, Action: domain.ActionHedgeNow,
			Currency: "USD", AmountToHedge: decimal.NewFromInt(1000), Urgency: domain.UrgencyHigh,
			Confidence: decimal.NewFromInt(80), Reasoning: "r", Status: domain.RecommendationPending,
			ValidUntil: today.Add(time.Hour), CreatedAt: today,
		}
	}

	first := newRec()
	require.NoError(t, recs.Insert(ctx, first))
	err := recs.Insert(ctx, newRec())
	assert.ErrorIs(t, err, domain.ErrConflict)

	pending, err := recs.GetPending(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, first.ID, pending.ID)

	n, err := recs.ExpireStale(ctx, today.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = recs.GetPending(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)
	require.NoError(t, recs.Insert(ctx, newRec()))

	referenced, err := pols.IsReferenced(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, referenced)
}

func TestOrderTransitionAndSingleTrade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewOrderRepo(newTestDB(t))

	o := &domain.HedgeOrder{
		ID: uuid.NewString(), InternalReference: "ORD-20250301-X", OrderType: domain.OrderForward,
		Side: domain.SideBuy, Currency: "USD", Amount: decimal.NewFromInt(500),
		Status: domain.OrderApproved, Version: 1, CreatedAt: today, UpdatedAt: today,
	}
	require.NoError(t, repo.Insert(ctx, o))

	stale := *o
	o.Status = domain.OrderCancelled
	ok, err := repo.Transition(ctx, o, domain.OrderApproved)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, o.Version)

	stale.Status = domain.OrderQuoted
	ok, err = repo.Transition(ctx, &stale, domain.OrderApproved)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)

	trade := &domain.Trade{ID: uuid.NewString(), OrderID: o.ID, Side: domain.SideBuy, CurrencySold: "COP",
		AmountSold: decimal.NewFromInt(1), CurrencyBought: "USD", AmountBought: decimal.NewFromInt(1),
		ExecutedRate: decimal.NewFromInt(1), TradeDate: today, ValueDate: today, CreatedAt: today}
	require.NoError(t, repo.InsertTrade(ctx, trade))
	trade.ID = uuid.NewString()
	err = repo.InsertTrade(ctx, trade)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	n, err := repo.CountTrades(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxManagerRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	txm := NewTxManager(db, nil)
	exps := NewExposureRepo(db)

	boom := errors.New("boom")
	err := txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := exps.WithTx(tx).Insert(ctx, newExposure("INV-TX", 10, 10)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := exps.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
