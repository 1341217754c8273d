package ingestion

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/ledger"
	"github.com/wakala/hedger/internal/lock"
	"github.com/wakala/hedger/internal/repository"
)

func newService(t *testing.T) (*Service, *ledger.Service) {
	t.Helper()
	db, err := repository.InitDB(filepath.Join(t.TempDir(), "hedger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := ledger.NewService(repository.NewTxManager(db, nil), repository.NewExposureRepo(db),
		repository.NewCounterpartyRepo(db), repository.NewRecommendationRepo(db), lock.NewKeyed(), nil)
	_, err = l.CreateCounterparty(context.Background(), ledger.CreateCounterpartyRequest{Name: "Acme Imports", Type: "supplier"})
	require.NoError(t, err)
	return NewService(l, nil), l
}

const upload = "\xEF\xBB\xBFReference,TYPE,Amount,Currency,Due_Date,Counterparty,Description,Invoice_Date,Warehouse\n" +
	`INV-001,payable,"1,250,000.50",USD,2030-04-15,Acme Imports,steel coils,2030-03-01,BOG` + "\n" +
	"INV-002,payable,80000,usd,2030-05-01,acme imports,,,BOG\n" +
	"INV-003,receivable,45000,EUR,2030-06-30,,export lot 7,,\n" +
	"INV-004,payable,15/04/2030,USD,2030-04-15,,bad amount,,\n" +
	"INV-005,payable,12000,USD,2030-07-01,,,,\n" +
	"\n" +
	"INV-006,receivable,9 500,GBP,2030-08-01,,,,\n" +
	"INV-007,payable,30000,USD,2030-09-01,Nobody Ltd,,,\n" +
	"INV-008,payable,1_000,MXN,2030-10-01,,,,\n" +
	"INV-009,payable,22000,USD,2030-11-01,,,,\n" +
	"INV-010,receivable,61000,USD,2030-12-01,,,,\n"

func TestImportCollectsRowErrors(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)

	res, err := svc.ImportCSV(ctx, strings.NewReader(upload))
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalRows)
	assert.Equal(t, 8, res.Created)
	assert.Zero(t, res.Updated)
	require.Len(t, res.Errors, 2)
	assert.Len(t, res.ExposureIDs, 8)
	assert.Len(t, res.FileHash, 64)

	assert.Equal(t, 5, res.Errors[0].Row)
	assert.Equal(t, "INV-004", res.Errors[0].Reference)
	assert.Contains(t, res.Errors[0].Error, "amount")
	assert.Equal(t, 9, res.Errors[1].Row)
	assert.Contains(t, res.Errors[1].Error, "Nobody Ltd")

	e, err := l.GetByReference(ctx, "INV-001")
	require.NoError(t, err)
	assert.Equal(t, "1250000.5", e.Amount.String())
	assert.Equal(t, domain.SourceCSVUpload, e.Source)
	require.NotNil(t, e.CounterpartyID)
	require.NotNil(t, e.InvoiceDate)
	assert.Equal(t, "2030-03-01", e.InvoiceDate.Format(domain.DateLayout))

	gbp, err := l.GetByReference(ctx, "INV-006")
	require.NoError(t, err)
	assert.Equal(t, "9500", gbp.Amount.String())

	_, err = l.GetByReference(ctx, "INV-004")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected rows are never persisted")
}

func TestImportUpsertsByReference(t *testing.T) {
	ctx := context.Background()
	svc, l := newService(t)

	_, err := svc.ImportCSV(ctx, strings.NewReader(upload))
	require.NoError(t, err)

	again := "reference,type,amount,currency,due_date,description\n" +
		"INV-001,payable,1300000,USD,2030-04-20,steel coils revised\n" +
		"INV-003,payable,45000,EUR,2030-06-30,flipped type\n" +
		"INV-011,payable,5000,USD,2030-04-20,\n"
	res, err := svc.ImportCSV(ctx, strings.NewReader(again))
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "INV-003", res.Errors[0].Reference)

	e, err := l.GetByReference(ctx, "INV-001")
	require.NoError(t, err)
	assert.Equal(t, "1300000", e.Amount.String())
	assert.Equal(t, "2030-04-20", e.DueDate.Format(domain.DateLayout))
	assert.Equal(t, "steel coils revised", e.Description)
	require.NotNil(t, e.CounterpartyID, "a missing counterparty column keeps the link")
}

func TestImportRejectsBadHeader(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.ImportCSV(context.Background(), strings.NewReader("reference,amount,currency\nX,1,USD\n"))
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Msg, "type")
	assert.Contains(t, ve.Msg, "due_date")

	_, err = svc.ImportCSV(context.Background(), strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1,250,000.50", "1250000.5", true},
		{"1 000", "1000", true},
		{"2_500.25", "2500.25", true},
		{" 42 ", "42", true},
		{"", "", false},
		{"12a", "", false},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, domain.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}
}
