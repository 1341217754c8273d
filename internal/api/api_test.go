package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/hedger/internal/app"
	"github.com/wakala/hedger/internal/config"
	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/events"
	"github.com/wakala/hedger/internal/marketdata"
	"github.com/wakala/hedger/internal/repository"
)

type server struct {
	t       *testing.T
	handler http.Handler
	sink    *events.MemorySink
}

func newServer(t *testing.T) *server {
	t.Helper()
	db, err := repository.InitDB(filepath.Join(t.TempDir(), "hedger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		FunctionalCurrency:  "COP",
		RecommendationTTL:   48 * time.Hour,
		RegenerateWorkers:   2,
		MarketDataTimeout:   time.Second,
		MarketDataRefresh:   time.Minute,
		RiskReviewThreshold: 70,
		ApprovalThreshold:   decimal.NewFromInt(100000),
		QuoteTTL:            15 * time.Minute,
		ReportCacheTTL:      time.Minute,
	}
	sink := events.NewMemorySink()
	a := app.New(cfg, db, sink, app.NewMarket(cfg, marketdata.DefaultStaticConfig(), nil), nil)
	_, err = a.ApplySeed(context.Background(), config.DefaultSeed())
	require.NoError(t, err)

	return &server{t: t, sink: sink, handler: NewRouter(Deps{
		Ledger:          a.Ledger,
		Policies:        a.Policies,
		Generator:       a.Generator,
		Recommendations: a.Recommendations,
		Orders:          a.Orders,
		Settlements:     a.Settlements,
		Import:          a.Import,
		Reports:         a.Reports,
	})}
}

// do sends body as JSON (a string is sent verbatim) and decodes the reply.
func (s *server) do(method, path string, body any) (int, map[string]any) {
	s.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	return s.serve(req)
}

func (s *server) serve(req *http.Request) (int, map[string]any) {
	s.t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.NotEmpty(s.t, rec.Header().Get("X-Request-Id"))

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func dueIn(days int) string {
	return domain.Truncate(time.Now()).AddDate(0, 0, days).Format(domain.DateLayout)
}

func (s *server) createExposure(ref string, amount string, days int) string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/exposures", map[string]any{
		"reference": ref, "exposure_type": "payable", "amount": amount, "currency": "USD", "due_date": dueIn(days),
	})
	require.Equal(s.t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, body := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestExposureEndpoints(t *testing.T) {
	s := newServer(t)
	id := s.createExposure("INV-100", "100000", 45)

	code, body := s.do(http.MethodGet, "/api/v1/exposures/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "open", body["status"])
	assert.Equal(t, "31-60", body["horizon"])
	assert.Equal(t, "100000", body["amount_open"])
	assert.Equal(t, "manual", body["source"])

	code, body = s.do(http.MethodPut, "/api/v1/exposures/"+id, `{"amount_hedged":"50000"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["kind"])

	code, body = s.do(http.MethodPut, "/api/v1/exposures/"+id, `{"status":"settled"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodPut, "/api/v1/exposures/"+id, map[string]any{"description": "steel", "amount": "120000"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "steel", body["description"])
	assert.Equal(t, "0", body["amount_hedged"])

	code, body = s.do(http.MethodPost, "/api/v1/exposures", map[string]any{
		"reference": "INV-100", "exposure_type": "payable", "amount": "1", "currency": "USD", "due_date": dueIn(3),
	})
	assert.Equal(t, http.StatusConflict, code, "duplicate reference")
	assert.Equal(t, "conflict", body["kind"])

	code, body = s.do(http.MethodPost, "/api/v1/exposures", map[string]any{
		"reference": "INV-101", "exposure_type": "payable", "amount": "-5", "currency": "USD", "due_date": dueIn(3),
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "amount", body["field"])

	code, body = s.do(http.MethodGet, "/api/v1/exposures?currency=usd", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, body = s.do(http.MethodGet, "/api/v1/exposures/"+id+"/policy", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["managed"])

	code, body = s.do(http.MethodGet, "/api/v1/exposures/by-horizon?horizon=31-60", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["exposures"], 1)

	code, _ = s.do(http.MethodGet, "/api/v1/exposures/by-horizon?horizon=0-45", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodPost, "/api/v1/exposures/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])

	code, body = s.do(http.MethodGet, "/api/v1/exposures/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["kind"])
}

func TestHedgeRoundTripOverHTTP(t *testing.T) {
	s := newServer(t)
	id := s.createExposure("INV-200", "100000", 45)

	code, gen := s.do(http.MethodPost, "/api/v1/recommendations/generate", map[string]any{"exposure_id": id})
	require.Equal(t, http.StatusOK, code, gen)
	assert.Equal(t, "unchanged", gen["outcome"], "creating the exposure already generated advice")
	rec := gen["recommendation"].(map[string]any)
	assert.Equal(t, "hedge_partial", rec["action"])
	assert.Equal(t, "75000", rec["amount_to_hedge"])
	assert.Equal(t, "normal", rec["urgency"])
	recID := rec["id"].(string)

	code, order := s.do(http.MethodPost, "/api/v1/recommendations/"+recID+"/accept", map[string]any{"decided_by": "treasurer"})
	require.Equal(t, http.StatusCreated, code, order)
	assert.Equal(t, "approved", order["status"])
	orderID := order["id"].(string)

	code, body := s.do(http.MethodPost, "/api/v1/recommendations/"+recID+"/accept", nil)
	assert.Equal(t, http.StatusConflict, code, "a decided recommendation cannot be accepted twice")
	assert.Equal(t, "accepted", body["current_state"])

	code, quote := s.do(http.MethodPost, "/api/v1/orders/"+orderID+"/quotes", map[string]any{
		"provider": "Bancolombia", "bid_rate": "4195", "ask_rate": "4200",
	})
	require.Equal(t, http.StatusCreated, code, quote)
	quoteID := quote["id"].(string)

	code, body = s.do(http.MethodPost, "/api/v1/orders/"+orderID+"/quotes/"+quoteID+"/accept", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["is_accepted"])

	code, exec := s.do(http.MethodPost, "/api/v1/orders/"+orderID+"/execute", map[string]any{"executed_rate": "4200"})
	require.Equal(t, http.StatusOK, code, exec)
	trade := exec["trade"].(map[string]any)
	assert.Equal(t, "315000000", trade["amount_sold"])
	assert.Equal(t, "executed", exec["order"].(map[string]any)["status"])

	code, body = s.do(http.MethodGet, "/api/v1/exposures/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "75000", body["amount_hedged"])
	assert.Equal(t, "75", body["hedge_percentage"])
	assert.Equal(t, "partially_hedged", body["status"])

	code, again := s.do(http.MethodPost, "/api/v1/orders/"+orderID+"/execute", map[string]any{"executed_rate": "4200"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, trade["id"], again["trade"].(map[string]any)["id"])

	code, body = s.do(http.MethodPost, "/api/v1/orders/"+orderID+"/execute", map[string]any{"executed_rate": "4300"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", body["kind"])
	assert.Equal(t, "executed", body["current_state"])
	assert.Equal(t, "execute", body["attempted"])

	code, body = s.do(http.MethodGet, "/api/v1/orders/"+orderID+"/trade", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, trade["id"], body["id"])

	assert.Len(t, s.sink.ByType(events.OrderExecuted), 1)

	code, body = s.do(http.MethodGet, "/api/v1/reports/coverage?currency=USD", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "75", body["overall"].(map[string]any)["coverage_pct"])

	code, body = s.do(http.MethodGet, "/api/v1/orders/summary", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["executed_today"])

	code, body = s.do(http.MethodGet, "/api/v1/orders/"+orderID+"/settlements", nil)
	require.Equal(t, http.StatusOK, code)
	legs := body["settlements"].([]any)
	require.Len(t, legs, 2)
	payID := legs[0].(map[string]any)["id"].(string)

	code, body = s.do(http.MethodPost, "/api/v1/settlements/"+payID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "pending", body["current_state"])

	code, body = s.do(http.MethodPost, "/api/v1/settlements/"+payID+"/process", map[string]any{"payment_reference": "PAY-1"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "processing", body["status"])

	code, body = s.do(http.MethodGet, "/api/v1/settlements?status=pending", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, body = s.do(http.MethodGet, "/api/v1/settlements/calendar?from="+dueIn(0)+"&to="+dueIn(60), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["days"], 1)
}

func TestExposureWritesRegenerate(t *testing.T) {
	s := newServer(t)
	id := s.createExposure("INV-250", "100000", 45)

	code, body := s.do(http.MethodGet, "/api/v1/recommendations?exposure_id="+id, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"])
	first := body["recommendations"].([]any)[0].(map[string]any)
	assert.Equal(t, "75000", first["amount_to_hedge"])
	assert.Equal(t, "normal", first["urgency"])

	code, body = s.do(http.MethodPut, "/api/v1/exposures/"+id, map[string]any{"due_date": dueIn(5)})
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(http.MethodGet, "/api/v1/recommendations?exposure_id="+id, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["total"], "the old advice is superseded, not duplicated")
	latest := body["recommendations"].([]any)[0].(map[string]any)
	assert.NotEqual(t, first["id"], latest["id"])
	assert.Equal(t, "100000", latest["amount_to_hedge"])
	assert.Equal(t, "critical", latest["urgency"])
	assert.Len(t, s.sink.ByType(events.RecommendationCritical), 1)
}

func TestOrderStateErrors(t *testing.T) {
	s := newServer(t)

	code, draft := s.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"currency": "USD", "side": "buy", "order_type": "spot", "amount": "5000", "draft": true,
	})
	require.Equal(t, http.StatusCreated, code, draft)
	id := draft["id"].(string)

	code, body := s.do(http.MethodPost, "/api/v1/orders/"+id+"/approve", map[string]any{"approved_by": "cfo"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "draft", body["current_state"])
	assert.Equal(t, "approve", body["attempted"])

	code, body = s.do(http.MethodPost, "/api/v1/orders/"+id+"/approve", `{"approved_by":"cfo","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, code, "unknown fields are rejected")

	code, body = s.do(http.MethodPost, "/api/v1/orders/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "approved", body["status"])

	code, body = s.do(http.MethodPost, "/api/v1/orders/"+id+"/cancel", map[string]any{"reason": "not needed"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cancelled", body["status"])

	code, body = s.do(http.MethodPost, "/api/v1/orders/"+id+"/quotes", map[string]any{"provider": "x", "bid_rate": "4100"})
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "stale", body["kind"])
	assert.Equal(t, "regenerate", body["hint"])

	code, body = s.do(http.MethodGet, "/api/v1/orders?status=cancelled", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])
}

func TestOverlargeOrderIsStale(t *testing.T) {
	s := newServer(t)
	id := s.createExposure("INV-300", "10000", 20)

	code, body := s.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"exposure_id": id, "order_type": "forward", "amount": "15000",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "stale_order", body["kind"])
}

func TestImportEndpoint(t *testing.T) {
	s := newServer(t)
	csv := "reference,type,amount,currency,due_date\n" +
		"INV-1,payable,1000,USD," + dueIn(10) + "\n" +
		"INV-2,payable,2000,USD,not-a-date\n"

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exposures/import", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	code, body := s.serve(req)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 2, body["total_rows"])
	assert.EqualValues(t, 1, body["created"])
	assert.Len(t, body["errors"], 1)
	assert.NotContains(t, body, "regenerated", "a single row is generated on its own")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "exposures.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("reference,type,amount,currency,due_date\nINV-1,payable,1500,USD," + dueIn(12) + "\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/exposures/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, body = s.serve(req)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["updated"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/exposures/import", strings.NewReader("x"))
	req.Header.Set("Content-Type", "application/json")
	code, _ = s.serve(req)
	assert.Equal(t, http.StatusUnsupportedMediaType, code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/exposures/import", strings.NewReader("reference,amount\nX,1\n"))
	req.Header.Set("Content-Type", "text/csv")
	code, body = s.serve(req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "header", body["field"])
}

func TestPolicyAndReportEndpoints(t *testing.T) {
	s := newServer(t)

	code, p := s.do(http.MethodPost, "/api/v1/policies", map[string]any{
		"name": "EUR payables", "currency": "EUR", "exposure_type": "payable",
		"coverage_rules": map[string]string{"0-30": "100", "31-60": "50", "61-90": "25", "91+": "0"},
	})
	require.Equal(t, http.StatusCreated, code, p)
	policyID := p["id"].(string)

	code, body := s.do(http.MethodGet, "/api/v1/policies?currency=EUR", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["policies"], 1)

	code, body = s.do(http.MethodPost, "/api/v1/policies/"+policyID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["is_active"])

	code, body = s.do(http.MethodPost, "/api/v1/policies/"+policyID+"/deactivate", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "inactive", body["current_state"])

	s.createExposure("INV-400", "1000", 5)

	code, body = s.do(http.MethodGet, "/api/v1/reports/maturity-ladder?currency=USD", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["buckets"], 53)

	code, _ = s.do(http.MethodGet, "/api/v1/reports/maturity-ladder?currency=USD&bucket_days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodGet, "/api/v1/reports/coverage", nil)
	assert.Equal(t, http.StatusBadRequest, code, "currency is required")

	code, body = s.do(http.MethodGet, "/api/v1/reports/dashboard", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "recommendations")
	assert.Contains(t, body, "orders")

	code, body = s.do(http.MethodPost, "/api/v1/recommendations/generate", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["evaluated"])

	code, body = s.do(http.MethodGet, "/api/v1/recommendations/calendar", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["days"], 1)

	code, body = s.do(http.MethodPost, "/api/v1/recommendations/expire", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["expired"])
}

func TestPolicySimulateEndpoint(t *testing.T) {
	s := newServer(t)
	id := s.createExposure("INV-500", "1000", 5)

	code, body := s.do(http.MethodPost, "/api/v1/policies/simulate", map[string]any{
		"currency": "usd", "coverage_rules": map[string]string{"0-30": "50"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "USD", body["currency"])
	assert.Equal(t, "500", body["would_hedge"])
	assert.EqualValues(t, 1, body["estimated_orders"])
	assert.Equal(t, "50", body["projected_coverage_pct"])
	assert.Len(t, body["by_horizon"], 4)

	code, body = s.do(http.MethodGet, "/api/v1/exposures/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", body["amount_hedged"])

	code, body = s.do(http.MethodPost, "/api/v1/policies/simulate", map[string]any{
		"currency": "USD", "coverage_rules": map[string]string{"0-30": "150"},
	})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, _ = s.do(http.MethodPost, "/api/v1/policies/simulate", map[string]any{"policy_id": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
}
