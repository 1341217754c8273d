package api

import (
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/ingestion"
	"github.com/wakala/hedger/internal/ledger"
	"github.com/wakala/hedger/internal/logger"
	"github.com/wakala/hedger/internal/recommendation"
	"github.com/wakala/hedger/internal/repository"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	Deps
}

// today is the calendar date date-derived views are computed against. An
// as_of query parameter overrides it.
func (h *Handlers) today(r *http.Request) (time.Time, error) {
	asOf, err := parseDateParam("as_of", r.URL.Query().Get("as_of"))
	if err != nil {
		return time.Time{}, err
	}
	if asOf != nil {
		return *asOf, nil
	}
	return domain.Truncate(h.Now()), nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// exposureView adds the derived fields clients filter and sort on.
type exposureView struct {
	*domain.Exposure
	Status          domain.ExposureStatus `json:"status"`
	AmountOpen      decimal.Decimal       `json:"amount_open"`
	HedgePercentage decimal.Decimal       `json:"hedge_percentage"`
	DaysToMaturity  int                   `json:"days_to_maturity"`
	Horizon         domain.Horizon        `json:"horizon"`
}

func viewExposure(e *domain.Exposure, today time.Time) exposureView {
	days := e.DaysToMaturity(today)
	return exposureView{
		Exposure:        e,
		Status:          e.Status(today),
		AmountOpen:      e.AmountOpen(),
		HedgePercentage: e.HedgePercentage(),
		DaysToMaturity:  days,
		Horizon:         domain.HorizonFor(days),
	}
}

func viewExposures(exps []domain.Exposure, today time.Time) []exposureView {
	out := make([]exposureView, len(exps))
	for i := range exps {
		out[i] = viewExposure(&exps[i], today)
	}
	return out
}

// refresh re-evaluates exposures right after a ledger write. The write has
// already been committed, so generation failures are logged, not returned.
func (h *Handlers) refresh(r *http.Request, ids ...string) *recommendation.RegenerateResult {
	if h.Generator == nil || len(ids) == 0 {
		return nil
	}
	l := logger.FromContext(r.Context())
	if len(ids) == 1 {
		res, err := h.Generator.GenerateForExposure(r.Context(), ids[0])
		if err != nil {
			l.Warn("on-demand generation failed", "exposureID", ids[0], "error", err)
			return nil
		}
		l.Debug("on-demand generation", "exposureID", ids[0], "outcome", res.Outcome)
		return nil
	}
	res, err := h.Generator.Regenerate(r.Context(), recommendation.RegenerateOptions{ExposureIDs: ids})
	if err != nil {
		l.Warn("on-demand regeneration failed", "exposures", len(ids), "error", err)
	}
	return res
}

// --- exposures ---

func (h *Handlers) CreateExposure(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateExposureRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	req.Source = domain.SourceManual

	e, err := h.Ledger.Create(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.refresh(r, e.ID)
	writeJSON(w, http.StatusCreated, viewExposure(e, domain.Truncate(h.Now())))
}

func (h *Handlers) ListExposures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	filter := repository.ExposureFilter{
		Type:           q.Get("type"),
		Status:         q.Get("status"),
		Currency:       strings.ToUpper(q.Get("currency")),
		CounterpartyID: q.Get("counterparty_id"),
		Horizon:        q.Get("horizon"),
		Today:          today,
		Page:           parseIntDefault(q.Get("page"), 1),
		Limit:          parseIntDefault(q.Get("limit"), 50),
	}
	if filter.DueFrom, err = parseDateParam("due_from", q.Get("due_from")); err != nil {
		writeErr(w, r, err)
		return
	}
	if filter.DueTo, err = parseDateParam("due_to", q.Get("due_to")); err != nil {
		writeErr(w, r, err)
		return
	}
	if raw := q.Get("min_amount"); raw != "" {
		minAmount, err := decimal.NewFromString(raw)
		if err != nil {
			writeErr(w, r, domain.NewValidationError("min_amount", "must be a number"))
			return
		}
		filter.MinAmount = &minAmount
	}

	exps, total, err := h.Ledger.Query(r.Context(), filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page("exposures", viewExposures(exps, today), total, filter.Page, filter.Limit))
}

func (h *Handlers) ExposureSummary(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	sums, err := h.Ledger.Summarize(r.Context(), r.URL.Query().Get("currency"), today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": sums})
}

func (h *Handlers) ExposuresByHorizon(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	exps, err := h.Ledger.ListByHorizon(r.Context(), domain.Horizon(q.Get("horizon")), q.Get("currency"), today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"horizon":   q.Get("horizon"),
		"exposures": viewExposures(exps, today),
	})
}

type importResponse struct {
	*ingestion.ImportResult
	Regenerated *recommendation.RegenerateResult `json:"regenerated,omitempty"`
}

// ImportExposures takes either a multipart form with a "file" field or a
// raw text/csv body.
func (h *Handlers) ImportExposures(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = http.MaxBytesReader(w, r.Body, 32<<20)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid multipart form: "+err.Error())
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "file field is required")
			return
		}
		defer file.Close()
		body = file
	case "text/csv", "text/plain", "application/csv":
	default:
		writeError(w, http.StatusUnsupportedMediaType, "validation", "expected multipart/form-data or text/csv")
		return
	}

	result, err := h.Import.ImportCSV(r.Context(), body)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		ImportResult: result,
		Regenerated:  h.refresh(r, result.ExposureIDs...),
	})
}

func (h *Handlers) GetExposure(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExposure(e, today))
}

// UpdateExposure rejects amount_hedged and status as unknown fields.
func (h *Handlers) UpdateExposure(w http.ResponseWriter, r *http.Request) {
	var req ledger.UpdateExposureRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	e, err := h.Ledger.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.refresh(r, e.ID)
	writeJSON(w, http.StatusOK, viewExposure(e, domain.Truncate(h.Now())))
}

func (h *Handlers) CancelExposure(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExposure(e, domain.Truncate(h.Now())))
}

func (h *Handlers) ExposurePolicy(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.Policies.MatchExposure(r.Context(), e)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exposure_id": e.ID,
		"managed":     res.Managed(),
		"policy":      res.Policy,
		"specificity": res.Specificity,
		"reason":      res.Reason,
	})
}

// --- counterparties ---

func (h *Handlers) CreateCounterparty(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateCounterpartyRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.Ledger.CreateCounterparty(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) ListCounterparties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cps, err := h.Ledger.ListCounterparties(r.Context(), q.Get("type"), parseBool(q.Get("active")))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counterparties": cps})
}
