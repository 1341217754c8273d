package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/hedger/internal/repository"
	"github.com/wakala/hedger/internal/settlement"
)

func (h *Handlers) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.SettlementFilter{
		Status:   q.Get("status"),
		Currency: strings.ToUpper(q.Get("currency")),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}
	var err error
	if filter.From, err = parseDateParam("from", q.Get("from")); err != nil {
		writeErr(w, r, err)
		return
	}
	if filter.To, err = parseDateParam("to", q.Get("to")); err != nil {
		writeErr(w, r, err)
		return
	}
	list, total, err := h.Settlements.List(r.Context(), filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page("settlements", list, total, filter.Page, filter.Limit))
}

func (h *Handlers) SettlementSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settlements.Summary(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SettlementCalendar covers the next 30 days unless from/to are given.
func (h *Handlers) SettlementCalendar(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	from, err := parseDateParam("from", q.Get("from"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	to, err := parseDateParam("to", q.Get("to"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if from == nil {
		from = &today
	}
	if to == nil {
		end := from.AddDate(0, 0, 30)
		to = &end
	}

	days, err := h.Settlements.Calendar(r.Context(), *from, *to)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (h *Handlers) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settlements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) OrderSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.Settlements.ForOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": list})
}

func (h *Handlers) ProcessSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlement.ProcessRequest
	if err := decode(w, r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	s, err := h.Settlements.MarkProcessing(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) CompleteSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlement.CompleteRequest
	if err := decode(w, r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	s, err := h.Settlements.MarkCompleted(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) FailSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlement.FailRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	s, err := h.Settlements.MarkFailed(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settlements.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
