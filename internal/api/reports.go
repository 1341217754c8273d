package api

import (
	"net/http"
	"strconv"

	"github.com/wakala/hedger/internal/domain"
)

func (h *Handlers) CoverageReport(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	rep, err := h.Reports.CoverageReport(r.Context(), r.URL.Query().Get("currency"), today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handlers) MaturityLadder(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	bucketDays := 0
	if raw := q.Get("bucket_days"); raw != "" {
		if bucketDays, err = strconv.Atoi(raw); err != nil {
			writeErr(w, r, domain.NewValidationError("bucket_days", "must be an integer"))
			return
		}
	}
	buckets, err := h.Reports.MaturityLadder(r.Context(), q.Get("currency"), bucketDays, today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"currency": q.Get("currency"),
		"as_of":    today.Format(domain.DateLayout),
		"buckets":  buckets,
	})
}

func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := h.Reports.Dashboard(r.Context(), r.URL.Query().Get("currency"), today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
