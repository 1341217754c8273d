package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/hedger/internal/recommendation"
	"github.com/wakala/hedger/internal/repository"
)

type generateRequest struct {
	ExposureID  string   `json:"exposure_id,omitempty"`
	ExposureIDs []string `json:"exposure_ids,omitempty"`
	Currency    string   `json:"currency,omitempty"`
}

// GenerateRecommendations evaluates one exposure when exposure_id is given,
// otherwise runs a batch over the listed or all active exposures.
func (h *Handlers) GenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(w, r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}

	if req.ExposureID != "" {
		res, err := h.Generator.GenerateForExposure(r.Context(), req.ExposureID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err := h.Generator.Regenerate(r.Context(), recommendation.RegenerateOptions{
		ExposureIDs: req.ExposureIDs,
		Currency:    strings.ToUpper(req.Currency),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ExpireRecommendations(w http.ResponseWriter, r *http.Request) {
	n, err := h.Recommendations.ExpireStale(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *Handlers) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.RecommendationFilter{
		Status:     q.Get("status"),
		Action:     q.Get("action"),
		Urgency:    q.Get("urgency"),
		ExposureID: q.Get("exposure_id"),
		Currency:   strings.ToUpper(q.Get("currency")),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}
	recs, total, err := h.Recommendations.List(r.Context(), filter, parseBool(q.Get("include_expired")))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page("recommendations", recs, total, filter.Page, filter.Limit))
}

func (h *Handlers) RecommendationSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Recommendations.Summary(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// RecommendationCalendar covers the next 90 days unless from/to are given.
func (h *Handlers) RecommendationCalendar(w http.ResponseWriter, r *http.Request) {
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
		end := from.AddDate(0, 0, 90)
		to = &end
	}

	days, err := h.Recommendations.Calendar(r.Context(), *from, *to)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (h *Handlers) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Recommendations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type decisionRequest struct {
	DecidedBy string `json:"decided_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AcceptRecommendation answers with the order the acceptance created.
func (h *Handlers) AcceptRecommendation(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(w, r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.Recommendations.Accept(r.Context(), chi.URLParam(r, "id"), req.DecidedBy)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handlers) RejectRecommendation(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	rec, err := h.Recommendations.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason, req.DecidedBy)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
