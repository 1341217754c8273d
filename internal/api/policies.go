package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/hedger/internal/policy"
	"github.com/wakala/hedger/internal/reporting"
)

func (h *Handlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.Request
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.Policies.Create(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ps, err := h.Policies.List(r.Context(), q.Get("currency"), parseBool(q.Get("active")))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": ps})
}

func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePolicy may answer with a new id when the old version is referenced.
func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.Request
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.Policies.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SimulatePolicy previews a rule set over the open book without saving it.
func (h *Handlers) SimulatePolicy(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req reporting.SimulationRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	sim, err := h.Reports.SimulatePolicy(r.Context(), req, today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}
