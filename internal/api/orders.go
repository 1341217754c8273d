package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/hedger/internal/orders"
	"github.com/wakala/hedger/internal/repository"
)

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.Orders.Create(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.OrderFilter{
		Status:     q.Get("status"),
		ExposureID: q.Get("exposure_id"),
		Currency:   strings.ToUpper(q.Get("currency")),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}
	list, total, err := h.Orders.List(r.Context(), filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page("orders", list, total, filter.Page, filter.Limit))
}

func (h *Handlers) OrderSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Orders.Summary(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handlers) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

func (h *Handlers) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.Orders.Approve(r.Context(), chi.URLParam(r, "id"), req.ApprovedBy)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) RejectOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.Orders.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(w, r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handlers) AddQuote(w http.ResponseWriter, r *http.Request) {
	var req orders.QuoteRequest
	if err := decode(w, r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	q, err := h.Orders.AddQuote(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handlers) ListQuotes(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Orders.Quotes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": qs})
}

func (h *Handlers) AcceptQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.Orders.AcceptQuote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "quoteID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ExecuteOrder is safe to retry: re-executing at the same rate answers with
// the trade already booked.
func (h *Handlers) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.ExecuteRequest
	if err := decode(w, r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	ex, err := h.Orders.Execute(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (h *Handlers) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orders.Trade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
