package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wakala/hedger/internal/domain"
	"github.com/wakala/hedger/internal/logger"
)

const maxBodyBytes = 1 << 20

// errorBody is the shape of every non-2xx response.
type errorBody struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	Field        string `json:"field,omitempty"`
	CurrentState string `json:"current_state,omitempty"`
	Attempted    string `json:"attempted,omitempty"`
	Hint         string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// writeErr maps a service error onto a status code. Anything unrecognised
// is logged and reported as a bare 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	var status int

	var ve *domain.ValidationError
	var te *domain.TransitionError
	switch {
	case errors.As(err, &ve):
		status, body.Kind, body.Field = http.StatusBadRequest, "validation", ve.Field
	case errors.Is(err, domain.ErrValidation):
		status, body.Kind = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotFound):
		status, body.Kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrStale):
		status, body.Kind, body.Hint = http.StatusGone, "stale", "regenerate"
		if errors.As(err, &te) {
			body.CurrentState, body.Attempted = te.From, te.Attempted
		}
	case errors.As(err, &te):
		status, body.Kind = http.StatusConflict, "invalid_transition"
		body.CurrentState, body.Attempted = te.From, te.Attempted
	case errors.Is(err, domain.ErrStaleOrder):
		status, body.Kind, body.Hint = http.StatusConflict, "stale_order", "regenerate"
	case errors.Is(err, domain.ErrConflict):
		status, body.Kind = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrReconciliationRequired):
		status, body.Kind = http.StatusInternalServerError, "reconciliation_required"
		logger.FromContext(r.Context()).Error("request needs reconciliation", "path", r.URL.Path, "error", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, body.Kind = http.StatusServiceUnavailable, "unavailable"
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		status, body = http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "internal"}
	}
	writeJSON(w, status, body)
}

// decode reads exactly one JSON object into dst, rejecting unknown fields.
// An empty body leaves dst untouched when allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "is required")
		}
		return domain.NewValidationError("body", err.Error())
	}
	if dec.More() {
		return domain.NewValidationError("body", "must contain a single JSON object")
	}
	return nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// parseDateParam accepts YYYY-MM-DD or RFC3339. An empty value yields nil.
func parseDateParam(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := domain.ParseDate(s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, domain.NewValidationError(name, fmt.Sprintf("%q is not a date", s))
	}
	t = domain.Truncate(t)
	return &t, nil
}

// page wraps a list response with its paging window.
func page(key string, items any, total, pageNo, limit int) map[string]any {
	return map[string]any{
		key:     items,
		"total": total,
		"page":  pageNo,
		"limit": limit,
	}
}
