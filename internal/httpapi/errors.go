package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/jobs"
	"github.com/hausruf/hausruf/internal/match"
	"github.com/hausruf/hausruf/internal/schedule"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/internal/supervisor"
)

// apiError is the JSON error envelope for every non-2xx response.
type apiError struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
	Field  string `json:"field,omitempty"`
}

// ErrConsentRequired blocks an operation that needs an active consent record.
var ErrConsentRequired = errors.New("httpapi: consent required")

// writeJSON encodes v with the given status. Encoding failures are logged;
// the status line has already been written at that point.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "error", err)
	}
}

// writeError maps err onto the error taxonomy and writes the envelope.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Detail: "not found"})
	case errors.Is(err, store.ErrTenantRequired):
		writeJSON(w, http.StatusBadRequest, apiError{Detail: "tenant id required", Field: "tenant_id"})
	case errors.Is(err, jobs.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, apiError{Detail: err.Error(), Code: "illegal_transition"})
	case errors.Is(err, schedule.ErrSlotUnavailable), errors.Is(err, store.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, apiError{Detail: "slot no longer available", Code: "slot_unavailable"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, apiError{Detail: err.Error(), Code: "conflict"})
	case errors.Is(err, ErrConsentRequired):
		writeJSON(w, http.StatusForbidden, apiError{Detail: "active consent required", Code: "consent_required"})
	case errors.Is(err, match.ErrNoneAvailable):
		writeJSON(w, http.StatusNotFound, apiError{Detail: "no technician available", Code: "no_technician_available"})
	case errors.Is(err, supervisor.ErrOverloaded):
		writeJSON(w, http.StatusTooManyRequests, apiError{Detail: "too many concurrent sessions", Code: "overloaded"})
	case errors.Is(err, audit.ErrChainBroken):
		writeJSON(w, http.StatusInternalServerError, apiError{Detail: err.Error(), Code: "integrity"})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Detail: "internal error"})
	}
}

// badRequest writes a 400 with a field hint.
func badRequest(w http.ResponseWriter, detail, field string) {
	writeJSON(w, http.StatusBadRequest, apiError{Detail: detail, Field: field})
}

// decode parses the request body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
