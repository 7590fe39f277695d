package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hausruf/hausruf/pkg/types"
)

func (s *Server) listConsents(w http.ResponseWriter, r *http.Request) {
	consents, err := s.store.ListConsents(r.Context(), tenantID(r), chi.URLParam(r, "contact_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if consents == nil {
		consents = []types.Consent{}
	}
	writeJSON(w, http.StatusOK, consents)
}

type grantConsentRequest struct {
	Kind      string     `json:"kind"`
	Method    string     `json:"method"`
	CallID    string     `json:"call_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (s *Server) grantConsent(w http.ResponseWriter, r *http.Request) {
	var req grantConsentRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	kind := types.ConsentKind(req.Kind)
	if !kind.IsValid() {
		badRequest(w, "unknown consent kind", "kind")
		return
	}
	method := types.ConsentMethod(req.Method)
	switch method {
	case types.ConsentVerbal, types.ConsentWritten, types.ConsentDigital:
	default:
		badRequest(w, "unknown consent method", "method")
		return
	}

	tenant := tenantID(r)
	contactID := chi.URLParam(r, "contact_id")
	consent := types.Consent{
		ID:        uuid.NewString(),
		TenantID:  tenant,
		ContactID: contactID,
		Kind:      kind,
		Method:    method,
		CallID:    req.CallID,
		GrantedAt: s.now().UTC(),
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.store.AddConsent(r.Context(), consent); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ledger.Record(r.Context(), tenant, restActor, "consent_granted",
		"consent", consent.ID, map[string]string{
			"contact_id": contactID,
			"kind":       string(kind),
			"method":     string(method),
		}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, consent)
}

func (s *Server) revokeConsent(w http.ResponseWriter, r *http.Request) {
	kind := types.ConsentKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		badRequest(w, "unknown consent kind", "kind")
		return
	}

	tenant := tenantID(r)
	contactID := chi.URLParam(r, "contact_id")
	if err := s.store.RevokeConsent(r.Context(), tenant, contactID, kind, s.now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ledger.Record(r.Context(), tenant, restActor, "consent_revoked",
		"consent", contactID, map[string]string{"kind": string(kind)}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// exportContact returns the contact's complete data bundle for portability.
func (s *Server) exportContact(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	contactID := chi.URLParam(r, "contact_id")

	bundle, err := s.store.ExportContact(r.Context(), tenant, contactID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ledger.Record(r.Context(), tenant, restActor, "data_exported",
		"contact", contactID, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// eraseContact scrubs personal data from the contact and its jobs. Prior
// audit rows stay untouched; the erasure itself is recorded.
func (s *Server) eraseContact(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	contactID := chi.URLParam(r, "contact_id")

	if err := s.store.EraseContact(r.Context(), tenant, contactID, s.now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ledger.Record(r.Context(), tenant, restActor, "erasure_executed",
		"contact", contactID, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
