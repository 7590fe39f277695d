package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hausruf/hausruf/internal/telephony"
)

// Webhook signature headers. The signature covers "<timestamp>.<body>".
const (
	signatureHeader = "X-Hausruf-Signature"
	timestampHeader = "X-Hausruf-Timestamp"
)

// maxWebhookBody bounds provider payloads.
const maxWebhookBody = 1 << 20

// handleWebhook verifies the provider signature and hands the payload to the
// webhook sink. Any verification failure is a 403; the body is never parsed
// before the signature checks out.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, "unreadable body", "")
		return
	}

	ts, err := strconv.ParseInt(r.Header.Get(timestampHeader), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusForbidden, apiError{Detail: "missing or malformed timestamp", Code: "invalid_signature"})
		return
	}
	if err := telephony.VerifySignature(s.cfg.WebhookSecret, ts, body,
		r.Header.Get(signatureHeader), s.now(), s.cfg.SignatureTolerance); err != nil {
		s.log.Warn("webhook signature rejected", "provider", provider, "error", err)
		writeJSON(w, http.StatusForbidden, apiError{Detail: "signature verification failed", Code: "invalid_signature"})
		return
	}

	if s.webhooks == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if err := s.webhooks.HandleWebhook(r.Context(), provider, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
