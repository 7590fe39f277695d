package httpapi

import (
	"net/http"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
)

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := audit.Query{
		EntityKind: q.Get("entity_kind"),
		EntityID:   q.Get("entity_id"),
		Action:     q.Get("action"),
		Limit:      intParam(q.Get("limit"), 100),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "since must be RFC 3339", "since")
			return
		}
		query.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "until must be RFC 3339", "until")
			return
		}
		query.Until = t
	}

	entries, err := s.ledger.List(r.Context(), tenantID(r), query)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// verifyAudit recomputes the tenant's checksum chain from genesis.
func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Verify(r.Context(), tenantID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
