package httpapi

import (
	"net/http"

	"github.com/hausruf/hausruf/internal/outbound"
)

// WithPlanner mounts the outbound call planning endpoint.
func WithPlanner(p *outbound.Planner) Option {
	return func(srv *Server) { srv.planner = p }
}

// outboundPlan returns the current call plan for the tenant: appointment
// reminders first, then maintenance recalls.
func (s *Server) outboundPlan(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		writeJSON(w, http.StatusNotFound, apiError{Detail: "outbound planning not configured"})
		return
	}
	plan, err := s.planner.Plan(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
