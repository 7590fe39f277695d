package httpapi

import (
	"net/http"
	"time"

	"github.com/hausruf/hausruf/internal/match"
	"github.com/hausruf/hausruf/internal/schedule"
	"github.com/hausruf/hausruf/internal/triage"
	"github.com/hausruf/hausruf/pkg/types"
)

type triageRequest struct {
	Description string `json:"description"`
	Context     struct {
		CallerAge    int    `json:"caller_age"`
		AffectedAge  int    `json:"affected_age"`
		Pregnant     bool   `json:"pregnant"`
		PropertyType string `json:"property_type"`
		Vulnerable   bool   `json:"vulnerable"`
		OutOfHours   bool   `json:"out_of_hours"`
	} `json:"context"`
}

// assessTriage evaluates a description without side effects.
func (s *Server) assessTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	if req.Description == "" {
		badRequest(w, "description is required", "description")
		return
	}

	res := s.triage.Assess(req.Description, triage.Context{
		CallerAge:    req.Context.CallerAge,
		AffectedAge:  req.Context.AffectedAge,
		Pregnant:     req.Context.Pregnant,
		PropertyType: types.PropertyType(req.Context.PropertyType),
		Vulnerable:   req.Context.Vulnerable,
		OutOfHours:   req.Context.OutOfHours,
	})
	writeJSON(w, http.StatusOK, res)
}

type technicianSearchRequest struct {
	Trade           string   `json:"trade"`
	Urgency         string   `json:"urgency"`
	DepartmentID    string   `json:"department_id"`
	RequiredCerts   []string `json:"required_certs"`
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	ServiceRadiusKm float64  `json:"service_radius_km"`
}

type technicianSearchResponse struct {
	Candidates []match.Candidate `json:"candidates"`
}

func (s *Server) searchTechnicians(w http.ResponseWriter, r *http.Request) {
	var req technicianSearchRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	trade := types.TradeCategory(req.Trade)
	if !trade.IsValid() {
		badRequest(w, "unknown trade category", "trade")
		return
	}
	urgency := types.Urgency(req.Urgency)
	if req.Urgency == "" {
		urgency = types.UrgencyNormal
	} else if !urgency.IsValid() {
		badRequest(w, "unknown urgency", "urgency")
		return
	}

	workers, err := s.store.ListWorkers(r.Context(), tenantID(r), req.DepartmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	candidates, err := s.matcher.Rank(workers, match.Criteria{
		Trade:           trade,
		Urgency:         urgency,
		RequiredCerts:   req.RequiredCerts,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		ServiceRadiusKm: req.ServiceRadiusKm,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, technicianSearchResponse{Candidates: candidates})
}

type slotSearchRequest struct {
	WorkerID        string         `json:"worker_id"`
	Urgency         string         `json:"urgency"`
	Earliest        *time.Time     `json:"earliest"`
	Latest          *time.Time     `json:"latest"`
	DurationMinutes int            `json:"duration_minutes"`
	PreferredDays   []int          `json:"preferred_weekdays"`
	PreferredWindow types.DayHours `json:"preferred_window"`
}

type slotSearchResponse struct {
	Slots []schedule.Slot `json:"slots"`
}

func (s *Server) findSlots(w http.ResponseWriter, r *http.Request) {
	var req slotSearchRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	if req.WorkerID == "" {
		badRequest(w, "worker_id is required", "worker_id")
		return
	}
	urgency := types.Urgency(req.Urgency)
	if req.Urgency == "" {
		urgency = types.UrgencyNormal
	} else if !urgency.IsValid() {
		badRequest(w, "unknown urgency", "urgency")
		return
	}

	c := schedule.Criteria{
		TenantID:        tenantID(r),
		WorkerID:        req.WorkerID,
		Urgency:         urgency,
		Duration:        time.Duration(req.DurationMinutes) * time.Minute,
		BusinessHours:   s.cfg.BusinessHours,
		PreferredWindow: req.PreferredWindow,
	}
	if req.Earliest != nil {
		c.Earliest = *req.Earliest
	}
	if req.Latest != nil {
		c.Latest = *req.Latest
	}
	for _, d := range req.PreferredDays {
		if d < 0 || d > 6 {
			badRequest(w, "weekdays are 0 (Sunday) through 6", "preferred_weekdays")
			return
		}
		c.PreferredWeekdays = append(c.PreferredWeekdays, time.Weekday(d))
	}

	slots, err := s.schedule.FindSlots(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	if slots == nil {
		slots = []schedule.Slot{}
	}
	writeJSON(w, http.StatusOK, slotSearchResponse{Slots: slots})
}

type bookRequest struct {
	JobID string        `json:"job_id"`
	Slot  schedule.Slot `json:"slot"`
}

func (s *Server) bookSlot(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	if req.JobID == "" {
		badRequest(w, "job_id is required", "job_id")
		return
	}
	if req.Slot.WorkerID == "" || req.Slot.Start.IsZero() || req.Slot.End.IsZero() {
		badRequest(w, "slot worker_id, start and end are required", "slot")
		return
	}

	tenant := tenantID(r)
	job, err := s.store.GetJob(r.Context(), tenant, req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}

	start := s.now()
	job, err = s.schedule.Book(r.Context(), tenant, req.Slot, job, restActor)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.BookingDuration.Record(r.Context(), time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, job)
}
