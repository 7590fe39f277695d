package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hausruf/hausruf/internal/jobs"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// actor identifies REST mutations in history and audit rows.
const restActor = "api"

type createJobRequest struct {
	ContactID        string        `json:"contact_id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Trade            string        `json:"trade"`
	Urgency          string        `json:"urgency"`
	Source           string        `json:"source"`
	Address          types.Address `json:"address"`
	PreferredWindow  string        `json:"preferred_window"`
	AccessNotes      string        `json:"access_notes"`
	RecordingConsent bool          `json:"recording_consent"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	if req.Title == "" {
		badRequest(w, "title is required", "title")
		return
	}
	trade := types.TradeCategory(req.Trade)
	if !trade.IsValid() {
		badRequest(w, "unknown trade category", "trade")
		return
	}
	urgency := types.Urgency(req.Urgency)
	if !urgency.IsValid() {
		badRequest(w, "unknown urgency", "urgency")
		return
	}
	source := types.JobSource(req.Source)
	if req.Source == "" {
		source = types.SourceForm
	} else if !source.IsValid() {
		badRequest(w, "unknown source", "source")
		return
	}

	tenant := tenantID(r)

	// A recorded call needs an active call_recording consent on record.
	if req.RecordingConsent {
		if req.ContactID == "" {
			badRequest(w, "recording_consent requires contact_id", "contact_id")
			return
		}
		_, err := s.store.ActiveConsent(r.Context(), tenant, req.ContactID,
			types.ConsentCallRecording, s.now())
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, ErrConsentRequired)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
	}

	job, err := s.jobs.Create(r.Context(), jobs.Draft{
		TenantID:         tenant,
		ContactID:        req.ContactID,
		Title:            req.Title,
		Description:      req.Description,
		Trade:            trade,
		Urgency:          urgency,
		Source:           source,
		Address:          req.Address,
		PreferredWindow:  req.PreferredWindow,
		AccessNotes:      req.AccessNotes,
		RecordingConsent: req.RecordingConsent,
	}, restActor)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.RecordJobCreated(r.Context(), string(job.Urgency), string(job.Source))
	writeJSON(w, http.StatusCreated, job)
}

type jobListResponse struct {
	Items  []types.Job `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.JobFilter{
		Status:  types.JobStatus(q.Get("status")),
		Urgency: types.Urgency(q.Get("urgency")),
		Trade:   types.TradeCategory(q.Get("trade")),
		Source:  types.JobSource(q.Get("source")),
		Search:  q.Get("q")}
	if f.Status != "" && !f.Status.IsValid() {
		badRequest(w, "unknown status", "status")
		return
	}
	if f.Urgency != "" && !f.Urgency.IsValid() {
		badRequest(w, "unknown urgency", "urgency")
		return
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "from must be RFC 3339", "from")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "to must be RFC 3339", "to")
			return
		}
		f.To = t
	}
	f.Limit = intParam(q.Get("limit"), 50)
	f.Offset = intParam(q.Get("offset"), 0)

	items, err := s.store.ListJobs(r.Context(), tenantID(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []types.Job{}
	}
	writeJSON(w, http.StatusOK, jobListResponse{Items: items, Limit: f.Limit, Offset: f.Offset})
}

type jobDetailResponse struct {
	Job     types.Job            `json:"job"`
	History []types.HistoryEntry `json:"history"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), tenant, id)
	if err != nil {
		writeError(w, err)
		return
	}
	hist, err := s.store.ListHistory(r.Context(), tenant, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDetailResponse{Job: job, History: hist})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CountJobs(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) updateJobStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	next := types.JobStatus(req.Status)
	if !next.IsValid() {
		badRequest(w, "unknown status", "status")
		return
	}

	job, err := s.jobs.UpdateStatus(r.Context(), tenantID(r), chi.URLParam(r, "id"),
		next, restActor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type assignRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) assignJob(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error(), "")
		return
	}
	if req.WorkerID == "" {
		badRequest(w, "worker_id is required", "worker_id")
		return
	}

	job, err := s.jobs.Assign(r.Context(), tenantID(r), chi.URLParam(r, "id"),
		req.WorkerID, restActor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	// The body is optional on DELETE.
	_ = decode(r, &req)

	job, err := s.jobs.Cancel(r.Context(), tenantID(r), chi.URLParam(r, "id"),
		restActor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// intParam parses a decimal query value, falling back on empty or bad input.
func intParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
