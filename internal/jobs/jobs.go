// Package jobs materializes conversation outcomes and admin input into
// persisted jobs: number assignment, routing, status transitions and the two
// logs every mutation feeds (per-job history and the tenant audit ledger).
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/routing"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// ErrIllegalTransition is returned by UpdateStatus for moves the status
// machine forbids.
var ErrIllegalTransition = errors.New("jobs: illegal status transition")

// Notifier dispatches job notifications over channel adapters. Implementations
// must be safe for concurrent use.
type Notifier interface {
	NotifyAssigned(ctx context.Context, job types.Job) error
}

// nopNotifier is the default when no channel adapter is wired.
type nopNotifier struct{}

func (nopNotifier) NotifyAssigned(context.Context, types.Job) error { return nil }

// Service creates and mutates jobs.
type Service struct {
	store    store.Store
	router   *routing.Engine
	escalate *routing.Escalator
	ledger   *audit.Ledger
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier wires a channel notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEscalator wires the escalation timer runner.
func WithEscalator(e *routing.Escalator) Option {
	return func(s *Service) { s.escalate = e }
}

// New creates a Service.
func New(st store.Store, router *routing.Engine, ledger *audit.Ledger, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		router:   router,
		ledger:   ledger,
		notifier: nopNotifier{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Draft is the job-creation input. Number, status and routing fields are
// assigned by the service.
type Draft struct {
	TenantID    string
	ContactID   string
	Title       string
	Description string
	Trade       types.TradeCategory
	Urgency     types.Urgency
	Source      types.JobSource
	Address     types.Address

	PreferredWindow  string
	AccessNotes      string
	RecordingConsent bool
}

// Create persists a new job: assigns the JOB-YYYY-NNNN number, writes the row
// with status new, appends the "created" history row, routes it, arms the
// escalation timer when the winning rule declares one, and notifies when
// requested. actor identifies the creating session or user.
func (s *Service) Create(ctx context.Context, draft Draft, actor string) (types.Job, error) {
	if draft.TenantID == "" {
		return types.Job{}, store.ErrTenantRequired
	}
	now := s.now().UTC()

	seq, err := s.store.NextJobSequence(ctx, draft.TenantID, now.Year())
	if err != nil {
		return types.Job{}, fmt.Errorf("jobs: assign number: %w", err)
	}

	job := types.Job{
		ID:               uuid.NewString(),
		TenantID:         draft.TenantID,
		JobNumber:        fmt.Sprintf("JOB-%d-%04d", now.Year(), seq),
		ContactID:        draft.ContactID,
		Title:            draft.Title,
		Description:      draft.Description,
		Trade:            draft.Trade,
		Urgency:          draft.Urgency,
		Status:           types.StatusNew,
		Source:           draft.Source,
		Address:          draft.Address,
		PreferredWindow:  draft.PreferredWindow,
		AccessNotes:      draft.AccessNotes,
		RecordingConsent: draft.RecordingConsent,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	rules, err := s.store.ListRules(ctx, draft.TenantID)
	if err != nil {
		return types.Job{}, fmt.Errorf("jobs: load rules: %w", err)
	}
	decision, err := s.router.Evaluate(job, rules)
	if err != nil {
		return types.Job{}, fmt.Errorf("jobs: route: %w", err)
	}
	job.DepartmentID = decision.DepartmentID
	job.WorkerID = decision.WorkerID
	job.RoutingPriority = decision.Priority
	job.RoutingReason = decision.Reason
	if job.WorkerID != "" {
		job.Status = types.StatusAssigned
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return types.Job{}, fmt.Errorf("jobs: create: %w", err)
	}
	if err := s.appendHistory(ctx, job, actor, "created", map[string]string{
		"source":  string(job.Source),
		"urgency": string(job.Urgency),
	}); err != nil {
		return types.Job{}, err
	}
	if _, err := s.ledger.Record(ctx, job.TenantID, actor, "job_created", "job", job.ID, map[string]string{
		"job_number": job.JobNumber,
		"routing":    job.RoutingReason,
	}); err != nil {
		return types.Job{}, fmt.Errorf("jobs: audit: %w", err)
	}

	if s.escalate != nil && decision.EscalateAfter > 0 {
		s.escalate.Schedule(job.TenantID, job.ID, decision.EscalateAfter)
	}
	if decision.Notify {
		if err := s.notifier.NotifyAssigned(ctx, job); err != nil {
			s.log.Warn("job notification failed", "job_id", job.ID, "error", err)
		}
	}

	s.log.Info("job created",
		"tenant_id", job.TenantID,
		"job_number", job.JobNumber,
		"trade", job.Trade,
		"urgency", job.Urgency,
		"priority", job.RoutingPriority,
	)
	return job, nil
}

// UpdateStatus validates and applies a status transition, cascading
// timestamps and writing both logs. Setting the current status again is a
// no-op. actor identifies the caller; reason is recorded for cancellations.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, jobID string, next types.JobStatus, actor, reason string) (types.Job, error) {
	if !next.IsValid() {
		return types.Job{}, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, next)
	}
	job, err := s.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return types.Job{}, err
	}
	if job.Status == next {
		return job, nil
	}
	if !job.Status.CanTransitionTo(next) {
		return types.Job{}, fmt.Errorf("%w: %s → %s", ErrIllegalTransition, job.Status, next)
	}

	now := s.now().UTC()
	prev := job.Status
	job.Status = next
	job.UpdatedAt = now
	switch next {
	case types.StatusInProgress:
		job.StartedAt = &now
	case types.StatusCompleted:
		job.CompletedAt = &now
	}

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return types.Job{}, fmt.Errorf("jobs: update status: %w", err)
	}

	detail := map[string]string{"from": string(prev), "to": string(next)}
	if reason != "" {
		detail["reason"] = reason
	}
	if err := s.appendHistory(ctx, job, actor, "status_changed", detail); err != nil {
		return types.Job{}, err
	}
	if _, err := s.ledger.Record(ctx, tenantID, actor, "job_status_changed", "job", job.ID, detail); err != nil {
		return types.Job{}, fmt.Errorf("jobs: audit: %w", err)
	}

	if next.Terminal() && s.escalate != nil {
		s.escalate.Cancel(job.ID)
	}
	return job, nil
}

// Assign sets the worker on a job and re-checks routing priority. A job in
// status new moves to assigned.
func (s *Service) Assign(ctx context.Context, tenantID, jobID, workerID, actor string) (types.Job, error) {
	job, err := s.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return types.Job{}, err
	}
	if job.Status.Terminal() {
		return types.Job{}, fmt.Errorf("%w: job is %s", ErrIllegalTransition, job.Status)
	}
	if _, err := s.store.GetWorker(ctx, tenantID, workerID); err != nil {
		return types.Job{}, fmt.Errorf("jobs: assign: %w", err)
	}

	job.WorkerID = workerID
	job.UpdatedAt = s.now().UTC()
	if job.Status == types.StatusNew {
		job.Status = types.StatusAssigned
	}

	rules, err := s.store.ListRules(ctx, tenantID)
	if err != nil {
		return types.Job{}, fmt.Errorf("jobs: load rules: %w", err)
	}
	if decision, err := s.router.Evaluate(job, rules); err == nil {
		job.RoutingPriority = decision.Priority
		job.RoutingReason = decision.Reason
	}

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return types.Job{}, fmt.Errorf("jobs: assign: %w", err)
	}
	if err := s.appendHistory(ctx, job, actor, "assigned", map[string]string{"worker_id": workerID}); err != nil {
		return types.Job{}, err
	}
	if _, err := s.ledger.Record(ctx, tenantID, actor, "job_assigned", "job", job.ID, map[string]string{
		"worker_id": workerID,
		"priority":  strconv.Itoa(job.RoutingPriority),
	}); err != nil {
		return types.Job{}, fmt.Errorf("jobs: audit: %w", err)
	}
	return job, nil
}

// Cancel soft-deletes a job by moving it to cancelled with a reason.
func (s *Service) Cancel(ctx context.Context, tenantID, jobID, actor, reason string) (types.Job, error) {
	return s.UpdateStatus(ctx, tenantID, jobID, types.StatusCancelled, actor, reason)
}

func (s *Service) appendHistory(ctx context.Context, job types.Job, actor, action string, detail map[string]string) error {
	h := types.HistoryEntry{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Actor:     actor,
		Action:    action,
		Timestamp: s.now().UTC(),
		Detail:    detail,
	}
	if err := s.store.AppendHistory(ctx, job.TenantID, h); err != nil {
		return fmt.Errorf("jobs: append history: %w", err)
	}
	return nil
}
