package routing

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// Escalator runs the escalation timers declared by routing rules. When a
// timer fires and the job is still in new or assigned, the job's priority is
// raised one tier and an "escalated" audit entry is recorded.
type Escalator struct {
	store  store.Jobs
	ledger *audit.Ledger
	log    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer // jobID → pending timer
	closed bool
}

// NewEscalator creates an Escalator.
func NewEscalator(st store.Jobs, ledger *audit.Ledger, log *slog.Logger) *Escalator {
	return &Escalator{
		store:  st,
		ledger: ledger,
		log:    log,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms an escalation timer for the job. A second call for the same
// job replaces the pending timer. A non-positive delay is ignored.
func (e *Escalator) Schedule(tenantID, jobID string, after time.Duration) {
	if after <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[jobID]; ok {
		t.Stop()
	}
	e.timers[jobID] = time.AfterFunc(after, func() {
		e.fire(tenantID, jobID)
	})
}

// Cancel drops the pending timer for the job, if any. Called when a job
// reaches a state that no longer needs escalation.
func (e *Escalator) Cancel(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[jobID]; ok {
		t.Stop()
		delete(e.timers, jobID)
	}
}

// Close stops all pending timers.
func (e *Escalator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Escalator) fire(tenantID, jobID string) {
	e.mu.Lock()
	delete(e.timers, jobID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := e.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		e.log.Error("escalation: load job", "job_id", jobID, "error", err)
		return
	}
	if job.Status != types.StatusNew && job.Status != types.StatusAssigned {
		return
	}

	before := job.RoutingPriority
	job.RoutingPriority = RaisePriority(job.RoutingPriority)
	if job.RoutingPriority == before {
		return
	}
	job.UpdatedAt = time.Now().UTC()

	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.log.Error("escalation: update job", "job_id", jobID, "error", err)
		return
	}
	if _, err := e.ledger.Record(ctx, tenantID, "system", "escalated", "job", jobID, map[string]string{
		"priority_before": strconv.Itoa(before),
		"priority_after":  strconv.Itoa(job.RoutingPriority),
	}); err != nil {
		e.log.Error("escalation: audit", "job_id", jobID, "error", err)
		return
	}

	e.log.Info("job escalated",
		"tenant_id", tenantID,
		"job_id", jobID,
		"priority_before", before,
		"priority_after", job.RoutingPriority,
	)
}
