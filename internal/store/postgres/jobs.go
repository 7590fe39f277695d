package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

const jobColumns = `id, tenant_id, job_number, contact_id, title, description,
	trade, urgency, status, source, address, distance_km,
	routing_priority, routing_reason, department_id, worker_id,
	preferred_window, access_notes, recording_consent,
	created_at, updated_at, scheduled_at, scheduled_end, started_at, completed_at`

// NextJobSequence implements [store.Jobs]. The upsert increments atomically so
// concurrent callers never observe the same value.
func (s *Store) NextJobSequence(ctx context.Context, tenantID string, year int) (int, error) {
	if tenantID == "" {
		return 0, store.ErrTenantRequired
	}
	const q = `
		INSERT INTO job_sequences (tenant_id, year, counter)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, year)
		DO UPDATE SET counter = job_sequences.counter + 1
		RETURNING counter`

	var n int
	if err := s.pool.QueryRow(ctx, q, tenantID, year).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: next job sequence: %w", err)
	}
	return n, nil
}

// CreateJob implements [store.Jobs].
func (s *Store) CreateJob(ctx context.Context, j types.Job) error {
	if j.TenantID == "" {
		return store.ErrTenantRequired
	}
	const q = `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	_, err := s.pool.Exec(ctx, q, jobArgs(j)...)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: job %s", store.ErrConflict, j.JobNumber)
	}
	if err != nil {
		return fmt.Errorf("postgres store: create job: %w", err)
	}
	return nil
}

// GetJob implements [store.Jobs].
func (s *Store) GetJob(ctx context.Context, tenantID, id string) (types.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return types.Job{}, fmt.Errorf("postgres store: get job: %w", err)
	}
	j, err := pgx.CollectOneRow(rows, scanJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Job{}, store.ErrNotFound
	}
	return j, err
}

// UpdateJob implements [store.Jobs].
func (s *Store) UpdateJob(ctx context.Context, j types.Job) error {
	tag, err := s.pool.Exec(ctx, updateJobQuery, jobArgs(j)...)
	if err != nil {
		return fmt.Errorf("postgres store: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const updateJobQuery = `
	UPDATE jobs
	SET    job_number = $3, contact_id = $4, title = $5, description = $6,
	       trade = $7, urgency = $8, status = $9, source = $10,
	       address = $11, distance_km = $12,
	       routing_priority = $13, routing_reason = $14,
	       department_id = $15, worker_id = $16,
	       preferred_window = $17, access_notes = $18, recording_consent = $19,
	       created_at = $20, updated_at = $21,
	       scheduled_at = $22, scheduled_end = $23, started_at = $24, completed_at = $25
	WHERE  id = $1 AND tenant_id = $2`

// ListJobs implements [store.Jobs]. Filters assemble the same way the query
// surface exposes them: zero fields are ignored, set fields combine by AND.
func (s *Store) ListJobs(ctx context.Context, tenantID string, f store.JobFilter) ([]types.Job, error) {
	args := []any{tenantID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = $1"}
	if f.Status != "" {
		conditions = append(conditions, "status = "+next(string(f.Status)))
	}
	if f.Urgency != "" {
		conditions = append(conditions, "urgency = "+next(string(f.Urgency)))
	}
	if f.Trade != "" {
		conditions = append(conditions, "trade = "+next(string(f.Trade)))
	}
	if f.Source != "" {
		conditions = append(conditions, "source = "+next(string(f.Source)))
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "created_at < "+next(f.To))
	}
	if f.Search != "" {
		p := next("%" + f.Search + "%")
		conditions = append(conditions, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}

	q := "SELECT " + jobColumns + "\nFROM jobs\nWHERE " +
		strings.Join(conditions, "\n  AND ") + "\nORDER BY created_at DESC"
	if f.Limit > 0 {
		q += "\nLIMIT " + next(f.Limit)
	}
	if f.Offset > 0 {
		q += "\nOFFSET " + next(f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs implements [store.Jobs].
func (s *Store) CountJobs(ctx context.Context, tenantID string) (store.JobStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, urgency, trade, count(*)
		FROM   jobs
		WHERE  tenant_id = $1
		GROUP  BY status, urgency, trade`, tenantID)
	if err != nil {
		return store.JobStats{}, fmt.Errorf("postgres store: count jobs: %w", err)
	}
	defer rows.Close()

	stats := store.JobStats{
		ByStatus:  make(map[types.JobStatus]int),
		ByUrgency: make(map[types.Urgency]int),
		ByTrade:   make(map[types.TradeCategory]int),
	}
	for rows.Next() {
		var status, urgency, trade string
		var n int
		if err := rows.Scan(&status, &urgency, &trade, &n); err != nil {
			return store.JobStats{}, fmt.Errorf("postgres store: count jobs: %w", err)
		}
		stats.Total += n
		stats.ByStatus[types.JobStatus(status)] += n
		stats.ByUrgency[types.Urgency(urgency)] += n
		stats.ByTrade[types.TradeCategory(trade)] += n
	}
	return stats, rows.Err()
}

// AppendHistory implements [store.Jobs].
func (s *Store) AppendHistory(ctx context.Context, tenantID string, h types.HistoryEntry) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO job_history (id, job_id, actor, action, timestamp, detail)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE  EXISTS (SELECT 1 FROM jobs WHERE id = $2 AND tenant_id = $7)`,
		h.ID, h.JobID, h.Actor, h.Action, h.Timestamp, detailOrEmpty(h.Detail), tenantID)
	if err != nil {
		return fmt.Errorf("postgres store: append history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListHistory implements [store.Jobs].
func (s *Store) ListHistory(ctx context.Context, tenantID, jobID string) ([]types.HistoryEntry, error) {
	if _, err := s.GetJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, actor, action, timestamp, detail
		FROM   job_history
		WHERE  job_id = $1
		ORDER  BY timestamp`, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.HistoryEntry, error) {
		var h types.HistoryEntry
		err := row.Scan(&h.ID, &h.JobID, &h.Actor, &h.Action, &h.Timestamp, &h.Detail)
		return h, err
	})
}

// detailOrEmpty keeps jsonb columns non-null for nil maps.
func detailOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func jobArgs(j types.Job) []any {
	return []any{
		j.ID, j.TenantID, j.JobNumber, j.ContactID, j.Title, j.Description,
		string(j.Trade), string(j.Urgency), string(j.Status), string(j.Source),
		j.Address, j.DistanceKm,
		j.RoutingPriority, j.RoutingReason, j.DepartmentID, j.WorkerID,
		j.PreferredWindow, j.AccessNotes, j.RecordingConsent,
		j.CreatedAt, j.UpdatedAt, j.ScheduledAt, j.ScheduledEnd, j.StartedAt, j.CompletedAt,
	}
}

func scanJob(row pgx.CollectableRow) (types.Job, error) {
	var j types.Job
	var trade, urgency, status, source string
	err := row.Scan(
		&j.ID, &j.TenantID, &j.JobNumber, &j.ContactID, &j.Title, &j.Description,
		&trade, &urgency, &status, &source, &j.Address, &j.DistanceKm,
		&j.RoutingPriority, &j.RoutingReason, &j.DepartmentID, &j.WorkerID,
		&j.PreferredWindow, &j.AccessNotes, &j.RecordingConsent,
		&j.CreatedAt, &j.UpdatedAt, &j.ScheduledAt, &j.ScheduledEnd, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return types.Job{}, fmt.Errorf("postgres store: scan job: %w", err)
	}
	j.Trade = types.TradeCategory(trade)
	j.Urgency = types.Urgency(urgency)
	j.Status = types.JobStatus(status)
	j.Source = types.JobSource(source)
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]types.Job, error) {
	return pgx.CollectRows(rows, scanJob)
}
