package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// ListCalendar implements [store.Calendar].
func (s *Store) ListCalendar(ctx context.Context, tenantID, workerID string, from, to time.Time) ([]types.CalendarEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, worker_id, job_id, start_time, end_time, blocked
		FROM   calendar_entries
		WHERE  tenant_id = $1 AND worker_id = $2
		  AND  end_time > $3 AND start_time < $4
		ORDER  BY start_time`, tenantID, workerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list calendar: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.CalendarEntry, error) {
		var e types.CalendarEntry
		err := row.Scan(&e.ID, &e.TenantID, &e.WorkerID, &e.JobID, &e.Start, &e.End, &e.Blocked)
		return e, err
	})
}

// AddCalendarEntry implements [store.Calendar].
func (s *Store) AddCalendarEntry(ctx context.Context, e types.CalendarEntry) error {
	if e.TenantID == "" {
		return store.ErrTenantRequired
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_entries (id, tenant_id, worker_id, job_id, start_time, end_time, blocked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TenantID, e.WorkerID, e.JobID, e.Start, e.End, e.Blocked)
	if uniqueViolation(err) {
		return store.ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("postgres store: add calendar entry: %w", err)
	}
	return nil
}

// Book implements [store.Calendar]. The job update, calendar insert and
// history row run in one transaction. The partial unique index on
// (tenant_id, worker_id, start_time) makes the insert the arbiter between
// concurrent booking attempts: exactly one transaction commits, the rest roll
// back with ErrSlotTaken and leave no trace.
func (s *Store) Book(ctx context.Context, tenantID string, job types.Job, entry types.CalendarEntry, hist types.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: book: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO calendar_entries (id, tenant_id, worker_id, job_id, start_time, end_time, blocked)
		VALUES ($1, $2, $3, $4, $5, $6, false)`,
		entry.ID, tenantID, entry.WorkerID, entry.JobID, entry.Start, entry.End)
	if uniqueViolation(err) {
		return store.ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("postgres store: book: calendar insert: %w", err)
	}

	tag, err := tx.Exec(ctx, updateJobQuery, jobArgs(job)...)
	if err != nil {
		return fmt.Errorf("postgres store: book: job update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_history (id, job_id, actor, action, timestamp, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		hist.ID, hist.JobID, hist.Actor, hist.Action, hist.Timestamp, detailOrEmpty(hist.Detail)); err != nil {
		return fmt.Errorf("postgres store: book: history insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: book: commit: %w", err)
	}
	return nil
}
