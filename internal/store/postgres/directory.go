package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// CreateDepartment implements [store.Directory].
func (s *Store) CreateDepartment(ctx context.Context, d types.Department) error {
	if d.TenantID == "" {
		return store.ErrTenantRequired
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO departments (id, tenant_id, name, trades, urgencies, hours, fallback_contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.TenantID, d.Name, d.Trades, d.Urgencies, hoursToJSON(d.Hours), d.FallbackContact)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: department %s", store.ErrConflict, d.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres store: create department: %w", err)
	}
	return nil
}

// GetDepartment implements [store.Directory].
func (s *Store) GetDepartment(ctx context.Context, tenantID, id string) (types.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, trades, urgencies, hours, fallback_contact
		FROM   departments
		WHERE  tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return types.Department{}, fmt.Errorf("postgres store: get department: %w", err)
	}
	d, err := pgx.CollectOneRow(rows, scanDepartment)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Department{}, store.ErrNotFound
	}
	return d, err
}

// ListDepartments implements [store.Directory].
func (s *Store) ListDepartments(ctx context.Context, tenantID string) ([]types.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, trades, urgencies, hours, fallback_contact
		FROM   departments
		WHERE  tenant_id = $1
		ORDER  BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list departments: %w", err)
	}
	return pgx.CollectRows(rows, scanDepartment)
}

func scanDepartment(row pgx.CollectableRow) (types.Department, error) {
	var d types.Department
	var hours map[string]types.DayHours
	if err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Trades, &d.Urgencies,
		&hours, &d.FallbackContact); err != nil {
		return types.Department{}, fmt.Errorf("postgres store: scan department: %w", err)
	}
	d.Hours = hoursFromJSON(hours)
	return d, nil
}

// CreateWorker implements [store.Directory].
func (s *Store) CreateWorker(ctx context.Context, w types.Worker) error {
	if w.TenantID == "" {
		return store.ErrTenantRequired
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers
		    (id, tenant_id, department_id, name, role, trades, certifications,
		     hours, max_jobs_per_day, current_jobs, latitude, longitude, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		w.ID, w.TenantID, w.DepartmentID, w.Name, string(w.Role),
		w.Trades, certsOrEmpty(w.Certifications), hoursToJSON(w.Hours),
		w.MaxJobsPerDay, w.CurrentJobs, w.Latitude, w.Longitude, w.Active)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: worker %s", store.ErrConflict, w.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres store: create worker: %w", err)
	}
	return nil
}

// GetWorker implements [store.Directory].
func (s *Store) GetWorker(ctx context.Context, tenantID, id string) (types.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workerColumns+`
		FROM   workers
		WHERE  tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return types.Worker{}, fmt.Errorf("postgres store: get worker: %w", err)
	}
	w, err := pgx.CollectOneRow(rows, scanWorker)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Worker{}, store.ErrNotFound
	}
	return w, err
}

// UpdateWorker implements [store.Directory].
func (s *Store) UpdateWorker(ctx context.Context, w types.Worker) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workers
		SET    department_id = $3, name = $4, role = $5, trades = $6,
		       certifications = $7, hours = $8, max_jobs_per_day = $9,
		       current_jobs = $10, latitude = $11, longitude = $12, active = $13
		WHERE  tenant_id = $1 AND id = $2`,
		w.TenantID, w.ID, w.DepartmentID, w.Name, string(w.Role),
		w.Trades, certsOrEmpty(w.Certifications), hoursToJSON(w.Hours),
		w.MaxJobsPerDay, w.CurrentJobs, w.Latitude, w.Longitude, w.Active)
	if err != nil {
		return fmt.Errorf("postgres store: update worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListWorkers implements [store.Directory].
func (s *Store) ListWorkers(ctx context.Context, tenantID, departmentID string) ([]types.Worker, error) {
	q := `SELECT ` + workerColumns + ` FROM workers WHERE tenant_id = $1`
	args := []any{tenantID}
	if departmentID != "" {
		q += ` AND department_id = $2`
		args = append(args, departmentID)
	}
	q += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list workers: %w", err)
	}
	return pgx.CollectRows(rows, scanWorker)
}

const workerColumns = `id, tenant_id, department_id, name, role, trades, certifications,
	hours, max_jobs_per_day, current_jobs, latitude, longitude, active`

func scanWorker(row pgx.CollectableRow) (types.Worker, error) {
	var w types.Worker
	var role string
	var hours map[string]types.DayHours
	if err := row.Scan(&w.ID, &w.TenantID, &w.DepartmentID, &w.Name, &role,
		&w.Trades, &w.Certifications, &hours,
		&w.MaxJobsPerDay, &w.CurrentJobs, &w.Latitude, &w.Longitude, &w.Active); err != nil {
		return types.Worker{}, fmt.Errorf("postgres store: scan worker: %w", err)
	}
	w.Role = types.WorkerRole(role)
	w.Hours = hoursFromJSON(hours)
	return w, nil
}

func certsOrEmpty(certs []string) []string {
	if certs == nil {
		return []string{}
	}
	return certs
}

// hoursToJSON converts WeekHours to a string-keyed map so the jsonb column
// stays human-readable (weekday names instead of numbers).
func hoursToJSON(h types.WeekHours) map[string]types.DayHours {
	out := make(map[string]types.DayHours, len(h))
	for day, hours := range h {
		out[day.String()] = hours
	}
	return out
}

func hoursFromJSON(m map[string]types.DayHours) types.WeekHours {
	out := make(types.WeekHours, len(m))
	for name, hours := range m {
		for day := time.Sunday; day <= time.Saturday; day++ {
			if day.String() == name {
				out[day] = hours
				break
			}
		}
	}
	return out
}

// PutRule implements [store.Rules].
func (s *Store) PutRule(ctx context.Context, r types.RoutingRule) error {
	if r.TenantID == "" {
		return store.ErrTenantRequired
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO routing_rules
		    (id, tenant_id, name, priority, trade, urgency, source, postal_prefix,
		     after_hour, before_hour, department_id, worker_id, escalate_after, notify, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name, priority = EXCLUDED.priority,
		    trade = EXCLUDED.trade, urgency = EXCLUDED.urgency,
		    source = EXCLUDED.source, postal_prefix = EXCLUDED.postal_prefix,
		    after_hour = EXCLUDED.after_hour, before_hour = EXCLUDED.before_hour,
		    department_id = EXCLUDED.department_id, worker_id = EXCLUDED.worker_id,
		    escalate_after = EXCLUDED.escalate_after, notify = EXCLUDED.notify,
		    active = EXCLUDED.active`,
		r.ID, r.TenantID, r.Name, r.Priority, string(r.Trade), string(r.Urgency),
		string(r.Source), r.PostalPrefix, r.AfterHour, r.BeforeHour,
		r.DepartmentID, r.WorkerID, r.EscalateAfter.Nanoseconds(), r.Notify, r.Active)
	if err != nil {
		return fmt.Errorf("postgres store: put rule: %w", err)
	}
	return nil
}

// ListRules implements [store.Rules].
func (s *Store) ListRules(ctx context.Context, tenantID string) ([]types.RoutingRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, priority, trade, urgency, source, postal_prefix,
		       after_hour, before_hour, department_id, worker_id, escalate_after, notify, active
		FROM   routing_rules
		WHERE  tenant_id = $1
		ORDER  BY priority`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list rules: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.RoutingRule, error) {
		var r types.RoutingRule
		var trade, urgency, source string
		var escalateNS int64
		if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority,
			&trade, &urgency, &source, &r.PostalPrefix,
			&r.AfterHour, &r.BeforeHour, &r.DepartmentID, &r.WorkerID,
			&escalateNS, &r.Notify, &r.Active); err != nil {
			return types.RoutingRule{}, fmt.Errorf("postgres store: scan rule: %w", err)
		}
		r.Trade = types.TradeCategory(trade)
		r.Urgency = types.Urgency(urgency)
		r.Source = types.JobSource(source)
		r.EscalateAfter = time.Duration(escalateNS)
		return r, nil
	})
}
