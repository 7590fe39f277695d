package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
)

const auditColumns = `id, tenant_id, seq, timestamp, actor, action, entity_kind, entity_id, detail, prev_checksum, checksum`

// AppendAudit implements [audit.Storage]. The unique (tenant_id, seq) index
// rejects a forked chain even if two ledger instances race.
func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	if e.TenantID == "" {
		return store.ErrTenantRequired
	}
	const q = `
		INSERT INTO audit_entries (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, q,
		e.ID, e.TenantID, e.Seq, e.Timestamp, e.Actor, e.Action,
		e.EntityKind, e.EntityID, detailOrEmpty(e.Detail), e.PrevChecksum, e.Checksum)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: audit seq %d", store.ErrConflict, e.Seq)
	}
	if err != nil {
		return fmt.Errorf("postgres store: append audit: %w", err)
	}
	return nil
}

// LastAudit implements [audit.Storage].
func (s *Store) LastAudit(ctx context.Context, tenantID string) (*audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM   audit_entries
		WHERE  tenant_id = $1
		ORDER  BY seq DESC
		LIMIT  1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: last audit: %w", err)
	}
	e, err := pgx.CollectOneRow(rows, scanAudit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListAudit implements [audit.Storage].
func (s *Store) ListAudit(ctx context.Context, tenantID string, q audit.Query) ([]audit.Entry, error) {
	args := []any{tenantID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = $1"}
	if q.EntityKind != "" {
		conditions = append(conditions, "entity_kind = "+next(q.EntityKind))
	}
	if q.EntityID != "" {
		conditions = append(conditions, "entity_id = "+next(q.EntityID))
	}
	if q.Action != "" {
		conditions = append(conditions, "action = "+next(q.Action))
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "timestamp >= "+next(q.Since))
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, "timestamp <= "+next(q.Until))
	}

	sql := "SELECT " + auditColumns + "\nFROM audit_entries\nWHERE " +
		strings.Join(conditions, "\n  AND ") + "\nORDER BY seq"
	if q.Limit > 0 {
		sql += "\nLIMIT " + next(q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list audit: %w", err)
	}
	return pgx.CollectRows(rows, scanAudit)
}

func scanAudit(row pgx.CollectableRow) (audit.Entry, error) {
	var e audit.Entry
	err := row.Scan(&e.ID, &e.TenantID, &e.Seq, &e.Timestamp, &e.Actor, &e.Action,
		&e.EntityKind, &e.EntityID, &e.Detail, &e.PrevChecksum, &e.Checksum)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("postgres store: scan audit: %w", err)
	}
	return e, nil
}
