package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/hausruf/hausruf/internal/store"
)

// PurgeExpired implements [store.Retention]. Each entity kind is removed in
// one transaction so a crash mid-sweep never leaves dangling child rows; the
// next pass picks up whatever a failed transaction left behind.
func (s *Store) PurgeExpired(ctx context.Context, tenantID string, c store.RetentionCutoffs) (store.RetentionReport, error) {
	if tenantID == "" {
		return store.RetentionReport{}, store.ErrTenantRequired
	}

	var rep store.RetentionReport
	var err error

	if !c.Jobs.IsZero() {
		if rep.Jobs, err = s.purgeJobs(ctx, tenantID, c.Jobs); err != nil {
			return rep, err
		}
	}
	if !c.Contacts.IsZero() {
		var consents int
		rep.Contacts, consents, err = s.purgeContacts(ctx, tenantID, c.Contacts)
		if err != nil {
			return rep, err
		}
		rep.Consents += consents
	}
	if !c.Consents.IsZero() {
		n, err := s.purgeConsents(ctx, tenantID, c.Consents)
		if err != nil {
			return rep, err
		}
		rep.Consents += n
	}
	if !c.Audit.IsZero() {
		if rep.Audit, err = s.purgeAudit(ctx, tenantID, c.Audit); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// purgeJobs removes terminal jobs older than the cutoff together with their
// history and calendar entries.
func (s *Store) purgeJobs(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres store: purge jobs: %w", err)
	}
	defer tx.Rollback(ctx)

	const expired = `
		SELECT id FROM jobs
		WHERE  tenant_id = $1
		  AND  status IN ('completed', 'cancelled')
		  AND  updated_at < $2`

	if _, err := tx.Exec(ctx, `
		DELETE FROM job_history WHERE job_id IN (`+expired+`)`, tenantID, cutoff); err != nil {
		return 0, fmt.Errorf("postgres store: purge job history: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM calendar_entries
		WHERE tenant_id = $1 AND job_id IN (`+expired+`)`, tenantID, cutoff); err != nil {
		return 0, fmt.Errorf("postgres store: purge calendar entries: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM jobs
		WHERE  tenant_id = $1
		  AND  status IN ('completed', 'cancelled')
		  AND  updated_at < $2`, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres store: purge jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres store: purge jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// purgeContacts removes contacts soft-deleted before the cutoff and their
// consent records.
func (s *Store) purgeContacts(ctx context.Context, tenantID string, cutoff time.Time) (contacts, consents int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: purge contacts: %w", err)
	}
	defer tx.Rollback(ctx)

	ctag, err := tx.Exec(ctx, `
		DELETE FROM consents
		WHERE tenant_id = $1 AND contact_id IN (
			SELECT id FROM contacts
			WHERE tenant_id = $1 AND soft_deleted_at < $2)`, tenantID, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: purge contact consents: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM contacts
		WHERE tenant_id = $1 AND soft_deleted_at < $2`, tenantID, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: purge contacts: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("postgres store: purge contacts: %w", err)
	}
	return int(tag.RowsAffected()), int(ctag.RowsAffected()), nil
}

// purgeConsents removes records that stopped being in force before the
// cutoff. Active grants are kept regardless of age.
func (s *Store) purgeConsents(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM consents
		WHERE tenant_id = $1
		  AND (revoked_at < $2 OR expires_at < $2)`, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres store: purge consents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// purgeAudit drops the chain prefix older than the cutoff. Verification
// re-anchors at the oldest retained row.
func (s *Store) purgeAudit(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM audit_entries
		WHERE tenant_id = $1 AND timestamp < $2`, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres store: purge audit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
