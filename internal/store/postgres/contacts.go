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

const contactColumns = `id, tenant_id, name, phone, email, address, property_type, created_at, soft_deleted_at`

// CreateContact implements [store.Contacts].
func (s *Store) CreateContact(ctx context.Context, c types.Contact) error {
	if c.TenantID == "" {
		return store.ErrTenantRequired
	}
	const q = `
		INSERT INTO contacts (` + contactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.TenantID, c.Name, c.Phone, c.Email,
		c.Address, string(c.PropertyType), c.CreatedAt, c.SoftDeletedAt,
	)
	if uniqueViolation(err) {
		return fmt.Errorf("%w: contact %s", store.ErrConflict, c.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres store: create contact: %w", err)
	}
	return nil
}

// GetContact implements [store.Contacts].
func (s *Store) GetContact(ctx context.Context, tenantID, id string) (types.Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = $2`
	return s.queryContact(ctx, q, tenantID, id)
}

// FindContactByPhone implements [store.Contacts].
func (s *Store) FindContactByPhone(ctx context.Context, tenantID, phone string) (types.Contact, error) {
	const q = `
		SELECT ` + contactColumns + `
		FROM   contacts
		WHERE  tenant_id = $1 AND phone = $2 AND soft_deleted_at IS NULL
		LIMIT  1`
	return s.queryContact(ctx, q, tenantID, phone)
}

func (s *Store) queryContact(ctx context.Context, q string, args ...any) (types.Contact, error) {
	var c types.Contact
	var propertyType string
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email,
		&c.Address, &propertyType, &c.CreatedAt, &c.SoftDeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Contact{}, store.ErrNotFound
	}
	if err != nil {
		return types.Contact{}, fmt.Errorf("postgres store: get contact: %w", err)
	}
	c.PropertyType = types.PropertyType(propertyType)
	return c, nil
}

// UpdateContact implements [store.Contacts].
func (s *Store) UpdateContact(ctx context.Context, c types.Contact) error {
	const q = `
		UPDATE contacts
		SET    name = $3, phone = $4, email = $5, address = $6, property_type = $7,
		       soft_deleted_at = $8
		WHERE  tenant_id = $1 AND id = $2`

	tag, err := s.pool.Exec(ctx, q,
		c.TenantID, c.ID, c.Name, c.Phone, c.Email, c.Address,
		string(c.PropertyType), c.SoftDeletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// EraseContact implements [store.Contacts]. The contact scrub and the job
// scrub run in one transaction so a crash cannot leave personal data behind
// on jobs after the contact already reads as erased.
func (s *Store) EraseContact(ctx context.Context, tenantID, id string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: erase contact: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE contacts
		SET    name = '', phone = '', email = '', address = '{}', soft_deleted_at = $3
		WHERE  tenant_id = $1 AND id = $2`, tenantID, id, at)
	if err != nil {
		return fmt.Errorf("postgres store: erase contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET    address = '{}', access_notes = ''
		WHERE  tenant_id = $1 AND contact_id = $2`, tenantID, id); err != nil {
		return fmt.Errorf("postgres store: erase contact jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: erase contact: commit: %w", err)
	}
	return nil
}

// ExportContact implements [store.Contacts].
func (s *Store) ExportContact(ctx context.Context, tenantID, id string) (store.ExportBundle, error) {
	var b store.ExportBundle

	contact, err := s.GetContact(ctx, tenantID, id)
	if err != nil {
		return store.ExportBundle{}, err
	}
	b.Contact = contact

	if b.Consents, err = s.ListConsents(ctx, tenantID, id); err != nil {
		return store.ExportBundle{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM   jobs
		WHERE  tenant_id = $1 AND contact_id = $2
		ORDER  BY created_at`, tenantID, id)
	if err != nil {
		return store.ExportBundle{}, fmt.Errorf("postgres store: export jobs: %w", err)
	}
	if b.Jobs, err = collectJobs(rows); err != nil {
		return store.ExportBundle{}, err
	}

	for _, j := range b.Jobs {
		hist, err := s.ListHistory(ctx, tenantID, j.ID)
		if err != nil {
			return store.ExportBundle{}, err
		}
		b.History = append(b.History, hist...)
	}
	return b, nil
}

// AddConsent implements [store.Consents]. The supersede-then-insert runs in a
// transaction so at most one active record per (contact, kind) survives.
func (s *Store) AddConsent(ctx context.Context, c types.Consent) error {
	if c.TenantID == "" {
		return store.ErrTenantRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: add consent: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE consents
		SET    revoked_at = $4
		WHERE  tenant_id = $1 AND contact_id = $2 AND kind = $3
		  AND  revoked_at IS NULL
		  AND  (expires_at IS NULL OR expires_at > $4)`,
		c.TenantID, c.ContactID, string(c.Kind), c.GrantedAt); err != nil {
		return fmt.Errorf("postgres store: supersede consent: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO consents (id, tenant_id, contact_id, kind, method, call_id, granted_at, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.TenantID, c.ContactID, string(c.Kind), string(c.Method),
		c.CallID, c.GrantedAt, c.RevokedAt, c.ExpiresAt); err != nil {
		return fmt.Errorf("postgres store: add consent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: add consent: commit: %w", err)
	}
	return nil
}

// RevokeConsent implements [store.Consents].
func (s *Store) RevokeConsent(ctx context.Context, tenantID, contactID string, kind types.ConsentKind, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE consents
		SET    revoked_at = $4
		WHERE  tenant_id = $1 AND contact_id = $2 AND kind = $3
		  AND  revoked_at IS NULL
		  AND  (expires_at IS NULL OR expires_at > $4)`,
		tenantID, contactID, string(kind), at)
	if err != nil {
		return fmt.Errorf("postgres store: revoke consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListConsents implements [store.Consents].
func (s *Store) ListConsents(ctx context.Context, tenantID, contactID string) ([]types.Consent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, contact_id, kind, method, call_id, granted_at, revoked_at, expires_at
		FROM   consents
		WHERE  tenant_id = $1 AND contact_id = $2
		ORDER  BY granted_at`, tenantID, contactID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list consents: %w", err)
	}
	return pgx.CollectRows(rows, scanConsent)
}

// ActiveConsent implements [store.Consents].
func (s *Store) ActiveConsent(ctx context.Context, tenantID, contactID string, kind types.ConsentKind, t time.Time) (types.Consent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, contact_id, kind, method, call_id, granted_at, revoked_at, expires_at
		FROM   consents
		WHERE  tenant_id = $1 AND contact_id = $2 AND kind = $3
		  AND  granted_at <= $4
		  AND  (revoked_at IS NULL OR revoked_at > $4)
		  AND  (expires_at IS NULL OR expires_at > $4)
		ORDER  BY granted_at DESC
		LIMIT  1`, tenantID, contactID, string(kind), t)
	if err != nil {
		return types.Consent{}, fmt.Errorf("postgres store: active consent: %w", err)
	}
	c, err := pgx.CollectOneRow(rows, scanConsent)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Consent{}, store.ErrNotFound
	}
	return c, err
}

func scanConsent(row pgx.CollectableRow) (types.Consent, error) {
	var c types.Consent
	var kind, method string
	if err := row.Scan(&c.ID, &c.TenantID, &c.ContactID, &kind, &method,
		&c.CallID, &c.GrantedAt, &c.RevokedAt, &c.ExpiresAt); err != nil {
		return types.Consent{}, fmt.Errorf("postgres store: scan consent: %w", err)
	}
	c.Kind = types.ConsentKind(kind)
	c.Method = types.ConsentMethod(method)
	return c, nil
}
