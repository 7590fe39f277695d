// Package postgres provides the PostgreSQL-backed implementation of
// [store.Store].
//
// All entities share a single [pgxpool.Pool]. Two uniqueness guarantees are
// enforced by the schema itself rather than application code: job numbers are
// unique per tenant, and at most one non-blocked calendar entry may exist per
// (worker, slot start). The second one is what makes [Store.Book] safe under
// concurrent booking attempts from multiple instances.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Contacts and consents
// ─────────────────────────────────────────────────────────────────────────────

const ddlContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id              TEXT         PRIMARY KEY,
    tenant_id       TEXT         NOT NULL,
    name            TEXT         NOT NULL DEFAULT '',
    phone           TEXT         NOT NULL DEFAULT '',
    email           TEXT         NOT NULL DEFAULT '',
    address         JSONB        NOT NULL DEFAULT '{}',
    property_type   TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    soft_deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_contacts_tenant
    ON contacts (tenant_id);

CREATE INDEX IF NOT EXISTS idx_contacts_phone
    ON contacts (tenant_id, phone) WHERE soft_deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS consents (
    id         TEXT         PRIMARY KEY,
    tenant_id  TEXT         NOT NULL,
    contact_id TEXT         NOT NULL REFERENCES contacts (id),
    kind       TEXT         NOT NULL,
    method     TEXT         NOT NULL DEFAULT '',
    call_id    TEXT         NOT NULL DEFAULT '',
    granted_at TIMESTAMPTZ  NOT NULL,
    revoked_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_consents_contact
    ON consents (tenant_id, contact_id, kind);
`

// ─────────────────────────────────────────────────────────────────────────────
// Jobs, history and per-tenant-year sequences
// ─────────────────────────────────────────────────────────────────────────────

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT         PRIMARY KEY,
    tenant_id        TEXT         NOT NULL,
    job_number       TEXT         NOT NULL,
    contact_id       TEXT         NOT NULL DEFAULT '',
    title            TEXT         NOT NULL DEFAULT '',
    description      TEXT         NOT NULL DEFAULT '',
    trade            TEXT         NOT NULL DEFAULT '',
    urgency          TEXT         NOT NULL DEFAULT '',
    status           TEXT         NOT NULL,
    source           TEXT         NOT NULL DEFAULT '',
    address          JSONB        NOT NULL DEFAULT '{}',
    distance_km      DOUBLE PRECISION NOT NULL DEFAULT 0,
    routing_priority INTEGER      NOT NULL DEFAULT 0,
    routing_reason   TEXT         NOT NULL DEFAULT '',
    department_id    TEXT         NOT NULL DEFAULT '',
    worker_id        TEXT         NOT NULL DEFAULT '',
    preferred_window TEXT         NOT NULL DEFAULT '',
    access_notes     TEXT         NOT NULL DEFAULT '',
    recording_consent BOOLEAN     NOT NULL DEFAULT false,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    scheduled_at     TIMESTAMPTZ,
    scheduled_end    TIMESTAMPTZ,
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,

    UNIQUE (tenant_id, job_number)
);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status
    ON jobs (tenant_id, status);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created
    ON jobs (tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS job_history (
    id        TEXT         PRIMARY KEY,
    job_id    TEXT         NOT NULL REFERENCES jobs (id),
    actor     TEXT         NOT NULL DEFAULT 'system',
    action    TEXT         NOT NULL,
    timestamp TIMESTAMPTZ  NOT NULL DEFAULT now(),
    detail    JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_job_history_job
    ON job_history (job_id, timestamp);

CREATE TABLE IF NOT EXISTS job_sequences (
    tenant_id TEXT    NOT NULL,
    year      INTEGER NOT NULL,
    counter   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, year)
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Directory, rules and calendar
// ─────────────────────────────────────────────────────────────────────────────

const ddlDirectory = `
CREATE TABLE IF NOT EXISTS departments (
    id               TEXT   PRIMARY KEY,
    tenant_id        TEXT   NOT NULL,
    name             TEXT   NOT NULL,
    trades           JSONB  NOT NULL DEFAULT '[]',
    urgencies        JSONB  NOT NULL DEFAULT '[]',
    hours            JSONB  NOT NULL DEFAULT '{}',
    fallback_contact TEXT   NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_departments_tenant
    ON departments (tenant_id);

CREATE TABLE IF NOT EXISTS workers (
    id               TEXT    PRIMARY KEY,
    tenant_id        TEXT    NOT NULL,
    department_id    TEXT    NOT NULL DEFAULT '',
    name             TEXT    NOT NULL,
    role             TEXT    NOT NULL DEFAULT 'worker',
    trades           JSONB   NOT NULL DEFAULT '[]',
    certifications   JSONB   NOT NULL DEFAULT '[]',
    hours            JSONB   NOT NULL DEFAULT '{}',
    max_jobs_per_day INTEGER NOT NULL DEFAULT 0,
    current_jobs     INTEGER NOT NULL DEFAULT 0,
    latitude         DOUBLE PRECISION NOT NULL DEFAULT 0,
    longitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
    active           BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_workers_tenant_department
    ON workers (tenant_id, department_id);

CREATE TABLE IF NOT EXISTS routing_rules (
    id             TEXT    PRIMARY KEY,
    tenant_id      TEXT    NOT NULL,
    name           TEXT    NOT NULL DEFAULT '',
    priority       INTEGER NOT NULL DEFAULT 0,
    trade          TEXT    NOT NULL DEFAULT '',
    urgency        TEXT    NOT NULL DEFAULT '',
    source         TEXT    NOT NULL DEFAULT '',
    postal_prefix  TEXT    NOT NULL DEFAULT '',
    after_hour     INTEGER NOT NULL DEFAULT 0,
    before_hour    INTEGER NOT NULL DEFAULT 0,
    department_id  TEXT    NOT NULL DEFAULT '',
    worker_id      TEXT    NOT NULL DEFAULT '',
    escalate_after BIGINT  NOT NULL DEFAULT 0,
    notify         BOOLEAN NOT NULL DEFAULT false,
    active         BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_routing_rules_tenant
    ON routing_rules (tenant_id, priority);

CREATE TABLE IF NOT EXISTS calendar_entries (
    id         TEXT         PRIMARY KEY,
    tenant_id  TEXT         NOT NULL,
    worker_id  TEXT         NOT NULL,
    job_id     TEXT         NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ  NOT NULL,
    end_time   TIMESTAMPTZ  NOT NULL,
    blocked    BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_calendar_worker_range
    ON calendar_entries (tenant_id, worker_id, start_time);

CREATE UNIQUE INDEX IF NOT EXISTS uq_calendar_booking
    ON calendar_entries (tenant_id, worker_id, start_time) WHERE NOT blocked;
`

// ─────────────────────────────────────────────────────────────────────────────
// Audit ledger
// ─────────────────────────────────────────────────────────────────────────────

const ddlAudit = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id            TEXT         PRIMARY KEY,
    tenant_id     TEXT         NOT NULL,
    seq           BIGINT       NOT NULL,
    timestamp     TIMESTAMPTZ  NOT NULL,
    actor         TEXT         NOT NULL DEFAULT 'system',
    action        TEXT         NOT NULL,
    entity_kind   TEXT         NOT NULL DEFAULT '',
    entity_id     TEXT         NOT NULL DEFAULT '',
    detail        JSONB        NOT NULL DEFAULT '{}',
    prev_checksum TEXT         NOT NULL DEFAULT '',
    checksum      TEXT         NOT NULL,

    UNIQUE (tenant_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant_entity
    ON audit_entries (tenant_id, entity_kind, entity_id);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlContacts,
		ddlJobs,
		ddlDirectory,
		ddlAudit,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
