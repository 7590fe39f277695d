// Package store defines the persistence interface for all tenant-scoped
// entities: contacts, consents, jobs, job history, departments, workers,
// routing rules, calendar entries, and audit rows.
//
// Every method takes the tenant id explicitly and implementations must filter
// by it; no call may ever read or write another tenant's rows. Two
// implementations exist: postgres (production, pgx-backed) and memstore
// (tests and single-binary demos). Both enforce the same uniqueness
// guarantees — job numbers per tenant and one booking per
// (worker, slot start).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/pkg/types"
)

var (
	// ErrNotFound indicates the entity does not exist within the tenant.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict indicates a unique-key collision.
	ErrConflict = errors.New("store: conflict")

	// ErrSlotTaken indicates the calendar slot is already booked. The
	// scheduling engine maps this to its SlotUnavailable result.
	ErrSlotTaken = errors.New("store: slot taken")

	// ErrTenantRequired indicates a call without a tenant id.
	ErrTenantRequired = errors.New("store: tenant id required")
)

// JobFilter narrows a job listing. Zero fields are ignored.
type JobFilter struct {
	Status  types.JobStatus
	Urgency types.Urgency
	Trade   types.TradeCategory
	Source  types.JobSource
	From    time.Time
	To      time.Time

	// Search matches title and description, case-insensitive substring.
	Search string

	Limit  int
	Offset int
}

// JobStats aggregates job counts for a tenant.
type JobStats struct {
	Total     int                         `json:"total"`
	ByStatus  map[types.JobStatus]int     `json:"by_status"`
	ByUrgency map[types.Urgency]int       `json:"by_urgency"`
	ByTrade   map[types.TradeCategory]int `json:"by_trade"`
}

// ExportBundle is the data-portability payload for one contact.
type ExportBundle struct {
	Contact  types.Contact        `json:"contact"`
	Consents []types.Consent      `json:"consents"`
	Jobs     []types.Job          `json:"jobs"`
	History  []types.HistoryEntry `json:"history"`
}

// Store is the complete persistence surface.
type Store interface {
	Contacts
	Consents
	Jobs
	Directory
	Rules
	Calendar
	Retention
	audit.Storage

	// Close releases underlying resources.
	Close()
}

// RetentionCutoffs carries the per-entity purge thresholds. A zero time
// means the entity kind is kept forever.
type RetentionCutoffs struct {
	Jobs     time.Time
	Contacts time.Time
	Consents time.Time
	Audit    time.Time
}

// RetentionReport counts the rows removed by one purge pass.
type RetentionReport struct {
	Jobs     int `json:"jobs"`
	Contacts int `json:"contacts"`
	Consents int `json:"consents"`
	Audit    int `json:"audit"`
}

// Empty reports whether the pass removed nothing.
func (r RetentionReport) Empty() bool {
	return r.Jobs == 0 && r.Contacts == 0 && r.Consents == 0 && r.Audit == 0
}

// Retention purges records past their retention windows.
type Retention interface {
	// PurgeExpired removes rows older than the cutoffs: terminal jobs (with
	// history and calendar entries), soft-deleted contacts (with their
	// consents), inactive consent records, and audit rows. Active records
	// are never touched regardless of age.
	PurgeExpired(ctx context.Context, tenantID string, c RetentionCutoffs) (RetentionReport, error)
}

// Contacts manages caller/customer records.
type Contacts interface {
	CreateContact(ctx context.Context, c types.Contact) error
	GetContact(ctx context.Context, tenantID, id string) (types.Contact, error)

	// FindContactByPhone returns the non-deleted contact with the given
	// E.164 number, or ErrNotFound.
	FindContactByPhone(ctx context.Context, tenantID, phone string) (types.Contact, error)

	UpdateContact(ctx context.Context, c types.Contact) error

	// EraseContact scrubs personal fields (name, phone, email, address) from
	// the contact and all its jobs, and soft-deletes the contact. Keys are
	// retained for referential integrity.
	EraseContact(ctx context.Context, tenantID, id string, at time.Time) error

	// ExportContact collects the contact's full data for portability.
	ExportContact(ctx context.Context, tenantID, id string) (ExportBundle, error)
}

// Consents manages the append-only consent records.
type Consents interface {
	// AddConsent appends a grant. At most one active record may exist per
	// (contact, kind); granting over an active record revokes it first.
	AddConsent(ctx context.Context, c types.Consent) error

	// RevokeConsent sets RevokedAt on the active record for the kind.
	// Revoking without an active record returns ErrNotFound.
	RevokeConsent(ctx context.Context, tenantID, contactID string, kind types.ConsentKind, at time.Time) error

	ListConsents(ctx context.Context, tenantID, contactID string) ([]types.Consent, error)

	// ActiveConsent returns the record in force for the kind at time t, or
	// ErrNotFound.
	ActiveConsent(ctx context.Context, tenantID, contactID string, kind types.ConsentKind, t time.Time) (types.Consent, error)
}

// Jobs manages service requests and their history.
type Jobs interface {
	// NextJobSequence atomically increments and returns the per-tenant-year
	// job counter used to build JOB-YYYY-NNNN numbers.
	NextJobSequence(ctx context.Context, tenantID string, year int) (int, error)

	CreateJob(ctx context.Context, j types.Job) error
	GetJob(ctx context.Context, tenantID, id string) (types.Job, error)
	UpdateJob(ctx context.Context, j types.Job) error
	ListJobs(ctx context.Context, tenantID string, f JobFilter) ([]types.Job, error)
	CountJobs(ctx context.Context, tenantID string) (JobStats, error)

	AppendHistory(ctx context.Context, tenantID string, h types.HistoryEntry) error
	ListHistory(ctx context.Context, tenantID, jobID string) ([]types.HistoryEntry, error)
}

// Directory manages departments and workers.
type Directory interface {
	CreateDepartment(ctx context.Context, d types.Department) error
	GetDepartment(ctx context.Context, tenantID, id string) (types.Department, error)
	ListDepartments(ctx context.Context, tenantID string) ([]types.Department, error)

	CreateWorker(ctx context.Context, w types.Worker) error
	GetWorker(ctx context.Context, tenantID, id string) (types.Worker, error)
	UpdateWorker(ctx context.Context, w types.Worker) error

	// ListWorkers returns workers in the department, or all tenant workers
	// when departmentID is empty.
	ListWorkers(ctx context.Context, tenantID, departmentID string) ([]types.Worker, error)
}

// Rules manages routing rules.
type Rules interface {
	PutRule(ctx context.Context, r types.RoutingRule) error

	// ListRules returns the tenant's rules ordered by ascending priority.
	ListRules(ctx context.Context, tenantID string) ([]types.RoutingRule, error)
}

// Calendar manages worker calendars and atomic bookings.
type Calendar interface {
	// ListCalendar returns entries for the worker overlapping [from, to).
	ListCalendar(ctx context.Context, tenantID, workerID string, from, to time.Time) ([]types.CalendarEntry, error)

	AddCalendarEntry(ctx context.Context, e types.CalendarEntry) error

	// Book atomically writes the job's schedule fields, the calendar entry,
	// and the history row. Returns ErrSlotTaken when another booking already
	// holds (worker, start); nothing is written in that case.
	Book(ctx context.Context, tenantID string, job types.Job, entry types.CalendarEntry, hist types.HistoryEntry) error
}
