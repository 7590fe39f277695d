// Package memstore provides an in-memory store.Store implementation for
// tests and single-binary demo deployments. It mirrors the uniqueness
// guarantees of the postgres store: per-tenant-year job sequences and at most
// one booking per (worker, slot start).
//
// All methods are safe for concurrent use.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// Store implements store.Store in memory.
type Store struct {
	mu sync.RWMutex

	contacts    map[string]types.Contact         // id → contact
	consents    map[string][]types.Consent       // contactID → records
	jobs        map[string]types.Job             // id → job
	history     map[string][]types.HistoryEntry  // jobID → rows
	departments map[string]types.Department
	workers     map[string]types.Worker
	rules       map[string][]types.RoutingRule   // tenantID → rules
	calendar    map[string][]types.CalendarEntry // workerID → entries
	bookings    map[string]string                // workerID|startUnix → jobID
	auditRows   map[string][]audit.Entry         // tenantID → rows
	jobSeq      map[string]int                   // tenantID|year → counter
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		contacts:    make(map[string]types.Contact),
		consents:    make(map[string][]types.Consent),
		jobs:        make(map[string]types.Job),
		history:     make(map[string][]types.HistoryEntry),
		departments: make(map[string]types.Department),
		workers:     make(map[string]types.Worker),
		rules:       make(map[string][]types.RoutingRule),
		calendar:    make(map[string][]types.CalendarEntry),
		bookings:    make(map[string]string),
		auditRows:   make(map[string][]audit.Entry),
		jobSeq:      make(map[string]int),
	}
}

// Close implements store.Store.
func (s *Store) Close() {}

// ─── Contacts ────────────────────────────────────────────────────────────────

func (s *Store) CreateContact(_ context.Context, c types.Contact) error {
	if c.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[c.ID]; ok {
		return fmt.Errorf("%w: contact %s", store.ErrConflict, c.ID)
	}
	s.contacts[c.ID] = c
	return nil
}

func (s *Store) GetContact(_ context.Context, tenantID, id string) (types.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return types.Contact{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) FindContactByPhone(_ context.Context, tenantID, phone string) (types.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if c.TenantID == tenantID && c.Phone == phone && c.SoftDeletedAt == nil {
			return c, nil
		}
	}
	return types.Contact{}, store.ErrNotFound
}

func (s *Store) UpdateContact(_ context.Context, c types.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.contacts[c.ID]
	if !ok || old.TenantID != c.TenantID {
		return store.ErrNotFound
	}
	s.contacts[c.ID] = c
	return nil
}

func (s *Store) EraseContact(_ context.Context, tenantID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}

	c.Name = ""
	c.Phone = ""
	c.Email = ""
	c.Address = types.Address{}
	c.SoftDeletedAt = &at
	s.contacts[id] = c

	for jid, j := range s.jobs {
		if j.TenantID == tenantID && j.ContactID == id {
			j.Address = types.Address{}
			j.AccessNotes = ""
			s.jobs[jid] = j
		}
	}
	return nil
}

func (s *Store) ExportContact(ctx context.Context, tenantID, id string) (store.ExportBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return store.ExportBundle{}, store.ErrNotFound
	}

	b := store.ExportBundle{Contact: c}
	b.Consents = append(b.Consents, s.consents[id]...)
	for _, j := range s.jobs {
		if j.TenantID == tenantID && j.ContactID == id {
			b.Jobs = append(b.Jobs, j)
			b.History = append(b.History, s.history[j.ID]...)
		}
	}
	sort.Slice(b.Jobs, func(i, k int) bool { return b.Jobs[i].CreatedAt.Before(b.Jobs[k].CreatedAt) })
	return b, nil
}

// ─── Consents ────────────────────────────────────────────────────────────────

func (s *Store) AddConsent(_ context.Context, c types.Consent) error {
	if c.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Granting over an active record revokes it first so at most one record
	// per (contact, kind) is ever active.
	records := s.consents[c.ContactID]
	for i, r := range records {
		if r.Kind == c.Kind && r.Active(c.GrantedAt) {
			at := c.GrantedAt
			records[i].RevokedAt = &at
		}
	}
	s.consents[c.ContactID] = append(records, c)
	return nil
}

func (s *Store) RevokeConsent(_ context.Context, tenantID, contactID string, kind types.ConsentKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.consents[contactID]
	for i, r := range records {
		if r.TenantID == tenantID && r.Kind == kind && r.Active(at) {
			records[i].RevokedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListConsents(_ context.Context, tenantID, contactID string) ([]types.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Consent
	for _, r := range s.consents[contactID] {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ActiveConsent(_ context.Context, tenantID, contactID string, kind types.ConsentKind, t time.Time) (types.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.consents[contactID] {
		if r.TenantID == tenantID && r.Kind == kind && r.Active(t) {
			return r, nil
		}
	}
	return types.Consent{}, store.ErrNotFound
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

func (s *Store) NextJobSequence(_ context.Context, tenantID string, year int) (int, error) {
	if tenantID == "" {
		return 0, store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%d", tenantID, year)
	s.jobSeq[key]++
	return s.jobSeq[key], nil
}

func (s *Store) CreateJob(_ context.Context, j types.Job) error {
	if j.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("%w: job %s", store.ErrConflict, j.ID)
	}
	for _, existing := range s.jobs {
		if existing.TenantID == j.TenantID && existing.JobNumber == j.JobNumber {
			return fmt.Errorf("%w: job number %s", store.ErrConflict, j.JobNumber)
		}
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) GetJob(_ context.Context, tenantID, id string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return types.Job{}, store.ErrNotFound
	}
	return j, nil
}

func (s *Store) UpdateJob(_ context.Context, j types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.jobs[j.ID]
	if !ok || old.TenantID != j.TenantID {
		return store.ErrNotFound
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) ListJobs(_ context.Context, tenantID string, f store.JobFilter) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if !matchesFilter(j, f) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchesFilter(j types.Job, f store.JobFilter) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Urgency != "" && j.Urgency != f.Urgency {
		return false
	}
	if f.Trade != "" && j.Trade != f.Trade {
		return false
	}
	if f.Source != "" && j.Source != f.Source {
		return false
	}
	if !f.From.IsZero() && j.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !j.CreatedAt.Before(f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(j.Title), needle) &&
			!strings.Contains(strings.ToLower(j.Description), needle) {
			return false
		}
	}
	return true
}

func (s *Store) CountJobs(_ context.Context, tenantID string) (store.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := store.JobStats{
		ByStatus:  make(map[types.JobStatus]int),
		ByUrgency: make(map[types.Urgency]int),
		ByTrade:   make(map[types.TradeCategory]int),
	}
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		stats.Total++
		stats.ByStatus[j.Status]++
		stats.ByUrgency[j.Urgency]++
		stats.ByTrade[j.Trade]++
	}
	return stats, nil
}

func (s *Store) AppendHistory(_ context.Context, tenantID string, h types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[h.JobID]
	if !ok || j.TenantID != tenantID {
		return store.ErrNotFound
	}
	s.history[h.JobID] = append(s.history[h.JobID], h)
	return nil
}

func (s *Store) ListHistory(_ context.Context, tenantID, jobID string) ([]types.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	out := make([]types.HistoryEntry, len(s.history[jobID]))
	copy(out, s.history[jobID])
	return out, nil
}

// ─── Directory ───────────────────────────────────────────────────────────────

func (s *Store) CreateDepartment(_ context.Context, d types.Department) error {
	if d.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.departments[d.ID]; ok {
		return fmt.Errorf("%w: department %s", store.ErrConflict, d.ID)
	}
	s.departments[d.ID] = d
	return nil
}

func (s *Store) GetDepartment(_ context.Context, tenantID, id string) (types.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.departments[id]
	if !ok || d.TenantID != tenantID {
		return types.Department{}, store.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDepartments(_ context.Context, tenantID string) ([]types.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Department
	for _, d := range s.departments {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) CreateWorker(_ context.Context, w types.Worker) error {
	if w.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[w.ID]; ok {
		return fmt.Errorf("%w: worker %s", store.ErrConflict, w.ID)
	}
	s.workers[w.ID] = w
	return nil
}

func (s *Store) GetWorker(_ context.Context, tenantID, id string) (types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok || w.TenantID != tenantID {
		return types.Worker{}, store.ErrNotFound
	}
	return w, nil
}

func (s *Store) UpdateWorker(_ context.Context, w types.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.workers[w.ID]
	if !ok || old.TenantID != w.TenantID {
		return store.ErrNotFound
	}
	s.workers[w.ID] = w
	return nil
}

func (s *Store) ListWorkers(_ context.Context, tenantID, departmentID string) ([]types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Worker
	for _, w := range s.workers {
		if w.TenantID != tenantID {
			continue
		}
		if departmentID != "" && w.DepartmentID != departmentID {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// ─── Rules ───────────────────────────────────────────────────────────────────

func (s *Store) PutRule(_ context.Context, r types.RoutingRule) error {
	if r.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[r.TenantID]
	for i, existing := range rules {
		if existing.ID == r.ID {
			rules[i] = r
			return nil
		}
	}
	s.rules[r.TenantID] = append(rules, r)
	return nil
}

func (s *Store) ListRules(_ context.Context, tenantID string) ([]types.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RoutingRule, len(s.rules[tenantID]))
	copy(out, s.rules[tenantID])
	sort.Slice(out, func(i, k int) bool { return out[i].Priority < out[k].Priority })
	return out, nil
}

// ─── Calendar ────────────────────────────────────────────────────────────────

func bookingKey(workerID string, start time.Time) string {
	return fmt.Sprintf("%s|%d", workerID, start.Unix())
}

func (s *Store) ListCalendar(_ context.Context, tenantID, workerID string, from, to time.Time) ([]types.CalendarEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.CalendarEntry
	for _, e := range s.calendar[workerID] {
		if e.TenantID != tenantID {
			continue
		}
		if e.End.After(from) && e.Start.Before(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Start.Before(out[k].Start) })
	return out, nil
}

func (s *Store) AddCalendarEntry(_ context.Context, e types.CalendarEntry) error {
	if e.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendar[e.WorkerID] = append(s.calendar[e.WorkerID], e)
	return nil
}

func (s *Store) Book(_ context.Context, tenantID string, job types.Job, entry types.CalendarEntry, hist types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bookingKey(entry.WorkerID, entry.Start)
	if _, taken := s.bookings[key]; taken {
		return store.ErrSlotTaken
	}

	old, ok := s.jobs[job.ID]
	if !ok || old.TenantID != tenantID {
		return store.ErrNotFound
	}

	s.bookings[key] = job.ID
	s.jobs[job.ID] = job
	s.calendar[entry.WorkerID] = append(s.calendar[entry.WorkerID], entry)
	s.history[job.ID] = append(s.history[job.ID], hist)
	return nil
}

// ─── Retention ───────────────────────────────────────────────────────────────

func (s *Store) PurgeExpired(_ context.Context, tenantID string, c store.RetentionCutoffs) (store.RetentionReport, error) {
	if tenantID == "" {
		return store.RetentionReport{}, store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep store.RetentionReport

	if !c.Jobs.IsZero() {
		for id, j := range s.jobs {
			if j.TenantID != tenantID || !j.Status.Terminal() || !j.UpdatedAt.Before(c.Jobs) {
				continue
			}
			delete(s.jobs, id)
			delete(s.history, id)
			for wid, entries := range s.calendar {
				var keep []types.CalendarEntry
				for _, e := range entries {
					if e.JobID == id {
						delete(s.bookings, bookingKey(wid, e.Start))
						continue
					}
					keep = append(keep, e)
				}
				s.calendar[wid] = keep
			}
			rep.Jobs++
		}
	}

	if !c.Contacts.IsZero() {
		for id, ct := range s.contacts {
			if ct.TenantID != tenantID || ct.SoftDeletedAt == nil || !ct.SoftDeletedAt.Before(c.Contacts) {
				continue
			}
			delete(s.contacts, id)
			rep.Consents += len(s.consents[id])
			delete(s.consents, id)
			rep.Contacts++
		}
	}

	if !c.Consents.IsZero() {
		for cid, records := range s.consents {
			var keep []types.Consent
			for _, r := range records {
				if r.TenantID == tenantID && consentExpiredBefore(r, c.Consents) {
					rep.Consents++
					continue
				}
				keep = append(keep, r)
			}
			s.consents[cid] = keep
		}
	}

	if !c.Audit.IsZero() {
		rows := s.auditRows[tenantID]
		cut := 0
		for cut < len(rows) && rows[cut].Timestamp.Before(c.Audit) {
			cut++
		}
		if cut > 0 {
			// The chain stays verifiable from the oldest retained row on.
			s.auditRows[tenantID] = append([]audit.Entry(nil), rows[cut:]...)
			rep.Audit += cut
		}
	}

	return rep, nil
}

// consentExpiredBefore reports whether the record stopped being in force
// before the cutoff. Records still active are never purged.
func consentExpiredBefore(r types.Consent, cutoff time.Time) bool {
	if r.RevokedAt != nil && r.RevokedAt.Before(cutoff) {
		return true
	}
	return r.ExpiresAt != nil && r.ExpiresAt.Before(cutoff)
}

// ─── Audit ───────────────────────────────────────────────────────────────────

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	if e.TenantID == "" {
		return store.ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditRows[e.TenantID] = append(s.auditRows[e.TenantID], e)
	return nil
}

func (s *Store) LastAudit(_ context.Context, tenantID string) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.auditRows[tenantID]
	if len(rows) == 0 {
		return nil, nil
	}
	last := rows[len(rows)-1]
	return &last, nil
}

func (s *Store) ListAudit(_ context.Context, tenantID string, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.auditRows[tenantID] {
		if q.EntityKind != "" && e.EntityKind != q.EntityKind {
			continue
		}
		if q.EntityID != "" && e.EntityID != q.EntityID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}
