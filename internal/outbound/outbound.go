// Package outbound plans recall and reminder call campaigns.
//
// The planner is pure: it reads job history and consent records and
// produces an ordered call plan with per-call time windows. Actually
// dialing the plan is the dialer's job, not ours.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// Reason classifies why a contact appears on the plan.
type Reason string

const (
	// ReasonRecall marks a maintenance recall: the last completed job for
	// the trade is older than the recall interval.
	ReasonRecall Reason = "recall"

	// ReasonReminder marks a courtesy reminder ahead of a scheduled
	// appointment.
	ReasonReminder Reason = "appointment_reminder"
)

// Config tunes the planner. Zero values select the defaults.
type Config struct {
	// RecallAfter is how long after a completed job a recall becomes due.
	RecallAfter time.Duration // default 365 days

	// ReminderLead is how far ahead of an appointment the reminder call
	// is planned.
	ReminderLead time.Duration // default 24h

	// CallWindow bounds the time of day outbound calls may be placed.
	CallWindow types.DayHours // default 10:00-18:00

	// QuietWeekdays lists days no outbound call is planned on.
	QuietWeekdays []time.Weekday // default Sunday

	// MaxCallsPerDay caps how many recalls land on a single day.
	MaxCallsPerDay int // default 20

	// HorizonDays bounds how far ahead recalls are spread. Recalls that
	// do not fit are deferred to the next planning run.
	HorizonDays int // default 5
}

func (c Config) withDefaults() Config {
	if c.RecallAfter <= 0 {
		c.RecallAfter = 365 * 24 * time.Hour
	}
	if c.ReminderLead <= 0 {
		c.ReminderLead = 24 * time.Hour
	}
	if c.CallWindow.Closed() {
		c.CallWindow = types.DayHours{Open: "10:00", Close: "18:00"}
	}
	if c.QuietWeekdays == nil {
		c.QuietWeekdays = []time.Weekday{time.Sunday}
	}
	if c.MaxCallsPerDay <= 0 {
		c.MaxCallsPerDay = 20
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 5
	}
	return c
}

// Call is one planned outbound call.
type Call struct {
	ContactID string              `json:"contact_id"`
	Phone     string              `json:"phone"`
	Name      string              `json:"name"`
	JobID     string              `json:"job_id"`
	Trade     types.TradeCategory `json:"trade"`
	Reason    Reason              `json:"reason"`

	// DueSince is when the recall became due; zero for reminders.
	DueSince time.Time `json:"due_since,omitempty"`

	// NotBefore and NotAfter bound when the call may be placed.
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
}

// Plan is the ordered outcome of one planning run. Reminders come first,
// then recalls ordered oldest due first.
type Plan struct {
	TenantID    string    `json:"tenant_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Calls       []Call    `json:"calls"`
}

// Planner computes call plans from the store.
type Planner struct {
	store store.Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a [Planner].
type Option func(*Planner)

// WithClock overrides the planner's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a planner over st.
func New(st store.Store, cfg Config, log *slog.Logger, opts ...Option) *Planner {
	if log == nil {
		log = slog.Default()
	}
	p := &Planner{
		store: st,
		cfg:   cfg.withDefaults(),
		log:   log.With("component", "outbound"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan computes the call plan for a tenant. Only contacts holding an
// active reminders consent are included; everyone else is silently
// skipped.
func (p *Planner) Plan(ctx context.Context, tenantID string) (Plan, error) {
	now := p.now().UTC()
	plan := Plan{TenantID: tenantID, GeneratedAt: now}

	reminders, err := p.planReminders(ctx, tenantID, now)
	if err != nil {
		return Plan{}, err
	}
	recalls, err := p.planRecalls(ctx, tenantID, now)
	if err != nil {
		return Plan{}, err
	}

	plan.Calls = append(reminders, recalls...)
	p.log.Info("outbound plan computed",
		"tenant_id", tenantID,
		"reminders", len(reminders),
		"recalls", len(recalls),
	)
	return plan, nil
}

// planReminders finds assigned jobs whose appointment starts within the
// reminder lead and plans a courtesy call ahead of each.
func (p *Planner) planReminders(ctx context.Context, tenantID string, now time.Time) ([]Call, error) {
	jobs, err := p.store.ListJobs(ctx, tenantID, store.JobFilter{Status: types.StatusAssigned})
	if err != nil {
		return nil, fmt.Errorf("outbound: list assigned jobs: %w", err)
	}

	var calls []Call
	for _, job := range jobs {
		if job.ScheduledAt == nil || job.ContactID == "" {
			continue
		}
		at := job.ScheduledAt.UTC()
		if !at.After(now) || at.Sub(now) > p.cfg.ReminderLead {
			continue
		}
		contact, ok, err := p.reachableContact(ctx, tenantID, job.ContactID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		notBefore, notAfter := p.clamp(now, at)
		if !notAfter.After(notBefore) {
			// Appointment starts before today's call window opens.
			continue
		}
		calls = append(calls, Call{
			ContactID: contact.ID,
			Phone:     contact.Phone,
			Name:      contact.Name,
			JobID:     job.ID,
			Trade:     job.Trade,
			Reason:    ReasonReminder,
			NotBefore: notBefore,
			NotAfter:  notAfter,
		})
	}

	sort.Slice(calls, func(i, j int) bool { return calls[i].NotAfter.Before(calls[j].NotAfter) })
	return calls, nil
}

// planRecalls finds contacts whose last completed job per trade is older
// than the recall interval and spreads them over the coming days.
func (p *Planner) planRecalls(ctx context.Context, tenantID string, now time.Time) ([]Call, error) {
	completed, err := p.store.ListJobs(ctx, tenantID, store.JobFilter{Status: types.StatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("outbound: list completed jobs: %w", err)
	}
	busy, err := p.contactsWithOpenJobs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// Latest completed job per (contact, trade) decides due-ness; an older
	// job must not retrigger a recall the newest one resets.
	type key struct {
		contact string
		trade   types.TradeCategory
	}
	latest := make(map[key]types.Job)
	for _, job := range completed {
		if job.ContactID == "" || job.CompletedAt == nil {
			continue
		}
		k := key{job.ContactID, job.Trade}
		if prev, ok := latest[k]; !ok || job.CompletedAt.After(*prev.CompletedAt) {
			latest[k] = job
		}
	}

	var due []Call
	for _, job := range latest {
		dueSince := job.CompletedAt.Add(p.cfg.RecallAfter)
		if dueSince.After(now) {
			continue
		}
		if busy[job.ContactID] {
			continue
		}
		contact, ok, err := p.reachableContact(ctx, tenantID, job.ContactID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		due = append(due, Call{
			ContactID: contact.ID,
			Phone:     contact.Phone,
			Name:      contact.Name,
			JobID:     job.ID,
			Trade:     job.Trade,
			Reason:    ReasonRecall,
			DueSince:  dueSince.UTC(),
		})
	}

	sort.Slice(due, func(i, j int) bool { return due[i].DueSince.Before(due[j].DueSince) })
	return p.spread(due, now), nil
}

// contactsWithOpenJobs collects contacts that already have a job in
// flight; calling them about a recall would be noise.
func (p *Planner) contactsWithOpenJobs(ctx context.Context, tenantID string) (map[string]bool, error) {
	open := make(map[string]bool)
	for _, status := range []types.JobStatus{types.StatusNew, types.StatusAssigned, types.StatusInProgress} {
		jobs, err := p.store.ListJobs(ctx, tenantID, store.JobFilter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("outbound: list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if job.ContactID != "" {
				open[job.ContactID] = true
			}
		}
	}
	return open, nil
}

// reachableContact reports whether the contact may be called: an active
// reminders consent, not erased, and a phone number on file.
func (p *Planner) reachableContact(ctx context.Context, tenantID, contactID string, now time.Time) (types.Contact, bool, error) {
	_, err := p.store.ActiveConsent(ctx, tenantID, contactID, types.ConsentReminders, now)
	if errors.Is(err, store.ErrNotFound) {
		return types.Contact{}, false, nil
	}
	if err != nil {
		return types.Contact{}, false, fmt.Errorf("outbound: consent check for %s: %w", contactID, err)
	}

	contact, err := p.store.GetContact(ctx, tenantID, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Contact{}, false, nil
	}
	if err != nil {
		return types.Contact{}, false, fmt.Errorf("outbound: load contact %s: %w", contactID, err)
	}
	if contact.SoftDeletedAt != nil || contact.Phone == "" {
		return types.Contact{}, false, nil
	}
	return contact, true, nil
}

// spread assigns call windows to due recalls, at most MaxCallsPerDay per
// allowed day, skipping quiet weekdays. Recalls beyond the horizon are
// dropped and picked up by the next run.
func (p *Planner) spread(due []Call, now time.Time) []Call {
	var planned []Call
	day := now
	onDay := 0
	horizon := now.AddDate(0, 0, p.cfg.HorizonDays)

	for _, call := range due {
		for p.quiet(day.Weekday()) || onDay >= p.cfg.MaxCallsPerDay {
			day = day.AddDate(0, 0, 1)
			onDay = 0
		}
		if day.After(horizon) {
			p.log.Info("recall horizon reached, deferring remainder",
				"deferred", len(due)-len(planned))
			break
		}
		start, end := p.window(day)
		if day.Equal(now) && now.After(start) {
			start = now
		}
		if !end.After(start) {
			// Today's window already closed; move to the next allowed day.
			day = day.AddDate(0, 0, 1)
			onDay = 0
			for p.quiet(day.Weekday()) {
				day = day.AddDate(0, 0, 1)
			}
			start, end = p.window(day)
		}
		call.NotBefore = start
		call.NotAfter = end
		planned = append(planned, call)
		onDay++
	}
	return planned
}

func (p *Planner) quiet(d time.Weekday) bool {
	for _, q := range p.cfg.QuietWeekdays {
		if q == d {
			return true
		}
	}
	return false
}

// window returns the call window on the given day.
func (p *Planner) window(day time.Time) (time.Time, time.Time) {
	return onDay(day, p.cfg.CallWindow.Open), onDay(day, p.cfg.CallWindow.Close)
}

// clamp bounds a reminder call between now and the appointment, within
// the call window of the appointment's previous allowed day (or the
// appointment day itself when the lead is short).
func (p *Planner) clamp(now, appointment time.Time) (time.Time, time.Time) {
	day := appointment.AddDate(0, 0, -1)
	for p.quiet(day.Weekday()) && day.After(now) {
		day = day.AddDate(0, 0, -1)
	}
	if day.Before(now) {
		day = now
	}
	start, end := p.window(day)
	if start.Before(now) {
		start = now
	}
	if end.After(appointment) {
		end = appointment
	}
	return start, end
}

// onDay combines a calendar day with a local "HH:MM" clock value.
func onDay(day time.Time, clock string) time.Time {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return day
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
}
