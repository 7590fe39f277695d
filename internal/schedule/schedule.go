// Package schedule finds and books appointment slots.
//
// Slot search intersects tenant business hours with the technician's working
// hours, subtracts existing bookings and blocked intervals, and slices the
// remainder into fixed-duration slots bounded by the job urgency's maximum
// wait. Booking holds a per-slot in-process lock, re-checks availability
// inside it and persists atomically through [store.Calendar.Book]; the
// storage layer's uniqueness guarantee makes the at-most-one-booking contract
// hold across processes too.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

// ErrSlotUnavailable is returned when the requested slot was taken between
// search and booking. Callers should re-run FindSlots and offer a new slot.
var ErrSlotUnavailable = errors.New("schedule: slot unavailable")

// DefaultSlotDuration is the standard appointment length.
const DefaultSlotDuration = 30 * time.Minute

// defaultTopN bounds the number of proposed slots.
const defaultTopN = 10

// Slot is one proposed appointment window.
type Slot struct {
	WorkerID  string    `json:"worker_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Preferred bool      `json:"preferred"`
	Emergency bool      `json:"emergency"`
}

// Criteria describes a slot search for one candidate technician.
type Criteria struct {
	TenantID string
	WorkerID string
	Urgency  types.Urgency

	// Earliest and Latest clamp the search window; both are optional and
	// further clamped by the urgency deadline.
	Earliest time.Time
	Latest   time.Time

	// Duration is the slot length; zero means DefaultSlotDuration.
	Duration time.Duration

	// BusinessHours are the tenant's opening hours.
	BusinessHours types.WeekHours

	// PreferredWeekdays and PreferredWindow flag matching slots. Both are
	// optional.
	PreferredWeekdays []time.Weekday
	PreferredWindow   types.DayHours
}

// Engine searches and books slots.
type Engine struct {
	store store.Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // tenant|worker|start → slot lock
}

// New creates an Engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{
		store: st,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// FindSlots returns up to ten open slots for the criteria, ordered by
// earliest start with preferred slots first within the same day. Emergency
// searches return a single contiguous arrival window instead of slices.
func (e *Engine) FindSlots(ctx context.Context, c Criteria) ([]Slot, error) {
	if c.TenantID == "" {
		return nil, store.ErrTenantRequired
	}
	duration := c.Duration
	if duration <= 0 {
		duration = DefaultSlotDuration
	}

	now := e.now()
	start := now
	if c.Earliest.After(start) {
		start = c.Earliest
	}
	deadline := now.Add(c.Urgency.MaxWait())
	end := deadline
	if !c.Latest.IsZero() && c.Latest.Before(end) {
		end = c.Latest
	}
	if !end.After(start) {
		return nil, nil
	}

	worker, err := e.store.GetWorker(ctx, c.TenantID, c.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("schedule: load worker: %w", err)
	}
	booked, err := e.store.ListCalendar(ctx, c.TenantID, c.WorkerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("schedule: load calendar: %w", err)
	}

	// Candidate days iterate by calendar date, not by 24h steps from the
	// window start: openIntervals clips each day to [start, end), so the
	// partial day at the deadline still gets searched.
	var slots []Slot
	for day := startOfDay(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		free := openIntervals(day, c.BusinessHours, worker.Hours, start, end)
		free = subtractEntries(free, booked)

		for _, iv := range free {
			if c.Urgency == types.UrgencyEmergency {
				// One contiguous arrival window per free interval.
				slots = append(slots, Slot{
					WorkerID: c.WorkerID, Start: iv.start, End: iv.end, Emergency: true,
				})
				continue
			}
			for t := iv.start; !t.Add(duration).After(iv.end); t = t.Add(duration) {
				slots = append(slots, Slot{
					WorkerID:  c.WorkerID,
					Start:     t,
					End:       t.Add(duration),
					Preferred: preferred(t, c),
				})
			}
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		da, db := a.Start.Truncate(24*time.Hour), b.Start.Truncate(24*time.Hour)
		if da.Equal(db) && a.Preferred != b.Preferred {
			return a.Preferred
		}
		return a.Start.Before(b.Start)
	})
	if len(slots) > defaultTopN {
		slots = slots[:defaultTopN]
	}
	return slots, nil
}

// Book atomically books the slot for the job. The job's schedule fields are
// written together with the calendar entry and a "scheduled" history row.
// Returns ErrSlotUnavailable when the slot was taken in the meantime.
func (e *Engine) Book(ctx context.Context, tenantID string, slot Slot, job types.Job, actor string) (types.Job, error) {
	lock := e.slotLock(tenantID, slot)
	lock.Lock()
	defer lock.Unlock()

	// Re-check inside the lock to fail fast before touching storage.
	existing, err := e.store.ListCalendar(ctx, tenantID, slot.WorkerID, slot.Start, slot.End)
	if err != nil {
		return types.Job{}, fmt.Errorf("schedule: re-check slot: %w", err)
	}
	if len(existing) > 0 {
		return types.Job{}, ErrSlotUnavailable
	}

	now := e.now().UTC()
	start, bookEnd := slot.Start, slot.End
	job.WorkerID = slot.WorkerID
	job.ScheduledAt = &start
	job.ScheduledEnd = &bookEnd
	if job.Status == types.StatusNew {
		job.Status = types.StatusAssigned
	}
	job.UpdatedAt = now

	entry := types.CalendarEntry{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		WorkerID: slot.WorkerID,
		JobID:    job.ID,
		Start:    slot.Start,
		End:      slot.End,
	}
	hist := types.HistoryEntry{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Actor:     actor,
		Action:    "scheduled",
		Timestamp: now,
		Detail: map[string]string{
			"worker_id": slot.WorkerID,
			"start":     slot.Start.Format(time.RFC3339),
			"end":       slot.End.Format(time.RFC3339),
		},
	}

	if err := e.store.Book(ctx, tenantID, job, entry, hist); err != nil {
		if errors.Is(err, store.ErrSlotTaken) {
			return types.Job{}, ErrSlotUnavailable
		}
		return types.Job{}, fmt.Errorf("schedule: book: %w", err)
	}
	return job, nil
}

func (e *Engine) slotLock(tenantID string, slot Slot) *sync.Mutex {
	key := tenantID + "|" + slot.WorkerID + "|" + slot.Start.UTC().Format(time.RFC3339)
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// interval is a half-open [start, end) time range.
type interval struct {
	start, end time.Time
}

// openIntervals intersects business and worker hours for the day, clipped to
// the overall [windowStart, windowEnd) search window.
func openIntervals(day time.Time, business, working types.WeekHours, windowStart, windowEnd time.Time) []interval {
	bOpen, bClose, ok := business[day.Weekday()].Window(day)
	if !ok {
		return nil
	}
	wOpen, wClose, ok := working[day.Weekday()].Window(day)
	if !ok {
		return nil
	}

	iv := interval{start: maxTime(bOpen, wOpen), end: minTime(bClose, wClose)}
	iv.start = maxTime(iv.start, windowStart)
	iv.end = minTime(iv.end, windowEnd)
	if !iv.end.After(iv.start) {
		return nil
	}
	return []interval{iv}
}

// subtractEntries removes booked and blocked ranges from the free intervals.
func subtractEntries(free []interval, entries []types.CalendarEntry) []interval {
	for _, e := range entries {
		var next []interval
		for _, iv := range free {
			if !e.End.After(iv.start) || !iv.end.After(e.Start) {
				next = append(next, iv)
				continue
			}
			if e.Start.After(iv.start) {
				next = append(next, interval{start: iv.start, end: e.Start})
			}
			if iv.end.After(e.End) {
				next = append(next, interval{start: e.End, end: iv.end})
			}
		}
		free = next
	}
	return free
}

func preferred(t time.Time, c Criteria) bool {
	dayOK := len(c.PreferredWeekdays) == 0
	for _, d := range c.PreferredWeekdays {
		if t.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	if c.PreferredWindow.Closed() {
		return len(c.PreferredWeekdays) > 0
	}
	return c.PreferredWindow.Contains(t)
}

// startOfDay returns midnight of t's calendar day.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
