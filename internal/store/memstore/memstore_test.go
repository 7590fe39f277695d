package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/pkg/types"
)

func TestJobSequencePerTenantYear(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.NextJobSequence(ctx, "t1", 2026)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("NextJobSequence = %d, want %d", got, want)
		}
	}

	// Other tenants and other years count independently.
	if got, _ := s.NextJobSequence(ctx, "t2", 2026); got != 1 {
		t.Errorf("t2 sequence = %d, want 1", got)
	}
	if got, _ := s.NextJobSequence(ctx, "t1", 2027); got != 1 {
		t.Errorf("2027 sequence = %d, want 1", got)
	}
}

func TestJobNumberUniquePerTenant(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := types.Job{ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001", Status: types.StatusNew}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	dup := types.Job{ID: "j2", TenantID: "t1", JobNumber: "JOB-2026-0001", Status: types.StatusNew}
	if err := s.CreateJob(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate job number: err = %v, want ErrConflict", err)
	}

	// The same number is fine for a different tenant.
	other := types.Job{ID: "j3", TenantID: "t2", JobNumber: "JOB-2026-0001", Status: types.StatusNew}
	if err := s.CreateJob(ctx, other); err != nil {
		t.Errorf("cross-tenant job number rejected: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateJob(ctx, types.Job{ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetJob(ctx, "t2", "j1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-tenant GetJob err = %v, want ErrNotFound", err)
	}
	jobs, err := s.ListJobs(ctx, "t2", store.JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("cross-tenant ListJobs returned %d jobs", len(jobs))
	}
}

func TestListJobsFilterAndPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	seed := []types.Job{
		{ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001", Status: types.StatusNew, Urgency: types.UrgencyUrgent, Trade: types.TradeElectrical, Title: "Sicherung fliegt", CreatedAt: base},
		{ID: "j2", TenantID: "t1", JobNumber: "JOB-2026-0002", Status: types.StatusAssigned, Urgency: types.UrgencyNormal, Trade: types.TradeSanitary, Title: "Wasserhahn tropft", CreatedAt: base.Add(time.Hour)},
		{ID: "j3", TenantID: "t1", JobNumber: "JOB-2026-0003", Status: types.StatusNew, Urgency: types.UrgencyEmergency, Trade: types.TradePlumbingHeating, Title: "Rohrbruch im Keller", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, j := range seed {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListJobs(ctx, "t1", store.JobFilter{Status: types.StatusNew})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("status filter returned %d jobs, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "j3" || got[1].ID != "j1" {
		t.Errorf("order = %s, %s; want j3, j1", got[0].ID, got[1].ID)
	}

	got, err = s.ListJobs(ctx, "t1", store.JobFilter{Search: "rohrbruch"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "j3" {
		t.Errorf("search returned %v", got)
	}

	got, err = s.ListJobs(ctx, "t1", store.JobFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "j2" {
		t.Errorf("pagination returned %v", got)
	}
}

func TestConsentGrantSupersedesAndRevoke(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	first := types.Consent{ID: "c1", TenantID: "t1", ContactID: "k1", Kind: types.ConsentReminders, Method: types.ConsentVerbal, GrantedAt: t0}
	if err := s.AddConsent(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := types.Consent{ID: "c2", TenantID: "t1", ContactID: "k1", Kind: types.ConsentReminders, Method: types.ConsentDigital, GrantedAt: t0.Add(time.Hour)}
	if err := s.AddConsent(ctx, second); err != nil {
		t.Fatal(err)
	}

	active, err := s.ActiveConsent(ctx, "t1", "k1", types.ConsentReminders, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != "c2" {
		t.Errorf("active consent = %s, want c2", active.ID)
	}

	all, _ := s.ListConsents(ctx, "t1", "k1")
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2 (append-only)", len(all))
	}

	if err := s.RevokeConsent(ctx, "t1", "k1", types.ConsentReminders, t0.Add(3*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveConsent(ctx, "t1", "k1", types.ConsentReminders, t0.Add(4*time.Hour)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after revoke, ActiveConsent err = %v, want ErrNotFound", err)
	}
	if err := s.RevokeConsent(ctx, "t1", "k1", types.ConsentReminders, t0.Add(5*time.Hour)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double revoke err = %v, want ErrNotFound", err)
	}
}

func TestEraseContactScrubsJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	addr := types.Address{Street: "Hauptstraße", Number: "5", PostalCode: "80331", City: "München"}
	c := types.Contact{ID: "k1", TenantID: "t1", Name: "Maria Huber", Phone: "+4989123456", Address: addr}
	if err := s.CreateContact(ctx, c); err != nil {
		t.Fatal(err)
	}
	j := types.Job{ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001", ContactID: "k1", Address: addr, AccessNotes: "Schlüssel unter der Matte"}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	at := time.Now()
	if err := s.EraseContact(ctx, "t1", "k1", at); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetContact(ctx, "t1", "k1")
	if err != nil {
		t.Fatalf("erased contact must remain readable: %v", err)
	}
	if got.Name != "" || got.Phone != "" || got.Address != (types.Address{}) {
		t.Errorf("contact personal fields not scrubbed: %+v", got)
	}
	if got.SoftDeletedAt == nil {
		t.Error("SoftDeletedAt not set")
	}

	gotJob, _ := s.GetJob(ctx, "t1", "j1")
	if gotJob.Address != (types.Address{}) || gotJob.AccessNotes != "" {
		t.Errorf("job personal fields not scrubbed: %+v", gotJob)
	}
	if gotJob.JobNumber != "JOB-2026-0001" {
		t.Error("erasure must keep the job record itself")
	}

	// An erased contact no longer resolves by phone.
	if _, err := s.FindContactByPhone(ctx, "t1", "+4989123456"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindContactByPhone after erasure err = %v, want ErrNotFound", err)
	}
}

func TestBookExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"j1", "j2"} {
		if err := s.CreateJob(ctx, types.Job{ID: id, TenantID: "t1", JobNumber: "JOB-2026-" + id, Status: types.StatusNew}); err != nil {
			t.Fatal(err)
		}
	}

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobID := "j1"
			if i%2 == 1 {
				jobID = "j2"
			}
			job, _ := s.GetJob(ctx, "t1", jobID)
			job.Status = types.StatusAssigned
			entry := types.CalendarEntry{ID: "e", TenantID: "t1", WorkerID: "w1", JobID: jobID, Start: start, End: start.Add(30 * time.Minute)}
			hist := types.HistoryEntry{ID: "h", JobID: jobID, Actor: "system", Action: "scheduled"}
			errs[i] = s.Book(ctx, "t1", job, entry, hist)
		}(i)
	}
	wg.Wait()

	var ok, taken int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrSlotTaken):
			taken++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || taken != attempts-1 {
		t.Errorf("got %d successes and %d ErrSlotTaken, want exactly 1 and %d", ok, taken, attempts-1)
	}

	entries, _ := s.ListCalendar(ctx, "t1", "w1", start.Add(-time.Hour), start.Add(time.Hour))
	if len(entries) != 1 {
		t.Errorf("calendar holds %d entries for the slot, want 1", len(entries))
	}
}

func TestBookLosingAttemptWritesNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

	if err := s.CreateJob(ctx, types.Job{ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001", Status: types.StatusNew}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, types.Job{ID: "j2", TenantID: "t1", JobNumber: "JOB-2026-0002", Status: types.StatusNew}); err != nil {
		t.Fatal(err)
	}

	winner, _ := s.GetJob(ctx, "t1", "j1")
	winner.Status = types.StatusAssigned
	if err := s.Book(ctx, "t1", winner,
		types.CalendarEntry{ID: "e1", TenantID: "t1", WorkerID: "w1", JobID: "j1", Start: start, End: start.Add(30 * time.Minute)},
		types.HistoryEntry{ID: "h1", JobID: "j1", Actor: "system", Action: "scheduled"}); err != nil {
		t.Fatal(err)
	}

	loser, _ := s.GetJob(ctx, "t1", "j2")
	loser.Status = types.StatusAssigned
	err := s.Book(ctx, "t1", loser,
		types.CalendarEntry{ID: "e2", TenantID: "t1", WorkerID: "w1", JobID: "j2", Start: start, End: start.Add(30 * time.Minute)},
		types.HistoryEntry{ID: "h2", JobID: "j2", Actor: "system", Action: "scheduled"})
	if !errors.Is(err, store.ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}

	got, _ := s.GetJob(ctx, "t1", "j2")
	if got.Status != types.StatusNew {
		t.Error("losing booking must not update the job")
	}
	hist, _ := s.ListHistory(ctx, "t1", "j2")
	if len(hist) != 0 {
		t.Error("losing booking must not append history")
	}
}

func TestRulesOrderedByPriority(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, r := range []types.RoutingRule{
		{ID: "r3", TenantID: "t1", Priority: 30, Active: true},
		{ID: "r1", TenantID: "t1", Priority: 10, Active: true},
		{ID: "r2", TenantID: "t1", Priority: 20, Active: true},
	} {
		if err := s.PutRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rules, err := s.ListRules(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"r1", "r2", "r3"} {
		if rules[i].ID != want {
			t.Errorf("rules[%d] = %s, want %s", i, rules[i].ID, want)
		}
	}

	// PutRule with an existing id replaces in place.
	if err := s.PutRule(ctx, types.RoutingRule{ID: "r1", TenantID: "t1", Priority: 5, Name: "updated", Active: true}); err != nil {
		t.Fatal(err)
	}
	rules, _ = s.ListRules(ctx, "t1")
	if len(rules) != 3 || rules[0].Name != "updated" {
		t.Errorf("rule update failed: %+v", rules)
	}
}

func TestPurgeExpiredRemovesOnlyOldInactiveRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -120)
	recent := now.AddDate(0, 0, -5)

	// One old completed job with history and a calendar entry, one recent one.
	if err := s.CreateJob(ctx, types.Job{ID: "j-old", TenantID: "t1", JobNumber: "JOB-2026-0001", Status: types.StatusCompleted, UpdatedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory(ctx, "t1", types.HistoryEntry{ID: "h1", JobID: "j-old", Action: "completed", Timestamp: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCalendarEntry(ctx, types.CalendarEntry{ID: "e1", TenantID: "t1", WorkerID: "w1", JobID: "j-old", Start: old, End: old.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, types.Job{ID: "j-new", TenantID: "t1", JobNumber: "JOB-2026-0002", Status: types.StatusCompleted, UpdatedAt: recent}); err != nil {
		t.Fatal(err)
	}
	// An old but still open job must survive any cutoff.
	if err := s.CreateJob(ctx, types.Job{ID: "j-open", TenantID: "t1", JobNumber: "JOB-2026-0003", Status: types.StatusAssigned, UpdatedAt: old}); err != nil {
		t.Fatal(err)
	}

	// A long-erased contact with a consent record, and a live one.
	erasedAt := old
	if err := s.CreateContact(ctx, types.Contact{ID: "k-gone", TenantID: "t1", SoftDeletedAt: &erasedAt}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConsent(ctx, types.Consent{ID: "c-gone", TenantID: "t1", ContactID: "k-gone", Kind: types.ConsentDataProcessing, GrantedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, types.Contact{ID: "k-live", TenantID: "t1", Name: "Max", Phone: "+49151000"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConsent(ctx, types.Consent{ID: "c-live", TenantID: "t1", ContactID: "k-live", Kind: types.ConsentDataProcessing, GrantedAt: old}); err != nil {
		t.Fatal(err)
	}

	cutoff := now.AddDate(0, 0, -90)
	rep, err := s.PurgeExpired(ctx, "t1", store.RetentionCutoffs{
		Jobs: cutoff, Contacts: cutoff, Consents: cutoff,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Jobs != 1 || rep.Contacts != 1 || rep.Consents != 1 {
		t.Errorf("report = %+v, want 1 job, 1 contact, 1 consent", rep)
	}

	if _, err := s.GetJob(ctx, "t1", "j-old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old job still present: %v", err)
	}
	if _, err := s.GetJob(ctx, "t1", "j-new"); err != nil {
		t.Errorf("recent job purged: %v", err)
	}
	if _, err := s.GetJob(ctx, "t1", "j-open"); err != nil {
		t.Errorf("open job purged: %v", err)
	}
	entries, _ := s.ListCalendar(ctx, "t1", "w1", old.Add(-time.Hour), now)
	if len(entries) != 0 {
		t.Errorf("calendar entries of the purged job remain: %+v", entries)
	}
	if _, err := s.GetContact(ctx, "t1", "k-gone"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("erased contact still present: %v", err)
	}
	if _, err := s.GetContact(ctx, "t1", "k-live"); err != nil {
		t.Errorf("live contact purged: %v", err)
	}
	// The live contact's consent is active and must survive despite its age.
	if _, err := s.ActiveConsent(ctx, "t1", "k-live", types.ConsentDataProcessing, now); err != nil {
		t.Errorf("active consent purged: %v", err)
	}
}

func TestPurgeExpiredDropsAuditPrefix(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if err := s.AppendAudit(ctx, audit.Entry{
			ID: string(rune('a' + i)), TenantID: "t1", Seq: uint64(i + 1),
			Action:    "tick",
			Timestamp: now.AddDate(0, 0, -40+10*i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := s.PurgeExpired(ctx, "t1", store.RetentionCutoffs{Audit: now.AddDate(0, 0, -25)})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Audit != 2 {
		t.Fatalf("purged %d audit rows, want 2", rep.Audit)
	}
	rows, _ := s.ListAudit(ctx, "t1", audit.Query{})
	if len(rows) != 2 || rows[0].Seq != 3 {
		t.Errorf("remaining rows = %+v, want seqs 3 and 4", rows)
	}
}

func TestExportContactBundlesEverything(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	if err := s.CreateContact(ctx, types.Contact{ID: "k1", TenantID: "t1", Name: "Max", Phone: "+49151000"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConsent(ctx, types.Consent{ID: "c1", TenantID: "t1", ContactID: "k1", Kind: types.ConsentDataProcessing, GrantedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, types.Job{ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001", ContactID: "k1", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory(ctx, "t1", types.HistoryEntry{ID: "h1", JobID: "j1", Actor: "system", Action: "created", Timestamp: t0}); err != nil {
		t.Fatal(err)
	}

	b, err := s.ExportContact(ctx, "t1", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Contact.ID != "k1" || len(b.Consents) != 1 || len(b.Jobs) != 1 || len(b.History) != 1 {
		t.Errorf("incomplete bundle: %+v", b)
	}
}
