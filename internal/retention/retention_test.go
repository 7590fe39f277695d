package retention

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store"
	"github.com/hausruf/hausruf/internal/store/memstore"
	"github.com/hausruf/hausruf/pkg/types"
)

var sweepNow = time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T, days map[string]int) (*Sweeper, *memstore.Store, *audit.Ledger) {
	t.Helper()
	st := memstore.New()
	ledger := audit.New(st)
	s := New(st, ledger, Config{TenantID: "t1", Days: days}, slog.Default(),
		WithClock(func() time.Time { return sweepNow }))
	return s, st, ledger
}

func TestSweepOncePurgesAndRecords(t *testing.T) {
	s, st, ledger := newSweeper(t, map[string]int{"jobs": 90, "contacts": 90})
	ctx := context.Background()
	old := sweepNow.AddDate(0, 0, -120)

	if err := st.CreateJob(ctx, types.Job{
		ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001",
		Status: types.StatusCompleted, UpdatedAt: old,
	}); err != nil {
		t.Fatal(err)
	}
	erased := old
	if err := st.CreateContact(ctx, types.Contact{ID: "k1", TenantID: "t1", SoftDeletedAt: &erased}); err != nil {
		t.Fatal(err)
	}

	rep, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Jobs != 1 || rep.Contacts != 1 {
		t.Errorf("report = %+v, want 1 job and 1 contact", rep)
	}
	if _, err := st.GetJob(ctx, "t1", "j1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("job survived the sweep: %v", err)
	}

	entries, err := ledger.List(ctx, "t1", audit.Query{Action: "retention_purged"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Detail["jobs"] != "1" || entries[0].Detail["contacts"] != "1" {
		t.Errorf("audit detail = %+v", entries[0].Detail)
	}
}

func TestSweepOnceIdleWritesNoAudit(t *testing.T) {
	s, _, ledger := newSweeper(t, map[string]int{"jobs": 90})

	rep, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Empty() {
		t.Errorf("report = %+v, want empty", rep)
	}
	entries, _ := ledger.List(context.Background(), "t1", audit.Query{})
	if len(entries) != 0 {
		t.Errorf("idle sweep wrote %d audit entries", len(entries))
	}
}

func TestSweepKeepsKindsWithoutWindow(t *testing.T) {
	// Only jobs carry a window; the erased contact stays.
	s, st, _ := newSweeper(t, map[string]int{"jobs": 90})
	ctx := context.Background()
	erased := sweepNow.AddDate(0, 0, -400)

	if err := st.CreateContact(ctx, types.Contact{ID: "k1", TenantID: "t1", SoftDeletedAt: &erased}); err != nil {
		t.Fatal(err)
	}

	rep, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Contacts != 0 {
		t.Errorf("purged %d contacts without a retention window", rep.Contacts)
	}
	if _, err := st.GetContact(ctx, "t1", "k1"); err != nil {
		t.Errorf("contact purged: %v", err)
	}
}

func TestStartSweepsOnLaunch(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	old := sweepNow.AddDate(0, 0, -120)
	if err := st.CreateJob(ctx, types.Job{
		ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001",
		Status: types.StatusCancelled, UpdatedAt: old,
	}); err != nil {
		t.Fatal(err)
	}

	s := New(st, audit.New(st), Config{
		TenantID: "t1",
		Days:     map[string]int{"jobs": 90},
		Interval: time.Hour,
	}, slog.Default(), WithClock(func() time.Time { return sweepNow }))
	s.Start()
	defer s.Close()

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := st.GetJob(ctx, "t1", "j1"); errors.Is(err, store.ErrNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("initial sweep did not purge the expired job")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
