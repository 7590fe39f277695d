package routing

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/store/memstore"
	"github.com/hausruf/hausruf/pkg/types"
)

func testRules() []types.RoutingRule {
	return []types.RoutingRule{
		{
			ID: "r-emergency", TenantID: "t1", Name: "emergency direct",
			Priority: 1, Urgency: types.UrgencyEmergency,
			WorkerID: "w-emergency", Notify: true, Active: true,
		},
		{
			ID: "r-night", TenantID: "t1", Name: "night shift",
			Priority: 5, AfterHour: 18, DepartmentID: "d-night", Active: true,
			EscalateAfter: 30 * time.Minute,
		},
		{
			ID: "r-heating", TenantID: "t1", Name: "heating team",
			Priority: 10, Trade: types.TradePlumbingHeating,
			DepartmentID: "d-heating", Active: true,
		},
		{
			ID: "r-berlin", TenantID: "t1", Name: "berlin area",
			Priority: 20, PostalPrefix: "10", DepartmentID: "d-berlin", Active: true,
		},
		{
			ID: "r-disabled", TenantID: "t1", Name: "disabled catch-all",
			Priority: 90, DepartmentID: "d-disabled", Active: false,
		},
	}
}

func jobAt(hour int) types.Job {
	return types.Job{
		ID: "j1", TenantID: "t1",
		Trade:   types.TradeElectrical,
		Urgency: types.UrgencyNormal,
		Source:  types.SourcePhone,
		Address: types.Address{PostalCode: "80331"},
		CreatedAt: time.Date(2026, 8, 3, hour, 30, 0, 0, time.UTC),
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e := New(WithFallbackDepartment("d-fallback"))

	t.Run("emergency rule assigns worker directly", func(t *testing.T) {
		j := jobAt(10)
		j.Urgency = types.UrgencyEmergency
		d, err := e.Evaluate(j, testRules())
		if err != nil {
			t.Fatal(err)
		}
		if d.WorkerID != "w-emergency" || d.Priority != 1 || !d.Notify {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("time condition uses job creation hour", func(t *testing.T) {
		d, err := e.Evaluate(jobAt(20), testRules())
		if err != nil {
			t.Fatal(err)
		}
		if d.DepartmentID != "d-night" {
			t.Errorf("department = %s, want d-night", d.DepartmentID)
		}
		if d.EscalateAfter != 30*time.Minute {
			t.Errorf("escalate after = %s", d.EscalateAfter)
		}
	})

	t.Run("trade rule", func(t *testing.T) {
		j := jobAt(10)
		j.Trade = types.TradePlumbingHeating
		d, err := e.Evaluate(j, testRules())
		if err != nil {
			t.Fatal(err)
		}
		if d.DepartmentID != "d-heating" {
			t.Errorf("department = %s, want d-heating", d.DepartmentID)
		}
	})

	t.Run("postal prefix", func(t *testing.T) {
		j := jobAt(10)
		j.Address.PostalCode = "10115"
		d, err := e.Evaluate(j, testRules())
		if err != nil {
			t.Fatal(err)
		}
		if d.DepartmentID != "d-berlin" {
			t.Errorf("department = %s, want d-berlin", d.DepartmentID)
		}
	})

	t.Run("inactive rules are skipped, fallback applies", func(t *testing.T) {
		d, err := e.Evaluate(jobAt(10), testRules())
		if err != nil {
			t.Fatal(err)
		}
		if d.DepartmentID != "d-fallback" {
			t.Errorf("department = %s, want d-fallback", d.DepartmentID)
		}
		if d.Priority != 50 {
			t.Errorf("priority = %d, want urgency default 50", d.Priority)
		}
	})
}

func TestEvaluateNoFallbackErrors(t *testing.T) {
	e := New()
	if _, err := e.Evaluate(jobAt(10), nil); !errors.Is(err, ErrNoRule) {
		t.Errorf("err = %v, want ErrNoRule", err)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := New(WithFallbackDepartment("d-fallback"))
	j := jobAt(20)
	rules := testRules()

	first, err := e.Evaluate(j, rules)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		got, err := e.Evaluate(j, rules)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestRaisePriority(t *testing.T) {
	tests := []struct{ in, want int }{
		{99, 80},
		{80, 50},
		{50, 10},
		{10, 1},
		{1, 1},
	}
	for _, tt := range tests {
		if got := RaisePriority(tt.in); got != tt.want {
			t.Errorf("RaisePriority(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEscalatorRaisesAndAudits(t *testing.T) {
	st := memstore.New()
	ledger := audit.New(st)
	ctx := context.Background()

	job := types.Job{
		ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001",
		Status: types.StatusNew, RoutingPriority: 50,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	esc := NewEscalator(st, ledger, slog.Default())
	defer esc.Close()
	esc.Schedule("t1", "j1", time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		got, err := st.GetJob(ctx, "t1", "j1")
		if err != nil {
			t.Fatal(err)
		}
		if got.RoutingPriority == 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("priority still %d after deadline", got.RoutingPriority)
		case <-time.After(5 * time.Millisecond):
		}
	}

	entries, err := ledger.List(ctx, "t1", audit.Query{Action: "escalated"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EntityID != "j1" {
		t.Errorf("audit entries = %+v, want one escalated entry for j1", entries)
	}
}

func TestEscalatorSkipsTerminalJobs(t *testing.T) {
	st := memstore.New()
	ledger := audit.New(st)
	ctx := context.Background()

	job := types.Job{
		ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001",
		Status: types.StatusCompleted, RoutingPriority: 50,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	esc := NewEscalator(st, ledger, slog.Default())
	defer esc.Close()
	esc.Schedule("t1", "j1", time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	got, _ := st.GetJob(ctx, "t1", "j1")
	if got.RoutingPriority != 50 {
		t.Errorf("completed job escalated to priority %d", got.RoutingPriority)
	}
}

func TestEscalatorCancel(t *testing.T) {
	st := memstore.New()
	ledger := audit.New(st)
	ctx := context.Background()

	if err := st.CreateJob(ctx, types.Job{
		ID: "j1", TenantID: "t1", JobNumber: "JOB-2026-0001",
		Status: types.StatusNew, RoutingPriority: 50,
	}); err != nil {
		t.Fatal(err)
	}

	esc := NewEscalator(st, ledger, slog.Default())
	defer esc.Close()
	esc.Schedule("t1", "j1", 20*time.Millisecond)
	esc.Cancel("j1")
	time.Sleep(60 * time.Millisecond)

	got, _ := st.GetJob(ctx, "t1", "j1")
	if got.RoutingPriority != 50 {
		t.Error("cancelled timer still fired")
	}
}
