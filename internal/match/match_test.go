package match

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hausruf/hausruf/pkg/types"
)

// monday is a weekday anchor inside typical working hours.
var monday = time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)

func workHours() types.WeekHours {
	h := types.WeekHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		h[d] = types.DayHours{Open: "08:00", Close: "17:00"}
	}
	return h
}

func worker(id string, trades ...types.TradeCategory) types.Worker {
	return types.Worker{
		ID: id, TenantID: "t1", Name: id, Trades: trades,
		Hours: workHours(), MaxJobsPerDay: 8, Active: true,
	}
}

func TestRankPrefersExactTrade(t *testing.T) {
	m := New()
	workers := []types.Worker{
		worker("w-sanitary", types.TradeSanitary),
		worker("w-heating", types.TradePlumbingHeating),
	}

	got, err := m.Rank(workers, Criteria{Trade: types.TradePlumbingHeating, Now: monday})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Worker.ID != "w-heating" {
		t.Errorf("best = %s, want w-heating", got[0].Worker.ID)
	}
	// The sanitary worker still qualifies via the similarity table.
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[1].Score >= got[0].Score {
		t.Error("partial-credit trade must score below exact trade")
	}
}

func TestRankThresholdDropsPoorFits(t *testing.T) {
	m := New()
	workers := []types.Worker{worker("w-roof", types.TradeRoofing)}

	// Roofing has no similarity to electrical and the required certification
	// is missing; availability + headroom alone (0.35) stay below threshold.
	_, err := m.Rank(workers, Criteria{
		Trade: types.TradeElectrical, RequiredCerts: []string{"vde"}, Now: monday,
	})
	if !errors.Is(err, ErrNoneAvailable) {
		t.Errorf("err = %v, want ErrNoneAvailable", err)
	}
}

func TestEmergencyFiltersToAvailable(t *testing.T) {
	m := New()

	off := worker("w-off", types.TradePlumbingHeating)
	off.Hours = types.WeekHours{} // never working

	full := worker("w-full", types.TradePlumbingHeating)
	full.CurrentJobs = 8 // at max load

	on := worker("w-on", types.TradePlumbingHeating)

	got, err := m.Rank([]types.Worker{off, full, on}, Criteria{
		Trade: types.TradePlumbingHeating, Urgency: types.UrgencyEmergency, Now: monday,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Worker.ID != "w-on" {
		t.Errorf("candidates = %+v, want only w-on", got)
	}

	// With nobody available the matcher must say so explicitly.
	_, err = m.Rank([]types.Worker{off, full}, Criteria{
		Trade: types.TradePlumbingHeating, Urgency: types.UrgencyEmergency, Now: monday,
	})
	if !errors.Is(err, ErrNoneAvailable) {
		t.Errorf("err = %v, want ErrNoneAvailable", err)
	}
}

func TestInactiveWorkersNeverQualify(t *testing.T) {
	m := New()
	w := worker("w1", types.TradeElectrical)
	w.Active = false

	_, err := m.Rank([]types.Worker{w}, Criteria{Trade: types.TradeElectrical, Now: monday})
	if !errors.Is(err, ErrNoneAvailable) {
		t.Errorf("err = %v, want ErrNoneAvailable", err)
	}
}

func TestCertCoverage(t *testing.T) {
	m := New()
	certified := worker("w-cert", types.TradeElectrical)
	certified.Certifications = []string{"vde", "hochvolt"}
	uncertified := worker("w-none", types.TradeElectrical)

	got, err := m.Rank([]types.Worker{uncertified, certified}, Criteria{
		Trade: types.TradeElectrical, RequiredCerts: []string{"vde", "hochvolt"}, Now: monday,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Worker.ID != "w-cert" {
		t.Errorf("best = %s, want w-cert", got[0].Worker.ID)
	}
}

func TestProximityScoring(t *testing.T) {
	m := New()

	near := worker("w-near", types.TradeElectrical)
	near.Latitude, near.Longitude = 52.52, 13.405 // Berlin centre

	far := worker("w-far", types.TradeElectrical)
	far.Latitude, far.Longitude = 52.52, 13.80 // ~27 km east

	got, err := m.Rank([]types.Worker{far, near}, Criteria{
		Trade: types.TradeElectrical, Latitude: 52.52, Longitude: 13.405,
		ServiceRadiusKm: 30, Now: monday,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Worker.ID != "w-near" {
		t.Errorf("best = %s, want w-near", got[0].Worker.ID)
	}
}

func TestTieBreakByWorkloadThenID(t *testing.T) {
	m := New()

	busy := worker("w-a", types.TradeElectrical)
	busy.CurrentJobs = 4
	idle := worker("w-b", types.TradeElectrical)

	got, err := m.Rank([]types.Worker{busy, idle}, Criteria{Trade: types.TradeElectrical, Now: monday})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Worker.ID != "w-b" {
		t.Errorf("best = %s, want the idle worker", got[0].Worker.ID)
	}

	twinA := worker("w-x", types.TradeElectrical)
	twinB := worker("w-y", types.TradeElectrical)
	got, err = m.Rank([]types.Worker{twinB, twinA}, Criteria{Trade: types.TradeElectrical, Now: monday})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Worker.ID != "w-x" {
		t.Errorf("equal candidates must order by lexical id, got %s first", got[0].Worker.ID)
	}
}

func TestDistanceKm(t *testing.T) {
	// Berlin to Munich is roughly 504 km.
	d := DistanceKm(52.52, 13.405, 48.137, 11.575)
	if math.Abs(d-504) > 10 {
		t.Errorf("DistanceKm = %.1f, want ~504", d)
	}
	if DistanceKm(52.52, 13.405, 52.52, 13.405) != 0 {
		t.Error("identical points must have zero distance")
	}
}
