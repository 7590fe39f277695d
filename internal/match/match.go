// Package match ranks candidate workers for a job by a weighted score over
// trade fit, certifications, availability, workload headroom and proximity.
//
// The matcher is pure: it scores the worker set it is handed and performs no
// I/O. Scores are in [0, 1]; candidates below the acceptance threshold are
// dropped. For emergency jobs only workers available today qualify, and an
// empty result is reported explicitly as ErrNoneAvailable so the caller can
// fall back to the department's emergency contact.
package match

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/hausruf/hausruf/pkg/types"
)

// ErrNoneAvailable is returned when no candidate passes the filters. Callers
// must treat it as a definite signal, never as an empty-but-fine result.
var ErrNoneAvailable = errors.New("match: no worker available")

// Threshold is the minimum acceptable match score.
const Threshold = 0.4

// Weights are the scoring weights. They sum to 1 in the default
// configuration; deployments may tune them as long as they stay non-negative.
type Weights struct {
	Trade        float64
	Certs        float64
	Availability float64
	Headroom     float64
	Proximity    float64
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Trade:        0.35,
		Certs:        0.15,
		Availability: 0.20,
		Headroom:     0.15,
		Proximity:    0.15,
	}
}

// Criteria describes the job being matched.
type Criteria struct {
	Trade           types.TradeCategory
	Urgency         types.Urgency
	RequiredCerts   []string
	Latitude        float64
	Longitude       float64
	ServiceRadiusKm float64

	// Now anchors the availability-today check. Zero means time.Now().
	Now time.Time
}

// Candidate is one scored worker.
type Candidate struct {
	Worker         types.Worker `json:"worker"`
	Score          float64      `json:"score"`
	AvailableToday bool         `json:"available_today"`
}

// Matcher scores workers. Read-only after construction.
type Matcher struct {
	weights    Weights
	similarity map[[2]types.TradeCategory]float64
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWeights overrides the default weights.
func WithWeights(w Weights) Option {
	return func(m *Matcher) { m.weights = w }
}

// New creates a Matcher with the default trade-similarity table.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		weights:    DefaultWeights(),
		similarity: defaultSimilarity(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// defaultSimilarity is the partial-credit table for near-miss trades. Pairs
// are symmetric.
func defaultSimilarity() map[[2]types.TradeCategory]float64 {
	pairs := []struct {
		a, b types.TradeCategory
		v    float64
	}{
		{types.TradePlumbingHeating, types.TradeSanitary, 0.6},
		{types.TradeCarpentry, types.TradeRoofing, 0.4},
		{types.TradeGeneral, types.TradePlumbingHeating, 0.3},
		{types.TradeGeneral, types.TradeElectrical, 0.3},
		{types.TradeGeneral, types.TradeSanitary, 0.3},
		{types.TradeGeneral, types.TradeRoofing, 0.3},
		{types.TradeGeneral, types.TradeCarpentry, 0.3},
	}
	table := make(map[[2]types.TradeCategory]float64, len(pairs)*2)
	for _, p := range pairs {
		table[[2]types.TradeCategory{p.a, p.b}] = p.v
		table[[2]types.TradeCategory{p.b, p.a}] = p.v
	}
	return table
}

// Rank scores the workers against the criteria and returns candidates with
// score >= Threshold, best first. Inactive workers never qualify.
func (m *Matcher) Rank(workers []types.Worker, c Criteria) ([]Candidate, error) {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	emergency := c.Urgency == types.UrgencyEmergency

	var out []Candidate
	for _, w := range workers {
		if !w.Active {
			continue
		}
		available := availableToday(w, now)
		if emergency && !available {
			continue
		}

		score := m.weights.Trade*m.tradeFit(w, c.Trade) +
			m.weights.Certs*certCoverage(w, c.RequiredCerts) +
			m.weights.Availability*boolScore(available) +
			m.weights.Headroom*headroom(w) +
			m.weights.Proximity*m.proximity(w, c)

		if score < Threshold {
			continue
		}
		out = append(out, Candidate{Worker: w, Score: score, AvailableToday: available})
	}

	if len(out) == 0 {
		return nil, ErrNoneAvailable
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AvailableToday != b.AvailableToday {
			return a.AvailableToday
		}
		if a.Worker.CurrentJobs != b.Worker.CurrentJobs {
			return a.Worker.CurrentJobs < b.Worker.CurrentJobs
		}
		return a.Worker.ID < b.Worker.ID
	})
	return out, nil
}

func (m *Matcher) tradeFit(w types.Worker, trade types.TradeCategory) float64 {
	best := 0.0
	for _, t := range w.Trades {
		if t == trade {
			return 1
		}
		if v := m.similarity[[2]types.TradeCategory{t, trade}]; v > best {
			best = v
		}
	}
	return best
}

func certCoverage(w types.Worker, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	held := make(map[string]bool, len(w.Certifications))
	for _, c := range w.Certifications {
		held[c] = true
	}
	n := 0
	for _, c := range required {
		if held[c] {
			n++
		}
	}
	return float64(n) / float64(len(required))
}

// availableToday reports whether the worker is inside working hours now and
// has load headroom left.
func availableToday(w types.Worker, now time.Time) bool {
	hours, ok := w.Hours[now.Weekday()]
	if !ok || !hours.Contains(now) {
		return false
	}
	return w.MaxJobsPerDay <= 0 || w.CurrentJobs < w.MaxJobsPerDay
}

func headroom(w types.Worker) float64 {
	if w.MaxJobsPerDay <= 0 {
		return 1
	}
	h := 1 - float64(w.CurrentJobs)/float64(w.MaxJobsPerDay)
	return math.Max(0, math.Min(1, h))
}

func (m *Matcher) proximity(w types.Worker, c Criteria) float64 {
	if c.ServiceRadiusKm <= 0 {
		return 0
	}
	if (w.Latitude == 0 && w.Longitude == 0) || (c.Latitude == 0 && c.Longitude == 0) {
		return 0
	}
	d := DistanceKm(w.Latitude, w.Longitude, c.Latitude, c.Longitude)
	return 1 - math.Min(d, c.ServiceRadiusKm)/c.ServiceRadiusKm
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// earthRadiusKm is the mean Earth radius.
const earthRadiusKm = 6371.0

// DistanceKm computes the great-circle distance between two coordinates
// using the haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
