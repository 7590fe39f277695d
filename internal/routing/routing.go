// Package routing assigns jobs to departments or workers by evaluating the
// tenant's declarative routing rules.
//
// Evaluation is first-match: rules are ordered by ascending priority and the
// first active rule whose conditions all hold wins. A missing condition
// matches everything. Evaluation is pure over (job, rules), so recomputing
// the routing for an unchanged job always yields the same decision.
package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hausruf/hausruf/pkg/types"
)

// ErrNoRule is returned when no rule matches and no fallback department is
// configured. Tenants are expected to always carry a catch-all rule or a
// fallback department; hitting this error is a configuration defect.
var ErrNoRule = errors.New("routing: no matching rule and no fallback")

// Priority tiers used when a rule does not declare an explicit priority.
const (
	tierEmergency = 1
	tierUrgent    = 10
	tierNormal    = 50
	tierRoutine   = 80
)

// Decision is the routing outcome for one job.
type Decision struct {
	DepartmentID  string
	WorkerID      string
	Priority      int
	Reason        string
	RuleID        string
	EscalateAfter time.Duration
	Notify        bool
}

// Engine evaluates routing rules. Read-only after construction.
type Engine struct {
	fallbackDepartment string
}

// Option configures an Engine.
type Option func(*Engine)

// WithFallbackDepartment sets the department used when no rule matches.
func WithFallbackDepartment(id string) Option {
	return func(e *Engine) { e.fallbackDepartment = id }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate picks the first matching active rule for the job. rules must be
// ordered by ascending priority, the order the store returns them in.
func (e *Engine) Evaluate(job types.Job, rules []types.RoutingRule) (Decision, error) {
	for _, rule := range rules {
		if !rule.Active || !ruleMatches(rule, job) {
			continue
		}

		d := Decision{
			DepartmentID:  rule.DepartmentID,
			WorkerID:      rule.WorkerID,
			Priority:      rule.Priority,
			RuleID:        rule.ID,
			EscalateAfter: rule.EscalateAfter,
			Notify:        rule.Notify,
			Reason:        reasonFor(rule, job),
		}
		if d.Priority <= 0 {
			d.Priority = defaultPriority(job.Urgency)
		}
		return d, nil
	}

	if e.fallbackDepartment == "" {
		return Decision{}, fmt.Errorf("%w: job %s", ErrNoRule, job.ID)
	}
	return Decision{
		DepartmentID: e.fallbackDepartment,
		Priority:     defaultPriority(job.Urgency),
		Reason:       "fallback: no rule matched",
	}, nil
}

// ruleMatches evaluates the rule's conditions over the job. Zero-value
// conditions are wildcards; set conditions combine by AND. Time conditions
// use the job's creation time so re-evaluation stays deterministic.
func ruleMatches(rule types.RoutingRule, job types.Job) bool {
	if rule.Trade != "" && rule.Trade != job.Trade {
		return false
	}
	if rule.Urgency != "" && rule.Urgency != job.Urgency {
		return false
	}
	if rule.Source != "" && rule.Source != job.Source {
		return false
	}
	if rule.PostalPrefix != "" && !strings.HasPrefix(job.Address.PostalCode, rule.PostalPrefix) {
		return false
	}
	hour := job.CreatedAt.Hour()
	if rule.AfterHour > 0 && hour < rule.AfterHour {
		return false
	}
	if rule.BeforeHour > 0 && hour >= rule.BeforeHour {
		return false
	}
	return true
}

func reasonFor(rule types.RoutingRule, job types.Job) string {
	parts := []string{rule.Name}
	if rule.Trade != "" {
		parts = append(parts, "trade="+string(job.Trade))
	}
	if rule.Urgency != "" {
		parts = append(parts, "urgency="+string(job.Urgency))
	}
	if rule.Source != "" {
		parts = append(parts, "source="+string(job.Source))
	}
	if rule.PostalPrefix != "" {
		parts = append(parts, "postal="+job.Address.PostalCode)
	}
	return strings.Join(parts, " ")
}

func defaultPriority(u types.Urgency) int {
	switch u {
	case types.UrgencyEmergency:
		return tierEmergency
	case types.UrgencyUrgent:
		return tierUrgent
	case types.UrgencyNormal:
		return tierNormal
	default:
		return tierRoutine
	}
}

// RaisePriority returns the job priority one tier higher (numerically lower).
// Emergency-tier priorities stay put.
func RaisePriority(p int) int {
	switch {
	case p > tierRoutine:
		return tierRoutine
	case p > tierNormal:
		return tierNormal
	case p > tierUrgent:
		return tierUrgent
	case p > tierEmergency:
		return tierEmergency
	}
	return p
}
