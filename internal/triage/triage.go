// Package triage turns a free-text problem description into an urgency level,
// a trade category and a recommended action.
//
// The engine is pure: it reads nothing but its rule table and the inputs, so
// the same (table, description, context) always produces the same result.
// Rule tables are versioned; the version that produced a result is recorded
// on the result so committed jobs are never retroactively reinterpreted after
// a table change.
package triage

import (
	"strings"

	"github.com/hausruf/hausruf/pkg/types"
)

// Rule is one entry of the ordered rule table. A rule fires when any of its
// patterns occurs in the normalized description. Patterns may be single words
// or whole phrases.
type Rule struct {
	Name     string
	Patterns []string
	Score    int
	Trade    types.TradeCategory
	Action   string
}

// Modifiers is the fixed context-adjustment table applied after rule
// evaluation. Values add to (or subtract from) the urgency score.
type Modifiers struct {
	ElderlyCaller   int // caller age >= 75
	YoungChild      int // affected person age <= 6
	Pregnancy       int
	Commercial      int
	KnownVulnerable int
	OutOfHours      int
}

// Table is a versioned rule table for one tenant.
type Table struct {
	Version   int
	Rules     []Rule
	Modifiers Modifiers
}

// Context carries optional structured facts about the caller and situation.
// The zero value applies no modifiers.
type Context struct {
	CallerAge    int
	AffectedAge  int
	Pregnant     bool
	PropertyType types.PropertyType
	Vulnerable   bool
	OutOfHours   bool
}

// Result is the triage outcome.
type Result struct {
	Urgency           types.Urgency       `json:"urgency"`
	Trade             types.TradeCategory `json:"trade"`
	RecommendedAction string              `json:"recommended_action,omitempty"`
	Score             int                 `json:"score"`
	Reasoning         []string            `json:"reasoning"`
	RulesVersion      int                 `json:"rules_version"`
}

// Engine evaluates descriptions against one rule table.
type Engine struct {
	table          Table
	preferredTrade types.TradeCategory
}

// Option configures an Engine.
type Option func(*Engine)

// WithPreferredTrade sets the tenant's tie-break preference for the category
// histogram.
func WithPreferredTrade(t types.TradeCategory) Option {
	return func(e *Engine) { e.preferredTrade = t }
}

// New creates an Engine over the given table.
func New(table Table, opts ...Option) *Engine {
	e := &Engine{table: table}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Version returns the rule table version the engine evaluates with.
func (e *Engine) Version() int { return e.table.Version }

// Assess evaluates description against the rule table and context.
func (e *Engine) Assess(description string, ctx Context) Result {
	text := Normalize(description)

	res := Result{RulesVersion: e.table.Version}
	histogram := make(map[types.TradeCategory]int)

	for _, rule := range e.table.Rules {
		if !matches(text, rule.Patterns) {
			continue
		}
		res.Score += rule.Score
		res.Reasoning = append(res.Reasoning, rule.Name)
		if rule.Trade != "" {
			histogram[rule.Trade]++
		}
		if rule.Action != "" && res.RecommendedAction == "" {
			res.RecommendedAction = rule.Action
		}
	}

	res.Score += e.applyModifiers(ctx, &res.Reasoning)
	res.Urgency = bucket(res.Score)
	res.Trade = e.winner(histogram)
	return res
}

func (e *Engine) applyModifiers(ctx Context, reasoning *[]string) int {
	m := e.table.Modifiers
	delta := 0
	add := func(points int, reason string) {
		if points == 0 {
			return
		}
		delta += points
		*reasoning = append(*reasoning, reason)
	}

	if ctx.CallerAge >= 75 {
		add(m.ElderlyCaller, "modifier:elderly_caller")
	}
	if ctx.AffectedAge > 0 && ctx.AffectedAge <= 6 {
		add(m.YoungChild, "modifier:young_child")
	}
	if ctx.Pregnant {
		add(m.Pregnancy, "modifier:pregnancy")
	}
	if ctx.PropertyType == types.PropertyCommercial || ctx.PropertyType == types.PropertyIndustrial {
		add(m.Commercial, "modifier:commercial")
	}
	if ctx.Vulnerable {
		add(m.KnownVulnerable, "modifier:vulnerable")
	}
	if ctx.OutOfHours {
		add(m.OutOfHours, "modifier:out_of_hours")
	}
	return delta
}

// bucket maps a final score to an urgency level using the fixed thresholds.
func bucket(score int) types.Urgency {
	switch {
	case score >= 80:
		return types.UrgencyEmergency
	case score >= 60:
		return types.UrgencyUrgent
	case score >= 30:
		return types.UrgencyNormal
	default:
		return types.UrgencyRoutine
	}
}

// winner picks the category by histogram plurality. Ties resolve to the
// tenant preference when it is among the leaders, then to general.
func (e *Engine) winner(histogram map[types.TradeCategory]int) types.TradeCategory {
	best := 0
	for _, n := range histogram {
		if n > best {
			best = n
		}
	}
	if best == 0 {
		if e.preferredTrade != "" {
			return e.preferredTrade
		}
		return types.TradeGeneral
	}

	var leaders []types.TradeCategory
	for trade, n := range histogram {
		if n == best {
			leaders = append(leaders, trade)
		}
	}
	if len(leaders) == 1 {
		return leaders[0]
	}
	for _, trade := range leaders {
		if trade == e.preferredTrade {
			return trade
		}
	}
	return types.TradeGeneral
}

// matches reports whether any pattern occurs in text. Single-word patterns
// must match a whole token; multi-word patterns match as a substring.
func matches(text string, patterns []string) bool {
	for _, p := range patterns {
		p = Normalize(p)
		if strings.ContainsRune(p, ' ') {
			if strings.Contains(text, p) {
				return true
			}
			continue
		}
		for _, token := range strings.Fields(text) {
			if token == p {
				return true
			}
		}
	}
	return false
}

// Normalize lowercases text, folds German umlauts and strips punctuation so
// pattern matching is insensitive to casing and transcription variants.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch r {
		case 'ä':
			b.WriteString("a")
		case 'ö':
			b.WriteString("o")
		case 'ü':
			b.WriteString("u")
		case 'ß':
			b.WriteString("ss")
		case '.', ',', '!', '?', ';', ':', '"', '\'', '(', ')':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
