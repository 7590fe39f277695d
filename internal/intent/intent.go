// Package intent detects caller intent from a single utterance using ordered
// keyword and phrase rules.
//
// Rules are evaluated in priority order and short-circuit: emergency beats
// cancellation beats new-request beats query beats chitchat. Matching is
// fuzzy — each phrase word may differ from the transcript word by an optimal
// string alignment distance of at most one, which absorbs most single-edit
// transcription errors without letting "gas" match "das".
package intent

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hausruf/hausruf/internal/triage"
)

// Kind is a detected intent class.
type Kind string

const (
	Emergency    Kind = "emergency"
	Cancellation Kind = "cancellation"
	NewRequest   Kind = "new_request"
	Query        Kind = "query"
	Chitchat     Kind = "chitchat"
	Unknown      Kind = "unknown"
)

// DefaultPriority returns the evaluation priority for a kind; lower wins.
func DefaultPriority(k Kind) int {
	switch k {
	case Emergency:
		return 0
	case Cancellation:
		return 10
	case NewRequest:
		return 20
	case Query:
		return 30
	case Chitchat:
		return 40
	}
	return 100
}

// Rule maps trigger phrases to an intent kind. A rule fires when any phrase
// matches the utterance.
type Rule struct {
	Name     string
	Kind     Kind
	Priority int
	Phrases  []string
}

// Match is a successful detection.
type Match struct {
	Kind   Kind
	Rule   string
	Phrase string
}

// Detector evaluates an ordered rule set. Read-only after construction.
type Detector struct {
	rules []Rule
}

// NewDetector creates a Detector. Rules are sorted by ascending priority;
// rules with equal priority keep their given order.
func NewDetector(rules []Rule) *Detector {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Detector{rules: sorted}
}

// Detect returns the highest-priority matching rule, or (Match{Kind: Unknown},
// false) when nothing matches.
func (d *Detector) Detect(utterance string) (Match, bool) {
	tokens := strings.Fields(triage.Normalize(utterance))
	if len(tokens) == 0 {
		return Match{Kind: Unknown}, false
	}

	for _, rule := range d.rules {
		for _, phrase := range rule.Phrases {
			if phraseMatches(tokens, strings.Fields(triage.Normalize(phrase))) {
				return Match{Kind: rule.Kind, Rule: rule.Name, Phrase: phrase}, true
			}
		}
	}
	return Match{Kind: Unknown}, false
}

// phraseMatches reports whether the phrase words occur consecutively in the
// utterance tokens, each within the fuzzy tolerance.
func phraseMatches(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
	for start := 0; start+len(phrase) <= len(tokens); start++ {
		ok := true
		for i, want := range phrase {
			if !wordMatches(tokens[start+i], want) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// wordMatches compares one transcript word against one phrase word. Short
// words must match exactly; longer words tolerate one edit.
func wordMatches(got, want string) bool {
	if got == want {
		return true
	}
	if len(want) <= 3 {
		return false
	}
	return matchr.OSA(got, want) <= 1
}
