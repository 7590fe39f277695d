package convo

import (
	"regexp"
	"strings"

	"github.com/hausruf/hausruf/pkg/types"
)

// Slot identifies one structured field collected over the conversation.
type Slot string

const (
	SlotName    Slot = "name"
	SlotPhone   Slot = "phone"
	SlotAddress Slot = "address"
	SlotProblem Slot = "problem"
	SlotWindow  Slot = "window"
)

// SlotSet tracks which fields are filled.
type SlotSet map[Slot]string

// Outstanding returns the unfilled slots in the given importance order.
func (s SlotSet) Outstanding(order []Slot) []Slot {
	var out []Slot
	for _, slot := range order {
		if s[slot] == "" {
			out = append(out, slot)
		}
	}
	return out
}

var (
	phoneRE = regexp.MustCompile(`(?:\+49|0049|0)\s?[1-9][0-9 /\-]{5,14}[0-9]`)

	// nameRE matches a self-introduction and captures up to three following
	// name words.
	nameRE = regexp.MustCompile(`(?i)(?:mein name ist|ich heiße|ich heisse|hier ist|hier spricht|ich bin)\s+((?:[A-ZÄÖÜ][\p{L}\-]+\s?){1,3})`)

	// addressRE matches a German street with house number, optionally
	// followed by postal code and city.
	addressRE = regexp.MustCompile(`(?i)((?:[A-ZÄÖÜ][\p{L}\-]*\s?)+(?:straße|strasse|str\.|weg|gasse|platz|allee|ring|damm|ufer))\s+(\d+\s?[a-z]?)(?:\s*,?\s*(\d{5})\s+([A-ZÄÖÜ][\p{L}\-]+))?`)

	windowRE = regexp.MustCompile(`(?i)\b(heute|morgen|übermorgen|montag|dienstag|mittwoch|donnerstag|freitag|samstag|sonntag)?\s*(vormittag|nachmittag|abend|früh)\b|\b(?:ab|gegen|um)\s+\d{1,2}(?::\d{2})?\s*uhr\b|\bzwischen\s+\d{1,2}\s+und\s+\d{1,2}\s*uhr\b`)
)

// fill scans raw user text for slot values. Already-filled slots are kept;
// the first extraction wins so later chatter does not overwrite confirmed
// values.
func (s SlotSet) fill(text string) {
	if s[SlotPhone] == "" {
		if m := phoneRE.FindString(text); m != "" {
			s[SlotPhone] = normalizePhone(m)
		}
	}
	if s[SlotName] == "" {
		if m := nameRE.FindStringSubmatch(text); m != nil {
			s[SlotName] = strings.TrimSpace(m[1])
		}
	}
	if s[SlotAddress] == "" {
		if m := addressRE.FindString(text); m != "" {
			s[SlotAddress] = strings.TrimSpace(m)
		}
	}
	if s[SlotWindow] == "" {
		if m := windowRE.FindString(text); m != "" {
			s[SlotWindow] = strings.TrimSpace(strings.ToLower(m))
		}
	}
}

// Address parses the captured address slot into its structured form. Fields
// that were not spoken stay empty.
func (s SlotSet) Address() types.Address {
	m := addressRE.FindStringSubmatch(s[SlotAddress])
	if m == nil {
		return types.Address{Street: s[SlotAddress]}
	}
	return types.Address{
		Street:     strings.TrimSpace(m[1]),
		Number:     strings.ReplaceAll(m[2], " ", ""),
		PostalCode: m[3],
		City:       m[4],
	}
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "0049") {
		out = "+49" + out[4:]
	} else if strings.HasPrefix(out, "0") {
		out = "+49" + out[1:]
	}
	return out
}
