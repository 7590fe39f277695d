package convo

import (
	"github.com/hausruf/hausruf/internal/intent"
	"github.com/hausruf/hausruf/internal/triage"
	"github.com/hausruf/hausruf/pkg/types"
)

// Profile is one industry plug-in: prompts in the caller's language, intent
// vocabulary, triage table, and the slot schema with its importance order.
// Profiles are plain values; the machine never mutates them.
type Profile struct {
	Name     string
	Language string // BCP-47, passed to STT as hint

	SystemPrompt string

	Greeting       string
	Farewell       string
	Reprompt       string // low-confidence transcript
	SilencePrompt  string // turn timeout
	FallbackText   string // LLM unavailable or too slow
	CorrectionText string // user rejected the confirmation summary
	CancelAckText  string // cancellation intent
	EscalationText string // emergency, always critical

	// ConfirmTemplate summarises the collected slots before booking. Verbs
	// in order: problem, name, phone, address, window.
	ConfirmTemplate string

	// ActionTemplate announces the created job. Verb: job number.
	ActionTemplate string

	SlotPrompts map[Slot]string
	SlotOrder   []Slot

	IntentRules []intent.Rule
	Triage      triage.Table

	DefaultTrade types.TradeCategory
}

// TradesProfile is the primary profile: a German-speaking intake assistant
// for craft businesses (plumbing, electrical, roofing).
func TradesProfile() Profile {
	return Profile{
		Name:     "trades",
		Language: "de-DE",
		SystemPrompt: "Du bist die telefonische Assistenz eines Handwerksbetriebs. " +
			"Du nimmst Schadensmeldungen und Terminwünsche auf. Antworte knapp, " +
			"höflich und in formellem Deutsch (Sie-Form). Maximal drei Sätze. " +
			"Stelle immer nur eine Frage auf einmal.",
		Greeting: "Guten Tag, hier ist die automatische Annahme Ihres Handwerksbetriebs. " +
			"Wie kann ich Ihnen helfen?",
		Farewell:      "Vielen Dank für Ihren Anruf. Auf Wiederhören!",
		Reprompt:      "Entschuldigung, das habe ich nicht verstanden. Können Sie das bitte wiederholen?",
		SilencePrompt: "Sind Sie noch dran? Wie kann ich Ihnen helfen?",
		FallbackText:  "Einen Moment bitte. Können Sie mir noch etwas mehr dazu sagen?",
		CorrectionText: "In Ordnung. Was möchten Sie ändern?",
		CancelAckText: "Verstanden, ich habe die Stornierung vermerkt. Ein Mitarbeiter " +
			"bestätigt Ihnen die Absage. Kann ich sonst noch etwas für Sie tun?",
		EscalationText: "Das klingt nach einem Notfall. Bitte verlassen Sie sofort das Gebäude " +
			"und rufen Sie die 112 an. Ich verbinde Sie jetzt mit unserem Notdienst.",
		ConfirmTemplate: "Ich fasse zusammen: %s. Gemeldet von %s, Telefon %s, Adresse %s, " +
			"Wunschtermin %s. Ist das korrekt?",
		ActionTemplate: "Ihr Auftrag wurde angelegt, die Auftragsnummer lautet %s. " +
			"Wir melden uns zur Terminbestätigung.",
		SlotPrompts: map[Slot]string{
			SlotProblem: "Beschreiben Sie bitte kurz das Problem.",
			SlotName:    "Wie ist bitte Ihr Name?",
			SlotPhone:   "Unter welcher Telefonnummer können wir Sie erreichen?",
			SlotAddress: "Wie lautet die Adresse, an der das Problem besteht?",
			SlotWindow:  "Wann würde Ihnen ein Termin passen?",
		},
		SlotOrder:    []Slot{SlotProblem, SlotName, SlotPhone, SlotAddress, SlotWindow},
		IntentRules:  intent.DefaultTradesRules(),
		Triage:       triage.DefaultTradesTable(),
		DefaultTrade: types.TradeGeneral,
	}
}

// HealthcareProfile serves medical practices: appointment intake with
// symptom-based urgency and a hard escalation list.
func HealthcareProfile() Profile {
	p := TradesProfile()
	p.Name = "healthcare"
	p.SystemPrompt = "Du bist die telefonische Assistenz einer Arztpraxis. Du nimmst " +
		"Terminwünsche und Anliegen auf, stellst aber keine Diagnosen und gibst " +
		"keine medizinischen Ratschläge. Antworte knapp und in formellem Deutsch. " +
		"Maximal drei Sätze."
	p.Greeting = "Guten Tag, hier ist die automatische Terminannahme Ihrer Praxis. " +
		"Wie kann ich Ihnen helfen?"
	p.EscalationText = "Das klingt nach einem medizinischen Notfall. Bitte legen Sie auf " +
		"und wählen Sie sofort die 112. Ich verbinde Sie parallel mit der Praxis."
	p.SlotPrompts = map[Slot]string{
		SlotProblem: "Worum geht es bei Ihrem Anliegen?",
		SlotName:    "Wie ist bitte Ihr Name?",
		SlotPhone:   "Unter welcher Telefonnummer können wir Sie erreichen?",
		SlotAddress: "Wie lautet Ihre Adresse?",
		SlotWindow:  "Wann würde Ihnen ein Termin passen?",
	}
	p.IntentRules = append(intent.DefaultTradesRules(), intent.Rule{
		Name:     "medical-emergency",
		Kind:     intent.Emergency,
		Priority: intent.DefaultPriority(intent.Emergency),
		Phrases: []string{
			"brustschmerzen", "atemnot", "bewusstlos", "starke blutung",
			"schlaganfall", "herzinfarkt",
		},
	})
	return p
}

// ProfessionalProfile serves professional-services firms (legal, tax,
// consulting): callback and appointment intake, no emergencies beyond the
// shared triggers.
func ProfessionalProfile() Profile {
	p := TradesProfile()
	p.Name = "professional-services"
	p.SystemPrompt = "Du bist die telefonische Assistenz einer Kanzlei. Du nimmst " +
		"Rückrufwünsche und Terminanfragen auf, erteilst aber keine Rechts- oder " +
		"Steuerberatung. Antworte knapp und in formellem Deutsch. Maximal drei Sätze."
	p.Greeting = "Guten Tag, Sie sind mit der automatischen Annahme der Kanzlei verbunden. " +
		"Wie kann ich Ihnen helfen?"
	p.SlotPrompts = map[Slot]string{
		SlotProblem: "Worum geht es bei Ihrem Anliegen?",
		SlotName:    "Wie ist bitte Ihr Name?",
		SlotPhone:   "Unter welcher Telefonnummer dürfen wir Sie zurückrufen?",
		SlotAddress: "Wie lautet Ihre Anschrift?",
		SlotWindow:  "Wann sind Sie am besten erreichbar?",
	}
	// Callback requests need no visit address.
	p.SlotOrder = []Slot{SlotProblem, SlotName, SlotPhone, SlotWindow}
	return p
}

// ProfileByName resolves a configured profile name; unknown names fall back
// to the trades profile.
func ProfileByName(name string) Profile {
	switch name {
	case "healthcare":
		return HealthcareProfile()
	case "professional-services":
		return ProfessionalProfile()
	default:
		return TradesProfile()
	}
}
