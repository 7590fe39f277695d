// Package convo implements the per-session conversation state machine.
//
// The machine is channel-agnostic: it consumes transcribed user utterances
// and produces assistant utterances, and the audio or chat specifics live in
// the session layer. Industry profiles plug in prompts, intent vocabulary,
// the triage table, and the slot schema.
//
// Flow skeleton: GREETING → INTAKE → CLASSIFICATION → SLOT_FILL →
// CONFIRMATION → ACTION → FAREWELL, with ESCALATION reachable from every
// state on an emergency trigger.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hausruf/hausruf/internal/intent"
	"github.com/hausruf/hausruf/internal/jobs"
	"github.com/hausruf/hausruf/internal/triage"
	"github.com/hausruf/hausruf/pkg/provider/llm"
	"github.com/hausruf/hausruf/pkg/types"
)

// State is the conversation flow state.
type State string

const (
	StateGreeting       State = "greeting"
	StateIntake         State = "intake"
	StateClassification State = "classification"
	StateSlotFill       State = "slot_fill"
	StateConfirmation   State = "confirmation"
	StateAction         State = "action"
	StateFarewell       State = "farewell"
	StateEscalation     State = "escalation"
)

// Status is the session outcome as far as the machine can tell.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusEscalated Status = "escalated"
)

// maxSentences bounds assistant utterances on voice channels.
const maxSentences = 3

// Outgoing is one assistant turn.
type Outgoing struct {
	Text string

	// Critical marks prompts that must be played to the end (no barge-in).
	Critical bool

	// Transfer, when set, asks the session to attempt a call transfer to
	// this target after playback.
	Transfer string

	// End asks the session to close after playback.
	End bool

	// JobNumber is set once a job has been created this turn.
	JobNumber string
}

// JobCreator is the slice of the job service the machine needs.
type JobCreator interface {
	Create(ctx context.Context, draft jobs.Draft, actor string) (types.Job, error)
}

// Config carries the per-session machine settings. Zero values select the
// defaults.
type Config struct {
	TenantID  string
	SessionID string
	Source    types.JobSource // phone or chat

	// CallerPhone pre-fills the phone slot from caller id.
	CallerPhone string

	// EmergencyTransfer is the transfer target on escalation (E.164 or
	// operator queue id).
	EmergencyTransfer string

	// ConfidenceFloor gates STT results; below it the machine reprompts
	// instead of acting. Default 0.5.
	ConfidenceFloor float64

	// SoftTimeout is how long to wait for the model before answering from a
	// template. Default 2s.
	SoftTimeout time.Duration

	// HardTimeout cancels the model call outright. Default 5s.
	HardTimeout time.Duration

	// HistoryWindow bounds the message window handed to the model, in
	// turns. Default 8.
	HistoryWindow int

	// OutOfHours feeds the triage modifier table.
	OutOfHours bool
}

func (c Config) withDefaults() Config {
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 0.5
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = 2 * time.Second
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = 5 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 8
	}
	return c
}

// Machine drives one conversation. Not safe for concurrent use; each session
// owns exactly one machine and calls it from its event loop.
type Machine struct {
	profile  Profile
	cfg      Config
	detector *intent.Detector
	triager  *triage.Engine
	llm      llm.Generator
	creator  JobCreator
	log      *slog.Logger
	now      func() time.Time

	state  State
	status Status
	slots  SlotSet

	history    []types.Message
	triageRes  triage.Result
	jobNumber  string
	prompted   Slot // slot the last question asked for
	reprompted bool // one silence reprompt spent
}

// New creates a Machine in GREETING.
func New(profile Profile, cfg Config, gen llm.Generator, creator JobCreator, log *slog.Logger) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		profile:  profile,
		cfg:      cfg,
		detector: intent.NewDetector(profile.IntentRules),
		triager:  triage.New(profile.Triage, triage.WithPreferredTrade(profile.DefaultTrade)),
		llm:      gen,
		creator:  creator,
		log:      log,
		now:      time.Now,
		state:    StateGreeting,
		status:   StatusActive,
		slots:    SlotSet{},
	}
	if cfg.CallerPhone != "" {
		m.slots[SlotPhone] = cfg.CallerPhone
	}
	return m
}

// State returns the current flow state.
func (m *Machine) State() State { return m.state }

// Status returns the session outcome so far.
func (m *Machine) Status() Status { return m.status }

// Slots returns a copy of the filled slots.
func (m *Machine) Slots() SlotSet {
	out := SlotSet{}
	for k, v := range m.slots {
		out[k] = v
	}
	return out
}

// JobNumber returns the created job's number, or empty.
func (m *Machine) JobNumber() string { return m.jobNumber }

// Language returns the profile language for STT hints.
func (m *Machine) Language() string { return m.profile.Language }

// Greet opens the conversation and moves to INTAKE.
func (m *Machine) Greet() Outgoing {
	m.state = StateIntake
	return m.say(Outgoing{Text: m.profile.Greeting})
}

// Turn processes one user utterance. confidence is the STT score; chat input
// passes 1.
func (m *Machine) Turn(ctx context.Context, text string, confidence float64) Outgoing {
	if m.status != StatusActive {
		return Outgoing{Text: m.profile.Farewell, End: true}
	}
	if confidence < m.cfg.ConfidenceFloor {
		m.log.Debug("low-confidence transcript, reprompting",
			"confidence", confidence, "floor", m.cfg.ConfidenceFloor)
		return m.say(Outgoing{Text: m.profile.Reprompt})
	}
	m.reprompted = false
	m.push("user", text)

	match, matched := m.detector.Detect(text)
	if matched && match.Kind == intent.Emergency {
		return m.escalate(ctx, text, match)
	}
	if matched && match.Kind == intent.Cancellation && m.state != StateConfirmation {
		m.state = StateFarewell
		return m.say(Outgoing{Text: m.profile.CancelAckText})
	}

	m.slots.fill(text)

	switch m.state {
	case StateGreeting, StateIntake:
		return m.intake(ctx, text, match, matched)
	case StateSlotFill:
		return m.slotFill(ctx, text, match, matched)
	case StateConfirmation:
		return m.confirm(ctx, text)
	case StateFarewell:
		m.status = StatusCompleted
		return m.say(Outgoing{Text: m.profile.Farewell, End: true})
	default:
		return m.say(Outgoing{Text: m.respond(ctx, text, m.profile.FallbackText)})
	}
}

// intake captures the problem description, classifies it, and moves to
// slot-filling.
func (m *Machine) intake(ctx context.Context, text string, match intent.Match, matched bool) Outgoing {
	if matched && (match.Kind == intent.Chitchat || match.Kind == intent.Query) && m.slots[SlotProblem] == "" {
		// Small talk before the caller states a concern: answer, stay put.
		return m.say(Outgoing{Text: m.respond(ctx, text, m.profile.SlotPrompts[SlotProblem])})
	}

	if m.slots[SlotProblem] == "" {
		m.slots[SlotProblem] = text
	}
	m.state = StateClassification
	m.triageRes = m.triager.Assess(m.slots[SlotProblem], triage.Context{OutOfHours: m.cfg.OutOfHours})
	m.log.Info("intake classified",
		"urgency", m.triageRes.Urgency,
		"trade", m.triageRes.Trade,
		"score", m.triageRes.Score,
	)
	if m.triageRes.Urgency == types.UrgencyEmergency {
		return m.escalate(ctx, text, intent.Match{Kind: intent.Emergency, Rule: "triage"})
	}
	m.state = StateSlotFill
	return m.promptNext()
}

// slotFill prompts for the most important outstanding slot, or moves to
// confirmation when everything is collected.
func (m *Machine) slotFill(ctx context.Context, text string, match intent.Match, matched bool) Outgoing {
	if matched && match.Kind == intent.Query {
		// Answer the question, then continue collecting.
		reply := m.respond(ctx, text, m.profile.FallbackText)
		return m.say(Outgoing{Text: reply + " " + m.nextPrompt()})
	}
	m.takeAnswer(text)
	return m.promptNext()
}

// takeAnswer treats the utterance as a direct answer to the slot that was
// just asked for, when the pattern extractors found nothing. A bare "Max
// Mustermann" after the name question must land in the name slot.
func (m *Machine) takeAnswer(text string) {
	if m.prompted == "" || m.slots[m.prompted] != "" {
		return
	}
	switch m.prompted {
	case SlotPhone:
		// Phone needs digits; a free-text answer is reprompted instead.
	case SlotName:
		if len(strings.Fields(text)) <= 4 {
			m.slots[m.prompted] = strings.TrimSpace(text)
		}
	default:
		m.slots[m.prompted] = strings.TrimSpace(text)
	}
}

func (m *Machine) promptNext() Outgoing {
	outstanding := m.slots.Outstanding(m.profile.SlotOrder)
	if len(outstanding) == 0 {
		m.state = StateConfirmation
		m.prompted = ""
		return m.say(Outgoing{Text: fmt.Sprintf(m.profile.ConfirmTemplate,
			m.slots[SlotProblem], m.slots[SlotName], m.slots[SlotPhone],
			m.slots[SlotAddress], m.slots[SlotWindow])})
	}
	m.prompted = outstanding[0]
	return m.say(Outgoing{Text: m.profile.SlotPrompts[outstanding[0]]})
}

func (m *Machine) nextPrompt() string {
	outstanding := m.slots.Outstanding(m.profile.SlotOrder)
	if len(outstanding) == 0 {
		return ""
	}
	return m.profile.SlotPrompts[outstanding[0]]
}

// confirm reads the caller's verdict on the summary: yes creates the job, no
// reopens slot-filling, anything else goes to the model.
func (m *Machine) confirm(ctx context.Context, text string) Outgoing {
	// Negation first: "nein, nicht richtig" must not read as agreement.
	switch {
	case isNegative(text):
		m.state = StateSlotFill
		return m.say(Outgoing{Text: m.profile.CorrectionText})
	case isAffirmative(text):
		return m.act(ctx)
	default:
		return m.say(Outgoing{Text: m.respond(ctx, text, m.profile.Reprompt)})
	}
}

// act creates the job and closes the conversation.
func (m *Machine) act(ctx context.Context) Outgoing {
	m.state = StateAction
	draft := jobs.Draft{
		TenantID:    m.cfg.TenantID,
		Title:       title(m.slots[SlotProblem]),
		Description: m.describe(),
		Trade:       m.triageRes.Trade,
		Urgency:     m.triageRes.Urgency,
		Source:      m.cfg.Source,
		Address:     m.slots.Address(),

		PreferredWindow: m.slots[SlotWindow],
	}
	if draft.Trade == "" {
		draft.Trade = m.profile.DefaultTrade
	}
	if draft.Urgency == "" {
		draft.Urgency = types.UrgencyNormal
	}

	job, err := m.creator.Create(ctx, draft, m.cfg.SessionID)
	if err != nil {
		m.log.Error("job creation failed", "error", err)
		m.state = StateFarewell
		m.status = StatusCompleted
		return m.say(Outgoing{Text: m.profile.FallbackText + " " + m.profile.Farewell, End: true})
	}
	m.jobNumber = job.JobNumber
	m.state = StateFarewell
	m.status = StatusCompleted
	return m.say(Outgoing{
		Text:      fmt.Sprintf(m.profile.ActionTemplate, job.JobNumber) + " " + m.profile.Farewell,
		End:       true,
		JobNumber: job.JobNumber,
	})
}

// escalate handles an emergency trigger from any state: create the job
// immediately with whatever is known, emit the critical instruction, and ask
// the session for a transfer.
func (m *Machine) escalate(ctx context.Context, text string, match intent.Match) Outgoing {
	m.state = StateEscalation
	m.status = StatusEscalated
	m.log.Warn("emergency escalation", "rule", match.Rule)

	problem := m.slots[SlotProblem]
	if problem == "" {
		problem = text
		m.slots[SlotProblem] = text
	}
	res := m.triager.Assess(problem, triage.Context{OutOfHours: m.cfg.OutOfHours})

	draft := jobs.Draft{
		TenantID:    m.cfg.TenantID,
		Title:       title(problem),
		Description: m.describe(),
		Trade:       res.Trade,
		Urgency:     types.UrgencyEmergency,
		Source:      m.cfg.Source,
		Address:     m.slots.Address(),
	}
	job, err := m.creator.Create(ctx, draft, m.cfg.SessionID)
	if err != nil {
		m.log.Error("emergency job creation failed", "error", err)
	} else {
		m.jobNumber = job.JobNumber
	}

	return m.say(Outgoing{
		Text:      m.profile.EscalationText,
		Critical:  true,
		Transfer:  m.cfg.EmergencyTransfer,
		JobNumber: m.jobNumber,
	})
}

// OnSilence handles a turn timeout: one reprompt, then the session is
// abandoned.
func (m *Machine) OnSilence() Outgoing {
	if m.reprompted {
		m.status = StatusAbandoned
		return m.say(Outgoing{Text: m.profile.Farewell, End: true})
	}
	m.reprompted = true
	return m.say(Outgoing{Text: m.profile.SilencePrompt})
}

// Summary renders a compact session summary for persistence.
func (m *Machine) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status=%s state=%s", m.status, m.state)
	if m.jobNumber != "" {
		fmt.Fprintf(&b, " job=%s", m.jobNumber)
	}
	for _, slot := range m.profile.SlotOrder {
		if v := m.slots[slot]; v != "" {
			fmt.Fprintf(&b, " %s=%q", slot, v)
		}
	}
	return b.String()
}

// respond runs the open path: ask the model, fall back to the template when
// it is slow or fails. The soft timeout keeps phone latency bounded; the
// hard timeout reclaims the worker.
func (m *Machine) respond(ctx context.Context, userText, fallback string) string {
	hardCtx, cancel := context.WithTimeout(ctx, m.cfg.HardTimeout)

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer cancel()
		text, err := m.llm.Generate(hardCtx, llm.Request{
			SystemPrompt: m.profile.SystemPrompt,
			History:      m.window(),
			UserMessage:  userText,
			MaxTokens:    256,
			Temperature:  0.3,
		})
		ch <- result{text, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			m.log.Warn("llm_timeout", "error", r.err)
			return fallback
		}
		if strings.TrimSpace(r.text) == "" {
			return fallback
		}
		return clampSentences(r.text, maxSentences)
	case <-time.After(m.cfg.SoftTimeout):
		m.log.Warn("llm soft timeout, answering from template",
			"soft_timeout", m.cfg.SoftTimeout)
		cancel()
		return fallback
	}
}

// window returns the bounded history for the model, newest turns last.
func (m *Machine) window() []types.Message {
	max := m.cfg.HistoryWindow * 2 // user + assistant per turn
	if len(m.history) <= max {
		return m.history
	}
	return m.history[len(m.history)-max:]
}

func (m *Machine) say(out Outgoing) Outgoing {
	m.push("assistant", out.Text)
	return out
}

func (m *Machine) push(role, content string) {
	m.history = append(m.history, types.Message{
		Role:      role,
		Content:   content,
		Timestamp: m.now().UTC(),
	})
}

// describe joins the slots into the job description.
func (m *Machine) describe() string {
	var parts []string
	if v := m.slots[SlotProblem]; v != "" {
		parts = append(parts, v)
	}
	if v := m.slots[SlotName]; v != "" {
		parts = append(parts, "Name: "+v)
	}
	if v := m.slots[SlotPhone]; v != "" {
		parts = append(parts, "Telefon: "+v)
	}
	if v := m.slots[SlotWindow]; v != "" {
		parts = append(parts, "Wunschtermin: "+v)
	}
	return strings.Join(parts, "; ")
}

// title derives a short job title from the problem description.
func title(problem string) string {
	words := strings.Fields(problem)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

var affirmatives = []string{"ja", "genau", "richtig", "korrekt", "stimmt", "passt", "okay", "ok"}

var negatives = []string{"nein", "falsch", "nicht richtig", "stimmt nicht"}

func isAffirmative(text string) bool { return containsAny(text, affirmatives) }

func isNegative(text string) bool { return containsAny(text, negatives) }

func containsAny(text string, words []string) bool {
	norm := " " + triage.Normalize(text) + " "
	for _, w := range words {
		if strings.Contains(norm, " "+w+" ") {
			return true
		}
	}
	return false
}

// clampSentences truncates text to at most n sentences.
func clampSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n && i+1 < len(text) {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
