package convo

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hausruf/hausruf/internal/jobs"
	llmmock "github.com/hausruf/hausruf/pkg/provider/llm/mock"
	"github.com/hausruf/hausruf/pkg/types"
)

type fakeCreator struct {
	mu     sync.Mutex
	drafts []jobs.Draft
	err    error
	n      int
}

func (f *fakeCreator) Create(_ context.Context, draft jobs.Draft, _ string) (types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.Job{}, f.err
	}
	f.drafts = append(f.drafts, draft)
	f.n++
	return types.Job{ID: "j-1", JobNumber: "JOB-2026-0001", TenantID: draft.TenantID}, nil
}

func newMachine(t *testing.T, cfg Config, gen *llmmock.Generator, creator *fakeCreator) *Machine {
	t.Helper()
	if cfg.TenantID == "" {
		cfg.TenantID = "tenant-1"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "sess-1"
	}
	if cfg.Source == "" {
		cfg.Source = types.SourcePhone
	}
	if gen == nil {
		gen = &llmmock.Generator{Replies: []string{"Gerne."}}
	}
	return New(TradesProfile(), cfg, gen, creator, slog.Default())
}

func TestHappyPathToBooking(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{CallerPhone: "+491701234567"}, nil, creator)
	ctx := context.Background()

	if out := m.Greet(); !strings.Contains(out.Text, "Guten Tag") {
		t.Fatalf("greeting = %q", out.Text)
	}
	if m.State() != StateIntake {
		t.Fatalf("state = %v after greeting", m.State())
	}

	out := m.Turn(ctx, "Meine Heizung ist kalt und macht Geräusche", 0.92)
	if m.State() != StateSlotFill {
		t.Fatalf("state = %v after intake", m.State())
	}
	if out.Text != m.profile.SlotPrompts[SlotName] {
		t.Errorf("prompt = %q, want name prompt", out.Text)
	}

	m.Turn(ctx, "Mein Name ist Max Mustermann", 0.9)
	if got := m.Slots()[SlotName]; !strings.Contains(got, "Mustermann") {
		t.Errorf("name slot = %q", got)
	}

	m.Turn(ctx, "Hauptstraße 5, 10115 Berlin", 0.9)
	out = m.Turn(ctx, "Morgen Vormittag wäre gut", 0.9)
	if m.State() != StateConfirmation {
		t.Fatalf("state = %v, want confirmation (slots: %v)", m.State(), m.Slots())
	}
	if !strings.Contains(out.Text, "korrekt") {
		t.Errorf("confirmation = %q", out.Text)
	}

	out = m.Turn(ctx, "Ja, das stimmt", 0.95)
	if !out.End {
		t.Error("booking turn did not end the session")
	}
	if out.JobNumber != "JOB-2026-0001" {
		t.Errorf("job number = %q", out.JobNumber)
	}
	if m.Status() != StatusCompleted {
		t.Errorf("status = %v", m.Status())
	}
	if len(creator.drafts) != 1 {
		t.Fatalf("created %d jobs", len(creator.drafts))
	}
	draft := creator.drafts[0]
	if draft.Urgency != types.UrgencyUrgent {
		t.Errorf("urgency = %v, want urgent", draft.Urgency)
	}
	if draft.Trade != types.TradePlumbingHeating {
		t.Errorf("trade = %v", draft.Trade)
	}
	if draft.Address.PostalCode != "10115" || draft.Address.City != "Berlin" {
		t.Errorf("address = %+v", draft.Address)
	}
	if draft.Source != types.SourcePhone {
		t.Errorf("source = %v", draft.Source)
	}
}

func TestEmergencyEscalatesFromAnyState(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{EmergencyTransfer: "+49301119999"}, nil, creator)
	ctx := context.Background()

	m.Greet()
	out := m.Turn(ctx, "Ich rieche Gas in der Küche!", 0.95)

	if m.State() != StateEscalation || m.Status() != StatusEscalated {
		t.Fatalf("state/status = %v/%v", m.State(), m.Status())
	}
	if !out.Critical {
		t.Error("escalation prompt not marked critical")
	}
	if !strings.Contains(out.Text, "112") {
		t.Errorf("escalation text = %q, want emergency number instruction", out.Text)
	}
	if out.Transfer != "+49301119999" {
		t.Errorf("transfer = %q", out.Transfer)
	}
	if len(creator.drafts) != 1 {
		t.Fatalf("created %d jobs", len(creator.drafts))
	}
	if got := creator.drafts[0].Urgency; got != types.UrgencyEmergency {
		t.Errorf("urgency = %v", got)
	}
	if got := creator.drafts[0].Trade; got != types.TradePlumbingHeating {
		t.Errorf("trade = %v", got)
	}
}

func TestLowConfidenceReprompts(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{}, nil, creator)
	m.Greet()

	out := m.Turn(context.Background(), "krzzhhh heizz", 0.3)
	if out.Text != m.profile.Reprompt {
		t.Errorf("text = %q, want reprompt", out.Text)
	}
	if m.State() != StateIntake {
		t.Errorf("state advanced on garbage input: %v", m.State())
	}
}

func TestRejectedSummaryReopensSlotFill(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{CallerPhone: "+491701234567"}, nil, creator)
	ctx := context.Background()

	m.Greet()
	m.Turn(ctx, "Wasserhahn tropft in der Küche", 0.9)
	m.Turn(ctx, "Erika Beispiel", 0.9)
	m.Turn(ctx, "Gartenweg 12, 80331 München", 0.9)
	m.Turn(ctx, "Heute Nachmittag", 0.9)
	if m.State() != StateConfirmation {
		t.Fatalf("state = %v, want confirmation (slots: %v)", m.State(), m.Slots())
	}

	out := m.Turn(ctx, "Nein, das stimmt nicht", 0.9)
	if m.State() != StateSlotFill {
		t.Errorf("state = %v, want slot_fill", m.State())
	}
	if out.Text != m.profile.CorrectionText {
		t.Errorf("text = %q", out.Text)
	}
	if len(creator.drafts) != 0 {
		t.Error("job created despite rejection")
	}
}

func TestSlowModelFallsBackToTemplate(t *testing.T) {
	creator := &fakeCreator{}
	gen := &llmmock.Generator{Replies: []string{"sollte nie ankommen"}, Delay: 500 * time.Millisecond}
	m := newMachine(t, Config{
		CallerPhone: "+491701234567",
		SoftTimeout: 20 * time.Millisecond,
		HardTimeout: 100 * time.Millisecond,
	}, gen, creator)
	ctx := context.Background()

	m.Greet()
	m.Turn(ctx, "Der Abfluss ist verstopft", 0.9)

	// A question mid-flow takes the open path; the slow model must not stall
	// the phone line.
	out := m.Turn(ctx, "Wann kommt denn jemand vorbei?", 0.9)
	if !strings.Contains(out.Text, m.profile.FallbackText) {
		t.Errorf("text = %q, want template fallback", out.Text)
	}
	if m.Status() != StatusActive {
		t.Errorf("status = %v, session must continue", m.Status())
	}
}

func TestSilenceRepromptsOnceThenAbandons(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{}, nil, creator)
	m.Greet()

	out := m.OnSilence()
	if out.End || out.Text != m.profile.SilencePrompt {
		t.Fatalf("first silence: %+v", out)
	}
	out = m.OnSilence()
	if !out.End {
		t.Error("second silence did not end the session")
	}
	if m.Status() != StatusAbandoned {
		t.Errorf("status = %v, want abandoned", m.Status())
	}
}

func TestUserInputResetsSilenceBudget(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{}, nil, creator)
	ctx := context.Background()
	m.Greet()

	m.OnSilence()
	m.Turn(ctx, "Die Steckdose funkt", 0.9)
	out := m.OnSilence()
	if out.End {
		t.Error("session abandoned although the caller had spoken again")
	}
}

func TestCancellationIntent(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{}, nil, creator)
	ctx := context.Background()
	m.Greet()

	out := m.Turn(ctx, "Ich möchte meinen Termin absagen", 0.9)
	if out.Text != m.profile.CancelAckText {
		t.Errorf("text = %q", out.Text)
	}
	out = m.Turn(ctx, "Nein danke, das war alles", 0.9)
	if !out.End || m.Status() != StatusCompleted {
		t.Errorf("follow-up = %+v, status = %v", out, m.Status())
	}
}

func TestClampSentences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Eins. Zwei. Drei. Vier.", "Eins. Zwei. Drei."},
		{"Nur ein Satz.", "Nur ein Satz."},
		{"Kein Satzende", "Kein Satzende"},
		{"Geht das? Ja! Gut. Noch mehr Text.", "Geht das? Ja! Gut."},
	}
	for _, tt := range tests {
		if got := clampSentences(tt.in, 3); got != tt.want {
			t.Errorf("clampSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummaryCarriesSlotsAndJob(t *testing.T) {
	creator := &fakeCreator{}
	m := newMachine(t, Config{CallerPhone: "+491701234567"}, nil, creator)
	ctx := context.Background()

	m.Greet()
	m.Turn(ctx, "Rohrbruch im Keller", 0.9)
	s := m.Summary()
	if !strings.Contains(s, "problem=") || !strings.Contains(s, "status=") {
		t.Errorf("summary = %q", s)
	}
}
