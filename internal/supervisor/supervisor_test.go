package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hausruf/hausruf/internal/audit"
	"github.com/hausruf/hausruf/internal/convo"
	"github.com/hausruf/hausruf/internal/infer"
	"github.com/hausruf/hausruf/internal/jobs"
	llmmock "github.com/hausruf/hausruf/pkg/provider/llm/mock"
	"github.com/hausruf/hausruf/pkg/types"
)

type fakeCreator struct {
	mu     sync.Mutex
	drafts []jobs.Draft
}

func (f *fakeCreator) Create(_ context.Context, draft jobs.Draft, _ string) (types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	return types.Job{ID: "j-1", JobNumber: "JOB-2026-0001", TenantID: draft.TenantID}, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) AppendAudit(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) LastAudit(_ context.Context, tenantID string) (*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].TenantID == tenantID {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memAudit) ListAudit(_ context.Context, tenantID string, _ audit.Query) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, e := range m.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

type saturation bool

func (s saturation) Saturated() bool { return bool(s) }

func newSupervisor(t *testing.T, cfg Config, sat Saturation) (*Supervisor, *memAudit) {
	t.Helper()
	store := &memAudit{}
	s := New(cfg, convo.TradesProfile(), &llmmock.Generator{Replies: []string{"Gerne."}},
		&fakeCreator{}, audit.New(store), sat, slog.Default())
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, store
}

func desc(id string) Descriptor {
	return Descriptor{SessionID: id, TenantID: "tenant-1", Channel: ChannelChat}
}

func TestOpenGreetsAndCounts(t *testing.T) {
	s, _ := newSupervisor(t, Config{}, nil)

	sess, err := s.Open(desc("s-1"))
	if err != nil {
		t.Fatal(err)
	}
	out := <-sess.Out
	if !strings.Contains(out.Text, "Guten Tag") {
		t.Errorf("greeting = %q", out.Text)
	}
	if got := s.Live(); got != 1 {
		t.Errorf("live = %d", got)
	}
}

func TestSessionCapRejects(t *testing.T) {
	s, _ := newSupervisor(t, Config{MaxSessions: 2}, nil)

	for i := 0; i < 2; i++ {
		if _, err := s.Open(desc(fmt.Sprintf("s-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Open(desc("s-over")); !errors.Is(err, ErrOverloaded) {
		t.Errorf("err = %v, want ErrOverloaded", err)
	}
}

func TestSaturatedPoolRejectsNewSessions(t *testing.T) {
	s, _ := newSupervisor(t, Config{}, saturation(true))

	if _, err := s.Open(desc("s-1")); !errors.Is(err, ErrOverloaded) {
		t.Errorf("err = %v, want ErrOverloaded", err)
	}
}

// TestChatTurnsRunOnInferencePool pins that session model calls go through
// the shared pool: while its only worker is held, the generator stays idle,
// and the queued turn completes once the worker frees up.
func TestChatTurnsRunOnInferencePool(t *testing.T) {
	pool := infer.NewPool(1, 8, 4, slog.Default())
	defer pool.Close()

	// Park the only worker so the session's model call has to queue.
	release := make(chan struct{})
	busy := make(chan struct{})
	if err := pool.Submit(context.Background(), infer.PriorityBackground, func(context.Context) {
		close(busy)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-busy

	gen := &llmmock.Generator{Replies: []string{"Gerne."}}
	s := New(Config{Convo: convo.Config{SoftTimeout: 5 * time.Second}},
		convo.TradesProfile(), gen, &fakeCreator{}, audit.New(&memAudit{}), pool, slog.Default())
	defer s.Shutdown(context.Background())

	sess, err := s.Open(desc("s-pool"))
	if err != nil {
		t.Fatal(err)
	}
	<-sess.Out // greeting

	// A price question before any problem statement is answered by the model.
	sess.Push(Inbound{Text: "Was kostet eine Wartung?", Confidence: 1})
	time.Sleep(50 * time.Millisecond)
	if got := len(gen.Calls); got != 0 {
		t.Fatalf("generator called %d times while the pool was occupied", got)
	}

	close(release)
	select {
	case out := <-sess.Out:
		if out.Text != "Gerne." {
			t.Errorf("reply = %q, want the model answer", out.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no assistant turn after the pool freed up")
	}
	if got := len(gen.Calls); got != 1 {
		t.Errorf("generator calls = %d, want 1", got)
	}
}

func TestDuplicateSessionIDRejected(t *testing.T) {
	s, _ := newSupervisor(t, Config{}, nil)

	if _, err := s.Open(desc("s-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(desc("s-1")); err == nil {
		t.Error("duplicate session id accepted")
	}
}

func TestConversationTurnThroughSession(t *testing.T) {
	s, _ := newSupervisor(t, Config{}, nil)

	sess, err := s.Open(desc("s-1"))
	if err != nil {
		t.Fatal(err)
	}
	<-sess.Out // greeting

	sess.Push(Inbound{Text: "Meine Heizung ist kalt", Confidence: 1})
	select {
	case out := <-sess.Out:
		if out.Text == "" {
			t.Error("empty assistant turn")
		}
	case <-time.After(time.Second):
		t.Fatal("no assistant turn")
	}
}

func TestCloseWritesSessionSummary(t *testing.T) {
	s, store := newSupervisor(t, Config{}, nil)

	sess, err := s.Open(desc("s-1"))
	if err != nil {
		t.Fatal(err)
	}
	<-sess.Out

	s.Close(context.Background(), "s-1", "chat closed")
	if got := s.Live(); got != 0 {
		t.Errorf("live = %d after close", got)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Action != "session_ended" || e.Detail["reason"] != "chat closed" {
		t.Errorf("entry = %+v", e)
	}
	if e.Detail["escalated"] != "false" {
		t.Errorf("escalated = %q", e.Detail["escalated"])
	}
}

func TestTurnTimeoutRepromptsThenAbandons(t *testing.T) {
	s, store := newSupervisor(t, Config{ChatTurnTimeout: 30 * time.Millisecond}, nil)

	sess, err := s.Open(desc("s-1"))
	if err != nil {
		t.Fatal(err)
	}
	<-sess.Out // greeting

	// First timeout: reprompt.
	select {
	case out := <-sess.Out:
		if out.End {
			t.Fatal("session ended on first silence")
		}
	case <-time.After(time.Second):
		t.Fatal("no reprompt")
	}
	// Second timeout: abandoned.
	select {
	case out := <-sess.Out:
		if !out.End {
			t.Fatal("second silence did not end the session")
		}
	case <-time.After(time.Second):
		t.Fatal("no final turn")
	}
	<-sess.Done()

	s.Close(context.Background(), "s-1", "abandoned")
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 || store.entries[0].Detail["status"] != string(convo.StatusAbandoned) {
		t.Fatalf("entries = %+v", store.entries)
	}
}

func TestHardCapEndsSession(t *testing.T) {
	s, _ := newSupervisor(t, Config{
		ChatHardCap:     50 * time.Millisecond,
		ChatTurnTimeout: 10 * time.Second,
	}, nil)

	sess, err := s.Open(desc("s-1"))
	if err != nil {
		t.Fatal(err)
	}
	<-sess.Out

	select {
	case out := <-sess.Out:
		if !out.End {
			t.Error("hard cap turn did not end the session")
		}
	case <-time.After(time.Second):
		t.Fatal("session outlived its hard cap")
	}
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after hard cap")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	store := &memAudit{}
	s := New(Config{}, convo.TradesProfile(), &llmmock.Generator{},
		&fakeCreator{}, audit.New(store), nil, slog.Default())

	for i := 0; i < 3; i++ {
		sess, err := s.Open(desc(fmt.Sprintf("s-%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		<-sess.Out
	}
	s.Shutdown(context.Background())
	if got := s.Live(); got != 0 {
		t.Errorf("live = %d after shutdown", got)
	}
	if _, err := s.Open(desc("s-late")); err == nil {
		t.Error("open succeeded after shutdown")
	}
}
