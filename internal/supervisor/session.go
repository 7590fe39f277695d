package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hausruf/hausruf/internal/convo"
)

// Inbound is one user utterance entering a session, channel-agnostic: phone
// legs produce it from STT, chat legs pass typed text with confidence 1.
type Inbound struct {
	Text       string
	Confidence float64
}

// Descriptor identifies a session to open.
type Descriptor struct {
	SessionID string
	TenantID  string
	Channel   Channel

	// CallID binds a phone session to its telephony leg.
	CallID string

	// CallerPhone pre-fills the machine's phone slot.
	CallerPhone string

	// OutOfHours marks sessions opened outside the tenant's business hours;
	// it feeds the triage context modifiers.
	OutOfHours bool
}

// Channel is the session transport kind.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelChat  Channel = "chat"
)

// Session is one live conversation actor. The machine runs on the session
// goroutine; the transport legs feed In and drain Out.
type Session struct {
	ID       string
	TenantID string
	Channel  Channel
	CallID   string

	machine *convo.Machine
	log     *slog.Logger

	// In receives user utterances; Out emits assistant turns for the
	// transport leg to render.
	In  chan Inbound
	Out chan convo.Outgoing

	turnTimeout time.Duration
	hardCap     time.Duration
	started     time.Time

	cancel context.CancelFunc
	quit   chan struct{} // soft shutdown: exit after the current turn
	done   chan struct{}
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Machine exposes the conversation machine for summary and status reads
// after the session ends.
func (s *Session) Machine() *convo.Machine { return s.machine }

// Push delivers a user utterance. It drops the utterance when the session is
// already gone.
func (s *Session) Push(in Inbound) {
	select {
	case s.In <- in:
	case <-s.done:
	}
}

// run is the session event loop: greet, then alternate user turns with the
// turn timer. The hard cap ends runaway sessions regardless of activity.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.Out)

	s.deliver(ctx, s.machine.Greet())

	turn := time.NewTimer(s.turnTimeout)
	defer turn.Stop()
	lifetime := time.NewTimer(s.hardCap)
	defer lifetime.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-lifetime.C:
			s.log.Warn("session hard cap reached", "session_id", s.ID, "cap", s.hardCap)
			s.deliver(ctx, convo.Outgoing{Text: "", End: true})
			return
		case <-turn.C:
			out := s.machine.OnSilence()
			s.deliver(ctx, out)
			if out.End {
				return
			}
			turn.Reset(s.turnTimeout)
		case in := <-s.In:
			if !turn.Stop() {
				select {
				case <-turn.C:
				default:
				}
			}
			out := s.machine.Turn(ctx, in.Text, in.Confidence)
			s.deliver(ctx, out)
			if out.End {
				return
			}
			turn.Reset(s.turnTimeout)
		}
	}
}

// deliver hands one assistant turn to the transport leg. A leg that stopped
// draining must not wedge the loop, so delivery gives up with the context.
func (s *Session) deliver(ctx context.Context, out convo.Outgoing) {
	select {
	case s.Out <- out:
	case <-ctx.Done():
	}
}
