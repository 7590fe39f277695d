// Package mock provides a scriptable vad.Engine for tests.
package mock

import (
	"sync"

	"github.com/hausruf/hausruf/pkg/provider/vad"
)

// Engine is a test double for vad.Engine whose sessions replay a scripted
// event sequence. When the script is exhausted, Silence is returned.
type Engine struct {
	// Events is the sequence each new session replays.
	Events []vad.Event
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	events := make([]vad.Event, len(e.Events))
	copy(events, e.Events)
	return &session{events: events}, nil
}

type session struct {
	mu     sync.Mutex
	events []vad.Event
	next   int
}

func (s *session) ProcessFrame([]byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.events) {
		return vad.Event{Type: vad.Silence}, nil
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}

func (s *session) Close() error { return nil }
