// Package mock provides a scriptable stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/hausruf/hausruf/pkg/audio"
	"github.com/hausruf/hausruf/pkg/provider/stt"
)

// Transcriber is a test double for stt.Transcriber. Results are returned in
// order; when the script is exhausted the zero Result is returned. All fields
// are safe for concurrent use after construction.
type Transcriber struct {
	mu      sync.Mutex
	Results []stt.Result
	Err     error
	Calls   []stt.Hint
	next    int
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(_ context.Context, _ audio.Frame, hint stt.Hint) (stt.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, hint)
	if m.Err != nil {
		return stt.Result{}, m.Err
	}
	if m.next >= len(m.Results) {
		return stt.Result{}, nil
	}
	r := m.Results[m.next]
	m.next++
	return r, nil
}
