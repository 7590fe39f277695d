// Package mock provides a scriptable tts.Synthesizer for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hausruf/hausruf/pkg/provider/tts"
)

// Synthesizer is a test double for tts.Synthesizer. Each call streams Chunks
// with ChunkDelay between them, respecting ctx cancellation so barge-in tests
// can verify prompt stream teardown.
type Synthesizer struct {
	mu         sync.Mutex
	Chunks     [][]byte
	ChunkDelay time.Duration
	Err        error
	Calls      []string
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements tts.Synthesizer.
func (m *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, text)
	err := m.Err
	chunks := make([][]byte, len(m.Chunks))
	copy(chunks, m.Chunks)
	delay := m.ChunkDelay
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// TextCalls returns the texts synthesised so far.
func (m *Synthesizer) TextCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}
