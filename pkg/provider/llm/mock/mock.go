// Package mock provides a scriptable llm.Generator for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hausruf/hausruf/pkg/provider/llm"
)

// Generator is a test double for llm.Generator. Replies are returned in
// order; when exhausted the last reply repeats. Delay simulates inference
// latency and respects ctx cancellation.
type Generator struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Delay   time.Duration
	Calls   []llm.Request
	next    int
}

var _ llm.Generator = (*Generator)(nil)

// Generate implements llm.Generator.
func (m *Generator) Generate(ctx context.Context, req llm.Request) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", llm.ErrTimeout
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Replies) == 0 {
		return "", nil
	}
	if m.next >= len(m.Replies) {
		return m.Replies[len(m.Replies)-1], nil
	}
	r := m.Replies[m.next]
	m.next++
	return r, nil
}
