package stt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hausruf/hausruf/pkg/audio"
)

// Router is a Transcriber that dispatches each utterance to a
// dialect-specialised backend when one is registered, falling back to a
// default backend otherwise. The dialect reported by the previous utterance
// arrives via [Hint.Dialect]; routing is therefore one utterance behind the
// detection, which is acceptable because dialects do not change mid-call.
//
// Safe for concurrent use.
type Router struct {
	fallback Transcriber

	mu       sync.RWMutex
	dialects map[string]Transcriber
}

// NewRouter creates a Router with the given default backend.
func NewRouter(fallback Transcriber) *Router {
	return &Router{
		fallback: fallback,
		dialects: make(map[string]Transcriber),
	}
}

// Register binds a dialect identifier to a specialised backend. Registering
// the same dialect twice replaces the previous backend.
func (r *Router) Register(dialect string, t Transcriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialects[dialect] = t
}

// Transcribe implements Transcriber.
func (r *Router) Transcribe(ctx context.Context, utterance audio.Frame, hint Hint) (Result, error) {
	backend := r.fallback
	if hint.Dialect != "" {
		r.mu.RLock()
		if t, ok := r.dialects[hint.Dialect]; ok {
			backend = t
			slog.Debug("stt: routing to dialect backend", "dialect", hint.Dialect)
		}
		r.mu.RUnlock()
	}
	return backend.Transcribe(ctx, utterance, hint)
}
