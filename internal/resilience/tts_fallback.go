package resilience

import (
	"context"

	"github.com/hausruf/hausruf/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Synthesizer] with automatic failover
// across multiple TTS backends. Each backend has its own circuit breaker.
//
// Only the initial connection attempt is covered by failover; once a stream
// is established, mid-stream errors are the caller's responsibility.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize opens an audio stream from the first healthy backend.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (<-chan []byte, error) {
		return s.Synthesize(ctx, text)
	})
}
