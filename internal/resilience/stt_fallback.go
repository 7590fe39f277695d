package resilience

import (
	"context"

	"github.com/hausruf/hausruf/pkg/audio"
	"github.com/hausruf/hausruf/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple STT backends. Each backend has its own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, tr stt.Transcriber) {
	f.group.AddFallback(name, tr)
}

// Transcribe sends the utterance to the first healthy backend. If the primary
// fails, subsequent fallbacks are tried with the same audio.
func (f *TranscriberFallback) Transcribe(ctx context.Context, frame audio.Frame, hint stt.Hint) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(tr stt.Transcriber) (stt.Result, error) {
		return tr.Transcribe(ctx, frame, hint)
	})
}
