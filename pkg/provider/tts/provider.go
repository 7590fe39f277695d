// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Synthesis is streamed: the provider returns a channel of raw PCM chunks so
// the audio bridge can begin playback before the full utterance is rendered.
// The stream is cancellable at frame boundaries via ctx — the barge-in path
// depends on cancellation taking effect within one frame duration.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrTransient indicates a retryable synthesis fault. Callers retry with
// backoff before degrading the session.
var ErrTransient = errors.New("tts: transient synthesis failure")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as pipeline-format PCM (16 kHz mono int16).
	// The returned channel emits chunks as they are produced and is closed
	// when synthesis completes or ctx is cancelled. Callers must drain the
	// channel to avoid leaking the provider's internal goroutine.
	//
	// A non-nil error is returned only when the stream cannot be started.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
