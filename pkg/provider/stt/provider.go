// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The conversation pipeline hands an STT provider one complete utterance at a
// time — PCM assembled by the audio bridge between voice-activity boundaries —
// and receives back text with a confidence score. Confidence below the
// configured floor causes the conversation state machine to reprompt instead
// of invoking the language model.
//
// Providers may optionally detect the speaker's dialect. The detected dialect
// is fed back as the Hint of the next call so a [Router] can dispatch to a
// specialised model.
//
// Implementations must be safe for concurrent use; one process serves many
// simultaneous calls.
package stt

import (
	"context"
	"errors"

	"github.com/hausruf/hausruf/pkg/audio"
)

// ErrUnavailable indicates a transient provider fault. Callers retry with
// backoff; repeated failure degrades or ends the session.
var ErrUnavailable = errors.New("stt: provider unavailable")

// Hint carries recognition hints for one utterance.
type Hint struct {
	// Language is the BCP-47 tag for recognition (e.g. "de-DE"). Empty lets
	// the provider auto-detect, if supported.
	Language string

	// Dialect is the dialect identifier returned by a previous call, used by
	// dialect-aware routers to pick a specialised model. Optional.
	Dialect string
}

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score in [0, 1]. Zero when the
	// provider does not report confidence.
	Confidence float64

	// Dialect is the detected dialect, when the provider supports detection.
	Dialect string
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts one complete utterance of pipeline-format PCM
	// (16 kHz mono int16) into text. The call blocks until the provider
	// commits to a result or ctx is cancelled.
	Transcribe(ctx context.Context, utterance audio.Frame, hint Hint) (Result, error)
}
