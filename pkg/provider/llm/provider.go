// Package llm defines the Generator interface for language-model backends.
//
// The conversation state machine invokes the model once per open-path turn,
// with a bounded history window and a hard per-call timeout. The model runtime
// is treated as opaque: when the soft timeout elapses the caller falls back to
// a templated utterance, and when the hard timeout elapses the call is
// cancelled via ctx.
//
// Implementations must be safe for concurrent use; one process serves many
// simultaneous calls.
package llm

import (
	"context"
	"errors"

	"github.com/hausruf/hausruf/pkg/types"
)

// ErrTimeout indicates the model did not respond within the hard deadline.
// The conversation state machine maps this to a templated fallback utterance.
var ErrTimeout = errors.New("llm: generation timed out")

// Request carries everything the model needs to produce one assistant turn.
type Request struct {
	// SystemPrompt is the profile-specific instruction injected before the
	// history.
	SystemPrompt string

	// History is the sliding window of recent messages, oldest first. The
	// caller is responsible for bounding the window.
	History []types.Message

	// UserMessage is the transcript of the current user turn.
	UserMessage string

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls randomness in [0, 2]. Phone prompts use low values.
	Temperature float64
}

// Generator is the abstraction over any LLM backend.
type Generator interface {
	// Generate produces one assistant utterance for req. Cancelling ctx
	// aborts the in-flight call; a deadline overrun is surfaced as an error
	// wrapping [ErrTimeout].
	Generate(ctx context.Context, req Request) (string, error)
}
