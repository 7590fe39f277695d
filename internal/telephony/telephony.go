// Package telephony defines the unified call-event model and the adapter
// interface every telephony provider integration implements.
//
// Adapters translate provider-specific webhooks and media streams into the
// events below and normalize audio to the 16 kHz mono pipeline format. The
// rest of the system never sees provider payloads.
package telephony

import (
	"context"
	"errors"
	"time"

	"github.com/hausruf/hausruf/pkg/audio"
)

var (
	// ErrProviderUnavailable indicates a transient provider fault. Callers
	// retry with backoff.
	ErrProviderUnavailable = errors.New("telephony: provider unavailable")

	// ErrCallGone indicates the call no longer exists at the provider.
	ErrCallGone = errors.New("telephony: call gone")

	// ErrTransferRejected indicates the provider refused a transfer attempt.
	ErrTransferRejected = errors.New("telephony: transfer rejected")
)

// EventType enumerates the unified call events.
type EventType string

const (
	EventCallIncoming EventType = "call_incoming"
	EventCallAnswered EventType = "call_answered"
	EventCallEnded    EventType = "call_ended"
	EventDTMF         EventType = "dtmf"
	EventAudioFrame   EventType = "audio_frame"
)

// Event is one normalized call event.
type Event struct {
	Type      EventType
	CallID    string
	TenantID  string
	From      string // E.164
	To        string // E.164
	Digit     string // DTMF only
	Frame     audio.Frame
	Reason    string // CallEnded only
	Timestamp time.Time
}

// Adapter is the provider integration surface. Implementations must be safe
// for concurrent use.
type Adapter interface {
	// Events returns the unified event stream. The channel closes when the
	// adapter shuts down.
	Events() <-chan Event

	// Answer accepts an incoming call. Answering an already-answered call is
	// a no-op.
	Answer(ctx context.Context, callID string) error

	// Hangup terminates the call. Hangup is idempotent: repeated calls and
	// calls for already-ended calls succeed.
	Hangup(ctx context.Context, callID string) error

	// Transfer hands the call to target (E.164 or operator queue id).
	Transfer(ctx context.Context, callID, target string) error

	// Play streams PCM to the caller. The stream is cancellable at frame
	// boundaries via ctx; Play returns once the stream is drained or
	// cancelled.
	Play(ctx context.Context, callID string, pcm <-chan []byte) error

	// Busy rejects an incoming call with a busy signal. Used by the session
	// supervisor when the session cap is reached.
	Busy(ctx context.Context, callID string) error

	// Close shuts the adapter down and closes the event stream.
	Close() error
}
