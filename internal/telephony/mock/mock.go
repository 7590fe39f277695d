// Package mock provides a scriptable in-memory telephony adapter for tests
// and local development. Calls are injected with Ring and driven with
// SendFrame/SendDTMF; everything the system plays back is captured per call.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hausruf/hausruf/internal/telephony"
	"github.com/hausruf/hausruf/pkg/audio"
)

var _ telephony.Adapter = (*Adapter)(nil)

type callState struct {
	answered bool
	ended    bool
	played   [][]byte
	transfer []string
}

// Adapter is a scriptable telephony.Adapter. Safe for concurrent use.
type Adapter struct {
	tenantID string
	events   chan telephony.Event

	mu             sync.Mutex
	calls          map[string]*callState
	seq            map[string]uint64
	rejectTransfer bool
	unavailable    bool
	closed         bool
}

// New creates a mock adapter for the given tenant.
func New(tenantID string) *Adapter {
	return &Adapter{
		tenantID: tenantID,
		events:   make(chan telephony.Event, 256),
		calls:    make(map[string]*callState),
		seq:      make(map[string]uint64),
	}
}

// RejectTransfers makes every subsequent Transfer fail with
// ErrTransferRejected.
func (a *Adapter) RejectTransfers(reject bool) {
	a.mu.Lock()
	a.rejectTransfer = reject
	a.mu.Unlock()
}

// SetUnavailable makes control operations fail with ErrProviderUnavailable,
// simulating a provider outage.
func (a *Adapter) SetUnavailable(down bool) {
	a.mu.Lock()
	a.unavailable = down
	a.mu.Unlock()
}

// Ring injects an incoming call.
func (a *Adapter) Ring(callID, from, to string) {
	a.mu.Lock()
	a.calls[callID] = &callState{}
	a.mu.Unlock()
	a.emit(telephony.Event{
		Type:      telephony.EventCallIncoming,
		CallID:    callID,
		TenantID:  a.tenantID,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	})
}

// SendFrame injects caller audio. Sequence numbers are assigned per call in
// send order.
func (a *Adapter) SendFrame(callID string, pcm []byte, offset time.Duration) {
	a.mu.Lock()
	seq := a.seq[callID]
	a.seq[callID] = seq + 1
	a.mu.Unlock()
	a.emit(telephony.Event{
		Type:     telephony.EventAudioFrame,
		CallID:   callID,
		TenantID: a.tenantID,
		Frame: audio.Frame{
			PCM:        pcm,
			SampleRate: audio.PipelineRate,
			Channels:   1,
			Seq:        seq,
			Timestamp:  offset,
		},
		Timestamp: time.Now(),
	})
}

// SendDTMF injects a DTMF digit.
func (a *Adapter) SendDTMF(callID, digit string) {
	a.emit(telephony.Event{
		Type:      telephony.EventDTMF,
		CallID:    callID,
		TenantID:  a.tenantID,
		Digit:     digit,
		Timestamp: time.Now(),
	})
}

// HangupRemote simulates the caller hanging up.
func (a *Adapter) HangupRemote(callID string) {
	a.end(callID, "remote hangup")
}

// Played returns the PCM chunks played to the caller so far.
func (a *Adapter) Played(callID string) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[callID]
	if !ok {
		return nil
	}
	out := make([][]byte, len(c.played))
	copy(out, c.played)
	return out
}

// Transfers returns the transfer targets requested for the call.
func (a *Adapter) Transfers(callID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[callID]
	if !ok {
		return nil
	}
	out := make([]string, len(c.transfer))
	copy(out, c.transfer)
	return out
}

// Answered reports whether the call was answered.
func (a *Adapter) Answered(callID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[callID]
	return ok && c.answered
}

// Ended reports whether the call has ended.
func (a *Adapter) Ended(callID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[callID]
	return !ok || c.ended
}

// Events implements telephony.Adapter.
func (a *Adapter) Events() <-chan telephony.Event { return a.events }

// Answer implements telephony.Adapter.
func (a *Adapter) Answer(ctx context.Context, callID string) error {
	a.mu.Lock()
	if a.unavailable {
		a.mu.Unlock()
		return telephony.ErrProviderUnavailable
	}
	c, ok := a.calls[callID]
	if !ok || c.ended {
		a.mu.Unlock()
		return telephony.ErrCallGone
	}
	if c.answered {
		a.mu.Unlock()
		return nil
	}
	c.answered = true
	a.mu.Unlock()

	a.emit(telephony.Event{
		Type:      telephony.EventCallAnswered,
		CallID:    callID,
		TenantID:  a.tenantID,
		Timestamp: time.Now(),
	})
	return nil
}

// Hangup implements telephony.Adapter.
func (a *Adapter) Hangup(ctx context.Context, callID string) error {
	a.mu.Lock()
	if a.unavailable {
		a.mu.Unlock()
		return telephony.ErrProviderUnavailable
	}
	a.mu.Unlock()
	a.end(callID, "hangup")
	return nil
}

// Transfer implements telephony.Adapter.
func (a *Adapter) Transfer(ctx context.Context, callID, target string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return telephony.ErrProviderUnavailable
	}
	c, ok := a.calls[callID]
	if !ok || c.ended {
		return telephony.ErrCallGone
	}
	if a.rejectTransfer {
		return telephony.ErrTransferRejected
	}
	c.transfer = append(c.transfer, target)
	return nil
}

// Play implements telephony.Adapter.
func (a *Adapter) Play(ctx context.Context, callID string, pcm <-chan []byte) error {
	a.mu.Lock()
	c, ok := a.calls[callID]
	ended := !ok || c.ended
	a.mu.Unlock()
	if ended {
		return telephony.ErrCallGone
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, open := <-pcm:
			if !open {
				return nil
			}
			a.mu.Lock()
			if c.ended {
				a.mu.Unlock()
				return telephony.ErrCallGone
			}
			c.played = append(c.played, chunk)
			a.mu.Unlock()
		}
	}
}

// Busy implements telephony.Adapter.
func (a *Adapter) Busy(ctx context.Context, callID string) error {
	a.end(callID, "busy")
	return nil
}

// Close implements telephony.Adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	close(a.events)
	return nil
}

func (a *Adapter) end(callID, reason string) {
	a.mu.Lock()
	c, ok := a.calls[callID]
	if !ok || c.ended {
		a.mu.Unlock()
		return
	}
	c.ended = true
	a.mu.Unlock()

	a.emit(telephony.Event{
		Type:      telephony.EventCallEnded,
		CallID:    callID,
		TenantID:  a.tenantID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (a *Adapter) emit(ev telephony.Event) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	select {
	case a.events <- ev:
	default:
	}
}
