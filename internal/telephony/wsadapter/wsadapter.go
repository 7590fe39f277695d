// Package wsadapter implements telephony.Adapter for providers that stream
// call media over WebSocket.
//
// The provider opens one WebSocket per call against the media endpoint. Text
// messages carry JSON control events (start, dtmf, stop); binary messages
// carry frame-framed little-endian 16-bit PCM. Inbound audio is normalized to
// the 16 kHz mono pipeline format before it is emitted; outbound audio is
// written as-is, one binary message per frame, so playback is cancellable at
// frame boundaries. Exact framing and the control vocabulary vary by
// provider; consult the provider's media-streaming documentation before
// pointing it here.
package wsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hausruf/hausruf/internal/telephony"
	"github.com/hausruf/hausruf/pkg/audio"
)

var _ telephony.Adapter = (*Adapter)(nil)

// controlMessage is the JSON vocabulary in both directions.
type controlMessage struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Digit      string `json:"digit,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Target     string `json:"target,omitempty"`
}

// call is the per-connection state.
type call struct {
	id        string
	conn      *websocket.Conn
	startedAt time.Time

	writeMu  sync.Mutex
	answered bool
	ended    bool

	format    audio.Format
	converter *audio.FormatConverter
	seq       uint64
}

// Adapter owns all live WebSocket call legs for one tenant endpoint.
type Adapter struct {
	tenantID string
	log      *slog.Logger
	events   chan telephony.Event

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
}

// New creates an Adapter for the given tenant.
func New(tenantID string, log *slog.Logger) *Adapter {
	return &Adapter{
		tenantID: tenantID,
		log:      log,
		events:   make(chan telephony.Event, 256),
		calls:    make(map[string]*call),
	}
}

// Events implements telephony.Adapter.
func (a *Adapter) Events() <-chan telephony.Event { return a.events }

// ServeConn drives one call leg until the provider closes the stream or ctx
// is cancelled. The first message must be a "start" control message naming
// the call; everything after is media and control traffic.
func (a *Adapter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("wsadapter: read start: %w", err)
	}
	if msgType != websocket.MessageText {
		conn.Close(websocket.StatusProtocolError, "expected start message")
		return fmt.Errorf("wsadapter: first message is not text")
	}
	var start controlMessage
	if err := json.Unmarshal(data, &start); err != nil || start.Type != "start" || start.CallID == "" {
		conn.Close(websocket.StatusProtocolError, "bad start message")
		return fmt.Errorf("wsadapter: bad start message: %v", err)
	}

	format := audio.Format{SampleRate: start.SampleRate, Channels: start.Channels}
	if format.SampleRate == 0 {
		format = audio.Pipeline
	}
	c := &call{
		id:        start.CallID,
		conn:      conn,
		startedAt: time.Now(),
		format:    format,
		converter: &audio.FormatConverter{Target: audio.Pipeline},
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "adapter closed")
		return fmt.Errorf("wsadapter: adapter closed")
	}
	a.calls[start.CallID] = c
	a.mu.Unlock()

	a.emit(telephony.Event{
		Type:      telephony.EventCallIncoming,
		CallID:    start.CallID,
		TenantID:  a.tenantID,
		From:      start.From,
		To:        start.To,
		Timestamp: time.Now(),
	})

	err = a.readLoop(ctx, c)
	a.endCall(c, closeReason(err))
	return err
}

func (a *Adapter) readLoop(ctx context.Context, c *call) error {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch msgType {
		case websocket.MessageBinary:
			a.emitFrame(c, data)
		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				a.log.Warn("wsadapter: bad control message", "call_id", c.id, "error", err)
				continue
			}
			switch msg.Type {
			case "dtmf":
				a.emit(telephony.Event{
					Type:      telephony.EventDTMF,
					CallID:    c.id,
					TenantID:  a.tenantID,
					Digit:     msg.Digit,
					Timestamp: time.Now(),
				})
			case "stop":
				return nil
			}
		}
	}
}

// emitFrame normalizes one binary PCM message to the pipeline format and
// emits it in arrival order.
func (a *Adapter) emitFrame(c *call, data []byte) {
	frame := audio.Frame{
		PCM:        data,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Seq:        c.seq,
		Timestamp:  time.Since(c.startedAt),
	}
	c.seq++

	a.emit(telephony.Event{
		Type:      telephony.EventAudioFrame,
		CallID:    c.id,
		TenantID:  a.tenantID,
		Frame:     c.converter.Convert(frame),
		Timestamp: time.Now(),
	})
}

// Answer implements telephony.Adapter. Answering twice is a no-op.
func (a *Adapter) Answer(ctx context.Context, callID string) error {
	c, ok := a.lookup(callID)
	if !ok {
		return telephony.ErrCallGone
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.answered || c.ended {
		return nil
	}
	if err := writeControl(ctx, c.conn, controlMessage{Type: "answer"}); err != nil {
		return fmt.Errorf("wsadapter: answer: %w", err)
	}
	c.answered = true
	a.emit(telephony.Event{
		Type:      telephony.EventCallAnswered,
		CallID:    callID,
		TenantID:  a.tenantID,
		Timestamp: time.Now(),
	})
	return nil
}

// Hangup implements telephony.Adapter. Hangup is idempotent; hanging up an
// unknown or already-ended call succeeds.
func (a *Adapter) Hangup(ctx context.Context, callID string) error {
	c, ok := a.lookup(callID)
	if !ok {
		return nil
	}
	c.writeMu.Lock()
	if c.ended {
		c.writeMu.Unlock()
		return nil
	}
	err := writeControl(ctx, c.conn, controlMessage{Type: "hangup"})
	c.writeMu.Unlock()
	a.endCall(c, "hangup")
	if err != nil {
		a.log.Debug("wsadapter: hangup write", "call_id", callID, "error", err)
	}
	return nil
}

// Transfer implements telephony.Adapter.
func (a *Adapter) Transfer(ctx context.Context, callID, target string) error {
	c, ok := a.lookup(callID)
	if !ok {
		return telephony.ErrCallGone
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ended {
		return telephony.ErrCallGone
	}
	if err := writeControl(ctx, c.conn, controlMessage{Type: "transfer", Target: target}); err != nil {
		return fmt.Errorf("%w: %v", telephony.ErrTransferRejected, err)
	}
	return nil
}

// Play implements telephony.Adapter. Each chunk becomes one binary message;
// cancellation takes effect between frames.
func (a *Adapter) Play(ctx context.Context, callID string, pcm <-chan []byte) error {
	c, ok := a.lookup(callID)
	if !ok {
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
			c.writeMu.Lock()
			ended := c.ended
			var err error
			if !ended {
				err = c.conn.Write(ctx, websocket.MessageBinary, chunk)
			}
			c.writeMu.Unlock()
			if ended {
				return telephony.ErrCallGone
			}
			if err != nil {
				return fmt.Errorf("wsadapter: play: %w", err)
			}
		}
	}
}

// Busy implements telephony.Adapter.
func (a *Adapter) Busy(ctx context.Context, callID string) error {
	c, ok := a.lookup(callID)
	if !ok {
		return nil
	}
	c.writeMu.Lock()
	err := writeControl(ctx, c.conn, controlMessage{Type: "busy"})
	c.writeMu.Unlock()
	a.endCall(c, "busy")
	return err
}

// Close implements telephony.Adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	calls := make([]*call, 0, len(a.calls))
	for _, c := range a.calls {
		calls = append(calls, c)
	}
	a.mu.Unlock()

	for _, c := range calls {
		a.endCall(c, "shutdown")
	}
	close(a.events)
	return nil
}

func (a *Adapter) lookup(callID string) (*call, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[callID]
	return c, ok
}

// endCall unregisters the call, closes its socket and emits CallEnded once.
func (a *Adapter) endCall(c *call, reason string) {
	c.writeMu.Lock()
	if c.ended {
		c.writeMu.Unlock()
		return
	}
	c.ended = true
	c.writeMu.Unlock()

	a.mu.Lock()
	delete(a.calls, c.id)
	closed := a.closed
	a.mu.Unlock()

	c.conn.Close(websocket.StatusNormalClosure, reason)
	if !closed {
		a.emit(telephony.Event{
			Type:      telephony.EventCallEnded,
			CallID:    c.id,
			TenantID:  a.tenantID,
			Reason:    reason,
			Timestamp: time.Now(),
		})
	}
}

// emit drops the event if the consumer lags rather than blocking the media
// path.
func (a *Adapter) emit(ev telephony.Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Warn("wsadapter: event dropped", "call_id", ev.CallID, "type", ev.Type)
	}
}

func writeControl(ctx context.Context, conn *websocket.Conn, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func closeReason(err error) string {
	if err == nil {
		return "provider stop"
	}
	return "stream error"
}
