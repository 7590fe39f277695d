package wsadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hausruf/hausruf/internal/telephony"
)

// startCall spins up the adapter behind a test server, dials a media leg
// and completes the start handshake for call-1.
func startCall(t *testing.T) (*Adapter, *websocket.Conn) {
	t.Helper()
	a := New("tenant-1", slog.Default())
	t.Cleanup(func() { a.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		go a.ServeConn(context.Background(), conn)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, strings.Replace(srv.URL, "http://", "ws://", 1), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	start, _ := json.Marshal(controlMessage{
		Type: "start", CallID: "call-1",
		From: "+491701234567", To: "+493012345678",
		SampleRate: 16000, Channels: 1,
	})
	if err := conn.Write(ctx, websocket.MessageText, start); err != nil {
		t.Fatalf("start: %v", err)
	}
	return a, conn
}

func nextEvent(t *testing.T, a *Adapter, want telephony.EventType) telephony.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				t.Fatalf("event stream closed waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestServeConnHandshakeAndFrames(t *testing.T) {
	a, conn := startCall(t)

	in := nextEvent(t, a, telephony.EventCallIncoming)
	if in.CallID != "call-1" || in.From != "+491701234567" || in.TenantID != "tenant-1" {
		t.Fatalf("incoming = %+v", in)
	}

	ctx := t.Context()
	pcm := make([]byte, 640) // 20 ms at 16 kHz mono
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		t.Fatal(err)
	}
	frame := nextEvent(t, a, telephony.EventAudioFrame)
	if frame.Frame.SampleRate != 16000 || len(frame.Frame.PCM) != 640 {
		t.Errorf("frame = rate %d, %d bytes", frame.Frame.SampleRate, len(frame.Frame.PCM))
	}
}

func TestWebhookHangupEndsCall(t *testing.T) {
	a, _ := startCall(t)
	nextEvent(t, a, telephony.EventCallIncoming)

	body := []byte(`{"event":"call.ended","call_id":"call-1","reason":"caller hung up"}`)
	if err := a.HandleWebhook(t.Context(), "sipgate", body); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	ended := nextEvent(t, a, telephony.EventCallEnded)
	if ended.Reason != "caller hung up" {
		t.Errorf("reason = %q", ended.Reason)
	}
	if _, ok := a.lookup("call-1"); ok {
		t.Error("call still registered after webhook hangup")
	}
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	a := New("tenant-1", slog.Default())
	defer a.Close()

	if err := a.HandleWebhook(t.Context(), "sipgate", []byte(`{"event":"call.ringing","call_id":"x"}`)); err != nil {
		t.Fatalf("unknown event: %v", err)
	}
	if err := a.HandleWebhook(t.Context(), "sipgate", []byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}
