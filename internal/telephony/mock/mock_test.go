package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/hausruf/hausruf/internal/telephony"
)

func drain(t *testing.T, a *Adapter, want telephony.EventType) telephony.Event {
	t.Helper()
	for ev := range a.Events() {
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("event stream closed before %s", want)
	return telephony.Event{}
}

func TestCallLifecycle(t *testing.T) {
	a := New("tenant-1")
	ctx := context.Background()

	a.Ring("call-1", "+493012345678", "+493087654321")
	ev := drain(t, a, telephony.EventCallIncoming)
	if ev.From != "+493012345678" || ev.TenantID != "tenant-1" {
		t.Errorf("incoming event = %+v", ev)
	}

	if err := a.Answer(ctx, "call-1"); err != nil {
		t.Fatal(err)
	}
	// Answering twice is a no-op.
	if err := a.Answer(ctx, "call-1"); err != nil {
		t.Errorf("second answer: %v", err)
	}
	drain(t, a, telephony.EventCallAnswered)

	if err := a.Hangup(ctx, "call-1"); err != nil {
		t.Fatal(err)
	}
	if err := a.Hangup(ctx, "call-1"); err != nil {
		t.Errorf("repeated hangup: %v", err)
	}
	if err := a.Hangup(ctx, "never-existed"); err != nil {
		t.Errorf("hangup on unknown call: %v", err)
	}
	if ev := drain(t, a, telephony.EventCallEnded); ev.Reason != "hangup" {
		t.Errorf("end reason = %q", ev.Reason)
	}
}

func TestAnswerGoneCall(t *testing.T) {
	a := New("tenant-1")
	if err := a.Answer(context.Background(), "missing"); !errors.Is(err, telephony.ErrCallGone) {
		t.Errorf("err = %v, want ErrCallGone", err)
	}
}

func TestTransferRejection(t *testing.T) {
	a := New("tenant-1")
	ctx := context.Background()
	a.Ring("call-1", "+49301", "+49302")

	if err := a.Transfer(ctx, "call-1", "+49110"); err != nil {
		t.Fatal(err)
	}
	a.RejectTransfers(true)
	if err := a.Transfer(ctx, "call-1", "+49112"); !errors.Is(err, telephony.ErrTransferRejected) {
		t.Errorf("err = %v, want ErrTransferRejected", err)
	}
	if got := a.Transfers("call-1"); len(got) != 1 || got[0] != "+49110" {
		t.Errorf("transfers = %v", got)
	}
}

func TestProviderOutage(t *testing.T) {
	a := New("tenant-1")
	ctx := context.Background()
	a.Ring("call-1", "+49301", "+49302")

	a.SetUnavailable(true)
	if err := a.Answer(ctx, "call-1"); !errors.Is(err, telephony.ErrProviderUnavailable) {
		t.Errorf("answer err = %v, want ErrProviderUnavailable", err)
	}
	if err := a.Transfer(ctx, "call-1", "+49110"); !errors.Is(err, telephony.ErrProviderUnavailable) {
		t.Errorf("transfer err = %v, want ErrProviderUnavailable", err)
	}
	a.SetUnavailable(false)
	if err := a.Answer(ctx, "call-1"); err != nil {
		t.Errorf("answer after recovery: %v", err)
	}
}

func TestPlayCapturesAndStopsOnCancel(t *testing.T) {
	a := New("tenant-1")
	a.Ring("call-1", "+49301", "+49302")

	pcm := make(chan []byte, 3)
	pcm <- []byte{1, 0}
	pcm <- []byte{2, 0}
	close(pcm)
	if err := a.Play(context.Background(), "call-1", pcm); err != nil {
		t.Fatal(err)
	}
	if got := a.Played("call-1"); len(got) != 2 {
		t.Errorf("played %d chunks, want 2", len(got))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Play(ctx, "call-1", make(chan []byte)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFrameSequenceMonotonic(t *testing.T) {
	a := New("tenant-1")
	a.Ring("call-1", "+49301", "+49302")
	drain(t, a, telephony.EventCallIncoming)

	for i := 0; i < 3; i++ {
		a.SendFrame("call-1", []byte{0, 0}, 0)
	}
	for want := uint64(0); want < 3; want++ {
		ev := drain(t, a, telephony.EventAudioFrame)
		if ev.Frame.Seq != want {
			t.Errorf("seq = %d, want %d", ev.Frame.Seq, want)
		}
	}
}
